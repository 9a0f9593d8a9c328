// Package httpapi serves the ops endpoints: liveness and a JSON summary of the
// open databases, their migrations and the maintenance jobs.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"wosbot/internal/adapter/scheduler"
	"wosbot/internal/platform/sqlite"
)

// StatusSource reports the databases currently open in the process.
type StatusSource interface {
	Registered(ctx context.Context) ([]sqlite.FileStatus, error)
}

// JobLister lists scheduled jobs. *scheduler.Scheduler implements it.
type JobLister interface {
	Jobs() []scheduler.JobInfo
}

// Deps are the components the handlers read from.
type Deps struct {
	Manager *sqlite.Manager
	Status  StatusSource
	Jobs    JobLister // optional
	Logger  *slog.Logger
}

// StatusResponse is the /status body.
type StatusResponse struct {
	Files []sqlite.FileStatus `json:"files"`
	Jobs  []scheduler.JobInfo `json:"jobs"`
	Time  time.Time           `json:"time"`
}

// NewRouter builds the gin engine with the ops routes.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	log := d.Logger.With("component", "http")

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/healthz", func(c *gin.Context) {
		if d.Manager != nil && d.Manager.Closed() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "closed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/status", func(c *gin.Context) {
		files, err := d.Status.Registered(c.Request.Context())
		if err != nil {
			log.Error("status", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp := StatusResponse{Files: files, Jobs: []scheduler.JobInfo{}, Time: time.Now().UTC()}
		if d.Jobs != nil {
			resp.Jobs = d.Jobs.Jobs()
		}
		c.JSON(http.StatusOK, resp)
	})

	return r
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Server runs the router on an http.Server.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a server listening on addr.
func NewServer(addr string, d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: NewRouter(d), ReadHeaderTimeout: 5 * time.Second},
		logger: d.Logger.With("component", "http"),
	}
}

// Start listens in the background. Listen errors other than a clean shutdown are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("http listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server", slog.Any("err", err))
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
