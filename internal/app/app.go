package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"wosbot/internal/adapter/httpapi"
	"wosbot/internal/adapter/scheduler"
	"wosbot/internal/adapter/telegram"
	"wosbot/internal/adapter/telegram/handlers"
	"wosbot/internal/adapter/telegram/middleware"
	"wosbot/internal/config"
	"wosbot/internal/platform/logger"
	"wosbot/internal/platform/sqlite"
)

const shutdownTimeout = 10 * time.Second

// App wires application components.
type App struct {
	cfg    config.Config
	log    *slog.Logger
	mgr    *sqlite.Manager
	runner *sqlite.Runner
}

// New loads configuration and creates an App. Console log output goes to
// console (stdout when nil).
func New(console io.Writer) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "wosbot",
		Console:      console,
	})
	return NewWithConfig(cfg, log), nil
}

// NewWithConfig creates an App from an already loaded configuration.
func NewWithConfig(cfg config.Config, log *slog.Logger) *App {
	dbOpts := sqlite.DefaultDBOptions()
	dbOpts.BusyTimeout = cfg.DB.BusyTimeout
	dbOpts.ForeignKeys = cfg.DB.ForeignKeys
	mgr := sqlite.NewManager(dbOpts, log)

	migOpts := sqlite.DefaultMigrateOptions()
	migOpts.MigrationsDir = cfg.Migrate.Dir
	migOpts.DBDir = cfg.DB.Dir
	migOpts.Ext = cfg.DB.Ext
	migOpts.Atomic = cfg.Migrate.Atomic

	return &App{
		cfg:    cfg,
		log:    log,
		mgr:    mgr,
		runner: sqlite.NewRunner(mgr, migOpts, log),
	}
}

// Manager returns the process-wide connection manager.
func (a *App) Manager() *sqlite.Manager { return a.mgr }

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.log }

// Migrate applies pending migration scripts.
func (a *App) Migrate(ctx context.Context) (sqlite.Report, error) {
	return a.runner.Run(ctx)
}

// Status reports applied and pending scripts for every target without changing anything.
func (a *App) Status(ctx context.Context) ([]sqlite.TargetStatus, error) {
	return a.runner.Status(ctx)
}

// Close shuts the connection manager down and flushes the log file.
func (a *App) Close(ctx context.Context) error {
	err := a.mgr.Shutdown(ctx)
	return errors.Join(err, logger.Close(a.log))
}

// Run migrates every database, then serves until SIGINT/SIGTERM or ctx
// cancellation. A failed migration stops startup.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := a.runner.Run(ctx)
	if err != nil {
		a.log.Error("migrations failed, not serving", "error", err)
		return errors.Join(err, a.Close(context.Background()))
	}
	a.log.Info("migrations done", "run_id", report.RunID, "applied", report.AppliedCount())

	sched := scheduler.NewWithContext(ctx, scheduler.Config{Logger: a.log})
	if _, err := scheduler.NewMaintenance(a.mgr, a.log).Register(sched, a.cfg.Maintenance.Schedule); err != nil {
		return errors.Join(fmt.Errorf("maintenance: %w", err), a.Close(context.Background()))
	}
	sched.Start()

	srv := httpapi.NewServer(a.cfg.HTTP.Addr, httpapi.Deps{
		Manager: a.mgr,
		Status:  a.runner,
		Jobs:    sched,
		Logger:  a.log,
	})
	srv.Start()

	botDone, err := a.startBot(ctx)
	if err != nil {
		a.log.Error("telegram bot", "error", err)
	}

	<-ctx.Done()
	a.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if err := sched.StopContext(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	select {
	case <-botDone:
	case <-shutdownCtx.Done():
		a.log.Warn("telegram bot did not stop in time")
	}
	errs = append(errs, a.Close(shutdownCtx))
	return errors.Join(errs...)
}

// startBot starts polling when a token is configured. The returned channel is
// closed once the bot has stopped (immediately when it never started).
func (a *App) startBot(ctx context.Context) (<-chan struct{}, error) {
	done := make(chan struct{})
	if a.cfg.Telegram.Token == "" {
		a.log.Info("telegram bot disabled: no token")
		close(done)
		return done, nil
	}
	if len(a.cfg.Telegram.AllowedIDs) == 0 {
		a.log.Warn("TELEGRAM_ALLOWED_IDS is empty: the bot will refuse every user")
	}

	commands := handlers.New(a.runner, a.log)
	rate := middleware.NewRateLimiter(time.Second)
	acl := middleware.NewACL(a.cfg.Telegram.AllowedIDs, a.log)
	handler := middleware.Chain(commands.Handle, acl.Middleware, rate.Middleware)

	b, err := telegram.New(telegram.Options{Token: a.cfg.Telegram.Token, Logger: a.log}, handler)
	if err != nil {
		close(done)
		return done, err
	}
	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	return done, nil
}
