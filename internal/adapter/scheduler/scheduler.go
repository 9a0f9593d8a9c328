package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc представляет функцию задачи планировщика.
type JobFunc func(ctx context.Context) error

// JobID представляет идентификатор cron-задачи.
type JobID = cron.EntryID

// OverlapPolicy определяет политику обработки перекрывающихся выполнений задач.
type OverlapPolicy int

const (
	// SkipIfRunning пропускает выполнение, если задача уже запущена (по умолчанию).
	SkipIfRunning OverlapPolicy = iota
	// DelayIfRunning ждет завершения предыдущего выполнения.
	DelayIfRunning
	// AllowOverlap разрешает параллельное выполнение задач.
	AllowOverlap
)

// JobOptions содержит опции для настройки задач.
type JobOptions struct {
	// Name - имя задачи для логирования.
	Name string
	// Timeout - максимальное время ожидания задачи (необязательно).
	Timeout time.Duration
	// OverlapPolicy - политика обработки перекрывающихся выполнений.
	OverlapPolicy OverlapPolicy
}

// JobInfo описывает зарегистрированную задачу.
type JobInfo struct {
	ID       JobID     `json:"id"`
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev"`
}

// Parser разбирает расписания: 5 полей (как в crontab), 6 полей с секундами
// и дескрипторы вида "@every 30m" / "@hourly".
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSpec проверяет расписание тем же парсером, что использует планировщик.
func ParseSpec(spec string) error {
	_, err := Parser.Parse(spec)
	return err
}

// jobWrapper оборачивает задачу с её опциями.
type jobWrapper struct {
	job      JobFunc
	options  JobOptions
	schedule string
	running  sync.Mutex // для контроля перекрытий
}

// cronLogger адаптер для интеграции cron logger с slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}

// Scheduler управляет периодическими задачами.
type Scheduler struct {
	cron      *cron.Cron
	logger    *slog.Logger
	hooks     JobHooks
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	jobs      map[JobID]*jobWrapper
	stopOnce  sync.Once
	startOnce sync.Once
}

// JobHooks содержит необязательные хуки для наблюдаемости.
type JobHooks struct {
	OnJobStart  func(jobName string)
	OnJobFinish func(jobName string, duration time.Duration, err error)
	OnJobError  func(jobName string, err error)
}

// Config содержит конфигурацию планировщика.
type Config struct {
	Logger   *slog.Logger
	JobHooks JobHooks
}

// New создает новый экземпляр планировщика с background контекстом.
func New(cfg Config) *Scheduler {
	return NewWithContext(context.Background(), cfg)
}

// NewWithContext создает новый экземпляр планировщика с указанным родительским контекстом.
func NewWithContext(parentCtx context.Context, cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(parentCtx)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	return &Scheduler{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLogger(cronLogger{logger: logger}),
		),
		logger: logger,
		hooks:  cfg.JobHooks,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[JobID]*jobWrapper),
	}
}

// AddJob добавляет задачу по расписанию.
// Примеры расписаний:
//   - "0 */30 * * * *" - каждые 30 минут
//   - "0 4 * * *" - каждый день в 04:00
//   - "@every 5m" - каждые 5 минут
func (s *Scheduler) AddJob(schedule string, job JobFunc, opts JobOptions) (JobID, error) {
	if opts.Name == "" {
		opts.Name = "unnamed"
	}
	wrapper := &jobWrapper{job: job, options: opts, schedule: schedule}

	id, err := s.cron.AddFunc(schedule, func() { s.runJob(wrapper) })
	if err != nil {
		return 0, fmt.Errorf("add job %s (%q): %w", opts.Name, schedule, err)
	}

	s.mu.Lock()
	s.jobs[id] = wrapper
	s.mu.Unlock()

	s.logger.Info("job added", "schedule", schedule, "name", opts.Name, "id", id)
	return id, nil
}

// RemoveJob удаляет задачу по ID.
func (s *Scheduler) RemoveJob(id JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.jobs, id)
	s.logger.Info("job removed", "id", id)
	return true
}

// Jobs возвращает зарегистрированные задачи в порядке ID.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for id, w := range s.jobs {
		e := s.cron.Entry(id)
		out = append(out, JobInfo{ID: id, Name: w.options.Name, Schedule: w.schedule, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RunNow синхронно выполняет задачу вне расписания с учётом политики перекрытий.
func (s *Scheduler) RunNow(id JobID) bool {
	s.mu.Lock()
	w, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.runJob(w)
	return true
}

// Start запускает планировщик.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting scheduler")
		s.cron.Start()

		// Запускаем горутину для отслеживания контекста
		go func() {
			<-s.ctx.Done()
			s.stopOnce.Do(s.stop)
		}()
	})
}

// Stop останавливает планировщик и ждет завершения всех задач.
func (s *Scheduler) Stop() {
	_ = s.StopContext(context.Background())
}

// StopContext останавливает планировщик с учетом контекста дедлайна.
// Если контекст истекает раньше, чем завершаются задачи,
// возвращается ошибка контекста, но остановка доводится до конца в фоне.
// Если родительский контекст уже отменён, всё равно ждёт выполняющиеся задачи.
func (s *Scheduler) StopContext(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.stopOnce.Do(s.stop)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop deadline exceeded")
		return ctx.Err()
	}
}

// stop выполняет фактическую остановку и ждёт выполняющиеся задачи.
func (s *Scheduler) stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// runJob выполняет задачу с учетом её опций.
func (s *Scheduler) runJob(w *jobWrapper) {
	name := w.options.Name

	switch w.options.OverlapPolicy {
	case SkipIfRunning:
		if !w.running.TryLock() {
			s.logger.Debug("skipping job execution, already running", "name", name)
			return
		}
		defer w.running.Unlock()
	case DelayIfRunning:
		w.running.Lock()
		defer w.running.Unlock()
	}

	if s.hooks.OnJobStart != nil {
		s.hooks.OnJobStart(name)
	}

	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.Error("job panicked", "name", name, "panic", r)
		}
		if s.hooks.OnJobFinish != nil {
			s.hooks.OnJobFinish(name, time.Since(start), err)
		}
	}()

	// Создаем контекст с таймаутом, если указан
	ctx := s.ctx
	if w.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, w.options.Timeout)
		defer cancel()
	}

	err = w.job(ctx)
	if err != nil {
		s.logger.Error("job failed", "name", name, "error", err, "duration", time.Since(start))
		if s.hooks.OnJobError != nil {
			s.hooks.OnJobError(name, err)
		}
		return
	}
	s.logger.Debug("job completed", "name", name, "duration", time.Since(start))
}

// IsRunning возвращает true, если планировщик не остановлен.
func (s *Scheduler) IsRunning() bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
		return true
	}
}
