package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wosbot/internal/platform/sqlite"
	"wosbot/internal/shared"
)

// CheckpointResult - ответ PRAGMA wal_checkpoint.
type CheckpointResult struct {
	Busy         int `db:"busy"`
	Log          int `db:"log"`
	Checkpointed int `db:"checkpointed"`
}

// Maintenance обслуживает открытые файлы БД: сбрасывает WAL в основной файл
// и обновляет статистику планировщика запросов.
type Maintenance struct {
	mgr    *sqlite.Manager
	logger *slog.Logger
}

// NewMaintenance создает обслуживание поверх менеджера соединений.
func NewMaintenance(mgr *sqlite.Manager, logger *slog.Logger) *Maintenance {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintenance{mgr: mgr, logger: logger.With("component", "maintenance")}
}

// Checkpoint выполняет wal_checkpoint(TRUNCATE) для каждого открытого файла.
// Каждый файл обрабатывается под его блокировкой, поэтому обслуживание
// не пересекается с миграциями и запросами бота.
func (m *Maintenance) Checkpoint(ctx context.Context) error {
	return m.each(ctx, "checkpoint", func(ctx context.Context, h *sqlite.Handle) error {
		var res CheckpointResult
		if err := h.Get(ctx, &res, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			return err
		}
		m.logger.Debug("wal checkpoint", "path", h.Path(), "busy", res.Busy, "log", res.Log, "checkpointed", res.Checkpointed)
		return nil
	})
}

// Optimize выполняет PRAGMA optimize для каждого открытого файла.
func (m *Maintenance) Optimize(ctx context.Context) error {
	return m.each(ctx, "optimize", func(ctx context.Context, h *sqlite.Handle) error {
		_, err := h.Exec(ctx, "PRAGMA optimize")
		return err
	})
}

// Run выполняет checkpoint, затем optimize.
func (m *Maintenance) Run(ctx context.Context) error {
	return errors.Join(m.Checkpoint(ctx), m.Optimize(ctx))
}

// Register добавляет задачу обслуживания в планировщик.
// Пустое расписание означает, что обслуживание отключено.
func (m *Maintenance) Register(s *Scheduler, schedule string) (JobID, error) {
	if schedule == "" {
		m.logger.Info("maintenance disabled")
		return 0, nil
	}
	return s.AddJob(schedule, m.Run, JobOptions{
		Name:          "sqlite-maintenance",
		Timeout:       5 * time.Minute,
		OverlapPolicy: SkipIfRunning,
	})
}

// each применяет fn ко всем открытым файлам. Ошибка одного файла не мешает
// остальным; файлы, закрытые во время обхода, пропускаются.
func (m *Maintenance) each(ctx context.Context, op string, fn func(context.Context, *sqlite.Handle) error) error {
	var errs []error
	for _, h := range m.mgr.Handles() {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx, h)
		switch {
		case err == nil:
		case shared.IsClosed(err):
			m.logger.Debug("skip closed database", "op", op, "path", h.Path())
		default:
			errs = append(errs, fmt.Errorf("%s %s: %w", op, h.Path(), err))
		}
	}
	return errors.Join(errs...)
}
