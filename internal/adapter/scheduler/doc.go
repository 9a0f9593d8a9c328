// Package scheduler provides cron-based background jobs and the SQLite
// maintenance job built on top of them.
//
// Features:
//   - Cron-style scheduling using github.com/robfig/cron/v3
//   - 5-field, 6-field (with seconds) and descriptor specs ("@every 30m")
//   - Job overlap control policies (Skip/Delay/Allow)
//   - Per-job timeouts and named jobs
//   - Manual runs outside the schedule (RunNow)
//   - Graceful shutdown with optional deadline (StopContext)
//   - Panic recovery and optional hooks for observability
//
// Basic usage:
//
//	s := scheduler.New(scheduler.Config{Logger: logger})
//
//	id, err := s.AddJob("@hourly", func(ctx context.Context) error {
//		return nil
//	}, scheduler.JobOptions{
//		Name:          "cleanup",
//		Timeout:       30 * time.Second,
//		OverlapPolicy: scheduler.SkipIfRunning,
//	})
//
//	s.Start()
//	defer s.Stop()
//
// Maintenance:
//
//	m := scheduler.NewMaintenance(mgr, logger)
//	_, err := m.Register(s, cfg.Maintenance.Schedule)
//
// The maintenance job runs PRAGMA wal_checkpoint(TRUNCATE) and PRAGMA optimize
// on every database the connection manager has open, each under that file's lock.
//
// Overlap policies:
//   - SkipIfRunning: skip execution if the previous run is still active (default)
//   - DelayIfRunning: wait for the previous run to finish before starting
//   - AllowOverlap: runs may execute concurrently
package scheduler
