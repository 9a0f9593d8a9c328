package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"wosbot/internal/shared"
)

// MigrationsTable - таблица учёта применённых скриптов в каждой базе.
const MigrationsTable = "_migrations"

const createMigrationsTableSQL = `CREATE TABLE IF NOT EXISTS _migrations (
	id TEXT PRIMARY KEY,
	applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

const (
	insertMigrationSQL      = `INSERT INTO _migrations (id) VALUES (?)`
	selectMigrationsSQL     = `SELECT id, applied_at FROM _migrations ORDER BY id`
	migrationsTableExistSQL = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = '_migrations'`
)

// MigrateOptions - настройки запуска миграций.
type MigrateOptions struct {
	// MigrationsDir - каталог со скриптами *.sql
	MigrationsDir string
	// DBDir - каталог с файлами баз
	DBDir string
	// Ext - расширение файлов баз
	Ext string
	// PlanFile - имя файла плана внутри MigrationsDir
	PlanFile string
	// Atomic - выполнять скрипт и запись о нём в одной транзакции.
	// По умолчанию выключено: скрипт выполняется в autocommit и не атомарен.
	Atomic bool
	// LockTimeout - сколько ждать межпроцессную блокировку (0 = до отмены ctx)
	LockTimeout time.Duration
}

// DefaultMigrateOptions возвращает настройки по умолчанию.
func DefaultMigrateOptions() MigrateOptions {
	return MigrateOptions{
		MigrationsDir: "migrations",
		DBDir:         "db",
		Ext:           ".sqlite",
		PlanFile:      "plan.yaml",
		LockTimeout:   time.Minute,
	}
}

// Script - один файл миграции. ID - имя файла, оно же ключ в _migrations.
type Script struct {
	ID   string
	Path string
}

// MigrationRecord - запись о применённом скрипте.
type MigrationRecord struct {
	ID        string    `json:"id"`
	AppliedAt time.Time `json:"applied_at"`
}

// TargetReport - что было применено к одной базе за запуск.
type TargetReport struct {
	Target  string   `json:"target"`
	Path    string   `json:"path"`
	Applied []string `json:"applied"`
}

// Report - итог запуска миграций.
type Report struct {
	RunID   string         `json:"run_id"`
	Targets []TargetReport `json:"targets"`
}

// AppliedCount возвращает общее число применённых за запуск скриптов.
func (r Report) AppliedCount() int {
	n := 0
	for _, t := range r.Targets {
		n += len(t.Applied)
	}
	return n
}

// TargetStatus - состояние миграций одной базы.
type TargetStatus struct {
	Target  string            `json:"target"`
	Path    string            `json:"path"`
	Applied []MigrationRecord `json:"applied"`
	Pending []string          `json:"pending"`
}

// Runner применяет скрипты миграций к файлам баз.
// Работает через тот же Manager, что и остальные потребители,
// поэтому берёт те же блокировки файлов.
type Runner struct {
	mgr    *Manager
	opts   MigrateOptions
	logger *slog.Logger
}

// NewRunner создаёт Runner. Пустые поля opts заполняются значениями по умолчанию.
func NewRunner(mgr *Manager, opts MigrateOptions, logger *slog.Logger) *Runner {
	def := DefaultMigrateOptions()
	if opts.MigrationsDir == "" {
		opts.MigrationsDir = def.MigrationsDir
	}
	if opts.DBDir == "" {
		opts.DBDir = def.DBDir
	}
	if opts.Ext == "" {
		opts.Ext = def.Ext
	}
	if opts.PlanFile == "" {
		opts.PlanFile = def.PlanFile
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{mgr: mgr, opts: opts, logger: logger.With("component", "migrate")}
}

// DiscoverScripts возвращает *.sql из каталога в лексикографическом порядке имён.
// Отсутствующий каталог не ошибка.
func DiscoverScripts(dir string) ([]Script, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var scripts []Script
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		scripts = append(scripts, Script{ID: e.Name(), Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].ID < scripts[j].ID })
	return scripts, nil
}

// DiscoverTargets возвращает файлы баз с расширением ext, отсортированные по имени.
// Отсутствующий каталог не ошибка.
func DiscoverTargets(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read db dir: %w", err)
	}

	var targets []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		targets = append(targets, filepath.Join(dir, e.Name()))
	}
	sort.Strings(targets)
	return targets, nil
}

// Run приводит все базы к актуальной схеме.
//
// Нет скриптов или нет баз - ничего не делает. Каждый скрипт выполняется целиком,
// затем о нём пишется запись в _migrations, до перехода к следующему.
// Первая ошибка прерывает запуск и возвращается обёрнутой в shared.ErrMigrationFailed.
// Скрипт без записи будет выполнен заново с начала при следующем запуске.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	log := r.logger.With("run_id", report.RunID)

	scripts, err := DiscoverScripts(r.opts.MigrationsDir)
	if err != nil {
		return report, fmt.Errorf("%w: %w", shared.ErrMigrationFailed, err)
	}
	if len(scripts) == 0 {
		log.Info("no migration scripts found", "dir", r.opts.MigrationsDir)
		return report, nil
	}

	if err := os.MkdirAll(r.opts.DBDir, 0755); err != nil {
		return report, fmt.Errorf("%w: create db dir: %w", shared.ErrMigrationFailed, err)
	}

	targets, err := DiscoverTargets(r.opts.DBDir, r.opts.Ext)
	if err != nil {
		return report, fmt.Errorf("%w: %w", shared.ErrMigrationFailed, err)
	}
	if len(targets) == 0 {
		log.Info("no database files found", "dir", r.opts.DBDir, "ext", r.opts.Ext)
		return report, nil
	}

	plan, err := LoadPlan(filepath.Join(r.opts.MigrationsDir, r.opts.PlanFile))
	if err != nil {
		return report, fmt.Errorf("%w: %w", shared.ErrMigrationFailed, err)
	}
	if plan == nil {
		log.Info("no migration plan, applying every script to every database", "scripts", len(scripts))
	}

	unlock, err := acquireMigrateLock(ctx, r.opts.DBDir, r.opts.LockTimeout)
	if err != nil {
		return report, fmt.Errorf("%w: %w", shared.ErrMigrationFailed, err)
	}
	defer unlock()

	start := time.Now()
	for _, target := range targets {
		name := filepath.Base(target)
		set := plan.ScriptsFor(name, scripts)
		if plan != nil && len(set) == 0 {
			log.Warn("migration plan has no scripts for database", "target", name)
		}

		tr, err := r.applyTarget(ctx, log, target, set)
		if len(tr.Applied) > 0 {
			report.Targets = append(report.Targets, tr)
		}
		if err != nil {
			log.Error("migration failed", "target", name, "error", err)
			return report, err
		}
	}

	log.Info("migrations complete", "targets", len(targets), "applied", report.AppliedCount(), "duration", time.Since(start))
	return report, nil
}

// applyTarget применяет к одной базе скрипты, которых ещё нет в _migrations.
func (r *Runner) applyTarget(ctx context.Context, log *slog.Logger, target string, set []Script) (TargetReport, error) {
	name := filepath.Base(target)
	tr := TargetReport{Target: name, Path: target}

	fail := func(id string, err error) error {
		if id == "" {
			return fmt.Errorf("%w: %s: %w", shared.ErrMigrationFailed, name, err)
		}
		return fmt.Errorf("%w: %s on %s: %w", shared.ErrMigrationFailed, id, name, err)
	}

	h, err := r.mgr.Open(ctx, target)
	if err != nil {
		return tr, fail("", err)
	}

	if _, err := h.Exec(ctx, createMigrationsTableSQL); err != nil {
		return tr, fail("", fmt.Errorf("create %s: %w", MigrationsTable, err))
	}

	records, err := loadApplied(ctx, h)
	if err != nil {
		return tr, fail("", err)
	}
	done := make(map[string]bool, len(records))
	for _, rec := range records {
		done[rec.ID] = true
	}

	for _, s := range set {
		if done[s.ID] {
			continue
		}

		body, err := os.ReadFile(s.Path)
		if err != nil {
			return tr, fail(s.ID, err)
		}

		started := time.Now()
		if err := r.applyScript(ctx, h, s, string(body)); err != nil {
			return tr, fail(s.ID, err)
		}

		tr.Applied = append(tr.Applied, s.ID)
		log.Info("migration applied", "target", name, "script", s.ID, "duration", time.Since(started))
	}
	return tr, nil
}

// applyScript выполняет скрипт и записывает его в _migrations под одной блокировкой,
// чтобы между ними не вклинился другой потребитель файла.
func (r *Runner) applyScript(ctx context.Context, h *Handle, s Script, body string) error {
	if r.opts.Atomic {
		return h.WithinTx(ctx, func(ctx context.Context) error {
			if err := h.ExecScript(ctx, body); err != nil {
				return err
			}
			_, err := h.Exec(ctx, insertMigrationSQL, s.ID)
			return err
		})
	}

	ctx, unlock, err := h.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := h.ExecScript(ctx, body); err != nil {
		return err
	}
	if _, err := h.Exec(ctx, insertMigrationSQL, s.ID); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return nil
}

// Status возвращает применённые и ожидающие скрипты для каждой базы.
// Ничего не меняет: таблица _migrations не создаётся.
func (r *Runner) Status(ctx context.Context) ([]TargetStatus, error) {
	scripts, err := DiscoverScripts(r.opts.MigrationsDir)
	if err != nil {
		return nil, err
	}
	targets, err := DiscoverTargets(r.opts.DBDir, r.opts.Ext)
	if err != nil {
		return nil, err
	}
	plan, err := LoadPlan(filepath.Join(r.opts.MigrationsDir, r.opts.PlanFile))
	if err != nil {
		return nil, err
	}

	out := make([]TargetStatus, 0, len(targets))
	for _, target := range targets {
		h, err := r.mgr.Open(ctx, target)
		if err != nil {
			return nil, err
		}
		st, err := targetStatus(ctx, h, plan.ScriptsFor(filepath.Base(target), scripts))
		if err != nil {
			return nil, fmt.Errorf("status %s: %w", filepath.Base(target), err)
		}
		st.Target = filepath.Base(target)
		out = append(out, st)
	}
	return out, nil
}

// HandleStatus возвращает состояние миграций уже открытого handle
// относительно скриптов из каталога миграций.
func (r *Runner) HandleStatus(ctx context.Context, h *Handle) (TargetStatus, error) {
	scripts, err := DiscoverScripts(r.opts.MigrationsDir)
	if err != nil {
		return TargetStatus{}, err
	}
	plan, err := LoadPlan(filepath.Join(r.opts.MigrationsDir, r.opts.PlanFile))
	if err != nil {
		return TargetStatus{}, err
	}
	st, err := targetStatus(ctx, h, plan.ScriptsFor(filepath.Base(h.Path()), scripts))
	if err != nil {
		return TargetStatus{}, err
	}
	st.Target = filepath.Base(h.Path())
	return st, nil
}

// FileStatus - сводка по открытому файлу: статистика блокировки и состояние миграций.
type FileStatus struct {
	EntryStats
	Migrations TargetStatus `json:"migrations"`
}

// Registered возвращает сводку по всем файлам, которые сейчас открыты в Manager.
// В отличие от Status, не открывает новых файлов.
func (r *Runner) Registered(ctx context.Context) ([]FileStatus, error) {
	handles := r.mgr.Handles()
	out := make([]FileStatus, 0, len(handles))
	for _, h := range handles {
		st, err := r.HandleStatus(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("status %s: %w", h.Path(), err)
		}
		out = append(out, FileStatus{EntryStats: h.Stats(), Migrations: st})
	}
	return out, nil
}

func targetStatus(ctx context.Context, h *Handle, set []Script) (TargetStatus, error) {
	st := TargetStatus{Path: h.Path(), Applied: []MigrationRecord{}, Pending: []string{}}

	var exists int
	if err := h.Get(ctx, &exists, migrationsTableExistSQL); err != nil {
		return st, err
	}
	if exists > 0 {
		records, err := loadApplied(ctx, h)
		if err != nil {
			return st, err
		}
		st.Applied = records
	}

	done := make(map[string]bool, len(st.Applied))
	for _, rec := range st.Applied {
		done[rec.ID] = true
	}
	for _, s := range set {
		if !done[s.ID] {
			st.Pending = append(st.Pending, s.ID)
		}
	}
	return st, nil
}

type migrationRow struct {
	ID        string         `db:"id"`
	AppliedAt sql.NullString `db:"applied_at"`
}

func loadApplied(ctx context.Context, h *Handle) ([]MigrationRecord, error) {
	var rows []migrationRow
	if err := h.Select(ctx, &rows, selectMigrationsSQL); err != nil {
		return nil, fmt.Errorf("load %s: %w", MigrationsTable, err)
	}

	records := make([]MigrationRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, MigrationRecord{ID: row.ID, AppliedAt: parseAppliedAt(row.AppliedAt.String)})
	}
	return records, nil
}

// parseAppliedAt разбирает CURRENT_TIMESTAMP SQLite. Драйвер может отдать
// колонку TIMESTAMP уже как время, тогда database/sql форматирует её в RFC3339.
func parseAppliedAt(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
