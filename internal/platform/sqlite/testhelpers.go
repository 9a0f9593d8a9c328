package sqlite

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// TestEnv - каталоги баз и миграций во временной директории теста
// вместе с Manager, который закрывается после теста.
type TestEnv struct {
	Manager       *Manager
	DBDir         string
	MigrationsDir string
}

// NewTestManager создаёт Manager с тихим логгером.
// Shutdown вызывается автоматически после завершения теста.
func NewTestManager(t testing.TB) *Manager {
	t.Helper()

	mgr := NewManager(DefaultDBOptions(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() {
		_ = mgr.Shutdown(context.Background())
	})
	return mgr
}

// NewTestEnv создаёт окружение с пустыми каталогами db/ и migrations/.
func NewTestEnv(t testing.TB) *TestEnv {
	t.Helper()

	root := t.TempDir()
	env := &TestEnv{
		Manager:       NewTestManager(t),
		DBDir:         filepath.Join(root, "db"),
		MigrationsDir: filepath.Join(root, "migrations"),
	}
	for _, dir := range []string{env.DBDir, env.MigrationsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}
	return env
}

// Options возвращает настройки миграций для каталогов окружения.
func (env *TestEnv) Options() MigrateOptions {
	opts := DefaultMigrateOptions()
	opts.MigrationsDir = env.MigrationsDir
	opts.DBDir = env.DBDir
	return opts
}

// Runner создаёт Runner поверх Manager окружения.
func (env *TestEnv) Runner() *Runner {
	return NewRunner(env.Manager, env.Options(), env.Manager.logger)
}

// DBPath возвращает путь файла базы в каталоге окружения.
func (env *TestEnv) DBPath(name string) string {
	return filepath.Join(env.DBDir, name)
}

// WriteScripts записывает скрипты миграций: имя файла -> текст.
func (env *TestEnv) WriteScripts(t testing.TB, scripts map[string]string) {
	t.Helper()

	for name, body := range scripts {
		if err := os.WriteFile(filepath.Join(env.MigrationsDir, name), []byte(body), 0644); err != nil {
			t.Fatalf("Failed to write script %s: %v", name, err)
		}
	}
}

// TouchDB создаёт пустой файл базы, чтобы Runner считал его целевым.
func (env *TestEnv) TouchDB(t testing.TB, name string) string {
	t.Helper()

	path := env.DBPath(name)
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("Failed to create database file %s: %v", name, err)
	}
	return path
}

// MustOpen открывает handle и падает при ошибке.
func (env *TestEnv) MustOpen(t testing.TB, name string) *Handle {
	t.Helper()

	h, err := env.Manager.Open(context.Background(), env.DBPath(name))
	if err != nil {
		t.Fatalf("Failed to open %s: %v", name, err)
	}
	return h
}

// Restart закрывает текущий Manager и создаёт новый, имитируя перезапуск процесса.
func (env *TestEnv) Restart(t testing.TB) {
	t.Helper()

	if err := env.Manager.Shutdown(context.Background()); err != nil {
		t.Fatalf("Failed to shut down manager: %v", err)
	}
	env.Manager = NewTestManager(t)
}

// CountRows возвращает количество строк в таблице.
func CountRows(t testing.TB, h *Handle, tableName string) int {
	t.Helper()

	var count int
	if err := h.Get(context.Background(), &count, "SELECT COUNT(*) FROM "+tableName); err != nil {
		t.Fatalf("Failed to count rows in table %s: %v", tableName, err)
	}
	return count
}

// TableExists проверяет существование таблицы.
func TableExists(t testing.TB, h *Handle, tableName string) bool {
	t.Helper()

	var count int
	if err := h.Get(context.Background(), &count, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", tableName); err != nil {
		t.Fatalf("Failed to check table existence: %v", err)
	}
	return count > 0
}
