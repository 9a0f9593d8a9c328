package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	moderncsqlite "modernc.org/sqlite" // SQLite драйвер
	sqlite3lib "modernc.org/sqlite/lib"

	"wosbot/pkg/retry"
)

// MemoryPath - путь in-memory базы. Такие базы не попадают в реестр:
// каждый вызов Open получает свою независимую базу.
const MemoryPath = ":memory:"

const driverName = "sqlite"

// TxLockMode определяет режим блокировки транзакций SQLite
type TxLockMode string

const (
	// TxLockDeferred - откладывает блокировку до первого чтения/записи (по умолчанию SQLite)
	TxLockDeferred TxLockMode = "deferred"
	// TxLockImmediate - сразу захватывает RESERVED блокировку, чтобы другой процесс не получил SQLITE_BUSY посреди транзакции
	TxLockImmediate TxLockMode = "immediate"
	// TxLockExclusive - сразу захватывает EXCLUSIVE блокировку
	TxLockExclusive TxLockMode = "exclusive"
)

// DBOptions содержит настройки физического соединения.
type DBOptions struct {
	// PingTimeout - таймаут проверки соединения при открытии
	PingTimeout time.Duration
	// WALMode - включать ли журнал WAL (читатели не блокируют писателя)
	WALMode bool
	// Synchronous - уровень PRAGMA synchronous
	Synchronous string
	// ForeignKeys - включить ли проверку внешних ключей
	ForeignKeys bool
	// BusyTimeout - сколько движок ждёт чужую блокировку файла до SQLITE_BUSY
	BusyTimeout time.Duration
	// TxLockMode - режим BEGIN для транзакций
	TxLockMode TxLockMode
	// PragmaRetry - повторы применения PRAGMA, если файл занят другим процессом
	PragmaRetry retry.Config
}

// DefaultDBOptions возвращает настройки по умолчанию.
func DefaultDBOptions() DBOptions {
	return DBOptions{
		PingTimeout: 5 * time.Second,
		WALMode:     true,
		Synchronous: "NORMAL",
		ForeignKeys: false, // старые базы создавались без FK, включение может сломать запись
		BusyTimeout: 5 * time.Second,
		TxLockMode:  TxLockImmediate,
		PragmaRetry: retry.DefaultConfig(),
	}
}

// IsMemoryPath сообщает, указывает ли путь на in-memory базу.
func IsMemoryPath(path string) bool {
	return strings.TrimSpace(path) == MemoryPath
}

// ResourceKey возвращает канонический абсолютный путь файла базы.
// Симлинки раскрываются для каталога, поэтому ключ стабилен даже для ещё не созданного файла.
func ResourceKey(path string) (string, error) {
	if IsMemoryPath(path) {
		return "", fmt.Errorf("in-memory database has no resource key")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		return filepath.Join(dir, filepath.Base(abs)), nil
	}
	return abs, nil
}

// buildDSN строит DSN для modernc.org/sqlite.
// busy_timeout передаётся через DSN, чтобы он действовал уже при переключении журнала.
func buildDSN(dbPath string, opts DBOptions) string {
	if IsMemoryPath(dbPath) {
		return MemoryPath
	}

	params := []string{}
	if opts.BusyTimeout > 0 {
		params = append(params, fmt.Sprintf("_pragma=busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	}
	if opts.TxLockMode != "" && opts.TxLockMode != TxLockDeferred {
		params = append(params, "_txlock="+string(opts.TxLockMode))
	}

	if len(params) > 0 {
		return dbPath + "?" + strings.Join(params, "&")
	}
	return dbPath
}

// openPhysical открывает единственное физическое соединение к файлу.
// Пул ограничен одним соединением, а само соединение закрепляется через Connx,
// поэтому все операции гарантированно идут через один и тот же handle драйвера.
func openPhysical(ctx context.Context, dbPath string, opts DBOptions) (*sqlx.DB, *sqlx.Conn, error) {
	memory := IsMemoryPath(dbPath)
	if !memory {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	db, err := sqlx.Open(driverName, buildDSN(dbPath, opts))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()

	conn, err := db.Connx(pingCtx)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := applyPragmaSettings(ctx, conn, opts, memory); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to apply PRAGMA settings: %w", err)
	}

	return db, conn, nil
}

// pragmaList возвращает PRAGMA в порядке применения.
func pragmaList(opts DBOptions, memory bool) []string {
	pragmas := make([]string, 0, 4)
	if opts.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys = ON")
	}
	// WAL не поддерживается для in-memory БД
	if opts.WALMode && !memory {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	if opts.Synchronous != "" {
		pragmas = append(pragmas, "PRAGMA synchronous = "+opts.Synchronous)
	}
	if opts.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()))
	}
	return pragmas
}

// applyPragmaSettings применяет PRAGMA на закреплённом соединении.
// Переключение в WAL требует эксклюзивной блокировки файла, поэтому SQLITE_BUSY
// от другого процесса повторяется с backoff, а не всплывает наружу.
// Соединение работает в autocommit, отдельный COMMIT для PRAGMA не нужен.
func applyPragmaSettings(ctx context.Context, conn *sqlx.Conn, opts DBOptions, memory bool) error {
	for _, pragma := range pragmaList(opts, memory) {
		err := retry.Do(ctx, opts.PragmaRetry, func(ctx context.Context) error {
			_, err := conn.ExecContext(ctx, pragma)
			return err
		}, isBusyError)
		if err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

// isNoTxError проверяет ошибку COMMIT/ROLLBACK при отсутствии открытой транзакции.
func isNoTxError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no transaction is active")
}

// isBusyError проверяет, является ли ошибка SQLITE_BUSY / SQLITE_LOCKED.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *moderncsqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return true
		}
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database table is locked")
}
