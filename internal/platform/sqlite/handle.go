package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"wosbot/internal/shared"
)

// Querier - набор операций, доступный каждому потребителю базы.
// Реализуется *Handle; все операции сериализуются блокировкой файла.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	ExecMany(ctx context.Context, query string, argSets [][]any) (int64, error)
	ExecScript(ctx context.Context, script string) error
	Query(ctx context.Context, query string, args ...any) (*Cursor, error)
	Get(ctx context.Context, dest any, query string, args ...any) error
	Select(ctx context.Context, dest any, query string, args ...any) error
	Cursor() *Cursor
	Commit(ctx context.Context) error
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// driverQuerier - общий набор методов закреплённого соединения и транзакции.
type driverQuerier interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

var (
	_ Querier       = (*Handle)(nil)
	_ driverQuerier = (*sqlx.Conn)(nil)
	_ driverQuerier = (*sqlx.Tx)(nil)
)

// Handle - разделяемый доступ к одному файлу базы.
// Любая операция захватывает блокировку файла на время своего выполнения
// и отпускает её на любом пути выхода, включая ошибки и panic.
type Handle struct {
	mgr *Manager
	e   *entry
}

// Path возвращает ключ ресурса (или ":memory:").
func (h *Handle) Path() string { return h.e.key }

// Stats возвращает сводку по файлу handle.
func (h *Handle) Stats() EntryStats {
	return EntryStats{
		Path:         h.e.key,
		OpenedAt:     h.e.openedAt,
		Acquisitions: h.e.lock.Acquisitions(),
	}
}

// Shared сообщает, находится ли handle в реестре (false для ":memory:").
func (h *Handle) Shared() bool { return !h.e.memory }

// Lock захватывает блокировку файла на произвольный участок кода.
// Операции handle, вызванные с возвращённым контекстом, не ждут повторно.
//
//	ctx, unlock, err := h.Lock(ctx)
//	if err != nil {
//		return err
//	}
//	defer unlock()
func (h *Handle) Lock(ctx context.Context) (context.Context, func(), error) {
	return h.acquire(ctx)
}

// acquire захватывает блокировку и проверяет, что соединение ещё открыто.
func (h *Handle) acquire(ctx context.Context) (context.Context, func(), error) {
	held, release, err := h.e.lock.Acquire(ctx)
	if err != nil {
		return ctx, func() {}, fmt.Errorf("acquire %s: %w", h.e.key, err)
	}
	if h.e.closed.Load() {
		release()
		return ctx, func() {}, fmt.Errorf("%s: %w", h.e.key, shared.ErrClosed)
	}
	return held, release, nil
}

// querier возвращает активную транзакцию из ctx или закреплённое соединение.
// Вызывающий должен удерживать блокировку.
func (h *Handle) querier(ctx context.Context) driverQuerier {
	if st := h.txFrom(ctx); st != nil {
		return st.tx
	}
	return h.e.conn
}

// run выполняет fn под блокировкой. Начатый запрос не прерывается отменой ctx:
// отмена действует только на ожидание блокировки.
func (h *Handle) run(ctx context.Context, fn func(ctx context.Context, q driverQuerier) error) error {
	held, release, err := h.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	return fn(context.WithoutCancel(held), h.querier(held))
}

// Exec выполняет одиночный запрос.
func (h *Handle) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := h.run(ctx, func(ctx context.Context, q driverQuerier) error {
		var err error
		res, err = q.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// ExecMany выполняет запрос для каждого набора аргументов.
// Пакет выполняется целиком или не выполняется вовсе: внутри транзакции
// (или savepoint, если транзакция уже открыта). Возвращает сумму затронутых строк.
func (h *Handle) ExecMany(ctx context.Context, query string, argSets [][]any) (int64, error) {
	var total int64
	err := h.WithinTx(ctx, func(ctx context.Context) error {
		return h.run(ctx, func(ctx context.Context, q driverQuerier) error {
			stmt, err := q.PrepareContext(ctx, query)
			if err != nil {
				return err
			}
			defer stmt.Close()

			for i, args := range argSets {
				res, err := stmt.ExecContext(ctx, args...)
				if err != nil {
					return fmt.Errorf("row %d: %w", i, err)
				}
				if n, err := res.RowsAffected(); err == nil {
					total += n
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// ExecScript выполняет текст из нескольких операторов.
// Вне транзакции каждый оператор фиксируется сразу, поэтому скрипт не атомарен:
// операторы до упавшего остаются применены. Если скрипт сам открыл транзакцию
// (BEGIN ...) и упал, она откатывается, иначе соединение осталось бы внутри неё.
// Пустой скрипт ничего не делает.
func (h *Handle) ExecScript(ctx context.Context, script string) error {
	if strings.TrimSpace(script) == "" {
		return nil
	}
	return h.run(ctx, func(qctx context.Context, q driverQuerier) error {
		_, err := q.ExecContext(qctx, script)
		if err == nil || h.txFrom(ctx) != nil {
			return err
		}
		if _, rbErr := h.e.conn.ExecContext(qctx, "ROLLBACK"); rbErr != nil && !isNoTxError(rbErr) {
			return errors.Join(err, fmt.Errorf("rollback %s: %w", h.e.key, rbErr))
		}
		return err
	})
}

// Query выполняет запрос и возвращает курсор для построчного чтения.
func (h *Handle) Query(ctx context.Context, query string, args ...any) (*Cursor, error) {
	c := h.Cursor()
	if err := c.Query(ctx, query, args...); err != nil {
		return nil, err
	}
	return c, nil
}

// Get читает одну строку в dest (sqlx). Отсутствие строки помечается как shared.ErrNotFound.
func (h *Handle) Get(ctx context.Context, dest any, query string, args ...any) error {
	return h.run(ctx, func(ctx context.Context, q driverQuerier) error {
		err := sqlx.GetContext(ctx, q, dest, query, args...)
		if errors.Is(err, sql.ErrNoRows) {
			return shared.MarkKind(err, shared.KindNotFound)
		}
		return err
	})
}

// Select читает все строки в слайс dest (sqlx).
func (h *Handle) Select(ctx context.Context, dest any, query string, args ...any) error {
	return h.run(ctx, func(ctx context.Context, q driverQuerier) error {
		return sqlx.SelectContext(ctx, q, dest, query, args...)
	})
}

// Cursor создаёт курсор, разделяющий блокировку handle.
func (h *Handle) Cursor() *Cursor {
	return &Cursor{h: h}
}

// Close освобождает handle. Для файлов из реестра ничего не делает:
// соединение общее и закрывается только Manager.Shutdown.
// In-memory handle закрывается по-настоящему.
func (h *Handle) Close(ctx context.Context) error {
	if !h.e.memory {
		return nil
	}
	return h.mgr.closePrivate(ctx, h)
}
