package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/jmoiron/sqlx"

	"wosbot/internal/shared"
)

// txKey используется как ключ для хранения транзакции в context.Context.
// Ключ привязан к entry, чтобы транзакция одного файла не попала в запросы к другому.
type txKey struct{ e *entry }

// txState - открытая транзакция. Блокировка файла удерживается от Begin
// до Commit/Rollback, поэтому другие потребители ждут её завершения.
type txState struct {
	tx      *sqlx.Tx
	release func()
	done    atomic.Bool
}

// txFrom извлекает активную транзакцию этого handle из контекста.
func (h *Handle) txFrom(ctx context.Context) *txState {
	st, ok := ctx.Value(txKey{h.e}).(*txState)
	if !ok || st.done.Load() {
		return nil
	}
	return st
}

// InTx сообщает, открыта ли в ctx транзакция этого handle.
func (h *Handle) InTx(ctx context.Context) bool {
	return h.txFrom(ctx) != nil
}

// Begin начинает транзакцию и возвращает контекст, в котором она видна
// всем операциям handle. Блокировка файла удерживается до Commit или Rollback.
// Внимание: при использовании этого метода вы отвечаете за ручной коммит/откат!
func (h *Handle) Begin(ctx context.Context) (context.Context, error) {
	if h.txFrom(ctx) != nil {
		return ctx, fmt.Errorf("begin %s: transaction already active: %w", h.e.key, shared.ErrConflict)
	}

	held, release, err := h.acquire(ctx)
	if err != nil {
		return ctx, err
	}

	// Без отмены: иначе database/sql откатит транзакцию при отмене ctx вызывающего.
	tx, err := h.e.conn.BeginTxx(context.WithoutCancel(held), nil)
	if err != nil {
		release()
		return ctx, fmt.Errorf("begin %s: %w", h.e.key, err)
	}

	st := &txState{tx: tx, release: release}
	return context.WithValue(held, txKey{h.e}, st), nil
}

// Commit фиксирует транзакцию из ctx. Без неё выполняет COMMIT на соединении
// под блокировкой, фиксируя транзакцию, открытую через Exec(ctx, "BEGIN").
// Если транзакции нет, ничего не делает. Повторный Commit той же транзакции
// возвращает sql.ErrTxDone.
func (h *Handle) Commit(ctx context.Context) error {
	st, ok := ctx.Value(txKey{h.e}).(*txState)
	if !ok {
		return h.passthrough(ctx, "COMMIT")
	}
	if !st.done.CompareAndSwap(false, true) {
		return sql.ErrTxDone
	}
	defer st.release()

	h.closeTxCursors(st)
	if err := st.tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", h.e.key, err)
	}
	return nil
}

// Rollback откатывает транзакцию из ctx, а без неё выполняет ROLLBACK
// на соединении. Если транзакции нет или она уже завершена, ничего не делает.
func (h *Handle) Rollback(ctx context.Context) error {
	st, ok := ctx.Value(txKey{h.e}).(*txState)
	if !ok {
		return h.passthrough(ctx, "ROLLBACK")
	}
	if !st.done.CompareAndSwap(false, true) {
		return nil
	}
	defer st.release()

	h.closeTxCursors(st)
	if err := st.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback %s: %w", h.e.key, err)
	}
	return nil
}

// passthrough выполняет COMMIT/ROLLBACK на закреплённом соединении.
// Отсутствие открытой транзакции ошибкой не считается.
func (h *Handle) passthrough(ctx context.Context, stmt string) error {
	return h.run(ctx, func(ctx context.Context, q driverQuerier) error {
		if _, err := q.ExecContext(ctx, stmt); err != nil && !isNoTxError(err) {
			return fmt.Errorf("%s %s: %w", strings.ToLower(stmt), h.e.key, err)
		}
		return nil
	})
}

// closeTxCursors закрывает курсоры транзакции: database/sql не завершит
// транзакцию, пока по ней открыты строки.
func (h *Handle) closeTxCursors(st *txState) {
	for c := range h.e.cursors {
		if c.tx == st {
			c.closeRows()
		}
	}
}

// WithinTx выполняет fn внутри транзакции.
// Если fn возвращает ошибку или паникует, транзакция откатывается,
// иначе фиксируется. Блокировка освобождается на любом пути выхода.
// Если в ctx уже открыта транзакция этого handle, создаётся savepoint.
func (h *Handle) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if st := h.txFrom(ctx); st != nil {
		return h.withinSavepoint(ctx, st, fn)
	}

	txCtx, err := h.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = h.Rollback(txCtx)
			panic(r)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := h.Rollback(txCtx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return h.Commit(txCtx)
}

// withinSavepoint выполняет функцию внутри savepoint.
func (h *Handle) withinSavepoint(ctx context.Context, st *txState, fn func(ctx context.Context) error) error {
	// Генерируем уникальное имя savepoint
	name := fmt.Sprintf("sp_%d", h.e.savepoints.Add(1))
	exec := func(stmt string) error {
		_, err := st.tx.ExecContext(context.WithoutCancel(ctx), stmt)
		return err
	}

	if err := exec("SAVEPOINT " + name); err != nil {
		return fmt.Errorf("failed to create savepoint %s: %w", name, err)
	}

	rollback := func() error {
		if err := exec("ROLLBACK TO SAVEPOINT " + name); err != nil {
			return err
		}
		// Освобождаем savepoint после отката
		return exec("RELEASE SAVEPOINT " + name)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = rollback()
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		if rbErr := rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback to savepoint %s: %v (original error: %w)", name, rbErr, err)
		}
		return err
	}

	if err := exec("RELEASE SAVEPOINT " + name); err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", name, err)
	}
	return nil
}
