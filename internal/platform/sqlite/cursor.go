package sqlite

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Cursor - курсор поверх handle. Разделяет блокировку родителя:
// каждая операция, включая чтение очередной строки, захватывает её отдельно.
//
// Курсор, открытый внутри транзакции, закрывается при Commit/Rollback.
type Cursor struct {
	h    *Handle
	rows *sqlx.Rows
	tx   *txState
	cols []string

	rowsAffected int64
	lastInsertID int64
}

// Exec выполняет запрос, не возвращающий строк. Предыдущая выборка закрывается.
func (c *Cursor) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := c.h.run(ctx, func(ctx context.Context, q driverQuerier) error {
		c.closeRows()

		var err error
		res, err = q.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		c.rowsAffected, _ = res.RowsAffected()
		c.lastInsertID, _ = res.LastInsertId()
		return nil
	})
	return res, err
}

// Query открывает выборку. Строки читаются через Fetch*.
func (c *Cursor) Query(ctx context.Context, query string, args ...any) error {
	return c.h.run(ctx, func(ctx context.Context, q driverQuerier) error {
		c.closeRows()

		rows, err := q.QueryxContext(ctx, query, args...)
		if err != nil {
			return err
		}
		cols, err := rows.Columns()
		if err != nil {
			_ = rows.Close()
			return err
		}

		c.rows = rows
		c.cols = cols
		c.tx = c.h.txFrom(ctx)
		c.rowsAffected = -1
		c.h.e.cursors[c] = struct{}{}
		return nil
	})
}

// FetchOne возвращает следующую строку или nil, если строки закончились.
func (c *Cursor) FetchOne(ctx context.Context) ([]any, error) {
	var row []any
	err := c.h.run(ctx, func(context.Context, driverQuerier) error {
		var err error
		row, err = c.next()
		return err
	})
	return row, err
}

// FetchOneInto сканирует следующую строку в структуру (sqlx StructScan).
// Возвращает false, если строки закончились.
func (c *Cursor) FetchOneInto(ctx context.Context, dest any) (bool, error) {
	found := false
	err := c.h.run(ctx, func(context.Context, driverQuerier) error {
		if c.rows == nil {
			return nil
		}
		if !c.rows.Next() {
			err := c.rows.Err()
			c.closeRows()
			return err
		}
		found = true
		return c.rows.StructScan(dest)
	})
	return found, err
}

// FetchMany возвращает до n следующих строк.
func (c *Cursor) FetchMany(ctx context.Context, n int) ([][]any, error) {
	var out [][]any
	err := c.h.run(ctx, func(context.Context, driverQuerier) error {
		for len(out) < n {
			row, err := c.next()
			if err != nil {
				return err
			}
			if row == nil {
				break
			}
			out = append(out, row)
		}
		return nil
	})
	return out, err
}

// FetchAll возвращает все оставшиеся строки.
func (c *Cursor) FetchAll(ctx context.Context) ([][]any, error) {
	var out [][]any
	err := c.h.run(ctx, func(context.Context, driverQuerier) error {
		for {
			row, err := c.next()
			if err != nil {
				return err
			}
			if row == nil {
				return nil
			}
			out = append(out, row)
		}
	})
	return out, err
}

// next читает строку под уже захваченной блокировкой.
func (c *Cursor) next() ([]any, error) {
	if c.rows == nil {
		return nil, nil
	}
	if !c.rows.Next() {
		err := c.rows.Err()
		c.closeRows()
		return nil, err
	}
	return c.rows.SliceScan()
}

// Columns возвращает имена колонок последней выборки.
func (c *Cursor) Columns() []string { return c.cols }

// RowsAffected возвращает число строк, затронутых последним Exec (-1 после Query).
func (c *Cursor) RowsAffected() int64 { return c.rowsAffected }

// LastInsertID возвращает rowid последней вставки через Exec.
func (c *Cursor) LastInsertID() int64 { return c.lastInsertID }

// Close закрывает выборку. Повторный вызов безопасен.
func (c *Cursor) Close(ctx context.Context) error {
	_, release, err := c.h.e.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	c.closeRows()
	return nil
}

// closeRows вызывается под блокировкой.
func (c *Cursor) closeRows() {
	if c.rows == nil {
		return
	}
	_ = c.rows.Close()
	c.rows = nil
	c.tx = nil
	if c.h.e.cursors != nil {
		delete(c.h.e.cursors, c)
	}
}
