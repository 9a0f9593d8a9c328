package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wosbot/internal/shared"
)

type user struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

func newUsersHandle(t *testing.T) *Handle {
	t.Helper()
	env := NewTestEnv(t)
	h := env.MustOpen(t, "users.sqlite")
	_, err := h.Exec(context.Background(), "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE)")
	require.NoError(t, err)
	return h
}

func TestHandle_ExecAndGet(t *testing.T) {
	h := newUsersHandle(t)
	ctx := context.Background()

	res, err := h.Exec(ctx, "INSERT INTO users (name) VALUES (?)", "alice")
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)

	var u user
	require.NoError(t, h.Get(ctx, &u, "SELECT id, name FROM users WHERE id = ?", id))
	assert.Equal(t, user{ID: id, Name: "alice"}, u)
}

func TestHandle_GetNoRowsIsNotFound(t *testing.T) {
	h := newUsersHandle(t)

	var u user
	err := h.Get(context.Background(), &u, "SELECT id, name FROM users WHERE id = ?", 42)
	assert.True(t, shared.IsNotFound(err))
}

func TestHandle_Select(t *testing.T) {
	h := newUsersHandle(t)
	ctx := context.Background()

	_, err := h.ExecMany(ctx, "INSERT INTO users (name) VALUES (?)", [][]any{{"b"}, {"a"}, {"c"}})
	require.NoError(t, err)

	var users []user
	require.NoError(t, h.Select(ctx, &users, "SELECT id, name FROM users ORDER BY name"))
	require.Len(t, users, 3)
	assert.Equal(t, "a", users[0].Name)
	assert.Equal(t, "c", users[2].Name)
}

func TestHandle_ExecManyAllOrNothing(t *testing.T) {
	h := newUsersHandle(t)
	ctx := context.Background()

	n, err := h.ExecMany(ctx, "INSERT INTO users (name) VALUES (?)", [][]any{{"a"}, {"b"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Дубликат в середине пакета откатывает весь пакет
	_, err = h.ExecMany(ctx, "INSERT INTO users (name) VALUES (?)", [][]any{{"c"}, {"a"}, {"d"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 1")
	assert.Equal(t, 2, CountRows(t, h, "users"))
}

func TestHandle_ExecScriptIsNotAtomic(t *testing.T) {
	h := newUsersHandle(t)
	ctx := context.Background()

	err := h.ExecScript(ctx, `
		INSERT INTO users (name) VALUES ('first');
		INSERT INTO missing_table (x) VALUES (1);
		INSERT INTO users (name) VALUES ('second');
	`)
	require.Error(t, err)

	// Оператор до упавшего остался применён
	var names []string
	require.NoError(t, h.Select(ctx, &names, "SELECT name FROM users"))
	assert.Equal(t, []string{"first"}, names)
}

func TestHandle_ExecScriptBlank(t *testing.T) {
	h := newUsersHandle(t)
	assert.NoError(t, h.ExecScript(context.Background(), "  \n\t "))
}

func TestHandle_CommitWithoutTx(t *testing.T) {
	env := NewTestEnv(t)
	h := env.MustOpen(t, "users.sqlite")
	ctx := context.Background()

	_, err := h.Exec(ctx, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)

	// Без открытой транзакции Commit и Rollback ничего не делают
	require.NoError(t, h.Commit(ctx))
	require.NoError(t, h.Rollback(ctx))

	// Транзакция, открытая текстом, фиксируется через Commit
	_, err = h.Exec(ctx, "BEGIN")
	require.NoError(t, err)
	_, err = h.Exec(ctx, "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, h.Commit(ctx))

	other, err := NewTestManager(t).Open(ctx, env.DBPath("users.sqlite"))
	require.NoError(t, err)
	assert.Equal(t, 1, CountRows(t, other, "t"), "commit must be visible to another connection")

	// После Commit соединение снова в autocommit
	ctx2, err := h.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Rollback(ctx2))
}

func TestHandle_RollbackWithoutTx(t *testing.T) {
	h := newUsersHandle(t)
	ctx := context.Background()

	_, err := h.Exec(ctx, "BEGIN")
	require.NoError(t, err)
	_, err = h.Exec(ctx, "INSERT INTO users (name) VALUES (?)", "a")
	require.NoError(t, err)
	require.NoError(t, h.Rollback(ctx))

	assert.Equal(t, 0, CountRows(t, h, "users"))
}

func TestHandle_ExecScriptRollsBackOwnTransaction(t *testing.T) {
	env := NewTestEnv(t)
	h := env.MustOpen(t, "app.sqlite")
	ctx := context.Background()

	err := h.ExecScript(ctx, `
		BEGIN;
		CREATE TABLE a (x INTEGER);
		INSERT INTO missing VALUES (1);
		COMMIT;
	`)
	require.Error(t, err)
	assert.False(t, TableExists(t, h, "a"), "statements of the failed script must be rolled back")

	// Соединение не осталось внутри транзакции: запись видна другому соединению
	_, err = h.Exec(ctx, "CREATE TABLE other (x INTEGER)")
	require.NoError(t, err)
	other, err := NewTestManager(t).Open(ctx, env.DBPath("app.sqlite"))
	require.NoError(t, err)
	assert.True(t, TableExists(t, other, "other"))

	txCtx, err := h.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Rollback(txCtx))
}

func TestHandle_LockGroupsOperations(t *testing.T) {
	h := newUsersHandle(t)
	ctx := context.Background()

	held, unlock, err := h.Lock(ctx)
	require.NoError(t, err)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		_, err := h.Exec(ctx, "INSERT INTO users (name) VALUES (?)", "other")
		assert.NoError(t, err)
		close(done)
	}()
	<-started

	// Операции с удерживающим контекстом идут без ожидания,
	// чужой Exec ждёт освобождения
	_, err = h.Exec(held, "INSERT INTO users (name) VALUES (?)", "mine")
	require.NoError(t, err)
	var n int
	require.NoError(t, h.Get(held, &n, "SELECT COUNT(*) FROM users"))
	assert.Equal(t, 1, n)

	unlock()
	<-done
	assert.Equal(t, 2, CountRows(t, h, "users"))
}

func TestHandle_LockCanceledWait(t *testing.T) {
	h := newUsersHandle(t)

	_, unlock, err := h.Lock(context.Background())
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Exec(ctx, "SELECT 1")
	assert.True(t, shared.IsCanceled(err))
}

// Параллельные read-modify-write из разных goroutine дают результат
// некоторого последовательного порядка: ни одно обновление не теряется.
func TestHandle_ConcurrentSerializable(t *testing.T) {
	env := NewTestEnv(t)
	ctx := context.Background()
	h := env.MustOpen(t, "counter.sqlite")
	_, err := h.Exec(ctx, "CREATE TABLE counter (id INTEGER PRIMARY KEY, n INTEGER NOT NULL)")
	require.NoError(t, err)
	_, err = h.Exec(ctx, "INSERT INTO counter (id, n) VALUES (1, 0)")
	require.NoError(t, err)

	const workers, iterations = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			// каждый "обработчик" открывает базу сам
			mine, err := env.Manager.Open(ctx, env.DBPath("counter.sqlite"))
			if !assert.NoError(t, err) {
				return
			}
			for i := 0; i < iterations; i++ {
				err := mine.WithinTx(ctx, func(ctx context.Context) error {
					var n int
					if err := mine.Get(ctx, &n, "SELECT n FROM counter WHERE id = 1"); err != nil {
						return err
					}
					_, err := mine.Exec(ctx, "UPDATE counter SET n = ? WHERE id = 1", n+1)
					return err
				})
				assert.NoError(t, err, fmt.Sprintf("worker %d iteration %d", w, i))
			}
		}(w)
	}
	wg.Wait()

	var n int
	require.NoError(t, h.Get(ctx, &n, "SELECT n FROM counter WHERE id = 1"))
	assert.Equal(t, workers*iterations, n)
}
