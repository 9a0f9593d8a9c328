package scheduler

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wosbot/internal/platform/logger"
	"wosbot/internal/platform/sqlite"
)

func TestMaintenance_CheckpointTruncatesWAL(t *testing.T) {
	env := sqlite.NewTestEnv(t)
	ctx := context.Background()

	h := env.MustOpen(t, "users.sqlite")
	_, err := h.Exec(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)
	_, err = h.ExecMany(ctx, "INSERT INTO users (name) VALUES (?)", [][]any{{"a"}, {"b"}, {"c"}})
	require.NoError(t, err)

	wal := env.DBPath("users.sqlite") + "-wal"
	info, err := os.Stat(wal)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0), "после записи WAL не должен быть пустым")

	m := NewMaintenance(env.Manager, logger.Discard())
	require.NoError(t, m.Checkpoint(ctx))

	info, err = os.Stat(wal)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size(), "TRUNCATE должен обнулить WAL")
	assert.Equal(t, 3, sqlite.CountRows(t, h, "users"))
}

func TestMaintenance_RunOverAllHandles(t *testing.T) {
	env := sqlite.NewTestEnv(t)
	ctx := context.Background()

	for _, name := range []string{"a.sqlite", "b.sqlite"} {
		h := env.MustOpen(t, name)
		_, err := h.Exec(ctx, "CREATE TABLE t (v INTEGER)")
		require.NoError(t, err)
	}

	m := NewMaintenance(env.Manager, logger.Discard())
	require.NoError(t, m.Run(ctx))

	for _, st := range env.Manager.Stats() {
		// создание таблицы + checkpoint + optimize
		assert.GreaterOrEqual(t, st.Acquisitions, int64(3), st.Path)
	}
}

func TestMaintenance_SkipsAfterShutdown(t *testing.T) {
	env := sqlite.NewTestEnv(t)
	ctx := context.Background()
	env.MustOpen(t, "a.sqlite")

	m := NewMaintenance(env.Manager, logger.Discard())
	require.NoError(t, env.Manager.Shutdown(ctx))
	assert.NoError(t, m.Run(ctx), "после остановки обслуживать нечего")
}

func TestMaintenance_Register(t *testing.T) {
	env := sqlite.NewTestEnv(t)
	m := NewMaintenance(env.Manager, logger.Discard())

	var finished []string
	s := New(Config{JobHooks: JobHooks{
		OnJobFinish: func(name string, _ time.Duration, err error) {
			assert.NoError(t, err)
			finished = append(finished, name)
		},
	}})
	defer s.Stop()

	id, err := m.Register(s, "")
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.Empty(t, s.Jobs(), "пустое расписание отключает обслуживание")

	id, err = m.Register(s, "0 4 * * *")
	require.NoError(t, err)
	env.MustOpen(t, "a.sqlite")

	require.True(t, s.RunNow(id))
	assert.Equal(t, []string{"sqlite-maintenance"}, finished)

	_, err = m.Register(s, "whenever")
	assert.Error(t, err)
}
