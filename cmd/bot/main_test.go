package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wosbot/internal/app"
	"wosbot/internal/config"
	"wosbot/internal/platform/logger"
)

func testFactory(t *testing.T) (appFactory, config.Config) {
	t.Helper()
	color.NoColor = true
	root := t.TempDir()

	var c config.Config
	c.Env = "dev"
	c.DB.Dir = filepath.Join(root, "db")
	c.DB.Ext = ".sqlite"
	c.DB.BusyTimeout = time.Second
	c.Migrate.Dir = filepath.Join(root, "migrations")
	c.HTTP.Addr = "127.0.0.1:0"
	require.NoError(t, os.MkdirAll(c.DB.Dir, 0755))
	require.NoError(t, os.MkdirAll(c.Migrate.Dir, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(c.Migrate.Dir, "0001_init.sql"), []byte("CREATE TABLE t (id INTEGER);"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(c.DB.Dir, "users.sqlite"), nil, 0644))

	return func(io.Writer) (*app.App, error) {
		return app.NewWithConfig(c, logger.Discard()), nil
	}, c
}

func execute(t *testing.T, f appFactory, args ...string) string {
	t.Helper()
	buf := new(bytes.Buffer)
	cmd := newRootCmd(f)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return buf.String()
}

func TestMigrateCmd(t *testing.T) {
	f, _ := testFactory(t)

	out := execute(t, f, "migrate", "--dry-run")
	assert.Contains(t, out, "would apply 0001_init.sql to users.sqlite")
	assert.Contains(t, out, "1 pending script(s)")

	out = execute(t, f, "migrate")
	assert.Contains(t, out, "applied 0001_init.sql to users.sqlite")
	assert.Contains(t, out, "1 script(s) applied")

	out = execute(t, f, "migrate")
	assert.Contains(t, out, "0 script(s) applied", "applied scripts are never rerun")
}

func TestStatusCmd(t *testing.T) {
	f, _ := testFactory(t)

	out := execute(t, f, "status")
	assert.Contains(t, out, "users.sqlite")
	assert.Contains(t, out, "[ ] 0001_init.sql")

	execute(t, f, "migrate")
	out = execute(t, f, "status")
	assert.Contains(t, out, "[x] 0001_init.sql")
}

func TestStatusCmd_NoDatabases(t *testing.T) {
	f, c := testFactory(t)
	require.NoError(t, os.Remove(filepath.Join(c.DB.Dir, "users.sqlite")))

	assert.Contains(t, execute(t, f, "status"), "no databases found")
}

type closerFunc func(ctx context.Context) error

func (f closerFunc) Close(ctx context.Context) error { return f(ctx) }

func TestCloseInto(t *testing.T) {
	errClose := errors.New("close failed")
	errRun := errors.New("run failed")
	failing := closerFunc(func(context.Context) error { return errClose })

	var err error
	closeInto(context.Background(), failing, &err)
	assert.ErrorIs(t, err, errClose)

	err = errRun
	closeInto(context.Background(), failing, &err)
	assert.ErrorIs(t, err, errRun)
	assert.ErrorIs(t, err, errClose)

	err = nil
	closeInto(context.Background(), closerFunc(func(context.Context) error { return nil }), &err)
	assert.NoError(t, err)
}
