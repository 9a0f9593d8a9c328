package shared_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wosbot/internal/shared"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		context  string
		expected string
		isNil    bool
	}{
		{name: "nil error", err: nil, context: "ctx", isNil: true},
		{name: "simple error", err: errors.New("original"), context: "wrapper", expected: "wrapper: original"},
		{name: "empty context", err: errors.New("original"), context: "", expected: "original"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := shared.Wrap(tt.err, tt.context)
			if tt.isNil {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.Equal(t, tt.expected, result.Error())
			assert.ErrorIs(t, result, tt.err)
		})
	}
}

func TestWrapf(t *testing.T) {
	base := errors.New("disk I/O error")
	err := shared.Wrapf(base, "open %s", "db/users.sqlite")
	assert.EqualError(t, err, "open db/users.sqlite: disk I/O error")
	assert.ErrorIs(t, err, base)
	assert.Nil(t, shared.Wrapf(nil, "open %s", "x"))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want shared.Kind
	}{
		{"nil", nil, shared.KindUnknown},
		{"plain", errors.New("boom"), shared.KindUnknown},
		{"closed", fmt.Errorf("exec: %w", shared.ErrClosed), shared.KindClosed},
		{"migration", fmt.Errorf("0002_b.sql: %w", shared.ErrMigrationFailed), shared.KindMigrationFailed},
		{"deadline", context.DeadlineExceeded, shared.KindTimeout},
		{"canceled", context.Canceled, shared.KindCanceled},
		{"validation", shared.ErrValidation, shared.KindValidation},
		{"join prefers migration", errors.Join(shared.ErrClosed, shared.ErrMigrationFailed), shared.KindMigrationFailed},
		{"join prefers cancel", errors.Join(shared.ErrMigrationFailed, context.Canceled), shared.KindCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shared.KindOf(tt.err))
			assert.True(t, shared.HasKind(tt.err, tt.want))
		})
	}
}

func TestMarkKind(t *testing.T) {
	driverErr := errors.New("SQL logic error: no such table: users")

	marked := shared.MarkKind(driverErr, shared.KindNotFound)
	assert.ErrorIs(t, marked, shared.ErrNotFound)
	assert.ErrorIs(t, marked, driverErr)

	// повторная пометка не оборачивает второй раз
	assert.Same(t, marked, shared.MarkKind(marked, shared.KindNotFound))

	assert.Equal(t, shared.ErrClosed, shared.MarkKind(nil, shared.KindClosed))
	assert.Equal(t, driverErr, shared.MarkKind(driverErr, shared.KindUnknown))
	assert.Equal(t, driverErr, shared.MarkKind(driverErr, shared.KindCanceled))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "MigrationFailed", shared.KindMigrationFailed.String())
	assert.Equal(t, "Closed", shared.KindClosed.String())
	assert.Equal(t, "Unknown", shared.Kind(99).String())
}

func TestPredicates(t *testing.T) {
	assert.True(t, shared.IsClosed(shared.Wrap(shared.ErrClosed, "query")))
	assert.True(t, shared.IsMigrationFailed(shared.Wrap(shared.ErrMigrationFailed, "run")))
	assert.True(t, shared.IsNotFound(shared.ErrNotFound))
	assert.True(t, shared.IsValidation(shared.ErrValidation))
	assert.True(t, shared.IsTimeout(shared.ErrTimeout))
	assert.False(t, shared.IsCanceled(nil))
	assert.False(t, shared.IsTimeout(errors.New("x")))
}
