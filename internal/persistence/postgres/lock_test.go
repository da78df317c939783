package postgres

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type unlockRow struct {
	released bool
	err      error
}

func (r unlockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*bool) = r.released
	return nil
}

type lockConn struct {
	row    unlockRow
	args   []any
	closed bool
}

func (c *lockConn) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	c.args = args
	return c.row
}

func (c *lockConn) Close(context.Context) error {
	c.closed = true
	return nil
}

func TestReleaseSessionLockKeepsHealthyConnection(t *testing.T) {
	conn := &lockConn{row: unlockRow{released: true}}
	var logs bytes.Buffer
	releaseSessionLock(context.Background(), conn, zerolog.New(&logs), 42)

	require.False(t, conn.closed)
	require.Equal(t, []any{batchLockNamespace, int32(42)}, conn.args)
	require.Empty(t, logs.String())
}

func TestReleaseSessionLockClosesConnectionOnFailure(t *testing.T) {
	for name, row := range map[string]unlockRow{
		"query error": {err: errors.New("connection reset")},
		"not held":    {released: false},
	} {
		t.Run(name, func(t *testing.T) {
			conn := &lockConn{row: row}
			var logs bytes.Buffer
			releaseSessionLock(context.Background(), conn, zerolog.New(&logs), 7)

			require.True(t, conn.closed, "session must end so the lock cannot leak back into the pool")
			require.Contains(t, logs.String(), "organization lock release failed")
		})
	}
}
