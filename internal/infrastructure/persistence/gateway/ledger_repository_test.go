package gateway

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/NexusProtocols/gateway-go/internal/infrastructure/persistence/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.NewConnection("sqlite3", filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.EnsureSchema())
	return db
}

func TestRecordCompletionIdempotent(t *testing.T) {
	repo := NewSQLLedgerRepository(newTestDB(t))

	require.NoError(t, repo.RecordCompletion("gw_1", "sess_1", "task-1-1", "client"))
	require.NoError(t, repo.RecordCompletion("gw_1", "sess_1", "task-1-1", "callback"))
	require.NoError(t, repo.RecordCompletion("gw_1", "sess_1", "task-1-2", "client"))

	count, err := repo.CompletionCount("sess_1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRecordDispatchAtMostOncePerSession(t *testing.T) {
	repo := NewSQLLedgerRepository(newTestDB(t))

	inserted, err := repo.RecordDispatch("gw_1", "sess_1", "session:sess_1", "2026-03-15")
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.RecordDispatch("gw_1", "sess_1", "session:sess_1", "2026-03-15")
	require.NoError(t, err)
	assert.False(t, inserted)

	has, err := repo.HasDispatch("sess_1")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = repo.HasDispatch("sess_other")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestDispatchCountInWindow(t *testing.T) {
	repo := NewSQLLedgerRepository(newTestDB(t))

	_, err := repo.RecordDispatch("gw_1", "sess_1", "user:u1", "2026-03-15")
	require.NoError(t, err)
	_, err = repo.RecordDispatch("gw_1", "sess_2", "user:u1", "2026-03-15")
	require.NoError(t, err)
	_, err = repo.RecordDispatch("gw_1", "sess_3", "user:u1", "2026-03-16")
	require.NoError(t, err)
	_, err = repo.RecordDispatch("gw_2", "sess_4", "user:u1", "2026-03-15")
	require.NoError(t, err)

	count, err := repo.DispatchCountInWindow("gw_1", "user:u1", "2026-03-15")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = repo.DispatchCountInWindow("gw_1", "user:u1", "2026-03-16")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = repo.DispatchCountInWindow("gw_1", "user:u2", "2026-03-15")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCompletionsSince(t *testing.T) {
	repo := NewSQLLedgerRepository(newTestDB(t))

	require.NoError(t, repo.RecordCompletion("gw_1", "sess_1", "task-1-1", "client"))
	require.NoError(t, repo.RecordCompletion("gw_1", "sess_2", "task-1-1", "client"))
	require.NoError(t, repo.RecordCompletion("gw_2", "sess_3", "task-1-1", "postback"))

	counts, err := repo.CompletionsSince(time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, counts["gw_1"])
	assert.Equal(t, 1, counts["gw_2"])

	counts, err = repo.CompletionsSince(time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, counts)
}
