// Package gateway provides the completion and dispatch ledgers.
package gateway

import (
	"database/sql"
	"time"

	"github.com/NexusProtocols/gateway-go/internal/infrastructure/persistence/database"
)

// SQLLedgerRepository records task completions and reward dispatches. The
// dispatch ledger doubles as the durable rate limit accounting: counting rows
// in a window answers "how many completions has this identity used up".
type SQLLedgerRepository struct {
	db *database.DB
}

// NewSQLLedgerRepository creates a new instance of the repository.
func NewSQLLedgerRepository(db *database.DB) *SQLLedgerRepository {
	return &SQLLedgerRepository{db: db}
}

// RecordCompletion appends a task completion row. Re-recording the same
// (session, task) pair is a no-op, matching the in-memory set semantics.
func (r *SQLLedgerRepository) RecordCompletion(gatewayID, sessionID, taskID, source string) error {
	const query = `
		INSERT OR IGNORE INTO task_completions (gateway_id, session_id, task_id, source, completed_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.Exec(query, gatewayID, sessionID, taskID, source, time.Now().UTC().Format(time.RFC3339))
	return err
}

// CompletionCount returns how many distinct tasks a session has completed.
func (r *SQLLedgerRepository) CompletionCount(sessionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM task_completions WHERE session_id = ?`

	var count int
	err := r.db.QueryRow(query, sessionID).Scan(&count)
	return count, err
}

// RecordDispatch appends a reward dispatch row. The UNIQUE constraint on
// session_id makes a second dispatch for the same session a no-op; the
// returned bool reports whether this call inserted the row.
func (r *SQLLedgerRepository) RecordDispatch(gatewayID, sessionID, identity, windowKey string) (bool, error) {
	const query = `
		INSERT OR IGNORE INTO reward_dispatches (gateway_id, session_id, identity, window_key, dispensed_at)
		VALUES (?, ?, ?, ?, ?)`

	result, err := r.db.Exec(query, gatewayID, sessionID, identity, windowKey, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DispatchCountInWindow returns how many rewards an identity has collected
// from a gateway inside one rate limit window.
func (r *SQLLedgerRepository) DispatchCountInWindow(gatewayID, identity, windowKey string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM reward_dispatches
		WHERE gateway_id = ? AND identity = ? AND window_key = ?`

	var count int
	err := r.db.QueryRow(query, gatewayID, identity, windowKey).Scan(&count)
	return count, err
}

// HasDispatch reports whether a session already collected its reward.
func (r *SQLLedgerRepository) HasDispatch(sessionID string) (bool, error) {
	const query = `SELECT 1 FROM reward_dispatches WHERE session_id = ?`

	var one int
	err := r.db.QueryRow(query, sessionID).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CompletionsSince returns per-gateway completion counts for the ops stats
// view, bounded to completions after the cutoff.
func (r *SQLLedgerRepository) CompletionsSince(cutoff time.Time) (map[string]int, error) {
	const query = `
		SELECT gateway_id, COUNT(*)
		FROM task_completions
		WHERE completed_at > ?
		GROUP BY gateway_id`

	rows, err := r.db.Query(query, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var gatewayID string
		var count int
		if err := rows.Scan(&gatewayID, &count); err != nil {
			return nil, err
		}
		counts[gatewayID] = count
	}

	return counts, rows.Err()
}
