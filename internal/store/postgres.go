// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Querier is the subset of pgxpool.Pool the postgres stores use; pgxmock
// satisfies it in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements the rule, variable, statistics, and log
// boundaries on PostgreSQL. Each call runs in its own short-lived implicit
// transaction; there are no cross-call transactions.
type PostgresStore struct {
	db Querier
}

// NewPostgresStore creates a store over the given connection pool.
func NewPostgresStore(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// ListRules returns a group's rules ordered by descending priority.
func (s *PostgresStore) ListRules(ctx context.Context, groupID int64) ([]Rule, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, group_id, name, source, priority, active
		FROM rules
		WHERE group_id = $1
		ORDER BY priority DESC, id ASC
	`, groupID)
	if err != nil {
		return nil, oops.Code("RULE_LIST_FAILED").
			With("group_id", groupID).
			Wrap(err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.GroupID, &r.Name, &r.Source, &r.Priority, &r.Active); err != nil {
			return nil, oops.Code("RULE_LIST_FAILED").
				With("operation", "scan rule").
				Wrap(err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("RULE_LIST_FAILED").
			With("group_id", groupID).
			Wrap(err)
	}
	return rules, nil
}

// ToggleRule flips a rule's active flag and returns the new state.
func (s *PostgresStore) ToggleRule(ctx context.Context, groupID, ruleID int64) (bool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE rules
		SET active = NOT active, updated_at = now()
		WHERE group_id = $1 AND id = $2
		RETURNING active
	`, groupID, ruleID)

	var active bool
	err := row.Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, oops.Code("RULE_NOT_FOUND").
			With("group_id", groupID).
			With("rule_id", ruleID).
			Wrap(ErrNotFound)
	}
	if err != nil {
		return false, oops.Code("RULE_TOGGLE_FAILED").
			With("rule_id", ruleID).
			Wrap(err)
	}
	return active, nil
}

// ReadVar returns a persistent variable decoded from its JSON form, or nil
// when absent.
func (s *PostgresStore) ReadVar(ctx context.Context, groupID int64, scope Scope, name string, userID int64) (any, error) {
	row := s.db.QueryRow(ctx, `
		SELECT value
		FROM variables
		WHERE group_id = $1 AND scope = $2 AND name = $3 AND user_id = $4
	`, groupID, string(scope), name, userID)

	var raw []byte
	err := row.Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("VAR_READ_FAILED").
			With("group_id", groupID).
			With("name", name).
			Wrap(err)
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, oops.Code("VAR_READ_FAILED").
			With("operation", "decode value").
			With("name", name).
			Wrap(err)
	}
	return value, nil
}

// WriteVar upserts a persistent variable; a nil value deletes it.
func (s *PostgresStore) WriteVar(ctx context.Context, groupID int64, scope Scope, name string, value any, userID int64) error {
	if value == nil {
		return s.DeleteVar(ctx, groupID, scope, name, userID)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return oops.Code("VAR_WRITE_FAILED").
			With("operation", "encode value").
			With("name", name).
			Wrap(err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO variables (group_id, scope, name, user_id, value, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (group_id, scope, name, user_id)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, groupID, string(scope), name, userID, raw)
	if err != nil {
		return oops.Code("VAR_WRITE_FAILED").
			With("group_id", groupID).
			With("name", name).
			Wrap(err)
	}
	return nil
}

// DeleteVar removes a persistent variable.
func (s *PostgresStore) DeleteVar(ctx context.Context, groupID int64, scope Scope, name string, userID int64) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM variables
		WHERE group_id = $1 AND scope = $2 AND name = $3 AND user_id = $4
	`, groupID, string(scope), name, userID)
	if err != nil {
		return oops.Code("VAR_DELETE_FAILED").
			With("group_id", groupID).
			With("name", name).
			Wrap(err)
	}
	return nil
}

// statRetention bounds how far back stat queries can reach; rows past the
// horizon are pruned opportunistically on insert.
const statRetention = 31 * 24 * time.Hour

// Record appends one statistics entry and prunes expired rows.
func (s *PostgresStore) Record(ctx context.Context, groupID int64, kind StatKind, userID int64, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO stat_events (group_id, kind, user_id, at)
		VALUES ($1, $2, $3, $4)
	`, groupID, string(kind), userID, at)
	if err != nil {
		return oops.Code("STAT_RECORD_FAILED").
			With("group_id", groupID).
			With("kind", string(kind)).
			Wrap(err)
	}

	_, err = s.db.Exec(ctx, `
		DELETE FROM stat_events WHERE at < $1
	`, at.Add(-statRetention))
	if err != nil {
		return oops.Code("STAT_PRUNE_FAILED").Wrap(err)
	}
	return nil
}

// Count counts stream entries inside [now-window, now]. A zero userID
// aggregates over all users.
func (s *PostgresStore) Count(ctx context.Context, groupID int64, kind StatKind, window time.Duration, userID int64) (int64, error) {
	cutoff := time.Now().Add(-window)

	var row pgx.Row
	if userID == 0 {
		row = s.db.QueryRow(ctx, `
			SELECT count(*) FROM stat_events
			WHERE group_id = $1 AND kind = $2 AND at >= $3
		`, groupID, string(kind), cutoff)
	} else {
		row = s.db.QueryRow(ctx, `
			SELECT count(*) FROM stat_events
			WHERE group_id = $1 AND kind = $2 AND at >= $3 AND user_id = $4
		`, groupID, string(kind), cutoff, userID)
	}

	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, oops.Code("STAT_COUNT_FAILED").
			With("group_id", groupID).
			With("kind", string(kind)).
			Wrap(err)
	}
	return n, nil
}

// RecordLog appends an action-log line and trims the group's log to its
// FIFO capacity. ULIDs sort lexicographically by creation time, so the
// newest LogCapacity ids are the keepers.
func (s *PostgresStore) RecordLog(ctx context.Context, groupID int64, text, tag string) error {
	id := ulid.Make().String()
	_, err := s.db.Exec(ctx, `
		INSERT INTO action_log (id, group_id, text, tag, at)
		VALUES ($1, $2, $3, $4, now())
	`, id, groupID, text, tag)
	if err != nil {
		return oops.Code("LOG_RECORD_FAILED").
			With("group_id", groupID).
			Wrap(err)
	}

	_, err = s.db.Exec(ctx, `
		DELETE FROM action_log
		WHERE group_id = $1 AND id NOT IN (
			SELECT id FROM action_log
			WHERE group_id = $1
			ORDER BY id DESC
			LIMIT $2
		)
	`, groupID, LogCapacity)
	if err != nil {
		return oops.Code("LOG_TRIM_FAILED").
			With("group_id", groupID).
			Wrap(err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a unique-constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
