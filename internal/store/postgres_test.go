// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return mock
}

func TestPostgresStore_ListRules(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		want      int
		wantErr   bool
	}{
		{
			name: "rules in priority order",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows([]string{"id", "group_id", "name", "source", "priority", "active"}).
					AddRow(int64(2), int64(1), "high", "WHEN message THEN { } END", 9, true).
					AddRow(int64(1), int64(1), "low", "WHEN message THEN { } END", 1, false)
				mock.ExpectQuery(`SELECT id, group_id, name, source, priority, active`).
					WithArgs(int64(1)).
					WillReturnRows(rows)
			},
			want: 2,
		},
		{
			name: "empty group",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT id, group_id, name, source, priority, active`).
					WithArgs(int64(1)).
					WillReturnRows(pgxmock.NewRows([]string{"id", "group_id", "name", "source", "priority", "active"}))
			},
			want: 0,
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT id, group_id, name, source, priority, active`).
					WithArgs(int64(1)).
					WillReturnError(errors.New("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setupMock(mock)

			s := NewPostgresStore(mock)
			rules, err := s.ListRules(context.Background(), 1)

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Len(t, rules, tt.want)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_ToggleRule(t *testing.T) {
	t.Run("flips active", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`UPDATE rules`).
			WithArgs(int64(1), int64(5)).
			WillReturnRows(pgxmock.NewRows([]string{"active"}).AddRow(false))

		s := NewPostgresStore(mock)
		active, err := s.ToggleRule(context.Background(), 1, 5)
		require.NoError(t, err)
		assert.False(t, active)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown rule", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`UPDATE rules`).
			WithArgs(int64(1), int64(5)).
			WillReturnRows(pgxmock.NewRows([]string{"active"}))

		s := NewPostgresStore(mock)
		_, err := s.ToggleRule(context.Background(), 1, 5)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPostgresStore_Vars(t *testing.T) {
	t.Run("read decodes json", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT value`).
			WithArgs(int64(1), "user", "warnings", int64(77)).
			WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte(`2`)))

		s := NewPostgresStore(mock)
		v, err := s.ReadVar(context.Background(), 1, ScopeUser, "warnings", 77)
		require.NoError(t, err)
		assert.Equal(t, float64(2), v)
	})

	t.Run("missing reads as null", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT value`).
			WithArgs(int64(1), "user", "warnings", int64(77)).
			WillReturnRows(pgxmock.NewRows([]string{"value"}))

		s := NewPostgresStore(mock)
		v, err := s.ReadVar(context.Background(), 1, ScopeUser, "warnings", 77)
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("write upserts", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO variables`).
			WithArgs(int64(1), "user", "warnings", int64(77), []byte(`3`)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		s := NewPostgresStore(mock)
		require.NoError(t, s.WriteVar(context.Background(), 1, ScopeUser, "warnings", float64(3), 77))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("write nil deletes", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`DELETE FROM variables`).
			WithArgs(int64(1), "user", "warnings", int64(77)).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		s := NewPostgresStore(mock)
		require.NoError(t, s.WriteVar(context.Background(), 1, ScopeUser, "warnings", nil, 77))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Stats(t *testing.T) {
	t.Run("record inserts and prunes", func(t *testing.T) {
		mock := newMock(t)
		at := time.Now()
		mock.ExpectExec(`INSERT INTO stat_events`).
			WithArgs(int64(1), "messages", int64(7), at).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`DELETE FROM stat_events`).
			WithArgs(at.Add(-statRetention)).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		s := NewPostgresStore(mock)
		require.NoError(t, s.Record(context.Background(), 1, StatMessages, 7, at))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("count all users", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT count`).
			WithArgs(int64(1), "messages", pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(4)))

		s := NewPostgresStore(mock)
		n, err := s.Count(context.Background(), 1, StatMessages, time.Hour, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
	})

	t.Run("count for one user", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT count`).
			WithArgs(int64(1), "messages", pgxmock.AnyArg(), int64(7)).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))

		s := NewPostgresStore(mock)
		n, err := s.Count(context.Background(), 1, StatMessages, time.Hour, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}

func TestPostgresStore_RecordLog(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO action_log`).
		WithArgs(pgxmock.AnyArg(), int64(1), "banned user 7", "ban_user").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM action_log`).
		WithArgs(int64(1), LogCapacity).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	s := NewPostgresStore(mock)
	require.NoError(t, s.RecordLog(context.Background(), 1, "banned user 7", "ban_user"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
