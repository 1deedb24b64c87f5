package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sunspot/internal/types"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// ============================================================
// JobLockRepository Tests
// ============================================================

func TestJobLockRepository_Acquire(t *testing.T) {
	now := time.Date(2026, 6, 21, 3, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		tag  string
		want bool
	}{
		{"new lock", "INSERT 0 1", true},
		{"expired lock reclaimed", "INSERT 0 1", true},
		{"held by another worker", "INSERT 0 0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewJobLockRepository(db, fixedClock{now: now})
			ctx := context.Background()

			db.On("Exec", ctx, mock.AnythingOfType("string"),
				[]any{"precompute_exposures:2026-06-21T03", "req-1", now, now.Add(15 * time.Minute)}).
				Return(pgconn.NewCommandTag(tt.tag), nil)

			acquired, err := repo.Acquire(ctx, "precompute_exposures:2026-06-21T03", "req-1", 15*time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.want, acquired)
			db.AssertExpectations(t)
		})
	}
}

func TestJobLockRepository_Acquire_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db, nil)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	acquired, err := repo.Acquire(ctx, "evict_cache:2026-06-21T03", "worker-1", 10*time.Minute)
	require.Error(t, err)
	assert.False(t, acquired)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestJobLockRepository_Release(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db, nil)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"lock-1", "worker-1"}).
		Return(pgconn.NewCommandTag("DELETE 1"), nil).Once()
	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"lock-2", "worker-1"}).
		Return(pgconn.CommandTag{}, errors.New("deadlock detected")).Once()

	require.NoError(t, repo.Release(ctx, "lock-1", "worker-1"))
	assert.True(t, types.HasCode(repo.Release(ctx, "lock-2", "worker-1"), types.ErrCodeInternalDB))
	db.AssertExpectations(t)
}

// ============================================================
// JobHistoryRepository Tests
// ============================================================

func TestJobHistoryRepository_Start(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"precompute_exposures"}).
		Return(&mockRow{values: []any{int64(42)}})

	id, err := repo.Start(ctx, "precompute_exposures")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	db.AssertExpectations(t)
}

func TestJobHistoryRepository_Start_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection reset")})

	id, err := repo.Start(ctx, "evict_cache")
	require.Error(t, err)
	assert.Equal(t, int64(0), id)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestJobHistoryRepository_Finish(t *testing.T) {
	ctx := context.Background()

	t.Run("with job error", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
			errMsg, ok := args[3].(*string)
			return ok && errMsg != nil && *errMsg == "every patio failed"
		})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

		err := NewJobHistoryRepository(db).Finish(ctx, 42, "failed", 0, errors.New("every patio failed"))
		require.NoError(t, err)
		db.AssertExpectations(t)
	})

	t.Run("nil job error passes nil", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
			errMsg, ok := args[3].(*string)
			return ok && errMsg == nil
		})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

		require.NoError(t, NewJobHistoryRepository(db).Finish(ctx, 99, "success", 50, nil))
		db.AssertExpectations(t)
	})

	t.Run("missing entry", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
			Return(pgconn.NewCommandTag("UPDATE 0"), nil)

		err := NewJobHistoryRepository(db).Finish(ctx, 999, "success", 0, nil)
		assert.True(t, types.HasCode(err, types.ErrCodeInternalUnexpected))
	})

	t.Run("db error", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
			Return(pgconn.CommandTag{}, errors.New("deadlock detected"))

		err := NewJobHistoryRepository(db).Finish(ctx, 42, "failed", 0, nil)
		assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
	})
}
