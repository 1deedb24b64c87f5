package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sunspot/internal/types"
)

func TestScheduleRepository_Create(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)
	ctx := context.Background()
	created := time.Date(2026, 6, 21, 3, 0, 0, 0, time.UTC)

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 15 &&
			args[0] == "sched-1" &&
			args[2] == "pending" &&
			string(args[10].([]byte)) == "[]"
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Create(ctx, &types.PrecomputationSchedule{
		ID: "sched-1", TargetDate: "2026-06-21", Status: types.ScheduleStatusPending, CreatedAt: created,
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestScheduleRepository_Create_DBError(t *testing.T) {
	db := new(mockDBTX)
	ctx := context.Background()
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("duplicate key"))

	err := NewScheduleRepository(db).Create(ctx, &types.PrecomputationSchedule{ID: "sched-1"})
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestScheduleRepository_Update(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)
	ctx := context.Background()

	failures := []types.PatioFailure{{PatioID: "patio-9", Attempts: 4, Error: "timeout"}}
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		if len(args) != 12 || args[1] != "completed" {
			return false
		}
		var decoded []types.PatioFailure
		return json.Unmarshal(args[8].([]byte), &decoded) == nil && len(decoded) == 1 && decoded[0].Attempts == 4
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.Update(ctx, &types.PrecomputationSchedule{
		ID: "sched-1", Status: types.ScheduleStatusCompleted, PatiosFailed: 1, Failures: failures,
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestScheduleRepository_Update_NotFound(t *testing.T) {
	db := new(mockDBTX)
	ctx := context.Background()
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := NewScheduleRepository(db).Update(ctx, &types.PrecomputationSchedule{ID: "ghost"})
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundSchedule))
}

func scheduleRow(t *testing.T, status string, failures []types.PatioFailure, errMsg *string) []any {
	t.Helper()
	raw, err := json.Marshal(failures)
	require.NoError(t, err)
	started := time.Date(2026, 6, 21, 3, 0, 1, 0, time.UTC)
	return []any{
		"sched-1", "2026-06-21", status, false, 120, 120, 2, 8614, 146, 5,
		raw, errMsg, &started, (*time.Time)(nil), time.Date(2026, 6, 21, 3, 0, 0, 0, time.UTC),
	}
}

func TestScheduleRepository_LatestForDate(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)
	ctx := context.Background()

	failures := []types.PatioFailure{{PatioID: "a", Attempts: 1, Error: "invalid"}, {PatioID: "b", Attempts: 4, Error: "timeout"}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"2026-06-21"}).
		Return(&mockRow{values: scheduleRow(t, "running", failures, nil)})

	s, err := repo.LatestForDate(ctx, "2026-06-21")
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, types.ScheduleStatusRunning, s.Status)
	assert.Equal(t, 120, s.PatiosTotal)
	assert.Equal(t, 8614, s.BucketsWritten)
	assert.Equal(t, failures, s.Failures)
	assert.Empty(t, s.ErrorMessage)
	require.NotNil(t, s.StartedAt)
	assert.Nil(t, s.CompletedAt)
	db.AssertExpectations(t)
}

func TestScheduleRepository_LatestForDate_None(t *testing.T) {
	db := new(mockDBTX)
	ctx := context.Background()
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	s, err := NewScheduleRepository(db).LatestForDate(ctx, "2026-06-21")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestScheduleRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	msg := "every patio failed"

	db := new(mockDBTX)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"sched-1"}).
		Return(&mockRow{values: scheduleRow(t, "failed", nil, &msg)})

	s, err := NewScheduleRepository(db).GetByID(ctx, "sched-1")
	require.NoError(t, err)
	assert.Equal(t, types.ScheduleStatusFailed, s.Status)
	assert.Equal(t, msg, s.ErrorMessage)

	missing := new(mockDBTX)
	missing.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})
	_, err = NewScheduleRepository(missing).GetByID(ctx, "ghost")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundSchedule))
}
