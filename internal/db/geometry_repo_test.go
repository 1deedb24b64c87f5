package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sunspot/internal/types"
)

func square(lon, lat, d float64) orb.Polygon {
	return orb.Polygon{{{lon, lat}, {lon + d, lat}, {lon + d, lat + d}, {lon, lat + d}, {lon, lat}}}
}

func mustWKB(t *testing.T, g orb.Geometry) []byte {
	t.Helper()
	b, err := wkb.Marshal(g)
	require.NoError(t, err)
	return b
}

func TestGeometryRepository_LoadPatioContext(t *testing.T) {
	db := new(mockDBTX)
	repo := NewGeometryRepository(db, 250)
	ctx := context.Background()

	patio := square(12.5683, 55.6761, 0.0001)
	tower := square(12.5684, 55.6759, 0.0001)
	shed := square(12.5680, 55.6762, 0.00005)

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"patio-1"}).
		Return(&mockRow{values: []any{
			"patio-1", "venue-9", "Harbour terrace", mustWKB(t, patio), nil, 0.9, nil, int64(4),
		}})
	db.On("Query", ctx, mock.AnythingOfType("string"), []any{"patio-1", 250.0}).
		Return(newMockRows([][]any{
			{"b-1", mustWKB(t, tower), 15.0, "surveyed", 1.0, int64(7)},
			{"b-2", mustWKB(t, shed), 3.0, "heuristic", 0.4, int64(2)},
		}), nil)

	pc, err := repo.LoadPatioContext(ctx, "patio-1")
	require.NoError(t, err)

	assert.Equal(t, "patio-1", pc.Patio.ID)
	assert.Equal(t, "venue-9", pc.Patio.VenueID)
	assert.Equal(t, "Harbour terrace", pc.Patio.Name)
	assert.Equal(t, patio, pc.Patio.Footprint)
	assert.Nil(t, pc.Patio.HeightMeters)
	assert.Nil(t, pc.Patio.Orientation)
	assert.Equal(t, 0.9, pc.Patio.PolygonQuality)

	require.Len(t, pc.Buildings, 2)
	assert.Equal(t, tower, pc.Buildings[0].Footprint)
	assert.Equal(t, types.HeightSurveyed, pc.Buildings[0].HeightSource)
	assert.Equal(t, types.HeightHeuristic, pc.Buildings[1].HeightSource)
	assert.Equal(t, 0.4, pc.Buildings[1].QualityScore)

	// The newest building edit wins over the patio's own version.
	assert.Equal(t, int64(7), pc.GeometryVersion)
	db.AssertExpectations(t)
}

func TestGeometryRepository_LoadPatioContext_NoBuildings(t *testing.T) {
	db := new(mockDBTX)
	repo := NewGeometryRepository(db, 0)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{values: []any{"patio-1", "", "", mustWKB(t, square(0, 0, 1)), nil, 1.0, nil, int64(3)}})
	db.On("Query", ctx, mock.AnythingOfType("string"), []any{"patio-1", float64(DefaultSearchRadiusM)}).
		Return(newMockRows(nil), nil)

	pc, err := repo.LoadPatioContext(ctx, "patio-1")
	require.NoError(t, err)
	assert.Empty(t, pc.Buildings)
	assert.Equal(t, int64(3), pc.GeometryVersion)
	db.AssertExpectations(t)
}

func TestGeometryRepository_LoadPatioContext_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewGeometryRepository(db, 300)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.LoadPatioContext(ctx, "missing")
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundPatio))
	db.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything)
}

func TestGeometryRepository_LoadPatioContext_DBErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("patio query", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
			Return(&mockRow{scanErr: errors.New("connection refused")})

		_, err := NewGeometryRepository(db, 300).LoadPatioContext(ctx, "patio-1")
		assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
	})

	t.Run("building query", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
			Return(&mockRow{values: []any{"patio-1", "", "", mustWKB(t, square(0, 0, 1)), nil, 1.0, nil, int64(1)}})
		db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
			Return(nil, errors.New("statement timeout"))

		_, err := NewGeometryRepository(db, 300).LoadPatioContext(ctx, "patio-1")
		assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
	})

	t.Run("corrupt footprint", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
			Return(&mockRow{values: []any{"patio-1", "", "", []byte{0x01, 0x02}, nil, 1.0, nil, int64(1)}})

		_, err := NewGeometryRepository(db, 300).LoadPatioContext(ctx, "patio-1")
		assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
	})
}

func TestGeometryRepository_ListPatioIDs(t *testing.T) {
	db := new(mockDBTX)
	repo := NewGeometryRepository(db, 300)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), []any(nil)).
		Return(newMockRows([][]any{{"a"}, {"b"}, {"c"}}), nil)

	ids, err := repo.ListPatioIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	db.AssertExpectations(t)
}

func TestGeometryRepository_ListPatioIDs_IterationError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewGeometryRepository(db, 300)
	ctx := context.Background()

	rows := newMockRows([][]any{{"a"}})
	rows.errVal = errors.New("connection lost")
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := repo.ListPatioIDs(ctx)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestGeometryRepository_ListPatiosNearBuilding(t *testing.T) {
	db := new(mockDBTX)
	repo := NewGeometryRepository(db, 300)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), []any{"b-1", 300.0}).
		Return(newMockRows([][]any{{"patio-1"}, {"patio-4"}}), nil).Once()
	db.On("Query", ctx, mock.AnythingOfType("string"), []any{"b-1", 120.0}).
		Return(newMockRows(nil), nil).Once()

	ids, err := repo.ListPatiosNearBuilding(ctx, "b-1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"patio-1", "patio-4"}, ids)

	ids, err = repo.ListPatiosNearBuilding(ctx, "b-1", 120)
	require.NoError(t, err)
	assert.Empty(t, ids)
	db.AssertExpectations(t)
}
