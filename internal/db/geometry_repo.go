package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"sunspot/internal/types"
)

// DefaultSearchRadiusM is used when a GeometryRepository is created without
// a radius.
const DefaultSearchRadiusM = 300

// GeometryRepository loads patios and the buildings around them.
//
// Geometry versions on both tables are drawn from one shared sequence
// (geometry_version_seq) and bumped on every edit, so the maximum version
// across a patio and its buildings grows whenever any of them changes.
type GeometryRepository struct {
	db      DBTX
	radiusM float64
}

// NewGeometryRepository creates a GeometryRepository. Buildings whose
// footprint lies within radiusM of the patio are loaded with it.
func NewGeometryRepository(db DBTX, radiusM float64) *GeometryRepository {
	if radiusM <= 0 {
		radiusM = DefaultSearchRadiusM
	}
	return &GeometryRepository{db: db, radiusM: radiusM}
}

// LoadPatioContext returns the patio and its nearby buildings. A missing or
// deleted patio is ErrCodeNotFoundPatio.
func (r *GeometryRepository) LoadPatioContext(ctx context.Context, patioID string) (*types.PatioContext, error) {
	var (
		pc        types.PatioContext
		footprint orb.Polygon
		version   int64
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, COALESCE(venue_id, ''), COALESCE(name, ''), ST_AsBinary(footprint), height_meters,
		        polygon_quality, orientation, geometry_version
		 FROM patios
		 WHERE id = $1 AND deleted_at IS NULL`,
		patioID,
	).Scan(
		&pc.Patio.ID,
		&pc.Patio.VenueID,
		&pc.Patio.Name,
		wkb.Scanner(&footprint),
		&pc.Patio.HeightMeters,
		&pc.Patio.PolygonQuality,
		&pc.Patio.Orientation,
		&version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundPatio, "patio not found", err,
				map[string]any{"patio_id": patioID})
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load patio", err)
	}
	pc.Patio.Footprint = footprint

	rows, err := r.db.Query(ctx,
		`SELECT b.id, ST_AsBinary(b.footprint), b.height_meters, b.height_source,
		        b.quality_score, b.geometry_version
		 FROM buildings b, patios p
		 WHERE p.id = $1
		   AND b.deleted_at IS NULL
		   AND ST_DWithin(b.footprint::geography, p.footprint::geography, $2)
		 ORDER BY b.id`,
		patioID,
		r.radiusM,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query nearby buildings", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			b        types.Building
			fp       orb.Polygon
			source   string
			bVersion int64
		)
		if err := rows.Scan(&b.ID, wkb.Scanner(&fp), &b.HeightMeters, &source, &b.QualityScore, &bVersion); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan building", err)
		}
		b.Footprint = fp
		b.HeightSource = types.HeightSource(source)
		pc.Buildings = append(pc.Buildings, b)
		version = max(version, bVersion)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating buildings", err)
	}

	pc.GeometryVersion = version
	return &pc, nil
}

// ListPatioIDs returns every live patio id in a stable order.
func (r *GeometryRepository) ListPatioIDs(ctx context.Context) ([]string, error) {
	return r.queryIDs(ctx, "failed to list patios",
		`SELECT id FROM patios WHERE deleted_at IS NULL ORDER BY id`)
}

// ListPatiosNearBuilding returns the patios within radiusM of a building.
// Deleted buildings are included so that removing a building still
// invalidates the patios it used to shade.
func (r *GeometryRepository) ListPatiosNearBuilding(ctx context.Context, buildingID string, radiusM float64) ([]string, error) {
	if radiusM <= 0 {
		radiusM = r.radiusM
	}
	return r.queryIDs(ctx, "failed to list patios near building",
		`SELECT p.id
		 FROM patios p, buildings b
		 WHERE b.id = $1
		   AND p.deleted_at IS NULL
		   AND ST_DWithin(p.footprint::geography, b.footprint::geography, $2)
		 ORDER BY p.id`,
		buildingID,
		radiusM,
	)
}

func (r *GeometryRepository) queryIDs(ctx context.Context, msg, sql string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, msg, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, msg, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, msg, err)
	}
	return ids, nil
}
