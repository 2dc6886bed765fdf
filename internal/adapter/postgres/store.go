// Package postgres persists alerts and serves the place reference table.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
)

//go:embed schema.sql
var schema string

// NewPool creates and verifies a pgxpool connection pool.
func NewPool(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.ParseConfig: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return pool, nil
}

// Store writes alert results in one transaction per document.
type Store struct {
	db *pgxpool.Pool
}

// NewStore wraps pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

// Migrate creates any missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

const upsertAlertSQL = `
INSERT INTO alerts (id, document_id, category, event, urgency, severity, description, instruction,
                    effective_from, effective_until, processed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (document_id) DO UPDATE SET
    category = EXCLUDED.category,
    event = EXCLUDED.event,
    urgency = EXCLUDED.urgency,
    severity = EXCLUDED.severity,
    description = EXCLUDED.description,
    instruction = EXCLUDED.instruction,
    effective_from = EXCLUDED.effective_from,
    effective_until = EXCLUDED.effective_until,
    processed_at = EXCLUDED.processed_at
RETURNING id`

const insertAreaSQL = `
INSERT INTO alert_areas (alert_id, place_id, specific_effective_from, specific_effective_until,
                         specific_urgency, specific_severity, specific_instruction)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

const updateDocumentSQL = `
INSERT INTO documents (id, extraction_method, extraction_confidence, structured_payload, processed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    extraction_method = EXCLUDED.extraction_method,
    extraction_confidence = EXCLUDED.extraction_confidence,
    structured_payload = EXCLUDED.structured_payload,
    processed_at = EXCLUDED.processed_at`

// SaveResult upserts the alert, replaces its areas and updates the document
// row. Either all three are written or none are; every error wraps
// domain.ErrPersistence. Repeating the call with the same result leaves the
// same rows behind.
func (s *Store) SaveResult(ctx context.Context, res domain.AlertResult) error {
	payload, err := json.Marshal(res.Structured)
	if err != nil {
		return fmt.Errorf("%w: serialize payload: %w", domain.ErrPersistence, err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrPersistence, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	a := res.Alert
	var alertID [16]byte
	err = tx.QueryRow(ctx, upsertAlertSQL,
		a.ID, a.DocumentID, string(a.Category), a.Event, string(a.Urgency), string(a.Severity),
		a.Description, a.Instruction, a.EffectiveFrom, a.EffectiveUntil, a.ProcessedAt,
	).Scan(&alertID)
	if err != nil {
		return fmt.Errorf("%w: upsert alert %s: %w", domain.ErrPersistence, a.DocumentID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM alert_areas WHERE alert_id = $1`, alertID); err != nil {
		return fmt.Errorf("%w: clear areas: %w", domain.ErrPersistence, err)
	}

	if len(res.Areas) > 0 {
		batch := &pgx.Batch{}
		for _, area := range res.Areas {
			batch.Queue(insertAreaSQL,
				alertID, area.PlaceID, area.EffectiveFrom, area.EffectiveUntil,
				enumPtr(area.Urgency), enumPtr(area.Severity), area.Instruction,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("%w: insert %d areas: %w", domain.ErrPersistence, len(res.Areas), err)
		}
	}

	_, err = tx.Exec(ctx, updateDocumentSQL,
		a.DocumentID, string(res.Content.ExtractionMethod), res.Content.Confidence, payload, a.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: update document %s: %w", domain.ErrPersistence, a.DocumentID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrPersistence, err)
	}
	return nil
}

// AreaPlaceIDs returns the place IDs stored for a document's alert.
func (s *Store) AreaPlaceIDs(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
SELECT aa.place_id FROM alert_areas aa
JOIN alerts a ON a.id = aa.alert_id
WHERE a.document_id = $1
ORDER BY aa.place_id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query areas: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// CountAlerts returns the number of alert rows for a document.
func (s *Store) CountAlerts(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM alerts WHERE document_id = $1`, documentID).Scan(&n)
	return n, err
}

func enumPtr[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

const upsertPlaceSQL = `
INSERT INTO places (id, name, level, parent_id, variants, centroid_lat, centroid_lon, boundary)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    level = EXCLUDED.level,
    parent_id = EXCLUDED.parent_id,
    variants = EXCLUDED.variants,
    centroid_lat = EXCLUDED.centroid_lat,
    centroid_lon = EXCLUDED.centroid_lon,
    boundary = EXCLUDED.boundary`

// SeedPlaces upserts the reference hierarchy. Records are written parents
// first so the parent_id foreign key holds.
func (s *Store) SeedPlaces(ctx context.Context, records []domain.PlaceRecord) error {
	ordered, err := parentsFirst(records)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrPersistence, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	batch := &pgx.Batch{}
	for _, p := range ordered {
		boundary, err := encodeBoundary(p.Boundary)
		if err != nil {
			return fmt.Errorf("place %s: %w", p.ID, err)
		}
		variants := p.NameVariants
		if variants == nil {
			variants = []string{}
		}
		batch.Queue(upsertPlaceSQL,
			p.ID, p.CanonicalName, string(p.Level), nullable(p.ParentID), variants,
			p.Centroid.Lat, p.Centroid.Lon, boundary,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%w: seed %d places: %w", domain.ErrPersistence, len(records), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrPersistence, err)
	}
	return nil
}

// LoadPlaces reads the full reference hierarchy.
func (s *Store) LoadPlaces(ctx context.Context) ([]domain.PlaceRecord, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, name, level, COALESCE(parent_id, ''), variants, centroid_lat, centroid_lon, boundary
FROM places ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: query places: %w", domain.ErrResolverBackend, err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PlaceRecord, error) {
		var (
			p        domain.PlaceRecord
			level    string
			boundary []byte
		)
		if err := row.Scan(&p.ID, &p.CanonicalName, &level, &p.ParentID, &p.NameVariants,
			&p.Centroid.Lat, &p.Centroid.Lon, &boundary); err != nil {
			return p, err
		}
		p.Level = domain.Level(level)
		if len(boundary) > 0 {
			if err := json.Unmarshal(boundary, &p.Boundary); err != nil {
				return p, fmt.Errorf("decode boundary for %s: %w", p.ID, err)
			}
		}
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan places: %w", domain.ErrResolverBackend, err)
	}
	return records, nil
}

// parentsFirst orders records so every parent precedes its children. Parents
// outside the set are assumed to exist already.
func parentsFirst(records []domain.PlaceRecord) ([]domain.PlaceRecord, error) {
	byID := make(map[string]domain.PlaceRecord, len(records))
	for _, p := range records {
		byID[p.ID] = p
	}

	out := make([]domain.PlaceRecord, 0, len(records))
	state := make(map[string]int, len(records)) // 1 visiting, 2 done
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case 1:
			return fmt.Errorf("place hierarchy cycle at %s", id)
		case 2:
			return nil
		}
		p, ok := byID[id]
		if !ok {
			return nil
		}
		state[id] = 1
		if p.ParentID != "" {
			if err := visit(p.ParentID); err != nil {
				return err
			}
		}
		state[id] = 2
		out = append(out, p)
		return nil
	}
	for _, p := range records {
		if err := visit(p.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func encodeBoundary(ring []domain.Point) ([]byte, error) {
	if len(ring) == 0 {
		return nil, nil
	}
	return json.Marshal(ring)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
