package impression

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store persists impressions. Insert is idempotent by id: replaying an
// already-recorded id returns the stored row untouched. List methods return
// rows ordered by recommended_at ascending.
type Store interface {
	Insert(ctx context.Context, imp *Impression) (*Impression, error)
	Get(ctx context.Context, id string) (*Impression, error)
	Save(ctx context.Context, imp *Impression) error
	ListByAlgorithm(ctx context.Context, algorithm string, start, end time.Time) ([]*Impression, error)
	ListByExperiment(ctx context.Context, experimentID string, start, end time.Time) ([]*Impression, error)
}

// PostgresStore persists impressions in the recommendation_impressions table.
// Feature snapshot and serve context live in jsonb columns.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const impressionColumns = `id, user_id, item_id, algorithm, score, rank,
	experiment_id, variant, serve_context, features,
	is_clicked, is_liked, is_shared, is_commented, is_collected, is_disliked,
	view_duration, user_rating, time_to_interact,
	ctr, engagement_rate, satisfaction_score,
	recommended_at, interacted_at`

func (s *PostgresStore) Insert(ctx context.Context, imp *Impression) (*Impression, error) {
	contextJSON, err := json.Marshal(imp.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to encode serve context: %w", err)
	}
	featuresJSON, err := json.Marshal(imp.Features)
	if err != nil {
		return nil, fmt.Errorf("failed to encode feature snapshot: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO recommendation_impressions (`+impressionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24)
		ON CONFLICT (id) DO NOTHING`,
		imp.ID, imp.UserID, imp.ItemID, imp.Algorithm, imp.Score, imp.Rank,
		nullString(imp.ExperimentID), nullString(imp.Variant), contextJSON, featuresJSON,
		imp.Clicked, imp.Liked, imp.Shared, imp.Commented, imp.Collected, imp.Disliked,
		imp.ViewDuration, imp.UserRating, imp.TimeToInteract,
		imp.CTR, imp.EngagementRate, imp.SatisfactionScore,
		imp.RecommendedAt, imp.InteractedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert impression: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check insert result: %w", err)
	}
	if affected == 0 {
		// Replay of an already-recorded id; serve the row as first stored.
		return s.Get(ctx, imp.ID)
	}
	return imp, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Impression, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+impressionColumns+`
		FROM recommendation_impressions
		WHERE id = $1`, id)
	return scanImpression(row)
}

func (s *PostgresStore) Save(ctx context.Context, imp *Impression) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE recommendation_impressions
		SET is_clicked = $2, is_liked = $3, is_shared = $4, is_commented = $5,
			is_collected = $6, is_disliked = $7,
			view_duration = $8, user_rating = $9, time_to_interact = $10,
			ctr = $11, engagement_rate = $12, satisfaction_score = $13,
			interacted_at = $14
		WHERE id = $1`,
		imp.ID,
		imp.Clicked, imp.Liked, imp.Shared, imp.Commented, imp.Collected, imp.Disliked,
		imp.ViewDuration, imp.UserRating, imp.TimeToInteract,
		imp.CTR, imp.EngagementRate, imp.SatisfactionScore,
		imp.InteractedAt)
	if err != nil {
		return fmt.Errorf("failed to update impression: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByAlgorithm(ctx context.Context, algorithm string, start, end time.Time) ([]*Impression, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+impressionColumns+`
		FROM recommendation_impressions
		WHERE algorithm = $1 AND recommended_at >= $2 AND recommended_at <= $3
		ORDER BY recommended_at ASC`, algorithm, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query impressions by algorithm: %w", err)
	}
	defer rows.Close()
	return collectImpressions(rows)
}

func (s *PostgresStore) ListByExperiment(ctx context.Context, experimentID string, start, end time.Time) ([]*Impression, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+impressionColumns+`
		FROM recommendation_impressions
		WHERE experiment_id = $1 AND recommended_at >= $2 AND recommended_at <= $3
		ORDER BY recommended_at ASC`, experimentID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query impressions by experiment: %w", err)
	}
	defer rows.Close()
	return collectImpressions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImpression(row rowScanner) (*Impression, error) {
	var imp Impression
	var experimentID, variant sql.NullString
	var contextJSON, featuresJSON []byte
	var interactedAt sql.NullTime

	err := row.Scan(
		&imp.ID, &imp.UserID, &imp.ItemID, &imp.Algorithm, &imp.Score, &imp.Rank,
		&experimentID, &variant, &contextJSON, &featuresJSON,
		&imp.Clicked, &imp.Liked, &imp.Shared, &imp.Commented, &imp.Collected, &imp.Disliked,
		&imp.ViewDuration, &imp.UserRating, &imp.TimeToInteract,
		&imp.CTR, &imp.EngagementRate, &imp.SatisfactionScore,
		&imp.RecommendedAt, &interactedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan impression: %w", err)
	}

	imp.ExperimentID = experimentID.String
	imp.Variant = variant.String
	if interactedAt.Valid {
		t := interactedAt.Time
		imp.InteractedAt = &t
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &imp.Context); err != nil {
			return nil, fmt.Errorf("failed to decode serve context: %w", err)
		}
	}
	if len(featuresJSON) > 0 {
		if err := json.Unmarshal(featuresJSON, &imp.Features); err != nil {
			return nil, fmt.Errorf("failed to decode feature snapshot: %w", err)
		}
	}
	return &imp, nil
}

func collectImpressions(rows *sql.Rows) ([]*Impression, error) {
	var impressions []*Impression
	for rows.Next() {
		imp, err := scanImpression(rows)
		if err != nil {
			return nil, err
		}
		impressions = append(impressions, imp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate impressions: %w", err)
	}
	return impressions, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// InMemoryStore keeps impressions in memory for tests and local development.
type InMemoryStore struct {
	mu          sync.RWMutex
	impressions map[string]*Impression
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{impressions: make(map[string]*Impression)}
}

func (s *InMemoryStore) Insert(_ context.Context, imp *Impression) (*Impression, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.impressions[imp.ID]; ok {
		replayed := *existing
		return &replayed, nil
	}
	stored := *imp
	s.impressions[imp.ID] = &stored
	result := stored
	return &result, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Impression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	imp, ok := s.impressions[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *imp
	return &result, nil
}

func (s *InMemoryStore) Save(_ context.Context, imp *Impression) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.impressions[imp.ID]; !ok {
		return ErrNotFound
	}
	stored := *imp
	s.impressions[imp.ID] = &stored
	return nil
}

func (s *InMemoryStore) ListByAlgorithm(_ context.Context, algorithm string, start, end time.Time) ([]*Impression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(imp *Impression) bool {
		return imp.Algorithm == algorithm && inWindow(imp.RecommendedAt, start, end)
	}), nil
}

func (s *InMemoryStore) ListByExperiment(_ context.Context, experimentID string, start, end time.Time) ([]*Impression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(imp *Impression) bool {
		return imp.ExperimentID == experimentID && inWindow(imp.RecommendedAt, start, end)
	}), nil
}

func (s *InMemoryStore) filter(keep func(*Impression) bool) []*Impression {
	var result []*Impression
	for _, imp := range s.impressions {
		if keep(imp) {
			copied := *imp
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].RecommendedAt.Equal(result[j].RecommendedAt) {
			return result[i].RecommendedAt.Before(result[j].RecommendedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
