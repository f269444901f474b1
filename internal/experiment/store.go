package experiment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/lib/pq"
)

// Store persists experiment definitions and evaluation results.
type Store interface {
	Insert(ctx context.Context, exp *Experiment) error
	Get(ctx context.Context, id string) (*Experiment, error)
	Save(ctx context.Context, exp *Experiment) error
	List(ctx context.Context) ([]*Experiment, error)
	ListByStatus(ctx context.Context, status Status) ([]*Experiment, error)
}

// PostgresStore persists experiments in the ranking_experiments table.
// Variants, automation settings and results live in jsonb columns.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const experimentColumns = `id, name, type, primary_metric, secondary_metrics,
	variants, target_audience, start_at, end_at, status, automation, results,
	created_at, updated_at`

func (s *PostgresStore) Insert(ctx context.Context, exp *Experiment) error {
	variants, automation, results, err := encodeJSONFields(exp)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ranking_experiments (`+experimentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		exp.ID, exp.Name, exp.Type, exp.PrimaryMetric, pq.Array(exp.SecondaryMetrics),
		variants, exp.TargetAudience, exp.StartAt, exp.EndAt, string(exp.Status),
		automation, results, exp.CreatedAt, exp.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrConflict, exp.ID)
		}
		return fmt.Errorf("failed to insert experiment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Experiment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+experimentColumns+`
		FROM ranking_experiments
		WHERE id = $1`, id)
	return scanExperiment(row)
}

func (s *PostgresStore) Save(ctx context.Context, exp *Experiment) error {
	variants, automation, results, err := encodeJSONFields(exp)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE ranking_experiments
		SET name = $2, type = $3, primary_metric = $4, secondary_metrics = $5,
			variants = $6, target_audience = $7, start_at = $8, end_at = $9,
			status = $10, automation = $11, results = $12, updated_at = $13
		WHERE id = $1`,
		exp.ID, exp.Name, exp.Type, exp.PrimaryMetric, pq.Array(exp.SecondaryMetrics),
		variants, exp.TargetAudience, exp.StartAt, exp.EndAt, string(exp.Status),
		automation, results, exp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update experiment: %w", err)
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

func (s *PostgresStore) List(ctx context.Context) ([]*Experiment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+experimentColumns+`
		FROM ranking_experiments
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query experiments: %w", err)
	}
	defer rows.Close()
	return collectExperiments(rows)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status) ([]*Experiment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+experimentColumns+`
		FROM ranking_experiments
		WHERE status = $1
		ORDER BY created_at ASC, id ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query experiments by status: %w", err)
	}
	defer rows.Close()
	return collectExperiments(rows)
}

func encodeJSONFields(exp *Experiment) (variants, automation, results []byte, err error) {
	variants, err = json.Marshal(exp.Variants)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode variants: %w", err)
	}
	automation, err = json.Marshal(exp.Automation)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode automation settings: %w", err)
	}
	if exp.Results != nil {
		results, err = json.Marshal(exp.Results)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode results: %w", err)
		}
	}
	return variants, automation, results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*Experiment, error) {
	var exp Experiment
	var status string
	var variantsJSON, automationJSON, resultsJSON []byte

	err := row.Scan(
		&exp.ID, &exp.Name, &exp.Type, &exp.PrimaryMetric, pq.Array(&exp.SecondaryMetrics),
		&variantsJSON, &exp.TargetAudience, &exp.StartAt, &exp.EndAt, &status,
		&automationJSON, &resultsJSON, &exp.CreatedAt, &exp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan experiment: %w", err)
	}

	exp.Status = Status(status)
	if err := json.Unmarshal(variantsJSON, &exp.Variants); err != nil {
		return nil, fmt.Errorf("failed to decode variants: %w", err)
	}
	if err := json.Unmarshal(automationJSON, &exp.Automation); err != nil {
		return nil, fmt.Errorf("failed to decode automation settings: %w", err)
	}
	if len(resultsJSON) > 0 {
		exp.Results = &Results{}
		if err := json.Unmarshal(resultsJSON, exp.Results); err != nil {
			return nil, fmt.Errorf("failed to decode results: %w", err)
		}
	}
	return &exp, nil
}

func collectExperiments(rows *sql.Rows) ([]*Experiment, error) {
	var experiments []*Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		experiments = append(experiments, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate experiments: %w", err)
	}
	return experiments, nil
}

// InMemoryStore keeps experiments in memory for tests and local development.
type InMemoryStore struct {
	mu          sync.RWMutex
	experiments map[string]*Experiment
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{experiments: make(map[string]*Experiment)}
}

func (s *InMemoryStore) Insert(_ context.Context, exp *Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[exp.ID]; ok {
		return fmt.Errorf("%w: %s", ErrConflict, exp.ID)
	}
	stored := *exp
	s.experiments[exp.ID] = &stored
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.experiments[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *exp
	return &result, nil
}

func (s *InMemoryStore) Save(_ context.Context, exp *Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[exp.ID]; !ok {
		return ErrNotFound
	}
	stored := *exp
	s.experiments[exp.ID] = &stored
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(*Experiment) bool { return true }), nil
}

func (s *InMemoryStore) ListByStatus(_ context.Context, status Status) ([]*Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(exp *Experiment) bool { return exp.Status == status }), nil
}

func (s *InMemoryStore) filter(keep func(*Experiment) bool) []*Experiment {
	var result []*Experiment
	for _, exp := range s.experiments {
		if keep(exp) {
			copied := *exp
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}
