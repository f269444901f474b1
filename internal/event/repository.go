package event

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/lib/pq"
)

// Source defines read access to the interaction log and follow edges.
// The log is append-only upstream; this service only queries it.
type Source interface {
	// ListByActor returns all interactions performed by one user.
	ListByActor(ctx context.Context, actorID string) ([]Interaction, error)

	// ListByActors returns interactions performed by any of the given users,
	// keyed by actor id.
	ListByActors(ctx context.Context, actorIDs []string) (map[string][]Interaction, error)

	// CountByActor returns the number of interactions one user has performed.
	CountByActor(ctx context.Context, actorID string) (int, error)

	// ActiveActors returns the distinct ids of users present in the
	// interaction log.
	ActiveActors(ctx context.Context) ([]string, error)

	// Followers returns the ids of users following the given user.
	Followers(ctx context.Context, userID string) ([]string, error)

	// Following returns the ids of users the given user follows.
	Following(ctx context.Context, userID string) ([]string, error)
}

// PostgresSource is a Source backed by PostgreSQL via database/sql.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource creates an event source over an open database handle.
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) ListByActor(ctx context.Context, actorID string) ([]Interaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, actor_id, item_id, occurred_at
		FROM interaction_events
		WHERE actor_id = $1
		ORDER BY occurred_at DESC`, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	defer rows.Close()
	return collectInteractions(rows)
}

func (s *PostgresSource) ListByActors(ctx context.Context, actorIDs []string) (map[string][]Interaction, error) {
	result := make(map[string][]Interaction, len(actorIDs))
	if len(actorIDs) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, actor_id, item_id, occurred_at
		FROM interaction_events
		WHERE actor_id = ANY($1)
		ORDER BY occurred_at DESC`, pq.Array(actorIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	defer rows.Close()

	events, err := collectInteractions(rows)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		result[ev.ActorID] = append(result[ev.ActorID], ev)
	}
	return result, nil
}

func (s *PostgresSource) CountByActor(ctx context.Context, actorID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM interaction_events WHERE actor_id = $1`, actorID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count interactions: %w", err)
	}
	return count, nil
}

func (s *PostgresSource) ActiveActors(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT actor_id FROM interaction_events ORDER BY actor_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active actors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan actor id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate actor ids: %w", err)
	}
	return ids, nil
}

func (s *PostgresSource) Followers(ctx context.Context, userID string) ([]string, error) {
	return s.queryEdges(ctx, `
		SELECT follower_id FROM follows WHERE followee_id = $1 ORDER BY follower_id`, userID)
}

func (s *PostgresSource) Following(ctx context.Context, userID string) ([]string, error) {
	return s.queryEdges(ctx, `
		SELECT followee_id FROM follows WHERE follower_id = $1 ORDER BY followee_id`, userID)
}

func (s *PostgresSource) queryEdges(ctx context.Context, query, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query follow edges: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan follow edge: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate follow edges: %w", err)
	}
	return ids, nil
}

func collectInteractions(rows *sql.Rows) ([]Interaction, error) {
	var events []Interaction
	for rows.Next() {
		var ev Interaction
		if err := rows.Scan(&ev.Type, &ev.ActorID, &ev.ItemID, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interactions: %w", err)
	}
	return events, nil
}

// InMemorySource is an in-memory implementation of Source for testing.
// Thread-safe via RWMutex.
type InMemorySource struct {
	mu        sync.RWMutex
	events    map[string][]Interaction // actorID -> interactions
	followers map[string][]string      // userID -> follower ids
	following map[string][]string      // userID -> followee ids
}

// NewInMemorySource creates a new in-memory event source.
func NewInMemorySource() *InMemorySource {
	return &InMemorySource{
		events:    make(map[string][]Interaction),
		followers: make(map[string][]string),
		following: make(map[string][]string),
	}
}

// AddInteraction appends an interaction to the log.
func (s *InMemorySource) AddInteraction(ev Interaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ActorID] = append(s.events[ev.ActorID], ev)
}

// AddFollow records a follow edge from follower to followee.
func (s *InMemorySource) AddFollow(followerID, followeeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.following[followerID] = append(s.following[followerID], followeeID)
	s.followers[followeeID] = append(s.followers[followeeID], followerID)
}

func (s *InMemorySource) ListByActor(_ context.Context, actorID string) ([]Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[actorID]
	result := make([]Interaction, len(events))
	copy(result, events)
	sort.Slice(result, func(i, j int) bool {
		return result[i].OccurredAt.After(result[j].OccurredAt)
	})
	return result, nil
}

func (s *InMemorySource) ListByActors(ctx context.Context, actorIDs []string) (map[string][]Interaction, error) {
	result := make(map[string][]Interaction, len(actorIDs))
	for _, id := range actorIDs {
		events, err := s.ListByActor(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(events) > 0 {
			result[id] = events
		}
	}
	return result, nil
}

func (s *InMemorySource) CountByActor(_ context.Context, actorID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events[actorID]), nil
}

func (s *InMemorySource) ActiveActors(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *InMemorySource) Followers(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.followers[userID]))
	copy(ids, s.followers[userID])
	return ids, nil
}

func (s *InMemorySource) Following(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.following[userID]))
	copy(ids, s.following[userID])
	return ids, nil
}
