package content

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/lib/pq"
)

// Source defines read access to the item catalog.
type Source interface {
	// GetItem retrieves a single item by id.
	GetItem(ctx context.Context, id string) (*Item, error)

	// ListItems returns all items in the catalog.
	ListItems(ctx context.Context) ([]*Item, error)

	// ListItemsByTags returns items carrying at least one of the given tags.
	ListItemsByTags(ctx context.Context, tags []string) ([]*Item, error)

	// ListHotItems returns up to limit items ordered by hot score descending,
	// with item id as the tie-breaker for stable ordering.
	ListHotItems(ctx context.Context, limit int) ([]*Item, error)
}

// PostgresSource is a Source backed by PostgreSQL via database/sql.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource creates a catalog source over an open database handle.
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) GetItem(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tags, hot_score, created_at
		FROM items
		WHERE id = $1`, id)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

func (s *PostgresSource) ListItems(ctx context.Context) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tags, hot_score, created_at
		FROM items
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

func (s *PostgresSource) ListItemsByTags(ctx context.Context, tags []string) ([]*Item, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tags, hot_score, created_at
		FROM items
		WHERE tags && $1
		ORDER BY id`, pq.Array(tags))
	if err != nil {
		return nil, fmt.Errorf("failed to list items by tags: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

func (s *PostgresSource) ListHotItems(ctx context.Context, limit int) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tags, hot_score, created_at
		FROM items
		ORDER BY hot_score DESC, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list hot items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	var tags pq.StringArray
	if err := row.Scan(&item.ID, &tags, &item.HotScore, &item.CreatedAt); err != nil {
		return nil, err
	}
	item.Tags = []string(tags)
	return &item, nil
}

func collectItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

// InMemorySource is an in-memory implementation of Source for testing.
// Thread-safe via RWMutex.
type InMemorySource struct {
	mu    sync.RWMutex
	items map[string]*Item
}

// NewInMemorySource creates a new in-memory catalog source.
func NewInMemorySource() *InMemorySource {
	return &InMemorySource{items: make(map[string]*Item)}
}

// AddItem adds an item to the catalog.
func (s *InMemorySource) AddItem(item *Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.items[item.ID] = &cp
}

func (s *InMemorySource) GetItem(_ context.Context, id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *InMemorySource) ListItems(_ context.Context) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]*Item, 0, len(s.items))
	for _, item := range s.items {
		cp := *item
		items = append(items, &cp)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *InMemorySource) ListItemsByTags(ctx context.Context, tags []string) ([]*Item, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	all, err := s.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	var matched []*Item
	for _, item := range all {
		for _, tag := range tags {
			if item.HasTag(tag) {
				matched = append(matched, item)
				break
			}
		}
	}
	return matched, nil
}

func (s *InMemorySource) ListHotItems(ctx context.Context, limit int) ([]*Item, error) {
	all, err := s.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].HotScore != all[j].HotScore {
			return all[i].HotScore > all[j].HotScore
		}
		return all[i].ID < all[j].ID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
