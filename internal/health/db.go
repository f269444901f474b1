package health

import (
	"context"
	"database/sql"
)

// DBChecker reports whether the Postgres instance backing the catalog,
// impression and experiment stores is reachable.
type DBChecker struct {
	db *sql.DB
}

func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck pings the database; the context bounds the wait.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}
