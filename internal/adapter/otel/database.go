package otel

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// controlPlanePragmas run on the control-plane database before it is handed
// out. River and goose share the same handle.
var controlPlanePragmas = []struct{ name, stmt string }{
	{"WAL mode", "PRAGMA journal_mode=WAL"},
	{"busy timeout", "PRAGMA busy_timeout=5000"},
	{"foreign keys", "PRAGMA foreign_keys=ON"},
}

// OpenDB opens the control-plane SQLite database with every statement traced
// and pool statistics exported as metrics.
func OpenDB(path string) (*sql.DB, error) {
	attrs := []attribute.KeyValue{semconv.DBSystemSqlite, semconv.DBNamespace(filepath.Base(path))}

	db, err := otelsql.Open("sqlite", path, otelsql.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("opening instrumented database: %w", err)
	}

	// One connection: the job queue writes to the same file and SQLite
	// allows a single writer.
	db.SetMaxOpenConns(1)

	for _, p := range controlPlanePragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting %s: %w", p.name, err)
		}
	}

	if _, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(attrs...)); err != nil {
		db.Close()
		return nil, fmt.Errorf("registering db stats metrics: %w", err)
	}
	return db, nil
}
