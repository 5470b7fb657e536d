package sqlite

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store owns the service database and hands out the repositories built on it.
type Store struct {
	db *sql.DB
}

// New opens a SQLite database, runs migrations, and returns a ready store.
func New(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: ":memory:" databases are per connection, and River
	// shares this handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return NewFromDB(db)
}

// NewFromDB wraps an existing database connection, runs migrations, and returns a ready store.
// Use this when the *sql.DB has been pre-configured (e.g., with otelsql instrumentation).
func NewFromDB(db *sql.DB) (*Store, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other adapters (e.g., river).
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Tenants() *TenantRepository           { return &TenantRepository{db: s.db} }
func (s *Store) Identity() *IdentityStore             { return &IdentityStore{db: s.db} }
func (s *Store) Queue() *QueueRepository              { return &QueueRepository{db: s.db} }
func (s *Store) Leases() *LeaseStore                  { return &LeaseStore{db: s.db} }
func (s *Store) Modules() *ModuleRepository           { return &ModuleRepository{db: s.db} }
func (s *Store) Entitlements() *EntitlementRepository { return &EntitlementRepository{db: s.db} }
func (s *Store) APIKeys() *APIKeyRepository           { return &APIKeyRepository{db: s.db} }
func (s *Store) Audit() *AuditLog                     { return &AuditLog{db: s.db} }
func (s *Store) Orders() *OrderLedger                 { return &OrderLedger{db: s.db} }

// Credentials returns a credential store that seals secrets with sealer
// before they are written.
func (s *Store) Credentials(sealer Sealer) *CredentialStore {
	return &CredentialStore{db: s.db, sealer: sealer}
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

// Fixed width so that stored timestamps compare correctly as text.
const timeFormat = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding json column: %w", err)
	}
	return string(b), nil
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("decoding json column: %w", err)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// uniqueColumn extracts the column named by a UNIQUE violation, e.g.
// "tenants.username" yields "username".
func uniqueColumn(err error) string {
	msg := err.Error()
	i := strings.Index(msg, "UNIQUE constraint failed: ")
	if i < 0 {
		return ""
	}
	col := msg[i+len("UNIQUE constraint failed: "):]
	if j := strings.IndexAny(col, " ,)"); j >= 0 {
		col = col[:j]
	}
	if k := strings.LastIndexByte(col, '.'); k >= 0 {
		col = col[k+1:]
	}
	return col
}
