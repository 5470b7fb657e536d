package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

//go:embed baseline/tenant.sql
var baselineSchema string

// FileProvisioner implements domain.DatabaseProvisioner with one SQLite
// file per tenant under dataDir. It suits development and single-node
// deployments; SQLite has no users, so the returned credential only names
// the file's owner.
type FileProvisioner struct {
	dataDir   string
	backupDir string
	now       func() time.Time
}

var _ domain.DatabaseProvisioner = (*FileProvisioner)(nil)

// NewFileProvisioner creates the data and backup directories if needed.
func NewFileProvisioner(dataDir, backupDir string) (*FileProvisioner, error) {
	for _, dir := range []string{dataDir, backupDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return &FileProvisioner{dataDir: dataDir, backupDir: backupDir, now: time.Now}, nil
}

func (p *FileProvisioner) path(name string) string {
	return filepath.Join(p.dataDir, domain.SanitizeDatabaseName(name)+".db")
}

// CreateDatabase creates the tenant file and imports the baseline schema.
// A half-created file is removed before the error is returned.
func (p *FileProvisioner) CreateDatabase(ctx context.Context, name, username string) (domain.DatabaseCredentials, error) {
	name = domain.SanitizeDatabaseName(name)
	if username == "" {
		username = domain.DatabaseUser(name)
	}
	path := p.path(name)

	if _, err := os.Stat(path); err == nil {
		return domain.DatabaseCredentials{}, fmt.Errorf("database %s already exists", name)
	}

	password, err := domain.GeneratePassword(domain.DatabasePasswordLen)
	if err != nil {
		return domain.DatabaseCredentials{}, err
	}

	if err := importBaseline(ctx, path); err != nil {
		removeDatabaseFiles(path)
		return domain.DatabaseCredentials{}, err
	}

	return domain.DatabaseCredentials{Database: name, Username: username, Password: password}, nil
}

func importBaseline(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening tenant database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, baselineSchema); err != nil {
		return fmt.Errorf("importing baseline schema: %w", err)
	}
	return nil
}

// DestroyDatabase removes the tenant file and its journal files. Removing a
// database that does not exist is not an error.
func (p *FileProvisioner) DestroyDatabase(_ context.Context, name, _ string) error {
	return removeDatabaseFiles(p.path(name))
}

func removeDatabaseFiles(path string) error {
	for _, f := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", f, err)
		}
	}
	return nil
}

// Backup writes a consistent copy of the tenant database to
// <backupDir>/<name>_<timestamp>.db and returns its path.
func (p *FileProvisioner) Backup(ctx context.Context, name string) (string, error) {
	name = domain.SanitizeDatabaseName(name)
	path := p.path(name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", domain.ErrDatabaseNotFound
		}
		return "", fmt.Errorf("checking database: %w", err)
	}

	dest := filepath.Join(p.backupDir, fmt.Sprintf("%s_%s.db", name, p.now().UTC().Format("2006-01-02_15-04-05")))

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return "", fmt.Errorf("opening tenant database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return "", fmt.Errorf("backing up %s: %w", name, err)
	}
	return dest, nil
}

// Size returns the size of the tenant database file in bytes.
func (p *FileProvisioner) Size(_ context.Context, name string) (int64, error) {
	info, err := os.Stat(p.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, domain.ErrDatabaseNotFound
		}
		return 0, fmt.Errorf("checking database: %w", err)
	}
	return info.Size(), nil
}
