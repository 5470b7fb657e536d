// Package mysql provisions tenant databases on a MySQL server. Every tenant
// gets its own schema and a credential whose grants are confined to it.
package mysql

import (
	"bufio"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	drivermysql "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

//go:embed schema/baseline.sql
var baselineSchema string

// MySQL errors raised by CREATE DATABASE when the schema exists and by
// CREATE USER when the account exists.
const (
	errDatabaseExists = 1007
	errCannotUser     = 1396
)

// tenantPrivileges are granted on the tenant schema and nothing else.
const tenantPrivileges = "SELECT, INSERT, UPDATE, DELETE, CREATE, DROP, INDEX, ALTER"

// Open returns a *sqlx.DB for the administrative connection. The pool is
// pinged before returning so bootstrap fails fast.
func Open(dsn string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mysql: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}
	return db, nil
}

// Options configures a Provisioner.
type Options struct {
	// GrantHost is the host part of created accounts. Defaults to "localhost".
	GrantHost string
	BackupDir string
	Logger    *zap.Logger
	Now       func() time.Time
}

// Provisioner implements domain.DatabaseProvisioner on a MySQL server,
// using an administrative connection allowed to create schemas and users.
type Provisioner struct {
	db        *sqlx.DB
	grantHost string
	backupDir string
	logger    *zap.Logger
	now       func() time.Time
}

var _ domain.DatabaseProvisioner = (*Provisioner)(nil)

// New creates a provisioner on db. The backup directory is created if needed.
func New(db *sqlx.DB, opts Options) (*Provisioner, error) {
	if opts.GrantHost == "" {
		opts.GrantHost = "localhost"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BackupDir != "" {
		if err := os.MkdirAll(opts.BackupDir, 0o750); err != nil {
			return nil, fmt.Errorf("creating backup dir: %w", err)
		}
	}
	return &Provisioner{
		db:        db,
		grantHost: opts.GrantHost,
		backupDir: opts.BackupDir,
		logger:    opts.Logger,
		now:       opts.Now,
	}, nil
}

// CreateDatabase creates the schema and its scoped account, then imports the
// baseline schema. Any failure drops what was created so far.
func (p *Provisioner) CreateDatabase(ctx context.Context, name, username string) (domain.DatabaseCredentials, error) {
	name = domain.SanitizeDatabaseName(name)
	if username == "" {
		username = domain.DatabaseUser(name)
	} else {
		username = domain.DatabaseUser(username)
	}

	password, err := domain.GeneratePassword(domain.DatabasePasswordLen)
	if err != nil {
		return domain.DatabaseCredentials{}, err
	}

	_, err = p.db.ExecContext(ctx, fmt.Sprintf(
		"CREATE DATABASE `%s` DEFAULT CHARACTER SET utf8mb4 DEFAULT COLLATE utf8mb4_unicode_ci", name))
	if err != nil {
		var myErr *drivermysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == errDatabaseExists {
			return domain.DatabaseCredentials{}, fmt.Errorf("database %s already exists", name)
		}
		return domain.DatabaseCredentials{}, fmt.Errorf("creating database %s: %w", name, err)
	}

	if err := p.createUser(ctx, name, username, password); err != nil {
		// The account may belong to another tenant, so only the schema goes.
		p.compensate(name, "")
		return domain.DatabaseCredentials{}, err
	}
	if err := p.grant(ctx, name, username); err != nil {
		p.compensate(name, username)
		return domain.DatabaseCredentials{}, err
	}
	if err := p.importBaseline(ctx, name); err != nil {
		p.compensate(name, username)
		return domain.DatabaseCredentials{}, err
	}

	p.logger.Info("tenant database created", zap.String("database", name), zap.String("username", username))
	return domain.DatabaseCredentials{Database: name, Username: username, Password: password}, nil
}

// createUser fails when the account already exists. Reusing it would hand
// one tenant's credential a second tenant's schema.
func (p *Provisioner) createUser(ctx context.Context, name, username, password string) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf("CREATE USER %s IDENTIFIED BY '%s'", p.account(username), password))
	if err != nil {
		var myErr *drivermysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == errCannotUser {
			return fmt.Errorf("creating user for %s: account %s already exists", name, username)
		}
		return fmt.Errorf("creating user for %s: %w", name, err)
	}
	return nil
}

func (p *Provisioner) grant(ctx context.Context, name, username string) error {
	statements := []struct {
		step  string
		query string
	}{
		{"granting privileges", fmt.Sprintf("GRANT %s ON `%s`.* TO %s", tenantPrivileges, name, p.account(username))},
		{"flushing privileges", "FLUSH PRIVILEGES"},
	}
	for _, s := range statements {
		if _, err := p.db.ExecContext(ctx, s.query); err != nil {
			return fmt.Errorf("%s for %s: %w", s.step, name, err)
		}
	}
	return nil
}

// importBaseline runs the baseline statements on one pinned connection so
// that USE applies to all of them.
func (p *Provisioner) importBaseline(ctx context.Context, name string) error {
	conn, err := p.db.Connx(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("USE `%s`", name)); err != nil {
		return fmt.Errorf("selecting database %s: %w", name, err)
	}
	for _, stmt := range splitStatements(baselineSchema) {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("importing baseline schema into %s: %w", name, err)
		}
	}
	return nil
}

// compensate removes a half-created database, and its account unless
// username is empty. It runs on a fresh context so a cancelled request
// still cleans up.
func (p *Provisioner) compensate(name, username string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.drop(ctx, name, username); err != nil {
		p.logger.Error("dropping half-created database", zap.String("database", name), zap.Error(err))
	}
}

// DestroyDatabase drops the schema and its account. Both statements are
// IF EXISTS, so destroying twice is not an error.
func (p *Provisioner) DestroyDatabase(ctx context.Context, name, username string) error {
	name = domain.SanitizeDatabaseName(name)
	if username == "" {
		username = domain.DatabaseUser(name)
	} else {
		username = domain.DatabaseUser(username)
	}
	if err := p.drop(ctx, name, username); err != nil {
		return err
	}
	p.logger.Info("tenant database dropped", zap.String("database", name))
	return nil
}

func (p *Provisioner) drop(ctx context.Context, name, username string) error {
	if _, err := p.db.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", name)); err != nil {
		return fmt.Errorf("dropping database %s: %w", name, err)
	}
	if username != "" {
		if _, err := p.db.ExecContext(ctx, "DROP USER IF EXISTS "+p.account(username)); err != nil {
			return fmt.Errorf("dropping user %s: %w", username, err)
		}
	}
	if _, err := p.db.ExecContext(ctx, "FLUSH PRIVILEGES"); err != nil {
		return fmt.Errorf("flushing privileges: %w", err)
	}
	return nil
}

// Size returns data plus index length of every table in the schema.
func (p *Provisioner) Size(ctx context.Context, name string) (int64, error) {
	name = domain.SanitizeDatabaseName(name)
	if err := p.requireSchema(ctx, name); err != nil {
		return 0, err
	}
	var size int64
	err := p.db.GetContext(ctx, &size,
		`SELECT COALESCE(SUM(data_length + index_length), 0) FROM information_schema.TABLES WHERE table_schema = ?`, name)
	if err != nil {
		return 0, fmt.Errorf("measuring database %s: %w", name, err)
	}
	return size, nil
}

func (p *Provisioner) requireSchema(ctx context.Context, name string) error {
	var n int
	err := p.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM information_schema.SCHEMATA WHERE schema_name = ?`, name)
	if err != nil {
		return fmt.Errorf("checking database %s: %w", name, err)
	}
	if n == 0 {
		return domain.ErrDatabaseNotFound
	}
	return nil
}

func (p *Provisioner) account(username string) string {
	return fmt.Sprintf("'%s'@'%s'", username, p.grantHost)
}

func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if s := strings.TrimSpace(stmt); s != "" && !onlyComments(s) {
			out = append(out, s)
		}
	}
	return out
}

func onlyComments(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}

// Backup writes a logical dump of the schema to
// <backupDir>/<name>_<timestamp>.sql and returns its path.
func (p *Provisioner) Backup(ctx context.Context, name string) (string, error) {
	name = domain.SanitizeDatabaseName(name)
	if err := p.requireSchema(ctx, name); err != nil {
		return "", err
	}

	var tables []string
	if err := p.db.SelectContext(ctx, &tables,
		`SELECT table_name FROM information_schema.TABLES WHERE table_schema = ? ORDER BY table_name`, name); err != nil {
		return "", fmt.Errorf("listing tables of %s: %w", name, err)
	}

	now := p.now()
	path := filepath.Join(p.backupDir, fmt.Sprintf("%s_%s.sql", name, now.UTC().Format("2006-01-02_15-04-05")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating backup file: %w", err)
	}

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "-- Tenant database backup\n-- Database: %s\n-- Date: %s\n", name, now.UTC().Format(time.DateTime))
	for _, table := range tables {
		if err := p.dumpTable(ctx, w, name, table); err != nil {
			f.Close()
			os.Remove(path)
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing backup: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing backup: %w", err)
	}

	p.logger.Info("tenant database backed up", zap.String("database", name), zap.String("path", path))
	return path, nil
}

func (p *Provisioner) dumpTable(ctx context.Context, w *bufio.Writer, schema, table string) error {
	qualified := fmt.Sprintf("`%s`.`%s`", schema, strings.ReplaceAll(table, "`", "``"))

	var tbl, ddl string
	if err := p.db.QueryRowxContext(ctx, "SHOW CREATE TABLE "+qualified).Scan(&tbl, &ddl); err != nil {
		return fmt.Errorf("reading definition of %s: %w", table, err)
	}
	fmt.Fprintf(w, "\n\n%s;\n\n", ddl)

	rows, err := p.db.QueryxContext(ctx, "SELECT * FROM "+qualified)
	if err != nil {
		return fmt.Errorf("reading rows of %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return fmt.Errorf("scanning row of %s: %w", table, err)
		}
		literals := make([]string, len(values))
		for i, v := range values {
			literals[i] = sqlLiteral(v)
		}
		fmt.Fprintf(w, "INSERT INTO `%s` VALUES(%s);\n", table, strings.Join(literals, ","))
	}
	return rows.Err()
}

// sqlLiteral renders a scanned value as a MySQL literal.
func sqlLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return "'" + escapeString(string(x)) + "'"
	case string:
		return "'" + escapeString(x) + "'"
	case time.Time:
		return "'" + x.Format(time.DateTime) + "'"
	default:
		return fmt.Sprint(x)
	}
}

var escaper = strings.NewReplacer(
	"\\", "\\\\",
	"\x00", "\\0",
	"\n", "\\n",
	"\r", "\\r",
	"'", "\\'",
	"\"", "\\\"",
	"\x1a", "\\Z",
)

func escapeString(s string) string {
	return escaper.Replace(s)
}
