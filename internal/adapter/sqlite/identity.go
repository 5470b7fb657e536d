package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// IdentityStore implements domain.IdentityStore on the users table.
// Passwords are stored as bcrypt hashes.
type IdentityStore struct {
	db *sql.DB
}

var _ domain.IdentityStore = (*IdentityStore)(nil)

const userColumns = `id, login, email, display_name, first_name, last_name, role, password_hash, created_at`

func (s *IdentityStore) CreateUser(ctx context.Context, u domain.NewUser) (domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hashing password: %w", err)
	}

	role := u.Role
	if role == "" {
		role = "subscriber"
	}
	displayName := u.DisplayName
	if displayName == "" {
		displayName = u.Login
	}
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (login, email, display_name, first_name, last_name, role, password_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Login, u.Email, displayName, u.FirstName, u.LastName, role, string(hash), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			if uniqueColumn(err) == "email" {
				return domain.User{}, &domain.ConflictError{Field: "email", Value: u.Email}
			}
			return domain.User{}, &domain.ConflictError{Field: "username", Value: u.Login}
		}
		return domain.User{}, fmt.Errorf("inserting user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.User{}, fmt.Errorf("reading user id: %w", err)
	}

	return domain.User{
		ID:           id,
		Login:        u.Login,
		Email:        u.Email,
		DisplayName:  displayName,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Role:         role,
		PasswordHash: string(hash),
		CreatedAt:    parseTime(formatTime(now)),
	}, nil
}

func (s *IdentityStore) GetUser(ctx context.Context, id int64) (domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *IdentityStore) GetUserByLogin(ctx context.Context, login string) (domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE login = ?`, login))
}

func (s *IdentityStore) DeleteUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return requireRow(result, domain.ErrUserNotFound)
}

func (s *IdentityStore) LoginExists(ctx context.Context, login string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE login = ?)`, login)
}

func (s *IdentityStore) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = ?)`, email)
}

// VerifyPassword returns the user when password matches the stored hash.
// A wrong password is an *domain.AuthError; an unknown login is
// domain.ErrUserNotFound.
func (s *IdentityStore) VerifyPassword(ctx context.Context, login, password string) (domain.User, error) {
	u, err := s.GetUserByLogin(ctx, login)
	if err != nil {
		return domain.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, &domain.AuthError{Reason: "password mismatch"}
	}
	return u, nil
}

func (s *IdentityStore) exists(ctx context.Context, query string, arg any) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking user: %w", err)
	}
	return ok, nil
}

func scanUser(row scanner) (domain.User, error) {
	var u domain.User
	var createdAt string
	err := row.Scan(&u.ID, &u.Login, &u.Email, &u.DisplayName, &u.FirstName, &u.LastName,
		&u.Role, &u.PasswordHash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("scanning user: %w", err)
	}
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}
