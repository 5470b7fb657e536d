package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// TenantInput is the data needed to open a tenant account.
type TenantInput struct {
	FullName    string
	FirstName   string
	LastName    string
	Email       string
	Username    string
	Password    string
	AccountName string
	CompanyName string
	Phone       string
	Address     string
	Subdomain   string
}

// FieldError is a single failed rule. Conflict marks uniqueness failures.
type FieldError struct {
	Field    string
	Message  string
	Value    string
	Conflict bool
}

// ValidationResult collects every failed rule.
type ValidationResult struct {
	Errors []FieldError
}

// Valid reports whether no rule failed.
func (r ValidationResult) Valid() bool { return len(r.Errors) == 0 }

// Messages returns the human-readable reasons.
func (r ValidationResult) Messages() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.Message
	}
	return out
}

// Err converts the result into a ConflictError when a unique value is
// taken, a ValidationError for any other failure, or nil.
func (r ValidationResult) Err() error {
	for _, e := range r.Errors {
		if e.Conflict {
			return &domain.ConflictError{Field: e.Field, Value: e.Value}
		}
	}
	if len(r.Errors) > 0 {
		return &domain.ValidationError{Errors: r.Messages()}
	}
	return nil
}

func (r *ValidationResult) add(field, msg string) {
	r.Errors = append(r.Errors, FieldError{Field: field, Message: msg})
}

func (r *ValidationResult) conflict(field, value, msg string) {
	r.Errors = append(r.Errors, FieldError{Field: field, Message: msg, Value: value, Conflict: true})
}

var (
	usernamePattern  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
	subdomainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	nonDigits        = regexp.MustCompile(`[^0-9]`)
)

var reservedUsernames = set(
	"admin", "administrator", "root", "system", "wp-admin", "wordpress",
	"api", "www", "mail", "ftp", "smtp", "app", "dashboard", "login", "register",
)

var disposableDomains = set(
	"tempmail.com", "throwaway.email", "guerrillamail.com", "10minutemail.com",
	"mailinator.com", "trashmail.com", "yopmail.com", "fakeinbox.com", "maildrop.cc",
)

var commonPasswords = set(
	"123456", "password", "12345678", "qwerty", "123456789", "12345",
	"1234", "111111", "1234567", "dragon", "123123", "baseball",
	"iloveyou", "trustno1", "1234567890", "sunshine", "master", "welcome",
	"shadow", "ashley", "football", "jesus", "michael", "ninja",
	"mustang", "password1", "password123", "admin123", "letmein", "qwerty123",
	"welcome123", "changeme123",
)

func set(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}

// Validator checks tenant input against format, policy and uniqueness
// rules. Every rule runs; failures accumulate.
type Validator struct {
	identity domain.IdentityStore
	tenants  domain.TenantRepository
	suffix   string
	syntax   *validator.Validate
}

// NewValidator creates a validator. suffix is the configured subdomain suffix.
func NewValidator(identity domain.IdentityStore, tenants domain.TenantRepository, suffix string) *Validator {
	return &Validator{
		identity: identity,
		tenants:  tenants,
		suffix:   suffix,
		syntax:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Validate runs every rule for a new account. The error is non-nil only
// when a uniqueness lookup could not be performed.
func (v *Validator) Validate(ctx context.Context, in TenantInput) (ValidationResult, error) {
	var r ValidationResult

	if strings.TrimSpace(in.FullName) == "" && strings.TrimSpace(in.FirstName+in.LastName) == "" {
		r.add("full_name", "full name is required")
	}

	if err := v.checkUsername(ctx, &r, in.Username, true); err != nil {
		return r, err
	}
	if err := v.checkEmail(ctx, &r, "email", in.Email, true); err != nil {
		return r, err
	}
	checkPassword(&r, in.Password)
	checkPhone(&r, in.Phone)
	checkCompany(&r, in.CompanyName)
	if err := v.checkSubdomain(ctx, &r, v.subdomainFor(in.Username, in.Subdomain)); err != nil {
		return r, err
	}

	return r, nil
}

// ValidateForOwner runs the tenant-side rules for an account opened on
// behalf of an existing identity. Identity uniqueness is not checked.
func (v *Validator) ValidateForOwner(ctx context.Context, username string, in TenantInput) (ValidationResult, error) {
	var r ValidationResult

	if _, err := v.tenants.GetByUsername(ctx, username); err == nil {
		r.conflict("username", username, fmt.Sprintf("username %q already has a tenant", username))
	} else if !errors.Is(err, domain.ErrTenantNotFound) {
		return r, fmt.Errorf("checking tenant username: %w", err)
	}

	checkPhone(&r, in.Phone)
	checkCompany(&r, in.CompanyName)
	if in.Email != "" {
		if err := v.checkEmail(ctx, &r, "billing_email", in.Email, false); err != nil {
			return r, err
		}
	}
	if err := v.checkSubdomain(ctx, &r, v.subdomainFor(username, in.Subdomain)); err != nil {
		return r, err
	}

	return r, nil
}

// ValidateProfile checks the profile fields an update may change.
func (v *Validator) ValidateProfile(ctx context.Context, companyName, phone, billingEmail *string) (ValidationResult, error) {
	var r ValidationResult
	if companyName != nil {
		checkCompany(&r, *companyName)
	}
	if phone != nil {
		checkPhone(&r, *phone)
	}
	if billingEmail != nil && *billingEmail != "" {
		if err := v.checkEmail(ctx, &r, "billing_email", *billingEmail, false); err != nil {
			return r, err
		}
	}
	return r, nil
}

// UsernameCheck describes whether a username can be used for a new account.
type UsernameCheck struct {
	Available bool
	Errors    []string
	Subdomain string
}

// CheckUsername reports whether username is available and the subdomain
// it would receive.
func (v *Validator) CheckUsername(ctx context.Context, username string) (UsernameCheck, error) {
	var r ValidationResult
	if err := v.checkUsername(ctx, &r, username, true); err != nil {
		return UsernameCheck{}, err
	}
	sub := v.subdomainFor(username, "")
	if err := v.checkSubdomain(ctx, &r, sub); err != nil {
		return UsernameCheck{}, err
	}
	return UsernameCheck{
		Available: r.Valid(),
		Errors:    r.Messages(),
		Subdomain: sub + v.suffix,
	}, nil
}

// SuggestUsernames returns up to n available usernames derived from base.
func (v *Validator) SuggestUsernames(ctx context.Context, base string, n int) ([]string, error) {
	stem := domain.Slugify(base)
	if stem == "" || !usernamePattern.MatchString(stem) {
		stem = "tenant-" + stem
	}

	var out []string
	for i := 1; len(out) < n && i <= n*10; i++ {
		candidate := fmt.Sprintf("%s%d", stem, i)
		check, err := v.CheckUsername(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if check.Available {
			out = append(out, candidate)
		}
	}
	return out, nil
}

// subdomainFor returns the subdomain label requested, or the one derived
// from username. The configured suffix is stripped.
func (v *Validator) subdomainFor(username, requested string) string {
	label := strings.ToLower(strings.TrimSpace(requested))
	if label == "" {
		return domain.Slugify(username)
	}
	if v.suffix != "" {
		label = strings.TrimSuffix(label, strings.ToLower(v.suffix))
	}
	return label
}

func (v *Validator) checkUsername(ctx context.Context, r *ValidationResult, username string, checkIdentity bool) error {
	if username == "" {
		r.add("username", "username is required")
		return nil
	}

	n := utf8.RuneCountInString(username)
	if n < 3 || n > 60 {
		r.add("username", "username must be between 3 and 60 characters")
	}
	if !usernamePattern.MatchString(username) {
		r.add("username", "username must start with a letter and contain only letters, numbers, hyphens and underscores")
	}
	if _, reserved := reservedUsernames[strings.ToLower(username)]; reserved {
		r.add("username", fmt.Sprintf("username %q is reserved", username))
	}

	if checkIdentity {
		exists, err := v.identity.LoginExists(ctx, username)
		if err != nil {
			return fmt.Errorf("checking username: %w", err)
		}
		if exists {
			r.conflict("username", username, fmt.Sprintf("username %q is already registered", username))
			return nil
		}
	}

	if _, err := v.tenants.GetByUsername(ctx, username); err == nil {
		r.conflict("username", username, fmt.Sprintf("username %q already has a tenant", username))
	} else if !errors.Is(err, domain.ErrTenantNotFound) {
		return fmt.Errorf("checking tenant username: %w", err)
	}
	return nil
}

func (v *Validator) checkEmail(ctx context.Context, r *ValidationResult, field, email string, checkIdentity bool) error {
	if email == "" {
		r.add(field, "email is required")
		return nil
	}
	if err := v.syntax.Var(email, "email"); err != nil {
		r.add(field, fmt.Sprintf("%q is not a valid email address", email))
		return nil
	}

	if at := strings.LastIndexByte(email, '@'); at >= 0 {
		if _, disposable := disposableDomains[strings.ToLower(email[at+1:])]; disposable {
			r.add(field, "disposable email addresses are not allowed")
		}
	}

	if checkIdentity {
		exists, err := v.identity.EmailExists(ctx, email)
		if err != nil {
			return fmt.Errorf("checking email: %w", err)
		}
		if exists {
			r.conflict(field, email, fmt.Sprintf("email %q is already registered", email))
		}
	}
	return nil
}

func (v *Validator) checkSubdomain(ctx context.Context, r *ValidationResult, label string) error {
	n := len(label)
	if n < 3 || n > 63 {
		r.add("subdomain", "subdomain must be between 3 and 63 characters")
		return nil
	}
	if !subdomainPattern.MatchString(label) {
		r.add("subdomain", "subdomain may contain only lowercase letters, numbers and hyphens, and cannot start or end with a hyphen")
		return nil
	}

	full := label + v.suffix
	if _, err := v.tenants.GetBySubdomain(ctx, full); err == nil {
		r.conflict("subdomain", full, fmt.Sprintf("subdomain %q is already taken", full))
	} else if !errors.Is(err, domain.ErrTenantNotFound) {
		return fmt.Errorf("checking subdomain: %w", err)
	}
	return nil
}

func checkPassword(r *ValidationResult, password string) {
	if password == "" {
		r.add("password", "password is required")
		return
	}

	n := utf8.RuneCountInString(password)
	if n < 12 {
		r.add("password", "password must be at least 12 characters long")
	}
	if n > 128 {
		r.add("password", "password must be at most 128 characters long")
	}
	if passwordStrength(password) < 3 {
		r.add("password", "password must contain at least three of: lowercase letters, uppercase letters, numbers, symbols")
	}
	if _, common := commonPasswords[strings.ToLower(password)]; common {
		r.add("password", "password is too common")
	}
}

// passwordStrength counts the character classes present in password.
func passwordStrength(password string) int {
	var lower, upper, digit, symbol bool
	for _, c := range password {
		switch {
		case unicode.IsLower(c):
			lower = true
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsDigit(c):
			digit = true
		default:
			symbol = true
		}
	}

	score := 0
	for _, present := range []bool{lower, upper, digit, symbol} {
		if present {
			score++
		}
	}
	return score
}

func checkPhone(r *ValidationResult, phone string) {
	if phone == "" {
		return
	}
	digits := nonDigits.ReplaceAllString(phone, "")
	if len(digits) < 8 || len(digits) > 15 {
		r.add("phone", "phone number must have between 8 and 15 digits")
	}
}

func checkCompany(r *ValidationResult, company string) {
	if company == "" {
		return
	}
	if utf8.RuneCountInString(company) > 255 {
		r.add("company_name", "company name must be at most 255 characters")
	}
	lower := strings.ToLower(company)
	for _, bad := range []string{"<script", "<iframe", "javascript:"} {
		if strings.Contains(lower, bad) {
			r.add("company_name", "company name contains forbidden content")
			return
		}
	}
}
