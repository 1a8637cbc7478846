// Package store persists registered portal users. Two drivers exist: a
// pure-Go SQLite store for single-host deployments and a PostgreSQL store
// for shared ones. Both enforce the same schema and the same semantics.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Valid account roles. The role is stored with the user but never enforced
// anywhere; access control is out of scope for the portal.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// createdAtLayout is the canonical created_at encoding, UTC without zone.
// Both drivers store it as TEXT so ordering and comparison behave the same.
const createdAtLayout = "2006-01-02 15:04:05"

// ErrDuplicateEmail is returned by CreateUser when the email is taken.
var ErrDuplicateEmail = errors.New("email already registered")

// User is a registered account.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string // hex PBKDF2 hash; empty in listings
	PasswordSalt string // hex salt; empty in listings
	Role         string
	CreatedAt    time.Time
}

// Store is the persistence interface the server and CLI work against.
type Store interface {
	// CreateUser inserts the user and fills in ID and CreatedAt.
	// Returns ErrDuplicateEmail when the email is already registered.
	CreateUser(ctx context.Context, u *User) error

	// ListUsers returns users newest first. A limit <= 0 means no limit.
	// Password hash and salt are never included.
	ListUsers(ctx context.Context, limit int) ([]User, error)

	// CountUsersSince counts users created strictly after the given time.
	CountUsersSince(ctx context.Context, since time.Time) (int, error)

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Open opens the store for the given driver. The dsn is a file path for
// sqlite and a connection string for postgres.
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s (valid drivers: sqlite, postgres)", driver)
	}
}

// Registration is a signup request before hashing and persistence.
type Registration struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// Normalize trims the name, lowercases the email, and defaults the role.
// The password is taken as-is.
func (r *Registration) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Role = strings.ToLower(strings.TrimSpace(r.Role))
	if r.Role == "" {
		r.Role = RoleUser
	}
}

// Validate checks a normalized registration. The returned error carries one
// visitor-facing message per problem, each naming its form field.
func (r Registration) Validate() error {
	var fields []*FieldError
	if r.Name == "" {
		fields = append(fields, &FieldError{Field: "name", Message: "Name is required."})
	}
	if r.Email == "" {
		fields = append(fields, &FieldError{Field: "email", Message: "Email is required."})
	}
	if r.Password == "" {
		fields = append(fields, &FieldError{Field: "password", Message: "Password is required."})
	}
	if r.Role != RoleAdmin && r.Role != RoleUser {
		fields = append(fields, &FieldError{Field: "role", Message: "Role must be 'admin' or 'user'."})
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// FieldError names a form field a registration got wrong, with a
// visitor-facing message.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Message
}

// ValidationError lists what a registration is missing, in the order the
// fields appear on the form.
type ValidationError struct {
	Fields []*FieldError
}

// Error joins the messages with single spaces, ready to show a visitor.
func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, " ")
}

// Register runs the whole signup path: normalize, validate, hash, persist.
// Validation errors and ErrDuplicateEmail come back unwrapped so callers
// can turn them into visitor-facing notices.
func Register(ctx context.Context, st Store, reg Registration) (*User, error) {
	reg.Normalize()
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	hash, salt, err := HashPassword(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		Name:         reg.Name,
		Email:        reg.Email,
		PasswordHash: hash,
		PasswordSalt: salt,
		Role:         reg.Role,
	}
	if err := st.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// parseCreatedAt decodes a stored created_at value. RFC 3339 is accepted as
// a fallback for rows written by other tools.
func parseCreatedAt(s string) time.Time {
	if t, err := time.Parse(createdAtLayout, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
