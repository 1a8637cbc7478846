package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	user, err := Register(ctx, s, Registration{
		Name:     "Ada Lovelace",
		Email:    "ada@example.com",
		Password: "s3cret",
		Role:     "admin",
	})
	require.NoError(t, err)

	assert.NotZero(t, user.ID)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, RoleAdmin, user.Role)
	assert.False(t, user.CreatedAt.IsZero())
	assert.True(t, VerifyPassword("s3cret", user.PasswordHash, user.PasswordSalt))

	users, err := s.ListUsers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Ada Lovelace", users[0].Name)
	assert.Equal(t, "ada@example.com", users[0].Email)

	// Listings never carry password material.
	assert.Empty(t, users[0].PasswordHash)
	assert.Empty(t, users[0].PasswordSalt)
}

func TestRegisterNormalizes(t *testing.T) {
	s := openTestStore(t)

	user, err := Register(context.Background(), s, Registration{
		Name:     "  Grace Hopper  ",
		Email:    "  Grace@Example.COM ",
		Password: "pw",
		Role:     "",
	})
	require.NoError(t, err)

	assert.Equal(t, "Grace Hopper", user.Name)
	assert.Equal(t, "grace@example.com", user.Email)
	assert.Equal(t, RoleUser, user.Role, "empty role defaults to user")
}

func TestRegisterValidation(t *testing.T) {
	s := openTestStore(t)

	tests := []struct {
		name       string
		reg        Registration
		wantMsg    string
		wantFields []string
	}{
		{
			name:       "everything missing",
			reg:        Registration{},
			wantMsg:    "Name is required. Email is required. Password is required.",
			wantFields: []string{"name", "email", "password"},
		},
		{
			name:       "missing name",
			reg:        Registration{Email: "a@b.c", Password: "pw"},
			wantMsg:    "Name is required.",
			wantFields: []string{"name"},
		},
		{
			name:       "missing email",
			reg:        Registration{Name: "A", Password: "pw"},
			wantMsg:    "Email is required.",
			wantFields: []string{"email"},
		},
		{
			name:       "missing password",
			reg:        Registration{Name: "A", Email: "a@b.c"},
			wantMsg:    "Password is required.",
			wantFields: []string{"password"},
		},
		{
			name:       "bad role",
			reg:        Registration{Name: "A", Email: "a@b.c", Password: "pw", Role: "superadmin"},
			wantMsg:    "Role must be 'admin' or 'user'.",
			wantFields: []string{"role"},
		},
		{
			name:       "whitespace-only name",
			reg:        Registration{Name: "   ", Email: "a@b.c", Password: "pw"},
			wantMsg:    "Name is required.",
			wantFields: []string{"name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Register(context.Background(), s, tt.reg)
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantMsg, verr.Error())

			fields := make([]string, len(verr.Fields))
			for i, f := range verr.Fields {
				fields[i] = f.Field
			}
			assert.Equal(t, tt.wantFields, fields)
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := Register(ctx, s, Registration{Name: "A", Email: "dup@example.com", Password: "pw"})
	require.NoError(t, err)

	// Same address, different case: normalization makes it a duplicate.
	_, err = Register(ctx, s, Registration{Name: "B", Email: "DUP@example.com", Password: "pw"})
	require.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestListUsersOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, email := range []string{"one@x.com", "two@x.com", "three@x.com"} {
		_, err := Register(ctx, s, Registration{Name: "N", Email: email, Password: "pw"})
		require.NoError(t, err)
	}

	users, err := s.ListUsers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, users, 3)

	// Newest first, even when everything lands in the same second.
	assert.Equal(t, "three@x.com", users[0].Email)
	assert.Equal(t, "two@x.com", users[1].Email)
	assert.Equal(t, "one@x.com", users[2].Email)

	limited, err := s.ListUsers(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "three@x.com", limited[0].Email)
}

func TestCountUsersSince(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := Register(ctx, s, Registration{Name: "N", Email: "n@x.com", Password: "pw"})
	require.NoError(t, err)

	n, err := s.CountUsersSince(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountUsersSince(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestOpenDefaultsToSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.db")

	s, err := Open("", path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ping(context.Background()))
}

func TestParseCreatedAt(t *testing.T) {
	got := parseCreatedAt("2026-03-01 09:30:00")
	assert.Equal(t, 2026, got.Year())
	assert.Equal(t, 9, got.Hour())

	rfc := parseCreatedAt("2026-03-01T09:30:00Z")
	assert.Equal(t, got, rfc)

	assert.True(t, parseCreatedAt("garbage").IsZero())
}
