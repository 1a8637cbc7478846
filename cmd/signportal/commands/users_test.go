package commands

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signportal/signportal/internal/store"
)

// seedUsersSite builds a site directory with a sqlite store holding the
// given users, newest registered last.
func seedUsersSite(t *testing.T, names ...string) string {
	t.Helper()
	dir := writeSite(t, map[string]string{
		"signportal.yaml": "database:\n  driver: sqlite\n  path: users.db\n",
	})

	st, err := store.Open("sqlite", filepath.Join(dir, "users.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	for _, name := range names {
		u := &store.User{
			Name:         name,
			Email:        strings.ToLower(name) + "@example.com",
			PasswordHash: "deadbeef",
			PasswordSalt: "cafe",
			Role:         "user",
		}
		if err := st.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("Failed to seed user %s: %v", name, err)
		}
	}
	return dir
}

func TestUsersCommandTable(t *testing.T) {
	dir := seedUsersSite(t, "Ada", "Grace")

	var err error
	out := captureStdout(t, func() {
		err = UsersCommand([]string{dir})
	})
	if err != nil {
		t.Fatalf("UsersCommand failed: %v", err)
	}

	if !strings.Contains(out, "2 user(s)") {
		t.Errorf("Expected row count, got:\n%s", out)
	}
	for _, want := range []string{"id", "email", "ada@example.com", "grace@example.com"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in table output, got:\n%s", want, out)
		}
	}
}

func TestUsersCommandJSON(t *testing.T) {
	dir := seedUsersSite(t, "Ada", "Grace")

	var err error
	out := captureStdout(t, func() {
		err = UsersCommand([]string{dir, "--json"})
	})
	if err != nil {
		t.Fatalf("UsersCommand failed: %v", err)
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("Output is not JSON: %v\n%s", err, out)
	}
	if len(rows) != 2 {
		t.Fatalf("Row count = %d, want 2", len(rows))
	}

	// Newest first; same-second inserts break ties by id
	if got := rows[0]["email"]; got != "grace@example.com" {
		t.Errorf("First row email = %v, want grace@example.com", got)
	}
	for _, row := range rows {
		for _, field := range []string{"id", "name", "email", "role", "created_at"} {
			if _, ok := row[field]; !ok {
				t.Errorf("Row missing field %q: %v", field, row)
			}
		}
		if _, ok := row["password_hash"]; ok {
			t.Error("Password hash must not appear in output")
		}
	}
}

func TestUsersCommandLimit(t *testing.T) {
	dir := seedUsersSite(t, "Ada", "Grace", "Carol")

	var err error
	out := captureStdout(t, func() {
		err = UsersCommand([]string{dir, "--json", "--limit=2"})
	})
	if err != nil {
		t.Fatalf("UsersCommand failed: %v", err)
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("Output is not JSON: %v\n%s", err, out)
	}
	if len(rows) != 2 {
		t.Errorf("Row count = %d, want 2", len(rows))
	}
}

func TestUsersCommandEmptyStore(t *testing.T) {
	dir := seedUsersSite(t)

	var err error
	out := captureStdout(t, func() {
		err = UsersCommand([]string{dir})
	})
	if err != nil {
		t.Fatalf("UsersCommand failed: %v", err)
	}
	if !strings.Contains(out, "No users registered.") {
		t.Errorf("Expected empty-store message, got:\n%s", out)
	}
}

func TestUsersCommandInvalidLimit(t *testing.T) {
	dir := seedUsersSite(t)

	err := UsersCommand([]string{dir, "--limit=lots"})
	if err == nil {
		t.Fatal("Expected error for invalid limit")
	}
	if !strings.Contains(err.Error(), "invalid limit") {
		t.Errorf("Expected 'invalid limit' error, got: %v", err)
	}
}

func TestUsersCommandTruncatesLongValues(t *testing.T) {
	longName := strings.Repeat("a", maxColumnWidth+10)
	dir := seedUsersSite(t, longName)

	var err error
	out := captureStdout(t, func() {
		err = UsersCommand([]string{dir})
	})
	if err != nil {
		t.Fatalf("UsersCommand failed: %v", err)
	}

	if strings.Contains(out, longName) {
		t.Error("Expected long value to be truncated")
	}
	if !strings.Contains(out, "...") {
		t.Errorf("Expected ellipsis in truncated output, got:\n%s", out)
	}
}

func TestTruncateString(t *testing.T) {
	short := "short"
	if got := truncateString(short); got != short {
		t.Errorf("truncateString(%q) = %q, want unchanged", short, got)
	}

	long := strings.Repeat("x", maxColumnWidth*2)
	got := truncateString(long)
	if len(got) != maxColumnWidth {
		t.Errorf("Truncated length = %d, want %d", len(got), maxColumnWidth)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("Truncated value should end with ellipsis, got %q", got)
	}
}

func TestOutputTableColumnOrder(t *testing.T) {
	out := captureStdout(t, func() {
		if err := outputTable([]map[string]interface{}{
			{"name": "Ada", "id": int64(1), "email": "ada@example.com"},
		}); err != nil {
			t.Errorf("outputTable failed: %v", err)
		}
	})

	header := strings.SplitN(out, "\n", 2)[0]
	fields := strings.Split(header, "|")
	if len(fields) != 3 {
		t.Fatalf("Header column count = %d, want 3: %q", len(fields), header)
	}
	if strings.TrimSpace(fields[0]) != "id" {
		t.Errorf("First column = %q, want id", strings.TrimSpace(fields[0]))
	}
	if strings.TrimSpace(fields[1]) != "email" {
		t.Errorf("Second column = %q, want email", strings.TrimSpace(fields[1]))
	}
}
