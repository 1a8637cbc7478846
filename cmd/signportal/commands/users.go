package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/signportal/signportal/internal/config"
	"github.com/signportal/signportal/internal/store"
)

// defaultTimeout is the default context timeout for CLI operations
const defaultTimeout = 30 * time.Second

// maxColumnWidth is the maximum width for table columns before truncation
const maxColumnWidth = 50

// UsersCommand implements the users command. It opens the configured users
// store directly, without going through the server, so it works while the
// portal is down.
// Usage: signportal users [directory] [--json] [--limit=N]
func UsersCommand(args []string) error {
	// Parse arguments
	dir := "."
	format := "table"
	limit := 0
	var configPath string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--json" {
			format = "json"
		} else if strings.HasPrefix(arg, "--limit=") {
			raw := strings.TrimPrefix(arg, "--limit=")
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid limit: %s", raw)
			}
			limit = n
		} else if arg == "--config" || arg == "-c" {
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		} else if !strings.HasPrefix(arg, "-") {
			// Positional argument (directory)
			dir = arg
		}
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	// Load configuration
	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadFromDir(absDir)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve a relative sqlite path against the site directory, the same
	// way the serve command run from that directory would.
	dsn := cfg.Database.GetDSN()
	if cfg.Database.GetDriver() == "sqlite" && !filepath.IsAbs(dsn) {
		dsn = filepath.Join(absDir, dsn)
	}

	st, err := store.Open(cfg.Database.GetDriver(), dsn)
	if err != nil {
		return fmt.Errorf("failed to open users store: %w", err)
	}
	defer st.Close()

	// Create context with timeout to prevent hanging operations
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	users, err := st.ListUsers(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users registered.")
		return nil
	}

	rows := make([]map[string]interface{}, len(users))
	for i, u := range users {
		rows[i] = map[string]interface{}{
			"id":         u.ID,
			"name":       u.Name,
			"email":      u.Email,
			"role":       u.Role,
			"created_at": u.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		}
	}

	if format == "json" {
		return outputJSON(rows)
	}
	return outputTable(rows)
}

// outputJSON outputs rows as JSON
func outputJSON(data []map[string]interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// truncateString truncates a string to maxColumnWidth with ellipsis if needed
func truncateString(s string) string {
	if len(s) > maxColumnWidth {
		return s[:maxColumnWidth-3] + "..."
	}
	return s
}

// outputTable outputs rows as a formatted table
func outputTable(data []map[string]interface{}) error {
	if len(data) == 0 {
		return nil
	}

	// Get all columns from all rows
	columnSet := make(map[string]bool)
	for _, row := range data {
		for col := range row {
			columnSet[col] = true
		}
	}

	// Sort columns with id first
	columns := make([]string, 0, len(columnSet))
	for col := range columnSet {
		columns = append(columns, col)
	}
	sort.Slice(columns, func(i, j int) bool {
		// Put "id" first
		if columns[i] == "id" {
			return true
		}
		if columns[j] == "id" {
			return false
		}
		return columns[i] < columns[j]
	})

	// Calculate column widths
	widths := make(map[string]int)
	for _, col := range columns {
		widths[col] = len(col)
	}
	for _, row := range data {
		for col, val := range row {
			str := truncateString(fmt.Sprintf("%v", val))
			if len(str) > widths[col] {
				widths[col] = len(str)
			}
		}
	}

	// Print header
	var header strings.Builder
	var separator strings.Builder
	for i, col := range columns {
		if i > 0 {
			header.WriteString(" | ")
			separator.WriteString("-+-")
		}
		header.WriteString(fmt.Sprintf("%-*s", widths[col], col))
		separator.WriteString(strings.Repeat("-", widths[col]))
	}
	fmt.Println(header.String())
	fmt.Println(separator.String())

	// Print rows
	for _, row := range data {
		var line strings.Builder
		for i, col := range columns {
			if i > 0 {
				line.WriteString(" | ")
			}
			val := ""
			if v, ok := row[col]; ok {
				val = truncateString(fmt.Sprintf("%v", v))
			}
			line.WriteString(fmt.Sprintf("%-*s", widths[col], val))
		}
		fmt.Println(line.String())
	}

	fmt.Printf("\n%d user(s)\n", len(data))
	return nil
}
