package commands

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	signportal "github.com/signportal/signportal"
	"github.com/signportal/signportal/internal/config"
	"github.com/signportal/signportal/internal/schedule"
)

// CheckCommand implements the check command. It validates the site
// configuration strictly (unknown keys are errors), parses every page and
// reports the bindings each one establishes.
func CheckCommand(args []string) error {
	// Parse arguments
	dir := "."
	verbose := false
	for _, arg := range args {
		if arg == "--verbose" || arg == "-v" {
			verbose = true
		} else if !strings.HasPrefix(arg, "-") {
			dir = arg
		}
	}

	// Check if directory exists
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("directory does not exist: %s", dir)
	}

	// Get absolute path
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	fmt.Printf("🔍 Checking portal site in: %s\n\n", absDir)

	var totalErrors int

	// Validate configuration first; page checks still run when it fails.
	cfg, configErrors := checkConfig(absDir)
	totalErrors += configErrors

	// Discover and validate all page files
	var totalPages int
	var validPages int
	var dialogPages int
	var fileErrors []fileCheckError

	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Skip directories
		if d.IsDir() {
			name := d.Name()
			// Skip hidden directories (starting with . or _)
			if path != absDir && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			// Skip common non-content directories
			skipDirs := []string{"node_modules", "vendor", "dist", "build", ".git"}
			for _, skip := range skipDirs {
				if name == skip {
					return filepath.SkipDir
				}
			}
			return nil
		}

		// Only process .md files
		if filepath.Ext(path) != ".md" {
			return nil
		}

		// Get relative path for display
		relPath, err := filepath.Rel(absDir, path)
		if err != nil {
			relPath = path
		}

		// Honor the same ignore patterns the server applies
		if matchesIgnore(relPath, cfg.Ignore) {
			return nil
		}

		totalPages++

		page, err := signportal.ParseFile(path)
		if err != nil {
			msg := err.Error()
			if perr, ok := err.(*signportal.ParseError); ok {
				msg = perr.Format()
			}
			fileErrors = append(fileErrors, fileCheckError{file: relPath, error: msg})
			totalErrors++
			return nil
		}

		validPages++
		if page.Bindings.Dialog != nil {
			dialogPages++
		}
		fmt.Printf("✓ %s (%s)\n", relPath, bindingSummary(page))
		if verbose {
			printBindings(page)
		}
		return nil
	})

	if err != nil {
		return fmt.Errorf("failed to walk directory: %w", err)
	}

	// Print errors
	if len(fileErrors) > 0 {
		fmt.Printf("\n")
		for _, fe := range fileErrors {
			fmt.Printf("✗ %s:\n", fe.file)
			// Indent error message
			lines := strings.Split(fe.error, "\n")
			for _, line := range lines {
				if line != "" {
					fmt.Printf("  %s\n", line)
				}
			}
			fmt.Printf("\n")
		}
	}

	if totalPages > 0 && dialogPages == 0 {
		fmt.Printf("\n⚠️  No page defines an account dialog - the signup UI will not render\n")
	}

	// Print summary
	separator := "\n" + strings.Repeat("─", 60) + "\n"
	fmt.Print(separator)
	fmt.Println("Summary:")
	fmt.Printf("  Total pages: %d\n", totalPages)
	fmt.Printf("  Valid:       %d\n", validPages)
	fmt.Printf("  Errors:      %d\n", totalErrors)
	fmt.Printf("\n")

	if totalErrors > 0 {
		fmt.Printf("✗ Check failed with %d error(s)\n", totalErrors)
		return fmt.Errorf("check failed")
	}

	fmt.Printf("✓ All checks passed!\n")
	return nil
}

type fileCheckError struct {
	file  string
	error string
}

// checkConfig validates the site configuration file if one exists. It
// returns a usable config either way (defaults on failure) so the page
// walk can still honor ignore patterns.
func checkConfig(absDir string) (*config.Config, int) {
	configPath := filepath.Join(absDir, "signportal.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configPath = filepath.Join(absDir, "config.yaml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			fmt.Printf("Config: none found (defaults apply)\n\n")
			return config.DefaultConfig(), 0
		}
	}

	fmt.Printf("Config: %s\n", filepath.Base(configPath))

	cfg, err := config.LoadStrict(configPath)
	if err != nil {
		fmt.Printf("✗ %v\n\n", err)
		return config.DefaultConfig(), 1
	}

	// LoadStrict cross-checks references; the schedule specs still need
	// a parse since the config package does not know the syntax.
	errors := 0
	for _, d := range cfg.Digests {
		if _, err := schedule.ParseEvery(d.Every); err != nil {
			fmt.Printf("✗ digest %q: %v\n", d.Name, err)
			errors++
		}
	}

	if errors == 0 {
		fmt.Printf("✓ config valid\n")
	}
	fmt.Printf("\n")
	return cfg, errors
}

// bindingSummary renders a one-line description of what a page wires up.
func bindingSummary(page *signportal.Page) string {
	var parts []string
	if page.Bindings.Dialog != nil {
		parts = append(parts, "dialog")
	}
	if n := len(page.Bindings.Triggers); n > 0 {
		parts = append(parts, fmt.Sprintf("%d trigger(s)", n))
	}
	if n := len(page.Bindings.Forms); n > 0 {
		parts = append(parts, fmt.Sprintf("%d form(s)", n))
	}
	if len(parts) == 0 {
		return "static"
	}
	return strings.Join(parts, ", ")
}

// printBindings lists every binding a page establishes, one per line.
func printBindings(page *signportal.Page) {
	b := page.Bindings
	if b.Dialog != nil {
		if b.Dialog.FormID != "" {
			fmt.Printf("    dialog  #%s (form #%s)\n", b.Dialog.ID, b.Dialog.FormID)
		} else {
			fmt.Printf("    dialog  #%s (no form)\n", b.Dialog.ID)
		}
	}
	for _, t := range b.Triggers {
		if t.TargetID != "" {
			fmt.Printf("    trigger #%s %s → #%s\n", t.ElementID, t.Kind, t.TargetID)
		} else {
			fmt.Printf("    trigger #%s %s\n", t.ElementID, t.Kind)
		}
	}
	for _, f := range b.Forms {
		fmt.Printf("    form    #%s %q\n", f.ID, f.Label)
	}
	if b.LoginSectionID != "" {
		fmt.Printf("    login   #%s\n", b.LoginSectionID)
	}
	if b.YearElementID != "" {
		fmt.Printf("    year    #%s\n", b.YearElementID)
	}
}

// matchesIgnore mirrors the server's discovery filter: patterns ending in
// "/**" match whole subtrees, everything else matches the relative path or
// its base name.
func matchesIgnore(relPath string, patterns []string) bool {
	rel := filepath.ToSlash(relPath)
	for _, pattern := range patterns {
		if strings.HasSuffix(pattern, "/**") {
			if strings.HasPrefix(rel, strings.TrimSuffix(pattern, "**")) {
				return true
			}
			continue
		}
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}
