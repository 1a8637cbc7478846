package commands

import (
	"embed"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed all:templates
var templatesFS embed.FS

// validTemplates lists all available template types
var validTemplates = []string{
	"landing",
	"minimal",
}

// templateDescriptions provides help text for each template
var templateDescriptions = map[string]string{
	"landing": "Full landing page with demo form, testimonials strip and account dialog",
	"minimal": "Bare page with a hero and the account dialog",
}

// NewCommand implements the new command.
func NewCommand(args []string) error {
	flagSet := flag.NewFlagSet("new", flag.ContinueOnError)
	templateName := flagSet.String("template", "landing", "Template type: landing, minimal")
	showList := flagSet.Bool("list", false, "List available templates")

	// Custom usage
	flagSet.Usage = func() {
		fmt.Println("Usage: signportal new [options] <site-name>")
		fmt.Println()
		fmt.Println("Create a new portal site from a template.")
		fmt.Println()
		fmt.Println("Options:")
		flagSet.PrintDefaults()
		fmt.Println()
		fmt.Println("Templates:")
		for _, t := range validTemplates {
			fmt.Printf("  %-10s %s\n", t, templateDescriptions[t])
		}
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  signportal new acme                      # Create with landing template")
		fmt.Println("  signportal new acme --template=minimal   # Create with minimal template")
		fmt.Println("  signportal new --list                    # List available templates")
	}

	// Flags may follow the site name; the flag package stops at the first
	// positional, so partition before parsing.
	var flags, positional []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			flags = append(flags, arg)
		} else {
			positional = append(positional, arg)
		}
	}
	if err := flagSet.Parse(append(flags, positional...)); err != nil {
		return err
	}

	// Handle --list flag
	if *showList {
		fmt.Println("Available templates:")
		fmt.Println()
		for _, t := range validTemplates {
			fmt.Printf("  %-10s %s\n", t, templateDescriptions[t])
		}
		return nil
	}

	// Get site name from remaining args
	remainingArgs := flagSet.Args()
	if len(remainingArgs) < 1 {
		return fmt.Errorf("site name required\n\nUsage: signportal new [options] <site-name>\n\nRun 'signportal new --help' for more information")
	}

	siteName := remainingArgs[0]

	// Validate template name
	if !isValidTemplate(*templateName) {
		return fmt.Errorf("unknown template: %s\n\nAvailable templates: %s", *templateName, strings.Join(validTemplates, ", "))
	}

	// Validate site name
	if siteName == "" {
		return fmt.Errorf("site name cannot be empty")
	}
	if strings.Contains(siteName, " ") {
		return fmt.Errorf("site name cannot contain spaces")
	}

	// Check if directory already exists
	if _, err := os.Stat(siteName); !os.IsNotExist(err) {
		return fmt.Errorf("directory '%s' already exists", siteName)
	}

	// Create the site
	if err := createSite(siteName, *templateName); err != nil {
		return err
	}

	return nil
}

// isValidTemplate checks if a template name is valid
func isValidTemplate(name string) bool {
	for _, t := range validTemplates {
		if t == name {
			return true
		}
	}
	return false
}

// createSite creates a new site from a template
func createSite(siteName, templateName string) error {
	// Template data available in all templates
	data := map[string]string{
		"Title":        toTitle(siteName),
		"SiteName":     siteName,
		"TemplateName": templateName,
	}

	// Get the template directory path
	templateDir := fmt.Sprintf("templates/%s", templateName)

	// Walk the template directory and copy all files
	var files []string
	err := fs.WalkDir(templatesFS, templateDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read template directory: %w", err)
	}

	if len(files) == 0 {
		return fmt.Errorf("template '%s' has no files", templateName)
	}

	// Create site directory
	if err := os.MkdirAll(siteName, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Process each template file
	for _, templatePath := range files {
		if err := processTemplateFile(siteName, templateName, templatePath, data); err != nil {
			// Clean up on error
			os.RemoveAll(siteName)
			return err
		}
	}

	// Print success message
	printSuccessMessage(siteName, templateName)
	return nil
}

// processTemplateFile reads a template file and writes it to the site directory
func processTemplateFile(siteName, templateName, templatePath string, data map[string]string) error {
	// Read template content
	content, err := templatesFS.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("failed to read template %s: %w", templatePath, err)
	}

	// Calculate the relative path within the template
	templatePrefix := fmt.Sprintf("templates/%s/", templateName)
	relativePath := strings.TrimPrefix(templatePath, templatePrefix)

	// Determine output path
	outputPath := filepath.Join(siteName, relativePath)

	// Create parent directories if needed
	outputDir := filepath.Dir(outputPath)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", outputDir, err)
	}

	// Binary files (images, databases) are copied as-is
	if isBinaryFile(templatePath) {
		return os.WriteFile(outputPath, content, 0644)
	}

	// Scaffolding variables use [[.Var]] delimiters because page content
	// keeps {{ }} for its own strip row templates
	tmpl, err := template.New(filepath.Base(templatePath)).Delims("[[", "]]").Parse(string(content))
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", templatePath, err)
	}

	// Create output file
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", outputPath, err)
	}
	defer f.Close()

	// Execute template
	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write template %s: %w", templatePath, err)
	}

	return nil
}

// isBinaryFile checks if a file should be copied as-is without template
// processing. Scoped to file types that may appear in the bundled templates.
func isBinaryFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	binaryExts := []string{".png", ".jpg", ".jpeg", ".gif", ".ico", ".db", ".sqlite", ".wasm"}
	for _, e := range binaryExts {
		if ext == e {
			return true
		}
	}
	return false
}

// printSuccessMessage displays the site creation success message
func printSuccessMessage(siteName, templateName string) {
	fmt.Printf("✨ Created new %s site: %s\n\n", templateName, siteName)
	fmt.Printf("🚀 Next steps:\n")
	fmt.Printf("   cd %s\n", siteName)
	fmt.Printf("   signportal serve\n\n")
	fmt.Printf("🌐 Your portal will be available at http://localhost:8080\n")
}

// toTitle converts a site name to a title case string
// Example: "acme-crm" -> "Acme Crm"
func toTitle(name string) string {
	// Replace hyphens and underscores with spaces
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.ReplaceAll(name, "_", " ")

	// Title case each word
	words := strings.Fields(name)
	for i, word := range words {
		if len(word) > 0 {
			words[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
		}
	}

	return strings.Join(words, " ")
}
