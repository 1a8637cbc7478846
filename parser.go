package signportal

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"gopkg.in/yaml.v3"
)

// Frontmatter represents the YAML frontmatter at the top of a page file.
type Frontmatter struct {
	Title       string                  `yaml:"title"`
	Description string                  `yaml:"description"`
	Product     string                  `yaml:"product"` // product name used in the page shell
	Sources     map[string]SourceConfig `yaml:"sources"`
	Outputs     map[string]OutputConfig `yaml:"outputs"`
}

// SourceConfig declares a page-level content source (frontmatter form).
// The server converts it to the site-level config shape before use.
type SourceConfig struct {
	Type    string                 `yaml:"type"` // "file", "wasm"
	File    string                 `yaml:"file"`
	TTL     string                 `yaml:"ttl"`
	Options map[string]interface{} `yaml:"options"`
}

// OutputConfig declares a page-level notification output (frontmatter form).
type OutputConfig struct {
	Type string `yaml:"type"` // "slack", "email"
	URL  string `yaml:"url"`
	To   string `yaml:"to"`
}

// ParseMarkdown renders a page source into static HTML and returns its
// frontmatter. Raw HTML passes through unchanged: landing pages embed real
// markup for the dialog, nav, and forms, and the binder needs it intact.
func ParseMarkdown(content []byte) (*Frontmatter, string, error) {
	frontmatter, remaining, err := extractFrontmatter(content)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse frontmatter: %w", err)
	}

	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithUnsafe(),
		),
	)

	var htmlBuf bytes.Buffer
	if err := md.Convert(remaining, &htmlBuf); err != nil {
		return nil, "", fmt.Errorf("failed to render HTML: %w", err)
	}

	return frontmatter, htmlBuf.String(), nil
}

// extractFrontmatter extracts YAML frontmatter from the beginning of content.
// Returns the parsed frontmatter and the remaining content.
func extractFrontmatter(content []byte) (*Frontmatter, []byte, error) {
	if !bytes.HasPrefix(content, []byte("---\n")) {
		// No frontmatter
		return &Frontmatter{}, content, nil
	}

	// Find the closing ---
	endIdx := bytes.Index(content[4:], []byte("\n---\n"))
	if endIdx == -1 {
		return nil, nil, fmt.Errorf("unclosed frontmatter")
	}

	yamlContent := content[4 : 4+endIdx]
	remaining := content[4+endIdx+5:] // Skip "\n---\n"

	var fm Frontmatter
	if err := yaml.Unmarshal(yamlContent, &fm); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &fm, remaining, nil
}
