// Package signportal provides the core library for serving live landing
// pages: markdown sources with embedded portal markup, parsed into static
// HTML plus the interaction bindings the session controller drives.
package signportal

import (
	"fmt"
	"os"
	"path/filepath"
)

// Well-known element ids the binder looks for in page markup.
const (
	// DialogElementID is the account dialog container.
	DialogElementID = "account-dialog"
	// LoginElementID is the scroll target of data-scroll-login triggers.
	LoginElementID = "login"
	// YearElementID is the slot filled with the current year at render.
	YearElementID = "year"
)

// Page represents a parsed portal page.
type Page struct {
	ID          string
	Title       string
	Description string
	Product     string // product name, overrides the site config when set
	SourceFile  string // Absolute path to source .md file (for error messages)
	StaticHTML  string
	Bindings    Bindings
	Config      PageConfig
}

// PageConfig contains page-level configuration merged from frontmatter.
type PageConfig struct {
	Sources map[string]SourceConfig
	Outputs map[string]OutputConfig
}

// Bindings holds everything interactive the binder found in the page.
// Bindings are established once at parse and never mutated afterward.
type Bindings struct {
	Dialog         *DialogBinding // nil when the page has no dialog
	Triggers       []TriggerBinding
	Forms          []FormBinding
	LoginSectionID string // "" when the page has no login section
	YearElementID  string // "" when the page has no year slot
}

// DialogBinding describes the account dialog element.
type DialogBinding struct {
	ID     string
	FormID string // "" when the dialog contains no form
}

// TriggerKind classifies what a trigger element does when activated.
type TriggerKind string

const (
	TriggerOpen   TriggerKind = "open"
	TriggerClose  TriggerKind = "close"
	TriggerScroll TriggerKind = "scroll"
	TriggerDemo   TriggerKind = "demo" // alias of open
)

// TriggerBinding describes one trigger element.
type TriggerBinding struct {
	ElementID string
	Kind      TriggerKind
	TargetID  string // scroll target, set for TriggerScroll only
}

// FormBinding describes one form element.
type FormBinding struct {
	ID       string // element id, synthesized form-N when absent
	Label    string // section heading text, "Account" fallback
	InDialog bool   // true for the dialog's own form
}

// New creates a new Page with the given ID.
func New(id string) *Page {
	return &Page{ID: id}
}

// ParseFile parses a markdown page file and creates a Page.
func ParseFile(path string) (*Page, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Get absolute path for better error messages
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	return parse(filepath.Base(path), absPath, content, false)
}

// Parse parses page content held in memory (tests, the desktop preview).
// Authoring errors carry code context from the content itself.
func Parse(name string, content []byte) (*Page, error) {
	return parse(name, name, content, true)
}

func parse(id, file string, content []byte, inMemory bool) (*Page, error) {
	fm, staticHTML, err := ParseMarkdown(content)
	if err != nil {
		perr := NewParseError(file, 1, fmt.Sprintf("Failed to parse markdown: %v", err))
		if inMemory {
			perr = perr.WithSource(content)
		}
		return nil, perr
	}

	page := New(id)
	page.Title = fm.Title
	page.Description = fm.Description
	page.Product = fm.Product
	page.SourceFile = file
	page.Config = PageConfig{
		Sources: fm.Sources,
		Outputs: fm.Outputs,
	}

	bindings, boundHTML, err := bindPage(staticHTML, content, file)
	if err != nil {
		if perr, ok := err.(*ParseError); ok && inMemory {
			perr.WithSource(content)
		}
		return nil, err
	}
	page.Bindings = bindings
	page.StaticHTML = boundHTML

	return page, nil
}
