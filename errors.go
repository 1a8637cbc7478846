package signportal

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
)

// ParseError represents a detailed page-authoring error with context.
type ParseError struct {
	File    string // Source file path
	Line    int    // Line number (1-indexed)
	Column  int    // Column number (1-indexed, optional)
	Message string // Error message
	Hint    string // Helpful suggestion
	Related string // Related information (e.g., "First dialog declared at line 12")

	// source holds the page content when it was parsed from memory rather
	// than a file on disk. Code context is read from here first.
	source []byte
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return e.Format()
}

// Format returns a nicely formatted error message with context.
func (e *ParseError) Format() string {
	var b strings.Builder

	// Header
	b.WriteString(fmt.Sprintf("❌ Error in %s\n\n", e.File))

	// Main error message with line number
	b.WriteString(fmt.Sprintf("Line %d: %s\n", e.Line, e.Message))

	// Code context (show surrounding lines)
	context := e.getCodeContext()
	if context != "" {
		b.WriteString(context)
	}

	// Helpful hint
	if e.Hint != "" {
		b.WriteString(fmt.Sprintf("\n💡 Tip: %s\n", e.Hint))
	}

	// Related information
	if e.Related != "" {
		b.WriteString(fmt.Sprintf("\n🔗 %s\n", e.Related))
	}

	return b.String()
}

// getCodeContext extracts the source lines around the error line. In-memory
// source takes precedence; otherwise the file is read from disk.
func (e *ParseError) getCodeContext() string {
	lines := e.sourceLines()
	if lines == nil {
		return ""
	}

	if e.Line < 1 || e.Line > len(lines) {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	// Show 2 lines before, the error line, and 2 lines after
	start := max(1, e.Line-2)
	end := min(len(lines), e.Line+2)

	for i := start; i <= end; i++ {
		prefix := fmt.Sprintf("  %2d | ", i)
		b.WriteString(prefix + lines[i-1] + "\n")

		// Add error pointer on the error line
		if i == e.Line && e.Column > 0 {
			spaces := strings.Repeat(" ", len(prefix)+e.Column-1)
			b.WriteString(spaces + "^\n")
		}
	}

	return b.String()
}

func (e *ParseError) sourceLines() []string {
	if len(e.source) > 0 {
		return strings.Split(strings.TrimSuffix(string(e.source), "\n"), "\n")
	}

	if e.File == "" {
		return nil
	}

	file, err := os.Open(e.File)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	return lines
}

// NewParseError creates a new ParseError.
func NewParseError(file string, line int, message string) *ParseError {
	return &ParseError{
		File:    file,
		Line:    line,
		Message: message,
	}
}

// WithColumn adds column information to the error.
func (e *ParseError) WithColumn(col int) *ParseError {
	e.Column = col
	return e
}

// WithHint adds a helpful hint to the error.
func (e *ParseError) WithHint(hint string) *ParseError {
	e.Hint = hint
	return e
}

// WithRelated adds related information to the error.
func (e *ParseError) WithRelated(related string) *ParseError {
	e.Related = related
	return e
}

// WithSource attaches in-memory page content for code context. Used when the
// page did not come from a file (string parses, tests, the desktop preview).
func (e *ParseError) WithSource(content []byte) *ParseError {
	e.source = bytes.Clone(content)
	return e
}

// lineOf returns the 1-indexed line on which needle first occurs in content,
// or 1 when it does not occur. The binder uses it to map a marker found in
// rendered HTML back to the markdown source line.
func lineOf(content []byte, needle string) int {
	idx := bytes.Index(content, []byte(needle))
	if idx < 0 {
		return 1
	}
	return 1 + bytes.Count(content[:idx], []byte("\n"))
}

// lineOfN returns the line of the nth occurrence (1-indexed) of needle.
func lineOfN(content []byte, needle string, n int) int {
	offset := 0
	for i := 0; i < n; i++ {
		idx := bytes.Index(content[offset:], []byte(needle))
		if idx < 0 {
			return 1
		}
		offset += idx + len(needle)
	}
	return 1 + bytes.Count(content[:offset-len(needle)], []byte("\n"))
}
