// Package export renders published outputs as HTML, PDF or DOCX next to the
// markdown the publisher writes.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Document is one released output.
type Document struct {
	Title       string
	Profile     string
	Audience    string
	Body        string // generator output, treated as untrusted text
	GeneratedAt time.Time
	ReviewedBy  string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)

// ParseFormats reads a list such as ["html", "PDF"]. Unknown names are an
// error; duplicates are dropped.
func ParseFormats(names []string) ([]Format, error) {
	seen := map[Format]bool{}
	var out []Format
	for _, n := range names {
		f := Format(strings.ToLower(strings.TrimSpace(n)))
		switch f {
		case "":
			continue
		case FormatHTML, FormatPDF, FormatDOCX:
		default:
			return nil, fmt.Errorf("unknown export format %q", n)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}
