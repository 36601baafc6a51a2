// Package export renders decision records as PDF reports.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatPDF Format = "pdf"
)

// Request contains parameters for an export operation
type Request struct {
	DecisionID string
	Format     Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrUnsupportedFormat indicates the requested export format is not available.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
