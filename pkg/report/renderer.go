package report

import (
	"context"
	"time"

	"reportgrid/pkg/align"
)

// RangeLabel is the {from, to} label handed to the renderer alongside the
// rows.
type RangeLabel struct {
	From time.Time
	To   time.Time
}

// Renderer turns an aligned row stream into a document. Rendering lives
// outside the engine: implementations own layout, pagination and file
// formats, and receive rows already ordered and normalized, with explicit
// absence markers.
type Renderer interface {
	// Begin starts a document for the given range and ordered columns.
	Begin(ctx context.Context, label RangeLabel, columns []string) error

	// Chunk receives the next ordered batch of rows.
	Chunk(ctx context.Context, rows []align.Row) error

	// End finishes the document.
	End(ctx context.Context) error
}
