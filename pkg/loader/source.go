package loader

import (
	"context"

	"github.com/janekolszak/warp/pkg/interaction"
)

// Query selects one page of interactions tagged with TagName=TagValue.
type Query struct {
	TagName  string
	TagValue string

	// MinHeight and MaxHeight restrict block heights, inclusive.
	// Zero MaxHeight means no upper limit.
	MinHeight uint64
	MaxHeight uint64

	// After is the opaque cursor of the last edge already consumed.
	After    string
	PageSize int
}

// Edge is one record of a page together with its resume cursor.
type Edge struct {
	Node   *interaction.Record
	Cursor string
}

// Page is a single index response. Edges are in ascending height order.
type Page struct {
	Edges       []Edge
	HasNextPage bool
}

// Source is the paginated, eventually consistent interaction index.
type Source interface {
	// Interactions returns the page following q.After.
	Interactions(ctx context.Context, q Query) (*Page, error)

	// TipHeight returns the height of the most recent block known to the index.
	TipHeight(ctx context.Context) (uint64, error)
}
