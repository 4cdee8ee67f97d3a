package rewrite

import (
	"context"

	"github.com/livingatlas/occsearch/internal/domain"
)

// QidResolver resolves query-context references embedded in raw query
// text.
type QidResolver interface {
	GetFromQueryText(ctx context.Context, text string) (*domain.Qid, error)
}

// NameResolver resolves scientific names and taxon identifiers against
// the name-matching service. Lookups are best-effort: a miss returns an
// empty result, not an error.
type NameResolver interface {
	// GuidForName returns the taxon identifier for a scientific name,
	// or "" when the name does not match.
	GuidForName(ctx context.Context, name string) (string, error)
	// GuidsForTaxa returns one identifier per input name; unmatched
	// names yield "".
	GuidsForTaxa(ctx context.Context, names []string) ([]string, error)
	// TaxonRange returns the hierarchy-range query selecting the taxon
	// and all its descendants, plus a display label. An unknown
	// identifier yields ("", "", nil).
	TaxonRange(ctx context.Context, id string) (query, label string, err error)
}

// LabelResolver maps index field names and values to display labels.
// Implementations return the input unchanged when no label is known.
type LabelResolver interface {
	FieldLabel(field string) string
	ValueLabel(field, value string) string
}
