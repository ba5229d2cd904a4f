package request

import (
	"time"

	"github.com/lagoon-cms/searchsync/internal/domain"
)

// Pagination defaults.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// PropertyKind identifies where a sort property lives.
type PropertyKind string

const (
	PropertyAttribute PropertyKind = "attribute"
	PropertyMetadata  PropertyKind = "metadata"
	PropertyScore     PropertyKind = "score"
	PropertyCounter   PropertyKind = "counter"
)

// Sort is one requested sort clause.
type Sort struct {
	Property string
	Kind     PropertyKind
	// Direction is "asc" or "desc"; empty defaults to "desc".
	Direction string
	// UnmappedType overrides the type assumed for unmapped fields.
	UnmappedType string
}

// Fields groups the requested search fields by provenance. Annotation names
// with a "profile:" prefix are routed into metadata-field lookups.
type Fields struct {
	Attributes  []string
	Metadata    []string
	Annotations []string
}

// Request is the abstract search request handed over by the CMS. It is built
// fresh per search invocation and consumed once.
type Request struct {
	Query string
	// Tokenize false turns a multi-word query into an exact phrase; unset
	// (nil) keeps the disjunctive phrase-or-terms form.
	Tokenize *bool

	Fields      Fields
	FieldBoosts map[string]float64

	TypeSubtypePairs []domain.TypeSubtype
	GUIDs            []domain.GUID
	OwnerGUIDs       []domain.GUID
	ContainerGUIDs   []domain.GUID

	// CallerGUID is the searching user. Together with AccessIDs it forms
	// the access clause: a document matches when the caller owns it or
	// its access_id is in the caller's visible set.
	CallerGUID domain.GUID
	// AccessIDs is the caller's visible access-id set, provided by the
	// CMS per request. Never empty for a real caller.
	AccessIDs []int
	// AccessBypass drops the access clause entirely for privileged
	// callers.
	AccessBypass bool

	CreatedBefore    *time.Time
	CreatedAfter     *time.Time
	UpdatedBefore    *time.Time
	UpdatedAfter     *time.Time
	LastActionBefore *time.Time
	LastActionAfter  *time.Time

	Sort   []Sort
	Offset int
	Limit  int

	// Count requests a bare result count instead of hits.
	Count bool

	// Aggs is passed through verbatim as the aggregations section.
	Aggs map[string]any

	// ProfileFields filters user searches on profile metadata values.
	ProfileFields map[string]string

	// Legacy option combinations this engine does not translate. When set
	// the search is refused with domain.ErrUnsupportedRequest so the caller
	// falls back to its default searcher.
	LegacyMetadataFilters  bool
	RelationshipConstraint bool
}

// Normalize applies pagination defaults and clamps the limit.
func (r *Request) Normalize() {
	if r.Limit <= 0 {
		r.Limit = DefaultLimit
	}
	if r.Limit > MaxLimit {
		r.Limit = MaxLimit
	}
	if r.Offset < 0 {
		r.Offset = 0
	}
}

// Supported reports whether the request can be served by this engine.
func (r *Request) Supported() bool {
	return !r.LegacyMetadataFilters && !r.RelationshipConstraint
}
