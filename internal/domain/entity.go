package domain

import "strings"

// GUID identifies an entity in the CMS database.
type GUID int64

// Marker values for Entity.LastIndexed. A nil marker means the entity was
// never selected for indexing and mutations must not change that; zero means
// the entity is pending (re)indexing; a positive value is the epoch time of
// the last successful index.
const MarkerPending int64 = 0

// TypeSubtype is one registered searchable type/subtype pair. An empty
// Subtype means "any subtype of this type".
type TypeSubtype struct {
	Type    string
	Subtype string
}

// Indexed returns the value stored in the indexed_type keyword field,
// "type.subtype" or just "type" when no subtype exists.
func (t TypeSubtype) Indexed() string {
	if t.Subtype == "" {
		return t.Type
	}
	return t.Type + "." + t.Subtype
}

// FilterValue returns the value used in indexed_type term filters. Pairs
// without a subtype filter on "type.type", matching how bare types are
// registered for filtering.
func (t TypeSubtype) FilterValue() string {
	if t.Subtype == "" {
		return t.Type + "." + t.Type
	}
	return t.Type + "." + t.Subtype
}

// Entity is a row from the CMS entities table, the source of truth for the
// search index.
type Entity struct {
	GUID          GUID
	Type          string
	Subtype       string
	OwnerGUID     GUID
	ContainerGUID GUID
	AccessID      int
	TimeCreated   int64
	TimeUpdated   int64
	LastAction    int64
	Title         string
	Name          string
	Description   string
	Username      string
	Language      string
	Tags          []string
	Banned        bool
	Disabled      bool

	// LastIndexed is the index marker: nil = never wanted, 0 = pending,
	// positive = epoch seconds of the last successful index.
	LastIndexed *int64

	// Metadata holds the entity's loaded metadata values by name.
	Metadata map[string][]string
}

// TypeSubtypePair returns the entity's type/subtype pair.
func (e *Entity) TypeSubtypePair() TypeSubtype {
	return TypeSubtype{Type: e.Type, Subtype: e.Subtype}
}

// IndexedType returns the default indexed_type value for the entity.
func (e *Entity) IndexedType() string {
	parts := make([]string, 0, 2)
	if e.Type != "" {
		parts = append(parts, e.Type)
	}
	if e.Subtype != "" {
		parts = append(parts, e.Subtype)
	}
	return strings.Join(parts, ".")
}

// WantsIndexing reports whether the entity carries a marker at all.
func (e *Entity) WantsIndexing() bool {
	return e.LastIndexed != nil
}

// PendingIndex reports whether the entity is marked for (re)indexing.
func (e *Entity) PendingIndex() bool {
	return e.LastIndexed != nil && *e.LastIndexed == MarkerPending
}

// Relationship is a snapshot of a relationship row, exported alongside an
// entity for caller-declared relationship names.
type Relationship struct {
	ID           int64  `json:"id"`
	TimeCreated  string `json:"time_created"`
	GUIDOne      GUID   `json:"guid_one"`
	GUIDTwo      GUID   `json:"guid_two"`
	Relationship string `json:"relationship"`
}
