package domain

// Document is the flat export format submitted to the search index. It is
// produced by the export enrichment chain; field names match the index
// mapping.
type Document struct {
	GUID          GUID                `json:"guid"`
	Type          string              `json:"type"`
	Subtype       string              `json:"subtype,omitempty"`
	OwnerGUID     GUID                `json:"owner_guid"`
	ContainerGUID GUID                `json:"container_guid"`
	AccessID      int                 `json:"access_id"`
	TimeCreated   string              `json:"time_created"`
	TimeUpdated   string              `json:"time_updated,omitempty"`
	LastAction    string              `json:"last_action"`
	IndexedType   string              `json:"indexed_type"`
	Title         string              `json:"title,omitempty"`
	Name          string              `json:"name,omitempty"`
	Description   string              `json:"description,omitempty"`
	Tags          []string            `json:"tags,omitempty"`
	Metadata      map[string][]string `json:"metadata,omitempty"`
	Counters      map[string]int64    `json:"counters,omitempty"`
	Relationships []Relationship      `json:"relationships,omitempty"`
}

// QueueItem is the payload of one pending index deletion. Index records the
// write alias at enqueue time so the delete still targets the right place
// after the entity itself is gone.
type QueueItem struct {
	GUID  GUID   `json:"guid"`
	Index string `json:"_index"`
	DocID string `json:"_id"`
}
