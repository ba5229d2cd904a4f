// Package export turns source entities into the flat documents the
// index stores. The base transform handles the shared attributes;
// enrichers add type-specific fields, counters and relationships.
package export

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lagoon-cms/searchsync/internal/domain"
)

// Enricher adds fields to a document after the base transform.
type Enricher interface {
	Enrich(ctx context.Context, entity *domain.Entity, doc *domain.Document) error
}

// CounterSource provides the engagement counters attached to
// documents.
type CounterSource interface {
	AnnotationCount(ctx context.Context, guid domain.GUID, name string) (int64, error)
	CommentCount(ctx context.Context, guid domain.GUID) (int64, error)
	MemberCount(ctx context.Context, guid domain.GUID) (int64, error)
}

// RelationshipSource provides relationship rows for export.
type RelationshipSource interface {
	Relationships(ctx context.Context, guid domain.GUID, names []string) ([]domain.Relationship, error)
}

type Builder struct {
	enrichers []Enricher
	log       *zap.Logger
}

func NewBuilder(log *zap.Logger, enrichers ...Enricher) *Builder {
	return &Builder{enrichers: enrichers, log: log.Named("export")}
}

// Build produces the complete index document for an entity.
func (b *Builder) Build(ctx context.Context, e *domain.Entity) (*domain.Document, error) {
	doc := baseDocument(e)
	for _, enricher := range b.enrichers {
		if err := enricher.Enrich(ctx, e, doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func baseDocument(e *domain.Entity) *domain.Document {
	doc := &domain.Document{
		GUID:          e.GUID,
		Type:          e.Type,
		Subtype:       e.Subtype,
		OwnerGUID:     e.OwnerGUID,
		ContainerGUID: e.ContainerGUID,
		AccessID:      e.AccessID,
		TimeCreated:   isoTime(e.TimeCreated),
		TimeUpdated:   isoTime(e.TimeUpdated),
		LastAction:    isoTime(e.LastAction),
		IndexedType:   e.IndexedType(),
		Title:         StripHTML(e.Title),
		Name:          StripHTML(e.Name),
		Description:   StripHTML(e.Description),
		Tags:          normalizeTags(e.Tags),
	}
	return doc
}

func isoTime(epoch int64) string {
	if epoch == 0 {
		return ""
	}
	return time.Unix(epoch, 0).UTC().Format(time.RFC3339)
}

// normalizeTags lowercases, trims and dedupes tag values, keeping a
// stable order.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// StripHTML removes markup from a value, leaving text content only.
func StripHTML(s string) string {
	if !strings.ContainsRune(s, '<') {
		return strings.TrimSpace(s)
	}
	var sb strings.Builder
	sb.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			sb.WriteRune(' ')
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// MetadataEnricher copies the exportable metadata names for the
// entity's type onto the document, and folds configured tag fields
// into the tags list.
type MetadataEnricher struct {
	// Names maps an entity type to the metadata names exported for it.
	Names map[string][]string
	// TagFields lists metadata names whose values are merged into tags.
	TagFields []string
}

// DefaultMetadataNames mirrors the fields each entity type exposes to
// search by default.
func DefaultMetadataNames() map[string][]string {
	return map[string][]string{
		"user":   {"name", "username", "language"},
		"object": {"title", "description"},
		"group":  {"name", "description"},
		"site":   {"name", "description"},
	}
}

func (m MetadataEnricher) Enrich(_ context.Context, e *domain.Entity, doc *domain.Document) error {
	names := m.Names[e.Type]

	var exported map[string][]string
	add := func(name string, values []string) {
		if len(values) == 0 {
			return
		}
		if exported == nil {
			exported = make(map[string][]string)
		}
		cleaned := make([]string, 0, len(values))
		for _, v := range values {
			v = StripHTML(v)
			if v != "" {
				cleaned = append(cleaned, v)
			}
		}
		if len(cleaned) > 0 {
			exported[name] = cleaned
		}
	}

	for _, name := range names {
		switch name {
		case "name":
			add(name, []string{e.Name})
		case "username":
			add(name, []string{e.Username})
		case "language":
			add(name, []string{e.Language})
		case "title":
			add(name, []string{e.Title})
		case "description":
			add(name, []string{e.Description})
		default:
			add(name, e.Metadata[name])
		}
	}

	for _, field := range m.TagFields {
		values := e.Metadata[field]
		if len(values) == 0 {
			continue
		}
		doc.Tags = normalizeTags(append(doc.Tags, values...))
	}

	if exported != nil {
		doc.Metadata = exported
	}
	return nil
}

// CounterEnricher attaches engagement counters per entity type.
type CounterEnricher struct {
	Source CounterSource
}

func (c CounterEnricher) Enrich(ctx context.Context, e *domain.Entity, doc *domain.Document) error {
	counters := make(map[string]int64)

	likes, err := c.Source.AnnotationCount(ctx, e.GUID, "likes")
	if err != nil {
		return err
	}
	counters["likes::count"] = likes

	if e.Type == "object" || e.Type == "group" {
		comments, err := c.Source.CommentCount(ctx, e.GUID)
		if err != nil {
			return err
		}
		counters["comments::count"] = comments
	}

	if e.Type == "group" {
		members, err := c.Source.MemberCount(ctx, e.GUID)
		if err != nil {
			return err
		}
		counters["member_count"] = members
	}

	doc.Counters = counters
	return nil
}

// RelationshipEnricher exports the configured relationship names.
type RelationshipEnricher struct {
	Source RelationshipSource
	Names  []string
}

func (r RelationshipEnricher) Enrich(ctx context.Context, e *domain.Entity, doc *domain.Document) error {
	if len(r.Names) == 0 {
		return nil
	}
	rels, err := r.Source.Relationships(ctx, e.GUID, r.Names)
	if err != nil {
		return err
	}
	sort.SliceStable(rels, func(i, j int) bool { return rels[i].ID < rels[j].ID })
	doc.Relationships = rels
	return nil
}
