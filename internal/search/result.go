package search

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/lagoon-cms/searchsync/internal/domain"
	"github.com/lagoon-cms/searchsync/internal/esclient"
)

// Hit is one search result row. The Matched fields carry highlight
// fragments when the engine produced any, with the stored field as
// fallback for title and description.
type Hit struct {
	GUID               domain.GUID
	Score              float64
	Source             json.RawMessage
	MatchedTitle       string
	MatchedDescription string
	MatchedTags        string
	Entity             *domain.Entity
}

// Result is a parsed and optionally hydrated search reply.
type Result struct {
	Total       int64
	MaxScore    float64
	Hits        []Hit
	Suggestions []string
	Aggs        json.RawMessage
}

// GUIDs returns the hit guids in result order.
func (r *Result) GUIDs() []domain.GUID {
	out := make([]domain.GUID, 0, len(r.Hits))
	for _, hit := range r.Hits {
		out = append(out, hit.GUID)
	}
	return out
}

// parseResult converts the raw engine reply.
func parseResult(resp *esclient.SearchResponse, log *zap.Logger) *Result {
	result := &Result{
		Total:    resp.Hits.Total.Value,
		MaxScore: resp.Hits.MaxScore,
		Aggs:     resp.Aggs,
	}

	for _, hit := range resp.Hits.Hits {
		guid, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			log.Warn("non-numeric document id in result", zap.String("id", hit.ID))
			continue
		}
		h := Hit{
			GUID:   domain.GUID(guid),
			Score:  hit.Score,
			Source: hit.Source,
		}
		h.MatchedTitle, h.MatchedDescription, h.MatchedTags = matchedFields(hit)
		result.Hits = append(result.Hits, h)
	}

	result.Suggestions = parseSuggestions(resp.Suggest)
	return result
}

const excerptLength = 150

// matchedFields assembles the display fields for one hit. A highlight
// fragment wins; otherwise the stored title and a shortened
// description stand in. Tags only show when the engine matched them.
func matchedFields(hit esclient.SearchHit) (title, description, tags string) {
	var source struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if len(hit.Source) > 0 {
		_ = json.Unmarshal(hit.Source, &source)
	}

	title = source.Title
	if fragments := hit.Highlight["title"]; len(fragments) > 0 {
		title = fragments[0]
	}

	if fragments := hit.Highlight["description"]; len(fragments) > 0 {
		description = fragments[0]
	} else {
		description = excerpt(source.Description, excerptLength)
	}

	tags = strings.Join(hit.Highlight["tags"], ", ")
	return title, description, tags
}

// excerpt shortens text at a word boundary.
func excerpt(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := strings.LastIndex(text[:max], " ")
	if cut <= 0 {
		cut = max
	}
	return strings.TrimRight(text[:cut], " ") + "..."
}

func parseSuggestions(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var parsed map[string][]struct {
		Options []struct {
			Text string `json:"text"`
		} `json:"options"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil
	}
	var out []string
	for _, entry := range parsed["phrase_suggestion"] {
		for _, option := range entry.Options {
			out = append(out, option.Text)
		}
	}
	return out
}

// EntityHydrator resolves guids back to source entities.
type EntityHydrator interface {
	GetEntities(ctx context.Context, guids []domain.GUID) ([]*domain.Entity, error)
}

// hydrate attaches entities to hits. Hits whose entity cannot be
// loaded are dropped from the result; total is left as reported by
// the engine.
func hydrate(ctx context.Context, hydrator EntityHydrator, result *Result, log *zap.Logger) {
	if hydrator == nil || len(result.Hits) == 0 {
		return
	}

	entities, err := hydrator.GetEntities(ctx, result.GUIDs())
	if err != nil {
		log.Warn("result hydration failed", zap.Error(err))
		result.Hits = nil
		return
	}

	byGUID := make(map[domain.GUID]*domain.Entity, len(entities))
	for _, e := range entities {
		byGUID[e.GUID] = e
	}

	kept := result.Hits[:0]
	for _, hit := range result.Hits {
		entity, ok := byGUID[hit.GUID]
		if !ok {
			continue
		}
		hit.Entity = entity
		kept = append(kept, hit)
	}
	result.Hits = kept
}

// CachedHydrator wraps a hydrator with an in-process LRU so repeated
// searches over the same entities skip the database.
type CachedHydrator struct {
	inner EntityHydrator
	cache *lru.Cache[domain.GUID, *domain.Entity]
}

func NewCachedHydrator(inner EntityHydrator, size int) (*CachedHydrator, error) {
	cache, err := lru.New[domain.GUID, *domain.Entity](size)
	if err != nil {
		return nil, err
	}
	return &CachedHydrator{inner: inner, cache: cache}, nil
}

func (c *CachedHydrator) GetEntities(ctx context.Context, guids []domain.GUID) ([]*domain.Entity, error) {
	out := make([]*domain.Entity, 0, len(guids))
	var missing []domain.GUID
	for _, guid := range guids {
		if entity, ok := c.cache.Get(guid); ok {
			out = append(out, entity)
			continue
		}
		missing = append(missing, guid)
	}

	if len(missing) > 0 {
		loaded, err := c.inner.GetEntities(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, entity := range loaded {
			c.cache.Add(entity.GUID, entity)
			out = append(out, entity)
		}
	}
	return out, nil
}

// Invalidate drops an entity from the cache after it changes.
func (c *CachedHydrator) Invalidate(guid domain.GUID) {
	c.cache.Remove(guid)
}
