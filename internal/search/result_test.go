package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/lagoon-cms/searchsync/internal/domain"
	"github.com/lagoon-cms/searchsync/internal/esclient"
)

func TestHitsTotalLegacyForm(t *testing.T) {
	var modern esclient.SearchHits
	if err := json.Unmarshal([]byte(`{"total":{"value":42,"relation":"eq"},"hits":[]}`), &modern); err != nil {
		t.Fatal(err)
	}
	if modern.Total.Value != 42 {
		t.Errorf("modern total = %d, want 42", modern.Total.Value)
	}

	var legacy esclient.SearchHits
	if err := json.Unmarshal([]byte(`{"total":17,"hits":[]}`), &legacy); err != nil {
		t.Fatal(err)
	}
	if legacy.Total.Value != 17 {
		t.Errorf("legacy total = %d, want 17", legacy.Total.Value)
	}
}

func TestParseResultMatchedFields(t *testing.T) {
	resp := &esclient.SearchResponse{
		Hits: esclient.SearchHits{
			Total: esclient.HitsTotal{Value: 2},
			Hits: []esclient.SearchHit{
				{
					ID:     "10",
					Source: json.RawMessage(`{"title":"Stored title","description":"Stored description"}`),
					Highlight: map[string][]string{
						"description": {"desc <strong>fragment</strong>"},
						"title":       {"title <strong>fragment</strong>"},
						"tags":        {"<strong>go</strong>", "<strong>golang</strong>"},
					},
				},
				{
					ID:     "11",
					Source: json.RawMessage(`{"title":"Plain title","description":"Plain description"}`),
				},
			},
		},
	}

	result := parseResult(resp, zap.NewNop())

	hit := result.Hits[0]
	if hit.MatchedTitle != "title <strong>fragment</strong>" {
		t.Errorf("matched title = %q, want the title fragment", hit.MatchedTitle)
	}
	if hit.MatchedDescription != "desc <strong>fragment</strong>" {
		t.Errorf("matched description = %q, want the description fragment", hit.MatchedDescription)
	}
	if hit.MatchedTags != "<strong>go</strong>, <strong>golang</strong>" {
		t.Errorf("matched tags = %q, want the joined tag fragments", hit.MatchedTags)
	}

	// Without fragments the stored fields stand in and tags stay empty.
	hit = result.Hits[1]
	if hit.MatchedTitle != "Plain title" {
		t.Errorf("matched title = %q, want the stored title", hit.MatchedTitle)
	}
	if hit.MatchedDescription != "Plain description" {
		t.Errorf("matched description = %q, want the stored description", hit.MatchedDescription)
	}
	if hit.MatchedTags != "" {
		t.Errorf("matched tags = %q, want empty", hit.MatchedTags)
	}
}

func TestExcerptCutsAtWordBoundary(t *testing.T) {
	long := "alpha beta gamma delta epsilon"
	got := excerpt(long, 18)
	if got != "alpha beta gamma..." {
		t.Errorf("excerpt = %q", got)
	}
	if excerpt("short", 18) != "short" {
		t.Error("short text must come back untouched")
	}
}

func TestParseResultSkipsNonNumericIDs(t *testing.T) {
	resp := &esclient.SearchResponse{
		Hits: esclient.SearchHits{
			Hits: []esclient.SearchHit{{ID: "abc"}, {ID: "5"}},
		},
	}
	result := parseResult(resp, zap.NewNop())
	if len(result.Hits) != 1 || result.Hits[0].GUID != 5 {
		t.Errorf("expected only guid 5, got %v", result.GUIDs())
	}
}

func TestParseSuggestions(t *testing.T) {
	raw := json.RawMessage(`{"phrase_suggestion":[{"options":[{"text":"hello world"},{"text":"hello word"}]}]}`)
	got := parseSuggestions(raw)
	if len(got) != 2 || got[0] != "hello world" {
		t.Errorf("suggestions = %v", got)
	}
	if parseSuggestions(nil) != nil {
		t.Error("nil raw should give nil suggestions")
	}
}

type stubHydrator struct {
	entities []*domain.Entity
	err      error
	calls    int
	asked    []domain.GUID
}

func (s *stubHydrator) GetEntities(_ context.Context, guids []domain.GUID) ([]*domain.Entity, error) {
	s.calls++
	s.asked = append(s.asked, guids...)
	return s.entities, s.err
}

func TestHydrateDropsMissingEntities(t *testing.T) {
	result := &Result{
		Total: 3,
		Hits:  []Hit{{GUID: 1}, {GUID: 2}, {GUID: 3}},
	}
	hydrator := &stubHydrator{entities: []*domain.Entity{
		{GUID: 1},
		{GUID: 3},
	}}

	hydrate(context.Background(), hydrator, result, zap.NewNop())

	if len(result.Hits) != 2 {
		t.Fatalf("got %d hits after hydration, want 2", len(result.Hits))
	}
	if result.Hits[0].GUID != 1 || result.Hits[1].GUID != 3 {
		t.Errorf("hydrated guids = %v, want [1 3]", result.GUIDs())
	}
	if result.Hits[0].Entity == nil {
		t.Error("hydrated hit should carry its entity")
	}
	// The engine total is left untouched.
	if result.Total != 3 {
		t.Errorf("total = %d, want 3", result.Total)
	}
}

func TestHydrateFailureDropsAllHits(t *testing.T) {
	result := &Result{Hits: []Hit{{GUID: 1}}}
	hydrator := &stubHydrator{err: errors.New("db down")}

	hydrate(context.Background(), hydrator, result, zap.NewNop())
	if len(result.Hits) != 0 {
		t.Errorf("hydration failure should drop hits, got %d", len(result.Hits))
	}
}

func TestCachedHydrator(t *testing.T) {
	inner := &stubHydrator{entities: []*domain.Entity{{GUID: 1}, {GUID: 2}}}
	cached, err := NewCachedHydrator(inner, 16)
	if err != nil {
		t.Fatal(err)
	}

	first, err := cached.GetEntities(context.Background(), []domain.GUID{1, 2})
	if err != nil || len(first) != 2 {
		t.Fatalf("first load: %v, %v", first, err)
	}
	if inner.calls != 1 {
		t.Fatalf("inner calls = %d, want 1", inner.calls)
	}

	inner.entities = nil
	second, err := cached.GetEntities(context.Background(), []domain.GUID{1, 2})
	if err != nil || len(second) != 2 {
		t.Fatalf("second load should be served from cache: %v, %v", second, err)
	}
	if inner.calls != 1 {
		t.Errorf("cache hit should not call inner, calls = %d", inner.calls)
	}

	cached.Invalidate(1)
	inner.entities = []*domain.Entity{{GUID: 1}}
	if _, err := cached.GetEntities(context.Background(), []domain.GUID{1}); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Errorf("invalidated entry should reload, calls = %d", inner.calls)
	}
}
