package export

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/lagoon-cms/searchsync/internal/domain"
)

func TestStripHTML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"<p>hello <b>world</b></p>", "hello world"},
		{"  padded  ", "padded"},
		{"<div>a</div><div>b</div>", "a b"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := StripHTML(tt.in); got != tt.want {
			t.Errorf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeTags(t *testing.T) {
	got := normalizeTags([]string{"Go", "  go ", "", "Search", "search"})
	want := []string{"go", "search"}
	if len(got) != len(want) {
		t.Fatalf("tags = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tag %d = %q, want %q", i, got[i], want[i])
		}
	}
	if normalizeTags(nil) != nil {
		t.Error("no tags should stay nil")
	}
}

func TestBaseDocument(t *testing.T) {
	e := &domain.Entity{
		GUID:        42,
		Type:        "object",
		Subtype:     "blog",
		OwnerGUID:   7,
		AccessID:    2,
		TimeCreated: 1700000000,
		LastAction:  1700000100,
		Title:       "<h1>My Post</h1>",
		Description: "body",
		Tags:        []string{"Go"},
	}

	doc := baseDocument(e)
	if doc.GUID != 42 || doc.IndexedType != "object.blog" {
		t.Errorf("doc = %+v", doc)
	}
	if doc.Title != "My Post" {
		t.Errorf("title = %q, markup should be stripped", doc.Title)
	}
	if doc.TimeCreated != "2023-11-14T22:13:20Z" {
		t.Errorf("time_created = %q, want RFC3339 UTC", doc.TimeCreated)
	}
	if len(doc.Tags) != 1 || doc.Tags[0] != "go" {
		t.Errorf("tags = %v", doc.Tags)
	}
}

func TestMetadataEnricherPerType(t *testing.T) {
	enricher := MetadataEnricher{Names: DefaultMetadataNames()}

	user := &domain.Entity{Type: "user", Name: "Jet", Username: "jet", Language: "nl"}
	doc := baseDocument(user)
	if err := enricher.Enrich(context.Background(), user, doc); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"name", "username", "language"} {
		if len(doc.Metadata[name]) != 1 {
			t.Errorf("user metadata missing %q: %v", name, doc.Metadata)
		}
	}

	obj := &domain.Entity{Type: "object", Title: "Post", Description: "Body"}
	doc = baseDocument(obj)
	if err := enricher.Enrich(context.Background(), obj, doc); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc.Metadata["username"]; ok {
		t.Error("objects must not export a username")
	}
	if len(doc.Metadata["title"]) != 1 || doc.Metadata["title"][0] != "Post" {
		t.Errorf("object metadata = %v", doc.Metadata)
	}
}

func TestMetadataEnricherTagFields(t *testing.T) {
	enricher := MetadataEnricher{
		Names:     DefaultMetadataNames(),
		TagFields: []string{"interests"},
	}
	e := &domain.Entity{
		Type:     "user",
		Name:     "Jet",
		Tags:     []string{"existing"},
		Metadata: map[string][]string{"interests": {"Sailing", "sailing", "Go"}},
	}
	doc := baseDocument(e)
	if err := enricher.Enrich(context.Background(), e, doc); err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"existing": true, "sailing": true, "go": true}
	if len(doc.Tags) != len(want) {
		t.Fatalf("tags = %v, want %v", doc.Tags, want)
	}
	for _, tag := range doc.Tags {
		if !want[tag] {
			t.Errorf("unexpected tag %q", tag)
		}
	}
}

type stubCounters struct{}

func (stubCounters) AnnotationCount(context.Context, domain.GUID, string) (int64, error) {
	return 3, nil
}
func (stubCounters) CommentCount(context.Context, domain.GUID) (int64, error) { return 5, nil }
func (stubCounters) MemberCount(context.Context, domain.GUID) (int64, error)  { return 7, nil }

func TestCounterEnricher(t *testing.T) {
	enricher := CounterEnricher{Source: stubCounters{}}

	group := &domain.Entity{GUID: 1, Type: "group"}
	doc := baseDocument(group)
	if err := enricher.Enrich(context.Background(), group, doc); err != nil {
		t.Fatal(err)
	}
	if doc.Counters["likes::count"] != 3 || doc.Counters["comments::count"] != 5 || doc.Counters["member_count"] != 7 {
		t.Errorf("group counters = %v", doc.Counters)
	}

	user := &domain.Entity{GUID: 2, Type: "user"}
	doc = baseDocument(user)
	if err := enricher.Enrich(context.Background(), user, doc); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc.Counters["member_count"]; ok {
		t.Error("users have no member count")
	}
	if _, ok := doc.Counters["comments::count"]; ok {
		t.Error("users have no comment count")
	}
}

type stubRelationships struct {
	rels []domain.Relationship
}

func (s stubRelationships) Relationships(context.Context, domain.GUID, []string) ([]domain.Relationship, error) {
	return s.rels, nil
}

func TestBuilderRunsChain(t *testing.T) {
	builder := NewBuilder(zap.NewNop(),
		MetadataEnricher{Names: DefaultMetadataNames()},
		CounterEnricher{Source: stubCounters{}},
		RelationshipEnricher{
			Source: stubRelationships{rels: []domain.Relationship{
				{ID: 2, Relationship: "member", GUIDTwo: 1},
				{ID: 1, Relationship: "member", GUIDTwo: 1},
			}},
			Names: []string{"member"},
		},
	)

	e := &domain.Entity{GUID: 1, Type: "group", Name: "Sailing Club"}
	doc, err := builder.Build(context.Background(), e)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Metadata == nil || doc.Counters == nil {
		t.Errorf("chain did not run fully: %+v", doc)
	}
	if len(doc.Relationships) != 2 || doc.Relationships[0].ID != 1 {
		t.Errorf("relationships should be sorted by id: %v", doc.Relationships)
	}
}
