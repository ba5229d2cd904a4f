package search

import (
	"testing"
	"time"

	"github.com/lagoon-cms/searchsync/internal/domain"
	"github.com/lagoon-cms/searchsync/internal/domain/search/request"
)

func TestQueryText(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		tokenize bool
		want     string
	}{
		{"tokenized adds phrase alternative", "hello world", true, `hello world || "hello world"`},
		{"untokenized is exact phrase", "hello world", false, `"hello world"`},
		{"single word tokenized", "hello", true, `hello || "hello"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QueryText(tt.query, tt.tokenize); got != tt.want {
				t.Errorf("QueryText(%q, %v) = %q, want %q", tt.query, tt.tokenize, got, tt.want)
			}
		})
	}
}

func TestBoostedFields(t *testing.T) {
	fields := []string{"title", "description", "tags"}
	boosts := map[string]float64{"title": 2, "tags": 1.5}

	got := boostedFields(fields, boosts)
	want := []string{"title^2", "description", "tags^1.5"}
	if len(got) != len(want) {
		t.Fatalf("got %d fields, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSearchFieldsRouteAnnotationsToMetadata(t *testing.T) {
	fields := request.Fields{
		Attributes:  []string{"title"},
		Metadata:    []string{"city"},
		Annotations: []string{"profile:interests", "mood"},
	}

	got := searchFields(fields)
	want := []string{"title", "metadata.city", "metadata.interests", "metadata.mood"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func testBuilder() *Builder {
	return NewBuilder(nil, Decay{})
}

func mustBool(t *testing.T, v any) map[string]any {
	t.Helper()
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", v)
	}
	return m
}

func TestFilterComposition(t *testing.T) {
	now := time.Now()
	req := &request.Request{
		GUIDs:          []domain.GUID{1, 2},
		OwnerGUIDs:     []domain.GUID{3},
		ContainerGUIDs: []domain.GUID{4},
		CallerGUID:     5,
		AccessIDs:      []int{2, 7},
		TypeSubtypePairs: []domain.TypeSubtype{
			{Type: "object", Subtype: "blog"},
			{Type: "user"},
		},
		CreatedAfter: &now,
	}

	filter := testBuilder().filter(req)
	if filter == nil {
		t.Fatal("expected a filter")
	}
	must := mustBool(t, filter["bool"])["must"].([]any)

	// guid, owner_guid, container_guid, access clause, indexed_type, range
	if len(must) != 6 {
		t.Fatalf("got %d filter clauses, want 6", len(must))
	}

	// The type pair terms use the filter-value form: a bare type
	// doubles as "type.type".
	var typeTerms []string
	for _, clause := range must {
		terms, ok := mustBool(t, clause)["terms"].(map[string]any)
		if !ok {
			continue
		}
		if values, ok := terms["indexed_type"].([]string); ok {
			typeTerms = values
		}
	}
	if len(typeTerms) != 2 || typeTerms[0] != "object.blog" || typeTerms[1] != "user.user" {
		t.Errorf("indexed_type terms = %v, want [object.blog user.user]", typeTerms)
	}
}

func TestAccessClause(t *testing.T) {
	req := &request.Request{
		CallerGUID: 5,
		AccessIDs:  []int{2, 7},
	}

	clause := accessClause(req)
	if clause == nil {
		t.Fatal("expected an access clause")
	}
	inner := mustBool(t, clause["bool"])
	should := inner["should"].([]any)
	if len(should) != 2 {
		t.Fatalf("got %d should clauses, want owner term and access terms", len(should))
	}
	if inner["minimum_should_match"] != 1 {
		t.Errorf("minimum_should_match = %v, want 1", inner["minimum_should_match"])
	}
	owner := mustBool(t, mustBool(t, should[0])["term"])
	if owner["owner_guid"] != int64(5) {
		t.Errorf("owner term = %v, want caller guid 5", owner)
	}
	access := mustBool(t, mustBool(t, should[1])["terms"])
	ids, ok := access["access_id"].([]int)
	if !ok || len(ids) != 2 || ids[0] != 2 || ids[1] != 7 {
		t.Errorf("access terms = %v, want [2 7]", access["access_id"])
	}
}

func TestAccessClauseBypass(t *testing.T) {
	req := &request.Request{
		CallerGUID:   5,
		AccessIDs:    []int{2, 7},
		AccessBypass: true,
	}
	if clause := accessClause(req); clause != nil {
		t.Errorf("privileged callers get no access clause, got %v", clause)
	}
	if clause := accessClause(&request.Request{}); clause != nil {
		t.Errorf("a request without access inputs gets no clause, got %v", clause)
	}
}

func TestFilterEmptyRequest(t *testing.T) {
	if filter := testBuilder().filter(&request.Request{}); filter != nil {
		t.Errorf("empty request should produce no filter, got %v", filter)
	}
}

func TestProfileFieldFilters(t *testing.T) {
	req := &request.Request{
		ProfileFields: map[string]string{"city": "Amsterdam"},
	}
	filter := testBuilder().filter(req)
	must := mustBool(t, filter["bool"])["must"].([]any)
	if len(must) != 1 {
		t.Fatalf("got %d clauses, want 1", len(must))
	}
	nested := mustBool(t, mustBool(t, must[0])["nested"])
	if nested["path"] != "metadata" {
		t.Errorf("nested path = %v, want metadata", nested["path"])
	}
	inner := mustBool(t, mustBool(t, nested["query"])["bool"])
	should := inner["should"].([]any)
	if len(should) != 2 {
		t.Fatalf("got %d should clauses, want wildcard and phrase", len(should))
	}
	wildcard := mustBool(t, mustBool(t, should[0])["wildcard"])
	if wildcard["metadata.city.raw"] != "*amsterdam*" {
		t.Errorf("wildcard clause = %v", wildcard)
	}
	phrase := mustBool(t, mustBool(t, should[1])["match_phrase"])
	if phrase["metadata.city"] != "amsterdam" {
		t.Errorf("phrase clause should lowercase the value: %v", phrase)
	}
}

func TestDefaultSortHasRecencyTiebreak(t *testing.T) {
	sorts := testBuilder().sort(&request.Request{})
	if len(sorts) != 2 {
		t.Fatalf("default sort has %d clauses, want 2", len(sorts))
	}
	first := mustBool(t, sorts[0])
	if _, ok := first["_score"]; !ok {
		t.Errorf("first default sort clause should be _score, got %v", first)
	}
	second := mustBool(t, sorts[1])
	if _, ok := second["time_created"]; !ok {
		t.Errorf("second default sort clause should be time_created, got %v", second)
	}
}

func TestSortFieldMapping(t *testing.T) {
	tests := []struct {
		name string
		sort request.Sort
		want string
	}{
		{"text attribute uses raw", request.Sort{Property: "title", Kind: request.PropertyAttribute}, "title.raw"},
		{"numeric attribute stays plain", request.Sort{Property: "time_created", Kind: request.PropertyAttribute}, "time_created"},
		{"metadata uses raw subfield", request.Sort{Property: "city", Kind: request.PropertyMetadata}, "metadata.city.raw"},
		{"counter", request.Sort{Property: "likes::count", Kind: request.PropertyCounter}, "counters.likes::count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sortField(tt.sort); got != tt.want {
				t.Errorf("sortField(%v) = %q, want %q", tt.sort, got, tt.want)
			}
		})
	}
}

func TestExplicitSortMissingLast(t *testing.T) {
	req := &request.Request{
		Sort: []request.Sort{{Property: "title", Kind: request.PropertyAttribute, Direction: "asc"}},
	}
	sorts := testBuilder().sort(req)
	if len(sorts) != 1 {
		t.Fatalf("got %d sort clauses, want 1", len(sorts))
	}
	clause := mustBool(t, mustBool(t, sorts[0])["title.raw"])
	if clause["missing"] != "_last" {
		t.Errorf("missing = %v, want _last", clause["missing"])
	}
	if clause["order"] != "asc" {
		t.Errorf("order = %v, want asc", clause["order"])
	}
}

func TestCountBodyRestructure(t *testing.T) {
	req := &request.Request{
		Query: "hello",
		GUIDs: []domain.GUID{1},
	}
	body := testBuilder().CountBody(req)
	boolQuery := mustBool(t, mustBool(t, body["query"])["bool"])

	must, ok := boolQuery["must"].([]any)
	if !ok || len(must) != 1 {
		t.Fatalf("count body must = %v, want one clause", boolQuery["must"])
	}
	if _, ok := mustBool(t, must[0])["simple_query_string"]; !ok {
		t.Errorf("count must clause should be the text query, got %v", must[0])
	}
	filter, ok := boolQuery["filter"].([]any)
	if !ok || len(filter) != 1 {
		t.Fatalf("count body filter = %v, want one clause", boolQuery["filter"])
	}
}

func TestCountBodyEmptyRequestIsMatchAll(t *testing.T) {
	body := testBuilder().CountBody(&request.Request{})
	if _, ok := mustBool(t, body["query"])["match_all"]; !ok {
		t.Errorf("empty count body should be match_all, got %v", body["query"])
	}
}

func TestBodyFunctionScore(t *testing.T) {
	builder := NewBuilder(
		map[string]float64{"user.user": 1.2, "object.blog": 0.8},
		Decay{TimeField: "time_created", ScaleDays: 30, OffsetDays: 7, Decay: 0.5},
	)
	req := &request.Request{Query: "hello", Limit: 10}
	body := builder.Body(req, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))

	fs := mustBool(t, mustBool(t, body["query"])["function_score"])
	functions := fs["functions"].([]map[string]any)

	// Two type weights plus the decay function.
	if len(functions) != 3 {
		t.Fatalf("got %d score functions, want 3", len(functions))
	}
	gauss, ok := functions[2]["gauss"].(map[string]any)
	if !ok {
		t.Fatalf("last function should be gauss, got %v", functions[2])
	}
	curve := mustBool(t, gauss["time_created"])
	if curve["scale"] != "30d" || curve["offset"] != "7d" {
		t.Errorf("gauss curve = %v, want scale 30d offset 7d", curve)
	}
}

func TestScoreFunctionsSkipNeutralWeights(t *testing.T) {
	builder := NewBuilder(
		map[string]float64{"user.user": 1, "object.blog": 0, "group.group": -2, "object.page": 1.5},
		Decay{},
	)
	functions := builder.scoreFunctions(time.Now())

	// Only the 1.5 weight changes scoring; 1 is a no-op and
	// non-positive weights are invalid.
	if len(functions) != 1 {
		t.Fatalf("got %d score functions, want 1", len(functions))
	}
	filter := mustBool(t, mustBool(t, functions[0]["filter"])["term"])
	if filter["indexed_type"] != "object.page" {
		t.Errorf("kept function = %v, want the object.page weight", functions[0])
	}
}

func TestScoreFunctionsNeedFullDecayConfig(t *testing.T) {
	tests := []struct {
		name  string
		decay Decay
	}{
		{"zero decay", Decay{TimeField: "time_created", ScaleDays: 30, OffsetDays: 7}},
		{"zero offset", Decay{TimeField: "time_created", ScaleDays: 30, Decay: 0.5}},
		{"zero scale", Decay{TimeField: "time_created", OffsetDays: 7, Decay: 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder := NewBuilder(nil, tt.decay)
			if functions := builder.scoreFunctions(time.Now()); len(functions) != 0 {
				t.Errorf("incomplete decay config must emit no functions, got %v", functions)
			}
		})
	}
}

func TestBodySuggestAndHighlightOnlyWithQuery(t *testing.T) {
	builder := testBuilder()

	withQuery := builder.Body(&request.Request{Query: "hello", Limit: 10}, time.Now())
	if _, ok := withQuery["suggest"]; !ok {
		t.Error("body with query should carry a suggest section")
	}
	if _, ok := withQuery["highlight"]; !ok {
		t.Error("body with query should carry a highlight section")
	}

	withoutQuery := builder.Body(&request.Request{Limit: 10}, time.Now())
	if _, ok := withoutQuery["suggest"]; ok {
		t.Error("body without query should not carry a suggest section")
	}
}

func TestSuggestCollatesOnTitleSuggestion(t *testing.T) {
	suggest := testBuilder().suggest("helo wrld")
	phrase := mustBool(t, mustBool(t, suggest["phrase_suggestion"])["phrase"])
	if phrase["field"] != "title.suggestion" {
		t.Errorf("suggest field = %v, want title.suggestion", phrase["field"])
	}
	if _, ok := phrase["collate"]; !ok {
		t.Error("suggest should collate candidates")
	}
}

func TestEscapeQuery(t *testing.T) {
	if got := escapeQuery("a+b|c (d)"); got != "a b c d" {
		t.Errorf("escapeQuery = %q, want %q", got, "a b c d")
	}
}
