// Package search translates caller search requests into engine query
// bodies and engine replies back into hydrated results.
package search

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lagoon-cms/searchsync/internal/domain"
	"github.com/lagoon-cms/searchsync/internal/domain/search/request"
)

// Decay configures the freshness scoring curve.
type Decay struct {
	TimeField  string
	OffsetDays int
	ScaleDays  int
	Decay      float64
}

// Builder assembles one query body from a request. Builders are
// single-use; the service makes a fresh one per call.
type Builder struct {
	typeBoosts map[string]float64
	decay      Decay
}

func NewBuilder(typeBoosts map[string]float64, decay Decay) *Builder {
	return &Builder{typeBoosts: typeBoosts, decay: decay}
}

// QueryText returns the string handed to simple_query_string. With
// tokenization on, the phrase form is OR-ed in so exact matches rank
// above token matches; with tokenization off only the exact phrase
// matches.
func QueryText(query string, tokenize bool) string {
	if !tokenize {
		return `"` + query + `"`
	}
	return query + ` || "` + query + `"`
}

// boostedFields renders the field list with per-field boost suffixes.
func boostedFields(fields []string, boosts map[string]float64) []string {
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if boost, ok := boosts[field]; ok && boost > 0 {
			out = append(out, fmt.Sprintf("%s^%g", field, boost))
			continue
		}
		out = append(out, field)
	}
	return out
}

// searchFields flattens the requested field groups into engine field
// paths. Annotation values are not exported as their own fields, so
// annotation names resolve against metadata; the "profile:" prefix
// marks names that were registered as profile fields and is stripped.
func searchFields(f request.Fields) []string {
	var out []string
	out = append(out, f.Attributes...)
	for _, name := range f.Metadata {
		out = append(out, "metadata."+name)
	}
	for _, name := range f.Annotations {
		out = append(out, "metadata."+strings.TrimPrefix(name, "profile:"))
	}
	return out
}

// Body builds the full search body for the request.
func (b *Builder) Body(req *request.Request, now time.Time) map[string]any {
	body := map[string]any{
		"from": req.Offset,
		"size": req.Limit,
	}

	query := b.scoredQuery(req, now)
	if filter := b.filter(req); filter != nil {
		query = map[string]any{
			"bool": map[string]any{
				"must":   []any{query},
				"filter": []any{filter},
			},
		}
	}
	body["query"] = query

	if sorts := b.sort(req); len(sorts) > 0 {
		body["sort"] = sorts
	}
	if req.Query != "" {
		body["suggest"] = b.suggest(req.Query)
		body["highlight"] = b.highlight()
	}
	if len(req.Aggs) > 0 {
		body["aggs"] = req.Aggs
	}
	return body
}

// CountBody builds the body for a count call. Counts take no scoring,
// sorting or pagination; the filter moves into a plain bool query.
func (b *Builder) CountBody(req *request.Request) map[string]any {
	bool_ := map[string]any{}
	if req.Query != "" {
		bool_["must"] = []any{b.textQuery(req)}
	}
	if filter := b.filter(req); filter != nil {
		bool_["filter"] = []any{filter}
	}
	if len(bool_) == 0 {
		return map[string]any{"query": map[string]any{"match_all": map[string]any{}}}
	}
	return map[string]any{"query": map[string]any{"bool": bool_}}
}

// textQuery is the simple_query_string core.
func (b *Builder) textQuery(req *request.Request) map[string]any {
	fields := searchFields(req.Fields)
	if len(fields) == 0 {
		fields = []string{"title", "description", "tags"}
	}
	tokenize := true
	if req.Tokenize != nil {
		tokenize = *req.Tokenize
	}
	return map[string]any{
		"simple_query_string": map[string]any{
			"query":            QueryText(escapeQuery(req.Query), tokenize),
			"fields":           boostedFields(fields, req.FieldBoosts),
			"default_operator": "AND",
		},
	}
}

// scoredQuery wraps the text query in a function_score envelope with
// the per-type weights and the freshness decay.
func (b *Builder) scoredQuery(req *request.Request, now time.Time) map[string]any {
	var inner map[string]any
	if req.Query != "" {
		inner = b.textQuery(req)
	} else {
		inner = map[string]any{"match_all": map[string]any{}}
	}

	functions := b.scoreFunctions(now)
	if len(functions) == 0 {
		return inner
	}
	return map[string]any{
		"function_score": map[string]any{
			"query":     inner,
			"functions": functions,
		},
	}
}

func (b *Builder) scoreFunctions(now time.Time) []map[string]any {
	var functions []map[string]any

	types := make([]string, 0, len(b.typeBoosts))
	for t := range b.typeBoosts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		weight := b.typeBoosts[t]
		// A neutral or non-positive weight adds nothing.
		if weight <= 0 || weight == 1 {
			continue
		}
		functions = append(functions, map[string]any{
			"filter": map[string]any{
				"term": map[string]any{"indexed_type": t},
			},
			"weight": weight,
		})
	}

	if b.decay.ScaleDays > 0 && b.decay.OffsetDays > 0 && b.decay.Decay > 0 {
		field := b.decay.TimeField
		if field == "" {
			field = "time_created"
		}
		functions = append(functions, map[string]any{
			"gauss": map[string]any{
				field: map[string]any{
					"origin": now.UTC().Format(time.RFC3339),
					"scale":  fmt.Sprintf("%dd", b.decay.ScaleDays),
					"offset": fmt.Sprintf("%dd", b.decay.OffsetDays),
					"decay":  b.decay.Decay,
				},
			},
		})
	}
	return functions
}

// filter renders the structured constraints as one bool tree, or nil
// when the request carries none.
func (b *Builder) filter(req *request.Request) map[string]any {
	var must []any

	addTerms := func(field string, guids []domain.GUID) {
		if len(guids) == 0 {
			return
		}
		values := make([]int64, len(guids))
		for i, g := range guids {
			values[i] = int64(g)
		}
		must = append(must, map[string]any{
			"terms": map[string]any{field: values},
		})
	}

	addTerms("guid", req.GUIDs)
	addTerms("owner_guid", req.OwnerGUIDs)
	addTerms("container_guid", req.ContainerGUIDs)

	if clause := accessClause(req); clause != nil {
		must = append(must, clause)
	}

	if len(req.TypeSubtypePairs) > 0 {
		values := make([]string, len(req.TypeSubtypePairs))
		for i, pair := range req.TypeSubtypePairs {
			values[i] = pair.FilterValue()
		}
		must = append(must, map[string]any{
			"terms": map[string]any{"indexed_type": values},
		})
	}

	addRange := func(field string, after, before *time.Time) {
		if after == nil && before == nil {
			return
		}
		bounds := map[string]any{}
		if after != nil {
			bounds["gte"] = after.UTC().Format(time.RFC3339)
		}
		if before != nil {
			bounds["lte"] = before.UTC().Format(time.RFC3339)
		}
		must = append(must, map[string]any{
			"range": map[string]any{field: bounds},
		})
	}

	addRange("time_created", req.CreatedAfter, req.CreatedBefore)
	addRange("time_updated", req.UpdatedAfter, req.UpdatedBefore)
	addRange("last_action", req.LastActionAfter, req.LastActionBefore)

	for _, name := range sortedKeys(req.ProfileFields) {
		value := strings.ToLower(req.ProfileFields[name])
		field := "metadata." + name
		must = append(must, map[string]any{
			"nested": map[string]any{
				"path": "metadata",
				"query": map[string]any{
					"bool": map[string]any{
						"should": []any{
							map[string]any{
								"wildcard": map[string]any{field + ".raw": "*" + value + "*"},
							},
							map[string]any{
								"match_phrase": map[string]any{field: value},
							},
						},
						"minimum_should_match": 1,
					},
				},
			},
		})
	}

	if len(must) == 0 {
		return nil
	}
	return map[string]any{"bool": map[string]any{"must": must}}
}

// accessClause renders the visibility constraint: a document matches
// when the caller owns it or its access_id is in the caller's visible
// set. Privileged callers bypass the clause entirely.
func accessClause(req *request.Request) map[string]any {
	if req.AccessBypass {
		return nil
	}

	var should []any
	if req.CallerGUID > 0 {
		should = append(should, map[string]any{
			"term": map[string]any{"owner_guid": int64(req.CallerGUID)},
		})
	}
	if len(req.AccessIDs) > 0 {
		should = append(should, map[string]any{
			"terms": map[string]any{"access_id": req.AccessIDs},
		})
	}
	if len(should) == 0 {
		return nil
	}
	return map[string]any{
		"bool": map[string]any{
			"should":               should,
			"minimum_should_match": 1,
		},
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sort renders the sort clauses. The default relevance sort adds a
// recency tiebreak; text properties sort on their keyword subfield
// with missing values last.
func (b *Builder) sort(req *request.Request) []any {
	if len(req.Sort) == 0 {
		return []any{
			map[string]any{"_score": map[string]any{"order": "desc"}},
			map[string]any{"time_created": map[string]any{"order": "desc"}},
		}
	}

	out := make([]any, 0, len(req.Sort))
	for _, s := range req.Sort {
		direction := s.Direction
		if direction == "" {
			direction = "desc"
		}

		if s.Kind == request.PropertyScore {
			out = append(out, map[string]any{"_score": map[string]any{"order": direction}})
			continue
		}

		field := sortField(s)
		clause := map[string]any{
			"order":   direction,
			"missing": "_last",
		}
		if s.UnmappedType != "" {
			clause["unmapped_type"] = s.UnmappedType
		}
		out = append(out, map[string]any{field: clause})
	}
	return out
}

func sortField(s request.Sort) string {
	switch s.Kind {
	case request.PropertyMetadata:
		return "metadata." + s.Property + ".raw"
	case request.PropertyCounter:
		return "counters." + s.Property
	default:
		if isTextAttribute(s.Property) {
			return s.Property + ".raw"
		}
		return s.Property
	}
}

func isTextAttribute(name string) bool {
	switch name {
	case "title", "name", "description", "tags", "username":
		return true
	}
	return false
}

// suggest builds the phrase suggester on the title suggestion field,
// collated against it so only phrases that actually match come back.
func (b *Builder) suggest(query string) map[string]any {
	return map[string]any{
		"text": query,
		"phrase_suggestion": map[string]any{
			"phrase": map[string]any{
				"field":     "title.suggestion",
				"size":      3,
				"collate": map[string]any{
					"query": map[string]any{
						"source": map[string]any{
							"match": map[string]any{
								"title.suggestion": "{{suggestion}}",
							},
						},
					},
					"prune": true,
				},
			},
		},
	}
}

func (b *Builder) highlight() map[string]any {
	return map[string]any{
		"pre_tags":  []string{"<strong class=\"search-highlight\">"},
		"post_tags": []string{"</strong>"},
		"fields": map[string]any{
			"title": map[string]any{
				"number_of_fragments": 0,
			},
			"description": map[string]any{
				"number_of_fragments": 2,
				"fragment_size":       150,
			},
			"tags": map[string]any{
				"number_of_fragments": 0,
			},
		},
	}
}

// escapeQuery removes characters with reserved meaning in
// simple_query_string input.
func escapeQuery(q string) string {
	replacer := strings.NewReplacer(
		"+", " ", "|", " ", "-", " ", "*", " ",
		"(", " ", ")", " ", "~", " ", "/", " ",
	)
	return strings.Join(strings.Fields(replacer.Replace(q)), " ")
}
