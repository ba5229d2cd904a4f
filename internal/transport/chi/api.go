package chi

import (
	"encoding/json"
	"time"

	"github.com/lagoon-cms/searchsync/internal/domain"
	"github.com/lagoon-cms/searchsync/internal/domain/search/request"
	"github.com/lagoon-cms/searchsync/internal/search"
)

// searchRequestAPI is the wire form of a search request.
type searchRequestAPI struct {
	Query    string `json:"query"`
	Tokenize *bool  `json:"tokenize,omitempty"`

	Fields struct {
		Attributes  []string `json:"attributes,omitempty"`
		Metadata    []string `json:"metadata,omitempty"`
		Annotations []string `json:"annotations,omitempty"`
	} `json:"fields"`
	FieldBoosts map[string]float64 `json:"field_boosts,omitempty"`

	Types          []string `json:"types,omitempty"`
	GUIDs          []int64  `json:"guids,omitempty"`
	OwnerGUIDs     []int64  `json:"owner_guids,omitempty"`
	ContainerGUIDs []int64  `json:"container_guids,omitempty"`

	CallerGUID   int64 `json:"caller_guid,omitempty"`
	AccessIDs    []int `json:"access_ids,omitempty"`
	AccessBypass bool  `json:"access_bypass,omitempty"`

	CreatedBefore    *int64 `json:"created_before,omitempty"`
	CreatedAfter     *int64 `json:"created_after,omitempty"`
	UpdatedBefore    *int64 `json:"updated_before,omitempty"`
	UpdatedAfter     *int64 `json:"updated_after,omitempty"`
	LastActionBefore *int64 `json:"last_action_before,omitempty"`
	LastActionAfter  *int64 `json:"last_action_after,omitempty"`

	Sort []struct {
		Property     string `json:"property"`
		Kind         string `json:"kind,omitempty"`
		Direction    string `json:"direction,omitempty"`
		UnmappedType string `json:"unmapped_type,omitempty"`
	} `json:"sort,omitempty"`

	Offset int  `json:"offset,omitempty"`
	Limit  int  `json:"limit,omitempty"`
	Count  bool `json:"count,omitempty"`

	ProfileFields map[string]string `json:"profile_fields,omitempty"`
	Aggs          map[string]any    `json:"aggs,omitempty"`
}

func (a *searchRequestAPI) toRequest() *request.Request {
	req := &request.Request{
		Query:    a.Query,
		Tokenize: a.Tokenize,
		Fields: request.Fields{
			Attributes:  a.Fields.Attributes,
			Metadata:    a.Fields.Metadata,
			Annotations: a.Fields.Annotations,
		},
		FieldBoosts:   a.FieldBoosts,
		CallerGUID:    domain.GUID(a.CallerGUID),
		AccessIDs:     a.AccessIDs,
		AccessBypass:  a.AccessBypass,
		Offset:        a.Offset,
		Limit:         a.Limit,
		Count:         a.Count,
		ProfileFields: a.ProfileFields,
		Aggs:          a.Aggs,
	}

	for _, t := range a.Types {
		req.TypeSubtypePairs = append(req.TypeSubtypePairs, parseTypePair(t))
	}
	req.GUIDs = toGUIDs(a.GUIDs)
	req.OwnerGUIDs = toGUIDs(a.OwnerGUIDs)
	req.ContainerGUIDs = toGUIDs(a.ContainerGUIDs)

	req.CreatedBefore = toTime(a.CreatedBefore)
	req.CreatedAfter = toTime(a.CreatedAfter)
	req.UpdatedBefore = toTime(a.UpdatedBefore)
	req.UpdatedAfter = toTime(a.UpdatedAfter)
	req.LastActionBefore = toTime(a.LastActionBefore)
	req.LastActionAfter = toTime(a.LastActionAfter)

	for _, s := range a.Sort {
		kind := request.PropertyKind(s.Kind)
		if kind == "" {
			kind = request.PropertyAttribute
		}
		req.Sort = append(req.Sort, request.Sort{
			Property:     s.Property,
			Kind:         kind,
			Direction:    s.Direction,
			UnmappedType: s.UnmappedType,
		})
	}
	return req
}

func parseTypePair(s string) domain.TypeSubtype {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return domain.TypeSubtype{Type: s[:i], Subtype: s[i+1:]}
		}
	}
	return domain.TypeSubtype{Type: s}
}

func toGUIDs(values []int64) []domain.GUID {
	if len(values) == 0 {
		return nil
	}
	out := make([]domain.GUID, len(values))
	for i, v := range values {
		out[i] = domain.GUID(v)
	}
	return out
}

func toTime(epoch *int64) *time.Time {
	if epoch == nil {
		return nil
	}
	t := time.Unix(*epoch, 0).UTC()
	return &t
}

// searchResultAPI is the wire form of a search result.
type searchResultAPI struct {
	Total       int64            `json:"total"`
	MaxScore    float64          `json:"max_score"`
	Hits        []searchHitAPI   `json:"hits"`
	Suggestions []string         `json:"suggestions,omitempty"`
	Aggs        json.RawMessage  `json:"aggregations,omitempty"`
}

type searchHitAPI struct {
	GUID               int64           `json:"guid"`
	Score              float64         `json:"score"`
	MatchedTitle       string          `json:"matched_title,omitempty"`
	MatchedDescription string          `json:"matched_description,omitempty"`
	MatchedTags        string          `json:"matched_tags,omitempty"`
	Source             json.RawMessage `json:"source,omitempty"`
}

func searchResultToAPI(r *search.Result) searchResultAPI {
	out := searchResultAPI{
		Total:       r.Total,
		MaxScore:    r.MaxScore,
		Hits:        make([]searchHitAPI, 0, len(r.Hits)),
		Suggestions: r.Suggestions,
		Aggs:        r.Aggs,
	}
	for _, hit := range r.Hits {
		out.Hits = append(out.Hits, searchHitAPI{
			GUID:               int64(hit.GUID),
			Score:              hit.Score,
			MatchedTitle:       hit.MatchedTitle,
			MatchedDescription: hit.MatchedDescription,
			MatchedTags:        hit.MatchedTags,
			Source:             hit.Source,
		})
	}
	return out
}
