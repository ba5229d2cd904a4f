package search

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lagoon-cms/searchsync/internal/domain"
	"github.com/lagoon-cms/searchsync/internal/domain/search/request"
	"github.com/lagoon-cms/searchsync/internal/esclient"
	"github.com/lagoon-cms/searchsync/internal/metrics"
)

// Engine is the slice of the search gateway the service queries.
type Engine interface {
	Search(ctx context.Context, index string, body map[string]any, opts ...esclient.SearchOption) (*esclient.SearchResponse, error)
	Count(ctx context.Context, index string, body map[string]any) (int64, error)
	Get(ctx context.Context, index, id string) (json.RawMessage, error)
}

// Service answers search requests against the read alias. Each call
// builds its query state from scratch, so no request leaks into the
// next one.
type Service struct {
	engine     Engine
	hydrator   EntityHydrator
	readAlias  string
	typeBoosts map[string]float64
	decay      Decay
	log        *zap.Logger
	now        func() time.Time
}

func NewService(engine Engine, hydrator EntityHydrator, readAlias string, typeBoosts map[string]float64, decay Decay, log *zap.Logger) *Service {
	return &Service{
		engine:     engine,
		hydrator:   hydrator,
		readAlias:  readAlias,
		typeBoosts: typeBoosts,
		decay:      decay,
		log:        log.Named("search"),
		now:        time.Now,
	}
}

func (s *Service) builder() *Builder {
	return NewBuilder(s.typeBoosts, s.decay)
}

// Search runs a request and returns hydrated results. Requests using
// constraints this engine does not translate are refused with
// ErrUnsupportedRequest so the caller can fall back.
func (s *Service) Search(ctx context.Context, req *request.Request) (*Result, error) {
	if !req.Supported() {
		return nil, domain.ErrUnsupportedRequest
	}
	req.Normalize()

	if req.Count {
		total, err := s.Count(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Result{Total: total}, nil
	}

	builder := s.builder()
	body := builder.Body(req, s.now())

	start := time.Now()
	resp, err := s.engine.Search(ctx, s.readAlias, body)
	metrics.SearchRequestDuration.WithLabelValues("search").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	result := parseResult(resp, s.log)

	// Engines that omit the total still return hits; fall back to a
	// count query so pagination stays correct.
	if result.Total == 0 && len(result.Hits) > 0 {
		total, err := s.engine.Count(ctx, s.readAlias, builder.CountBody(req))
		if err != nil {
			return nil, err
		}
		result.Total = total
	}

	hydrate(ctx, s.hydrator, result, s.log)
	return result, nil
}

// Count returns the number of matching documents without fetching
// hits.
func (s *Service) Count(ctx context.Context, req *request.Request) (int64, error) {
	if !req.Supported() {
		return 0, domain.ErrUnsupportedRequest
	}
	req.Normalize()

	start := time.Now()
	total, err := s.engine.Count(ctx, s.readAlias, s.builder().CountBody(req))
	metrics.SearchRequestDuration.WithLabelValues("count").Observe(time.Since(start).Seconds())
	return total, err
}

// Suggest returns query corrections without fetching hits.
func (s *Service) Suggest(ctx context.Context, query string) ([]string, error) {
	body := map[string]any{
		"size":    0,
		"suggest": s.builder().suggest(query),
	}

	start := time.Now()
	resp, err := s.engine.Search(ctx, s.readAlias, body)
	metrics.SearchRequestDuration.WithLabelValues("suggest").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return parseSuggestions(resp.Suggest), nil
}

// Inspect returns the stored document for an entity side by side with
// the live source row, for the admin inspect page.
type Inspection struct {
	GUID     domain.GUID     `json:"guid"`
	Document json.RawMessage `json:"document"`
	Entity   *domain.Entity  `json:"entity,omitempty"`
}

func (s *Service) Inspect(ctx context.Context, guid domain.GUID) (*Inspection, error) {
	doc, err := s.engine.Get(ctx, s.readAlias, strconv.FormatInt(int64(guid), 10))
	if err != nil {
		return nil, err
	}

	inspection := &Inspection{GUID: guid, Document: doc}
	if s.hydrator != nil {
		entities, err := s.hydrator.GetEntities(ctx, []domain.GUID{guid})
		if err == nil && len(entities) > 0 {
			inspection.Entity = entities[0]
		}
	}
	return inspection, nil
}
