// Package chi exposes the admin and search HTTP API.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lagoon-cms/searchsync/internal/domain"
	"github.com/lagoon-cms/searchsync/internal/domain/search/request"
	"github.com/lagoon-cms/searchsync/internal/events"
	"github.com/lagoon-cms/searchsync/internal/index"
	"github.com/lagoon-cms/searchsync/internal/indexer"
	"github.com/lagoon-cms/searchsync/internal/logger"
	"github.com/lagoon-cms/searchsync/internal/metrics"
	"github.com/lagoon-cms/searchsync/internal/search"
)

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// SettingStore is the slice of the store admin actions write through.
type SettingStore interface {
	SetSetting(ctx context.Context, name, value string) error
	DeleteSetting(ctx context.Context, name string) error
	MarkPending(ctx context.Context, guid domain.GUID) error
}

// Server routes admin and search requests to the services.
type Server struct {
	searcher      *search.Service
	indexes       *index.Manager
	sync          *indexer.Service
	dispatcher    *events.Dispatcher
	settings      SettingStore
	logger        *zap.Logger
	errorHandlers []errorHandler
}

func NewServer(searcher *search.Service, indexes *index.Manager, sync *indexer.Service, dispatcher *events.Dispatcher, settings SettingStore, logger *zap.Logger) *Server {
	s := &Server{
		searcher:   searcher,
		indexes:    indexes,
		sync:       sync,
		dispatcher: dispatcher,
		settings:   settings,
		logger:     logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, "not_found"),
		sentinelHandler(domain.ErrUnsupportedRequest, http.StatusNotImplemented, "unsupported_request"),
		sentinelHandler(domain.ErrClientNotReady, http.StatusServiceUnavailable, "client_not_ready"),
		sentinelHandler(domain.ErrStorageUnavailable, http.StatusBadGateway, "engine_unavailable"),
		sentinelHandler(domain.ErrConfigOverride, http.StatusInternalServerError, "config_override"),
	}
	return s
}

// Router builds the HTTP routing table.
func (s *Server) Router(apiKeys []string) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(BearerAuthMiddleware(apiKeys))
	r.Use(metrics.Middleware())

	r.Get("/health", s.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.Search)
		r.Post("/search/count", s.Count)
		r.Get("/search/suggest", s.Suggest)

		r.Post("/events", s.HandleEvent)

		r.Get("/admin/index/status", s.IndexStatus)
		r.Post("/admin/index/initialize", s.InitializeIndex)
		r.Post("/admin/index/rebuild", s.RebuildIndex)
		r.Post("/admin/index/flush", s.FlushIndex)
		r.Post("/admin/index/mapping", s.UpdateMapping)
		r.Delete("/admin/index/{name}", s.DeleteIndex)

		r.Post("/admin/reindex", s.RequestReindex)
		r.Post("/admin/sync", s.RunSync)
		r.Post("/admin/entities/{guid}/reindex", s.ReindexEntity)
		r.Delete("/admin/entities/{guid}", s.DeleteEntity)
		r.Get("/admin/entities/{guid}/inspect", s.InspectEntity)
	})
	return r
}

// requestLogger stores a request-scoped logger carrying the request id
// so error reporting can tie log lines to one request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := s.logger.With(zap.String("request_id", chiMiddleware.GetReqID(r.Context())))
		next.ServeHTTP(w, r.WithContext(logger.ContextWithLogger(r.Context(), log)))
	})
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Search handles POST /api/v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSearchRequest(w, r)
	if !ok {
		return
	}

	result, err := s.searcher.Search(r.Context(), req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResultToAPI(result))
}

// Count handles POST /api/v1/search/count.
func (s *Server) Count(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSearchRequest(w, r)
	if !ok {
		return
	}

	total, err := s.searcher.Count(r.Context(), req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"total": total})
}

// Suggest handles GET /api/v1/search/suggest?q=...
func (s *Server) Suggest(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "query parameter q is required")
		return
	}

	suggestions, err := s.searcher.Suggest(r.Context(), query)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"suggestions": suggestions})
}

// IndexStatus handles GET /api/v1/admin/index/status.
func (s *Server) IndexStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.indexes.Status(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// InitializeIndex handles POST /api/v1/admin/index/initialize.
func (s *Server) InitializeIndex(w http.ResponseWriter, r *http.Request) {
	name, err := s.indexes.Initialize(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"index": name})
}

// RebuildIndex handles POST /api/v1/admin/index/rebuild. Sync is
// paused for the duration so the old index stops receiving writes
// mid-copy.
func (s *Server) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.SetSetting(r.Context(), indexer.SettingSyncEnabled, "no"); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	name, err := s.indexes.Rebuild(r.Context())
	if restoreErr := s.settings.DeleteSetting(r.Context(), indexer.SettingSyncEnabled); restoreErr != nil {
		s.logger.Error("failed to re-enable sync after rebuild", zap.Error(restoreErr))
	}
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"index": name})
}

// FlushIndex handles POST /api/v1/admin/index/flush.
func (s *Server) FlushIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.indexes.Flush(r.Context()); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleEvent handles POST /api/v1/events, the CMS lifecycle hook.
func (s *Server) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var ev events.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid event body: "+err.Error())
		return
	}
	if err := s.dispatcher.Handle(r.Context(), ev); err != nil {
		if errors.Is(err, domain.ErrStorageUnavailable) {
			s.handleDomainError(w, r, err)
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// UpdateMapping handles POST /api/v1/admin/index/mapping.
func (s *Server) UpdateMapping(w http.ResponseWriter, r *http.Request) {
	active, err := s.indexes.FindActiveIndex(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if err := s.indexes.UpdateMapping(r.Context(), active); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"index": active})
}

// DeleteIndex handles DELETE /api/v1/admin/index/{name}.
func (s *Server) DeleteIndex(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	active, err := s.indexes.FindActiveIndex(r.Context())
	if err == nil && active == name {
		writeError(w, http.StatusConflict, "index_active", "cannot delete the active index")
		return
	}
	if err := s.indexes.Delete(r.Context(), name); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestReindex handles POST /api/v1/admin/reindex. It records the
// cutoff; the next sync runs pick up all entities indexed before it.
func (s *Server) RequestReindex(w http.ResponseWriter, r *http.Request) {
	cutoff := strconv.FormatInt(time.Now().Unix(), 10)
	if err := s.settings.SetSetting(r.Context(), indexer.SettingReindexRequestedAt, cutoff); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"reindex_requested_at": cutoff})
}

// RunSync handles POST /api/v1/admin/sync: one immediate budgeted
// sync run outside the cron schedule.
func (s *Server) RunSync(w http.ResponseWriter, r *http.Request) {
	deadline := time.Now().Add(30 * time.Second)
	stats, err := s.sync.Sync(r.Context(), deadline)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ReindexEntity handles POST /api/v1/admin/entities/{guid}/reindex.
func (s *Server) ReindexEntity(w http.ResponseWriter, r *http.Request) {
	guid, ok := guidParam(w, r)
	if !ok {
		return
	}
	if err := s.settings.MarkPending(r.Context(), guid); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// DeleteEntity handles DELETE /api/v1/admin/entities/{guid}.
func (s *Server) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	guid, ok := guidParam(w, r)
	if !ok {
		return
	}
	if err := s.sync.DeleteEntity(r.Context(), guid); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// InspectEntity handles GET /api/v1/admin/entities/{guid}/inspect.
func (s *Server) InspectEntity(w http.ResponseWriter, r *http.Request) {
	guid, ok := guidParam(w, r)
	if !ok {
		return
	}
	inspection, err := s.searcher.Inspect(r.Context(), guid)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inspection)
}

func guidParam(w http.ResponseWriter, r *http.Request) (domain.GUID, bool) {
	raw := chi.URLParam(r, "guid")
	guid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || guid <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "guid must be a positive integer")
		return 0, false
	}
	return domain.GUID(guid), true
}

func (s *Server) decodeSearchRequest(w http.ResponseWriter, r *http.Request) (*request.Request, bool) {
	var api searchRequestAPI
	if err := json.NewDecoder(r.Body).Decode(&api); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return nil, false
	}
	return api.toRequest(), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client
// without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrNotFound,
		domain.ErrUnsupportedRequest,
		domain.ErrClientNotReady,
		domain.ErrStorageUnavailable,
		domain.ErrConfigOverride,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
