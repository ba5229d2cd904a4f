// Package esclient wraps the official Elasticsearch client behind a
// gateway that never leaks transport errors to callers. Every failure
// is logged and surfaced as a sentinel error or a zero value so the
// rest of the application degrades instead of crashing when the
// search cluster is down.
package esclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/lagoon-cms/searchsync/internal/config"
	"github.com/lagoon-cms/searchsync/internal/domain"
)

// Gateway owns the lazily initialised Elasticsearch client. The first
// call that needs a connection builds it; a bad configuration marks
// the gateway as permanently unavailable for the process lifetime.
type Gateway struct {
	cfg config.OpenSearchConfig
	log *zap.Logger

	mu       sync.Mutex
	client   *elasticsearch.Client
	initErr  error
	initDone bool
}

func New(cfg config.OpenSearchConfig, log *zap.Logger) *Gateway {
	return &Gateway{cfg: cfg, log: log.Named("esclient")}
}

// conn returns the shared client, creating it on first use.
func (g *Gateway) conn() (*elasticsearch.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.initDone {
		return g.client, g.initErr
	}
	g.initDone = true

	if len(g.cfg.Hosts) == 0 {
		g.initErr = fmt.Errorf("%w: no hosts configured", domain.ErrClientNotReady)
		return nil, g.initErr
	}

	escfg := elasticsearch.Config{
		Addresses: g.cfg.Hosts,
		Username:  g.cfg.Username,
		Password:  g.cfg.Password,
	}
	if g.cfg.IgnoreSSL {
		escfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	client, err := elasticsearch.NewClient(escfg)
	if err != nil {
		g.log.Error("failed to create search client", zap.Error(err))
		g.initErr = fmt.Errorf("%w: %v", domain.ErrClientNotReady, err)
		return nil, g.initErr
	}

	g.client = client
	return g.client, nil
}

// Ready reports whether a client can be constructed from the current
// configuration. It does not guarantee the cluster is reachable.
func (g *Gateway) Ready() bool {
	_, err := g.conn()
	return err == nil
}

// Ping checks cluster reachability.
func (g *Gateway) Ping(ctx context.Context) bool {
	client, err := g.conn()
	if err != nil {
		return false
	}
	res, err := client.Ping(client.Ping.WithContext(ctx))
	if err != nil {
		g.log.Warn("cluster ping failed", zap.Error(err))
		return false
	}
	defer res.Body.Close()
	return !res.IsError()
}

// ClusterInfo returns the root endpoint document (name, version).
func (g *Gateway) ClusterInfo(ctx context.Context) (map[string]any, error) {
	client, err := g.conn()
	if err != nil {
		return nil, err
	}
	res, err := client.Info(client.Info.WithContext(ctx))
	if err != nil {
		return nil, g.transportErr("info", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, g.statusErr("info", res)
	}
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, g.transportErr("info decode", err)
	}
	return out, nil
}

func (g *Gateway) transportErr(op string, err error) error {
	g.log.Error("search engine request failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}

func (g *Gateway) statusErr(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	g.log.Error("search engine returned error status",
		zap.String("op", op),
		zap.Int("status", res.StatusCode),
		zap.ByteString("body", body))
	return fmt.Errorf("%w: %s: status %d", domain.ErrStorageUnavailable, op, res.StatusCode)
}

func encodeBody(body any) (io.Reader, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return nil, err
	}
	return buf, nil
}

// SearchResponse is the subset of the search reply the application
// consumes.
type SearchResponse struct {
	ScrollID string          `json:"_scroll_id"`
	Took     int             `json:"took"`
	TimedOut bool            `json:"timed_out"`
	Hits     SearchHits      `json:"hits"`
	Aggs     json.RawMessage `json:"aggregations"`
	Suggest  json.RawMessage `json:"suggest"`
}

type SearchHits struct {
	Total    HitsTotal   `json:"total"`
	MaxScore float64     `json:"max_score"`
	Hits     []SearchHit `json:"hits"`
}

// HitsTotal tolerates both the modern {"value": n} object and the
// legacy bare-integer form.
type HitsTotal struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation"`
}

func (t *HitsTotal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		return json.Unmarshal(data, &t.Value)
	}
	type alias HitsTotal
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = HitsTotal(a)
	return nil
}

type SearchHit struct {
	Index     string              `json:"_index"`
	ID        string              `json:"_id"`
	Score     float64             `json:"_score"`
	Source    json.RawMessage     `json:"_source"`
	Highlight map[string][]string `json:"highlight"`
}

// Search executes a query body against the given index or alias.
func (g *Gateway) Search(ctx context.Context, index string, body map[string]any, opts ...SearchOption) (*SearchResponse, error) {
	client, err := g.conn()
	if err != nil {
		return nil, err
	}

	reader, err := encodeBody(body)
	if err != nil {
		return nil, g.transportErr("search encode", err)
	}

	so := searchOptions{}
	for _, opt := range opts {
		opt(&so)
	}

	apiOpts := []func(*esapi.SearchRequest){
		client.Search.WithContext(ctx),
		client.Search.WithIndex(index),
		client.Search.WithBody(reader),
		client.Search.WithTrackTotalHits(true),
	}
	if so.scroll > 0 {
		apiOpts = append(apiOpts, client.Search.WithScroll(so.scroll))
	}

	res, err := client.Search(apiOpts...)
	if err != nil {
		return nil, g.transportErr("search", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, g.statusErr("search", res)
	}

	var out SearchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, g.transportErr("search decode", err)
	}
	return &out, nil
}

// Scroll continues a scroll started by Search with a scroll option.
func (g *Gateway) Scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*SearchResponse, error) {
	client, err := g.conn()
	if err != nil {
		return nil, err
	}
	res, err := client.Scroll(
		client.Scroll.WithContext(ctx),
		client.Scroll.WithScrollID(scrollID),
		client.Scroll.WithScroll(keepAlive),
	)
	if err != nil {
		return nil, g.transportErr("scroll", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, g.statusErr("scroll", res)
	}
	var out SearchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, g.transportErr("scroll decode", err)
	}
	return &out, nil
}

// ClearScroll releases server-side scroll state. Failures are logged
// only; the scroll expires on its own.
func (g *Gateway) ClearScroll(ctx context.Context, scrollID string) {
	client, err := g.conn()
	if err != nil {
		return
	}
	res, err := client.ClearScroll(
		client.ClearScroll.WithContext(ctx),
		client.ClearScroll.WithScrollID(scrollID),
	)
	if err != nil {
		g.log.Warn("clear scroll failed", zap.Error(err))
		return
	}
	res.Body.Close()
}

// Count returns the number of documents matching the query body.
func (g *Gateway) Count(ctx context.Context, index string, body map[string]any) (int64, error) {
	client, err := g.conn()
	if err != nil {
		return 0, err
	}
	reader, err := encodeBody(body)
	if err != nil {
		return 0, g.transportErr("count encode", err)
	}
	res, err := client.Count(
		client.Count.WithContext(ctx),
		client.Count.WithIndex(index),
		client.Count.WithBody(reader),
	)
	if err != nil {
		return 0, g.transportErr("count", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, g.statusErr("count", res)
	}
	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, g.transportErr("count decode", err)
	}
	return out.Count, nil
}

// Get fetches a single document by id.
func (g *Gateway) Get(ctx context.Context, index, id string) (json.RawMessage, error) {
	client, err := g.conn()
	if err != nil {
		return nil, err
	}
	res, err := client.Get(index, id, client.Get.WithContext(ctx))
	if err != nil {
		return nil, g.transportErr("get", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if res.IsError() {
		return nil, g.statusErr("get", res)
	}
	var out struct {
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, g.transportErr("get decode", err)
	}
	return out.Source, nil
}

// BulkItem is one operation in a bulk request.
type BulkItem struct {
	Action string // "index" or "delete"
	Index  string
	ID     string
	Doc    any // nil for delete
}

// BulkItemResult is the per-item outcome of a bulk request.
type BulkItemResult struct {
	Action      string
	ID          string
	Status      int
	ErrorType   string
	ErrorReason string
}

// OK reports whether the item completed with a 2xx status.
func (r BulkItemResult) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Bulk sends an NDJSON bulk request and returns one result per item,
// in request order.
func (g *Gateway) Bulk(ctx context.Context, items []BulkItem) ([]BulkItemResult, error) {
	client, err := g.conn()
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	for _, item := range items {
		meta := map[string]map[string]string{
			item.Action: {"_index": item.Index, "_id": item.ID},
		}
		if err := enc.Encode(meta); err != nil {
			return nil, g.transportErr("bulk encode", err)
		}
		if item.Action != "delete" {
			if err := enc.Encode(item.Doc); err != nil {
				return nil, g.transportErr("bulk encode", err)
			}
		}
	}

	res, err := client.Bulk(bytes.NewReader(buf.Bytes()), client.Bulk.WithContext(ctx))
	if err != nil {
		return nil, g.transportErr("bulk", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, g.statusErr("bulk", res)
	}

	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, g.transportErr("bulk decode", err)
	}

	results := make([]BulkItemResult, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		for action, detail := range item {
			r := BulkItemResult{Action: action, ID: detail.ID, Status: detail.Status}
			if detail.Error != nil {
				r.ErrorType = detail.Error.Type
				r.ErrorReason = detail.Error.Reason
			}
			results = append(results, r)
		}
	}
	return results, nil
}

// DeleteDocument removes a single document. A 404 is reported
// distinctly so callers can treat already-gone as success.
func (g *Gateway) DeleteDocument(ctx context.Context, index, id string) (int, error) {
	client, err := g.conn()
	if err != nil {
		return 0, err
	}
	res, err := client.Delete(index, id, client.Delete.WithContext(ctx))
	if err != nil {
		return 0, g.transportErr("delete", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return res.StatusCode, g.statusErr("delete", res)
	}
	return res.StatusCode, nil
}

// SearchOption tweaks a Search call.
type SearchOption func(*searchOptions)

type searchOptions struct {
	scroll time.Duration
}

// WithScroll opens a scroll context with the given keep-alive.
func WithScroll(keepAlive time.Duration) SearchOption {
	return func(o *searchOptions) {
		o.scroll = keepAlive
	}
}
