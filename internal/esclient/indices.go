package esclient

import (
	"context"
	"encoding/json"
	"net/http"
)

// CreateIndex creates an index with the given settings/mappings body.
func (g *Gateway) CreateIndex(ctx context.Context, name string, body map[string]any) error {
	client, err := g.conn()
	if err != nil {
		return err
	}
	reader, err := encodeBody(body)
	if err != nil {
		return g.transportErr("indices.create encode", err)
	}
	res, err := client.Indices.Create(name,
		client.Indices.Create.WithContext(ctx),
		client.Indices.Create.WithBody(reader),
	)
	if err != nil {
		return g.transportErr("indices.create", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return g.statusErr("indices.create", res)
	}
	return nil
}

// DeleteIndex removes an index.
func (g *Gateway) DeleteIndex(ctx context.Context, name string) error {
	client, err := g.conn()
	if err != nil {
		return err
	}
	res, err := client.Indices.Delete([]string{name}, client.Indices.Delete.WithContext(ctx))
	if err != nil {
		return g.transportErr("indices.delete", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return g.statusErr("indices.delete", res)
	}
	return nil
}

// IndexExists reports whether the named index exists.
func (g *Gateway) IndexExists(ctx context.Context, name string) (bool, error) {
	client, err := g.conn()
	if err != nil {
		return false, err
	}
	res, err := client.Indices.Exists([]string{name}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, g.transportErr("indices.exists", err)
	}
	defer res.Body.Close()
	return res.StatusCode == http.StatusOK, nil
}

// PutMapping updates the mapping on an existing index.
func (g *Gateway) PutMapping(ctx context.Context, index string, body map[string]any) error {
	client, err := g.conn()
	if err != nil {
		return err
	}
	reader, err := encodeBody(body)
	if err != nil {
		return g.transportErr("indices.put_mapping encode", err)
	}
	res, err := client.Indices.PutMapping([]string{index}, reader,
		client.Indices.PutMapping.WithContext(ctx),
	)
	if err != nil {
		return g.transportErr("indices.put_mapping", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return g.statusErr("indices.put_mapping", res)
	}
	return nil
}

// PutAlias attaches an alias to an index.
func (g *Gateway) PutAlias(ctx context.Context, index, alias string) error {
	client, err := g.conn()
	if err != nil {
		return err
	}
	res, err := client.Indices.PutAlias([]string{index}, alias,
		client.Indices.PutAlias.WithContext(ctx),
	)
	if err != nil {
		return g.transportErr("indices.put_alias", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return g.statusErr("indices.put_alias", res)
	}
	return nil
}

// DeleteAlias detaches an alias from an index.
func (g *Gateway) DeleteAlias(ctx context.Context, index, alias string) error {
	client, err := g.conn()
	if err != nil {
		return err
	}
	res, err := client.Indices.DeleteAlias([]string{index}, []string{alias},
		client.Indices.DeleteAlias.WithContext(ctx),
	)
	if err != nil {
		return g.transportErr("indices.delete_alias", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return g.statusErr("indices.delete_alias", res)
	}
	return nil
}

// AliasExists reports whether the alias points at the given index.
func (g *Gateway) AliasExists(ctx context.Context, index, alias string) (bool, error) {
	client, err := g.conn()
	if err != nil {
		return false, err
	}
	res, err := client.Indices.ExistsAlias([]string{alias},
		client.Indices.ExistsAlias.WithContext(ctx),
		client.Indices.ExistsAlias.WithIndex(index),
	)
	if err != nil {
		return false, g.transportErr("indices.exists_alias", err)
	}
	defer res.Body.Close()
	return res.StatusCode == http.StatusOK, nil
}

// Aliases returns the alias map for every index, keyed by index name.
func (g *Gateway) Aliases(ctx context.Context) (map[string][]string, error) {
	client, err := g.conn()
	if err != nil {
		return nil, err
	}
	res, err := client.Indices.GetAlias(client.Indices.GetAlias.WithContext(ctx))
	if err != nil {
		return nil, g.transportErr("indices.get_alias", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, g.statusErr("indices.get_alias", res)
	}

	var parsed map[string]struct {
		Aliases map[string]json.RawMessage `json:"aliases"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, g.transportErr("indices.get_alias decode", err)
	}

	out := make(map[string][]string, len(parsed))
	for index, detail := range parsed {
		aliases := make([]string, 0, len(detail.Aliases))
		for alias := range detail.Aliases {
			aliases = append(aliases, alias)
		}
		out[index] = aliases
	}
	return out, nil
}

// Flush forces a flush of the named index.
func (g *Gateway) Flush(ctx context.Context, index string) error {
	client, err := g.conn()
	if err != nil {
		return err
	}
	res, err := client.Indices.Flush(
		client.Indices.Flush.WithContext(ctx),
		client.Indices.Flush.WithIndex(index),
	)
	if err != nil {
		return g.transportErr("indices.flush", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return g.statusErr("indices.flush", res)
	}
	return nil
}

// IndexStats holds the per-index document and size figures shown on
// the status page.
type IndexStats struct {
	Docs      int64
	SizeBytes int64
}

// Stats returns document counts and on-disk size per index.
func (g *Gateway) Stats(ctx context.Context, index string) (map[string]IndexStats, error) {
	client, err := g.conn()
	if err != nil {
		return nil, err
	}
	res, err := client.Indices.Stats(
		client.Indices.Stats.WithContext(ctx),
		client.Indices.Stats.WithIndex(index),
	)
	if err != nil {
		return nil, g.transportErr("indices.stats", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, g.statusErr("indices.stats", res)
	}

	var parsed struct {
		Indices map[string]struct {
			Primaries struct {
				Docs struct {
					Count int64 `json:"count"`
				} `json:"docs"`
				Store struct {
					SizeInBytes int64 `json:"size_in_bytes"`
				} `json:"store"`
			} `json:"primaries"`
		} `json:"indices"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, g.transportErr("indices.stats decode", err)
	}

	out := make(map[string]IndexStats, len(parsed.Indices))
	for name, detail := range parsed.Indices {
		out[name] = IndexStats{
			Docs:      detail.Primaries.Docs.Count,
			SizeBytes: detail.Primaries.Store.SizeInBytes,
		}
	}
	return out, nil
}

// Reindex copies all documents from source to dest and waits for
// completion.
func (g *Gateway) Reindex(ctx context.Context, source, dest string) error {
	client, err := g.conn()
	if err != nil {
		return err
	}
	reader, err := encodeBody(map[string]any{
		"source": map[string]any{"index": source},
		"dest":   map[string]any{"index": dest},
	})
	if err != nil {
		return g.transportErr("reindex encode", err)
	}
	res, err := client.Reindex(reader,
		client.Reindex.WithContext(ctx),
		client.Reindex.WithWaitForCompletion(true),
	)
	if err != nil {
		return g.transportErr("reindex", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return g.statusErr("reindex", res)
	}
	return nil
}
