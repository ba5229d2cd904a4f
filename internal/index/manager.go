// Package index manages the lifecycle of the search indices: naming,
// creation, mapping updates, the read/write alias pair and full
// rebuilds.
package index

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lagoon-cms/searchsync/internal/domain"
	"github.com/lagoon-cms/searchsync/internal/esclient"
)

// SettingsOverride lets deployments adjust the index settings before
// creation. Returning nil is a configuration error and aborts index
// creation.
type SettingsOverride func(settings map[string]any) map[string]any

// Engine is the slice of the search gateway the manager needs.
type Engine interface {
	CreateIndex(ctx context.Context, name string, body map[string]any) error
	DeleteIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
	PutMapping(ctx context.Context, index string, body map[string]any) error
	PutAlias(ctx context.Context, index, alias string) error
	DeleteAlias(ctx context.Context, index, alias string) error
	AliasExists(ctx context.Context, index, alias string) (bool, error)
	Aliases(ctx context.Context) (map[string][]string, error)
	Flush(ctx context.Context, index string) error
	Stats(ctx context.Context, index string) (map[string]esclient.IndexStats, error)
	ClusterInfo(ctx context.Context) (map[string]any, error)
	Reindex(ctx context.Context, source, dest string) error
}

type Manager struct {
	engine     Engine
	prefix     string
	writeAlias string
	readAlias  string
	override   SettingsOverride
	log        *zap.Logger
	now        func() time.Time
}

func NewManager(engine Engine, prefix, readAlias string, override SettingsOverride, log *zap.Logger) *Manager {
	return &Manager{
		engine:     engine,
		prefix:     prefix,
		writeAlias: prefix,
		readAlias:  readAlias,
		override:   override,
		log:        log.Named("index"),
		now:        time.Now,
	}
}

// WriteAlias is the alias documents are written through.
func (m *Manager) WriteAlias() string { return m.writeAlias }

// ReadAlias is the alias searches go through.
func (m *Manager) ReadAlias() string { return m.readAlias }

// NextIndexName produces a fresh timestamped index name under the
// configured prefix.
func (m *Manager) NextIndexName() string {
	return fmt.Sprintf("%s_%d", m.prefix, m.now().Unix())
}

// indexPattern matches the prefix itself or any timestamped index
// under it.
func (m *Manager) indexPattern() *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(m.prefix) + "(_[0-9]+)?$")
}

// FindActiveIndex returns the index under the prefix that carries
// both the read and the write alias. No such index means the system
// was never initialized (or a rebuild was left half-done).
func (m *Manager) FindActiveIndex(ctx context.Context) (string, error) {
	aliases, err := m.engine.Aliases(ctx)
	if err != nil {
		return "", err
	}

	pattern := m.indexPattern()
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !pattern.MatchString(name) {
			continue
		}
		hasRead, hasWrite := false, false
		for _, alias := range aliases[name] {
			switch alias {
			case m.readAlias:
				hasRead = true
			case m.writeAlias:
				hasWrite = true
			}
		}
		if hasRead && hasWrite {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: no index with aliases %q and %q", domain.ErrNotFound, m.readAlias, m.writeAlias)
}

// Initialize creates the first index and attaches both aliases. Safe
// to call when an active index already exists.
func (m *Manager) Initialize(ctx context.Context) (string, error) {
	if name, err := m.FindActiveIndex(ctx); err == nil {
		return name, nil
	}

	name := m.NextIndexName()
	if err := m.Create(ctx, name); err != nil {
		return "", err
	}
	if err := m.AddAliases(ctx, name); err != nil {
		return "", err
	}
	m.log.Info("initialized search index", zap.String("index", name))
	return name, nil
}

// Create makes a new index with the standard settings and mapping.
func (m *Manager) Create(ctx context.Context, name string) error {
	settings := Settings()
	if m.override != nil {
		settings = m.override(settings)
		if settings == nil {
			return fmt.Errorf("%w: settings override returned nil", domain.ErrConfigOverride)
		}
	}

	body := map[string]any{
		"settings": settings,
		"mappings": Mapping(),
	}
	if err := m.engine.CreateIndex(ctx, name, body); err != nil {
		return err
	}
	m.log.Info("created index", zap.String("index", name))
	return nil
}

// UpdateMapping pushes the current mapping to an existing index. Only
// additive changes apply; anything else needs a rebuild.
func (m *Manager) UpdateMapping(ctx context.Context, name string) error {
	return m.engine.PutMapping(ctx, name, Mapping())
}

// AddAliases attaches the read and write aliases to an index.
func (m *Manager) AddAliases(ctx context.Context, name string) error {
	if err := m.engine.PutAlias(ctx, name, m.readAlias); err != nil {
		return err
	}
	return m.engine.PutAlias(ctx, name, m.writeAlias)
}

// RemoveAliases detaches the read and write aliases from an index.
func (m *Manager) RemoveAliases(ctx context.Context, name string) error {
	if err := m.engine.DeleteAlias(ctx, name, m.readAlias); err != nil {
		return err
	}
	return m.engine.DeleteAlias(ctx, name, m.writeAlias)
}

// Flush forces the active index to disk.
func (m *Manager) Flush(ctx context.Context) error {
	active, err := m.FindActiveIndex(ctx)
	if err != nil {
		return err
	}
	return m.engine.Flush(ctx, active)
}

// Delete removes an index entirely.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if err := m.engine.DeleteIndex(ctx, name); err != nil {
		return err
	}
	m.log.Info("deleted index", zap.String("index", name))
	return nil
}

// Rebuild creates a fresh index, copies all documents across and cuts
// the aliases over. The new index receives the aliases before the old
// one loses them, so reads never hit a moment with no active index.
// The old index is kept for manual cleanup.
func (m *Manager) Rebuild(ctx context.Context) (string, error) {
	current, err := m.FindActiveIndex(ctx)
	if err != nil {
		return "", err
	}

	next := m.NextIndexName()
	if next == current {
		// Same-second rebuild. Wait for a distinct name.
		time.Sleep(time.Second)
		next = m.NextIndexName()
	}

	if err := m.Create(ctx, next); err != nil {
		return "", err
	}
	if err := m.engine.Reindex(ctx, current, next); err != nil {
		return "", err
	}
	if err := m.AddAliases(ctx, next); err != nil {
		return "", err
	}
	if err := m.RemoveAliases(ctx, current); err != nil {
		return "", err
	}

	m.log.Info("rebuilt search index",
		zap.String("from", current),
		zap.String("to", next))
	return next, nil
}

// Status summarizes the state of all indices under the prefix.
type Status struct {
	ClusterName    string            `json:"cluster_name"`
	ClusterVersion string            `json:"cluster_version"`
	ActiveIndex    string            `json:"active_index"`
	Indices        []IndexStatusItem `json:"indices"`
}

type IndexStatusItem struct {
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases"`
	Docs      int64    `json:"docs"`
	SizeBytes int64    `json:"size_bytes"`
}

// Status collects cluster info, alias assignments and per-index
// stats for the admin status page.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	info, err := m.engine.ClusterInfo(ctx)
	if err != nil {
		return nil, err
	}

	status := &Status{}
	if name, ok := info["cluster_name"].(string); ok {
		status.ClusterName = name
	}
	if version, ok := info["version"].(map[string]any); ok {
		if number, ok := version["number"].(string); ok {
			status.ClusterVersion = number
		}
	}

	if active, err := m.FindActiveIndex(ctx); err == nil {
		status.ActiveIndex = active
	}

	aliases, err := m.engine.Aliases(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := m.engine.Stats(ctx, m.prefix+"*")
	if err != nil {
		return nil, err
	}

	pattern := m.indexPattern()
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		if pattern.MatchString(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		item := IndexStatusItem{Name: name, Aliases: aliases[name]}
		sort.Strings(item.Aliases)
		if s, ok := stats[name]; ok {
			item.Docs = s.Docs
			item.SizeBytes = s.SizeBytes
		}
		status.Indices = append(status.Indices, item)
	}
	return status, nil
}
