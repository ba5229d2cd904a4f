package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lagoon-cms/searchsync/internal/domain"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

const entityColumns = `guid, type, subtype, owner_guid, container_guid, access_id,
	time_created, time_updated, last_action, title, name, description,
	username, language, banned, disabled, last_indexed`

// placeholders returns "$start, $start+1, ..." for n arguments.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

// typePairCondition builds a predicate matching any of the given
// type/subtype pairs. A pair without a subtype matches rows with an
// empty subtype.
func typePairCondition(pairs []domain.TypeSubtype, args *[]any) string {
	if len(pairs) == 0 {
		return "FALSE"
	}
	conds := make([]string, 0, len(pairs))
	for _, p := range pairs {
		n := len(*args)
		conds = append(conds, fmt.Sprintf("(type = $%d AND subtype = $%d)", n+1, n+2))
		*args = append(*args, p.Type, p.Subtype)
	}
	return "(" + strings.Join(conds, " OR ") + ")"
}

func skipCondition(skip []domain.GUID, args *[]any) string {
	if len(skip) == 0 {
		return ""
	}
	n := len(*args)
	for _, g := range skip {
		*args = append(*args, int64(g))
	}
	return fmt.Sprintf(" AND guid NOT IN (%s)", placeholders(n+1, len(skip)))
}

func (s *Store) scanEntities(ctx context.Context, query string, args ...any) ([]*domain.Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var out []*domain.Entity
	for rows.Next() {
		e := &domain.Entity{}
		var lastIndexed sql.NullInt64
		err := rows.Scan(
			&e.GUID, &e.Type, &e.Subtype, &e.OwnerGUID, &e.ContainerGUID,
			&e.AccessID, &e.TimeCreated, &e.TimeUpdated, &e.LastAction,
			&e.Title, &e.Name, &e.Description, &e.Username, &e.Language,
			&e.Banned, &e.Disabled, &lastIndexed,
		)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		if lastIndexed.Valid {
			v := lastIndexed.Int64
			e.LastIndexed = &v
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}

	if err := s.loadMetadata(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// loadMetadata attaches metadata name/value pairs to each entity and
// promotes the "tags" metadata to the Tags field.
func (s *Store) loadMetadata(ctx context.Context, entities []*domain.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	byGUID := make(map[domain.GUID]*domain.Entity, len(entities))
	args := make([]any, 0, len(entities))
	for _, e := range entities {
		byGUID[e.GUID] = e
		args = append(args, int64(e.GUID))
	}

	query := fmt.Sprintf(
		`SELECT entity_guid, name, value FROM entity_metadata WHERE entity_guid IN (%s)`,
		placeholders(1, len(args)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var guid int64
		var name, value string
		if err := rows.Scan(&guid, &name, &value); err != nil {
			return fmt.Errorf("scan metadata: %w", err)
		}
		e, ok := byGUID[domain.GUID(guid)]
		if !ok {
			continue
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string][]string)
		}
		e.Metadata[name] = append(e.Metadata[name], value)
		if name == "tags" {
			e.Tags = append(e.Tags, value)
		}
	}
	return rows.Err()
}

// ScanNew returns entities that have never been considered for
// indexing. Banned users never enter the index this way.
func (s *Store) ScanNew(ctx context.Context, pairs []domain.TypeSubtype, skip []domain.GUID, limit int) ([]*domain.Entity, error) {
	var args []any
	query := fmt.Sprintf(`SELECT %s FROM entities
		WHERE last_indexed IS NULL
		AND disabled = FALSE
		AND NOT (type = 'user' AND banned = TRUE)
		AND %s`, entityColumns, typePairCondition(pairs, &args))
	query += skipCondition(skip, &args)
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY guid ASC LIMIT $%d", len(args))

	return s.scanEntities(ctx, query, args...)
}

// ScanUpdated returns entities whose marker was reset to pending.
func (s *Store) ScanUpdated(ctx context.Context, pairs []domain.TypeSubtype, skip []domain.GUID, limit int) ([]*domain.Entity, error) {
	var args []any
	query := fmt.Sprintf(`SELECT %s FROM entities
		WHERE last_indexed = 0
		AND disabled = FALSE
		AND %s`, entityColumns, typePairCondition(pairs, &args))
	query += skipCondition(skip, &args)
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY guid ASC LIMIT $%d", len(args))

	return s.scanEntities(ctx, query, args...)
}

// ScanForcedReindex returns entities indexed before the reindex
// cutoff requested by an administrator.
func (s *Store) ScanForcedReindex(ctx context.Context, pairs []domain.TypeSubtype, skip []domain.GUID, cutoff int64, limit int) ([]*domain.Entity, error) {
	var args []any
	query := fmt.Sprintf(`SELECT %s FROM entities
		WHERE last_indexed > 0
		AND disabled = FALSE
		AND %s`, entityColumns, typePairCondition(pairs, &args))
	args = append(args, cutoff)
	query += fmt.Sprintf(" AND last_indexed < $%d", len(args))
	query += skipCondition(skip, &args)
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY guid ASC LIMIT $%d", len(args))

	return s.scanEntities(ctx, query, args...)
}

// GetEntity fetches a single entity regardless of marker state.
func (s *Store) GetEntity(ctx context.Context, guid domain.GUID) (*domain.Entity, error) {
	query := fmt.Sprintf(`SELECT %s FROM entities WHERE guid = $1`, entityColumns)
	entities, err := s.scanEntities(ctx, query, int64(guid))
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, domain.ErrNotFound
	}
	return entities[0], nil
}

// GetEntities fetches the given guids, skipping ones that do not
// exist. Disabled entities are excluded.
func (s *Store) GetEntities(ctx context.Context, guids []domain.GUID) ([]*domain.Entity, error) {
	if len(guids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(guids))
	for _, g := range guids {
		args = append(args, int64(g))
	}
	query := fmt.Sprintf(`SELECT %s FROM entities WHERE disabled = FALSE AND guid IN (%s)`,
		entityColumns, placeholders(1, len(args)))
	return s.scanEntities(ctx, query, args...)
}

// ExistingGUIDs reports which of the given guids still belong in the
// index: enabled, of a registered type/subtype pair and not a banned
// user. Anything else counts as gone, so a type unregistered after
// indexing or a ban gets its documents purged by the reconciler.
func (s *Store) ExistingGUIDs(ctx context.Context, pairs []domain.TypeSubtype, guids []domain.GUID) (map[domain.GUID]bool, error) {
	if len(guids) == 0 {
		return map[domain.GUID]bool{}, nil
	}
	var args []any
	pairCond := typePairCondition(pairs, &args)
	for _, g := range guids {
		args = append(args, int64(g))
	}
	query := fmt.Sprintf(`SELECT guid FROM entities
		WHERE disabled = FALSE
		AND NOT (type = 'user' AND banned = TRUE)
		AND %s
		AND guid IN (%s)`,
		pairCond, placeholders(len(args)-len(guids)+1, len(guids)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query existing guids: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.GUID]bool, len(guids))
	for rows.Next() {
		var guid int64
		if err := rows.Scan(&guid); err != nil {
			return nil, fmt.Errorf("scan guid: %w", err)
		}
		out[domain.GUID(guid)] = true
	}
	return out, rows.Err()
}

// ScanIndexedGUIDs pages through guids currently marked as indexed,
// in ascending order starting after the given guid.
func (s *Store) ScanIndexedGUIDs(ctx context.Context, after domain.GUID, limit int) ([]domain.GUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guid FROM entities WHERE last_indexed > 0 AND guid > $1 ORDER BY guid ASC LIMIT $2`,
		int64(after), limit)
	if err != nil {
		return nil, fmt.Errorf("scan indexed guids: %w", err)
	}
	defer rows.Close()

	var out []domain.GUID
	for rows.Next() {
		var guid int64
		if err := rows.Scan(&guid); err != nil {
			return nil, fmt.Errorf("scan guid: %w", err)
		}
		out = append(out, domain.GUID(guid))
	}
	return out, rows.Err()
}

// MarkIndexed records a successful index round-trip.
func (s *Store) MarkIndexed(ctx context.Context, guid domain.GUID, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE entities SET last_indexed = $1 WHERE guid = $2`, ts, int64(guid))
	if err != nil {
		return fmt.Errorf("mark indexed: %w", err)
	}
	return nil
}

// MarkPending schedules a re-index. Entities that were never marked
// for indexing keep their NULL marker; only previously tracked rows
// are reset.
func (s *Store) MarkPending(ctx context.Context, guid domain.GUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE entities SET last_indexed = 0 WHERE guid = $1 AND last_indexed IS NOT NULL`,
		int64(guid))
	if err != nil {
		return fmt.Errorf("mark pending: %w", err)
	}
	return nil
}

// MarkPendingBatch resets the marker to pending for every tracked
// entity in the set. Returns the number of rows changed.
func (s *Store) MarkPendingBatch(ctx context.Context, guids []domain.GUID) (int64, error) {
	if len(guids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(guids))
	for _, g := range guids {
		args = append(args, int64(g))
	}
	query := fmt.Sprintf(
		`UPDATE entities SET last_indexed = 0 WHERE last_indexed IS NOT NULL AND guid IN (%s)`,
		placeholders(1, len(args)))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark pending batch: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClearMarker puts the entity back in the never-indexed state. Used
// when an entity is banned, disabled or removed from the index.
func (s *Store) ClearMarker(ctx context.Context, guid domain.GUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE entities SET last_indexed = NULL WHERE guid = $1`, int64(guid))
	if err != nil {
		return fmt.Errorf("clear marker: %w", err)
	}
	return nil
}

// Relationships returns relationships pointing at the entity,
// restricted to the configured relationship names.
func (s *Store) Relationships(ctx context.Context, guid domain.GUID, names []string) ([]domain.Relationship, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := []any{int64(guid)}
	for _, n := range names {
		args = append(args, n)
	}
	query := fmt.Sprintf(`SELECT id, time_created, guid_one, guid_two, relationship
		FROM entity_relationships
		WHERE guid_two = $1 AND relationship IN (%s)
		ORDER BY id ASC`, placeholders(2, len(names)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	var out []domain.Relationship
	for rows.Next() {
		var r domain.Relationship
		var created int64
		if err := rows.Scan(&r.ID, &created, &r.GUIDOne, &r.GUIDTwo, &r.Relationship); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		r.TimeCreated = time.Unix(created, 0).UTC().Format(time.RFC3339)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AnnotationCount counts annotations of a given name on the entity.
func (s *Store) AnnotationCount(ctx context.Context, guid domain.GUID, name string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entity_annotations WHERE entity_guid = $1 AND name = $2`,
		int64(guid), name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count annotations: %w", err)
	}
	return n, nil
}

// CommentCount counts enabled comment entities contained by the
// entity.
func (s *Store) CommentCount(ctx context.Context, guid domain.GUID) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE container_guid = $1 AND type = 'object' AND subtype = 'comment' AND disabled = FALSE`,
		int64(guid)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count comments: %w", err)
	}
	return n, nil
}

// MemberCount counts member relationships pointing at a group.
func (s *Store) MemberCount(ctx context.Context, guid domain.GUID) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entity_relationships WHERE guid_two = $1 AND relationship = 'member'`,
		int64(guid)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

// Setting reads a named value from search_settings.
func (s *Store) Setting(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM search_settings WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read setting %q: %w", name, err)
	}
	return value, nil
}

// SetSetting upserts a named value.
func (s *Store) SetSetting(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_settings (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value
	`, name, value)
	if err != nil {
		return fmt.Errorf("write setting %q: %w", name, err)
	}
	return nil
}

// DeleteSetting removes a named value. Missing rows are not an error.
func (s *Store) DeleteSetting(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM search_settings WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete setting %q: %w", name, err)
	}
	return nil
}
