// Package events translates entity lifecycle notifications from the
// CMS into index marker changes and deletion enqueues. The dispatcher
// never touches the index directly; it hands everything to the next
// sync run.
package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lagoon-cms/searchsync/internal/domain"
)

// Actions accepted by the dispatcher.
const (
	ActionCreated      = "created"
	ActionUpdated      = "updated"
	ActionDeleted      = "deleted"
	ActionDisabled     = "disabled"
	ActionEnabled      = "enabled"
	ActionBanned       = "banned"
	ActionUnbanned     = "unbanned"
	ActionRelationship = "relationship"
	ActionComment      = "comment"
	ActionAnnotation   = "annotation"
)

// Event is one lifecycle notification. GUID is the entity the action
// happened to; RelatedGUID is the second party for relationship events
// and the container for comments and annotations.
type Event struct {
	Action      string      `json:"action"`
	GUID        domain.GUID `json:"guid"`
	RelatedGUID domain.GUID `json:"related_guid,omitempty"`
}

// Marker is the slice of the store the dispatcher writes markers
// through.
type Marker interface {
	MarkPending(ctx context.Context, guid domain.GUID) error
	ClearMarker(ctx context.Context, guid domain.GUID) error
}

// Deleter schedules index deletions.
type Deleter interface {
	DeleteEntity(ctx context.Context, guid domain.GUID) error
}

// CacheInvalidator drops stale entities from the hydration cache.
type CacheInvalidator interface {
	Invalidate(guid domain.GUID)
}

// Dispatcher applies lifecycle events to the marker state.
type Dispatcher struct {
	markers Marker
	deleter Deleter
	cache   CacheInvalidator
	log     *zap.Logger
}

func NewDispatcher(markers Marker, deleter Deleter, cache CacheInvalidator, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		markers: markers,
		deleter: deleter,
		cache:   cache,
		log:     log.Named("events"),
	}
}

// Handle applies one event. Unknown actions are an error; the caller
// decides whether to drop or retry.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) error {
	if ev.GUID <= 0 {
		return fmt.Errorf("event %q: guid must be positive", ev.Action)
	}

	switch ev.Action {
	case ActionCreated:
		// New entities carry no marker yet; the next scan picks them up.
		return nil

	case ActionUpdated, ActionEnabled, ActionUnbanned:
		return d.markPending(ctx, ev.GUID)

	case ActionDeleted, ActionDisabled, ActionBanned:
		d.invalidate(ev.GUID)
		return d.deleter.DeleteEntity(ctx, ev.GUID)

	case ActionRelationship:
		if err := d.markPending(ctx, ev.GUID); err != nil {
			return err
		}
		if ev.RelatedGUID > 0 {
			return d.markPending(ctx, ev.RelatedGUID)
		}
		return nil

	case ActionComment, ActionAnnotation:
		// Engagement counters live on the container document.
		target := ev.RelatedGUID
		if target <= 0 {
			target = ev.GUID
		}
		return d.markPending(ctx, target)

	default:
		return fmt.Errorf("unknown event action %q", ev.Action)
	}
}

func (d *Dispatcher) markPending(ctx context.Context, guid domain.GUID) error {
	d.invalidate(guid)
	if err := d.markers.MarkPending(ctx, guid); err != nil {
		return fmt.Errorf("mark pending %d: %w", guid, err)
	}
	return nil
}

func (d *Dispatcher) invalidate(guid domain.GUID) {
	if d.cache != nil {
		d.cache.Invalidate(guid)
	}
}
