// Package syncview is the dashboard side of the pipeline: incremental
// retrieval of persisted events and their merge into a deduplicated,
// newest-first view.
package syncview

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/surfacelabs/surfacetag/internal/telemetry"
)

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

const DefaultPollInterval = 5 * time.Second

type Logger interface {
	Printf(format string, args ...any)
}

type ViewOptions struct {
	TagID        string
	PollInterval time.Duration
	// OnEvent, when set, is invoked once per newly merged event, in the
	// order the merged batch is prepended (newest first).
	OnEvent func(event telemetry.Event)
	Logger  Logger
}

// View accumulates events across an initial load and any number of delta
// loads. Invariants: the list never holds two events with the same id, is
// always sorted by creation time descending, and the cursor never regresses.
type View struct {
	client   Client
	tagID    string
	interval time.Duration
	onEvent  func(telemetry.Event)
	logger   Logger

	mu      sync.Mutex
	state   State
	events  []telemetry.Event
	seen    map[string]struct{}
	cursor  time.Time
	lastErr error
}

func NewView(client Client, opts ViewOptions) (*View, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	tagID := strings.TrimSpace(opts.TagID)
	if tagID == "" {
		return nil, fmt.Errorf("tag id is required")
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &View{
		client:   client,
		tagID:    tagID,
		interval: interval,
		onEvent:  opts.OnEvent,
		logger:   opts.Logger,
		state:    StateIdle,
		seen:     map[string]struct{}{},
	}, nil
}

// LoadInitial replaces the view with the newest page of events and seeds the
// cursor. Failure moves the view to the error state; it can be re-triggered.
func (v *View) LoadInitial(ctx context.Context) error {
	v.mu.Lock()
	v.state = StateLoading
	v.mu.Unlock()

	batch, err := v.client.ListEvents(ctx, v.tagID, "")
	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.state = StateError
		v.lastErr = err
		return err
	}
	sortNewestFirst(batch)
	v.events = batch
	v.seen = make(map[string]struct{}, len(batch))
	for _, event := range batch {
		v.seen[event.ID] = struct{}{}
	}
	v.cursor = time.Time{}
	if len(batch) > 0 {
		v.cursor = batch[0].CreatedAt
	}
	v.state = StateReady
	v.lastErr = nil
	if v.onEvent != nil {
		for _, event := range batch {
			v.onEvent(event)
		}
	}
	return nil
}

// PollOnce performs one delta load bounded by the cursor. A failed delta is a
// transient error: recorded, but the view stays ready and keeps its list.
func (v *View) PollOnce(ctx context.Context) error {
	v.mu.Lock()
	if v.state != StateReady {
		v.mu.Unlock()
		return fmt.Errorf("view is %s, not ready", v.state)
	}
	since := ""
	if !v.cursor.IsZero() {
		since = v.cursor.Format(time.RFC3339Nano)
	}
	v.mu.Unlock()

	batch, err := v.client.ListEvents(ctx, v.tagID, since)
	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.lastErr = err
		return err
	}
	v.lastErr = nil
	v.mergeLocked(batch)
	return nil
}

// mergeLocked prepends the batch to the view: sort the batch newest-first,
// drop ids already present (the since boundary can overlap), prepend, and
// advance the cursor to the maximum observed timestamp. The accumulated list
// is never re-sorted; ordering holds because every prepended batch is itself
// sorted and strictly newer than what follows.
func (v *View) mergeLocked(batch []telemetry.Event) {
	if len(batch) == 0 {
		return
	}
	sortNewestFirst(batch)
	fresh := make([]telemetry.Event, 0, len(batch))
	for _, event := range batch {
		if _, dup := v.seen[event.ID]; dup {
			continue
		}
		fresh = append(fresh, event)
		v.seen[event.ID] = struct{}{}
	}
	if len(fresh) == 0 {
		return
	}
	v.events = append(fresh, v.events...)
	if newest := batch[0].CreatedAt; newest.After(v.cursor) {
		v.cursor = newest
	}
	if v.onEvent != nil {
		for _, event := range fresh {
			v.onEvent(event)
		}
	}
}

// Run drives the polling loop until ctx ends. Loads are serialized on this
// goroutine: a tick fires the next request only after the previous load has
// settled, so delta loads can never race each other or advance the cursor out
// of order.
func (v *View) Run(ctx context.Context) {
	if err := v.LoadInitial(ctx); err != nil {
		v.logf("initial event load failed: %v", err)
	}
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if v.State() != StateReady {
			if err := v.LoadInitial(ctx); err != nil {
				v.logf("initial event load failed: %v", err)
			}
			continue
		}
		if err := v.PollOnce(ctx); err != nil && ctx.Err() == nil {
			v.logf("delta event load failed: %v", err)
		}
	}
}

// Events returns the accumulated list, newest first.
func (v *View) Events() []telemetry.Event {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]telemetry.Event, len(v.events))
	copy(out, v.events)
	return out
}

func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Err reports the state together with the most recent load error, if any.
func (v *View) Err() (State, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state, v.lastErr
}

// Cursor returns the creation timestamp of the newest observed event.
func (v *View) Cursor() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cursor
}

func (v *View) logf(format string, args ...any) {
	if v.logger == nil {
		return
	}
	v.logger.Printf(format, args...)
}

func sortNewestFirst(events []telemetry.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
}
