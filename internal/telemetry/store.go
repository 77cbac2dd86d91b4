package telemetry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// EventStore is the durable-store collaborator: create one record, list
// matching records newest-first. Implementations assign ID, CreatedAt and Seq.
type EventStore interface {
	CreateEvent(ctx context.Context, env Envelope) (Event, error)
	ListEvents(ctx context.Context, query EventQuery) ([]Event, error)
	Close() error
}

type InMemoryEventStore struct {
	mu     sync.Mutex
	events []Event
	seq    int64
	now    func() time.Time
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{now: func() time.Time { return time.Now().UTC() }}
}

func (s *InMemoryEventStore) CreateEvent(_ context.Context, env Envelope) (Event, error) {
	if err := checkEnvelope(env); err != nil {
		return Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	event := persistedEvent(env, newEventID(), s.now(), s.seq)
	s.events = append(s.events, event)
	return event, nil
}

func (s *InMemoryEventStore) ListEvents(_ context.Context, query EventQuery) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterAndOrder(s.events, query), nil
}

func (s *InMemoryEventStore) Close() error {
	return nil
}

func checkEnvelope(env Envelope) error {
	if strings.TrimSpace(env.TagID) == "" ||
		strings.TrimSpace(env.VisitorID) == "" ||
		strings.TrimSpace(env.EventType) == "" {
		return ErrInvalidInput
	}
	return nil
}

func persistedEvent(env Envelope, id string, createdAt time.Time, seq int64) Event {
	metadata := env.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Event{
		ID:        id,
		TagID:     env.TagID,
		VisitorID: env.VisitorID,
		EventType: env.EventType,
		EventName: env.EventName,
		Metadata:  metadata,
		CreatedAt: createdAt,
		Seq:       seq,
	}
}

// filterAndOrder applies the query to an unordered slice: tagId equality,
// strictly-newer-than since, newest-first with the insertion sequence breaking
// creation-time ties, then the optional cap.
func filterAndOrder(events []Event, query EventQuery) []Event {
	matched := make([]Event, 0, len(events))
	for _, event := range events {
		if query.TagID != "" && event.TagID != query.TagID {
			continue
		}
		if !query.Since.IsZero() && !event.CreatedAt.After(query.Since) {
			continue
		}
		matched = append(matched, event)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].Seq > matched[j].Seq
	})
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return matched
}
