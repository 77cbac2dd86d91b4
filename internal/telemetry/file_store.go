package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// JSONFileEventStore persists events to a single JSON file with atomic
// rewrites. Suited to single-process durable-local deployments; anything
// bigger should use the Postgres store.
type JSONFileEventStore struct {
	path string
	mu   sync.Mutex

	loaded bool
	events []Event
	seq    int64
	now    func() time.Time
}

type fileStoreState struct {
	Seq    int64   `json:"seq"`
	Events []Event `json:"events"`
}

func NewJSONFileEventStore(path string) (*JSONFileEventStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	store := &JSONFileEventStore{
		path: path,
		now:  func() time.Time { return time.Now().UTC() },
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *JSONFileEventStore) CreateEvent(_ context.Context, env Envelope) (Event, error) {
	if err := checkEnvelope(env); err != nil {
		return Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	event := persistedEvent(env, newEventID(), s.now(), s.seq)
	s.events = append(s.events, event)
	if err := s.saveLocked(); err != nil {
		s.events = s.events[:len(s.events)-1]
		s.seq--
		return Event{}, err
	}
	return event, nil
}

func (s *JSONFileEventStore) ListEvents(_ context.Context, query EventQuery) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterAndOrder(s.events, query), nil
}

func (s *JSONFileEventStore) Close() error {
	return nil
}

func (s *JSONFileEventStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	s.loaded = true
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.events = []Event{}
			return nil
		}
		return err
	}
	var state fileStoreState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	s.events = state.Events
	if s.events == nil {
		s.events = []Event{}
	}
	s.seq = state.Seq
	// Seq is not marshalled on Event; rebuild it from file order so tie-break
	// ordering survives a restart.
	for i := range s.events {
		s.events[i].Seq = int64(i + 1)
	}
	if s.seq < int64(len(s.events)) {
		s.seq = int64(len(s.events))
	}
	return nil
}

func (s *JSONFileEventStore) saveLocked() error {
	data, err := json.Marshal(fileStoreState{Seq: s.seq, Events: s.events})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return writeFileAtomic(s.path, data, 0o644)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
