package telemetry

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

// Closed set of event categories accepted by the pipeline. The schema does not
// enforce membership; unknown types are stored as-is so new agent versions can
// ship categories ahead of the server.
const (
	EventTypePageView       = "page_view"
	EventTypeCustomEvent    = "custom_event"
	EventTypeUserIdentified = "user_identified"
)

// Envelope is the unit of transport: what a capture agent POSTs to the
// ingestion endpoint.
type Envelope struct {
	TagID     string         `json:"tagId"`
	VisitorID string         `json:"visitorId"`
	EventType string         `json:"eventType"`
	EventName string         `json:"eventName,omitempty"`
	Metadata  map[string]any `json:"metadata"`
}

// Event is the persisted record: an Envelope plus the server-assigned
// identifier and creation timestamp. CreatedAt is the authoritative ordering
// key for every downstream consumer; Seq is an insertion sequence used only to
// break creation-time ties deterministically.
type Event struct {
	ID        string         `json:"id"`
	TagID     string         `json:"tagId"`
	VisitorID string         `json:"visitorId"`
	EventType string         `json:"eventType"`
	EventName string         `json:"eventName,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
	Seq       int64          `json:"-"`
}

func newEventID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	return "evt_" + hex.EncodeToString(buf)
}
