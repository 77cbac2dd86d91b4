package capture

import (
	"time"

	"github.com/surfacelabs/surfacetag/internal/telemetry"
)

// PageContext is the ambient context of the surface the agent instruments:
// current location, referrer, title, user agent and dimensions.
type PageContext struct {
	URL       string
	Path      string
	Referrer  string
	Title     string
	UserAgent string
	ViewportW int
	ViewportH int
	ScreenW   int
	ScreenH   int
}

// PageContextSource supplies a fresh PageContext per event. Snapshot is called
// at dispatch time, never cached: location and title can change between events
// on the same surface.
type PageContextSource interface {
	Snapshot() PageContext
}

// StaticPageSource serves a fixed context; the usual choice for server-side or
// test embeddings where there is no live page.
type StaticPageSource struct {
	Context PageContext
}

func (s StaticPageSource) Snapshot() PageContext {
	return s.Context
}

// buildEnvelope assembles the canonical event record. Metadata merges three
// layers, later overriding earlier on key collision: ambient page context,
// session context, call-specific properties.
func buildEnvelope(
	tagID, visitorID, eventType, eventName string,
	page PageContext,
	now time.Time,
	session, props map[string]any,
) telemetry.Envelope {
	metadata := map[string]any{
		"url":       orNil(page.URL),
		"path":      orNil(page.Path),
		"referrer":  orNil(page.Referrer),
		"title":     orNil(page.Title),
		"userAgent": orNil(page.UserAgent),
		"viewport":  map[string]any{"w": page.ViewportW, "h": page.ViewportH},
		"screen":    map[string]any{"w": page.ScreenW, "h": page.ScreenH},
		"ts":        now.Format(time.RFC3339Nano),
	}
	for key, value := range session {
		metadata[key] = value
	}
	for key, value := range props {
		metadata[key] = value
	}
	return telemetry.Envelope{
		TagID:     tagID,
		VisitorID: visitorID,
		EventType: eventType,
		EventName: eventName,
		Metadata:  metadata,
	}
}

func orNil(value string) any {
	if value == "" {
		return nil
	}
	return value
}
