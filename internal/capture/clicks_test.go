package capture

import (
	"strings"
	"testing"
)

// fakeClickSource hands the registered handler straight back to the test.
type fakeClickSource struct {
	handler func(*Element)
	removed bool
}

func (s *fakeClickSource) OnClick(handler func(*Element)) func() {
	s.handler = handler
	return func() { s.removed = true }
}

func (s *fakeClickSource) click(target *Element) {
	if s.handler != nil {
		s.handler(target)
	}
}

func TestClickOnInstrumentedElement(t *testing.T) {
	sink := newEnvelopeSink(t)
	clicks := &fakeClickSource{}
	agent := newTestAgent(t, sink, func(cfg *Config) { cfg.Clicks = clicks })

	clicks.click(&Element{
		Tag:        "button",
		ID:         "cta",
		Class:      "btn primary",
		Text:       "Start free trial",
		Attributes: map[string]string{DefaultClickAttribute: "cta_clicked"},
	})
	agent.Flush()

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("dispatched %d envelopes, want 1", len(got))
	}
	env := got[0]
	if env.EventName != "cta_clicked" {
		t.Fatalf("event name = %q", env.EventName)
	}
	if env.Metadata["elementId"] != "cta" || env.Metadata["tag"] != "button" {
		t.Fatalf("metadata = %+v", env.Metadata)
	}
	if env.Metadata["class"] != "btn primary" || env.Metadata["text"] != "Start free trial" {
		t.Fatalf("metadata = %+v", env.Metadata)
	}
}

func TestClickWalksToNearestInstrumentedAncestor(t *testing.T) {
	sink := newEnvelopeSink(t)
	clicks := &fakeClickSource{}
	agent := newTestAgent(t, sink, func(cfg *Config) { cfg.Clicks = clicks })

	outer := &Element{Tag: "section", Attributes: map[string]string{DefaultClickAttribute: "outer"}}
	inner := &Element{Tag: "div", Parent: outer, Attributes: map[string]string{DefaultClickAttribute: "inner"}}
	leaf := &Element{Tag: "span", Parent: inner}

	clicks.click(leaf)
	agent.Flush()

	got := sink.all()
	// Exactly one event, attributed to the nearest carrier.
	if len(got) != 1 || got[0].EventName != "inner" {
		t.Fatalf("envelopes = %+v", got)
	}
	if got[0].Metadata["tag"] != "div" {
		t.Fatalf("attribution element = %+v", got[0].Metadata)
	}
}

func TestClickEmptyAttributeValueTracksAsClick(t *testing.T) {
	sink := newEnvelopeSink(t)
	clicks := &fakeClickSource{}
	agent := newTestAgent(t, sink, func(cfg *Config) { cfg.Clicks = clicks })

	clicks.click(&Element{Tag: "a", Attributes: map[string]string{DefaultClickAttribute: ""}})
	agent.Flush()

	got := sink.all()
	if len(got) != 1 || got[0].EventName != "click" {
		t.Fatalf("envelopes = %+v", got)
	}
}

func TestClickStopsAtBody(t *testing.T) {
	sink := newEnvelopeSink(t)
	clicks := &fakeClickSource{}
	agent := newTestAgent(t, sink, func(cfg *Config) { cfg.Clicks = clicks })

	body := &Element{Tag: "BODY", Attributes: map[string]string{DefaultClickAttribute: "body_click"}}
	leaf := &Element{Tag: "span", Parent: body}

	clicks.click(leaf)
	clicks.click(&Element{Tag: "p"})
	agent.Flush()

	if got := sink.all(); len(got) != 0 {
		t.Fatalf("uninstrumented clicks must dispatch nothing, got %+v", got)
	}
}

func TestClickTextTruncated(t *testing.T) {
	sink := newEnvelopeSink(t)
	clicks := &fakeClickSource{}
	agent := newTestAgent(t, sink, func(cfg *Config) { cfg.Clicks = clicks })

	clicks.click(&Element{
		Tag:        "button",
		Text:       strings.Repeat("x", 250),
		Attributes: map[string]string{DefaultClickAttribute: "long"},
	})
	agent.Flush()

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("dispatched %d envelopes, want 1", len(got))
	}
	text, _ := got[0].Metadata["text"].(string)
	if len(text) != clickTextLimit {
		t.Fatalf("text length = %d, want %d", len(text), clickTextLimit)
	}
}

func TestCustomClickAttribute(t *testing.T) {
	sink := newEnvelopeSink(t)
	clicks := &fakeClickSource{}
	agent := newTestAgent(t, sink, func(cfg *Config) {
		cfg.Clicks = clicks
		cfg.ClickAttribute = "data-acme-track"
	})

	clicks.click(&Element{Tag: "button", Attributes: map[string]string{
		DefaultClickAttribute: "wrong",
		"data-acme-track":     "right",
	}})
	agent.Flush()

	got := sink.all()
	if len(got) != 1 || got[0].EventName != "right" {
		t.Fatalf("envelopes = %+v", got)
	}
}

func TestDisableClickTrackingSkipsRegistration(t *testing.T) {
	sink := newEnvelopeSink(t)
	clicks := &fakeClickSource{}
	newTestAgent(t, sink, func(cfg *Config) {
		cfg.Clicks = clicks
		cfg.DisableClickTracking = true
	})
	if clicks.handler != nil {
		t.Fatalf("click listener must not register when tracking is disabled")
	}
}

func TestCloseDetachesClickListener(t *testing.T) {
	sink := newEnvelopeSink(t)
	clicks := &fakeClickSource{}
	agent := New(Config{
		Endpoint: sink.server.URL,
		TagID:    "tag_1",
		Identity: NewMemoryIdentityStore(),
		Clicks:   clicks,
	})
	agent.Close()
	if !clicks.removed {
		t.Fatalf("Close must detach the click listener")
	}
}
