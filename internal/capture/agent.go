// Package capture is the client side of the pipeline: it assembles event
// envelopes from call-site data, ambient page context and session context,
// owns the durable visitor identity, and dispatches envelopes to the ingestion
// endpoint fire-and-forget. No failure in this package ever interrupts the
// host: every failure mode degrades to "no telemetry sent".
package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/surfacelabs/surfacetag/internal/telemetry"
)

const (
	DefaultEndpoint           = "http://127.0.0.1:8080/api/events"
	DefaultClickAttribute     = "data-surface-event"
	DefaultIdentityStorageKey = "_sf_visitor_id"
)

type Logger interface {
	Printf(format string, args ...any)
}

type Config struct {
	// Endpoint is the ingestion URL events are POSTed to.
	Endpoint string
	// TagID identifies the ingesting tenant. When empty it is discovered
	// from the ?id= query parameter of ScriptURL.
	TagID string
	// ScriptURL is the URL the embedding surface loaded the agent from;
	// used only as the TagID fallback source.
	ScriptURL string
	// DisableClickTracking turns off the auto click listener.
	DisableClickTracking bool
	ClickAttribute       string
	IdentityStorageKey   string
	// Identity defaults to a file store under the user cache directory,
	// falling back to in-memory when no cache directory is available.
	Identity IdentityStore
	Page     PageContextSource
	Clicks   ClickSource
	// HTTPClient carries the dispatch POSTs. No timeout is set on the
	// default client; sends are bounded by the transport's defaults.
	HTTPClient *http.Client
	Logger     Logger
}

// Agent is the public capture object. Identification, context capture and
// envelope construction are synchronous; only the network dispatch runs
// detached.
type Agent struct {
	endpoint   string
	tagID      string
	clickAttr  string
	storageKey string
	identity   IdentityStore
	page       PageContextSource
	httpClient *http.Client
	logger     Logger

	mu         sync.Mutex
	visitorID  string
	sessionCtx map[string]any

	inflight    sync.WaitGroup
	removeClick func()
}

// New builds an agent, loading the visitor identity from the identity store
// or minting and persisting a fresh one when absent. Identity store failures
// are swallowed: the agent falls back to a non-persisted identity for its own
// lifetime.
func New(cfg Config) *Agent {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.TagID == "" {
		cfg.TagID = TagIDFromScriptURL(cfg.ScriptURL)
	}
	if cfg.ClickAttribute == "" {
		cfg.ClickAttribute = DefaultClickAttribute
	}
	if cfg.IdentityStorageKey == "" {
		cfg.IdentityStorageKey = DefaultIdentityStorageKey
	}
	if cfg.Identity == nil {
		cfg.Identity = defaultIdentityStore()
	}
	if cfg.Page == nil {
		cfg.Page = StaticPageSource{}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	agent := &Agent{
		endpoint:   cfg.Endpoint,
		tagID:      cfg.TagID,
		clickAttr:  cfg.ClickAttribute,
		storageKey: cfg.IdentityStorageKey,
		identity:   cfg.Identity,
		page:       cfg.Page,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		sessionCtx: map[string]any{},
	}

	if value, ok := agent.identity.Get(agent.storageKey); ok && value != "" {
		agent.visitorID = value
	} else {
		agent.visitorID = newVisitorID()
		if err := agent.identity.Set(agent.storageKey, agent.visitorID); err != nil {
			agent.logf("surfacetag: identity not persisted: %v", err)
		}
	}

	if !cfg.DisableClickTracking && cfg.Clicks != nil {
		agent.removeClick = cfg.Clicks.OnClick(agent.HandleClick)
	}
	return agent
}

// TagIDFromScriptURL extracts the tenant identifier embedded in the loading
// script's own URL query string.
func TagIDFromScriptURL(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("id")
}

// Identify rebinds the visitor identity to an application-assigned user id
// and reports it. An empty userId is a local failure: logged, not sent, not
// raised.
func (a *Agent) Identify(userID string, traits map[string]any) {
	if strings.TrimSpace(userID) == "" {
		a.logf("surfacetag: identify requires a non-empty userId")
		return
	}
	a.mu.Lock()
	if a.visitorID != userID {
		a.visitorID = userID
		if err := a.identity.Set(a.storageKey, userID); err != nil {
			a.logf("surfacetag: identity not persisted: %v", err)
		}
	}
	a.mu.Unlock()
	a.dispatch(telemetry.EventTypeUserIdentified, userID, map[string]any{"traits": traits})
}

// Page reports a page view. An empty name defaults to the current page title.
func (a *Agent) Page(name string, props map[string]any) {
	if name == "" {
		name = a.page.Snapshot().Title
	}
	a.dispatch(telemetry.EventTypePageView, name, props)
}

// Track reports a custom event. An empty eventName is a local failure.
func (a *Agent) Track(eventName string, props map[string]any) {
	if strings.TrimSpace(eventName) == "" {
		a.logf("surfacetag: track requires a non-empty eventName")
		return
	}
	a.dispatch(telemetry.EventTypeCustomEvent, eventName, props)
}

// SetContext shallow-merges ctx into the session context carried on every
// subsequent event for the lifetime of this agent.
func (a *Agent) SetContext(ctx map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, value := range ctx {
		a.sessionCtx[key] = value
	}
}

// VisitorID returns the identity active for the next dispatch.
func (a *Agent) VisitorID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.visitorID
}

// Flush blocks until every dispatched send has settled. Dispatches are never
// cancelled by the caller; Flush only observes them.
func (a *Agent) Flush() {
	a.inflight.Wait()
}

// Close detaches the click listener and waits for in-flight sends.
func (a *Agent) Close() {
	if a.removeClick != nil {
		a.removeClick()
		a.removeClick = nil
	}
	a.inflight.Wait()
}

func (a *Agent) dispatch(eventType, eventName string, props map[string]any) {
	a.mu.Lock()
	visitorID := a.visitorID
	session := make(map[string]any, len(a.sessionCtx))
	for key, value := range a.sessionCtx {
		session[key] = value
	}
	a.mu.Unlock()

	switch {
	case a.endpoint == "":
		a.logf("surfacetag: missing endpoint; event dropped")
		return
	case a.tagID == "":
		a.logf("surfacetag: missing tagId; event dropped")
		return
	case visitorID == "":
		a.logf("surfacetag: missing visitorId; event dropped")
		return
	}

	env := buildEnvelope(a.tagID, visitorID, eventType, eventName, a.page.Snapshot(), time.Now().UTC(), session, props)
	payload, err := json.Marshal(env)
	if err != nil {
		a.logf("surfacetag: marshal event failed: %v", err)
		return
	}

	// Detached from the caller's lifetime: the send is not awaited and not
	// cancelled when the caller's context ends, so it survives surface
	// teardown. It is observed for logging only.
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, a.endpoint, bytes.NewReader(payload))
		if err != nil {
			a.logf("surfacetag: send failed: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := a.httpClient.Do(req)
		if err != nil {
			a.logf("surfacetag: send failed: %v", err)
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			a.logf("surfacetag: send rejected with status %d", resp.StatusCode)
		}
	}()
}

func (a *Agent) logf(format string, args ...any) {
	if a.logger == nil {
		return
	}
	a.logger.Printf(format, args...)
}

func defaultIdentityStore() IdentityStore {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return NewMemoryIdentityStore()
	}
	store, err := NewFileIdentityStore(filepath.Join(cacheDir, "surfacetag", "identity.json"))
	if err != nil {
		return NewMemoryIdentityStore()
	}
	return store
}

var (
	defaultOnce  sync.Once
	defaultAgent *Agent
)

// Default returns the shared convenience agent, constructing it from cfg on
// first call only. Construction is idempotent: later calls ignore cfg, so the
// click listener is never registered twice.
func Default(cfg Config) *Agent {
	defaultOnce.Do(func() {
		defaultAgent = New(cfg)
	})
	return defaultAgent
}
