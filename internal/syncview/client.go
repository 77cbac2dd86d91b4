package syncview

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/surfacelabs/surfacetag/internal/telemetry"
)

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// Client retrieves persisted events from the ingestion API. since is an
// RFC 3339 timestamp bounding the result to strictly newer records; empty
// means the capped most-recent page.
type Client interface {
	ListEvents(ctx context.Context, tagID, since string) ([]telemetry.Event, error)
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{baseURL: baseURL, httpClient: httpClient}
}

func (c *HTTPClient) ListEvents(ctx context.Context, tagID, since string) ([]telemetry.Event, error) {
	q := url.Values{}
	if strings.TrimSpace(tagID) != "" {
		q.Set("tagId", strings.TrimSpace(tagID))
	}
	if strings.TrimSpace(since) != "" {
		q.Set("since", strings.TrimSpace(since))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode != http.StatusOK {
		var errPayload struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: errPayload.Message}
	}
	var out struct {
		Events []telemetry.Event `json:"events"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}
