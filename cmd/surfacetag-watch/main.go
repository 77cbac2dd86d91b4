// surfacetag-watch tails the event feed for one tag: either by incremental
// polling of the list endpoint, or live over the websocket push channel.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"nhooyr.io/websocket"

	"github.com/surfacelabs/surfacetag/internal/syncview"
	"github.com/surfacelabs/surfacetag/internal/telemetry"
)

func main() {
	baseURL := flag.String("base-url", envOrDefault("SURFACETAG_BASE_URL", "http://127.0.0.1:8080"), "surfacetag base URL")
	tagID := flag.String("tag", strings.TrimSpace(os.Getenv("SURFACETAG_TAG_ID")), "tag ID to watch")
	interval := flag.Duration("interval", durationEnv("SURFACETAG_WATCH_INTERVAL", syncview.DefaultPollInterval), "poll interval")
	timeout := flag.Duration("timeout", durationEnv("SURFACETAG_WATCH_TIMEOUT", 15*time.Second), "per-request timeout")
	once := flag.Bool("once", false, "load the current page of events and exit")
	live := flag.Bool("live", false, "follow the websocket push channel instead of polling")
	flag.Parse()

	if strings.TrimSpace(*tagID) == "" && !*live {
		log.Fatalf("tag is required (--tag or SURFACETAG_TAG_ID)")
	}
	if *interval <= 0 {
		*interval = syncview.DefaultPollInterval
	}
	if *timeout <= 0 {
		*timeout = 15 * time.Second
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *live {
		if err := followWebsocket(rootCtx, *baseURL); err != nil {
			log.Fatalf("live follow failed: %v", err)
		}
		return
	}

	client := syncview.NewHTTPClient(*baseURL, &http.Client{Timeout: *timeout})
	view, err := syncview.NewView(client, syncview.ViewOptions{
		TagID:        *tagID,
		PollInterval: *interval,
		OnEvent:      printEvent,
		Logger:       log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize view: %v", err)
	}

	if *once {
		ctx, cancel := context.WithTimeout(rootCtx, *timeout)
		defer cancel()
		if err := view.LoadInitial(ctx); err != nil {
			log.Fatalf("initial load failed: %v", err)
		}
		for _, event := range view.Events() {
			printEvent(event)
		}
		return
	}

	log.Printf("watching tag %s via %s every %s", *tagID, *baseURL, interval.String())
	view.Run(rootCtx)
	log.Printf("watch stopping: %v", rootCtx.Err())
}

// followWebsocket prints every pushed payload until the context ends. The
// push channel carries events for all tags; filtering happens server-side
// only on the list endpoint.
func followWebsocket(ctx context.Context, baseURL string) error {
	target, err := websocketURL(baseURL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.CloseNow()

	log.Printf("following %s", target)
	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if string(payload) == "connected" {
			continue
		}
		var event telemetry.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			log.Printf("skipping undecodable payload: %v", err)
			continue
		}
		printEvent(event)
	}
}

func websocketURL(baseURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/api/events/ws"
	return parsed.String(), nil
}

func printEvent(event telemetry.Event) {
	name := event.EventName
	if name == "" {
		name = event.EventType
	}
	fmt.Printf("%s  %-16s  visitor=%s  id=%s\n",
		event.CreatedAt.Format(time.RFC3339), name, event.VisitorID, event.ID)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
