package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/surfacelabs/surfacetag/internal/fanout"
	"github.com/surfacelabs/surfacetag/internal/httpapi"
	"github.com/surfacelabs/surfacetag/internal/telemetry"
)

func main() {
	addr := os.Getenv("SURFACETAG_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	store, err := buildEventStoreFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize event store: %v", err)
	}
	defer store.Close()

	bus := fanout.NewRegistryWithBuffer(intEnv("SURFACETAG_SUBSCRIBER_BUFFER", 0))

	server := httpapi.NewServerWithConfig(store, bus, httpapi.ServerConfig{
		MaxBodyBytes: int64Env("SURFACETAG_MAX_BODY_BYTES", 0),
		PageSize:     intEnv("SURFACETAG_PAGE_SIZE", 0),
	})

	// WriteTimeout stays zero so SSE and websocket streams are never cut off.
	srv := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: durationEnv("SURFACETAG_READ_HEADER_TIMEOUT", 10*time.Second),
	}

	log.Printf("surfacetag listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func buildEventStoreFromEnv() (telemetry.EventStore, error) {
	dsn := strings.TrimSpace(os.Getenv("SURFACETAG_STORE_DSN"))
	if dsn == "" {
		profileDSN, err := storeProfileDefaultFromEnv()
		if err != nil {
			return nil, err
		}
		dsn = profileDSN
	}
	return telemetry.BuildEventStoreFromDSN(dsn)
}

func storeProfileDefaultFromEnv() (string, error) {
	profile := strings.ToLower(strings.TrimSpace(os.Getenv("SURFACETAG_BACKEND_PROFILE")))
	dataDir := strings.TrimSpace(os.Getenv("SURFACETAG_DATA_DIR"))
	if dataDir == "" {
		dataDir = ".surfacetag"
	}
	switch profile {
	case "", "memory", "inmemory":
		return "memory://", nil
	case "durable-local", "local-durable":
		return "file://" + filepath.Join(dataDir, "events.json"), nil
	case "production", "prod":
		dsn := strings.TrimSpace(os.Getenv("SURFACETAG_POSTGRES_DSN"))
		if dsn == "" {
			return "", fmt.Errorf("SURFACETAG_POSTGRES_DSN is required when SURFACETAG_BACKEND_PROFILE=%s", profile)
		}
		return dsn, nil
	default:
		return "", fmt.Errorf("unsupported SURFACETAG_BACKEND_PROFILE: %s", profile)
	}
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
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
