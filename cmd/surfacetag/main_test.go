package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestIntEnvParsesValue(t *testing.T) {
	t.Setenv("SURFACETAG_TEST_INT", "42")
	if got := intEnv("SURFACETAG_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestIntEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("SURFACETAG_TEST_INT_BAD", "not-a-number")
	if got := intEnv("SURFACETAG_TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestInt64EnvParsesValue(t *testing.T) {
	t.Setenv("SURFACETAG_TEST_INT64", "1048576")
	if got := int64Env("SURFACETAG_TEST_INT64", 0); got != 1048576 {
		t.Fatalf("expected 1048576, got %d", got)
	}
}

func TestDurationEnvParsesValue(t *testing.T) {
	t.Setenv("SURFACETAG_TEST_DURATION", "150ms")
	if got := durationEnv("SURFACETAG_TEST_DURATION", time.Second); got != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %s", got)
	}
}

func TestEnvHelpersUseFallbackWhenUnset(t *testing.T) {
	_ = os.Unsetenv("SURFACETAG_TEST_INT_UNSET")
	_ = os.Unsetenv("SURFACETAG_TEST_DURATION_UNSET")

	if got := intEnv("SURFACETAG_TEST_INT_UNSET", 9); got != 9 {
		t.Fatalf("expected fallback 9, got %d", got)
	}
	if got := durationEnv("SURFACETAG_TEST_DURATION_UNSET", 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected fallback 3s, got %s", got)
	}
}

func TestStoreProfileDefaults(t *testing.T) {
	t.Setenv("SURFACETAG_DATA_DIR", "")
	t.Setenv("SURFACETAG_POSTGRES_DSN", "")

	t.Setenv("SURFACETAG_BACKEND_PROFILE", "")
	dsn, err := storeProfileDefaultFromEnv()
	if err != nil || dsn != "memory://" {
		t.Fatalf("default profile = %q, %v", dsn, err)
	}

	t.Setenv("SURFACETAG_BACKEND_PROFILE", "durable-local")
	t.Setenv("SURFACETAG_DATA_DIR", filepath.Join("var", "surfacetag"))
	dsn, err = storeProfileDefaultFromEnv()
	if err != nil {
		t.Fatalf("durable-local profile failed: %v", err)
	}
	if !strings.HasPrefix(dsn, "file://") || !strings.HasSuffix(dsn, "events.json") {
		t.Fatalf("durable-local dsn = %q", dsn)
	}

	t.Setenv("SURFACETAG_BACKEND_PROFILE", "production")
	if _, err := storeProfileDefaultFromEnv(); err == nil {
		t.Fatalf("production profile without a postgres DSN must fail")
	}
	t.Setenv("SURFACETAG_POSTGRES_DSN", "postgres://localhost/surfacetag")
	dsn, err = storeProfileDefaultFromEnv()
	if err != nil || dsn != "postgres://localhost/surfacetag" {
		t.Fatalf("production dsn = %q, %v", dsn, err)
	}

	t.Setenv("SURFACETAG_BACKEND_PROFILE", "cassandra")
	if _, err := storeProfileDefaultFromEnv(); err == nil {
		t.Fatalf("unknown profile must fail")
	}
}

func TestBuildEventStoreFromEnvPrefersExplicitDSN(t *testing.T) {
	t.Setenv("SURFACETAG_BACKEND_PROFILE", "production")
	t.Setenv("SURFACETAG_POSTGRES_DSN", "")
	t.Setenv("SURFACETAG_STORE_DSN", "memory://")

	store, err := buildEventStoreFromEnv()
	if err != nil {
		t.Fatalf("explicit DSN must win over the profile: %v", err)
	}
	defer store.Close()
}
