package capture

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryIdentityStoreRoundTrip(t *testing.T) {
	store := NewMemoryIdentityStore()
	if _, ok := store.Get("k"); ok {
		t.Fatalf("empty store reported a value")
	}
	if err := store.Set("k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if value, ok := store.Get("k"); !ok || value != "v" {
		t.Fatalf("Get = %q, %v", value, ok)
	}
}

func TestFileIdentityStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "identity.json")
	store, err := NewFileIdentityStore(path)
	if err != nil {
		t.Fatalf("NewFileIdentityStore failed: %v", err)
	}
	if err := store.Set(DefaultIdentityStorageKey, "vis_1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	reopened, err := NewFileIdentityStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if value, ok := reopened.Get(DefaultIdentityStorageKey); !ok || value != "vis_1" {
		t.Fatalf("Get after reopen = %q, %v", value, ok)
	}
}

func TestFileIdentityStoreTreatsCorruptFileAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	store, err := NewFileIdentityStore(path)
	if err != nil {
		t.Fatalf("NewFileIdentityStore failed: %v", err)
	}
	if _, ok := store.Get(DefaultIdentityStorageKey); ok {
		t.Fatalf("corrupt file must read as absent")
	}
	// A Set replaces the corrupt file.
	if err := store.Set(DefaultIdentityStorageKey, "vis_1"); err != nil {
		t.Fatalf("Set over corrupt file failed: %v", err)
	}
	if value, ok := store.Get(DefaultIdentityStorageKey); !ok || value != "vis_1" {
		t.Fatalf("Get after repair = %q, %v", value, ok)
	}
}

func TestFileIdentityStoreRejectsBlankPath(t *testing.T) {
	if _, err := NewFileIdentityStore("   "); err == nil {
		t.Fatalf("expected error for blank path")
	}
}

func TestNewVisitorIDShape(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		id := newVisitorID()
		if !visitorIDShape.MatchString(id) {
			t.Fatalf("visitor id %q is not UUID-shaped", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("visitor id %q repeated", id)
		}
		seen[id] = struct{}{}
	}
}
