package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrStorageUnavailable marks identity persistence failures. Callers always
// treat it as "value absent" and fall back to an in-memory identity; it never
// propagates past the agent.
var ErrStorageUnavailable = errors.New("identity storage unavailable")

// IdentityStore is best-effort durable key-value persistence for the visitor
// identifier. Get reports absence rather than failing; Set may fail with
// ErrStorageUnavailable.
type IdentityStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

type MemoryIdentityStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{values: map[string]string{}}
}

func (s *MemoryIdentityStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	return value, ok
}

func (s *MemoryIdentityStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// FileIdentityStore keeps identities in a small JSON file, rewritten
// atomically on every Set.
type FileIdentityStore struct {
	path string
	mu   sync.Mutex
}

func NewFileIdentityStore(path string) (*FileIdentityStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("identity store path is required")
	}
	return &FileIdentityStore{path: path}, nil
}

func (s *FileIdentityStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.loadLocked()
	if err != nil {
		return "", false
	}
	value, ok := values[key]
	return value, ok && value != ""
}

func (s *FileIdentityStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.loadLocked()
	if err != nil {
		values = map[string]string{}
	}
	values[key] = value
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := writeFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *FileIdentityStore) loadLocked() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	return values, nil
}

var (
	visitorRandMu sync.Mutex
	visitorRand   = rand.New(rand.NewSource(rand.Int63()))
)

// newVisitorID produces a version-4-UUID-shaped identifier from a
// non-cryptographic generator; visitor identities are correlation tokens,
// not secrets.
func newVisitorID() string {
	buf := make([]byte, 16)
	visitorRandMu.Lock()
	for i := range buf {
		buf[i] = byte(visitorRand.Intn(256))
	}
	visitorRandMu.Unlock()
	buf[6] = (buf[6] & 0x0f) | 0x40
	buf[8] = (buf[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", buf[0:4], buf[4:6], buf[6:8], buf[8:10], buf[10:16])
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
