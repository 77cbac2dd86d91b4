package telemetry

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildEventStoreFromDSN picks a store implementation by DSN scheme:
// memory:// for ephemeral, a bare path or file:// for the JSON file store,
// postgres:// for the durable production store.
func BuildEventStoreFromDSN(dsn string) (EventStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || dsn == "memory://" {
		return NewInMemoryEventStore(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	switch scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme)); scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewJSONFileEventStore(path)
	case "memory", "mem", "inmem":
		return NewInMemoryEventStore(), nil
	case "postgres", "postgresql":
		return NewPostgresEventStore(dsn)
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: event store %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported event store scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		return raw, nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("missing path in DSN: %s", raw)
	}
	return path, nil
}
