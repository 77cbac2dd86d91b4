package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresEventsTableName  = "surfacetag_events"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type PostgresEventStore struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresEventStore(dsn string) (*PostgresEventStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresEventStore{
		dsn:       dsn,
		tableName: postgresEventsTableName,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresEventStore) CreateEvent(ctx context.Context, env Envelope) (Event, error) {
	if err := checkEnvelope(env); err != nil {
		return Event{}, err
	}
	if err := s.ensureReady(); err != nil {
		return Event{}, err
	}
	metadata := env.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return Event{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var eventName any
	if env.EventName != "" {
		eventName = env.EventName
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, tag_id, visitor_id, event_type, event_name, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING seq, created_at`, postgresQuoteIdentifier(s.tableName))
	event := persistedEvent(env, newEventID(), time.Time{}, 0)
	err = s.db.QueryRowContext(ctx, query,
		event.ID, env.TagID, env.VisitorID, env.EventType, eventName, string(payload),
	).Scan(&event.Seq, &event.CreatedAt)
	if err != nil {
		return Event{}, err
	}
	event.CreatedAt = event.CreatedAt.UTC()
	return event, nil
}

func (s *PostgresEventStore) ListEvents(ctx context.Context, query EventQuery) ([]Event, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if query.TagID != "" {
		args = append(args, query.TagID)
		conditions = append(conditions, fmt.Sprintf("tag_id = $%d", len(args)))
	}
	if !query.Since.IsZero() {
		args = append(args, query.Since)
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", len(args)))
	}
	stmt := fmt.Sprintf(
		"SELECT seq, id, tag_id, visitor_id, event_type, event_name, metadata, created_at FROM %s",
		postgresQuoteIdentifier(s.tableName),
	)
	if len(conditions) > 0 {
		stmt += " WHERE " + strings.Join(conditions, " AND ")
	}
	stmt += " ORDER BY created_at DESC, seq DESC"
	if query.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", query.Limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var event Event
		var eventName sql.NullString
		var metadata []byte
		if err := rows.Scan(
			&event.Seq, &event.ID, &event.TagID, &event.VisitorID,
			&event.EventType, &eventName, &metadata, &event.CreatedAt,
		); err != nil {
			return nil, err
		}
		event.EventName = eventName.String
		event.CreatedAt = event.CreatedAt.UTC()
		event.Metadata = map[string]any{}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, err
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *PostgresEventStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresEventStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		createTable := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				seq BIGSERIAL PRIMARY KEY,
				id TEXT NOT NULL UNIQUE,
				tag_id TEXT NOT NULL,
				visitor_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				event_name TEXT,
				metadata JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, createTable); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		indexName := s.tableName + "_tag_created_idx"
		createIndex := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (tag_id, created_at DESC)",
			postgresQuoteIdentifier(indexName),
			postgresQuoteIdentifier(s.tableName),
		)
		if _, err := db.ExecContext(ctx, createIndex); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
