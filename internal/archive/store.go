package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/planweave/planweave/internal/event"
)

// Row is one archived event. Payload holds the payload JSON as stored.
type Row struct {
	ID        string          `json:"id"`
	Domain    event.Domain    `json:"domain"`
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type ListOptions struct {
	Domain    event.Domain
	SessionID string
	Limit     int
}

type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Attach taps the bus so every emitted event, regardless of domain, gets
// appended. Append failures are logged and dropped; a broken archive must
// never disturb delivery.
func (s *Store) Attach(bus *event.Bus) func() {
	return bus.Tap(func(evt event.Event) {
		if err := s.Append(context.Background(), evt); err != nil {
			s.logger.Warn().Err(err).Str("event_id", evt.ID).Msg("archive append failed")
		}
	})
}

func (s *Store) Append(ctx context.Context, evt event.Event) error {
	var payloadJSON any
	if evt.Payload != nil {
		data, err := json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		payloadJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, domain, type, session_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, evt.ID, string(evt.Domain), evt.Type, evt.SessionID(), payloadJSON, evt.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// List returns the most recent archived events, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Row, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	where, args := buildWhere(opts)
	query := fmt.Sprintf(`SELECT id, domain, type, session_id, payload, created_at FROM events %s ORDER BY created_at DESC LIMIT ?`, where)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		var domain, createdAtStr string
		var payloadStr sql.NullString
		if err := rows.Scan(&row.ID, &domain, &row.Type, &row.SessionID, &payloadStr, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		row.Domain = event.Domain(domain)
		row.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		if payloadStr.Valid && payloadStr.String != "" {
			row.Payload = json.RawMessage(payloadStr.String)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func buildWhere(opts ListOptions) (string, []any) {
	var clauses []string
	var args []any
	if opts.Domain != "" {
		clauses = append(clauses, "domain = ?")
		args = append(args, string(opts.Domain))
	}
	if opts.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}
