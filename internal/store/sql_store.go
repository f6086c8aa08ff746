package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLStore keeps the SoT log in Postgres or SQLite.
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type eventRow struct {
	Seq          int64          `db:"seq"`
	EventID      string         `db:"event_id"`
	TSMillis     int64          `db:"ts_ms"`
	Source       string         `db:"source"`
	Kind         string         `db:"kind"`
	Summary      string         `db:"summary"`
	NhID         string         `db:"nh_id"`
	Payload      sql.NullString `db:"payload"`
	RepoID       sql.NullInt64  `db:"repo_id"`
	DomainID     sql.NullInt64  `db:"domain_id"`
	RecordedAtMs int64          `db:"recorded_at_ms"`
}

const eventColumns = `seq, event_id, ts_ms, source, kind, summary, nh_id, payload, repo_id, domain_id, recorded_at_ms`

func (r eventRow) model() Event {
	e := Event{
		Seq:        r.Seq,
		EventID:    r.EventID,
		TS:         fromMillis(r.TSMillis),
		Source:     r.Source,
		Kind:       r.Kind,
		Summary:    r.Summary,
		NhID:       r.NhID,
		RecordedAt: fromMillis(r.RecordedAtMs),
	}
	if r.Payload.Valid {
		e.Payload = json.RawMessage(r.Payload.String)
	}
	if r.RepoID.Valid {
		id := r.RepoID.Int64
		e.RepoID = &id
	}
	if r.DomainID.Valid {
		id := r.DomainID.Int64
		e.DomainID = &id
	}
	return e
}

// AppendEvent inserts e and returns it with Seq and RecordedAt set. The
// caller assigns EventID.
func (s *SQLStore) AppendEvent(ctx context.Context, e Event) (Event, error) {
	if strings.TrimSpace(e.EventID) == "" {
		return Event{}, fmt.Errorf("append event: event id is required")
	}
	e.RecordedAt = fromMillis(toMillis(s.now()))

	var payload any
	if e.Payload != nil {
		payload = string(e.Payload)
	}

	query := s.db.Rebind(`
		INSERT INTO sot_events (event_id, ts_ms, source, kind, summary, nh_id, payload, repo_id, domain_id, recorded_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq
	`)
	err := s.db.QueryRowxContext(ctx, query,
		e.EventID,
		toMillis(e.TS),
		e.Source,
		e.Kind,
		e.Summary,
		e.NhID,
		payload,
		nullableID(e.RepoID),
		nullableID(e.DomainID),
		toMillis(e.RecordedAt),
	).Scan(&e.Seq)
	if err != nil {
		return Event{}, fmt.Errorf("insert sot event: %w", err)
	}
	return e, nil
}

func (s *SQLStore) GetEvent(ctx context.Context, eventID string) (Event, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+eventColumns+` FROM sot_events WHERE event_id = ?`), eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, fmt.Errorf("get sot event: %w", err)
	}
	return row.model(), nil
}

// Head returns the highest sequence number recorded so far, or 0.
func (s *SQLStore) Head(ctx context.Context) (int64, error) {
	var head int64
	if err := s.db.GetContext(ctx, &head, `SELECT COALESCE(MAX(seq), 0) FROM sot_events`); err != nil {
		return 0, fmt.Errorf("read log head: %w", err)
	}
	return head, nil
}

// ListDCTEvents returns the first take dct events with seq <= head in
// (ts, eventId) order.
func (s *SQLStore) ListDCTEvents(ctx context.Context, take int, head int64) ([]Event, error) {
	query := s.db.Rebind(`
		SELECT ` + eventColumns + `
		FROM sot_events
		WHERE substr(kind, 1, 4) = 'dct.' AND seq <= ?
		ORDER BY ts_ms ASC, event_id ASC
		LIMIT ?
	`)
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, head, take); err != nil {
		return nil, fmt.Errorf("list dct events: %w", err)
	}
	return models(rows), nil
}

func (s *SQLStore) ListEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	var where []string
	var args []any
	if filter.Source != "" {
		where = append(where, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.KindPrefix != "" {
		where = append(where, "substr(kind, 1, ?) = ?")
		args = append(args, len(filter.KindPrefix), filter.KindPrefix)
	}
	if filter.NhID != "" {
		where = append(where, "nh_id = ?")
		args = append(args, filter.NhID)
	}

	query := `SELECT ` + eventColumns + ` FROM sot_events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if filter.Newest {
		query += ` ORDER BY ts_ms DESC, event_id DESC`
	} else {
		query += ` ORDER BY ts_ms ASC, event_id ASC`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list sot events: %w", err)
	}
	return models(rows), nil
}

func (s *SQLStore) RepoIDByName(ctx context.Context, name string) (*int64, error) {
	return s.lookupID(ctx, `SELECT id FROM repos WHERE name = ?`, name, "repo")
}

func (s *SQLStore) DomainIDByName(ctx context.Context, name string) (*int64, error) {
	return s.lookupID(ctx, `SELECT id FROM domains WHERE domain = ?`, name, "domain")
}

func (s *SQLStore) lookupID(ctx context.Context, query, name, what string) (*int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, s.db.Rebind(query), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s %q: %w", what, name, err)
	}
	return &id, nil
}

// RegisterRepo returns the repo named name, creating it if needed.
func (s *SQLStore) RegisterRepo(ctx context.Context, name string) (Repo, error) {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO repos (name, created_at_ms) VALUES (?, ?)
		ON CONFLICT (name) DO NOTHING
	`), name, toMillis(s.now())); err != nil {
		return Repo{}, fmt.Errorf("insert repo: %w", err)
	}
	var row struct {
		ID          int64  `db:"id"`
		Name        string `db:"name"`
		CreatedAtMs int64  `db:"created_at_ms"`
	}
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT id, name, created_at_ms FROM repos WHERE name = ?`), name); err != nil {
		return Repo{}, fmt.Errorf("load repo: %w", err)
	}
	return Repo{ID: row.ID, Name: row.Name, CreatedAt: fromMillis(row.CreatedAtMs)}, nil
}

// RegisterDomain returns the domain named name, creating it if needed.
func (s *SQLStore) RegisterDomain(ctx context.Context, name string) (Domain, error) {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO domains (domain, created_at_ms) VALUES (?, ?)
		ON CONFLICT (domain) DO NOTHING
	`), name, toMillis(s.now())); err != nil {
		return Domain{}, fmt.Errorf("insert domain: %w", err)
	}
	var row struct {
		ID          int64  `db:"id"`
		Domain      string `db:"domain"`
		CreatedAtMs int64  `db:"created_at_ms"`
	}
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT id, domain, created_at_ms FROM domains WHERE domain = ?`), name); err != nil {
		return Domain{}, fmt.Errorf("load domain: %w", err)
	}
	return Domain{ID: row.ID, Domain: row.Domain, CreatedAt: fromMillis(row.CreatedAtMs)}, nil
}

func models(rows []eventRow) []Event {
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
