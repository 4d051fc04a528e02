// Package archive stores persistent events in a SQL database.
//
// An event is archived when its Metadata.Persistent flag is set. The
// archive attaches to a bus as a rule, so it sees every such event whatever
// its type. PostgreSQL (lib/pq) and SQLite (mattn/go-sqlite3) are supported
// through sqlx.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
	"github.com/Alnajaar/nilelink-sub003/internal/logging"
)

// RuleName names the bus rule installed by Attach.
const RuleName = "archive-persistent-events"

// DefaultLimit caps Recent when the query sets no limit.
const DefaultLimit = 100

// ErrUnsupportedDriver is returned by Open for unknown drivers.
var ErrUnsupportedDriver = errors.New("unsupported archive driver")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id             TEXT PRIMARY KEY,
		type           TEXT NOT NULL,
		source         TEXT NOT NULL DEFAULT '',
		priority       TEXT NOT NULL DEFAULT '',
		scope          TEXT NOT NULL DEFAULT '',
		branch_id      TEXT NOT NULL DEFAULT '',
		business_id    TEXT NOT NULL DEFAULT '',
		user_id        TEXT NOT NULL DEFAULT '',
		session_id     TEXT NOT NULL DEFAULT '',
		correlation_id TEXT NOT NULL DEFAULT '',
		ts             BIGINT NOT NULL,
		payload        TEXT NOT NULL,
		metadata       TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS events_type_ts ON events (type, ts)`,
	`CREATE INDEX IF NOT EXISTS events_correlation ON events (correlation_id)`,
}

const insertEvent = `INSERT INTO events (
	id, type, source, priority, scope, branch_id, business_id,
	user_id, session_id, correlation_id, ts, payload, metadata
) VALUES (
	:id, :type, :source, :priority, :scope, :branch_id, :business_id,
	:user_id, :session_id, :correlation_id, :ts, :payload, :metadata
) ON CONFLICT (id) DO NOTHING`

// row is the table layout of one archived event.
type row struct {
	ID            string `db:"id"`
	Type          string `db:"type"`
	Source        string `db:"source"`
	Priority      string `db:"priority"`
	Scope         string `db:"scope"`
	BranchID      string `db:"branch_id"`
	BusinessID    string `db:"business_id"`
	UserID        string `db:"user_id"`
	SessionID     string `db:"session_id"`
	CorrelationID string `db:"correlation_id"`
	Timestamp     int64  `db:"ts"`
	Payload       string `db:"payload"`
	Metadata      string `db:"metadata"`
}

func toRow(e event.Event) (row, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return row{}, fmt.Errorf("encoding payload: %w", err)
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return row{}, fmt.Errorf("encoding metadata: %w", err)
	}
	md := e.Metadata
	return row{
		ID:            md.ID,
		Type:          string(e.Type),
		Source:        md.Source,
		Priority:      string(md.Priority),
		Scope:         string(md.Scope),
		BranchID:      md.BranchID,
		BusinessID:    md.BusinessID,
		UserID:        md.UserID,
		SessionID:     md.SessionID,
		CorrelationID: md.CorrelationID,
		Timestamp:     md.Timestamp,
		Payload:       string(payload),
		Metadata:      string(meta),
	}, nil
}

func (r row) event() (event.Event, error) {
	e := event.Event{Type: event.Type(r.Type)}
	if err := json.Unmarshal([]byte(r.Metadata), &e.Metadata); err != nil {
		return e, fmt.Errorf("decoding metadata of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Payload), &e.Payload); err != nil {
		return e, fmt.Errorf("decoding payload of %s: %w", r.ID, err)
	}
	return e, nil
}

// Archive writes and reads archived events.
type Archive struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// Open connects to the database, pings it and creates the schema.
func Open(ctx context.Context, driver, dsn string, logger *logging.Logger) (*Archive, error) {
	switch driver {
	case "postgres", "sqlite3":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s archive: %w", driver, err)
	}
	if driver == "sqlite3" {
		// one writer; also keeps ":memory:" databases on a single connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to %s archive: %w", driver, err)
	}

	a := New(db, logger)
	if err := a.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// New wraps an open database. Call Migrate before use.
func New(db *sqlx.DB, logger *logging.Logger) *Archive {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Archive{db: db, logger: logger.WithComponent("archive")}
}

// Migrate creates the events table and its indexes if missing.
func (a *Archive) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating archive: %w", err)
		}
	}
	return nil
}

// Store archives e. Storing the same event ID twice keeps the first copy.
func (a *Archive) Store(ctx context.Context, e event.Event) error {
	r, err := toRow(e)
	if err != nil {
		return err
	}
	if _, err := a.db.NamedExecContext(ctx, insertEvent, r); err != nil {
		return fmt.Errorf("archiving %s: %w", e.Metadata.ID, err)
	}
	return nil
}

// Handle implements event.Handler by storing the event.
func (a *Archive) Handle(ctx context.Context, e event.Event) error {
	return a.Store(ctx, e)
}

// RuleRegistrar is the part of the bus Attach needs.
type RuleRegistrar interface {
	AddRule(r event.Rule) (string, error)
}

// Attach installs the archive as a rule that runs for every persistent
// event and returns the rule ID.
func (a *Archive) Attach(bus RuleRegistrar) (string, error) {
	rule := event.NewRule(RuleName, Persistent, a)
	rule.Priority = 100
	id, err := bus.AddRule(rule)
	if err != nil {
		return "", fmt.Errorf("attaching archive: %w", err)
	}
	a.logger.Info("archiving persistent events (rule %s)", id)
	return id, nil
}

// Persistent matches events flagged for archiving.
func Persistent(e event.Event) bool {
	return e.Metadata.Persistent
}

// Query selects archived events. Zero fields are ignored.
type Query struct {
	Type          event.Type
	Source        string
	BranchID      string
	CorrelationID string
	Since         time.Time
	Limit         int
}

// Recent returns the newest matching events, oldest first.
func (a *Archive) Recent(ctx context.Context, q Query) ([]event.Event, error) {
	var (
		where []string
		args  []any
	)
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(q.Type))
	}
	if q.Source != "" {
		where = append(where, "source = ?")
		args = append(args, q.Source)
	}
	if q.BranchID != "" {
		where = append(where, "branch_id = ?")
		args = append(args, q.BranchID)
	}
	if q.CorrelationID != "" {
		where = append(where, "correlation_id = ?")
		args = append(args, q.CorrelationID)
	}
	if !q.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, q.Since.UnixMilli())
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := "SELECT * FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, limit)

	var rows []row
	if err := a.db.SelectContext(ctx, &rows, a.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying archive: %w", err)
	}

	events := make([]event.Event, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		e, err := rows[i].event()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// Count returns the number of archived events.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM events"); err != nil {
		return 0, fmt.Errorf("counting archive: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}
