package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/config"
	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/database"
	"github.com/south-coast-science/scs-dev-sub000/migrations"
)

// Direction says which way an envelope travelled.
type Direction string

// Directions.
const (
	// Publish is an envelope acknowledged by the broker.
	Publish Direction = "publish"

	// Deliver is an inbound envelope written to a local sink.
	Deliver Direction = "deliver"
)

// timeFormat sorts lexically in time order.
const timeFormat = "2006-01-02T15:04:05.000000Z"

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// ErrInvalidEntry is returned by Record for entries missing a topic or
// direction.
var ErrInvalidEntry = errors.New("journal: invalid entry")

// Entry is one completed delivery.
type Entry struct {
	RunID       string    `json:"run_id"`
	Direction   Direction `json:"direction"`
	Topic       string    `json:"topic"`
	Sink        string    `json:"sink,omitempty"`
	Attempts    int       `json:"attempts"`
	Bytes       int       `json:"bytes"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	RunID     string    // optional
	Direction Direction // optional
	Topic     string    // optional, exact match
	Limit     int       // default 50, max 1000
}

// Store writes deliveries for one process run.
type Store struct {
	db    *database.DB
	runID string
	owned bool
}

// New wraps an open, migrated database. The caller keeps ownership of db.
// An empty runID gets a fresh one.
func New(db *database.DB, runID string) *Store {
	if runID == "" {
		runID = NewRunID()
	}
	return &Store{db: db, runID: runID}
}

// Open opens the journal database named in cfg, applies the schema
// migrations and prunes entries older than the retention period.
//
// Parameters:
//   - ctx: Bounds opening, migrating and pruning
//   - cfg: Journal section of the root config
//   - runID: Tag for this run's entries (empty generates one)
//
// Returns:
//   - *Store: Journal owning the database connection
//   - error: If the database cannot be opened or migrated
func Open(ctx context.Context, cfg config.JournalConfig, runID string) (*Store, error) {
	db, err := database.Open(ctx, database.ConfigFromJournal(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("migrating journal: %w", err)
	}

	s := New(db, runID)
	s.owned = true

	if cfg.RetentionDays > 0 {
		cutoff := time.Now().Add(-time.Duration(cfg.RetentionDays) * 24 * time.Hour)
		if _, err := s.Prune(ctx, cutoff); err != nil {
			s.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, err
		}
	}

	return s, nil
}

// NewRunID returns a short random run identifier.
func NewRunID() string {
	return "run-" + uuid.NewString()[:8]
}

// RunID returns the tag applied to this run's entries.
func (s *Store) RunID() string {
	return s.runID
}

// Record inserts one delivery. RunID, Attempts and DeliveredAt are filled
// in when zero.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.Topic == "" || (e.Direction != Publish && e.Direction != Deliver) {
		return fmt.Errorf("%w: direction %q topic %q", ErrInvalidEntry, e.Direction, e.Topic)
	}
	if e.RunID == "" {
		e.RunID = s.runID
	}
	if e.Attempts <= 0 {
		e.Attempts = 1
	}
	if e.DeliveredAt.IsZero() {
		e.DeliveredAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO publications (run_id, direction, topic, sink, attempts, bytes, delivered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, string(e.Direction), e.Topic, e.Sink, e.Attempts, e.Bytes,
		e.DeliveredAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("recording %s of %s: %w", e.Direction, e.Topic, err)
	}
	return nil
}

// Prune deletes entries delivered before cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM publications WHERE delivered_at < ?",
		cutoff.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	return n, nil
}

// List returns entries matching the filter, most recent first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	filter.Limit = min(filter.Limit, maxListLimit)

	var conditions []string
	var args []any

	if filter.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.Direction != "" {
		conditions = append(conditions, "direction = ?")
		args = append(args, string(filter.Direction))
	}
	if filter.Topic != "" {
		conditions = append(conditions, "topic = ?")
		args = append(args, filter.Topic)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT run_id, direction, topic, sink, attempts, bytes, delivered_at FROM publications %s ORDER BY delivered_at DESC, id DESC LIMIT ?",
		where,
	)
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var direction, deliveredAt string
		if err := rows.Scan(&e.RunID, &direction, &e.Topic, &e.Sink, &e.Attempts, &e.Bytes, &deliveredAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		e.Direction = Direction(direction)

		t, err := time.Parse(timeFormat, deliveredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing journal timestamp %q: %w", deliveredAt, err)
		}
		e.DeliveredAt = t

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}
	return entries, nil
}

// Close closes the database if Open created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
