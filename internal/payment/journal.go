package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vasiliy-maslov/storefront/internal/storage"
)

var ErrAlreadyRecorded = errors.New("notification already recorded")

type Entry struct {
	EventID       string
	TransactionID string
	OrderID       string
	Outcome       Outcome
	Result        Result
	ErrorMessage  string
	ReceivedAt    time.Time
}

// Journal remembers which notifications have been handled.
type Journal interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	// Record returns ErrAlreadyRecorded if eventID is already present.
	Record(ctx context.Context, entry Entry) error
}

// DB is the subset of pgxpool.Pool the journal needs.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type postgresJournal struct {
	db DB
}

func NewPostgresJournal(db DB) Journal {
	return &postgresJournal{db: db}
}

func (j *postgresJournal) Seen(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := j.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM payment_notifications WHERE event_id = $1)`,
		eventID,
	).Scan(&exists)
	if err != nil {
		return false, storage.Wrap("repository: failed to check payment notification", err)
	}
	return exists, nil
}

func (j *postgresJournal) Record(ctx context.Context, e Entry) error {
	const query = `
		INSERT INTO payment_notifications
			(event_id, transaction_id, order_id, outcome, result, error_message, received_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7)`

	_, err := j.db.Exec(ctx, query,
		e.EventID, e.TransactionID, e.OrderID, string(e.Outcome), string(e.Result), e.ErrorMessage, e.ReceivedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrAlreadyRecorded
		}
		return storage.Wrap(fmt.Sprintf("repository: failed to record payment notification %s", e.EventID), err)
	}
	return nil
}

// MemoryJournal keeps entries in process memory. It is used when no journal
// database is configured.
type MemoryJournal struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string]Entry)}
}

func (m *MemoryJournal) Seen(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[eventID]
	return ok, nil
}

func (m *MemoryJournal) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.EventID]; ok {
		return ErrAlreadyRecorded
	}
	m.entries[e.EventID] = e
	return nil
}

func (m *MemoryJournal) Entry(eventID string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[eventID]
	return e, ok
}
