package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/order"
)

var (
	ErrInvalidNotification = errors.New("invalid payment notification")
	ErrUnknownTransaction  = errors.New("no order for transaction")
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeRefunded  Outcome = "refunded"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSucceeded, OutcomeFailed, OutcomeRefunded:
		return true
	}
	return false
}

// Result is what happened to a notification; it is stored in the journal.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultDuplicate Result = "duplicate"
	ResultRejected  Result = "rejected"
)

// Notification is a gateway's report about a payment outcome.
type Notification struct {
	EventID       string            `json:"event_id"`
	TransactionID string            `json:"transaction_id"`
	Outcome       Outcome           `json:"outcome"`
	Details       map[string]string `json:"details,omitempty"`
}

func (n Notification) Validate() error {
	switch {
	case n.EventID == "":
		return fmt.Errorf("%w: event_id is required", ErrInvalidNotification)
	case n.TransactionID == "":
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidNotification)
	case !n.Outcome.Valid():
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidNotification, n.Outcome)
	}
	return nil
}

// Orders is the part of the order ledger the reconciler drives.
type Orders interface {
	FindByTransactionID(ctx context.Context, transactionID string) (*order.Order, error)
	Apply(ctx context.Context, id string, u order.Update) (*order.Order, error)
}

const maxApplyAttempts = 3

type Reconciler struct {
	orders  Orders
	journal Journal
	now     func() time.Time
}

func NewReconciler(orders Orders, journal Journal) *Reconciler {
	return &Reconciler{orders: orders, journal: journal, now: time.Now}
}

// Handle applies n to the order that owns its transaction. Notifications
// whose event id is already journaled are skipped, and a replayed outcome
// leaves the order unchanged.
func (r *Reconciler) Handle(ctx context.Context, n Notification) (Result, error) {
	if err := n.Validate(); err != nil {
		return "", err
	}

	seen, err := r.journal.Seen(ctx, n.EventID)
	if err != nil {
		return "", fmt.Errorf("reconciler: %w", err)
	}
	if seen {
		log.Info().Str("event_id", n.EventID).Msg("reconciler: notification already handled, skipping")
		return ResultDuplicate, nil
	}

	o, applyErr := r.applyWithRetry(ctx, n)
	entry := Entry{
		EventID:       n.EventID,
		TransactionID: n.TransactionID,
		Outcome:       n.Outcome,
		Result:        ResultApplied,
		ReceivedAt:    r.now().UTC(),
	}
	if o != nil {
		entry.OrderID = o.ID
	}

	switch {
	case applyErr == nil:
	case isRejection(applyErr):
		entry.Result = ResultRejected
		entry.ErrorMessage = applyErr.Error()
	default:
		// Nothing is journaled so the notification can be redelivered.
		return "", applyErr
	}

	if err := r.journal.Record(ctx, entry); err != nil {
		if errors.Is(err, ErrAlreadyRecorded) {
			return ResultDuplicate, nil
		}
		log.Error().Err(err).Str("event_id", n.EventID).Msg("reconciler: failed to journal notification")
		return "", fmt.Errorf("reconciler: %w", err)
	}

	if entry.Result == ResultRejected {
		log.Warn().Err(applyErr).Str("event_id", n.EventID).Str("order_id", entry.OrderID).Msg("reconciler: notification rejected")
		return ResultRejected, applyErr
	}

	log.Info().
		Str("event_id", n.EventID).
		Str("order_id", o.ID).
		Str("outcome", string(n.Outcome)).
		Stringer("status", o.Status).
		Stringer("payment_status", o.Payment.Status).
		Msg("reconciler: notification applied")
	return ResultApplied, nil
}

func (r *Reconciler) applyWithRetry(ctx context.Context, n Notification) (*order.Order, error) {
	var lastErr error
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		o, err := r.orders.FindByTransactionID(ctx, n.TransactionID)
		if err != nil {
			if errors.Is(err, order.ErrOrderNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownTransaction, n.TransactionID)
			}
			return nil, fmt.Errorf("reconciler: %w", err)
		}

		updated, err := r.orders.Apply(ctx, o.ID, updateFor(o, n))
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, order.ErrConflictingUpdate) {
			return o, err
		}
		lastErr = err
		log.Debug().Str("order_id", o.ID).Int("attempt", attempt+1).Msg("reconciler: concurrent order update, retrying")
	}
	return nil, lastErr
}

func updateFor(o *order.Order, n Notification) order.Update {
	u := order.Update{PaymentDetails: n.Details}
	switch n.Outcome {
	case OutcomeSucceeded:
		completed := order.PaymentCompleted
		u.PaymentStatus = &completed
		if o.Status == order.StatusPending {
			paid := order.StatusPaid
			u.Status = &paid
		}
	case OutcomeFailed:
		failed := order.PaymentFailed
		u.PaymentStatus = &failed
	case OutcomeRefunded:
		refunded := order.PaymentRefunded
		status := order.StatusRefunded
		u.PaymentStatus = &refunded
		u.Status = &status
	}
	return u
}

// isRejection reports whether err is a permanent refusal that redelivery
// cannot change.
func isRejection(err error) bool {
	return errors.Is(err, order.ErrInvalidTransition) ||
		errors.Is(err, order.ErrInconsistentPaymentState) ||
		errors.Is(err, ErrUnknownTransaction)
}
