package order

import (
	"fmt"
	"maps"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusPaid:      true,
		StatusCancelled: true,
	},
	StatusPaid: {
		StatusProcessing: true,
		StatusRefunded:   true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusShipped:   true,
		StatusRefunded:  true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusDelivered: true,
		StatusRefunded:  true,
		StatusCancelled: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
	StatusRefunded:  {},
}

var allowedPaymentTransitions = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending: {
		PaymentCompleted: true,
		PaymentFailed:    true,
	},
	PaymentCompleted: {
		PaymentRefunded: true,
	},
	PaymentFailed:   {},
	PaymentRefunded: {},
}

// CanTransition reports whether the order status edge from -> to exists.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return allowedPaymentTransitions[from][to]
}

// Consistent reports whether an order status may be paired with a payment
// status.
func Consistent(status Status, payment PaymentStatus) bool {
	switch status {
	case StatusPending:
		return payment != PaymentRefunded
	case StatusPaid, StatusProcessing, StatusShipped, StatusDelivered:
		return payment == PaymentCompleted
	case StatusCancelled:
		return payment == PaymentPending || payment == PaymentFailed
	case StatusRefunded:
		return payment == PaymentRefunded
	}
	return false
}

// apply computes the order that results from u without touching current.
// changed is false when u leaves every field as it was.
func apply(current *Order, u Update) (next *Order, changed bool, err error) {
	next = current.clone()

	if u.Status != nil && *u.Status != current.Status {
		if !u.Status.Valid() {
			return nil, false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, *u.Status)
		}
		if !CanTransition(current.Status, *u.Status) {
			return nil, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, *u.Status)
		}
		next.Status = *u.Status
		changed = true
	}

	if u.PaymentStatus != nil && *u.PaymentStatus != current.Payment.Status {
		if !u.PaymentStatus.Valid() {
			return nil, false, fmt.Errorf("%w: unknown payment status %q", ErrInvalidTransition, *u.PaymentStatus)
		}
		if current.Status.Terminal() {
			return nil, false, fmt.Errorf("%w: order is %s", ErrInvalidTransition, current.Status)
		}
		if !CanTransitionPayment(current.Payment.Status, *u.PaymentStatus) {
			return nil, false, fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, current.Payment.Status, *u.PaymentStatus)
		}
		next.Payment.Status = *u.PaymentStatus
		changed = true
	}

	if !Consistent(next.Status, next.Payment.Status) {
		return nil, false, fmt.Errorf("%w: order %s with payment %s", ErrInconsistentPaymentState, next.Status, next.Payment.Status)
	}

	if u.TransactionID != "" && u.TransactionID != current.Payment.TransactionID {
		next.Payment.TransactionID = u.TransactionID
		changed = true
	}
	if len(u.PaymentDetails) > 0 {
		maps.Copy(next.Payment.Details, u.PaymentDetails)
		if !maps.Equal(next.Payment.Details, current.Payment.Details) {
			changed = true
		}
	}
	if u.Notes != nil && *u.Notes != current.Notes {
		next.Notes = *u.Notes
		changed = true
	}

	return next, changed, nil
}
