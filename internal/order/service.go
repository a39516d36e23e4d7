package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
)

// Catalog prices and stock-checks a single line item.
type Catalog interface {
	Quote(ctx context.Context, productID, sku string, quantity int) (catalog.Quote, error)
}

type Service interface {
	CreateOrder(ctx context.Context, req PlaceOrder) (*Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	ListOrdersByUser(ctx context.Context, userID string, limit, offset int64) ([]Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, int64, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*Order, error)
	Apply(ctx context.Context, id string, u Update) (*Order, error)
	UpdateStatus(ctx context.Context, id string, status Status) (*Order, error)
	UpdatePaymentStatus(ctx context.Context, id string, status PaymentStatus) (*Order, error)
	Cancel(ctx context.Context, id string) (*Order, error)
	MarkPaid(ctx context.Context, id, transactionID string) (*Order, error)
	Refund(ctx context.Context, id string) (*Order, error)
	StartPaymentAttempt(ctx context.Context, id string, attempt PaymentAttempt) (*Order, error)
}

const maxOrderNumberAttempts = 3

type Option func(*service)

// WithClock overrides the time source used for timestamps and order numbers.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

type service struct {
	repo    Repository
	catalog Catalog
	now     func() time.Time
}

func NewService(repo Repository, catalog Catalog, opts ...Option) Service {
	s := &service{
		repo:    repo,
		catalog: catalog,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateOrder(ctx context.Context, req PlaceOrder) (*Order, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidOrder)
	}
	if len(req.Items) == 0 {
		log.Warn().Str("user_id", req.UserID).Msg("service: attempt to create order with no items")
		return nil, fmt.Errorf("%w: order must contain at least one item", ErrInvalidOrder)
	}
	if req.ShippingCost < 0 || req.Tax < 0 {
		return nil, fmt.Errorf("%w: shipping cost and tax cannot be negative", ErrInvalidOrder)
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = MethodCardGateway
	}
	if _, ok := ParsePaymentMethod(string(req.PaymentMethod)); !ok {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidOrder, req.PaymentMethod)
	}

	lines, err := mergeLines(req.Items)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(lines))
	for _, line := range lines {
		q, err := s.catalog.Quote(ctx, line.ProductID, line.SKU, line.Quantity)
		if err != nil {
			log.Warn().Err(err).Str("product_id", line.ProductID).Str("sku", line.SKU).Msg("service: item rejected by catalog")
			return nil, fmt.Errorf("service: failed to quote %s/%s: %w", line.ProductID, line.SKU, err)
		}
		items = append(items, Item{
			ProductID:   q.ProductID,
			SKU:         q.SKU,
			Quantity:    line.Quantity,
			UnitPrice:   q.UnitPrice,
			Name:        q.ProductName,
			VariantName: q.VariantName,
		})
	}

	t := computeTotals(items, req.ShippingCost, req.Tax)
	if req.Total != nil {
		if err := checkTotal(t.Total, *req.Total); err != nil {
			log.Warn().Str("user_id", req.UserID).Str("computed", t.Total.StringFixed(2)).Float64("supplied", *req.Total).Msg("service: order total mismatch")
			return nil, err
		}
	}

	now := s.now().UTC()
	method, _ := ParsePaymentMethod(string(req.PaymentMethod))

	o := &Order{
		UserID:          req.UserID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		Subtotal:        t.Subtotal.InexactFloat64(),
		ShippingCost:    req.ShippingCost,
		Tax:             req.Tax,
		Total:           t.Total.InexactFloat64(),
		Status:          StatusPending,
		Notes:           req.Notes,
		Payment: Payment{
			Method:  method,
			Status:  PaymentPending,
			Amount:  t.Total.InexactFloat64(),
			Details: map[string]string{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.VerifyTotals(); err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("service: built order fails its own totals check")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	// Order numbers carry only 32 bits of the id, so a collision gets a fresh id.
	for attempt := 1; ; attempt++ {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, fmt.Errorf("service: failed to generate order id: %w", err)
		}
		o.ID = id.String()
		o.OrderNumber = orderNumber(now, id)

		err = s.repo.Create(ctx, o)
		if err == nil {
			break
		}
		if errors.Is(err, ErrDuplicateOrderNumber) && attempt < maxOrderNumberAttempts {
			log.Warn().Str("order_number", o.OrderNumber).Int("attempt", attempt).Msg("service: order number collision, regenerating")
			continue
		}
		log.Error().Err(err).Msg("service: failed to create order in repository")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	log.Info().Str("order_id", o.ID).Str("order_number", o.OrderNumber).Str("user_id", o.UserID).Float64("total", o.Total).Msg("service: order created")
	return o, nil
}

func (s *service) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Str("order_id", id).Msg("service: failed to fetch order by id")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return o, nil
}

func (s *service) ListOrdersByUser(ctx context.Context, userID string, limit, offset int64) ([]Order, error) {
	orders, _, err := s.ListOrders(ctx, ListFilter{UserID: userID, Limit: limit, Offset: offset})
	return orders, err
}

func (s *service) ListOrders(ctx context.Context, filter ListFilter) ([]Order, int64, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidOrder, *filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	orders, total, err := s.repo.List(ctx, filter)
	if err != nil {
		log.Error().Err(err).Str("user_id", filter.UserID).Msg("service: failed to list orders")
		return nil, 0, fmt.Errorf("service: failed to list orders: %w", err)
	}
	return orders, total, nil
}

func (s *service) FindByTransactionID(ctx context.Context, transactionID string) (*Order, error) {
	if transactionID == "" {
		return nil, ErrOrderNotFound
	}
	o, err := s.repo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to find order by transaction: %w", err)
	}
	return o, nil
}

// Apply validates u against the stored order and writes the result only if
// no other writer got there first. A rejected update leaves the order as it
// was.
func (s *service) Apply(ctx context.Context, id string, u Update) (*Order, error) {
	current, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	next, changed, err := apply(current, u)
	if err != nil {
		log.Warn().Err(err).
			Str("order_id", id).
			Stringer("status", current.Status).
			Stringer("payment_status", current.Payment.Status).
			Msg("service: order update rejected")
		return nil, err
	}
	if !changed {
		log.Info().Str("order_id", id).Msg("service: order already in requested state, no update needed")
		return current, nil
	}

	next.UpdatedAt = s.now().UTC()
	if err := s.repo.Save(ctx, next, current.Version); err != nil {
		switch {
		case errors.Is(err, ErrConflictingUpdate):
			log.Warn().Str("order_id", id).Int64("version", current.Version).Msg("service: concurrent order update lost")
			return nil, err
		case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrDuplicateTransaction):
			return nil, err
		}
		log.Error().Err(err).Str("order_id", id).Msg("service: failed to save order")
		return nil, fmt.Errorf("service: failed to update order: %w", err)
	}

	log.Info().
		Str("order_id", id).
		Stringer("old_status", current.Status).
		Stringer("new_status", next.Status).
		Stringer("old_payment_status", current.Payment.Status).
		Stringer("new_payment_status", next.Payment.Status).
		Msg("service: order updated")
	return next, nil
}

func (s *service) UpdateStatus(ctx context.Context, id string, status Status) (*Order, error) {
	return s.Apply(ctx, id, Update{Status: &status})
}

func (s *service) UpdatePaymentStatus(ctx context.Context, id string, status PaymentStatus) (*Order, error) {
	return s.Apply(ctx, id, Update{PaymentStatus: &status})
}

func (s *service) Cancel(ctx context.Context, id string) (*Order, error) {
	status := StatusCancelled
	return s.Apply(ctx, id, Update{Status: &status})
}

func (s *service) MarkPaid(ctx context.Context, id, transactionID string) (*Order, error) {
	status := StatusPaid
	payment := PaymentCompleted
	return s.Apply(ctx, id, Update{Status: &status, PaymentStatus: &payment, TransactionID: transactionID})
}

func (s *service) Refund(ctx context.Context, id string) (*Order, error) {
	status := StatusRefunded
	payment := PaymentRefunded
	return s.Apply(ctx, id, Update{Status: &status, PaymentStatus: &payment})
}

// StartPaymentAttempt replaces the payment of a pending order with a fresh
// pending one. A failed payment is never moved back to pending in place, and
// a pending payment already bound to another transaction is left alone.
func (s *service) StartPaymentAttempt(ctx context.Context, id string, attempt PaymentAttempt) (*Order, error) {
	method, ok := ParsePaymentMethod(string(attempt.Method))
	if !ok {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidOrder, attempt.Method)
	}

	current, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot start payment for %s order", ErrInvalidTransition, current.Status)
	}
	if current.Payment.Status != PaymentPending && current.Payment.Status != PaymentFailed {
		return nil, fmt.Errorf("%w: payment is already %s", ErrInvalidTransition, current.Payment.Status)
	}
	if current.Payment.Status == PaymentPending && current.Payment.TransactionID != "" && current.Payment.TransactionID != attempt.TransactionID {
		return nil, fmt.Errorf("%w: payment %s is still in flight", ErrInvalidTransition, current.Payment.TransactionID)
	}

	next := current.clone()
	next.Payment = Payment{
		Method:        method,
		Status:        PaymentPending,
		Amount:        current.Total,
		TransactionID: attempt.TransactionID,
		Details:       map[string]string{},
	}
	for k, v := range attempt.Details {
		next.Payment.Details[k] = v
	}
	next.UpdatedAt = s.now().UTC()

	if err := s.repo.Save(ctx, next, current.Version); err != nil {
		if errors.Is(err, ErrConflictingUpdate) || errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrDuplicateTransaction) {
			return nil, err
		}
		return nil, fmt.Errorf("service: failed to start payment attempt: %w", err)
	}

	log.Info().Str("order_id", id).Str("method", string(method)).Str("transaction_id", attempt.TransactionID).Msg("service: payment attempt started")
	return next, nil
}

func mergeLines(lines []LineRequest) ([]LineRequest, error) {
	merged := make([]LineRequest, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.ProductID == "" || l.SKU == "" {
			return nil, fmt.Errorf("%w: item requires product id and sku", ErrInvalidOrder)
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be greater than zero", ErrInvalidOrder, l.SKU)
		}
		key := l.ProductID + "/" + l.SKU
		if i, ok := index[key]; ok {
			if merged[i].Quantity > math.MaxInt-l.Quantity {
				return nil, fmt.Errorf("%w: combined quantity for %s is too large", ErrInvalidOrder, l.SKU)
			}
			merged[i].Quantity += l.Quantity
			continue
		}
		index[key] = len(merged)
		merged = append(merged, l)
	}
	return merged, nil
}

func orderNumber(now time.Time, id uuid.UUID) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix)
}
