package order

import (
	"errors"
	"time"
)

var (
	ErrOrderNotFound            = errors.New("order not found")
	ErrInvalidOrder             = errors.New("invalid order")
	ErrInvalidTotal             = errors.New("order total does not match computed total")
	ErrInvalidTransition        = errors.New("invalid order status transition")
	ErrInconsistentPaymentState = errors.New("order status inconsistent with payment status")
	ErrConflictingUpdate        = errors.New("order was modified concurrently")
	ErrDuplicateTransaction     = errors.New("transaction id already attached to another order")
	ErrDuplicateOrderNumber     = errors.New("order number already in use")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

var AllStatuses = []Status{
	StatusPending, StatusPaid, StatusProcessing, StatusShipped,
	StatusDelivered, StatusCancelled, StatusRefunded,
}

func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Terminal states admit no further transition.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}

func (s Status) String() string {
	return string(s)
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	_, ok := allowedPaymentTransitions[s]
	return ok
}

func (s PaymentStatus) String() string {
	return string(s)
}

type PaymentMethod string

const (
	MethodCardGateway   PaymentMethod = "card_gateway"
	MethodWalletGateway PaymentMethod = "wallet_gateway"
)

// ParsePaymentMethod accepts the canonical names plus the gateway names used
// by older clients.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch s {
	case string(MethodCardGateway), "stripe", "card":
		return MethodCardGateway, true
	case string(MethodWalletGateway), "paypal", "wallet":
		return MethodWalletGateway, true
	}
	return "", false
}

type Item struct {
	ProductID   string  `json:"product_id" bson:"product_id"`
	SKU         string  `json:"sku" bson:"sku"`
	Quantity    int     `json:"quantity" bson:"quantity"`
	UnitPrice   float64 `json:"price" bson:"price"`
	Name        string  `json:"name" bson:"name"`
	VariantName string  `json:"variant_name" bson:"variant_name"`
}

type ShippingAddress struct {
	Street     string `json:"street" bson:"street"`
	City       string `json:"city" bson:"city"`
	State      string `json:"state" bson:"state"`
	PostalCode string `json:"postal_code" bson:"postal_code"`
	Country    string `json:"country" bson:"country"`
	Phone      string `json:"phone" bson:"phone"`
}

// Payment is owned by its order and has no identity of its own.
type Payment struct {
	Method        PaymentMethod     `json:"method" bson:"method"`
	Status        PaymentStatus     `json:"status" bson:"status"`
	Amount        float64           `json:"amount" bson:"amount"`
	TransactionID string            `json:"transaction_id,omitempty" bson:"transaction_id,omitempty"`
	Details       map[string]string `json:"payment_details" bson:"payment_details"`
}

type Order struct {
	ID              string          `json:"id" bson:"_id"`
	OrderNumber     string          `json:"order_number" bson:"order_number"`
	UserID          string          `json:"user_id" bson:"user_id"`
	Items           []Item          `json:"items" bson:"items"`
	ShippingAddress ShippingAddress `json:"shipping_address" bson:"shipping_address"`
	Payment         Payment         `json:"payment" bson:"payment"`
	Subtotal        float64         `json:"subtotal" bson:"subtotal"`
	ShippingCost    float64         `json:"shipping_cost" bson:"shipping_cost"`
	Tax             float64         `json:"tax" bson:"tax"`
	Total           float64         `json:"total" bson:"total"`
	Status          Status          `json:"status" bson:"status"`
	Notes           string          `json:"notes,omitempty" bson:"notes,omitempty"`
	Version         int64           `json:"version" bson:"version"`
	CreatedAt       time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" bson:"updated_at"`
}

func (o *Order) clone() *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	c.Payment.Details = make(map[string]string, len(o.Payment.Details))
	for k, v := range o.Payment.Details {
		c.Payment.Details[k] = v
	}
	return &c
}

type LineRequest struct {
	ProductID string
	SKU       string
	Quantity  int
}

// PlaceOrder is the checkout request. Total is optional; when set it must
// match the computed total.
type PlaceOrder struct {
	UserID          string
	Items           []LineRequest
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	ShippingCost    float64
	Tax             float64
	Total           *float64
	Notes           string
}

// Update is a joint change of order and payment state, applied atomically.
// Nil fields are left as they are.
type Update struct {
	Status         *Status
	PaymentStatus  *PaymentStatus
	TransactionID  string
	PaymentDetails map[string]string
	Notes          *string
}

type PaymentAttempt struct {
	Method        PaymentMethod
	TransactionID string
	Details       map[string]string
}

type ListFilter struct {
	UserID string
	Status *Status
	Limit  int64
	Offset int64
}
