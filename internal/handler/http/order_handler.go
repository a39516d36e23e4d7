package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

type OrderItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	SKU       string `json:"sku" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type ShippingAddressRequest struct {
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required"`
	Phone      string `json:"phone,omitempty"`
}

type CreateOrderRequest struct {
	Items           []OrderItemRequest      `json:"items" validate:"required,min=1,dive"`
	ShippingAddress *ShippingAddressRequest `json:"shipping_address,omitempty"`
	PaymentMethod   string                  `json:"payment_method" validate:"required"`
	ShippingCost    float64                 `json:"shipping_cost" validate:"gte=0"`
	Tax             float64                 `json:"tax" validate:"gte=0"`
	Total           *float64                `json:"total,omitempty" validate:"omitempty,gte=0"`
	Notes           string                  `json:"notes,omitempty" validate:"max=1000"`
}

type PaymentAttemptRequest struct {
	PaymentMethod string            `json:"payment_method" validate:"required"`
	TransactionID string            `json:"transaction_id,omitempty"`
	Details       map[string]string `json:"payment_details,omitempty"`
}

type OrderStatusRequest struct {
	Status        string  `json:"status,omitempty"`
	PaymentStatus string  `json:"payment_status,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

type OrderListResponse struct {
	Items  []order.Order `json:"items"`
	Total  int64         `json:"total"`
	Limit  int64         `json:"limit"`
	Offset int64         `json:"offset"`
}

type OrderHandler struct {
	orders   order.Service
	users    user.Service
	validate *validator.Validate
}

func NewOrderHandler(orders order.Service, users user.Service) *OrderHandler {
	return &OrderHandler{orders: orders, users: users, validate: newValidator()}
}

// RegisterRoutes mounts the customer order routes. They require Authenticate.
func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCreateOrder)
	router.Get("/orders", h.handleListMyOrders)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Post("/orders/{id}/cancel", h.handleCancelOrder)
	router.Post("/orders/{id}/payment", h.handleStartPayment)
}

// RegisterAdminRoutes mounts order administration. It requires admin or staff.
func (h *OrderHandler) RegisterAdminRoutes(router chi.Router) {
	router.Get("/admin/orders", h.handleListOrders)
	router.Patch("/admin/orders/{id}/status", h.handleUpdateStatus)
	router.Post("/admin/orders/{id}/refund", h.handleRefund)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	u, err := currentUser(r.Context(), h.users)
	if err != nil {
		respondWithServiceError(w, err, "Failed to load current user")
		return
	}

	method, ok := order.ParsePaymentMethod(req.PaymentMethod)
	if !ok {
		respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Error:   "Validation failed",
			Details: map[string]string{"payment_method": "must be one of: card_gateway wallet_gateway"},
		})
		return
	}

	place := order.PlaceOrder{
		UserID:        u.ID,
		PaymentMethod: method,
		ShippingCost:  req.ShippingCost,
		Tax:           req.Tax,
		Total:         req.Total,
		Notes:         req.Notes,
	}
	for _, it := range req.Items {
		place.Items = append(place.Items, order.LineRequest{ProductID: it.ProductID, SKU: it.SKU, Quantity: it.Quantity})
	}

	switch {
	case req.ShippingAddress != nil:
		a := req.ShippingAddress
		place.ShippingAddress = order.ShippingAddress{
			Street: a.Street, City: a.City, State: a.State,
			PostalCode: a.PostalCode, Country: a.Country, Phone: a.Phone,
		}
	default:
		a, ok := u.DefaultAddress()
		if !ok {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: map[string]string{"shipping_address": "is required when no default address is saved"},
			})
			return
		}
		place.ShippingAddress = order.ShippingAddress{
			Street: a.Street, City: a.City, State: a.State,
			PostalCode: a.PostalCode, Country: a.Country, Phone: u.Phone,
		}
	}

	created, err := h.orders.CreateOrder(r.Context(), place)
	if err != nil {
		respondWithServiceError(w, err, "Failed to create order")
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

func (h *OrderHandler) handleListMyOrders(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r.Context(), h.users)
	if err != nil {
		respondWithServiceError(w, err, "Failed to load current user")
		return
	}

	limit, offset := pagination(r)
	orders, err := h.orders.ListOrdersByUser(r.Context(), u.ID, limit, offset)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}
	respondWithJSON(w, http.StatusOK, orders)
}

// ownedOrder loads the order and hides orders of other customers behind a
// not-found response.
func (h *OrderHandler) ownedOrder(w http.ResponseWriter, r *http.Request) (*order.Order, bool) {
	u, err := currentUser(r.Context(), h.users)
	if err != nil {
		respondWithServiceError(w, err, "Failed to load current user")
		return nil, false
	}

	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order")
		return nil, false
	}
	if o.UserID != u.ID && !isStaff(r) {
		log.Warn().Str("order_id", o.ID).Str("user_id", u.ID).Msg("Order requested by non-owner")
		respondWithError(w, http.StatusNotFound, order.ErrOrderNotFound.Error())
		return nil, false
	}
	return o, true
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	cancelled, err := h.orders.Cancel(r.Context(), o.ID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to cancel order")
		return
	}
	respondWithJSON(w, http.StatusOK, cancelled)
}

func (h *OrderHandler) handleStartPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentAttemptRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	o, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	updated, err := h.orders.StartPaymentAttempt(r.Context(), o.ID, order.PaymentAttempt{
		Method:        order.PaymentMethod(req.PaymentMethod),
		TransactionID: req.TransactionID,
		Details:       req.Details,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to start payment")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := order.ListFilter{Limit: limit, Offset: offset, UserID: r.URL.Query().Get("user_id")}
	if s := r.URL.Query().Get("status"); s != "" {
		status := order.Status(s)
		filter.Status = &status
	}

	orders, total, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}
	respondWithJSON(w, http.StatusOK, OrderListResponse{Items: orders, Total: total, Limit: limit, Offset: offset})
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req OrderStatusRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	if req.Status == "" && req.PaymentStatus == "" && req.Notes == nil {
		respondWithError(w, http.StatusBadRequest, "status, payment_status or notes is required")
		return
	}

	var u order.Update
	if req.Status != "" {
		s := order.Status(req.Status)
		u.Status = &s
	}
	if req.PaymentStatus != "" {
		p := order.PaymentStatus(req.PaymentStatus)
		u.PaymentStatus = &p
	}
	u.Notes = req.Notes

	updated, err := h.orders.Apply(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		respondWithServiceError(w, err, "Failed to update order")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *OrderHandler) handleRefund(w http.ResponseWriter, r *http.Request) {
	updated, err := h.orders.Refund(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithServiceError(w, err, "Failed to refund order")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}
