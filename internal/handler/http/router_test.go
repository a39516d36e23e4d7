package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/storefront/internal/auth"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
	handler "github.com/vasiliy-maslov/storefront/internal/handler/http"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/payment"
	"github.com/vasiliy-maslov/storefront/internal/storage"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

const webhookSecret = "whsec_test"

var (
	jane = &user.User{
		ID: "u-jane", Email: "jane@example.com", FirstName: "Jane", LastName: "Doe",
		Role: user.RoleCustomer, IsActive: true,
		Addresses: []user.Address{{Street: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US", IsDefault: true}},
	}
	bob = &user.User{ID: "u-bob", Email: "bob@example.com", Role: user.RoleCustomer, IsActive: true}
	ann = &user.User{ID: "u-ann", Email: "ann@example.com", Role: user.RoleAdmin, IsActive: true}
)

type testEnv struct {
	auth       *MockAuthenticator
	users      *MockUserService
	catalog    *MockCatalogService
	orders     *MockOrderService
	reconciler *MockReconciler
	router     http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		auth:       new(MockAuthenticator),
		users:      new(MockUserService),
		catalog:    new(MockCatalogService),
		orders:     new(MockOrderService),
		reconciler: new(MockReconciler),
	}

	env.auth.On("VerifyToken", "jane-token").Return(auth.Identity{Email: jane.Email, Role: user.RoleCustomer}, nil).Maybe()
	env.auth.On("VerifyToken", "bob-token").Return(auth.Identity{Email: bob.Email, Role: user.RoleCustomer}, nil).Maybe()
	env.auth.On("VerifyToken", "admin-token").Return(auth.Identity{Email: ann.Email, Role: user.RoleAdmin}, nil).Maybe()
	env.auth.On("VerifyToken", "expired-token").Return(auth.Identity{}, auth.ErrTokenExpired).Maybe()
	env.users.On("GetUserByEmail", mock.Anything, jane.Email).Return(jane, nil).Maybe()
	env.users.On("GetUserByEmail", mock.Anything, bob.Email).Return(bob, nil).Maybe()
	env.users.On("GetUserByEmail", mock.Anything, ann.Email).Return(ann, nil).Maybe()

	env.router = handler.NewRouter(handler.Deps{
		Auth:          env.auth,
		Users:         env.users,
		Catalog:       env.catalog,
		Orders:        env.orders,
		Reconciler:    env.reconciler,
		WebhookSecret: webhookSecret,
	})

	t.Cleanup(func() {
		env.catalog.AssertExpectations(t)
		env.orders.AssertExpectations(t)
		env.reconciler.AssertExpectations(t)
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	msg, _ := body["error"].(string)
	return msg
}

func TestRouter_Health(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestRouter_HealthReportsUnavailableStore(t *testing.T) {
	router := handler.NewRouter(handler.Deps{
		Auth: new(MockAuthenticator),
		Ping: func(context.Context) error { return errors.New("no primary") },
	})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestAuthenticate_Middleware(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantMsg  string
	}{
		{name: "missing_header", wantCode: http.StatusUnauthorized, wantMsg: "Not authenticated"},
		{name: "wrong_scheme", header: "Basic abc", wantCode: http.StatusUnauthorized, wantMsg: "Not authenticated"},
		{name: "expired", header: "Bearer expired-token", wantCode: http.StatusUnauthorized, wantMsg: "token has expired"},
		{name: "valid", header: "Bearer jane-token", wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			env.router.ServeHTTP(rr, req)

			require.Equal(t, tt.wantCode, rr.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
				assert.Equal(t, tt.wantMsg, decodeError(t, rr))
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/v1/admin/orders", "jane-token", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodDelete, "/api/v1/admin/users/u-bob", "jane-token", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	env.users.On("Deactivate", mock.Anything, "u-bob").Return(nil).Once()
	rr = env.do(t, http.MethodDelete, "/api/v1/admin/users/u-bob", "admin-token", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestAuthHandler_Token(t *testing.T) {
	env := newTestEnv(t)
	expires := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	identity := auth.Identity{Email: jane.Email, Role: user.RoleCustomer}

	env.auth.On("Authenticate", mock.Anything, jane.Email, "correct-horse").Return(identity, nil)
	env.auth.On("Authenticate", mock.Anything, jane.Email, "wrong").Return(auth.Identity{}, auth.ErrInvalidCredentials)
	env.auth.On("IssueToken", identity).Return("signed.jwt.value", expires, nil)

	t.Run("json", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/v1/token", "", handler.TokenRequest{Email: jane.Email, Password: "correct-horse"})
		require.Equal(t, http.StatusOK, rr.Code)

		var resp handler.TokenResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		want := handler.TokenResponse{AccessToken: "signed.jwt.value", TokenType: "bearer", ExpiresAt: expires}
		if diff := cmp.Diff(want, resp); diff != "" {
			t.Errorf("token response mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("email_is_matched_as_spelled", func(t *testing.T) {
		mixed := auth.Identity{Email: "Admin@Shop.com", Role: user.RoleAdmin}
		env.auth.On("Authenticate", mock.Anything, "Admin@Shop.com", "correct-horse").Return(mixed, nil).Once()
		env.auth.On("IssueToken", mixed).Return("admin.jwt.value", expires, nil).Once()

		rr := env.do(t, http.MethodPost, "/api/v1/token", "", handler.TokenRequest{Email: "Admin@Shop.com", Password: "correct-horse"})
		require.Equal(t, http.StatusOK, rr.Code)
		env.auth.AssertCalled(t, "Authenticate", mock.Anything, "Admin@Shop.com", "correct-horse")
	})

	t.Run("form", func(t *testing.T) {
		form := url.Values{"username": {jane.Email}, "password": {"correct-horse"}}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("invalid_credentials", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/v1/token", "", handler.TokenRequest{Email: jane.Email, Password: "wrong"})
		require.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "invalid credentials", decodeError(t, rr))
	})

	t.Run("validation", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/v1/token", "", `{"email":"not-an-email"}`)
		require.Equal(t, http.StatusBadRequest, rr.Code)

		var resp handler.ValidationErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "must be a valid email address", resp.Details["email"])
		assert.Equal(t, "is required", resp.Details["password"])
	})
}

func TestAuthHandler_Register(t *testing.T) {
	env := newTestEnv(t)
	req := handler.RegisterRequest{Email: "new@example.com", Password: "longenough", FirstName: "New", LastName: "User"}

	env.auth.On("Register", mock.Anything, mock.MatchedBy(func(u user.User) bool {
		return u.Email == "new@example.com" && u.Role == ""
	}), "longenough").Return(&user.User{ID: "u-new", Email: "new@example.com", Role: user.RoleCustomer, IsActive: true, PasswordHash: "secret-hash"}, nil).Once()

	rr := env.do(t, http.MethodPost, "/api/v1/register", "", req)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.NotContains(t, rr.Body.String(), "secret-hash")
	assert.Contains(t, rr.Body.String(), `"role":"customer"`)

	env.auth.On("Register", mock.Anything, mock.Anything, "longenough").Return(nil, auth.ErrDuplicateIdentity).Once()
	rr = env.do(t, http.MethodPost, "/api/v1/register", "", req)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/v1/register", "", handler.RegisterRequest{Email: "x@example.com", Password: "short", FirstName: "X", LastName: "Y"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProductHandler_PublicListingShowsPublishedOnly(t *testing.T) {
	env := newTestEnv(t)
	published := catalog.StatusPublished
	draft := catalog.StatusDraft

	env.catalog.On("ListProducts", mock.Anything, catalog.ListFilter{Status: &published, Limit: 20}).
		Return([]catalog.Product{{ID: "p-1", Name: "T-shirt", Status: published}}, int64(1), nil).Once()
	rr := env.do(t, http.MethodGet, "/api/v1/products?status=draft", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp handler.ProductListResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, int64(1), resp.Total)

	env.catalog.On("ListProducts", mock.Anything, catalog.ListFilter{Status: &draft, Limit: 5, Offset: 10}).
		Return([]catalog.Product{}, int64(0), nil).Once()
	rr = env.do(t, http.MethodGet, "/api/v1/products?status=draft&limit=5&offset=10", "admin-token", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestProductHandler_GetHidesUnpublished(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.On("GetProduct", mock.Anything, "p-draft").Return(&catalog.Product{ID: "p-draft", Status: catalog.StatusDraft}, nil).Twice()

	rr := env.do(t, http.MethodGet, "/api/v1/products/p-draft", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/v1/products/p-draft", "admin-token", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestProductHandler_Create(t *testing.T) {
	env := newTestEnv(t)
	sale := 8.0
	body := handler.ProductRequest{
		Name:       "T-shirt",
		CategoryID: "apparel",
		Variants:   []handler.VariantRequest{{SKU: "TS-RED-M", Name: "Red M", Price: 10, SalePrice: &sale, Stock: 5}},
	}

	rr := env.do(t, http.MethodPost, "/api/v1/products", "jane-token", body)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	env.catalog.On("CreateProduct", mock.Anything, mock.MatchedBy(func(p *catalog.Product) bool {
		return p.Name == "T-shirt" && len(p.Variants) == 1 && *p.Variants[0].SalePrice == 8
	})).Return(&catalog.Product{ID: "p-1", Name: "T-shirt", Status: catalog.StatusDraft}, nil).Once()
	rr = env.do(t, http.MethodPost, "/api/v1/products", "admin-token", body)
	assert.Equal(t, http.StatusCreated, rr.Code)

	env.catalog.On("CreateProduct", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("%w: TS-RED-M", catalog.ErrDuplicateSKU)).Once()
	rr = env.do(t, http.MethodPost, "/api/v1/products", "admin-token", body)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestOrderHandler_Create(t *testing.T) {
	body := handler.CreateOrderRequest{
		Items:         []handler.OrderItemRequest{{ProductID: "p-1", SKU: "TS-RED-M", Quantity: 2}},
		PaymentMethod: "stripe",
		ShippingCost:  5,
		Tax:           2,
	}

	t.Run("uses_default_address", func(t *testing.T) {
		env := newTestEnv(t)
		env.orders.On("CreateOrder", mock.Anything, mock.MatchedBy(func(p order.PlaceOrder) bool {
			return p.UserID == jane.ID &&
				p.PaymentMethod == order.MethodCardGateway &&
				p.ShippingAddress.Street == "1 Main St" &&
				len(p.Items) == 1 && p.Items[0].Quantity == 2
		})).Return(&order.Order{ID: "o-1", UserID: jane.ID, Total: 27, Status: order.StatusPending}, nil).Once()

		rr := env.do(t, http.MethodPost, "/api/v1/orders", "jane-token", body)
		require.Equal(t, http.StatusCreated, rr.Code)
	})

	t.Run("business_rule_violation", func(t *testing.T) {
		env := newTestEnv(t)
		env.orders.On("CreateOrder", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("service: failed to quote p-1/TS-RED-M: %w: TS-RED-M has 1, requested 2", catalog.ErrInsufficientStock)).Once()

		rr := env.do(t, http.MethodPost, "/api/v1/orders", "jane-token", body)
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Equal(t, "insufficient stock: TS-RED-M has 1, requested 2", decodeError(t, rr))
	})

	t.Run("catalog_unavailable", func(t *testing.T) {
		env := newTestEnv(t)
		env.orders.On("CreateOrder", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("service: catalog quote: %w", storage.ErrUnavailable)).Once()

		rr := env.do(t, http.MethodPost, "/api/v1/orders", "jane-token", body)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("order_numbers_exhausted", func(t *testing.T) {
		env := newTestEnv(t)
		env.orders.On("CreateOrder", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("service: failed to create order: %w", order.ErrDuplicateOrderNumber)).Once()

		rr := env.do(t, http.MethodPost, "/api/v1/orders", "jane-token", body)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, "Service temporarily unavailable", decodeError(t, rr))
	})

	t.Run("no_address_available", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(t, http.MethodPost, "/api/v1/orders", "bob-token", body)
		require.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("unknown_payment_method", func(t *testing.T) {
		env := newTestEnv(t)
		bad := body
		bad.PaymentMethod = "cash"
		rr := env.do(t, http.MethodPost, "/api/v1/orders", "jane-token", bad)
		require.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestOrderHandler_OwnershipIsEnforced(t *testing.T) {
	env := newTestEnv(t)
	env.orders.On("GetOrder", mock.Anything, "o-1").Return(&order.Order{ID: "o-1", UserID: jane.ID}, nil)

	rr := env.do(t, http.MethodGet, "/api/v1/orders/o-1", "bob-token", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/v1/orders/o-1/cancel", "bob-token", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/v1/orders/o-1", "jane-token", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestOrderHandler_CancelErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "conflict", err: order.ErrConflictingUpdate, wantCode: http.StatusConflict},
		{name: "paid_order", err: fmt.Errorf("%w: order cancelled with payment completed", order.ErrInconsistentPaymentState), wantCode: http.StatusUnprocessableEntity},
		{name: "terminal", err: fmt.Errorf("%w: delivered -> cancelled", order.ErrInvalidTransition), wantCode: http.StatusUnprocessableEntity},
		{name: "internal", err: errors.New("boom"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.orders.On("GetOrder", mock.Anything, "o-1").Return(&order.Order{ID: "o-1", UserID: jane.ID}, nil).Once()
			env.orders.On("Cancel", mock.Anything, "o-1").Return(nil, tt.err).Once()

			rr := env.do(t, http.MethodPost, "/api/v1/orders/o-1/cancel", "jane-token", nil)
			assert.Equal(t, tt.wantCode, rr.Code)
		})
	}
}

func TestOrderHandler_StartPayment(t *testing.T) {
	env := newTestEnv(t)
	env.orders.On("GetOrder", mock.Anything, "o-1").Return(&order.Order{ID: "o-1", UserID: jane.ID}, nil).Once()
	env.orders.On("StartPaymentAttempt", mock.Anything, "o-1", order.PaymentAttempt{
		Method: "paypal", TransactionID: "tx-1", Details: map[string]string{"payer": "jane"},
	}).Return(&order.Order{ID: "o-1", UserID: jane.ID}, nil).Once()

	rr := env.do(t, http.MethodPost, "/api/v1/orders/o-1/payment", "jane-token",
		handler.PaymentAttemptRequest{PaymentMethod: "paypal", TransactionID: "tx-1", Details: map[string]string{"payer": "jane"}})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestOrderHandler_AdminUpdateStatus(t *testing.T) {
	env := newTestEnv(t)
	shipped := order.StatusShipped

	env.orders.On("Apply", mock.Anything, "o-1", order.Update{Status: &shipped}).
		Return(&order.Order{ID: "o-1", Status: shipped}, nil).Once()
	rr := env.do(t, http.MethodPatch, "/api/v1/admin/orders/o-1/status", "admin-token", `{"status":"shipped"}`)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodPatch, "/api/v1/admin/orders/o-1/status", "admin-token", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	env.orders.On("Refund", mock.Anything, "o-2").Return(nil, order.ErrOrderNotFound).Once()
	rr = env.do(t, http.MethodPost, "/api/v1/admin/orders/o-2/refund", "admin-token", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPaymentHandler_Webhook(t *testing.T) {
	notification := payment.Notification{EventID: "evt-1", TransactionID: "tx-1", Outcome: payment.OutcomeSucceeded}
	raw, err := json.Marshal(notification)
	require.NoError(t, err)

	send := func(env *testEnv, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(raw))
		req.Header.Set(payment.SignatureHeader, signature)
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, req)
		return rr
	}
	valid := payment.Sign([]byte(webhookSecret), raw)

	t.Run("bad_signature", func(t *testing.T) {
		env := newTestEnv(t)
		rr := send(env, payment.Sign([]byte("other"), raw))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("applied", func(t *testing.T) {
		env := newTestEnv(t)
		env.reconciler.On("Handle", mock.Anything, notification).Return(payment.ResultApplied, nil).Once()
		rr := send(env, valid)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"result":"applied"}`, rr.Body.String())
	})

	t.Run("rejected_is_acknowledged", func(t *testing.T) {
		env := newTestEnv(t)
		env.reconciler.On("Handle", mock.Anything, notification).
			Return(payment.ResultRejected, fmt.Errorf("%w: payment failed -> completed", order.ErrInvalidTransition)).Once()
		rr := send(env, valid)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp handler.WebhookResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, payment.ResultRejected, resp.Result)
		assert.Equal(t, "invalid order status transition: payment failed -> completed", resp.Error)
	})

	t.Run("conflict_asks_for_redelivery", func(t *testing.T) {
		env := newTestEnv(t)
		env.reconciler.On("Handle", mock.Anything, notification).
			Return(payment.Result(""), order.ErrConflictingUpdate).Once()
		rr := send(env, valid)
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, "Service temporarily unavailable", decodeError(t, rr))
	})

	t.Run("transient_asks_for_redelivery", func(t *testing.T) {
		env := newTestEnv(t)
		env.reconciler.On("Handle", mock.Anything, notification).
			Return(payment.Result(""), fmt.Errorf("reconciler: %w", storage.ErrUnavailable)).Once()
		rr := send(env, valid)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}
