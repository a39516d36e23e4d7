package http_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/vasiliy-maslov/storefront/internal/auth"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/payment"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) VerifyToken(token string) (auth.Identity, error) {
	args := m.Called(token)
	return args.Get(0).(auth.Identity), args.Error(1)
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, email, password string) (auth.Identity, error) {
	args := m.Called(ctx, email, password)
	return args.Get(0).(auth.Identity), args.Error(1)
}

func (m *MockAuthenticator) IssueToken(identity auth.Identity) (string, time.Time, error) {
	args := m.Called(identity)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

func (m *MockAuthenticator) Register(ctx context.Context, draft user.User, password string) (*user.User, error) {
	args := m.Called(ctx, draft, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) CreateUser(ctx context.Context, u *user.User, password string) (*user.User, error) {
	args := m.Called(ctx, u, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserService) GetUserByID(ctx context.Context, id string) (*user.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserService) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserService) UpdateProfile(ctx context.Context, id string, profile user.Profile) (*user.User, error) {
	args := m.Called(ctx, id, profile)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserService) ChangePassword(ctx context.Context, id string, password string) error {
	return m.Called(ctx, id, password).Error(0)
}

func (m *MockUserService) Deactivate(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockUserService) AddAddress(ctx context.Context, id string, address user.Address) (*user.User, error) {
	args := m.Called(ctx, id, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserService) SetDefaultAddress(ctx context.Context, id string, index int) (*user.User, error) {
	args := m.Called(ctx, id, index)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserService) ListUsers(ctx context.Context, limit, offset int64) ([]user.User, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]user.User), args.Error(1)
}

type MockCatalogService struct {
	mock.Mock
}

func (m *MockCatalogService) CreateProduct(ctx context.Context, p *catalog.Product) (*catalog.Product, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Product), args.Error(1)
}

func (m *MockCatalogService) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Product), args.Error(1)
}

func (m *MockCatalogService) ListProducts(ctx context.Context, filter catalog.ListFilter) ([]catalog.Product, int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]catalog.Product), args.Get(1).(int64), args.Error(2)
}

func (m *MockCatalogService) UpdateProduct(ctx context.Context, p *catalog.Product) (*catalog.Product, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Product), args.Error(1)
}

func (m *MockCatalogService) SetStatus(ctx context.Context, id string, status catalog.Status) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *MockCatalogService) UpdateStock(ctx context.Context, id, sku string, stock int) error {
	return m.Called(ctx, id, sku, stock).Error(0)
}

func (m *MockCatalogService) Quote(ctx context.Context, productID, sku string, quantity int) (catalog.Quote, error) {
	args := m.Called(ctx, productID, sku, quantity)
	return args.Get(0).(catalog.Quote), args.Error(1)
}

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) orderResult(args mock.Arguments) (*order.Order, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) CreateOrder(ctx context.Context, req order.PlaceOrder) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, req))
}

func (m *MockOrderService) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id))
}

func (m *MockOrderService) ListOrdersByUser(ctx context.Context, userID string, limit, offset int64) ([]order.Order, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) ListOrders(ctx context.Context, filter order.ListFilter) ([]order.Order, int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]order.Order), args.Get(1).(int64), args.Error(2)
}

func (m *MockOrderService) FindByTransactionID(ctx context.Context, transactionID string) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, transactionID))
}

func (m *MockOrderService) Apply(ctx context.Context, id string, u order.Update) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id, u))
}

func (m *MockOrderService) UpdateStatus(ctx context.Context, id string, status order.Status) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id, status))
}

func (m *MockOrderService) UpdatePaymentStatus(ctx context.Context, id string, status order.PaymentStatus) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id, status))
}

func (m *MockOrderService) Cancel(ctx context.Context, id string) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id))
}

func (m *MockOrderService) MarkPaid(ctx context.Context, id, transactionID string) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id, transactionID))
}

func (m *MockOrderService) Refund(ctx context.Context, id string) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id))
}

func (m *MockOrderService) StartPaymentAttempt(ctx context.Context, id string, attempt order.PaymentAttempt) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, id, attempt))
}

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Handle(ctx context.Context, n payment.Notification) (payment.Result, error) {
	args := m.Called(ctx, n)
	return args.Get(0).(payment.Result), args.Error(1)
}
