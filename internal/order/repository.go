package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vasiliy-maslov/storefront/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Repository interface {
	Create(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, int64, error)
	// Save replaces the mutable fields of order if the stored version still
	// equals expectedVersion, and bumps order.Version on success.
	Save(ctx context.Context, order *Order, expectedVersion int64) error
}

type mongoRepository struct {
	collection *mongo.Collection
}

func NewRepository(db *mongo.Database) Repository {
	return &mongoRepository{collection: db.Collection("orders")}
}

func (r *mongoRepository) Create(ctx context.Context, order *Order) error {
	if _, err := r.collection.InsertOne(ctx, order); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), orderNumberIndex) {
				return ErrDuplicateOrderNumber
			}
			return ErrDuplicateTransaction
		}
		return storage.Wrap("repository: failed to insert order", err)
	}
	return nil
}

func (r *mongoRepository) GetByID(ctx context.Context, id string) (*Order, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *mongoRepository) GetByTransactionID(ctx context.Context, transactionID string) (*Order, error) {
	return r.findOne(ctx, bson.M{"payment.transaction_id": transactionID})
}

func (r *mongoRepository) findOne(ctx context.Context, filter bson.M) (*Order, error) {
	var o Order
	if err := r.collection.FindOne(ctx, filter).Decode(&o); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrOrderNotFound
		}
		return nil, storage.Wrap("repository: failed to find order", err)
	}
	return &o, nil
}

func (r *mongoRepository) List(ctx context.Context, filter ListFilter) ([]Order, int64, error) {
	query := bson.M{}
	if filter.UserID != "" {
		query["user_id"] = filter.UserID
	}
	if filter.Status != nil {
		query["status"] = *filter.Status
	}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, storage.Wrap("repository: failed to count orders", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(filter.Offset)
	if filter.Limit > 0 {
		opts.SetLimit(filter.Limit)
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, storage.Wrap("repository: failed to list orders", err)
	}
	defer cursor.Close(ctx)

	orders := make([]Order, 0)
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, 0, storage.Wrap("repository: failed to decode orders", err)
	}
	return orders, total, nil
}

func (r *mongoRepository) Save(ctx context.Context, order *Order, expectedVersion int64) error {
	filter := bson.M{"_id": order.ID, "version": expectedVersion}
	update := bson.M{
		"$set": bson.M{
			"status":     order.Status,
			"payment":    order.Payment,
			"notes":      order.Notes,
			"updated_at": order.UpdatedAt,
			"version":    expectedVersion + 1,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateTransaction
		}
		return storage.Wrap(fmt.Sprintf("repository: failed to save order %s", order.ID), err)
	}
	if result.MatchedCount == 0 {
		n, err := r.collection.CountDocuments(ctx, bson.M{"_id": order.ID})
		if err != nil {
			return storage.Wrap(fmt.Sprintf("repository: failed to check order %s", order.ID), err)
		}
		if n == 0 {
			return ErrOrderNotFound
		}
		return ErrConflictingUpdate
	}

	order.Version = expectedVersion + 1
	return nil
}

// Duplicate-key errors name the violated index, which tells an order-number
// collision apart from a reused transaction id.
const (
	orderNumberIndex = "order_number_unique"
	transactionIndex = "payment_transaction_id_unique"
)

func (r *mongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "payment.transaction_id", Value: 1}},
			Options: options.Index().SetName(transactionIndex).SetUnique(true).SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "order_number", Value: 1}},
			Options: options.Index().SetName(orderNumberIndex).SetUnique(true),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	return nil
}

// EnsureIndexes creates the collection indexes when repo is backed by MongoDB.
func EnsureIndexes(ctx context.Context, repo Repository) error {
	if m, ok := repo.(*mongoRepository); ok {
		return m.CreateIndexes(ctx)
	}
	return nil
}
