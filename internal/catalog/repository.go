package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vasiliy-maslov/storefront/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Repository interface {
	Create(ctx context.Context, product *Product) error
	GetByID(ctx context.Context, id string) (*Product, error)
	List(ctx context.Context, filter ListFilter) ([]Product, int64, error)
	Replace(ctx context.Context, product *Product) error
	SetStatus(ctx context.Context, id string, status Status) error
	SetVariantStock(ctx context.Context, id, sku string, stock int) error
}

type mongoRepository struct {
	collection *mongo.Collection
}

func NewRepository(db *mongo.Database) Repository {
	return &mongoRepository{collection: db.Collection("products")}
}

func (r *mongoRepository) Create(ctx context.Context, product *Product) error {
	_, err := r.collection.InsertOne(ctx, product)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateSKU
		}
		return storage.Wrap("repository: failed to insert product", err)
	}
	return nil
}

func (r *mongoRepository) GetByID(ctx context.Context, id string) (*Product, error) {
	var p Product
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrProductNotFound
		}
		return nil, storage.Wrap(fmt.Sprintf("repository: failed to get product %s", id), err)
	}
	return &p, nil
}

func (r *mongoRepository) List(ctx context.Context, filter ListFilter) ([]Product, int64, error) {
	query := bson.M{}
	if filter.Status != nil {
		query["status"] = *filter.Status
	}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, storage.Wrap("repository: failed to count products", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(filter.Offset)
	if filter.Limit > 0 {
		opts.SetLimit(filter.Limit)
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, storage.Wrap("repository: failed to list products", err)
	}
	defer cursor.Close(ctx)

	products := make([]Product, 0)
	if err := cursor.All(ctx, &products); err != nil {
		return nil, 0, storage.Wrap("repository: failed to decode products", err)
	}
	return products, total, nil
}

func (r *mongoRepository) Replace(ctx context.Context, product *Product) error {
	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": product.ID}, product)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateSKU
		}
		return storage.Wrap(fmt.Sprintf("repository: failed to replace product %s", product.ID), err)
	}
	if result.MatchedCount == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *mongoRepository) SetStatus(ctx context.Context, id string, status Status) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return storage.Wrap(fmt.Sprintf("repository: failed to set status of product %s", id), err)
	}
	if result.MatchedCount == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *mongoRepository) SetVariantStock(ctx context.Context, id, sku string, stock int) error {
	filter := bson.M{"_id": id, "variants.sku": sku}
	update := bson.M{
		"$set": bson.M{
			"variants.$[elem].stock": stock,
			"updated_at":             time.Now().UTC(),
		},
	}
	arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{bson.M{"elem.sku": sku}},
	})

	result, err := r.collection.UpdateOne(ctx, filter, update, arrayFilters)
	if err != nil {
		return storage.Wrap(fmt.Sprintf("repository: failed to update stock of %s/%s", id, sku), err)
	}
	if result.MatchedCount == 0 {
		return ErrUnknownVariant
	}
	return nil
}

func (r *mongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "variants.sku", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create product indexes: %w", err)
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
