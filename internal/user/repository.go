package user

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
	Create(ctx context.Context, user *User) (string, error)
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateProfile(ctx context.Context, id string, profile Profile) error
	UpdatePassword(ctx context.Context, id string, passwordHash string) error
	SetActive(ctx context.Context, id string, active bool) error
	SetAddresses(ctx context.Context, id string, addresses []Address) error
	List(ctx context.Context, limit, offset int64) ([]User, error)
}

type mongoRepository struct {
	collection *mongo.Collection
}

func NewRepository(db *mongo.Database) Repository {
	return &mongoRepository{collection: db.Collection("users")}
}

func (r *mongoRepository) Create(ctx context.Context, user *User) (string, error) {
	_, err := r.collection.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", ErrEmailExists
		}
		return "", storage.Wrap("repository: failed to insert user", err)
	}
	return user.ID, nil
}

func (r *mongoRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *mongoRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *mongoRepository) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var u User
	err := r.collection.FindOne(ctx, filter).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, storage.Wrap("repository: failed to find user", err)
	}
	return &u, nil
}

func (r *mongoRepository) UpdateProfile(ctx context.Context, id string, profile Profile) error {
	return r.update(ctx, id, bson.M{
		"email":      profile.Email,
		"first_name": profile.FirstName,
		"last_name":  profile.LastName,
		"phone":      profile.Phone,
	})
}

func (r *mongoRepository) UpdatePassword(ctx context.Context, id string, passwordHash string) error {
	return r.update(ctx, id, bson.M{"hashed_password": passwordHash})
}

func (r *mongoRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.update(ctx, id, bson.M{"is_active": active})
}

func (r *mongoRepository) SetAddresses(ctx context.Context, id string, addresses []Address) error {
	return r.update(ctx, id, bson.M{"addresses": addresses})
}

func (r *mongoRepository) update(ctx context.Context, id string, fields bson.M) error {
	fields["updated_at"] = time.Now().UTC()

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrEmailExists
		}
		return storage.Wrap(fmt.Sprintf("repository: failed to update user %s", id), err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoRepository) List(ctx context.Context, limit, offset int64) ([]User, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset)

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, storage.Wrap("repository: failed to list users", err)
	}
	defer cursor.Close(ctx)

	users := make([]User, 0)
	if err := cursor.All(ctx, &users); err != nil {
		return nil, storage.Wrap("repository: failed to decode users", err)
	}
	return users, nil
}

func (r *mongoRepository) CreateIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
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
