package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cinema/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) CartRepository {
	return &mongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *mongoRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart

	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return &cart, nil
}

// AddItem first tries to bump an existing line and otherwise pushes a new one.
// The push filter excludes carts that already hold the movie, so two racing
// adds can never produce duplicate lines: the loser hits the unique user_id
// index on upsert and retries as an increment.
func (m *mongoRepository) AddItem(ctx context.Context, userID string, movieID int64, qty int) error {
	for i := 0; i < 2; i++ {
		incremented, err := m.incrementItem(ctx, userID, movieID, qty)
		if err != nil {
			return err
		}
		if incremented {
			return nil
		}

		err = m.pushItem(ctx, userID, movieID, qty)
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("failed to add new item: %w", err)
		}
	}
	return fmt.Errorf("failed to add item %d to cart of %s: concurrent update", movieID, userID)
}

func (m *mongoRepository) incrementItem(ctx context.Context, userID string, movieID int64, qty int) (bool, error) {
	filter := bson.M{
		"user_id":        userID,
		"items.movie_id": movieID,
	}
	update := bson.M{
		"$inc": bson.M{"items.$.quantity": qty},
		"$set": bson.M{"updated_at": time.Now()},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to update existing item: %w", err)
	}
	return result.MatchedCount == 1, nil
}

func (m *mongoRepository) pushItem(ctx context.Context, userID string, movieID int64, qty int) error {
	now := time.Now()
	filter := bson.M{
		"user_id":        userID,
		"items.movie_id": bson.M{"$ne": movieID},
	}
	update := bson.M{
		"$push":        bson.M{"items": domain.CartItem{MovieID: movieID, Quantity: qty, AddedAt: now}},
		"$set":         bson.M{"updated_at": now},
		"$setOnInsert": bson.M{"created_at": now},
	}

	_, err := m.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (m *mongoRepository) RemoveItem(ctx context.Context, userID string, movieID int64) error {
	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$pull": bson.M{
			"items": bson.M{"movie_id": movieID},
		},
		"$set": bson.M{"updated_at": time.Now()},
	}

	if _, err := m.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	return nil
}

func (m *mongoRepository) DeleteCart(ctx context.Context, userID string) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

func (m *mongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days TTL
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// CreateIndexes prepares the carts collection of db.
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	return (&mongoRepository{collection: db.Collection("carts")}).CreateIndexes(ctx)
}
