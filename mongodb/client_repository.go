package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/miren-dev/authbridge/domain"
)

// ClientRepository implements domain.ClientStore on MongoDB.
type ClientRepository struct {
	coll *mongo.Collection
}

// NewClientRepository prepares the collection and its unique index on
// client_id.
func NewClientRepository(ctx context.Context, db *mongo.Database) (*ClientRepository, error) {
	coll := db.Collection(clientsCollection)

	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "client_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client_id index: %w", err)
	}

	return &ClientRepository{coll: coll}, nil
}

func (r *ClientRepository) CreateClient(ctx context.Context, client *domain.Client) error {
	_, err := r.coll.InsertOne(ctx, client)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrClientExists
		}
		return fmt.Errorf("failed to insert client: %w", err)
	}
	return nil
}

func (r *ClientRepository) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	var client domain.Client
	err := r.coll.FindOne(ctx, bson.M{"client_id": id}).Decode(&client)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	return &client, nil
}

func (r *ClientRepository) DeleteClient(ctx context.Context, id string) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"client_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if result.DeletedCount == 0 {
		return domain.ErrClientNotFound
	}
	return nil
}

var _ domain.ClientStore = (*ClientRepository)(nil)
