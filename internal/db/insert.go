package db

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"trustedshare/core/internal/models"
)

// InsertOne inserts a document whose ID is generated server-side, retrying
// with a fresh ID on duplicate key collisions. The same document pointer is
// returned for convenience.
func InsertOne(ctx context.Context, collection *mongo.Collection, doc models.IBase) (models.IBase, error) {
	err := Try(func() error {
		doc.GenID() // new ID on every attempt
		_, insertErr := collection.InsertOne(ctx, doc)
		return insertErr
	})
	return doc, err
}
