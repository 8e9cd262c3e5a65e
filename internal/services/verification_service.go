package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"trustedshare/core/internal/db"
	"trustedshare/core/internal/models"
	"trustedshare/core/internal/utils"
)

// IVerificationService defines the interface for identity verification records.
type IVerificationService interface {
	CreateVerification(ctx context.Context, userID utils.SixID, documentRef string) (*models.Verification, error)
	GetVerificationByID(ctx context.Context, verificationID utils.SixID) (*models.Verification, error)
	CompleteVerification(ctx context.Context, verificationID utils.SixID) error
}

const verificationsCollection = "verifications"

// verificationService implements IVerificationService.
type verificationService struct {
	db *mongo.Database
}

// NewVerificationService creates a new VerificationService.
func NewVerificationService(db *mongo.Database) IVerificationService {
	return &verificationService{db: db}
}

// CreateVerification records a pending verification request. Processing
// happens later in a background task.
func (s *verificationService) CreateVerification(ctx context.Context, userID utils.SixID, documentRef string) (*models.Verification, error) {
	collection := s.db.Collection(verificationsCollection)

	newVerification := &models.Verification{
		UserID:      userID,
		DocumentRef: documentRef,
		SubmittedAt: time.Now().UTC(),
		ProcessedAt: nil,
		Deleted:     false,
	}
	if _, err := db.InsertOne(ctx, collection, newVerification); err != nil {
		return nil, fmt.Errorf("failed to insert verification for user %s after multiple retries: %w",
			userID.String(), err)
	}

	return newVerification, nil
}

// GetVerificationByID retrieves a specific verification by its ID.
func (s *verificationService) GetVerificationByID(ctx context.Context, verificationID utils.SixID) (*models.Verification, error) {
	var verification models.Verification
	collection := s.db.Collection(verificationsCollection)
	filter := bson.M{"_id": verificationID, "deleted": false}
	err := collection.FindOne(ctx, filter).Decode(&verification)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding verification %s: %w", verificationID.String(), err)
	}
	return &verification, nil
}

// CompleteVerification stamps ProcessedAt on a still-unprocessed verification.
func (s *verificationService) CompleteVerification(ctx context.Context, verificationID utils.SixID) error {
	collection := s.db.Collection(verificationsCollection)
	now := time.Now().UTC()
	filter := bson.M{
		"_id":          verificationID,
		"processed_at": nil, // Only complete if not already processed
		"deleted":      false,
	}
	update := bson.M{
		"$set": bson.M{
			"processed_at": now,
		},
	}
	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error completing verification %s: %w", verificationID.String(), err)
	}
	if result.MatchedCount == 0 {
		// Already processed, deleted, or not found
		return fmt.Errorf("verification %s not found or cannot be completed", verificationID.String())
	}
	return nil
}
