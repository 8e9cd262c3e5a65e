package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trustedshare/core/internal/config"
	"trustedshare/core/internal/db"
	"trustedshare/core/internal/models"
	"trustedshare/core/internal/utils"
)

// ListingInput carries the caller-supplied fields of a new listing.
type ListingInput struct {
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Category      string           `json:"category"`
	Condition     string           `json:"condition"`
	PricePerDay   float64          `json:"price_per_day"`
	PricePerWeek  float64          `json:"price_per_week"`
	DepositFee    float64          `json:"deposit_fee"`
	MinRentalDays int              `json:"min_rental_days"`
	MaxRentalDays int              `json:"max_rental_days"`
	Location      *models.Location `json:"location"`
}

// ListingFilter is a conjunctive set of optional predicates.
// Nil fields are ignored.
type ListingFilter struct {
	Category  *string  `json:"category,omitempty"`
	Condition *string  `json:"condition,omitempty"`
	MinPrice  *float64 `json:"min_price,omitempty"`
	MaxPrice  *float64 `json:"max_price,omitempty"`
	City      *string  `json:"city,omitempty"`
}

// IListingService defines the interface for listing-related operations.
type IListingService interface {
	AddListing(ctx context.Context, ownerID utils.SixID, input ListingInput) (*models.Listing, error)
	FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error)
	UpdateListing(ctx context.Context, listingID, ownerID utils.SixID, updates map[string]interface{}) (*models.Listing, error)
	DeleteListing(ctx context.Context, listingID, ownerID utils.SixID) error
	SearchListings(ctx context.Context, query string) ([]models.Listing, error)
	FilterListings(ctx context.Context, filter ListingFilter) ([]models.Listing, error)
	FindListingsByUserID(ctx context.Context, ownerID utils.SixID) ([]models.Listing, error)
	AddImageToListing(ctx context.Context, listingID utils.SixID, imageKey string) error
	AddReview(ctx context.Context, listingID, reviewerID utils.SixID, rating int, comment string) (*models.Listing, error)
}

const listingsCollection = "listings"

// listingService implements IListingService.
type listingService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewListingService creates a new ListingService.
func NewListingService(db *mongo.Database, cfg *config.Config) IListingService {
	return &listingService{db: db, cfg: cfg}
}

// DeriveTags computes the tag set for a listing. The result is a pure
// function of the inputs; rule order is fixed.
func DeriveTags(category, condition string, pricePerDay float64, minRentalDays, maxRentalDays int) []string {
	tags := []string{category}
	if condition == "New" || condition == "Like New" {
		tags = append(tags, "High-Quality")
	}
	if pricePerDay <= 20 {
		tags = append(tags, "Budget-Friendly")
	} else if pricePerDay >= 50 {
		tags = append(tags, "Premium")
	}
	if minRentalDays == 1 {
		tags = append(tags, "Short-Term")
	}
	if maxRentalDays >= 14 {
		tags = append(tags, "Long-Term-Available")
	}
	return tags
}

func validateListingInput(input ListingInput) error {
	if strings.TrimSpace(input.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(input.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrValidation)
	}
	if input.PricePerDay <= 0 {
		return fmt.Errorf("%w: price per day must be positive", ErrValidation)
	}
	if input.MinRentalDays < 0 || input.MaxRentalDays < 0 {
		return fmt.Errorf("%w: rental day bounds cannot be negative", ErrValidation)
	}
	if input.MaxRentalDays > 0 && input.MinRentalDays > 0 && input.MaxRentalDays < input.MinRentalDays {
		return fmt.Errorf("%w: max rental days cannot be less than min rental days", ErrValidation)
	}
	return nil
}

// AddListing validates the input, derives tags and creates a new listing.
func (s *listingService) AddListing(ctx context.Context, ownerID utils.SixID, input ListingInput) (*models.Listing, error) {
	if err := validateListingInput(input); err != nil {
		return nil, err
	}

	collection := s.db.Collection(listingsCollection)
	now := time.Now().UTC()

	var newListing *models.Listing
	var err error

	operation := func() error {
		newListing = &models.Listing{
			Base:          models.Base{ID: utils.NewSixID()},
			OwnerID:       ownerID,
			Title:         input.Title,
			Description:   input.Description,
			Category:      input.Category,
			Condition:     input.Condition,
			PricePerDay:   input.PricePerDay,
			PricePerWeek:  input.PricePerWeek,
			DepositFee:    input.DepositFee,
			MinRentalDays: input.MinRentalDays,
			MaxRentalDays: input.MaxRentalDays,
			Location:      input.Location,
			Images:        []string{},
			Tags:          DeriveTags(input.Category, input.Condition, input.PricePerDay, input.MinRentalDays, input.MaxRentalDays),
			Available:     true,
			Deleted:       false,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		_, insertErr := collection.InsertOne(ctx, newListing)
		return insertErr
	}

	err = db.Try(operation)

	if err != nil {
		listingIDStr := "<unknown>"
		if newListing != nil {
			listingIDStr = newListing.ID.String()
		}
		return nil, fmt.Errorf("failed to insert new listing for user %s (last attempted listing ID: %s) after multiple retries: %w",
			ownerID.String(), listingIDStr, err)
	}

	return newListing, nil
}

// FindListingByID finds a non-deleted listing by its ID.
// It does NOT check ownership.
func (s *listingService) FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	var listing models.Listing
	collection := s.db.Collection(listingsCollection)
	filter := bson.M{"_id": listingID, "deleted": false}

	err := collection.FindOne(ctx, filter).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding listing by ID %s: %w", listingID.String(), err)
	}
	return &listing, nil
}

// UpdateListing updates mutable fields of a listing owned by the specified user.
// `updates` map should contain BSON field names and new values. Tags are
// re-derived when any tag-relevant field changes.
func (s *listingService) UpdateListing(ctx context.Context, listingID, ownerID utils.SixID, updates map[string]interface{}) (*models.Listing, error) {
	collection := s.db.Collection(listingsCollection)

	// Ensure only allowed fields are updated (prevent changing ownership, flags etc.)
	allowedUpdates := bson.M{}
	tagFieldsChanged := false
	for key, value := range updates {
		switch key {
		case "title", "description", "location", "images", "available",
			"price_per_week", "deposit_fee":
			allowedUpdates[key] = value
		case "category", "condition", "price_per_day", "min_rental_days", "max_rental_days":
			allowedUpdates[key] = value
			tagFieldsChanged = true
		default:
			return nil, fmt.Errorf("%w: field '%s' cannot be updated via UpdateListing", ErrValidation, key)
		}
	}
	if len(allowedUpdates) == 0 {
		return nil, fmt.Errorf("%w: no valid fields provided for update", ErrValidation)
	}
	allowedUpdates["updated_at"] = time.Now().UTC()

	filter := bson.M{
		"_id":      listingID,
		"owner_id": ownerID,
		"deleted":  false,
	}

	update := bson.M{"$set": allowedUpdates}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updatedListing models.Listing
	err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updatedListing)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Could be not found, wrong user, or deleted
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("failed to update listing %s: %w", listingID.String(), err)
	}

	if tagFieldsChanged {
		tags := DeriveTags(updatedListing.Category, updatedListing.Condition, updatedListing.PricePerDay,
			updatedListing.MinRentalDays, updatedListing.MaxRentalDays)
		_, err = collection.UpdateByID(ctx, listingID, bson.M{"$set": bson.M{"tags": tags}})
		if err != nil {
			return nil, fmt.Errorf("failed to refresh tags for listing %s: %w", listingID.String(), err)
		}
		updatedListing.Tags = tags
	}

	return &updatedListing, nil
}

// DeleteListing performs a soft delete by setting the deleted flag to true.
// Bookings and conversations referencing the listing are left untouched;
// readers must tolerate dangling references.
func (s *listingService) DeleteListing(ctx context.Context, listingID, ownerID utils.SixID) error {
	collection := s.db.Collection(listingsCollection)
	now := time.Now().UTC()

	filter := bson.M{
		"_id":      listingID,
		"owner_id": ownerID,
		"deleted":  false,
	}
	update := bson.M{
		"$set": bson.M{
			"deleted":    true,
			"deleted_at": now,
			"updated_at": now,
		},
	}

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error deleting listing %s: %w", listingID.String(), err)
	}
	if result.MatchedCount == 0 {
		// Diagnose why nothing matched
		var listing models.Listing
		errCheck := collection.FindOne(ctx, bson.M{"_id": listingID}).Decode(&listing)
		if errors.Is(errCheck, mongo.ErrNoDocuments) {
			return mongo.ErrNoDocuments
		}
		if listing.OwnerID != ownerID {
			return fmt.Errorf("listing %s does not belong to user %s", listingID.String(), ownerID.String())
		}
		if listing.Deleted {
			return fmt.Errorf("listing %s is already deleted", listingID.String())
		}
		return fmt.Errorf("listing %s cannot be deleted (condition not met)", listingID.String())
	}

	return nil
}

// SearchListings performs a case-insensitive substring match over title,
// description, category and tags. An empty query returns all visible
// listings. Results come back in insertion order.
func (s *listingService) SearchListings(ctx context.Context, query string) ([]models.Listing, error) {
	collection := s.db.Collection(listingsCollection)

	filter := bson.M{"deleted": false}

	query = strings.TrimSpace(query)
	if query != "" {
		pattern := primitiveRegex(query)
		filter["$or"] = bson.A{
			bson.M{"title": pattern},
			bson.M{"description": pattern},
			bson.M{"category": pattern},
			bson.M{"tags": pattern},
		}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to execute listing search query: %w", err)
	}
	defer cursor.Close(ctx)

	var results []models.Listing
	if err = cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode listing search results: %w", err)
	}
	return results, nil
}

// primitiveRegex builds a case-insensitive substring matcher with the query
// text treated literally.
func primitiveRegex(query string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"}
}

// FilterListings applies a conjunctive filter: every supplied predicate must
// hold; absent predicates are ignored.
func (s *listingService) FilterListings(ctx context.Context, filter ListingFilter) ([]models.Listing, error) {
	collection := s.db.Collection(listingsCollection)

	mongoFilter := bson.M{"deleted": false}
	if filter.Category != nil && *filter.Category != "" {
		mongoFilter["category"] = *filter.Category
	}
	if filter.Condition != nil && *filter.Condition != "" {
		mongoFilter["condition"] = *filter.Condition
	}
	priceBounds := bson.M{}
	if filter.MinPrice != nil {
		priceBounds["$gte"] = *filter.MinPrice
	}
	if filter.MaxPrice != nil {
		priceBounds["$lte"] = *filter.MaxPrice
	}
	if len(priceBounds) > 0 {
		mongoFilter["price_per_day"] = priceBounds
	}
	if filter.City != nil && *filter.City != "" {
		mongoFilter["location.city"] = primitiveRegex(*filter.City)
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := collection.Find(ctx, mongoFilter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to execute listing filter query: %w", err)
	}
	defer cursor.Close(ctx)

	var results []models.Listing
	if err = cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode listing filter results: %w", err)
	}
	return results, nil
}

// FindListingsByUserID returns all non-deleted listings owned by a user.
func (s *listingService) FindListingsByUserID(ctx context.Context, ownerID utils.SixID) ([]models.Listing, error) {
	collection := s.db.Collection(listingsCollection)
	filter := bson.M{"owner_id": ownerID, "deleted": false}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings for user %s: %w", ownerID.String(), err)
	}
	defer cursor.Close(ctx)

	var listings []models.Listing
	if err = cursor.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("failed to decode listings for user %s: %w", ownerID.String(), err)
	}
	return listings, nil
}

// AddImageToListing adds a processed image key to a listing's image array.
// It should only be called after the image processing task is complete.
func (s *listingService) AddImageToListing(ctx context.Context, listingID utils.SixID, imageKey string) error {
	collection := s.db.Collection(listingsCollection)

	filter := bson.M{
		"_id":     listingID,
		"deleted": false,
	}
	update := bson.M{
		"$addToSet": bson.M{"images": imageKey}, // Add key if not already present
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	}

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error adding image %s to listing %s: %w", imageKey, listingID.String(), err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("listing %s not found or cannot be updated when adding image", listingID.String())
	}
	if result.ModifiedCount == 0 {
		// Image key might already exist in the array
		log.Printf("Image key %s likely already exists for listing %s", imageKey, listingID.String())
	}

	return nil
}

// AddReview appends a review to a listing and recomputes its aggregate
// rating. Returns the updated listing.
func (s *listingService) AddReview(ctx context.Context, listingID, reviewerID utils.SixID, rating int, comment string) (*models.Listing, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}

	listing, err := s.FindListingByID(ctx, listingID)
	if err != nil {
		return nil, err
	}

	review := models.ListingReview{
		ReviewerID: reviewerID,
		Rating:     rating,
		Comment:    comment,
		CreatedAt:  time.Now().UTC(),
	}

	total := rating
	for _, r := range listing.Reviews {
		total += r.Rating
	}
	newRating := float64(total) / float64(len(listing.Reviews)+1)

	collection := s.db.Collection(listingsCollection)
	update := bson.M{
		"$push": bson.M{"reviews": review},
		"$set": bson.M{
			"rating":     newRating,
			"updated_at": review.CreatedAt,
		},
	}
	result, err := collection.UpdateOne(ctx, bson.M{"_id": listingID, "deleted": false}, update)
	if err != nil {
		return nil, fmt.Errorf("db error adding review to listing %s: %w", listingID.String(), err)
	}
	if result.MatchedCount == 0 {
		return nil, mongo.ErrNoDocuments
	}

	listing.Reviews = append(listing.Reviews, review)
	listing.Rating = newRating
	return listing, nil
}
