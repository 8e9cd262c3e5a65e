package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"trustedshare/core/internal/config"
	"trustedshare/core/internal/models"
	"trustedshare/core/internal/utils"
)

func setupTestDBListing(t *testing.T, dbName string) *mongo.Database {
	return utils.SetupTestDB(t, dbName, "listings", "users")
}

func testLocation(city string) *models.Location {
	return &models.Location{City: city, State: "OR"}
}

func TestDeriveTags(t *testing.T) {
	// Price 35 triggers neither budget nor premium
	tags := DeriveTags("Electronics", "Like New", 35, 1, 14)
	assert.Equal(t, []string{"Electronics", "High-Quality", "Short-Term", "Long-Term-Available"}, tags)

	// Boundary cases
	assert.Contains(t, DeriveTags("Tools", "Good", 20, 2, 0), "Budget-Friendly")
	assert.Contains(t, DeriveTags("Tools", "Good", 50, 2, 0), "Premium")
	assert.NotContains(t, DeriveTags("Tools", "Good", 21, 2, 0), "Budget-Friendly")
	assert.NotContains(t, DeriveTags("Tools", "Good", 49, 2, 0), "Premium")
	assert.NotContains(t, DeriveTags("Tools", "Fair", 30, 2, 13), "Long-Term-Available")

	// Determinism: same inputs, same tags
	for i := 0; i < 5; i++ {
		assert.Equal(t, tags, DeriveTags("Electronics", "Like New", 35, 1, 14))
	}
}

func TestListingService_AddListing(t *testing.T) {
	db := setupTestDBListing(t, "testdb_listing_service_add")
	svc := NewListingService(db, &config.Config{})
	ctx := context.Background()
	ownerID := utils.NewSixID()

	listing, err := svc.AddListing(ctx, ownerID, ListingInput{
		Title:         "Canon EOS R6",
		Description:   "Full-frame mirrorless camera",
		Category:      "Electronics",
		Condition:     "Like New",
		PricePerDay:   35,
		DepositFee:    200,
		MinRentalDays: 1,
		MaxRentalDays: 14,
	})
	require.NoError(t, err)
	assert.Equal(t, ownerID, listing.OwnerID)
	assert.True(t, listing.Available)
	assert.Equal(t, []string{"Electronics", "High-Quality", "Short-Term", "Long-Term-Available"}, listing.Tags)

	fetched, err := svc.FindListingByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, listing.Title, fetched.Title)

	// Validation failures
	_, err = svc.AddListing(ctx, ownerID, ListingInput{Title: "Free thing", Category: "Misc", PricePerDay: 0})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.AddListing(ctx, ownerID, ListingInput{Title: "Bad bounds", Category: "Misc", PricePerDay: 10, MinRentalDays: 7, MaxRentalDays: 3})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.AddListing(ctx, ownerID, ListingInput{Category: "Misc", PricePerDay: 10})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListingService_UpdateListing(t *testing.T) {
	db := setupTestDBListing(t, "testdb_listing_service_update")
	svc := NewListingService(db, &config.Config{})
	ctx := context.Background()
	ownerID := utils.NewSixID()

	listing, err := svc.AddListing(ctx, ownerID, ListingInput{
		Title:       "Mountain bike",
		Category:    "Sports",
		Condition:   "Good",
		PricePerDay: 18,
	})
	require.NoError(t, err)
	require.Contains(t, listing.Tags, "Budget-Friendly")

	updated, err := svc.UpdateListing(ctx, listing.ID, ownerID, map[string]interface{}{
		"title":         "Mountain bike (full suspension)",
		"price_per_day": 55.0,
	})
	require.NoError(t, err)
	assert.Equal(t, "Mountain bike (full suspension)", updated.Title)
	// Tags follow the price change
	assert.Contains(t, updated.Tags, "Premium")
	assert.NotContains(t, updated.Tags, "Budget-Friendly")

	// Disallowed field
	_, err = svc.UpdateListing(ctx, listing.ID, ownerID, map[string]interface{}{"owner_id": utils.NewSixID()})
	assert.ErrorIs(t, err, ErrValidation)

	// Wrong owner
	_, err = svc.UpdateListing(ctx, listing.ID, utils.NewSixID(), map[string]interface{}{"title": "Stolen bike"})
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)

	// Unknown listing
	_, err = svc.UpdateListing(ctx, utils.NewSixID(), ownerID, map[string]interface{}{"title": "Ghost"})
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

func TestListingService_DeleteListing(t *testing.T) {
	db := setupTestDBListing(t, "testdb_listing_service_delete")
	svc := NewListingService(db, &config.Config{})
	ctx := context.Background()
	ownerID := utils.NewSixID()

	listing, err := svc.AddListing(ctx, ownerID, ListingInput{
		Title:       "Projector",
		Category:    "Electronics",
		PricePerDay: 25,
	})
	require.NoError(t, err)

	// Wrong owner cannot delete
	err = svc.DeleteListing(ctx, listing.ID, utils.NewSixID())
	assert.Error(t, err)

	err = svc.DeleteListing(ctx, listing.ID, ownerID)
	require.NoError(t, err)

	_, err = svc.FindListingByID(ctx, listing.ID)
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)

	// Deleting again reports it
	err = svc.DeleteListing(ctx, listing.ID, ownerID)
	assert.Error(t, err)
}

func TestListingService_SearchListings(t *testing.T) {
	db := setupTestDBListing(t, "testdb_listing_service_search")
	svc := NewListingService(db, &config.Config{})
	ctx := context.Background()
	ownerID := utils.NewSixID()

	drill, err := svc.AddListing(ctx, ownerID, ListingInput{
		Title: "Cordless drill", Description: "18V with two batteries", Category: "Tools", PricePerDay: 8,
	})
	require.NoError(t, err)
	camera, err := svc.AddListing(ctx, ownerID, ListingInput{
		Title: "DSLR camera", Description: "Great for events", Category: "Electronics", Condition: "New", PricePerDay: 40,
	})
	require.NoError(t, err)

	// Case-insensitive title match
	results, err := svc.SearchListings(ctx, "DRILL")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, drill.ID, results[0].ID)

	// Description match
	results, err = svc.SearchListings(ctx, "events")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, camera.ID, results[0].ID)

	// Tag match (derived High-Quality tag on the camera)
	results, err = svc.SearchListings(ctx, "high-quality")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, camera.ID, results[0].ID)

	// Empty query returns everything in insertion order
	results, err = svc.SearchListings(ctx, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, drill.ID, results[0].ID)
	assert.Equal(t, camera.ID, results[1].ID)

	// No match
	results, err = svc.SearchListings(ctx, "kayak")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestListingService_FilterListings(t *testing.T) {
	db := setupTestDBListing(t, "testdb_listing_service_filter")
	svc := NewListingService(db, &config.Config{})
	ctx := context.Background()
	ownerID := utils.NewSixID()

	_, err := svc.AddListing(ctx, ownerID, ListingInput{
		Title: "Drill", Category: "Tools", Condition: "Good", PricePerDay: 8,
		Location: testLocation("Portland"),
	})
	require.NoError(t, err)
	camera, err := svc.AddListing(ctx, ownerID, ListingInput{
		Title: "Camera", Category: "Electronics", Condition: "New", PricePerDay: 40,
		Location: testLocation("Seattle"),
	})
	require.NoError(t, err)

	category := "Electronics"
	results, err := svc.FilterListings(ctx, ListingFilter{Category: &category})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, camera.ID, results[0].ID)

	// Conjunctive: matching category but out-of-range price yields nothing
	maxPrice := 30.0
	results, err = svc.FilterListings(ctx, ListingFilter{Category: &category, MaxPrice: &maxPrice})
	require.NoError(t, err)
	assert.Empty(t, results)

	// City substring, case-insensitive
	city := "seat"
	results, err = svc.FilterListings(ctx, ListingFilter{City: &city})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, camera.ID, results[0].ID)

	// No predicates returns all
	results, err = svc.FilterListings(ctx, ListingFilter{})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestListingService_AddReview(t *testing.T) {
	db := setupTestDBListing(t, "testdb_listing_service_review")
	svc := NewListingService(db, &config.Config{})
	ctx := context.Background()
	ownerID := utils.NewSixID()

	listing, err := svc.AddListing(ctx, ownerID, ListingInput{
		Title: "Tent", Category: "Outdoors", PricePerDay: 12,
	})
	require.NoError(t, err)

	updated, err := svc.AddReview(ctx, listing.ID, utils.NewSixID(), 5, "Great tent")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, updated.Rating, 1e-9)

	updated, err = svc.AddReview(ctx, listing.ID, utils.NewSixID(), 2, "Leaky")
	require.NoError(t, err)
	assert.InDelta(t, 3.5, updated.Rating, 1e-9)
	assert.Len(t, updated.Reviews, 2)

	// Rating bounds
	_, err = svc.AddReview(ctx, listing.ID, utils.NewSixID(), 0, "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.AddReview(ctx, listing.ID, utils.NewSixID(), 6, "")
	assert.ErrorIs(t, err, ErrValidation)
}
