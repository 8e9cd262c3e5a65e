package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trustedshare/core/internal/config"
	"trustedshare/core/internal/db"
	"trustedshare/core/internal/models"
	"trustedshare/core/internal/utils"
)

// IBookingService defines the interface for booking-related operations.
type IBookingService interface {
	CreateBooking(ctx context.Context, listingID, renterID utils.SixID, startDate, endDate time.Time) (*models.Booking, error)
	FindBookingByID(ctx context.Context, bookingID utils.SixID) (*models.Booking, error)
	UpdateBookingStatus(ctx context.Context, bookingID, actorID utils.SixID, newStatus models.BookingStatus, reason string) (*models.Booking, error)
	AddReview(ctx context.Context, bookingID, reviewerID utils.SixID, rating int, comment string) (*models.Booking, error)
	GetUserBookings(ctx context.Context, userID utils.SixID, asRenter bool) ([]models.Booking, error)
	GetBookingsByListing(ctx context.Context, listingID utils.SixID) ([]models.Booking, error)
}

const bookingsCollection = "bookings"

// legalTransitions is the booking state machine. A status change is permitted
// only when the target appears under the booking's current status.
var legalTransitions = map[models.BookingStatus][]models.BookingStatus{
	models.BookingStatusPending:   {models.BookingStatusConfirmed, models.BookingStatusCanceled},
	models.BookingStatusConfirmed: {models.BookingStatusOngoing, models.BookingStatusCanceled},
	models.BookingStatusOngoing:   {models.BookingStatusCompleted, models.BookingStatusDisputed},
	models.BookingStatusDisputed:  {models.BookingStatusCompleted, models.BookingStatusCanceled},
	models.BookingStatusCompleted: {},
	models.BookingStatusCanceled:  {},
}

func canTransition(from, to models.BookingStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// bookingService implements IBookingService.
type bookingService struct {
	db         *mongo.Database
	cfg        *config.Config
	listingSvc IListingService
}

// NewBookingService creates a new BookingService.
func NewBookingService(db *mongo.Database, cfg *config.Config, listingSvc IListingService) IBookingService {
	return &bookingService{db: db, cfg: cfg, listingSvc: listingSvc}
}

// rentalDays counts billable days between two instants, rounding partial
// days up. A same-day rental counts as one day.
func rentalDays(startDate, endDate time.Time) int {
	days := int(math.Ceil(endDate.Sub(startDate).Hours() / 24))
	if days < 1 {
		days = 1
	}
	return days
}

// CreateBooking validates the request against the listing and creates a
// booking in the pending status. The total price is computed server-side as
// pricePerDay times the number of rental days.
func (s *bookingService) CreateBooking(ctx context.Context, listingID, renterID utils.SixID, startDate, endDate time.Time) (*models.Booking, error) {
	listing, err := s.listingSvc.FindListingByID(ctx, listingID)
	if err != nil {
		return nil, err
	}

	if listing.OwnerID == renterID {
		return nil, ErrSelfBookingNotAllowed
	}
	if !endDate.After(startDate) {
		return nil, fmt.Errorf("%w: end date must be after start date", ErrValidation)
	}

	days := rentalDays(startDate, endDate)
	if listing.MinRentalDays > 0 && days < listing.MinRentalDays {
		return nil, fmt.Errorf("%w: rental must be at least %d days", ErrValidation, listing.MinRentalDays)
	}
	if listing.MaxRentalDays > 0 && days > listing.MaxRentalDays {
		return nil, fmt.Errorf("%w: rental cannot exceed %d days", ErrValidation, listing.MaxRentalDays)
	}

	collection := s.db.Collection(bookingsCollection)
	now := time.Now().UTC()

	var newBooking *models.Booking

	operation := func() error {
		newBooking = &models.Booking{
			Base:       models.Base{ID: utils.NewSixID()},
			ListingID:  listingID,
			RenterID:   renterID,
			OwnerID:    listing.OwnerID,
			StartDate:  startDate,
			EndDate:    endDate,
			TotalPrice: listing.PricePerDay * float64(days),
			Status:     models.BookingStatusPending,
			Deleted:    false,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		_, insertErr := collection.InsertOne(ctx, newBooking)
		return insertErr
	}

	err = db.Try(operation)

	if err != nil {
		bookingIDStr := "<unknown>"
		if newBooking != nil {
			bookingIDStr = newBooking.ID.String()
		}
		return nil, fmt.Errorf("failed to insert new booking for listing %s (last attempted booking ID: %s) after multiple retries: %w",
			listingID.String(), bookingIDStr, err)
	}

	return newBooking, nil
}

// FindBookingByID finds a non-deleted booking by its ID.
func (s *bookingService) FindBookingByID(ctx context.Context, bookingID utils.SixID) (*models.Booking, error) {
	var booking models.Booking
	collection := s.db.Collection(bookingsCollection)
	filter := bson.M{"_id": bookingID, "deleted": false}

	err := collection.FindOne(ctx, filter).Decode(&booking)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding booking by ID %s: %w", bookingID.String(), err)
	}
	return &booking, nil
}

// UpdateBookingStatus moves a booking to a new status, enforcing the state
// machine. Only the renter or the owner may change the status. Moving to
// disputed requires a reason; the reason given when leaving disputed is
// recorded as the resolution.
func (s *bookingService) UpdateBookingStatus(ctx context.Context, bookingID, actorID utils.SixID, newStatus models.BookingStatus, reason string) (*models.Booking, error) {
	booking, err := s.FindBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if booking.RenterID != actorID && booking.OwnerID != actorID {
		return nil, fmt.Errorf("booking %s does not involve user %s", bookingID.String(), actorID.String())
	}
	if !canTransition(booking.Status, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, booking.Status, newStatus)
	}

	now := time.Now().UTC()
	set := bson.M{
		"status":     newStatus,
		"updated_at": now,
	}
	if newStatus == models.BookingStatusDisputed {
		if reason == "" {
			return nil, fmt.Errorf("%w: a dispute requires a reason", ErrValidation)
		}
		set["dispute_reason"] = reason
	} else if booking.Status == models.BookingStatusDisputed && reason != "" {
		set["dispute_resolution"] = reason
	}

	collection := s.db.Collection(bookingsCollection)
	// Filter on the expected current status so a concurrent transition loses.
	filter := bson.M{"_id": bookingID, "status": booking.Status, "deleted": false}
	result, err := collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return nil, fmt.Errorf("db error updating status of booking %s: %w", bookingID.String(), err)
	}
	if result.MatchedCount == 0 {
		return nil, fmt.Errorf("%w: booking %s changed status concurrently", ErrIllegalTransition, bookingID.String())
	}

	return s.FindBookingByID(ctx, bookingID)
}

// AddReview attaches a review to the booking for the reviewer's role. A
// second review from the same role replaces the first.
func (s *bookingService) AddReview(ctx context.Context, bookingID, reviewerID utils.SixID, rating int, comment string) (*models.Booking, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}

	booking, err := s.FindBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var field string
	switch reviewerID {
	case booking.OwnerID:
		field = "owner_review"
	case booking.RenterID:
		field = "renter_review"
	default:
		return nil, fmt.Errorf("booking %s does not involve user %s", bookingID.String(), reviewerID.String())
	}

	now := time.Now().UTC()
	review := &models.BookingReview{
		ReviewerID: reviewerID,
		Rating:     rating,
		Comment:    comment,
		CreatedAt:  now,
	}

	collection := s.db.Collection(bookingsCollection)
	update := bson.M{"$set": bson.M{
		field:        review,
		"updated_at": now,
	}}
	result, err := collection.UpdateOne(ctx, bson.M{"_id": bookingID, "deleted": false}, update)
	if err != nil {
		return nil, fmt.Errorf("db error adding review to booking %s: %w", bookingID.String(), err)
	}
	if result.MatchedCount == 0 {
		return nil, mongo.ErrNoDocuments
	}

	if field == "owner_review" {
		booking.OwnerReview = review
	} else {
		booking.RenterReview = review
	}
	booking.UpdatedAt = now
	return booking, nil
}

// GetUserBookings returns bookings where the user is the renter (asRenter) or
// the owner, newest first.
func (s *bookingService) GetUserBookings(ctx context.Context, userID utils.SixID, asRenter bool) ([]models.Booking, error) {
	roleField := "owner_id"
	if asRenter {
		roleField = "renter_id"
	}

	collection := s.db.Collection(bookingsCollection)
	filter := bson.M{roleField: userID, "deleted": false}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings for user %s: %w", userID.String(), err)
	}
	defer cursor.Close(ctx)

	var bookings []models.Booking
	if err = cursor.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("failed to decode bookings for user %s: %w", userID.String(), err)
	}
	return bookings, nil
}

// GetBookingsByListing returns all bookings of a listing, newest first.
func (s *bookingService) GetBookingsByListing(ctx context.Context, listingID utils.SixID) ([]models.Booking, error) {
	collection := s.db.Collection(bookingsCollection)
	filter := bson.M{"listing_id": listingID, "deleted": false}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings for listing %s: %w", listingID.String(), err)
	}
	defer cursor.Close(ctx)

	var bookings []models.Booking
	if err = cursor.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("failed to decode bookings for listing %s: %w", listingID.String(), err)
	}
	return bookings, nil
}
