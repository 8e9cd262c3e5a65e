package models

import (
	"time"

	"trustedshare/core/internal/utils"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusOngoing   BookingStatus = "ongoing"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCanceled  BookingStatus = "canceled"
	BookingStatusDisputed  BookingStatus = "disputed"
)

// BookingReview is a per-side review attached to a completed booking.
type BookingReview struct {
	ReviewerID utils.SixID `bson:"reviewer_id" json:"reviewer_id"`
	Rating     int         `bson:"rating" json:"rating"`
	Comment    string      `bson:"comment,omitempty" json:"comment,omitempty"`
	CreatedAt  time.Time   `bson:"created_at" json:"created_at"`
}

// Booking represents a rental agreement between a renter and a listing owner.
type Booking struct {
	Base              `bson:",inline"`
	ListingID         utils.SixID    `bson:"listing_id" json:"listing_id"`
	RenterID          utils.SixID    `bson:"renter_id" json:"renter_id"`
	OwnerID           utils.SixID    `bson:"owner_id" json:"owner_id"`
	StartDate         time.Time      `bson:"start_date" json:"start_date"`
	EndDate           time.Time      `bson:"end_date" json:"end_date"`
	TotalPrice        float64        `bson:"total_price" json:"total_price"`
	Status            BookingStatus  `bson:"status" json:"status"`
	DisputeReason     string         `bson:"dispute_reason,omitempty" json:"dispute_reason,omitempty"`
	DisputeResolution string         `bson:"dispute_resolution,omitempty" json:"dispute_resolution,omitempty"`
	OwnerReview       *BookingReview `bson:"owner_review,omitempty" json:"owner_review,omitempty"`
	RenterReview      *BookingReview `bson:"renter_review,omitempty" json:"renter_review,omitempty"`
	UpdatedAt         time.Time      `bson:"updated_at" json:"updated_at"`
	CreatedAt         time.Time      `bson:"created_at" json:"created_at"`
	Deleted           bool           `bson:"deleted" json:"-"`
}
