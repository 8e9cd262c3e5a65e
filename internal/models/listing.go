package models

import (
	"time"

	"trustedshare/core/internal/utils"
)

// Location is the physical location an item is rented from.
type Location struct {
	Address string  `bson:"address,omitempty" json:"address,omitempty"`
	City    string  `bson:"city,omitempty" json:"city,omitempty"`
	State   string  `bson:"state,omitempty" json:"state,omitempty"`
	Zip     string  `bson:"zip,omitempty" json:"zip,omitempty"`
	Lat     float64 `bson:"lat,omitempty" json:"lat,omitempty"`
	Lng     float64 `bson:"lng,omitempty" json:"lng,omitempty"`
}

// ListingReview is a review left on a listing by a past renter.
type ListingReview struct {
	ReviewerID utils.SixID `bson:"reviewer_id" json:"reviewer_id"`
	Rating     int         `bson:"rating" json:"rating"`
	Comment    string      `bson:"comment,omitempty" json:"comment,omitempty"`
	CreatedAt  time.Time   `bson:"created_at" json:"created_at"`
}

// Listing represents an item offered for rent.
type Listing struct {
	Base          `bson:",inline"`
	OwnerID       utils.SixID     `bson:"owner_id" json:"owner_id"`
	Title         string          `bson:"title" json:"title"`
	Description   string          `bson:"description" json:"description"`
	Category      string          `bson:"category" json:"category"`
	Condition     string          `bson:"condition,omitempty" json:"condition,omitempty"`
	PricePerDay   float64         `bson:"price_per_day" json:"price_per_day"`
	PricePerWeek  float64         `bson:"price_per_week,omitempty" json:"price_per_week,omitempty"`
	DepositFee    float64         `bson:"deposit_fee,omitempty" json:"deposit_fee,omitempty"`
	MinRentalDays int             `bson:"min_rental_days,omitempty" json:"min_rental_days,omitempty"`
	MaxRentalDays int             `bson:"max_rental_days,omitempty" json:"max_rental_days,omitempty"`
	Location      *Location       `bson:"location,omitempty" json:"location,omitempty"`
	Images        []string        `bson:"images" json:"images"` // S3 keys
	Tags          []string        `bson:"tags" json:"tags"`
	Available     bool            `bson:"available" json:"available"`
	Rating        float64         `bson:"rating" json:"rating"`
	Reviews       []ListingReview `bson:"reviews,omitempty" json:"reviews,omitempty"`
	UpdatedAt     time.Time       `bson:"updated_at" json:"updated_at"`
	CreatedAt     time.Time       `bson:"created_at" json:"created_at"`
	Deleted       bool            `bson:"deleted" json:"-"` // Soft delete flag
	DeletedAt     *time.Time      `bson:"deleted_at,omitempty" json:"-"`
}
