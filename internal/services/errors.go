package services

import "errors"

// Sentinel errors shared across services. Not-found conditions are reported
// as mongo.ErrNoDocuments directly, matching what the drivers return.
var (
	// ErrEmailExists is returned when an attempt is made to use an email that already exists.
	ErrEmailExists = errors.New("email already in use by another account")

	// ErrNotAuthenticated is returned when credentials do not match.
	ErrNotAuthenticated = errors.New("invalid credentials")

	// ErrSelfBookingNotAllowed is returned when a user tries to book their own listing.
	ErrSelfBookingNotAllowed = errors.New("cannot book your own listing")

	// ErrIllegalTransition is returned when a booking status change is not permitted
	// from the booking's current status.
	ErrIllegalTransition = errors.New("illegal booking status transition")

	// ErrValidation is returned (wrapped) when input fails validation.
	ErrValidation = errors.New("validation error")
)
