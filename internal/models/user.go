package models

import (
	"time"
)

// VerificationStatus is the identity verification tier of a user.
type VerificationStatus string

const (
	VerificationStatusNone     VerificationStatus = "none"
	VerificationStatusBasic    VerificationStatus = "basic"
	VerificationStatusPending  VerificationStatus = "pending"
	VerificationStatusVerified VerificationStatus = "verified"
)

// NotificationPreferences allows users to control email notifications.
type NotificationPreferences struct {
	BookingUpdates      bool `bson:"booking_updates" json:"booking_updates"`
	Messages            bool `bson:"messages" json:"messages"`
	VerificationUpdates bool `bson:"verification_updates" json:"verification_updates"`
}

// User represents a user in the system.
type User struct {
	Base                    `bson:",inline"`
	Name                    string                   `bson:"name" json:"name"`
	Email                   string                   `bson:"email" json:"email"`
	PasswordHash            string                   `bson:"password" json:"-"` // Store hash, not plaintext
	Avatar                  string                   `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Bio                     string                   `bson:"bio,omitempty" json:"bio,omitempty"`
	Phone                   string                   `bson:"phone,omitempty" json:"phone,omitempty"`
	VerificationStatus      VerificationStatus       `bson:"verification_status" json:"verification_status"`
	CompletionPercentage    int                      `bson:"completion_percentage" json:"completion_percentage"`
	IsAdmin                 bool                     `bson:"is_admin" json:"is_admin"`
	NotificationPreferences *NotificationPreferences `bson:"notification_preferences,omitempty" json:"notification_preferences,omitempty"`
	UpdatedAt               time.Time                `bson:"updated_at" json:"updated_at"`
	CreatedAt               time.Time                `bson:"created_at" json:"created_at"`
	Deleted                 bool                     `bson:"deleted" json:"-"` // Soft delete flag
	DeletedAt               *time.Time               `bson:"deleted_at,omitempty" json:"-"`
}

// DefaultNotificationPreferences returns the preferences a new user starts with.
func DefaultNotificationPreferences() *NotificationPreferences {
	return &NotificationPreferences{
		BookingUpdates:      true,
		Messages:            true,
		VerificationUpdates: true,
	}
}
