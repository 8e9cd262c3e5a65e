package models

import (
	"time"

	"trustedshare/core/internal/utils"
)

// Verification represents a user's identity verification request.
// Stored in the `verifications` collection.
type Verification struct {
	Base        `bson:",inline"`
	UserID      utils.SixID `bson:"user_id" json:"user_id"`
	DocumentRef string      `bson:"document_ref,omitempty" json:"document_ref,omitempty"` // S3 key or external reference
	SubmittedAt time.Time   `bson:"submitted_at" json:"submitted_at"`
	ProcessedAt *time.Time  `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	Deleted     bool        `bson:"deleted" json:"-"`
}
