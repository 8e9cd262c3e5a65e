package models

import (
	"time"

	"trustedshare/core/internal/utils"
)

// Conversation groups messages between two users, optionally about a listing
// or a booking. Participants are kept sorted so the same pair always produces
// the same participants_key, which carries a unique index together with the
// listing. The booking reference is a weak annotation and is deliberately not
// part of that key. MessageSeq is a per-conversation counter handed out to
// messages as they are sent.
type Conversation struct {
	Base             `bson:",inline"`
	Participants     []utils.SixID `bson:"participants" json:"participants"`
	ParticipantsKey  string        `bson:"participants_key" json:"-"`
	RelatedListingID *utils.SixID  `bson:"related_listing_id,omitempty" json:"related_listing_id,omitempty"`
	RelatedBookingID *utils.SixID  `bson:"related_booking_id,omitempty" json:"related_booking_id,omitempty"`
	LastMessage      string        `bson:"last_message,omitempty" json:"last_message,omitempty"`
	MessageSeq       int64         `bson:"message_seq" json:"-"`
	UpdatedAt        time.Time     `bson:"updated_at" json:"updated_at"`
	CreatedAt        time.Time     `bson:"created_at" json:"created_at"`
	Deleted          bool          `bson:"deleted" json:"-"`
}

// Message is a single message within a conversation. Seq is the conversation's
// counter value at send time; created_at is stored at millisecond precision,
// so Seq is the authoritative order for sends sharing a timestamp.
type Message struct {
	Base           `bson:",inline"`
	ConversationID utils.SixID `bson:"conversation_id" json:"conversation_id"`
	SenderID       utils.SixID `bson:"sender_id" json:"sender_id"`
	ReceiverID     utils.SixID `bson:"receiver_id" json:"receiver_id"`
	Text           string      `bson:"text" json:"text"`
	Seq            int64       `bson:"seq" json:"seq"`
	Read           bool        `bson:"read" json:"read"`
	CreatedAt      time.Time   `bson:"created_at" json:"created_at"`
	Deleted        bool        `bson:"deleted" json:"-"`
}
