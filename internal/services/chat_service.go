package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trustedshare/core/internal/db"
	"trustedshare/core/internal/models"
	"trustedshare/core/internal/utils"
)

// ParticipantInfo is the display identity of the "other" participant of a
// conversation, as seen by the current user.
type ParticipantInfo struct {
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	Verified bool   `json:"verified"`
}

// IChatService defines the interface for conversation and message operations.
type IChatService interface {
	EnsureIndexes(ctx context.Context) error
	StartConversation(ctx context.Context, userA, userB utils.SixID, relatedBookingID, relatedListingID *utils.SixID) (*models.Conversation, error)
	FindConversationByID(ctx context.Context, conversationID utils.SixID) (*models.Conversation, error)
	SendMessage(ctx context.Context, conversationID, senderID, receiverID utils.SixID, text string) (*models.Message, error)
	MarkConversationAsRead(ctx context.Context, conversationID, userID utils.SixID) error
	GetUserConversations(ctx context.Context, userID utils.SixID) ([]models.Conversation, error)
	GetConversationMessages(ctx context.Context, conversationID utils.SixID) ([]models.Message, error)
	GetParticipantInfo(ctx context.Context, conversation *models.Conversation, currentUserID utils.SixID) (*ParticipantInfo, error)
	CountUnread(ctx context.Context, conversationID, userID utils.SixID) (int64, error)
	CountTotalUnread(ctx context.Context, userID utils.SixID) (int64, error)
}

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

// chatService implements IChatService.
type chatService struct {
	db      *mongo.Database
	userSvc IUserService
}

// NewChatService creates a new ChatService.
func NewChatService(db *mongo.Database, userSvc IUserService) IChatService {
	return &chatService{db: db, userSvc: userSvc}
}

// EnsureIndexes creates the unique index backing conversation idempotency.
// Called once at startup.
func (s *chatService) EnsureIndexes(ctx context.Context) error {
	collection := s.db.Collection(conversationsCollection)
	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "participants_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create conversations participants_key index: %w", err)
	}
	return nil
}

// participantsKey builds the idempotency key for a conversation: the sorted
// participant pair plus the related listing (or "-" when none).
func participantsKey(userA, userB utils.SixID, relatedListingID *utils.SixID) (string, []utils.SixID) {
	a, b := userA.String(), userB.String()
	participants := []utils.SixID{userA, userB}
	if b < a {
		a, b = b, a
		participants[0], participants[1] = participants[1], participants[0]
	}
	listingPart := "-"
	if relatedListingID != nil {
		listingPart = relatedListingID.String()
	}
	return strings.Join([]string{a, b, listingPart}, "|"), participants
}

// StartConversation returns the existing conversation for the participant
// pair and related listing, or creates one. Idempotent: the unique
// participants_key index closes the lookup-then-insert race. The booking
// reference is stored on creation but plays no part in the idempotency key,
// so a later start for the same pair and listing returns the existing
// conversation unchanged.
func (s *chatService) StartConversation(ctx context.Context, userA, userB utils.SixID, relatedBookingID, relatedListingID *utils.SixID) (*models.Conversation, error) {
	if userA == userB {
		return nil, fmt.Errorf("%w: a conversation needs two distinct participants", ErrValidation)
	}

	key, participants := participantsKey(userA, userB, relatedListingID)
	collection := s.db.Collection(conversationsCollection)

	var existing models.Conversation
	err := collection.FindOne(ctx, bson.M{"participants_key": key, "deleted": false}).Decode(&existing)
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("error looking up conversation %s: %w", key, err)
	}

	now := time.Now().UTC()
	var newConversation *models.Conversation

	operation := func() error {
		newConversation = &models.Conversation{
			Base:             models.Base{ID: utils.NewSixID()},
			Participants:     participants,
			ParticipantsKey:  key,
			RelatedListingID: relatedListingID,
			RelatedBookingID: relatedBookingID,
			Deleted:          false,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		_, insertErr := collection.InsertOne(ctx, newConversation)
		return insertErr
	}

	err = db.Try(operation)

	if err != nil {
		// A concurrent starter may have won the race on participants_key.
		if mongo.IsDuplicateKeyError(err) {
			raceErr := collection.FindOne(ctx, bson.M{"participants_key": key, "deleted": false}).Decode(&existing)
			if raceErr == nil {
				return &existing, nil
			}
		}
		conversationIDStr := "<unknown>"
		if newConversation != nil {
			conversationIDStr = newConversation.ID.String()
		}
		return nil, fmt.Errorf("failed to insert new conversation %s (last attempted conversation ID: %s) after multiple retries: %w",
			key, conversationIDStr, err)
	}

	return newConversation, nil
}

// FindConversationByID finds a non-deleted conversation by its ID.
func (s *chatService) FindConversationByID(ctx context.Context, conversationID utils.SixID) (*models.Conversation, error) {
	var conversation models.Conversation
	collection := s.db.Collection(conversationsCollection)
	filter := bson.M{"_id": conversationID, "deleted": false}

	err := collection.FindOne(ctx, filter).Decode(&conversation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding conversation by ID %s: %w", conversationID.String(), err)
	}
	return &conversation, nil
}

// SendMessage appends a message to a conversation and refreshes the
// conversation's lastMessage/updatedAt denormalized fields.
func (s *chatService) SendMessage(ctx context.Context, conversationID, senderID, receiverID utils.SixID, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message text cannot be empty", ErrValidation)
	}

	conversation, err := s.FindConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	senderOK, receiverOK := false, false
	for _, p := range conversation.Participants {
		if p == senderID {
			senderOK = true
		}
		if p == receiverID {
			receiverOK = true
		}
	}
	if !senderOK || !receiverOK {
		return nil, fmt.Errorf("%w: sender and receiver must both be conversation participants", ErrValidation)
	}

	// Claim the next slot in the conversation's message counter. BSON stores
	// created_at at millisecond precision, so seq carries the send order when
	// two messages share a timestamp.
	var counted models.Conversation
	err = s.db.Collection(conversationsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": conversationID, "deleted": false},
		bson.M{"$inc": bson.M{"message_seq": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&counted)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate message sequence in conversation %s: %w", conversationID.String(), err)
	}
	seq := counted.MessageSeq

	collection := s.db.Collection(messagesCollection)
	now := time.Now().UTC()

	var newMessage *models.Message

	operation := func() error {
		newMessage = &models.Message{
			Base:           models.Base{ID: utils.NewSixID()},
			ConversationID: conversationID,
			SenderID:       senderID,
			ReceiverID:     receiverID,
			Text:           text,
			Seq:            seq,
			Read:           false,
			Deleted:        false,
			CreatedAt:      now,
		}
		_, insertErr := collection.InsertOne(ctx, newMessage)
		return insertErr
	}

	err = db.Try(operation)

	if err != nil {
		messageIDStr := "<unknown>"
		if newMessage != nil {
			messageIDStr = newMessage.ID.String()
		}
		return nil, fmt.Errorf("failed to insert message in conversation %s (last attempted message ID: %s) after multiple retries: %w",
			conversationID.String(), messageIDStr, err)
	}

	conversationUpdate := bson.M{"$set": bson.M{
		"last_message": text,
		"updated_at":   now,
	}}
	_, err = s.db.Collection(conversationsCollection).UpdateByID(ctx, conversationID, conversationUpdate)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh conversation %s after message %s: %w",
			conversationID.String(), newMessage.ID.String(), err)
	}

	return newMessage, nil
}

// MarkConversationAsRead flips read=true on every message in the
// conversation addressed to the given user. Messages to other receivers are
// untouched.
func (s *chatService) MarkConversationAsRead(ctx context.Context, conversationID, userID utils.SixID) error {
	collection := s.db.Collection(messagesCollection)
	filter := bson.M{
		"conversation_id": conversationID,
		"receiver_id":     userID,
		"read":            false,
	}
	_, err := collection.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return fmt.Errorf("db error marking conversation %s as read for user %s: %w",
			conversationID.String(), userID.String(), err)
	}
	return nil
}

// GetUserConversations returns all conversations the user participates in,
// most recently active first. Activity time is updatedAt, falling back to
// createdAt; ties break on the conversation ID for a stable order.
func (s *chatService) GetUserConversations(ctx context.Context, userID utils.SixID) ([]models.Conversation, error) {
	collection := s.db.Collection(conversationsCollection)
	filter := bson.M{"participants": userID, "deleted": false}

	cursor, err := collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations for user %s: %w", userID.String(), err)
	}
	defer cursor.Close(ctx)

	var conversations []models.Conversation
	if err = cursor.All(ctx, &conversations); err != nil {
		return nil, fmt.Errorf("failed to decode conversations for user %s: %w", userID.String(), err)
	}

	activity := func(c models.Conversation) time.Time {
		if !c.UpdatedAt.IsZero() {
			return c.UpdatedAt
		}
		return c.CreatedAt
	}
	sort.SliceStable(conversations, func(i, j int) bool {
		ti, tj := activity(conversations[i]), activity(conversations[j])
		if ti.Equal(tj) {
			return conversations[i].ID.String() < conversations[j].ID.String()
		}
		return ti.After(tj)
	})

	return conversations, nil
}

// GetConversationMessages returns the full message history in send order.
// Seq breaks ties between messages sharing a created_at timestamp.
func (s *chatService) GetConversationMessages(ctx context.Context, conversationID utils.SixID) ([]models.Message, error) {
	collection := s.db.Collection(messagesCollection)
	filter := bson.M{"conversation_id": conversationID, "deleted": false}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for conversation %s: %w", conversationID.String(), err)
	}
	defer cursor.Close(ctx)

	var messages []models.Message
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages for conversation %s: %w", conversationID.String(), err)
	}
	return messages, nil
}

// GetParticipantInfo resolves the display identity of the other participant.
// When the user record cannot be loaded, the raw ID stands in for the name.
func (s *chatService) GetParticipantInfo(ctx context.Context, conversation *models.Conversation, currentUserID utils.SixID) (*ParticipantInfo, error) {
	var otherID utils.SixID
	found := false
	for _, p := range conversation.Participants {
		if p != currentUserID {
			otherID = p
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("conversation %s has no participant other than %s",
			conversation.ID.String(), currentUserID.String())
	}

	user, err := s.userSvc.FindByID(ctx, otherID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return &ParticipantInfo{Name: otherID.String()}, nil
		}
		return nil, err
	}

	return &ParticipantInfo{
		Name:     user.Name,
		Avatar:   user.Avatar,
		Verified: user.VerificationStatus == models.VerificationStatusVerified,
	}, nil
}

// CountUnread counts unread messages addressed to the user within one
// conversation.
func (s *chatService) CountUnread(ctx context.Context, conversationID, userID utils.SixID) (int64, error) {
	collection := s.db.Collection(messagesCollection)
	filter := bson.M{
		"conversation_id": conversationID,
		"receiver_id":     userID,
		"read":            false,
		"deleted":         false,
	}
	count, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages in conversation %s for user %s: %w",
			conversationID.String(), userID.String(), err)
	}
	return count, nil
}

// CountTotalUnread counts unread messages addressed to the user across all
// conversations.
func (s *chatService) CountTotalUnread(ctx context.Context, userID utils.SixID) (int64, error) {
	collection := s.db.Collection(messagesCollection)
	filter := bson.M{
		"receiver_id": userID,
		"read":        false,
		"deleted":     false,
	}
	count, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages for user %s: %w", userID.String(), err)
	}
	return count, nil
}
