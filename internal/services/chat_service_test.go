package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"trustedshare/core/internal/config"
	"trustedshare/core/internal/models"
	"trustedshare/core/internal/utils"
)

func setupTestDBChat(t *testing.T, dbName string) (*mongo.Database, IChatService, IUserService) {
	db := utils.SetupTestDB(t, dbName, "conversations", "messages", "users")
	userSvc := NewUserService(db, nil, &config.Config{SignupCompletionSeed: 40})
	chatSvc := NewChatService(db, userSvc)
	require.NoError(t, chatSvc.EnsureIndexes(context.Background()))
	return db, chatSvc, userSvc
}

func TestChatService_StartConversationIdempotent(t *testing.T) {
	_, svc, _ := setupTestDBChat(t, "testdb_chat_service_start")
	ctx := context.Background()
	userA := utils.NewSixID()
	userB := utils.NewSixID()
	listingID := utils.NewSixID()

	conv, err := svc.StartConversation(ctx, userA, userB, nil, &listingID)
	require.NoError(t, err)
	assert.Len(t, conv.Participants, 2)

	// Same pair, same listing, either order: same conversation
	again, err := svc.StartConversation(ctx, userB, userA, nil, &listingID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	// Same pair, no listing: a distinct conversation
	general, err := svc.StartConversation(ctx, userA, userB, nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, conv.ID, general.ID)

	// Same pair, different listing: also distinct
	otherListing := utils.NewSixID()
	other, err := svc.StartConversation(ctx, userA, userB, nil, &otherListing)
	require.NoError(t, err)
	assert.NotEqual(t, conv.ID, other.ID)
	assert.NotEqual(t, general.ID, other.ID)

	convs, err := svc.GetUserConversations(ctx, userA)
	require.NoError(t, err)
	assert.Len(t, convs, 3)

	// A user cannot converse with themselves
	_, err = svc.StartConversation(ctx, userA, userA, nil, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestChatService_StartConversationBookingRef(t *testing.T) {
	_, svc, _ := setupTestDBChat(t, "testdb_chat_service_booking_ref")
	ctx := context.Background()
	userA := utils.NewSixID()
	userB := utils.NewSixID()
	listingID := utils.NewSixID()
	bookingID := utils.NewSixID()

	conv, err := svc.StartConversation(ctx, userA, userB, &bookingID, &listingID)
	require.NoError(t, err)
	require.NotNil(t, conv.RelatedBookingID)
	assert.Equal(t, bookingID, *conv.RelatedBookingID)

	// The booking is an annotation, not part of the identity: starting again
	// for the same pair and listing with a different booking returns the
	// original conversation unchanged.
	otherBooking := utils.NewSixID()
	again, err := svc.StartConversation(ctx, userA, userB, &otherBooking, &listingID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)
	require.NotNil(t, again.RelatedBookingID)
	assert.Equal(t, bookingID, *again.RelatedBookingID)
}

func TestChatService_SendMessage(t *testing.T) {
	_, svc, _ := setupTestDBChat(t, "testdb_chat_service_send")
	ctx := context.Background()
	userA := utils.NewSixID()
	userB := utils.NewSixID()

	conv, err := svc.StartConversation(ctx, userA, userB, nil, nil)
	require.NoError(t, err)

	m1, err := svc.SendMessage(ctx, conv.ID, userA, userB, "is the drill available?")
	require.NoError(t, err)
	assert.False(t, m1.Read)
	assert.Equal(t, int64(1), m1.Seq)

	m2, err := svc.SendMessage(ctx, conv.ID, userB, userA, "yes, from Tuesday")
	require.NoError(t, err)
	assert.Equal(t, int64(2), m2.Seq)

	msgs, err := svc.GetConversationMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, m1.ID, msgs[0].ID, "messages come back oldest first")
	assert.Equal(t, m2.ID, msgs[1].ID)

	// Last message is mirrored onto the conversation
	fetched, err := svc.FindConversationByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "yes, from Tuesday", fetched.LastMessage)

	// Empty text rejected
	_, err = svc.SendMessage(ctx, conv.ID, userA, userB, "  ")
	assert.ErrorIs(t, err, ErrValidation)

	// Sender must be a participant
	_, err = svc.SendMessage(ctx, conv.ID, utils.NewSixID(), userB, "hello")
	assert.Error(t, err)

	// Unknown conversation
	_, err = svc.SendMessage(ctx, utils.NewSixID(), userA, userB, "hello")
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

func TestChatService_MessageOrderSurvivesEqualTimestamps(t *testing.T) {
	db, svc, _ := setupTestDBChat(t, "testdb_chat_service_order")
	ctx := context.Background()
	userA := utils.NewSixID()
	userB := utils.NewSixID()

	conv, err := svc.StartConversation(ctx, userA, userB, nil, nil)
	require.NoError(t, err)

	// Two sends can land on the same millisecond, which is all the stored
	// timestamp resolves. Insert the later one first to prove created_at
	// alone does not decide the order.
	when := time.Now().UTC().Truncate(time.Millisecond)
	second := models.Message{
		ConversationID: conv.ID,
		SenderID:       userB,
		ReceiverID:     userA,
		Text:           "second",
		Seq:            2,
		CreatedAt:      when,
	}
	second.GenIDIfEmpty()
	first := models.Message{
		ConversationID: conv.ID,
		SenderID:       userA,
		ReceiverID:     userB,
		Text:           "first",
		Seq:            1,
		CreatedAt:      when,
	}
	first.GenIDIfEmpty()

	coll := db.Collection("messages")
	_, err = coll.InsertOne(ctx, second)
	require.NoError(t, err)
	_, err = coll.InsertOne(ctx, first)
	require.NoError(t, err)

	msgs, err := svc.GetConversationMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "second", msgs[1].Text)
}

func TestChatService_MarkConversationAsRead(t *testing.T) {
	_, svc, _ := setupTestDBChat(t, "testdb_chat_service_read")
	ctx := context.Background()
	userA := utils.NewSixID()
	userB := utils.NewSixID()

	conv, err := svc.StartConversation(ctx, userA, userB, nil, nil)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, conv.ID, userA, userB, "first")
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, conv.ID, userA, userB, "second")
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, conv.ID, userB, userA, "reply")
	require.NoError(t, err)

	unreadB, err := svc.CountUnread(ctx, conv.ID, userB)
	require.NoError(t, err)
	assert.Equal(t, int64(2), unreadB)

	// B reads; only messages addressed to B flip
	err = svc.MarkConversationAsRead(ctx, conv.ID, userB)
	require.NoError(t, err)

	unreadB, err = svc.CountUnread(ctx, conv.ID, userB)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unreadB)

	unreadA, err := svc.CountUnread(ctx, conv.ID, userA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unreadA, "A's unread reply untouched by B's read")
}

func TestChatService_UnreadCounts(t *testing.T) {
	_, svc, _ := setupTestDBChat(t, "testdb_chat_service_unread")
	ctx := context.Background()
	userA := utils.NewSixID()
	userB := utils.NewSixID()
	userC := utils.NewSixID()

	convAB, err := svc.StartConversation(ctx, userA, userB, nil, nil)
	require.NoError(t, err)
	convAC, err := svc.StartConversation(ctx, userA, userC, nil, nil)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, convAB.ID, userB, userA, "one")
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, convAB.ID, userB, userA, "two")
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, convAC.ID, userC, userA, "three")
	require.NoError(t, err)

	total, err := svc.CountTotalUnread(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	require.NoError(t, svc.MarkConversationAsRead(ctx, convAB.ID, userA))

	total, err = svc.CountTotalUnread(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestChatService_GetParticipantInfo(t *testing.T) {
	_, svc, userSvc := setupTestDBChat(t, "testdb_chat_service_participant")
	ctx := context.Background()

	alice, err := userSvc.Signup(ctx, "Alice", "alice-chat@example.com", "password123")
	require.NoError(t, err)
	ghost := utils.NewSixID()

	conv, err := svc.StartConversation(ctx, alice.ID, ghost, nil, nil)
	require.NoError(t, err)

	// From the ghost's perspective, the other side is a real user
	info, err := svc.GetParticipantInfo(ctx, conv, ghost)
	require.NoError(t, err)
	assert.Equal(t, "Alice", info.Name)
	assert.False(t, info.Verified)

	// From Alice's perspective, the other side has no account; fall back to the raw ID
	info, err = svc.GetParticipantInfo(ctx, conv, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, ghost.String(), info.Name)
}
