package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"trustedshare/core/internal/models"
	"trustedshare/core/internal/services"
	"trustedshare/core/internal/utils"
)

// RestChatHandler handles authenticated REST reads of conversations and
// messages. Sending and read receipts go through the JSON API.
type RestChatHandler struct {
	chatService services.IChatService
}

// NewRestChatHandler creates a new RestChatHandler.
func NewRestChatHandler(chatService services.IChatService) *RestChatHandler {
	return &RestChatHandler{chatService: chatService}
}

// conversationView decorates a conversation with the other participant's
// public info and the caller's unread count.
type conversationView struct {
	models.Conversation
	OtherParticipant *services.ParticipantInfo `json:"other_participant,omitempty"`
	UnreadCount      int64                     `json:"unread_count"`
}

// GetMyConversations handles GET /v1/conversation
func (h *RestChatHandler) GetMyConversations(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	ctx := c.Request.Context()
	conversations, err := h.chatService.GetUserConversations(ctx, userID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch conversations"})
		return
	}

	views := make([]conversationView, 0, len(conversations))
	for i := range conversations {
		conv := conversations[i]
		view := conversationView{Conversation: conv}
		if info, infoErr := h.chatService.GetParticipantInfo(ctx, &conv, userID); infoErr == nil {
			view.OtherParticipant = info
		}
		if unread, countErr := h.chatService.CountUnread(ctx, conv.ID, userID); countErr == nil {
			view.UnreadCount = unread
		}
		views = append(views, view)
	}

	c.JSON(http.StatusOK, gin.H{"data": views})
}

// GetConversationMessages handles GET /v1/conversation/:id/message
func (h *RestChatHandler) GetConversationMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	conversationID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation ID format"})
		return
	}

	ctx := c.Request.Context()
	conversation, err := h.chatService.FindConversationByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve conversation"})
		}
		return
	}

	isParticipant := false
	for _, p := range conversation.Participants {
		if p == userID {
			isParticipant = true
			break
		}
	}
	if !isParticipant {
		// Do not reveal whether the conversation exists.
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}

	messages, err := h.chatService.GetConversationMessages(ctx, conversationID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": messages})
}

// GetUnreadCount handles GET /v1/unread
func (h *RestChatHandler) GetUnreadCount(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	unread, err := h.chatService.CountTotalUnread(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count unread messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread": unread})
}
