package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"trustedshare/core/internal/services"
	"trustedshare/core/internal/utils"
)

// RestUserHandler handles REST requests related to users.
type RestUserHandler struct {
	userService    services.IUserService
	listingService services.IListingService
}

// NewRestUserHandler creates a new RestUserHandler.
func NewRestUserHandler(userService services.IUserService, listingService services.IListingService) *RestUserHandler {
	return &RestUserHandler{
		userService:    userService,
		listingService: listingService,
	}
}

// PublicUser represents the data returned for a user profile.
// Email, phone and notification settings are never exposed here.
type PublicUser struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Avatar             string `json:"avatar,omitempty"`
	Bio                string `json:"bio,omitempty"`
	DateJoined         string `json:"date_joined"`
	VerificationStatus string `json:"verification_status"`
	ListingCount       int    `json:"listing_count"`
}

// GetUserByID handles GET /v1/user/:id
func (h *RestUserHandler) GetUserByID(c *gin.Context) {
	userIDHex := c.Param("id")
	userID, err := utils.ParseSixID(userIDHex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID format"})
		return
	}

	user, err := h.userService.FindByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
		}
		return
	}

	listingCount := 0
	if listings, listErr := h.listingService.FindListingsByUserID(c.Request.Context(), userID); listErr == nil {
		listingCount = len(listings)
	}

	publicUser := PublicUser{
		ID:                 user.ID.String(),
		Name:               user.Name,
		Avatar:             user.Avatar,
		Bio:                user.Bio,
		DateJoined:         user.CreatedAt.Format("2006-01-02"),
		VerificationStatus: string(user.VerificationStatus),
		ListingCount:       listingCount,
	}

	c.JSON(http.StatusOK, publicUser)
}
