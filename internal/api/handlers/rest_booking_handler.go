package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"trustedshare/core/internal/api/middleware"
	"trustedshare/core/internal/services"
	"trustedshare/core/internal/utils"
)

// RestBookingHandler handles authenticated REST reads of booking data.
// Mutations go through the JSON API.
type RestBookingHandler struct {
	bookingService services.IBookingService
	listingService services.IListingService
}

// NewRestBookingHandler creates a new RestBookingHandler.
func NewRestBookingHandler(bookingService services.IBookingService, listingService services.IListingService) *RestBookingHandler {
	return &RestBookingHandler{
		bookingService: bookingService,
		listingService: listingService,
	}
}

// currentUserID extracts the authenticated user ID set by AuthMiddleware.
func currentUserID(c *gin.Context) (utils.SixID, bool) {
	userIDHex := c.GetString(middleware.ContextKeyUserID)
	if userIDHex == "" {
		return utils.SixID{}, false
	}
	userID, err := utils.ParseSixID(userIDHex)
	if err != nil {
		return utils.SixID{}, false
	}
	return userID, true
}

// GetMyBookings handles GET /v1/booking?role=renter|owner (default renter).
func (h *RestBookingHandler) GetMyBookings(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	role := c.DefaultQuery("role", "renter")
	if role != "renter" && role != "owner" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be 'renter' or 'owner'"})
		return
	}

	bookings, err := h.bookingService.GetUserBookings(c.Request.Context(), userID, role == "renter")
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch bookings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": bookings})
}

// GetBookingByID handles GET /v1/booking/:id. Only the renter or the
// owner of the booking may read it.
func (h *RestBookingHandler) GetBookingByID(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	bookingID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid booking ID format"})
		return
	}

	booking, err := h.bookingService.FindBookingByID(c.Request.Context(), bookingID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Booking not found"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve booking"})
		}
		return
	}

	if booking.RenterID != userID && booking.OwnerID != userID {
		// Do not reveal whether the booking exists.
		c.JSON(http.StatusNotFound, gin.H{"error": "Booking not found"})
		return
	}

	c.JSON(http.StatusOK, booking)
}

// GetListingBookings handles GET /v1/listing/:id/booking. Restricted to
// the listing owner.
func (h *RestBookingHandler) GetListingBookings(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	listingID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	listing, err := h.listingService.FindListingByID(c.Request.Context(), listingID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve listing"})
		}
		return
	}
	if listing.OwnerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the listing owner may view its bookings"})
		return
	}

	bookings, err := h.bookingService.GetBookingsByListing(c.Request.Context(), listingID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch bookings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": bookings})
}
