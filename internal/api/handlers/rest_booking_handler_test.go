package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"trustedshare/core/internal/api/handlers"
	"trustedshare/core/internal/api/middleware"
	"trustedshare/core/internal/models"
	"trustedshare/core/internal/utils"
)

// authAs injects the authenticated user the way AuthMiddleware would.
func authAs(userID utils.SixID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyUserID, userID.String())
		c.Next()
	}
}

func setupBookingRouter(bookingSvc *MockBookingService, listingSvc *MockListingService, userID utils.SixID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := handlers.NewRestBookingHandler(bookingSvc, listingSvc)
	r := gin.New()
	r.Use(authAs(userID))
	r.GET("/v1/booking", handler.GetMyBookings)
	r.GET("/v1/booking/:id", handler.GetBookingByID)
	r.GET("/v1/listing/:id/booking", handler.GetListingBookings)
	return r
}

func TestRestBookingHandler_GetMyBookings(t *testing.T) {
	mockBookingSvc := new(MockBookingService)
	mockListingSvc := new(MockListingService)
	userID := utils.NewSixID()
	router := setupBookingRouter(mockBookingSvc, mockListingSvc, userID)

	mockBookingSvc.On("GetUserBookings", mock.Anything, userID, true).
		Return([]models.Booking{{Base: models.Base{ID: utils.NewSixID()}, RenterID: userID}}, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/booking", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var respBody struct {
		Data []models.Booking `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &respBody))
	assert.Len(t, respBody.Data, 1)
	mockBookingSvc.AssertExpectations(t)
}

func TestRestBookingHandler_GetMyBookings_AsOwner(t *testing.T) {
	mockBookingSvc := new(MockBookingService)
	mockListingSvc := new(MockListingService)
	userID := utils.NewSixID()
	router := setupBookingRouter(mockBookingSvc, mockListingSvc, userID)

	mockBookingSvc.On("GetUserBookings", mock.Anything, userID, false).
		Return([]models.Booking{}, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/booking?role=owner", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockBookingSvc.AssertExpectations(t)
}

func TestRestBookingHandler_GetMyBookings_BadRole(t *testing.T) {
	mockBookingSvc := new(MockBookingService)
	mockListingSvc := new(MockListingService)
	userID := utils.NewSixID()
	router := setupBookingRouter(mockBookingSvc, mockListingSvc, userID)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/booking?role=admin", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockBookingSvc.AssertNotCalled(t, "GetUserBookings")
}

func TestRestBookingHandler_GetBookingByID_OutsiderGets404(t *testing.T) {
	mockBookingSvc := new(MockBookingService)
	mockListingSvc := new(MockListingService)
	outsiderID := utils.NewSixID()
	router := setupBookingRouter(mockBookingSvc, mockListingSvc, outsiderID)

	bookingID := utils.NewSixID()
	mockBookingSvc.On("FindBookingByID", mock.Anything, bookingID).
		Return(&models.Booking{
			Base:     models.Base{ID: bookingID},
			RenterID: utils.NewSixID(),
			OwnerID:  utils.NewSixID(),
		}, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/booking/"+bookingID.String(), nil)
	router.ServeHTTP(w, req)

	// Existence is not revealed to outsiders
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRestBookingHandler_GetBookingByID_RenterCanRead(t *testing.T) {
	mockBookingSvc := new(MockBookingService)
	mockListingSvc := new(MockListingService)
	renterID := utils.NewSixID()
	router := setupBookingRouter(mockBookingSvc, mockListingSvc, renterID)

	bookingID := utils.NewSixID()
	mockBookingSvc.On("FindBookingByID", mock.Anything, bookingID).
		Return(&models.Booking{
			Base:     models.Base{ID: bookingID},
			RenterID: renterID,
			OwnerID:  utils.NewSixID(),
			Status:   models.BookingStatusConfirmed,
		}, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/booking/"+bookingID.String(), nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var booking models.Booking
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &booking))
	assert.Equal(t, models.BookingStatusConfirmed, booking.Status)
}

func TestRestBookingHandler_GetListingBookings_OwnerOnly(t *testing.T) {
	mockBookingSvc := new(MockBookingService)
	mockListingSvc := new(MockListingService)
	userID := utils.NewSixID()
	router := setupBookingRouter(mockBookingSvc, mockListingSvc, userID)

	listingID := utils.NewSixID()
	mockListingSvc.On("FindListingByID", mock.Anything, listingID).
		Return(&models.Listing{Base: models.Base{ID: listingID}, OwnerID: utils.NewSixID()}, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/listing/"+listingID.String()+"/booking", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	mockBookingSvc.AssertNotCalled(t, "GetBookingsByListing")
}

func TestRestBookingHandler_GetListingBookings_Success(t *testing.T) {
	mockBookingSvc := new(MockBookingService)
	mockListingSvc := new(MockListingService)
	ownerID := utils.NewSixID()
	router := setupBookingRouter(mockBookingSvc, mockListingSvc, ownerID)

	listingID := utils.NewSixID()
	mockListingSvc.On("FindListingByID", mock.Anything, listingID).
		Return(&models.Listing{Base: models.Base{ID: listingID}, OwnerID: ownerID}, nil)
	mockBookingSvc.On("GetBookingsByListing", mock.Anything, listingID).
		Return([]models.Booking{{Base: models.Base{ID: utils.NewSixID()}, ListingID: listingID}}, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/listing/"+listingID.String()+"/booking", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockBookingSvc.AssertExpectations(t)
}
