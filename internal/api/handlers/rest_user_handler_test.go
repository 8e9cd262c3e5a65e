package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/mongo"

	"trustedshare/core/internal/api/handlers"
	"trustedshare/core/internal/models"
	"trustedshare/core/internal/utils"
)

func setupUserRouter(userSvc *MockUserService, listingSvc *MockListingService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := handlers.NewRestUserHandler(userSvc, listingSvc)
	r := gin.New()
	r.GET("/v1/user/:id", handler.GetUserByID)
	return r
}

func TestRestUserHandler_GetUserByID_Success(t *testing.T) {
	mockUserSvc := new(MockUserService)
	mockListingSvc := new(MockListingService)
	router := setupUserRouter(mockUserSvc, mockListingSvc)

	userID := utils.NewSixID()
	joined := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	mockUserSvc.On("FindByID", mock.Anything, userID).Return(&models.User{
		Base:               models.Base{ID: userID},
		Name:               "Alice",
		Email:              "alice@example.com",
		Bio:                "Lender of tools",
		VerificationStatus: models.VerificationStatusVerified,
		CreatedAt:          joined,
	}, nil)
	mockListingSvc.On("FindListingsByUserID", mock.Anything, userID).
		Return([]models.Listing{{Base: models.Base{ID: utils.NewSixID()}}, {Base: models.Base{ID: utils.NewSixID()}}}, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/user/"+userID.String(), nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var publicUser handlers.PublicUser
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &publicUser))
	assert.Equal(t, userID.String(), publicUser.ID)
	assert.Equal(t, "Alice", publicUser.Name)
	assert.Equal(t, "2025-03-14", publicUser.DateJoined)
	assert.Equal(t, "verified", publicUser.VerificationStatus)
	assert.Equal(t, 2, publicUser.ListingCount)

	// The email must never leak through the public profile
	assert.NotContains(t, w.Body.String(), "alice@example.com")
	mockUserSvc.AssertExpectations(t)
}

func TestRestUserHandler_GetUserByID_NotFound(t *testing.T) {
	mockUserSvc := new(MockUserService)
	mockListingSvc := new(MockListingService)
	router := setupUserRouter(mockUserSvc, mockListingSvc)

	userID := utils.NewSixID()
	mockUserSvc.On("FindByID", mock.Anything, userID).Return(nil, mongo.ErrNoDocuments)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/user/"+userID.String(), nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRestUserHandler_GetUserByID_BadID(t *testing.T) {
	mockUserSvc := new(MockUserService)
	mockListingSvc := new(MockListingService)
	router := setupUserRouter(mockUserSvc, mockListingSvc)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/user/nope", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockUserSvc.AssertNotCalled(t, "FindByID")
}
