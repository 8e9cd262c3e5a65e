package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"trustedshare/core/internal/auth"
	"trustedshare/core/internal/config"
	"trustedshare/core/internal/models"
	"trustedshare/core/internal/services"
	"trustedshare/core/internal/storage"
	"trustedshare/core/internal/tasks"
	"trustedshare/core/internal/utils"
)

// Context key type for AuthResult
type authContextKey string

const authResultKey authContextKey = "authResult"

// Helper to get AuthResult from context
func getAuthFromContext(ctx context.Context) (*AuthResult, bool) {
	val, ok := ctx.Value(authResultKey).(*AuthResult)
	return val, ok
}

// IAsynqClient defines the interface for the Asynq client methods used by the handler.
// This allows easier mocking than using the concrete asynq.Client.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JsonApiRequest defines the expected structure for JSON API requests.
type JsonApiRequest struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// JsonApiResponse defines the structure for JSON API responses.
type JsonApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// apiMethodFunc defines the signature for handler methods.
type apiMethodFunc func(c *gin.Context, args json.RawMessage) (interface{}, *ApiError)

// JsonApiHandler holds dependencies for handling JSON API requests.
type JsonApiHandler struct {
	cfg                 *config.Config
	db                  *mongo.Database
	rdb                 *redis.Client
	userService         services.IUserService
	listingService      services.IListingService
	bookingService      services.IBookingService
	chatService         services.IChatService
	verificationService services.IVerificationService
	storageService      storage.IS3Storage
	taskClient          IAsynqClient
	methods             map[string]apiMethodFunc
}

// NewJsonApiHandler creates a new handler for the JSON API endpoint.
// Accepts interfaces for dependencies.
func NewJsonApiHandler(
	cfg *config.Config,
	db *mongo.Database,
	rdb *redis.Client,
	taskClient IAsynqClient,
	userService services.IUserService,
	listingService services.IListingService,
	bookingService services.IBookingService,
	chatService services.IChatService,
	verificationService services.IVerificationService,
	storageService storage.IS3Storage,
) *JsonApiHandler {
	h := &JsonApiHandler{
		cfg:                 cfg,
		db:                  db,
		rdb:                 rdb,
		taskClient:          taskClient,
		userService:         userService,
		listingService:      listingService,
		bookingService:      bookingService,
		chatService:         chatService,
		verificationService: verificationService,
		storageService:      storageService,
	}
	h.methods = map[string]apiMethodFunc{
		"ping":                 h.ping,
		"signup":               h.signup,
		"login":                h.login,
		"logout":               h.logout,
		"updateProfile":        h.updateProfile,
		"requestVerification":  h.requestVerification,
		"createListing":        h.createListing,
		"updateListing":        h.updateListing,
		"deleteListing":        h.deleteListing,
		"getUploadURL":         h.getUploadURL,
		"confirmImageUpload":   h.confirmImageUpload,
		"addListingReview":     h.addListingReview,
		"createBooking":        h.createBooking,
		"updateBookingStatus":  h.updateBookingStatus,
		"addBookingReview":     h.addBookingReview,
		"startConversation":    h.startConversation,
		"sendMessage":          h.sendMessage,
		"markConversationRead": h.markConversationRead,
	}
	return h
}

// HandleRequest is the main entry point for POST /v1/api
func (h *JsonApiHandler) HandleRequest(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.sendErrorResponse(c, "Failed to read request body")
		return
	}

	var req JsonApiRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.sendErrorResponse(c, "Invalid JSON request format")
		return
	}

	authErr := h.checkAuthForMethod(c, req.Method)
	if authErr != nil {
		h.sendErrorResponse(c, authErr.Message)
		return
	}

	var result interface{}
	var apiErr *ApiError

	if handlerFunc, ok := h.methods[req.Method]; ok {
		result, apiErr = handlerFunc(c, req.Arguments)
	} else {
		h.sendErrorResponse(c, fmt.Sprintf("Unknown method: %s", req.Method))
		return
	}

	if apiErr != nil {
		h.sendErrorResponse(c, apiErr.Message)
		return
	}

	h.sendSuccessResponse(c, result)
}

// AuthResult holds optional authentication details
type AuthResult struct {
	UserID  *utils.SixID // Pointer to allow nil for guests
	IsAdmin bool
}

// checkAuthForMethod checks if auth is needed and validates/extracts details if so.
// It stores the AuthResult in c.Request.Context().
func (h *JsonApiHandler) checkAuthForMethod(c *gin.Context, method string) *ApiError {
	needsAuth := h.methodRequiresAuth(method)
	var authRes *AuthResult

	if !needsAuth {
		// If method is public, check if an optional Auth header is present anyway
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := auth.ValidateJWT(tokenString, h.cfg.JwtSecret)
			if err == nil { // Token is valid
				userID, _ := utils.ParseSixID(claims.UserID)
				authRes = &AuthResult{UserID: &userID, IsAdmin: claims.IsAdmin}
			} else {
				// Invalid optional token? Log it but proceed as guest
				log.Printf("DEBUG: Invalid optional auth token provided for method %s: %v", method, err)
				authRes = &AuthResult{UserID: nil, IsAdmin: false} // Guest
			}
		} else {
			authRes = &AuthResult{UserID: nil, IsAdmin: false} // Guest
		}
		ctx := context.WithValue(c.Request.Context(), authResultKey, authRes)
		c.Request = c.Request.WithContext(ctx)
		return nil // Proceed as guest or with optional auth
	}

	// Auth is required
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return NewApiError("Authorization header required")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return NewApiError("Authorization header format must be Bearer {token}")
	}
	tokenString := parts[1]
	claims, err := auth.ValidateJWT(tokenString, h.cfg.JwtSecret)
	if err != nil {
		log.Printf("DEBUG: Token validation failed for method %s: %v", method, err)
		return NewApiError(fmt.Sprintf("Invalid or expired token: %v", err))
	}

	userID, idErr := utils.ParseSixID(claims.UserID)
	if idErr != nil {
		log.Printf("ERROR: Invalid UserID (%s) in valid JWT for method %s", claims.UserID, method)
		return NewApiError("Internal error")
	}

	authRes = &AuthResult{UserID: &userID, IsAdmin: claims.IsAdmin}
	ctx := context.WithValue(c.Request.Context(), authResultKey, authRes)
	c.Request = c.Request.WithContext(ctx)
	return nil
}

// methodRequiresAuth checks if a given API method requires authentication.
func (h *JsonApiHandler) methodRequiresAuth(method string) bool {
	switch method {
	// List authenticated methods
	case "logout",
		"updateProfile",
		"requestVerification",
		"createListing",
		"updateListing",
		"deleteListing",
		"getUploadURL",
		"confirmImageUpload",
		"addListingReview",
		"createBooking",
		"updateBookingStatus",
		"addBookingReview",
		"startConversation",
		"sendMessage",
		"markConversationRead":
		return true // This applies to all preceding cases in this block

	// Public methods by default
	case "ping",
		"signup",
		"login":
		return false

	default:
		log.Printf("Warning: methodRequiresAuth check for unlisted method '%s', defaulting to false (public)", method)
		return false
	}
}

// --- Private helper methods ---

func (h *JsonApiHandler) sendSuccessResponse(c *gin.Context, data interface{}) {
	resp := JsonApiResponse{Success: true, Data: data}
	c.JSON(http.StatusOK, resp)
}

func (h *JsonApiHandler) sendErrorResponse(c *gin.Context, message string) {
	resp := JsonApiResponse{Success: false, Error: message}
	c.JSON(http.StatusOK, resp)
}

// --- API Method Implementations ---

func (h *JsonApiHandler) ping(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args // Explicitly ignore unused args
	return "pong", nil
}

type ApiError struct {
	Message string
}

func (e *ApiError) Error() string {
	return e.Message
}

func NewApiError(message string) *ApiError {
	return &ApiError{Message: message}
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// AuthResponse defines the structure for authentication responses
type AuthResponse struct {
	Token string `json:"token"`
	Email string `json:"email"`
	ID    string `json:"id"`
}

type SignupArgs struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *JsonApiHandler) signup(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SignupArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	if !emailRegex.MatchString(reqArgs.Email) {
		return nil, NewApiError("invalid_email")
	}

	ctx := c.Request.Context()
	user, err := h.userService.Signup(ctx, reqArgs.Name, reqArgs.Email, reqArgs.Password)
	if err != nil {
		if errors.Is(err, services.ErrEmailExists) {
			return nil, NewApiError("email_exists")
		}
		if errors.Is(err, services.ErrValidation) {
			return nil, NewApiError(err.Error())
		}
		log.Printf("Error signing up user %s: %v", reqArgs.Email, err)
		return nil, NewApiError("Registration failed")
	}

	token, err := auth.GenerateJWT(user.ID, user.IsAdmin, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		log.Printf("Failed to generate JWT for user %s: %v", user.ID.String(), err)
		return nil, NewApiError("Failed to generate session token")
	}

	log.Printf("Signup successful for user %s (%s)", user.ID.String(), user.Email)
	return AuthResponse{
		Token: token,
		Email: user.Email,
		ID:    user.ID.String(),
	}, nil
}

type LoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *JsonApiHandler) login(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs LoginArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	if !emailRegex.MatchString(reqArgs.Email) {
		return nil, NewApiError("invalid_email")
	}

	ctx := c.Request.Context()
	user, err := h.userService.Login(ctx, reqArgs.Email, reqArgs.Password)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) || errors.Is(err, services.ErrNotAuthenticated) {
			// Do not reveal whether the email exists
			log.Printf("Login attempt failed for %s", reqArgs.Email)
			return false, nil // Return Data: false, Success: true
		}
		log.Printf("DB error during login for %s: %v", reqArgs.Email, err)
		return nil, NewApiError("Database error")
	}

	token, err := auth.GenerateJWT(user.ID, user.IsAdmin, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		log.Printf("Failed to generate JWT for user %s (%s): %v", user.ID.String(), reqArgs.Email, err)
		return nil, NewApiError("Failed to generate session token")
	}

	log.Printf("Login successful for user %s (%s)", user.ID.String(), reqArgs.Email)
	return AuthResponse{
		Token: token,
		Email: user.Email,
		ID:    user.ID.String(),
	}, nil
}

func (h *JsonApiHandler) logout(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.UserID == nil {
		return nil, NewApiError("Authentication required")
	}

	if err := h.userService.Logout(c.Request.Context(), *authInfo.UserID); err != nil {
		log.Printf("Error logging out user %s: %v", authInfo.UserID.String(), err)
		return nil, NewApiError("Failed to log out")
	}
	return true, nil
}

type UpdateProfileArgs struct {
	Name                    *string                         `json:"name,omitempty"`
	Avatar                  *string                         `json:"avatar,omitempty"`
	Bio                     *string                         `json:"bio,omitempty"`
	Phone                   *string                         `json:"phone,omitempty"`
	NotificationPreferences *models.NotificationPreferences `json:"notification_preferences,omitempty"`
}

func (h *JsonApiHandler) updateProfile(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.UserID == nil {
		return nil, NewApiError("Authentication required")
	}

	var reqArgs UpdateProfileArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	ctx := c.Request.Context()
	updated, err := h.userService.UpdateProfile(ctx, *authInfo.UserID, services.ProfileUpdate{
		Name:                    reqArgs.Name,
		Avatar:                  reqArgs.Avatar,
		Bio:                     reqArgs.Bio,
		Phone:                   reqArgs.Phone,
		NotificationPreferences: reqArgs.NotificationPreferences,
	})
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			return nil, NewApiError(err.Error())
		}
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, NewApiError("User not found")
		}
		log.Printf("Error updating profile for user %s: %v", authInfo.UserID.String(), err)
		return nil, NewApiError("Failed to update profile")
	}
	return updated, nil
}

type RequestVerificationArgs struct {
	DocumentRef string `json:"document_ref"`
}

func (h *JsonApiHandler) requestVerification(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.UserID == nil {
		return nil, NewApiError("Authentication required")
	}
	userIDHex := authInfo.UserID.String()

	var reqArgs RequestVerificationArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if strings.TrimSpace(reqArgs.DocumentRef) == "" {
		return nil, NewApiError("document_ref cannot be empty")
	}

	ctx := c.Request.Context()
	verification, err := h.verificationService.CreateVerification(ctx, *authInfo.UserID, reqArgs.DocumentRef)
	if err != nil {
		log.Printf("Error creating verification for user %s: %v", userIDHex, err)
		return nil, NewApiError("Failed to request verification")
	}

	if err := h.userService.MarkVerificationPending(ctx, *authInfo.UserID); err != nil {
		log.Printf("Error marking user %s verification pending: %v", userIDHex, err)
		return nil, NewApiError("Failed to request verification")
	}

	task, err := tasks.NewVerificationProcessTask(verification.ID, *authInfo.UserID, h.cfg.VerificationProcessingDelay)
	if err != nil {
		log.Printf("Error building verification task for user %s: %v", userIDHex, err)
		return nil, NewApiError("Failed to schedule verification")
	}
	if _, err := h.taskClient.EnqueueContext(ctx, task); err != nil {
		log.Printf("ERROR enqueuing verification task for user %s: %v", userIDHex, err)
		return nil, NewApiError("Failed to schedule verification")
	}

	log.Printf("Verification %s requested by user %s", verification.ID.String(), userIDHex)
	return gin.H{
		"verification_id": verification.ID.String(),
		"status":          string(models.VerificationStatusPending),
	}, nil
}

// Define structure for createListing arguments
type CreateListingArgs struct {
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Category      string           `json:"category"`
	Condition     string           `json:"condition"`
	PricePerDay   float64          `json:"price_per_day"`
	PricePerWeek  float64          `json:"price_per_week"`
	DepositFee    float64          `json:"deposit_fee"`
	MinRentalDays int              `json:"min_rental_days"`
	MaxRentalDays int              `json:"max_rental_days"`
	Location      *models.Location `json:"location,omitempty"`
}

func (h *JsonApiHandler) createListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.UserID == nil {
		return nil, NewApiError("Authentication required to create listing")
	}
	userIDHex := authInfo.UserID.String()

	var reqArgs CreateListingArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	ctx := c.Request.Context()
	newListing, err := h.listingService.AddListing(ctx, *authInfo.UserID, services.ListingInput{
		Title:         reqArgs.Title,
		Description:   reqArgs.Description,
		Category:      reqArgs.Category,
		Condition:     reqArgs.Condition,
		PricePerDay:   reqArgs.PricePerDay,
		PricePerWeek:  reqArgs.PricePerWeek,
		DepositFee:    reqArgs.DepositFee,
		MinRentalDays: reqArgs.MinRentalDays,
		MaxRentalDays: reqArgs.MaxRentalDays,
		Location:      reqArgs.Location,
	})
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			return nil, NewApiError(err.Error())
		}
		log.Printf("Error creating listing for user %s: %v", userIDHex, err)
		return nil, NewApiError("Failed to create listing")
	}

	log.Printf("Created new listing %s for user %s", newListing.ID.String(), userIDHex)
	return newListing, nil
}

// Define structure for updateListing arguments
// Expects the listing ID and a map of fields to update.
type UpdateListingArgs struct {
	ListingID string                 `json:"listing_id"`
	Updates   map[string]interface{} `json:"updates"`
}

func (h *JsonApiHandler) updateListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.UserID == nil {
		return nil, NewApiError("Authentication required to update listing")
	}
	userIDHex := authInfo.UserID.String()

	var reqArgs UpdateListingArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	listingID, err := utils.ParseSixID(reqArgs.ListingID)
	if err != nil {
		return nil, NewApiError("Invalid listing_id format")
	}

	if len(reqArgs.Updates) == 0 {
		return nil, NewApiError("No updates provided")
	}

	ctx := c.Request.Context()
	updatedListing, err := h.listingService.UpdateListing(ctx, listingID, *authInfo.UserID, reqArgs.Updates)
	if err != nil {
		log.Printf("Error updating listing %s for user %s: %v", reqArgs.ListingID, userIDHex, err)
		if errors.Is(err, services.ErrValidation) {
			return nil, NewApiError(err.Error())
		}
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, NewApiError("Listing not found or access denied")
		}
		return nil, NewApiError("Failed to update listing")
	}

	return updatedListing, nil
}

func (h *JsonApiHandler) deleteListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.UserID == nil {
		return nil, NewApiError("Authentication required")
	}
	userIDHex := authInfo.UserID.String()

	var listingIDHex string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &listingIDHex); apiErr != nil {
		return nil, apiErr
	}
	listingID, err := utils.ParseSixID(listingIDHex)
	if err != nil {
		return nil, NewApiError("Invalid listing_id format in argument")
	}

	ctx := c.Request.Context()
	err = h.listingService.DeleteListing(ctx, listingID, *authInfo.UserID)
	if err != nil {
		log.Printf("Error deleting listing %s for user %s: %v", listingID.String(), userIDHex, err)
		if errors.Is(err, mongo.ErrNoDocuments) || strings.Contains(err.Error(), "does not belong") {
			return nil, NewApiError("Listing not found or cannot be deleted")
		} else if strings.Contains(err.Error(), "already deleted") {
			// Already deleted, treat as success
			log.Printf("Attempted to delete already deleted listing %s", listingID.String())
			return nil, nil
		}
		return nil, NewApiError("Failed to delete listing")
	}
	return nil, nil // Success
}

// Define structure for getUploadURL arguments
type GetUploadURLArgs struct {
	ListingID   string `json:"listing_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

func (h *JsonApiHandler) getUploadURL(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.UserID == nil {
		return nil, NewApiError("Authentication required")
	}
	userIDHex := authInfo.UserID.String()

	var reqArgs GetUploadURLArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	if reqArgs.ListingID == "" || reqArgs.Filename == "" || reqArgs.ContentType == "" {
		return nil, NewApiError("Missing required arguments (listing_id, filename, content_type)")
	}

	ctx := c.Request.Context()
	presignedURL, objectKey, err := h.storageService.GeneratePresignedPutURL(ctx,
		userIDHex,
		reqArgs.ListingID,
		reqArgs.Filename,
		reqArgs.ContentType,
	)
	if err != nil {
		log.Printf("Error generating presigned URL for user %s, listing %s: %v", userIDHex, reqArgs.ListingID, err)
		return nil, NewApiError("Failed to generate upload URL")
	}

	// Return the URL and the generated key (client needs key for confirmImageUpload)
	return gin.H{
		"upload_url": presignedURL,
		"object_key": objectKey,
	}, nil
}

// Define structure for confirmImageUpload arguments
type ConfirmImageUploadArgs struct {
	ListingID string `json:"listing_id"`
	ObjectKey string `json:"object_key"` // The key returned by getUploadURL
}

func (h *JsonApiHandler) confirmImageUpload(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.UserID == nil {
		return nil, NewApiError("Authentication required")
	}
	userIDHex := authInfo.UserID.String()

	var reqArgs ConfirmImageUploadArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	if reqArgs.ListingID == "" || reqArgs.ObjectKey == "" {
		return nil, NewApiError("Missing required arguments (listing_id, object_key)")
	}

	listingID, err := utils.ParseSixID(reqArgs.ListingID)
	if err != nil {
		return nil, NewApiError("Invalid listing_id format")
	}

	ctx := c.Request.Context()

	// Verify the user owns the listing before accepting the image
	listing, err := h.listingService.FindListingByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, NewApiError("Listing not found")
		}
		log.Printf("DB error finding listing %s for image confirm: %v", reqArgs.ListingID, err)
		return nil, NewApiError("Failed to retrieve listing")
	}
	if listing.OwnerID != *authInfo.UserID {
		log.Printf("User %s attempted image upload for listing %s they don't own", userIDHex, reqArgs.ListingID)
		return nil, NewApiError("Listing not found or access denied")
	}

	task, err := tasks.NewImageProcessTask(reqArgs.ObjectKey, listingID)
	if err != nil {
		log.Printf("Error building image task for key %s: %v", reqArgs.ObjectKey, err)
		return nil, NewApiError("Failed to schedule image processing")
	}

	taskInfo, err := h.taskClient.EnqueueContext(ctx, task)
	if err != nil {
		log.Printf("ERROR enqueuing image processing task for key %s, listing %s: %v", reqArgs.ObjectKey, reqArgs.ListingID, err)
		return nil, NewApiError("Failed to schedule image processing")
	}

	log.Printf("Enqueued image processing task ID %s for key %s, listing %s", taskInfo.ID, reqArgs.ObjectKey, reqArgs.ListingID)

	return gin.H{
		"message": "Image upload confirmed, processing scheduled.",
		"task_id": taskInfo.ID,
	}, nil
}

type AddListingReviewArgs struct {
	ListingID string `json:"listing_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

func (h *JsonApiHandler) addListingReview(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.UserID == nil {
		return nil, NewApiError("Authentication required")
	}

	var reqArgs AddListingReviewArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	listingID, err := utils.ParseSixID(reqArgs.ListingID)
	if err != nil {
		return nil, NewApiError("Invalid listing_id format")
	}

	ctx := c.Request.Context()
	updated, err := h.listingService.AddReview(ctx, listingID, *authInfo.UserID, reqArgs.Rating, reqArgs.Comment)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			return nil, NewApiError(err.Error())
		}
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, NewApiError("Listing not found")
		}
		log.Printf("Error adding review to listing %s: %v", reqArgs.ListingID, err)
		return nil, NewApiError("Failed to add review")
	}
	return updated, nil
}

type CreateBookingArgs struct {
	ListingID string    `json:"listing_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

func (h *JsonApiHandler) createBooking(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.UserID == nil {
		return nil, NewApiError("Authentication required")
	}
	userIDHex := authInfo.UserID.String()

	var reqArgs CreateBookingArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	listingID, err := utils.ParseSixID(reqArgs.ListingID)
	if err != nil {
		return nil, NewApiError("Invalid listing_id format")
	}

	ctx := c.Request.Context()
	booking, err := h.bookingService.CreateBooking(ctx, listingID, *authInfo.UserID, reqArgs.StartDate, reqArgs.EndDate)
	if err != nil {
		if errors.Is(err, services.ErrSelfBookingNotAllowed) {
			return nil, NewApiError("You cannot book your own listing")
		}
		if errors.Is(err, services.ErrValidation) {
			return nil, NewApiError(err.Error())
		}
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, NewApiError("Listing not found")
		}
		log.Printf("Error creating booking for user %s on listing %s: %v", userIDHex, reqArgs.ListingID, err)
		return nil, NewApiError("Failed to create booking")
	}

	// Notify the owner. Best effort; the booking stands regardless.
	h.notifyBookingParty(ctx, booking.OwnerID, booking,
		"New booking request",
		fmt.Sprintf("You have a new booking request (%s). Review it in your dashboard.", booking.ID.String()))

	log.Printf("Created booking %s for user %s on listing %s", booking.ID.String(), userIDHex, reqArgs.ListingID)
	return booking, nil
}

type UpdateBookingStatusArgs struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

func (h *JsonApiHandler) updateBookingStatus(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.UserID == nil {
		return nil, NewApiError("Authentication required")
	}

	var reqArgs UpdateBookingStatusArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	bookingID, err := utils.ParseSixID(reqArgs.BookingID)
	if err != nil {
		return nil, NewApiError("Invalid booking_id format")
	}

	ctx := c.Request.Context()
	booking, err := h.bookingService.UpdateBookingStatus(ctx, bookingID, *authInfo.UserID, models.BookingStatus(reqArgs.Status), reqArgs.Reason)
	if err != nil {
		if errors.Is(err, services.ErrIllegalTransition) {
			return nil, NewApiError(err.Error())
		}
		if errors.Is(err, services.ErrValidation) {
			return nil, NewApiError(err.Error())
		}
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, NewApiError("Booking not found")
		}
		log.Printf("Error updating booking %s status: %v", reqArgs.BookingID, err)
		return nil, NewApiError("Failed to update booking status")
	}

	// Notify the counterparty about the status change.
	counterparty := booking.RenterID
	if *authInfo.UserID == booking.RenterID {
		counterparty = booking.OwnerID
	}
	h.notifyBookingParty(ctx, counterparty, booking,
		fmt.Sprintf("Booking %s", booking.Status),
		fmt.Sprintf("Booking %s is now %s.", booking.ID.String(), booking.Status))

	return booking, nil
}

type AddBookingReviewArgs struct {
	BookingID string `json:"booking_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

func (h *JsonApiHandler) addBookingReview(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.UserID == nil {
		return nil, NewApiError("Authentication required")
	}

	var reqArgs AddBookingReviewArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	bookingID, err := utils.ParseSixID(reqArgs.BookingID)
	if err != nil {
		return nil, NewApiError("Invalid booking_id format")
	}

	ctx := c.Request.Context()
	booking, err := h.bookingService.AddReview(ctx, bookingID, *authInfo.UserID, reqArgs.Rating, reqArgs.Comment)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			return nil, NewApiError(err.Error())
		}
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, NewApiError("Booking not found")
		}
		log.Printf("Error adding review to booking %s: %v", reqArgs.BookingID, err)
		return nil, NewApiError("Failed to add review")
	}
	return booking, nil
}

type StartConversationArgs struct {
	UserID    string `json:"user_id"`
	BookingID string `json:"booking_id,omitempty"`
	ListingID string `json:"listing_id,omitempty"`
}

func (h *JsonApiHandler) startConversation(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.UserID == nil {
		return nil, NewApiError("Authentication required")
	}

	var reqArgs StartConversationArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	otherID, err := utils.ParseSixID(reqArgs.UserID)
	if err != nil {
		return nil, NewApiError("Invalid user_id format")
	}

	var bookingID *utils.SixID
	if reqArgs.BookingID != "" {
		parsed, err := utils.ParseSixID(reqArgs.BookingID)
		if err != nil {
			return nil, NewApiError("Invalid booking_id format")
		}
		bookingID = &parsed
	}

	var listingID *utils.SixID
	if reqArgs.ListingID != "" {
		parsed, err := utils.ParseSixID(reqArgs.ListingID)
		if err != nil {
			return nil, NewApiError("Invalid listing_id format")
		}
		listingID = &parsed
	}

	ctx := c.Request.Context()
	conv, err := h.chatService.StartConversation(ctx, *authInfo.UserID, otherID, bookingID, listingID)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			return nil, NewApiError(err.Error())
		}
		log.Printf("Error starting conversation for user %s: %v", authInfo.UserID.String(), err)
		return nil, NewApiError("Failed to start conversation")
	}
	return conv, nil
}

type SendMessageArgs struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

func (h *JsonApiHandler) sendMessage(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.UserID == nil {
		return nil, NewApiError("Authentication required")
	}

	var reqArgs SendMessageArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	conversationID, err := utils.ParseSixID(reqArgs.ConversationID)
	if err != nil {
		return nil, NewApiError("Invalid conversation_id format")
	}

	ctx := c.Request.Context()
	conv, err := h.chatService.FindConversationByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, NewApiError("Conversation not found")
		}
		log.Printf("DB error finding conversation %s: %v", reqArgs.ConversationID, err)
		return nil, NewApiError("Failed to retrieve conversation")
	}

	// The receiver is the other participant.
	var receiverID utils.SixID
	found := false
	for _, p := range conv.Participants {
		if p != *authInfo.UserID {
			receiverID = p
			found = true
			break
		}
	}
	if !found {
		return nil, NewApiError("You are not a participant in this conversation")
	}

	message, err := h.chatService.SendMessage(ctx, conversationID, *authInfo.UserID, receiverID, reqArgs.Text)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			return nil, NewApiError(err.Error())
		}
		log.Printf("Error sending message in conversation %s: %v", reqArgs.ConversationID, err)
		return nil, NewApiError("Failed to send message")
	}

	// Notify the receiver if they opted in.
	receiver, err := h.userService.FindByID(ctx, receiverID)
	if err == nil && receiver.NotificationPreferences != nil && receiver.NotificationPreferences.Messages {
		subject := "You have a new message"
		body := fmt.Sprintf("Hi %s,\n\nYou have a new message waiting for you.\n\nThanks,\n%s", receiver.Name, h.cfg.AppName)
		if emailTask, taskErr := tasks.NewEmailDeliveryTask(receiver.Email, subject, body); taskErr == nil {
			if _, enqueueErr := h.taskClient.EnqueueContext(ctx, emailTask); enqueueErr != nil {
				log.Printf("ERROR enqueuing message notification for user %s: %v", receiverID.String(), enqueueErr)
			}
		}
	}

	return message, nil
}

func (h *JsonApiHandler) markConversationRead(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || authInfo.UserID == nil {
		return nil, NewApiError("Authentication required")
	}

	var conversationIDHex string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &conversationIDHex); apiErr != nil {
		return nil, apiErr
	}
	conversationID, err := utils.ParseSixID(conversationIDHex)
	if err != nil {
		return nil, NewApiError("Invalid conversation_id format")
	}

	ctx := c.Request.Context()
	if err := h.chatService.MarkConversationAsRead(ctx, conversationID, *authInfo.UserID); err != nil {
		log.Printf("Error marking conversation %s read for user %s: %v", conversationIDHex, authInfo.UserID.String(), err)
		return nil, NewApiError("Failed to mark conversation read")
	}
	return true, nil
}

// notifyBookingParty enqueues a booking notification email if the recipient
// opted in. Failures are logged, never surfaced to the caller.
func (h *JsonApiHandler) notifyBookingParty(ctx context.Context, userID utils.SixID, booking *models.Booking, subject, body string) {
	user, err := h.userService.FindByID(ctx, userID)
	if err != nil {
		log.Printf("Error fetching user %s for booking notification: %v", userID.String(), err)
		return
	}
	if user.NotificationPreferences == nil || !user.NotificationPreferences.BookingUpdates {
		return
	}
	emailTask, err := tasks.NewEmailDeliveryTask(user.Email, subject, body)
	if err != nil {
		log.Printf("Error building booking notification for user %s: %v", userID.String(), err)
		return
	}
	if _, err := h.taskClient.EnqueueContext(ctx, emailTask); err != nil {
		log.Printf("ERROR enqueuing booking notification for user %s (booking %s): %v", userID.String(), booking.ID.String(), err)
	}
}

// parseRequiredSingleArgFromArray takes the raw JSON message for 'arguments',
// expects it to be a JSON array with at least one element,
// and unmarshals that first element into targetVarPtr.
func (h *JsonApiHandler) parseRequiredSingleArgFromArray(rawArgPayload json.RawMessage, targetVarPtr interface{}) *ApiError {
	var argArray []json.RawMessage
	if rawArgPayload == nil { // 'arguments' field was not provided
		return NewApiError("Missing 'arguments' field; expected a JSON array with one argument.")
	}

	if err := json.Unmarshal(rawArgPayload, &argArray); err != nil {
		// 'arguments' was present but wasn't a valid JSON array
		return NewApiError("Invalid 'arguments': expected a JSON array.")
	}

	if len(argArray) == 0 {
		// 'arguments' was '[]'
		return NewApiError("Invalid 'arguments': array is empty, but one argument is expected.")
	}

	actualArgData := argArray[0] // Get the first element
	if err := json.Unmarshal(actualArgData, targetVarPtr); err != nil {
		// The first element of the array was not of the expected type
		// Provide a more generic error as err.Error() might contain sensitive details or be too verbose for API response.
		return NewApiError("Invalid format for argument: the first element in 'arguments' array has unexpected structure.")
	}
	return nil
}
