package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"trustedshare/core/internal/api/handlers"
	"trustedshare/core/internal/api/middleware"
	"trustedshare/core/internal/cache"
	"trustedshare/core/internal/captcha"
	"trustedshare/core/internal/config"
	"trustedshare/core/internal/services"
	"trustedshare/core/internal/storage"
)

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, db *mongo.Database, rdb *redis.Client, taskClient handlers.IAsynqClient, configSvc services.IConfigService) *gin.Engine {
	// Initialize services needed by API handlers HERE
	sessionStore := cache.NewSessionStore(rdb, cfg.JwtTTL)
	userService := services.NewUserService(db, sessionStore, cfg)
	listingService := services.NewListingService(db, cfg)
	bookingService := services.NewBookingService(db, cfg, listingService)
	chatService := services.NewChatService(db, userService)
	verificationService := services.NewVerificationService(db)
	s3StorageService, err := storage.NewS3Storage(cfg)
	if err != nil {
		log.Fatalf("CRITICAL: Failed to initialize S3 storage for API: %v", err)
	}

	if err := chatService.EnsureIndexes(context.Background()); err != nil {
		log.Printf("Warning: failed to ensure chat indexes: %v", err)
	}

	// Initialize Captcha Verifier
	captchaVerifier := captcha.NewTurnstileVerifier(cfg)

	r := gin.Default()

	// Initialize Middleware
	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)

	// Apply global middleware first (order matters)
	r.Use(middleware.CORSMiddleware(cfg))
	r.Use(middleware.CaptchaMiddleware(cfg, captchaVerifier))
	r.Use(rateLimiter.Limit())

	// Initialize handlers
	jsonApiHandler := handlers.NewJsonApiHandler(
		cfg, db, rdb, taskClient, userService, listingService, bookingService, chatService, verificationService, s3StorageService)
	restConfigHandler := handlers.NewRestConfigHandler(configSvc)
	restListingHandler := handlers.NewRestListingHandler(listingService)
	restUserHandler := handlers.NewRestUserHandler(userService, listingService)
	restBookingHandler := handlers.NewRestBookingHandler(bookingService, listingService)
	restChatHandler := handlers.NewRestChatHandler(chatService)
	restQuoteHandler := handlers.NewRestQuoteHandler(configSvc)

	v1 := r.Group("/v1")
	{
		// Public Routes (Rate limiting already applied globally)
		v1.POST("/api", jsonApiHandler.HandleRequest)
		v1.GET("/config", restConfigHandler.GetPublicConfig)
		v1.GET("/quote", restQuoteHandler.GetQuote)

		// Listing routes - make them more specific to avoid conflicts
		v1.GET("/listing/search", restListingHandler.SearchListings)
		v1.GET("/listing/filter", restListingHandler.FilterListings)
		v1.GET("/listing/:id", restListingHandler.GetListingByID)

		// User routes
		v1.GET("/user/:id", restUserHandler.GetUserByID)
		v1.GET("/user/:id/listing", restListingHandler.GetUserListings)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Authenticated Routes (already have rate limiting from global middleware)
		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.GET("/booking", restBookingHandler.GetMyBookings)
			authRequired.GET("/booking/:id", restBookingHandler.GetBookingByID)
			authRequired.GET("/listing/:id/booking", restBookingHandler.GetListingBookings)
			authRequired.GET("/conversation", restChatHandler.GetMyConversations)
			authRequired.GET("/conversation/:id/message", restChatHandler.GetConversationMessages)
			authRequired.GET("/unread", restChatHandler.GetUnreadCount)
		}
	}

	return r
}

// SetupServiceRouter configures and returns the service Gin engine.
// Requires Redis client for the getTestEmail endpoint.
func SetupServiceRouter(cfg *config.Config, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			fmt.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
				fmt.Println("Shutdown signal sent successfully.")
			default:
				fmt.Println("Shutdown channel already signaled or blocked.")
			}
		case "getTestEmail":
			var args []string // Expect ["action_type", "email"]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 2 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [actionType, email]"})
				return
			}
			actionType := args[0]
			emailAddr := args[1]
			redisKey := fmt.Sprintf("mockemail:%s:%s", emailAddr, actionType)

			// Poll Redis briefly for the key
			var emailJsonData string
			var getErr error
			found := false
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			for i := 0; i < 10; i++ { // Poll up to ~2 seconds
				emailJsonData, getErr = rdb.Get(ctx, redisKey).Result()
				if getErr == nil {
					found = true
					rdb.Del(ctx, redisKey) // Delete after fetching
					break
				}
				if getErr != redis.Nil {
					log.Printf("Service API: Error getting key %s from Redis: %v", redisKey, getErr)
					c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
					return
				}
				// If redis.Nil, wait and retry
				time.Sleep(200 * time.Millisecond)
			}

			if !found {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found in Redis for key %s", redisKey)})
				return
			}

			var emailData map[string]interface{}
			if err := json.Unmarshal([]byte(emailJsonData), &emailData); err != nil {
				log.Printf("Service API: Error unmarshalling email data from key %s: %v", redisKey, err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
				return
			}

			c.JSON(http.StatusOK, gin.H{"success": true, "data": emailData})

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
