package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"trustedshare/core/internal/auth"
	"trustedshare/core/internal/cache"
	"trustedshare/core/internal/config"
	"trustedshare/core/internal/db"
	"trustedshare/core/internal/models"
	"trustedshare/core/internal/utils"
)

// ProfileUpdate carries the allow-listed fields of an updateProfile call.
// Nil pointers mean "leave unchanged".
type ProfileUpdate struct {
	Name                    *string                         `json:"name,omitempty"`
	Avatar                  *string                         `json:"avatar,omitempty"`
	Bio                     *string                         `json:"bio,omitempty"`
	Phone                   *string                         `json:"phone,omitempty"`
	NotificationPreferences *models.NotificationPreferences `json:"notification_preferences,omitempty"`
}

// IUserService defines the interface for user-related operations.
// This allows for easier mocking in tests.
type IUserService interface {
	Signup(ctx context.Context, name, email, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.User, error)
	Logout(ctx context.Context, userID utils.SixID) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, userID utils.SixID) (*models.User, error)
	UpdateProfile(ctx context.Context, userID utils.SixID, update ProfileUpdate) (*models.User, error)
	MarkVerificationPending(ctx context.Context, userID utils.SixID) error
	ApplyVerificationResult(ctx context.Context, userID utils.SixID, completionBonus int) (*models.User, error)
	DeleteUserAndListings(ctx context.Context, userID utils.SixID) error
}

const usersCollection = "users"

// userService implements IUserService.
type userService struct {
	db       *mongo.Database
	sessions *cache.SessionStore
	cfg      *config.Config
}

// NewUserService creates a new UserService. The session store may be nil,
// in which case snapshot mirroring is skipped (used by tests).
func NewUserService(db *mongo.Database, sessions *cache.SessionStore, cfg *config.Config) IUserService {
	return &userService{db: db, sessions: sessions, cfg: cfg}
}

// mirrorSession refreshes the Redis session snapshot for a user. Mirroring is
// best-effort: the Mongo write has already succeeded, so a failure here is
// logged rather than surfaced.
func (s *userService) mirrorSession(ctx context.Context, user *models.User) {
	if s.sessions == nil || user == nil {
		return
	}
	if err := s.sessions.Put(ctx, user.ID.String(), user); err != nil {
		log.Printf("WARN: failed to mirror session snapshot for user %s: %v", user.ID.String(), err)
	}
}

// Signup creates a new user with a bcrypt-hashed password. New users start at
// the basic verification tier with the configured completion seed.
func (s *userService) Signup(ctx context.Context, name, email, password string) (*models.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if name == "" || email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: name and a valid email are required", ErrValidation)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrValidation)
	}

	collection := s.db.Collection(usersCollection)

	// Ensure email uniqueness among non-deleted users before inserting.
	count, err := collection.CountDocuments(ctx, bson.M{"email": email, "deleted": false})
	if err != nil {
		return nil, fmt.Errorf("error checking email uniqueness for %s: %w", email, err)
	}
	if count > 0 {
		return nil, ErrEmailExists
	}

	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password for %s: %w", email, err)
	}

	now := time.Now().UTC()
	var newUser *models.User

	operation := func() error {
		newUser = &models.User{
			Base:                    models.Base{ID: utils.NewSixID()}, // ID generated on each attempt
			Name:                    name,
			Email:                   email,
			PasswordHash:            hashedPassword,
			VerificationStatus:      models.VerificationStatusBasic,
			CompletionPercentage:    s.cfg.SignupCompletionSeed,
			IsAdmin:                 false,
			Deleted:                 false,
			CreatedAt:               now,
			UpdatedAt:               now,
			NotificationPreferences: models.DefaultNotificationPreferences(),
		}
		_, insertErr := collection.InsertOne(ctx, newUser)
		return insertErr
	}

	err = db.Try(operation)

	if err != nil {
		if mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), "email_1") {
			return nil, ErrEmailExists
		}
		userIDStr := "<unknown>"
		if newUser != nil {
			userIDStr = newUser.ID.String()
		}
		return nil, fmt.Errorf("error inserting new user for %s (last attempted user ID: %s) after multiple retries: %w",
			email, userIDStr, err)
	}

	s.mirrorSession(ctx, newUser)
	return newUser, nil
}

// Login checks the user's credentials.
// Returns mongo.ErrNoDocuments if no user has that email, and
// ErrNotAuthenticated if the password does not match.
func (s *userService) Login(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrNotAuthenticated
	}
	s.mirrorSession(ctx, user)
	return user, nil
}

// Logout drops the user's session snapshot. The user record persists.
func (s *userService) Logout(ctx context.Context, userID utils.SixID) error {
	if s.sessions == nil {
		return nil
	}
	return s.sessions.Drop(ctx, userID.String())
}

// FindByEmail finds a non-deleted user by their email address.
// Returns nil and mongo.ErrNoDocuments if not found.
func (s *userService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	collection := s.db.Collection(usersCollection)
	filter := bson.M{"email": email, "deleted": false}

	err := collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by email %s: %w", email, err)
	}
	return &user, nil
}

// FindByID finds a non-deleted user by their ID.
func (s *userService) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	var user models.User
	collection := s.db.Collection(usersCollection)
	filter := bson.M{"_id": userID, "deleted": false}

	err := collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by ID %s: %w", userID.String(), err)
	}
	return &user, nil
}

// UpdateProfile merges the allow-listed fields into the user record and
// returns the updated user.
func (s *userService) UpdateProfile(ctx context.Context, userID utils.SixID, update ProfileUpdate) (*models.User, error) {
	set := bson.M{"updated_at": time.Now().UTC()}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrValidation)
		}
		set["name"] = name
	}
	if update.Avatar != nil {
		set["avatar"] = *update.Avatar
	}
	if update.Bio != nil {
		set["bio"] = *update.Bio
	}
	if update.Phone != nil {
		set["phone"] = *update.Phone
	}
	if update.NotificationPreferences != nil {
		set["notification_preferences"] = update.NotificationPreferences
	}

	collection := s.db.Collection(usersCollection)
	result, err := collection.UpdateOne(ctx, bson.M{"_id": userID, "deleted": false}, bson.M{"$set": set})
	if err != nil {
		return nil, fmt.Errorf("error updating profile for user %s: %w", userID.String(), err)
	}
	if result.MatchedCount == 0 {
		return nil, mongo.ErrNoDocuments
	}

	user, err := s.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.mirrorSession(ctx, user)
	return user, nil
}

// MarkVerificationPending moves the user to the pending verification tier.
func (s *userService) MarkVerificationPending(ctx context.Context, userID utils.SixID) error {
	collection := s.db.Collection(usersCollection)
	update := bson.M{"$set": bson.M{
		"verification_status": models.VerificationStatusPending,
		"updated_at":          time.Now().UTC(),
	}}
	result, err := collection.UpdateOne(ctx, bson.M{"_id": userID, "deleted": false}, update)
	if err != nil {
		return fmt.Errorf("error marking verification pending for user %s: %w", userID.String(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}

	if user, findErr := s.FindByID(ctx, userID); findErr == nil {
		s.mirrorSession(ctx, user)
	}
	return nil
}

// ApplyVerificationResult moves the user to the verified tier and adds the
// completion bonus, capped at 100. Returns the updated user.
func (s *userService) ApplyVerificationResult(ctx context.Context, userID utils.SixID, completionBonus int) (*models.User, error) {
	user, err := s.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	completion := user.CompletionPercentage + completionBonus
	if completion > 100 {
		completion = 100
	}

	collection := s.db.Collection(usersCollection)
	update := bson.M{"$set": bson.M{
		"verification_status":   models.VerificationStatusVerified,
		"completion_percentage": completion,
		"updated_at":            time.Now().UTC(),
	}}
	result, err := collection.UpdateOne(ctx, bson.M{"_id": userID, "deleted": false}, update)
	if err != nil {
		return nil, fmt.Errorf("error applying verification result for user %s: %w", userID.String(), err)
	}
	if result.MatchedCount == 0 {
		return nil, mongo.ErrNoDocuments
	}

	user.VerificationStatus = models.VerificationStatusVerified
	user.CompletionPercentage = completion
	s.mirrorSession(ctx, user)
	log.Printf("User %s verified, completion now %d%%", userID.String(), completion)
	return user, nil
}

// DeleteUserAndListings performs a soft delete on a user and all their listings.
func (s *userService) DeleteUserAndListings(ctx context.Context, userID utils.SixID) error {
	collection := s.db.Collection(usersCollection)
	now := time.Now().UTC()

	// Update user document
	filter := bson.M{"_id": userID}
	update := bson.M{
		"$set": bson.M{
			"deleted":    true,
			"deleted_at": now,
			"updated_at": now,
		},
	}

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error deleting user %s: %w", userID.String(), err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("user %s not found", userID.String())
	}

	// Update all user's listings
	listings := s.db.Collection(listingsCollection)
	listingFilter := bson.M{
		"owner_id": userID,
		"deleted":  false,
	}
	listingUpdate := bson.M{
		"$set": bson.M{
			"deleted":    true,
			"deleted_at": now,
			"updated_at": now,
		},
	}

	_, err = listings.UpdateMany(ctx, listingFilter, listingUpdate)
	if err != nil {
		return fmt.Errorf("db error deleting listings for user %s: %w", userID.String(), err)
	}

	if s.sessions != nil {
		if dropErr := s.sessions.Drop(ctx, userID.String()); dropErr != nil {
			log.Printf("WARN: failed to drop session snapshot for deleted user %s: %v", userID.String(), dropErr)
		}
	}

	return nil
}
