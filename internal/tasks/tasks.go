package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"trustedshare/core/internal/config"
	"trustedshare/core/internal/email"
	"trustedshare/core/internal/services"
	"trustedshare/core/internal/storage"
	"trustedshare/core/internal/utils"
)

// TaskType defines the type of a background task.
const (
	TypeEmailDelivery       = "email:deliver"
	TypeImageProcess        = "image:process"
	TypeVerificationProcess = "verification:process"
)

// --- Task Client (Enqueuing tasks) ---

func NewClient(rdb *redis.Client) *asynq.Client {
	clientOpt := asynq.RedisClientOpt{
		Addr: rdb.Options().Addr,
	}
	return asynq.NewClient(clientOpt)
}

// EmailTaskPayload carries a fully composed notification email.
type EmailTaskPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func NewEmailDeliveryTask(to, subject, body string) (*asynq.Task, error) {
	payload, err := json.Marshal(EmailTaskPayload{To: to, Subject: subject, Body: body})
	if err != nil {
		return nil, fmt.Errorf("error marshaling email task payload: %w", err)
	}
	return asynq.NewTask(TypeEmailDelivery, payload), nil
}

// ImageTaskPayload identifies an uploaded image awaiting normalization.
type ImageTaskPayload struct {
	S3Key     string `json:"s3_key"`
	ListingID string `json:"listing_id"`
}

func NewImageProcessTask(s3Key string, listingID utils.SixID) (*asynq.Task, error) {
	payload, err := json.Marshal(ImageTaskPayload{S3Key: s3Key, ListingID: listingID.String()})
	if err != nil {
		return nil, fmt.Errorf("error marshaling image task payload: %w", err)
	}
	return asynq.NewTask(TypeImageProcess, payload, asynq.Queue("images")), nil
}

// VerificationTaskPayload identifies a pending identity verification.
type VerificationTaskPayload struct {
	VerificationID string `json:"verification_id"`
	UserID         string `json:"user_id"`
}

func NewVerificationProcessTask(verificationID, userID utils.SixID, delay time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(VerificationTaskPayload{
		VerificationID: verificationID.String(),
		UserID:         userID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling verification task payload: %w", err)
	}
	return asynq.NewTask(TypeVerificationProcess, payload, asynq.ProcessIn(delay)), nil
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg                 *config.Config
	emailSender         email.Sender
	storageService      storage.IS3Storage
	listingService      services.IListingService
	userService         services.IUserService
	verificationService services.IVerificationService
	configService       services.IConfigService
	s3Client            *s3.Client
	taskClient          *asynq.Client
}

func NewTaskProcessor(
	cfg *config.Config,
	emailSender email.Sender,
	storageService storage.IS3Storage,
	listingService services.IListingService,
	userService services.IUserService,
	verificationService services.IVerificationService,
	configService services.IConfigService,
	s3Client *s3.Client,
	taskClient *asynq.Client,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:                 cfg,
		emailSender:         emailSender,
		storageService:      storageService,
		listingService:      listingService,
		userService:         userService,
		verificationService: verificationService,
		configService:       configService,
		s3Client:            s3Client,
		taskClient:          taskClient,
	}
}

// SetupServer configures an Asynq server and registers handlers for the
// requested worker modes. The caller is responsible for running it.
func SetupServer(rdb *redis.Client, processor *TaskProcessor, isImageWorker bool, isBgWorker bool) (*asynq.Server, *asynq.ServeMux) {
	serverOpt := asynq.RedisClientOpt{
		Addr: rdb.Options().Addr,
	}

	srv := asynq.NewServer(
		serverOpt,
		asynq.Config{
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
				"images":   5,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				fmt.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v\n", task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	if isBgWorker {
		mux.HandleFunc(TypeEmailDelivery, processor.HandleEmailDeliveryTask)
		mux.HandleFunc(TypeVerificationProcess, processor.HandleVerificationProcessTask)
		fmt.Println("Registered background task handlers (email & verification).")
	}

	if isImageWorker {
		mux.HandleFunc(TypeImageProcess, processor.HandleImageProcessTask)
		fmt.Println("Registered image processing task handlers.")
	}

	if !isBgWorker && !isImageWorker {
		fmt.Println("Running in API mode, no task server started.")
		return nil, nil
	}

	return srv, mux
}

// --- Task Handlers ---

func (p *TaskProcessor) HandleEmailDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload EmailTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal email task payload: %v: %w", err, asynq.SkipRetry)
	}

	fmt.Printf("Sending email task: To=%s, Subject=%s\n", payload.To, payload.Subject)

	fromAddress := p.cfg.SmtpFromAddress
	if fromAddress == "" {
		fromAddress = "noreply@example.com"
		log.Printf("Warning: SmtpFromAddress not configured, using fallback %s for email to %s", fromAddress, payload.To)
	}

	// Basic email structure with essential headers.
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("To: %s\r\n", payload.To))
	sb.WriteString(fmt.Sprintf("From: %s\r\n", fromAddress))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", payload.Subject))
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(payload.Body)
	sb.WriteString("\r\n")

	rawMessage := []byte(sb.String())

	err := p.emailSender.Send(ctx, []string{payload.To}, payload.Subject, rawMessage)
	if err != nil {
		fmt.Printf("Email sending failed (will retry?): %v\n", err)
		return err
	}

	fmt.Printf("Email task processed successfully: To=%s\n", payload.To)
	return nil
}

func (p *TaskProcessor) HandleImageProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal image task payload: %v: %w", err, asynq.SkipRetry)
	}

	listingID, err := utils.ParseSixID(payload.ListingID)
	if err != nil {
		log.Printf("Invalid ListingID in image task payload: %s", payload.ListingID)
		return fmt.Errorf("invalid listing ID in payload: %w", asynq.SkipRetry)
	}

	log.Printf("Processing image task: S3Key=%s, ListingID=%s\n", payload.S3Key, payload.ListingID)

	// 1. Download image from S3
	getObjectOutput, err := p.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.AwsS3Bucket),
		Key:    aws.String(payload.S3Key),
	})
	if err != nil {
		log.Printf("Error getting object %s from S3: %v", payload.S3Key, err)
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			log.Printf("S3 object %s not found, likely upload failed or key incorrect.", payload.S3Key)
			return fmt.Errorf("s3 object not found: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("failed to download image from S3: %w", err)
	}
	defer getObjectOutput.Body.Close()

	imgData, err := io.ReadAll(getObjectOutput.Body)
	if err != nil {
		log.Printf("Error reading image object body for key %s: %v", payload.S3Key, err)
		return fmt.Errorf("failed to read image data: %w", err)
	}

	// Check initial size before decoding (more efficient)
	maxSizeBytes := int64(p.cfg.ImageMaxSizeMB) * 1024 * 1024
	if int64(len(imgData)) > maxSizeBytes {
		log.Printf("Image %s exceeds max size (%d > %d bytes). Skipping.", payload.S3Key, len(imgData), maxSizeBytes)
		return fmt.Errorf("image exceeds max size: %w", asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		log.Printf("Error decoding image for key %s: %v", payload.S3Key, err)
		return fmt.Errorf("unsupported image format or corrupt image: %w", asynq.SkipRetry)
	}
	log.Printf("Decoded image %s, format: %s, size: %dx%d", payload.S3Key, format, img.Bounds().Dx(), img.Bounds().Dy())

	// 2. Check dimensions
	maxWidth := uint(p.cfg.ImageMaxDimension)
	maxHeight := uint(p.cfg.ImageMaxDimension)
	needsResize := uint(img.Bounds().Dx()) > maxWidth || uint(img.Bounds().Dy()) > maxHeight

	processedImageKey := payload.S3Key
	var processedImageData []byte
	contentType := *getObjectOutput.ContentType

	// 3. Resize if needed
	if needsResize {
		log.Printf("Resizing image %s (original: %dx%d, max: %dx%d)", payload.S3Key, img.Bounds().Dx(), img.Bounds().Dy(), maxWidth, maxHeight)
		resizedImg := resize.Thumbnail(maxWidth, maxHeight, img, resize.Lanczos3)
		var buf bytes.Buffer
		err = jpeg.Encode(&buf, resizedImg, &jpeg.Options{Quality: 85})
		if err != nil {
			log.Printf("Error encoding resized image %s: %v", payload.S3Key, err)
			return fmt.Errorf("failed to re-encode resized image: %w", err)
		}
		processedImageData = buf.Bytes()
		contentType = "image/jpeg"
		log.Printf("Resized image %s to %dx%d", payload.S3Key, resizedImg.Bounds().Dx(), resizedImg.Bounds().Dy())

		if int64(len(processedImageData)) > maxSizeBytes {
			log.Printf("Resized image %s still exceeds max size (%d > %d bytes). Skipping.", payload.S3Key, len(processedImageData), maxSizeBytes)
			return fmt.Errorf("resized image still exceeds max size: %w", asynq.SkipRetry)
		}

	} else {
		processedImageData = imgData
	}

	// 4. Upload processed image (overwrite original)
	_, err = p.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.AwsS3Bucket),
		Key:         aws.String(processedImageKey),
		Body:        bytes.NewReader(processedImageData),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		log.Printf("Error uploading processed image %s to S3: %v", processedImageKey, err)
		return fmt.Errorf("failed to upload processed image: %w", err)
	}

	// 5. Update Listing document
	err = p.listingService.AddImageToListing(ctx, listingID, processedImageKey)
	if err != nil {
		log.Printf("Error adding image key %s to listing %s: %v", processedImageKey, payload.ListingID, err)
		return fmt.Errorf("failed to update listing with processed image: %w", err)
	}

	log.Printf("Image task processed successfully: Key=%s, ListingID=%s", processedImageKey, payload.ListingID)
	return nil
}

// HandleVerificationProcessTask completes a pending identity verification and
// upgrades the user's trust tier.
func (p *TaskProcessor) HandleVerificationProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload VerificationTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal verification task payload: %v: %w", err, asynq.SkipRetry)
	}

	verificationID, err := utils.ParseSixID(payload.VerificationID)
	if err != nil {
		log.Printf("Invalid VerificationID in task payload: %s", payload.VerificationID)
		return fmt.Errorf("invalid verification ID in payload: %w", asynq.SkipRetry)
	}
	userID, err := utils.ParseSixID(payload.UserID)
	if err != nil {
		log.Printf("Invalid UserID in verification task payload: %s", payload.UserID)
		return fmt.Errorf("invalid user ID in payload: %w", asynq.SkipRetry)
	}

	log.Printf("Processing verification %s for user %s", payload.VerificationID, payload.UserID)

	// The user may have deleted their account while the verification was queued.
	user, err := p.userService.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			log.Printf("User %s no longer exists. Dropping verification %s.", payload.UserID, payload.VerificationID)
			return nil
		}
		return fmt.Errorf("failed to fetch user %s for verification: %w", payload.UserID, err)
	}

	if err := p.verificationService.CompleteVerification(ctx, verificationID); err != nil {
		log.Printf("Error completing verification %s: %v", payload.VerificationID, err)
		if strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("verification not found: %w", asynq.SkipRetry)
		}
		return err
	}

	bonus := p.configService.GetInt(ctx, "VERIFICATION_COMPLETION_BONUS", p.cfg.VerificationCompletionBonus)
	if _, err := p.userService.ApplyVerificationResult(ctx, userID, bonus); err != nil {
		return fmt.Errorf("failed to apply verification result for user %s: %w", payload.UserID, err)
	}

	// Notify the user. Failure here must not fail the verification itself.
	subject := "Your identity verification is complete"
	body := fmt.Sprintf("Hi %s,\n\nYour identity verification has been approved. Your account now shows the verified badge.\n\nThanks,\n%s", user.Name, p.cfg.AppName)
	emailTask, err := NewEmailDeliveryTask(user.Email, subject, body)
	if err != nil {
		log.Printf("Error building verification email task for user %s: %v", payload.UserID, err)
		return nil
	}
	if p.taskClient != nil {
		if _, err := p.taskClient.EnqueueContext(ctx, emailTask); err != nil {
			log.Printf("Warning: failed to enqueue verification approval email for user %s: %v", payload.UserID, err)
		}
	}

	log.Printf("Verification %s processed successfully for user %s", payload.VerificationID, payload.UserID)
	return nil
}
