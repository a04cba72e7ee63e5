package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"qrlabel-backend/internal/config"
	"qrlabel-backend/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	tokenLength = 6
	// No 0/O/1/I: the code is embossed on the physical label and must
	// survive being read aloud over the phone.
	tokenChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	qrImageSize = 512
)

// ProvisionStore is the persistence surface for minting wristbands
type ProvisionStore interface {
	CreateAvailable(ctx context.Context, wb *models.Wristband) error
	TokenExists(ctx context.Context, tokenText string) (bool, error)
}

// LabelUploader stores a rendered QR label image
type LabelUploader interface {
	Upload(ctx context.Context, key string, png []byte) error
}

// S3LabelUploader uploads QR label PNGs to an S3 bucket
type S3LabelUploader struct {
	client *s3.Client
	bucket string
}

// NewS3LabelUploader creates an S3-backed label uploader
func NewS3LabelUploader(cfg config.AWSConfig) (*S3LabelUploader, error) {
	awscfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awscfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3LabelUploader{client: client, bucket: cfg.S3Bucket}, nil
}

// Upload stores one label PNG
func (u *S3LabelUploader) Upload(ctx context.Context, key string, png []byte) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(png),
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload label: %w", err)
	}
	return nil
}

// ProvisionService mints batches of available wristbands and renders their
// QR labels.
type ProvisionService struct {
	bands    ProvisionStore
	uploader LabelUploader
	baseURL  string
	now      func() time.Time
}

// NewProvisionService creates a new provision service. A nil uploader skips
// label uploads (codes are still minted).
func NewProvisionService(bands ProvisionStore, uploader LabelUploader, baseURL string) *ProvisionService {
	return &ProvisionService{
		bands:    bands,
		uploader: uploader,
		baseURL:  baseURL,
		now:      time.Now,
	}
}

// ProvisionedWristband describes one minted wristband
type ProvisionedWristband struct {
	ID        string `json:"id"`
	TokenText string `json:"token_text"`
	URL       string `json:"url"`
	LabelKey  string `json:"label_key,omitempty"`
}

// Provision mints count wristbands in available state, each with a unique
// token and a QR label pointing at the public token page.
func (s *ProvisionService) Provision(ctx context.Context, count int) ([]ProvisionedWristband, error) {
	if count < 1 || count > 500 {
		return nil, fmt.Errorf("count must be between 1 and 500")
	}

	minted := make([]ProvisionedWristband, 0, count)
	for i := 0; i < count; i++ {
		tokenText, err := s.generateUniqueToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}

		wb := &models.Wristband{
			ID:        uuid.New().String(),
			TokenText: tokenText,
			Status:    models.StatusAvailable,
			Timezone:  models.DefaultTimezone,
			CreatedAt: s.now(),
		}
		if err := s.bands.CreateAvailable(ctx, wb); err != nil {
			return nil, fmt.Errorf("failed to create wristband: %w", err)
		}

		item := ProvisionedWristband{
			ID:        wb.ID,
			TokenText: tokenText,
			URL:       fmt.Sprintf("%s/t/%s", s.baseURL, tokenText),
		}

		if s.uploader != nil {
			png, err := qrcode.Encode(item.URL, qrcode.Medium, qrImageSize)
			if err != nil {
				return nil, fmt.Errorf("failed to render QR label: %w", err)
			}
			key := fmt.Sprintf("labels/%s.png", tokenText)
			if err := s.uploader.Upload(ctx, key, png); err != nil {
				return nil, fmt.Errorf("failed to upload QR label: %w", err)
			}
			item.LabelKey = key
		}

		minted = append(minted, item)
	}

	log.Info().Int("count", len(minted)).Msg("Wristbands provisioned")
	return minted, nil
}

// generateUniqueToken mints a token not yet assigned to any wristband
func (s *ProvisionService) generateUniqueToken(ctx context.Context) (string, error) {
	maxAttempts := 10
	for i := 0; i < maxAttempts; i++ {
		tokenText := generateToken()
		exists, err := s.bands.TokenExists(ctx, tokenText)
		if err != nil {
			return "", fmt.Errorf("failed to check token existence: %w", err)
		}
		if !exists {
			return tokenText, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique token after %d attempts", maxAttempts)
}

// generateToken generates a random token over the label charset
func generateToken() string {
	code := make([]byte, tokenLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(tokenChars))))
		code[i] = tokenChars[n.Int64()]
	}
	return string(code)
}
