package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
)

// Archiver stores verified webhook payloads in an S3 bucket for audit and
// replay. All uploads are best-effort: failures are logged and never block
// webhook processing.
type Archiver struct {
	s3Client *s3.Client
	config   *Config
}

// NewArchiver creates an archiver from the given configuration
func NewArchiver(cfg *Config) (*Archiver, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("webhook archive is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// S3-compatible services (like Backblaze B2) need path-style URLs
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	archiver := &Archiver{
		s3Client: s3Client,
		config:   cfg,
	}

	if err := archiver.testConnection(); err != nil {
		return nil, fmt.Errorf("failed to connect to S3: %w", err)
	}

	log.Infof("[Archive] Successfully initialized S3 client for bucket: %s", cfg.BucketName)
	return archiver, nil
}

// testConnection checks that the configured bucket is reachable
func (a *Archiver) testConnection() error {
	_, err := a.s3Client.HeadBucket(context.Background(), &s3.HeadBucketInput{
		Bucket: aws.String(a.config.BucketName),
	})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", a.config.BucketName, err)
	}
	return nil
}

// StorePayload uploads one verified webhook payload. Returns the object key.
func (a *Archiver) StorePayload(ctx context.Context, provider, eventID string, body []byte) (string, error) {
	objectKey := a.config.GetObjectKey(provider, eventID, time.Now().UTC())

	_, err := a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.config.BucketName),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			"provider": provider,
			"event-id": eventID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload webhook payload %s: %w", objectKey, err)
	}

	log.Infof("[Archive] Stored webhook payload s3://%s/%s (%d bytes)", a.config.BucketName, objectKey, len(body))
	return objectKey, nil
}

// SetupArchiver loads config and builds the archiver, returning nil when the
// feature is disabled or misconfigured. The service runs fine without it.
func SetupArchiver() *Archiver {
	cfg, err := LoadConfig()
	if err != nil {
		log.Warnf("[Archive] Disabled, invalid configuration: %v", err)
		return nil
	}
	if !cfg.IsEnabled() {
		return nil
	}
	archiver, err := NewArchiver(cfg)
	if err != nil {
		log.Warnf("[Archive] Disabled, setup failed: %v", err)
		return nil
	}
	return archiver
}
