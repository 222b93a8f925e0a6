package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/adforge/adforge/internal/config"
	"github.com/adforge/adforge/internal/model"
)

// S3Sink writes migration snapshots to an S3 (or S3-compatible) bucket.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Sink builds the sink from config. Returns an error when the AWS
// credential chain cannot be resolved.
func NewS3Sink(ctx context.Context, cfg *appconfig.Config) (*S3Sink, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.BackupRegion),
	}
	if cfg.BackupAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.BackupAccessKey, cfg.BackupSecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BackupEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BackupEndpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Sink{
		client: client,
		bucket: cfg.BackupBucket,
		prefix: cfg.BackupPrefix,
	}, nil
}

// Backup uploads the anonymous record as a JSON object keyed by user,
// session and timestamp, so repeated attempts never overwrite each other.
func (s *S3Sink) Backup(ctx context.Context, userID string, rec *model.AnonymousUsage) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal backup payload: %w", err)
	}

	key := fmt.Sprintf("%s/%s/%s-%d.json", s.prefix, userID, rec.SessionID, time.Now().UnixNano())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload backup %s: %w", key, err)
	}
	return nil
}

var _ Sink = (*S3Sink)(nil)
