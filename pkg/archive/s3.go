package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nimdanitro/fenceline-dashboard/pkg/dashboard"
	"go.uber.org/zap"
)

// Uploader is the part of the S3 upload manager the archive needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Sink copies every snapshot to s3://Bucket/Prefix/<pathway>/<average>/<unix>.json.
type S3Sink struct {
	Bucket string
	Prefix string
	Up     Uploader
	Log    *zap.Logger
}

// NewS3Sink builds a sink from the default AWS credential chain.
func NewS3Sink(ctx context.Context, bucket, prefix, region string, log *zap.Logger) (*S3Sink, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Sink{
		Bucket: bucket,
		Prefix: prefix,
		Up:     manager.NewUploader(client),
		Log:    log,
	}, nil
}

// Key is the object key a snapshot is stored under.
func (s *S3Sink) Key(snap dashboard.Snapshot) string {
	return path.Join(s.Prefix, snap.Pathway, snap.Average, strconv.FormatInt(snap.TakenAt.Unix(), 10)+".json")
}

// Record implements dashboard.SnapshotSink.
func (s *S3Sink) Record(ctx context.Context, snap dashboard.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	key := s.Key(snap)
	_, err = s.Up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	if s.Log != nil {
		s.Log.Debug("snapshot archived", zap.String("bucket", s.Bucket), zap.String("key", key))
	}
	return nil
}
