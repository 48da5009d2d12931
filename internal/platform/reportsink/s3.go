package reportsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/incrementalload"
)

const (
	contentTypeJSON = "application/json"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// S3Config locates the report archive.
type S3Config struct {
	Bucket string
	Region string
	// Endpoint overrides the AWS endpoint, e.g. for MinIO.
	Endpoint  string
	PathStyle bool
	// Prefix is prepended to every object key.
	Prefix string
}

// S3Sink archives run reports to an S3-compatible bucket.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Sink builds a sink from the default AWS credential chain. Extra
// optFns are applied to the S3 client after the config-derived options.
func NewS3Sink(ctx context.Context, cfg S3Config, optFns ...func(*s3.Options)) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newS3Sink(awsCfg, cfg, optFns...), nil
}

func newS3Sink(awsCfg aws.Config, cfg S3Config, optFns ...func(*s3.Options)) *S3Sink {
	opts := append([]func(*s3.Options){func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}}, optFns...)
	return &S3Sink{
		client: s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}
}

// Key returns the object key for a report without extension:
// <prefix>/<YYYY-MM-DD>/<run id>.
func (s *S3Sink) Key(r *incrementalload.Report) string {
	return path.Join(s.prefix, r.StartedAt.UTC().Format("2006-01-02"), r.RunID.String())
}

// Store uploads the report as JSON and returns the object key.
func (s *S3Sink) Store(ctx context.Context, r *incrementalload.Report) (string, error) {
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	key := s.Key(r) + ".json"
	return key, s.put(ctx, key, contentTypeJSON, body, r)
}

// StoreWorkbook uploads the report as XLSX and returns the object key.
func (s *S3Sink) StoreWorkbook(ctx context.Context, r *incrementalload.Report) (string, error) {
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, r); err != nil {
		return "", err
	}
	key := s.Key(r) + ".xlsx"
	return key, s.put(ctx, key, contentTypeXLSX, buf.Bytes(), r)
}

func (s *S3Sink) put(ctx context.Context, key, contentType string, body []byte, r *incrementalload.Report) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"run-id":    r.RunID.String(),
			"succeeded": fmt.Sprint(r.Succeeded()),
			"failed":    fmt.Sprint(r.Failed()),
		},
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
