// Package archive uploads export artifacts to an S3-compatible bucket
// (AWS, MinIO, R2, iDrive e2).
package archive

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"alert-trader/internal/config"
)

// Putter is the single S3 call the uploader needs.
type Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader writes local files under a dated prefix of one bucket.
type Uploader struct {
	client Putter
	bucket string
	prefix string
	logger zerolog.Logger
	now    func() time.Time
}

// New builds an Uploader from configuration using static credentials.
func New(ctx context.Context, cfg config.S3Config, logger zerolog.Logger) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("archive: region is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewWithClient wires an Uploader around an existing client.
func NewWithClient(client Putter, bucket, prefix string, logger zerolog.Logger) *Uploader {
	return &Uploader{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With().Str("component", "archive").Logger(),
		now:    time.Now,
	}
}

// Upload puts the file at localPath and returns its object key.
func (u *Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := u.objectKey(localPath)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(localPath)),
	})
	if err != nil {
		return "", fmt.Errorf("archive: put object %s: %w", key, err)
	}
	u.logger.Info().Str("bucket", u.bucket).Str("key", key).Msg("export archived")
	return key, nil
}

// objectKey is <prefix>/<yyyy>/<mm>/<dd>/<unix>-<file>.
func (u *Uploader) objectKey(localPath string) string {
	now := u.now().UTC()
	name := fmt.Sprintf("%d-%s", now.Unix(), filepath.Base(localPath))
	return path.Join(u.prefix, now.Format("2006/01/02"), name)
}

func contentType(p string) string {
	ext := strings.ToLower(filepath.Ext(p))
	switch ext {
	case ".csv":
		return "text/csv"
	case ".png":
		return "image/png"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// normaliseEndpoint adds a scheme when the endpoint is a bare host.
func normaliseEndpoint(endpoint string, useSSL bool) string {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" && parsed.Host != "" {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
