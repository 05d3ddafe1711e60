// Package artifacts stores failure screenshots in S3-compatible object storage.
// For tests, use gofakes3 through TestClient.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kuitang/textile-e2e/internal/obs"
)

// ErrObjectNotFound is returned when a requested artifact does not exist.
var ErrObjectNotFound = errors.New("artifacts: object not found")

// DefaultPresignTTL is how long presigned links stay valid when no public URL is configured.
const DefaultPresignTTL = 7 * 24 * time.Hour

// Client uploads run artifacts to one bucket.
type Client struct {
	s3Client   *s3.Client
	bucketName string
	publicURL  string
	presignTTL time.Duration
}

// Config holds the configuration for creating a Client.
type Config struct {
	// Endpoint is the S3 endpoint URL. Leave empty to use AWS S3.
	Endpoint string
	// Region is the bucket region ("auto" for Tigris and R2).
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	// PublicURL is the base URL for publicly readable objects. When empty,
	// Put returns presigned GET links instead.
	PublicURL string
	// UsePathStyle enables path-style addressing (gofakes3, MinIO).
	UsePathStyle bool
	PresignTTL   time.Duration
}

// New creates a client from cfg.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BucketName) == "" {
		return nil, errors.New("artifacts: bucket name is required")
	}
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	c := NewFromS3Client(s3Client, cfg.BucketName, cfg.PublicURL)
	if cfg.PresignTTL > 0 {
		c.presignTTL = cfg.PresignTTL
	}
	return c, nil
}

// NewFromS3Client wraps an existing S3 client.
func NewFromS3Client(s3Client *s3.Client, bucketName, publicURL string) *Client {
	return &Client{
		s3Client:   s3Client,
		bucketName: bucketName,
		publicURL:  strings.TrimSuffix(strings.TrimSpace(publicURL), "/"),
		presignTTL: DefaultPresignTTL,
	}
}

// Put stores data under key and returns a URL a report reader can open.
func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	if c.publicURL != "" {
		input.ACL = types.ObjectCannedACLPublicRead
	}
	if _, err := c.s3Client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("artifacts: failed to put object %q: %w", key, err)
	}
	obs.Pkg("artifacts").Debug("artifact_put", "bucket", c.bucketName, "key", key, "bytes", len(data))

	if c.publicURL != "" {
		return c.PublicURL(key), nil
	}
	return c.PresignedURL(ctx, key)
}

// Get retrieves the object at key. Returns ErrObjectNotFound when missing.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(strings.TrimPrefix(key, "/")),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrObjectNotFound
		}
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("artifacts: failed to get object %q: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("artifacts: failed to read object body %q: %w", key, err)
	}
	return data, nil
}

// List returns the keys under prefix, in lexical order.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucketName),
		Prefix: aws.String(strings.TrimPrefix(prefix, "/")),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("artifacts: failed to list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// Delete removes the object at key. Deleting a missing key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(strings.TrimPrefix(key, "/")),
	})
	if err != nil {
		return fmt.Errorf("artifacts: failed to delete object %q: %w", key, err)
	}
	return nil
}

// PublicURL returns the public URL of key. It is only meaningful when a public URL is configured.
func (c *Client) PublicURL(key string) string {
	return c.publicURL + "/" + strings.TrimPrefix(key, "/")
}

// PresignedURL returns a time-limited GET link for key.
func (c *Client) PresignedURL(ctx context.Context, key string) (string, error) {
	req, err := s3.NewPresignClient(c.s3Client).PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(strings.TrimPrefix(key, "/")),
	}, s3.WithPresignExpires(c.presignTTL))
	if err != nil {
		return "", fmt.Errorf("artifacts: failed to presign %q: %w", key, err)
	}
	return req.URL, nil
}

// BucketName returns the configured bucket.
func (c *Client) BucketName() string {
	return c.bucketName
}
