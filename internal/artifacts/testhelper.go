package artifacts

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// TestClient creates a client backed by an in-memory gofakes3 server. Objects
// are publicly addressable under <server>/<bucket>/<key>. The server is closed
// when the test completes.
func TestClient(t testing.TB, bucketName string) *Client {
	t.Helper()
	s3Client, serverURL := testS3(t, bucketName)
	return NewFromS3Client(s3Client, bucketName, serverURL+"/"+bucketName)
}

// TestPrivateClient is TestClient without a public URL, so Put returns presigned links.
func TestPrivateClient(t testing.TB, bucketName string) *Client {
	t.Helper()
	s3Client, _ := testS3(t, bucketName)
	return NewFromS3Client(s3Client, bucketName, "")
}

func testS3(t testing.TB, bucketName string) (*s3.Client, string) {
	t.Helper()

	backend := s3mem.New()
	faker := gofakes3.New(backend)
	ts := httptest.NewServer(faker.Server())
	t.Cleanup(ts.Close)

	ctx := context.Background()
	sdkConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test-key", "test-secret", ""),
		),
	)
	if err != nil {
		t.Fatalf("failed to load AWS config: %v", err)
	}

	s3Client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(ts.URL)
		o.UsePathStyle = true
	})
	if _, err := s3Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)}); err != nil {
		t.Fatalf("failed to create test bucket: %v", err)
	}
	return s3Client, ts.URL
}
