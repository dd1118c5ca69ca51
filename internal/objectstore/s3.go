package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"statflow/internal/domain"
)

var _ Object = (*S3Object)(nil)

// S3Object is an object in AWS S3 or an S3-compatible store (Hetzner, MinIO).
type S3Object struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Object creates a client with static credentials. A bare endpoint host
// is assumed to speak https.
func NewS3Object(bucket, key string, c Credentials) (*S3Object, error) {
	if c.S3KeyID == "" || c.S3Secret == "" {
		return nil, fmt.Errorf("s3 object %s/%s: access key id and secret are required", bucket, key)
	}
	region := c.S3Region
	if region == "" {
		region = "us-east-1"
	}

	opts := s3.Options{
		Region:                     region,
		Credentials:                credentials.NewStaticCredentialsProvider(c.S3KeyID, c.S3Secret, ""),
		UsePathStyle:               c.S3PathStyle,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	}
	if c.S3Endpoint != "" {
		endpoint := c.S3Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
	}

	return &S3Object{client: s3.New(opts), bucket: bucket, key: key}, nil
}

// URL implements Object.
func (o *S3Object) URL() string { return "s3://" + o.bucket + "/" + o.key }

// Upload implements Object.
func (o *S3Object) Upload(ctx context.Context, body io.ReadSeeker) error {
	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(o.key),
		Body:        body,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", o.URL(), err)
	}
	return nil
}

// Download implements Object.
func (o *S3Object) Download(ctx context.Context, w io.Writer) error {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return domain.ErrNotFound("%s does not exist", o.URL())
		}
		return fmt.Errorf("get %s: %w", o.URL(), err)
	}
	defer func() { _ = out.Body.Close() }()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("read %s: %w", o.URL(), err)
	}
	return nil
}

func isS3NotFound(err error) bool {
	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &noBucket) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

// ParseS3Path extracts bucket and key from an "s3://bucket/path/to/file" URI.
func ParseS3Path(s3Path string) (bucket, key string, err error) {
	u, err := url.Parse(s3Path)
	if err != nil {
		return "", "", fmt.Errorf("parse S3 path %q: %w", s3Path, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("expected s3:// scheme, got %q in %q", u.Scheme, s3Path)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("empty bucket in S3 path %q", s3Path)
	}
	if key == "" {
		return "", "", fmt.Errorf("empty key in S3 path %q", s3Path)
	}
	return bucket, key, nil
}
