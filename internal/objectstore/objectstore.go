// Package objectstore copies single files to and from S3-compatible, Google
// Cloud Storage and Azure Blob Storage objects.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
)

// Object is one addressable object in a bucket or container.
type Object interface {
	// Upload replaces the object with the contents of body.
	Upload(ctx context.Context, body io.ReadSeeker) error
	// Download copies the object into w. A missing object (or bucket) is a
	// *domain.NotFoundError.
	Download(ctx context.Context, w io.Writer) error
	// URL is the canonical location, e.g. s3://bucket/key.
	URL() string
}

// Credentials holds what each backend needs. Only the fields of the backend
// selected by the object URL are read.
type Credentials struct {
	S3Endpoint  string // host or URL of an S3-compatible endpoint; empty means AWS
	S3Region    string
	S3KeyID     string
	S3Secret    string
	S3PathStyle bool

	GCSKeyFile string // service account JSON; empty means application default credentials

	AzureAccount    string // required for az:// URLs
	AzureAccountKey string
	// AzureServiceURL overrides https://{account}.blob.core.windows.net.
	AzureServiceURL string
}

// Open returns the object named by rawURL. Supported schemes: s3, gs, az,
// abfss and https URLs on *.blob.core.windows.net.
func Open(ctx context.Context, rawURL string, creds Credentials) (Object, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse object url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "s3":
		bucket, key, err := ParseS3Path(rawURL)
		if err != nil {
			return nil, err
		}
		return NewS3Object(bucket, key, creds)
	case "gs":
		bucket, key, err := parseGCSPath(rawURL)
		if err != nil {
			return nil, err
		}
		return NewGCSObject(ctx, bucket, key, creds)
	case "az", "abfss", "https":
		loc, err := parseAzurePath(rawURL)
		if err != nil {
			return nil, err
		}
		return NewAzureObject(loc, creds)
	default:
		return nil, fmt.Errorf("unsupported object url scheme %q in %q", u.Scheme, rawURL)
	}
}
