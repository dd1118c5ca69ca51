package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"statflow/internal/domain"
)

var _ Object = (*GCSObject)(nil)

// GCSObject is an object in Google Cloud Storage.
type GCSObject struct {
	client *storage.Client
	bucket string
	key    string
}

// NewGCSObject creates a client authenticated with the service account key
// file, or with application default credentials when none is configured.
func NewGCSObject(ctx context.Context, bucket, key string, c Credentials) (*GCSObject, error) {
	var opts []option.ClientOption
	if c.GCSKeyFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, c.GCSKeyFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSObject{client: client, bucket: bucket, key: key}, nil
}

// URL implements Object.
func (o *GCSObject) URL() string { return "gs://" + o.bucket + "/" + o.key }

// Upload implements Object.
func (o *GCSObject) Upload(ctx context.Context, body io.ReadSeeker) error {
	w := o.client.Bucket(o.bucket).Object(o.key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", o.URL(), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write %s: %w", o.URL(), err)
	}
	return nil
}

// Download implements Object.
func (o *GCSObject) Download(ctx context.Context, w io.Writer) error {
	r, err := o.client.Bucket(o.bucket).Object(o.key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return domain.ErrNotFound("%s does not exist", o.URL())
		}
		return fmt.Errorf("open %s: %w", o.URL(), err)
	}
	defer func() { _ = r.Close() }()

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("read %s: %w", o.URL(), err)
	}
	return nil
}

// parseGCSPath extracts bucket and key from a "gs://bucket/path/to/file" URI.
func parseGCSPath(path string) (bucket, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("parse GCS path %q: %w", path, err)
	}
	if u.Scheme != "gs" {
		return "", "", fmt.Errorf("expected gs:// scheme, got %q in %q", u.Scheme, path)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("empty bucket in GCS path %q", path)
	}
	if key == "" {
		return "", "", fmt.Errorf("empty key in GCS path %q", path)
	}
	return bucket, key, nil
}
