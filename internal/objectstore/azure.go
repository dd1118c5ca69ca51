package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"statflow/internal/domain"
)

var _ Object = (*AzureObject)(nil)

// AzureObject is a blob in Azure Blob Storage.
type AzureObject struct {
	client    *azblob.Client
	account   string
	container string
	key       string
}

// azureLocation is a parsed Azure blob URL. account is empty for az:// URLs.
type azureLocation struct {
	account   string
	container string
	key       string
}

// NewAzureObject creates a client authenticated with the account key. Only
// shared-key authentication is supported.
func NewAzureObject(loc azureLocation, c Credentials) (*AzureObject, error) {
	account := loc.account
	if account == "" {
		account = c.AzureAccount
	}
	if account == "" {
		return nil, fmt.Errorf("azure blob %s/%s: storage account is required", loc.container, loc.key)
	}
	if c.AzureAccountKey == "" {
		return nil, fmt.Errorf("azure blob %s/%s: account key is required", loc.container, loc.key)
	}

	cred, err := azblob.NewSharedKeyCredential(account, c.AzureAccountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := c.AzureServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", account)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzureObject{client: client, account: account, container: loc.container, key: loc.key}, nil
}

// URL implements Object.
func (o *AzureObject) URL() string {
	return fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s", o.account, o.container, o.key)
}

// Upload implements Object.
func (o *AzureObject) Upload(ctx context.Context, body io.ReadSeeker) error {
	if _, err := o.client.UploadStream(ctx, o.container, o.key, body, nil); err != nil {
		return fmt.Errorf("upload %s: %w", o.URL(), err)
	}
	return nil
}

// Download implements Object.
func (o *AzureObject) Download(ctx context.Context, w io.Writer) error {
	resp, err := o.client.DownloadStream(ctx, o.container, o.key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return domain.ErrNotFound("%s does not exist", o.URL())
		}
		return fmt.Errorf("download %s: %w", o.URL(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read %s: %w", o.URL(), err)
	}
	return nil
}

// parseAzurePath extracts account, container and key from an Azure storage URI.
//
// Supported formats:
//
//	abfss://container@account.dfs.core.windows.net/path/to/file
//	az://container/path/to/file
//	https://account.blob.core.windows.net/container/path/to/file
func parseAzurePath(path string) (azureLocation, error) {
	u, err := url.Parse(path)
	if err != nil {
		return azureLocation{}, fmt.Errorf("parse Azure path %q: %w", path, err)
	}

	var loc azureLocation
	switch u.Scheme {
	case "abfss":
		// url.Parse reads "container" as userinfo and the account host as host.
		if u.User == nil {
			return azureLocation{}, fmt.Errorf("abfss path %q missing container@account component", path)
		}
		loc.container = u.User.Username()
		loc.account, _, _ = strings.Cut(u.Host, ".")
		loc.key = strings.TrimPrefix(u.Path, "/")

	case "az":
		loc.container = u.Host
		loc.key = strings.TrimPrefix(u.Path, "/")

	case "https":
		if !strings.HasSuffix(u.Host, ".blob.core.windows.net") {
			return azureLocation{}, fmt.Errorf("unrecognized Azure HTTPS host %q in path %q", u.Host, path)
		}
		loc.account = strings.TrimSuffix(u.Host, ".blob.core.windows.net")
		loc.container, loc.key, _ = strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")

	default:
		return azureLocation{}, fmt.Errorf("unrecognized Azure path scheme %q in %q", u.Scheme, path)
	}

	if loc.container == "" {
		return azureLocation{}, fmt.Errorf("empty container in Azure path %q", path)
	}
	if loc.key == "" {
		return azureLocation{}, fmt.Errorf("empty key in Azure path %q", path)
	}
	return loc, nil
}
