package receipt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/admin"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// cloudinaryResourceType keeps files byte-for-byte; image uploads would be transcoded
const cloudinaryResourceType = "raw"

// CloudinaryStorage implements the Storage interface on Cloudinary raw assets
type CloudinaryStorage struct {
	cld    *cloudinary.Cloudinary
	folder string
	client *http.Client
}

// NewCloudinaryStorage creates a new CloudinaryStorage instance
func NewCloudinaryStorage(cloudName, apiKey, apiSecret, folder string) (*CloudinaryStorage, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("cloudinary config error: %w", err)
	}

	return &CloudinaryStorage{
		cld:    cld,
		folder: folder,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

// publicID maps a storage key to a Cloudinary public ID. Colons are not
// allowed in public IDs, so the legacy MIME segment uses underscores there.
func (c *CloudinaryStorage) publicID(key string) string {
	return path.Join(c.folder, strings.ReplaceAll(key, ":", "_"))
}

// Save uploads data as a raw asset
func (c *CloudinaryStorage) Save(ctx context.Context, key string, data []byte) (string, error) {
	resp, err := c.cld.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		PublicID:     c.publicID(key),
		ResourceType: cloudinaryResourceType,
	})
	if err != nil {
		return "", fmt.Errorf("upload error: %w", err)
	}
	if resp.Error.Message != "" {
		return "", fmt.Errorf("upload error: %s", resp.Error.Message)
	}
	return key, nil
}

// Get looks up the asset URL and downloads it
func (c *CloudinaryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	asset, err := c.cld.Admin.Asset(ctx, admin.AssetParams{
		PublicID:  c.publicID(key),
		AssetType: api.File,
	})
	if err != nil {
		return nil, fmt.Errorf("looking up asset: %w", err)
	}
	if asset.Error.Message != "" {
		return nil, fmt.Errorf("looking up asset: %s", asset.Error.Message)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.SecureURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading asset: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading asset: %w", err)
	}
	return data, nil
}

// Delete destroys the asset
func (c *CloudinaryStorage) Delete(ctx context.Context, key string) error {
	resp, err := c.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     c.publicID(key),
		ResourceType: cloudinaryResourceType,
	})
	if err != nil {
		return fmt.Errorf("delete error: %w", err)
	}
	if resp.Error.Message != "" {
		return fmt.Errorf("delete error: %s", resp.Error.Message)
	}
	return nil
}
