package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"

	"github.com/spec-kit/maintenance-service/internal/config"
)

const evidenceTransformation = "c_limit,w_1280/q_auto:good/f_auto"

var publicIDPattern = regexp.MustCompile(`/v\d+/(.+)\.[a-z]+$`)

// CloudinaryStore keeps evidence images in a Cloudinary folder.
type CloudinaryStore struct {
	cld    *cloudinary.Cloudinary
	folder string
}

// NewCloudinaryStore builds a store from account credentials.
func NewCloudinaryStore(cfg config.MediaConfig) (*CloudinaryStore, error) {
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: %w", err)
	}
	cld.Config.URL.Secure = true
	return &CloudinaryStore{cld: cld, folder: cfg.Folder}, nil
}

// Upload stores the image resized to at most 1280px wide.
func (s *CloudinaryStore) Upload(ctx context.Context, file File) (string, error) {
	if len(file.Data) == 0 {
		return "", errors.New("empty file")
	}
	resp, err := s.cld.Upload.Upload(ctx, bytes.NewReader(file.Data), uploader.UploadParams{
		Folder:         s.folder,
		PublicID:       uuid.NewString(),
		ResourceType:   "image",
		Transformation: evidenceTransformation,
	})
	if err != nil {
		return "", fmt.Errorf("cloudinary upload: %w", err)
	}
	if resp.Error.Message != "" {
		return "", fmt.Errorf("cloudinary upload: %s", resp.Error.Message)
	}
	return resp.SecureURL, nil
}

// Delete destroys the asset behind url. URLs that do not point at
// Cloudinary are ignored.
func (s *CloudinaryStore) Delete(ctx context.Context, url string) error {
	publicID, ok := PublicIDFromURL(url)
	if !ok {
		return nil
	}
	resp, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: publicID})
	if err != nil {
		return fmt.Errorf("cloudinary destroy %s: %w", publicID, err)
	}
	if resp.Error.Message != "" {
		return fmt.Errorf("cloudinary destroy %s: %s", publicID, resp.Error.Message)
	}
	return nil
}

// PublicIDFromURL extracts the asset id from a delivery URL such as
// https://res.cloudinary.com/demo/image/upload/v1712/Folder/abc.jpg.
func PublicIDFromURL(url string) (string, bool) {
	if !strings.Contains(url, "cloudinary") {
		return "", false
	}
	m := publicIDPattern.FindStringSubmatch(url)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return m[1], true
}
