package media

import (
	"context"
	"errors"
)

// ErrDisabled is returned by uploads when no media backend is configured.
var ErrDisabled = errors.New("media store not configured")

// File is an uploaded evidence image held in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Store persists evidence binaries and returns durable URLs.
type Store interface {
	Upload(ctx context.Context, file File) (string, error)
	Delete(ctx context.Context, url string) error
}

// UploadAll uploads files in order and stops at the first failure. URLs
// already uploaded are returned alongside the error so callers can discard
// them.
func UploadAll(ctx context.Context, store Store, files []File) ([]string, error) {
	urls := make([]string, 0, len(files))
	for _, f := range files {
		url, err := store.Upload(ctx, f)
		if err != nil {
			return urls, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}

// DisabledStore rejects uploads and ignores deletes.
type DisabledStore struct{}

func (DisabledStore) Upload(context.Context, File) (string, error) { return "", ErrDisabled }

func (DisabledStore) Delete(context.Context, string) error { return nil }
