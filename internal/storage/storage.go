// Package storage persists uploaded media blobs and returns their public URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/qr-media-share/internal/model"
)

// ObjectStore saves a blob under key and returns the location clients should use.
type ObjectStore interface {
	Save(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

// ErrBadKey is returned for empty keys or keys escaping the store root.
var ErrBadKey = errors.New("storage: bad object key")

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"video/mp4":  ".mp4",
	"video/webm": ".webm",
}

// ObjectKey builds events/<event>/<kind>-<random><ext> for a new upload.
func ObjectKey(eventID uuid.UUID, kind model.MediaType, contentType string) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	ext, ok := extensions[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		ext = ".bin"
	}
	return fmt.Sprintf("events/%s/%s-%s%s", eventID, kind, id, ext), nil
}

// CleanKey normalizes key and rejects anything that would leave the store root.
func CleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", ErrBadKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrBadKey
	}
	return cleaned, nil
}
