// Package media compresses captured photos and renders thumbnails before upload.
package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // decoders accepted as capture input
	"image/jpeg"
	_ "image/png"
	"net/http"

	"github.com/nfnt/resize"
	"go.uber.org/zap"
)

const (
	DefaultMaxDimension = 1920
	DefaultMaxBytes     = 1 << 20
	ThumbnailSize       = 200
	thumbnailQuality    = 70
	minQuality          = 30
)

// Processor compresses images to fit the upload limits.
type Processor struct {
	MaxDimension int
	MaxBytes     int
	Log          *zap.Logger
}

// NewProcessor returns a Processor with the default limits.
func NewProcessor(log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{MaxDimension: DefaultMaxDimension, MaxBytes: DefaultMaxBytes, Log: log}
}

// ProcessImage downscales so neither side exceeds MaxDimension and re-encodes
// as JPEG with decreasing quality until it fits MaxBytes. On any failure the
// original bytes are returned unchanged.
func (p *Processor) ProcessImage(data []byte) ([]byte, string) {
	orig := http.DetectContentType(data)
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		p.Log.Warn("image compression skipped", zap.Error(err), zap.Int("bytes", len(data)))
		return data, orig
	}
	b := img.Bounds()
	if len(data) <= p.MaxBytes && b.Dx() <= p.MaxDimension && b.Dy() <= p.MaxDimension {
		return data, orig
	}

	img = resize.Thumbnail(uint(p.MaxDimension), uint(p.MaxDimension), img, resize.Lanczos3)
	out, err := p.fit(img)
	if err != nil {
		p.Log.Warn("image compression failed", zap.Error(err), zap.Int("bytes", len(data)))
		return data, orig
	}
	p.Log.Debug("image compressed",
		zap.Int("from", len(data)), zap.Int("to", len(out)),
		zap.Int("w", img.Bounds().Dx()), zap.Int("h", img.Bounds().Dy()))
	return out, "image/jpeg"
}

var errTooLarge = errors.New("cannot fit size limit")

func (p *Processor) fit(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	for {
		for q := 90; q >= minQuality; q -= 10 {
			buf.Reset()
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
				return nil, fmt.Errorf("jpeg encode: %w", err)
			}
			if buf.Len() <= p.MaxBytes {
				return buf.Bytes(), nil
			}
		}
		w, h := img.Bounds().Dx()*3/4, img.Bounds().Dy()*3/4
		if w < 1 || h < 1 {
			return nil, errTooLarge
		}
		img = resize.Resize(uint(w), uint(h), img, resize.Lanczos3)
	}
}

// ProcessVideo returns the video unchanged.
func (p *Processor) ProcessVideo(data []byte) ([]byte, string) {
	return data, http.DetectContentType(data)
}

// Thumbnail scales an image to fit ThumbnailSize and returns it as a JPEG data URL.
func Thumbnail(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("thumbnail decode: %w", err)
	}
	b := img.Bounds()
	scale := min(float64(ThumbnailSize)/float64(b.Dx()), float64(ThumbnailSize)/float64(b.Dy()))
	w, h := max(1, int(float64(b.Dx())*scale)), max(1, int(float64(b.Dy())*scale))
	small := resize.Resize(uint(w), uint(h), img, resize.Bilinear)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, small, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return "", fmt.Errorf("thumbnail encode: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
