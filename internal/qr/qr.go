// Package qr builds, renders and reads the event links carried by QR codes.
package qr

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // decoders for Decode
	_ "image/png"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
	goqr "github.com/skip2/go-qrcode"
)

// ErrNoEventID is returned when a scanned payload has no usable path segment.
var ErrNoEventID = errors.New("qr payload has no event id")

// Options control rendering.
type Options struct {
	Size       int // pixels per side
	Foreground color.Color
	Background color.Color
}

// DefaultOptions renders 256px black on white.
func DefaultOptions() Options {
	return Options{Size: 256, Foreground: color.Black, Background: color.White}
}

// EventURL returns the link encoded for an event: <base>/event/<id>.
func EventURL(base string, id uuid.UUID) string {
	return strings.TrimRight(base, "/") + "/event/" + id.String()
}

// Encode renders content as a PNG at the highest error-correction level.
func Encode(content string, opts Options) ([]byte, error) {
	def := DefaultOptions()
	if opts.Size <= 0 {
		opts.Size = def.Size
	}
	if opts.Foreground == nil {
		opts.Foreground = def.Foreground
	}
	if opts.Background == nil {
		opts.Background = def.Background
	}
	code, err := goqr.New(content, goqr.Highest)
	if err != nil {
		return nil, fmt.Errorf("qr encode: %w", err)
	}
	code.ForegroundColor = opts.Foreground
	code.BackgroundColor = opts.Background
	png, err := code.PNG(opts.Size)
	if err != nil {
		return nil, fmt.Errorf("qr png: %w", err)
	}
	return png, nil
}

// Decode reads the text of the first QR code found in a PNG or JPEG image.
func Decode(r io.Reader) (string, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return "", fmt.Errorf("qr decode image: %w", err)
	}
	return DecodeImage(img)
}

// DecodeImage reads the text of the first QR code found in img.
func DecodeImage(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("qr bitmap: %w", err)
	}
	hints := map[gozxing.DecodeHintType]interface{}{gozxing.DecodeHintType_TRY_HARDER: true}
	res, err := zxqr.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", fmt.Errorf("qr decode: %w", err)
	}
	return res.GetText(), nil
}

// EventIDFromURL extracts the last non-empty path segment of a scanned link.
// Bare ids are accepted as-is.
func EventIDFromURL(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoEventID
	}
	p := text
	if u, err := url.Parse(text); err == nil && u.Scheme != "" {
		p = u.Path
	}
	segs := strings.Split(p, "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] != "" {
			return segs[i], nil
		}
	}
	return "", ErrNoEventID
}

// ParseHexColor parses #rgb or #rrggbb.
func ParseHexColor(s string) (color.Color, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return nil, fmt.Errorf("bad color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("bad color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
