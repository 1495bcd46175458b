// Package imaging decodes the base64 image attached to a request into an
// RGB pixel buffer plus JPEG bytes ready to send to a vision model.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"strings"

	// Registered decoders.
	_ "image/gif"
	_ "image/png"
)

const (
	// DefaultMaxBytes bounds the decoded payload size.
	DefaultMaxBytes = 10 << 20

	// MaxPixels bounds width*height so a small file cannot expand into a
	// huge buffer.
	MaxPixels = 40_000_000

	// MIMEType is the type of the re-encoded bytes.
	MIMEType = "image/jpeg"

	jpegQuality = 90
)

var (
	// ErrEmpty is returned for an empty payload.
	ErrEmpty = errors.New("empty image payload")

	// ErrTooLarge is returned when the payload or its pixel count exceeds
	// the limits.
	ErrTooLarge = errors.New("image too large")
)

// Image is a decoded request image.
type Image struct {
	// Pixels is the image converted to opaque RGB.
	Pixels *image.RGBA

	// Format is the source format reported by the decoder (jpeg, png, gif).
	Format string

	Width  int
	Height int

	// MIMEType and Data are the re-encoded JPEG sent to models.
	MIMEType string
	Data     []byte
}

// Decode parses a base64 payload, either raw or as a data URI. maxBytes
// limits the decoded size; zero or less means DefaultMaxBytes.
func Decode(payload string, maxBytes int) (*Image, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	encoded := stripDataURI(strings.TrimSpace(payload))
	encoded = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, encoded)
	if encoded == "" {
		return nil, ErrEmpty
	}
	if base64.StdEncoding.DecodedLen(len(encoded)) > maxBytes+3 {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrTooLarge, maxBytes)
	}

	raw, err := decodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	if len(raw) > maxBytes {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrTooLarge, maxBytes)
	}

	return DecodeBytes(raw)
}

// DecodeBytes decodes raw image bytes.
func DecodeBytes(raw []byte) (*Image, error) {
	if len(raw) == 0 {
		return nil, ErrEmpty
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unrecognized image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Width*cfg.Height > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}

	rgb := toRGB(src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgb, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	b := rgb.Bounds()
	return &Image{
		Pixels:   rgb,
		Format:   format,
		Width:    b.Dx(),
		Height:   b.Dy(),
		MIMEType: MIMEType,
		Data:     buf.Bytes(),
	}, nil
}

// toRGB flattens src onto an opaque white canvas anchored at the origin.
func toRGB(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

func stripDataURI(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if _, data, ok := strings.Cut(s, ","); ok {
		return data
	}
	return s
}

func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		raw, err := enc.DecodeString(s)
		if err == nil {
			return raw, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
