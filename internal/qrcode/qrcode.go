// Package qrcode renders short links as PNG QR codes.
package qrcode

import (
	"encoding/base64"
	"errors"
	"fmt"

	goqrcode "github.com/skip2/go-qrcode"
)

const (
	DefaultSize = 256

	dataURIPrefix = "data:image/png;base64,"
)

// Renderer turns content into a QR image. It holds no state and is safe for
// concurrent use.
type Renderer struct {
	Size  int
	Level goqrcode.RecoveryLevel
}

// New returns a Renderer producing size×size PNGs with medium error correction.
func New(size int) *Renderer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Renderer{Size: size, Level: goqrcode.Medium}
}

// PNG encodes content as PNG bytes.
func (r *Renderer) PNG(content string) ([]byte, error) {
	if content == "" {
		return nil, errors.New("qr content cannot be empty")
	}
	png, err := goqrcode.Encode(content, r.Level, r.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	return png, nil
}

// DataURI encodes content as a base64 PNG data URI suitable for an <img src>.
func (r *Renderer) DataURI(content string) (string, error) {
	png, err := r.PNG(content)
	if err != nil {
		return "", err
	}
	return dataURIPrefix + base64.StdEncoding.EncodeToString(png), nil
}
