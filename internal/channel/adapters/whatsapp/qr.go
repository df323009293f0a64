package whatsapp

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

// QRPNG renders a pairing code as a PNG for the admin surface. Size is the
// square edge in pixels.
func QRPNG(code string, size int) ([]byte, error) {
	if code == "" {
		return nil, fmt.Errorf("no pairing code available")
	}
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(code, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
