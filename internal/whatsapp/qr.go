package whatsapp

import (
	"encoding/base64"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	qrImageSize     = 256
	pngDataURLStart = "data:image/png;base64,"
)

// RenderQRDataURL encodes a login code as a PNG data URL suitable for an <img> tag.
func RenderQRDataURL(code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", nil
	}
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", err
	}
	return pngDataURLStart + base64.StdEncoding.EncodeToString(png), nil
}
