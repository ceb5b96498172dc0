package whatsapp

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/skip2/go-qrcode"
)

// QRDataURL renders a pairing payload as a PNG data URL for the dashboard.
func QRDataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// writeQRImage stores the latest QR for a device as qr-<device>.png in dir.
func writeQRImage(dir, deviceID, code string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("qr-%s.png", deviceID))
	if err := qrcode.WriteFile(code, qrcode.Medium, 512, path); err != nil {
		return "", err
	}
	return path, nil
}
