package bankid

import qrcode "github.com/skip2/go-qrcode"

// qrImageSize is the rendered PNG edge length in pixels.
const qrImageSize = 256

// encodeQRPNG renders animated-QR payload text as a PNG image. Low error
// correction keeps the code scannable at the payload's density.
func encodeQRPNG(data string) ([]byte, error) {
	return qrcode.Encode(data, qrcode.Low, qrImageSize)
}
