package server

import (
	"net"

	"github.com/skip2/go-qrcode"
)

// OutboundIP returns the local address the OS would use to reach the
// internet. Dialing UDP sends no packets. It returns "" when offline.
func OutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer func() { _ = conn.Close() }()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.IsUnspecified() {
		return ""
	}
	return addr.IP.String()
}

// QRCode renders url as a PNG of size pixels.
func QRCode(url string, size int) ([]byte, error) {
	return qrcode.Encode(url, qrcode.Medium, size)
}

// QRText renders url as a QR code made of half-block characters for
// terminals.
func QRText(url string) (string, error) {
	q, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return q.ToSmallString(false), nil
}
