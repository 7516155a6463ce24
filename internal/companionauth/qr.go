package companionauth

import (
	"fmt"
	"net"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
)

// PairingURL builds the URL a phone scans to open the companion web client
// with the PIN pre-filled.
func PairingURL(lanIP string, port int, pin string) string {
	return fmt.Sprintf("http://%s:%d/auth?pin=%s", lanIP, port, pin)
}

// LANIP returns the machine's first non-loopback IPv4 address, falling back
// to 127.0.0.1 when none is up (pairing still works from the same host).
func LANIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}

const qrModuleSize = 8 // px per QR module in the rendered SVG

// QRSVG renders content as an SVG QR code. The qrcode package emits the
// module bitmap (quiet zone included); the SVG is assembled here as one
// rect per dark module, which every SVG renderer handles without a raster
// round-trip.
func QRSVG(content string) ([]byte, error) {
	code, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, apperror.NewInternal("generate qr code: " + err.Error())
	}

	bitmap := code.Bitmap()
	size := len(bitmap) * qrModuleSize

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" width="%d" height="%d">`, size, size, size, size)
	fmt.Fprintf(&b, `<rect width="%d" height="%d" fill="#ffffff"/>`, size, size)
	for y, row := range bitmap {
		for x, dark := range row {
			if dark {
				fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="%d" fill="#000000"/>`,
					x*qrModuleSize, y*qrModuleSize, qrModuleSize, qrModuleSize)
			}
		}
	}
	b.WriteString(`</svg>`)
	return []byte(b.String()), nil
}
