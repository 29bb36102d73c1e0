// internal/invite/invite.go
package invite

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
)

// JoinURL builds the shareable link a peer uses to reach a room: the host's
// gateway address plus the room code.
func JoinURL(gatewayURL, roomCode string) string {
	base := strings.TrimSuffix(gatewayURL, "/")
	return fmt.Sprintf("%s/join?code=%s", base, url.QueryEscape(roomCode))
}

// QRPNG renders the join link as a PNG QR code for sharing across the table.
func QRPNG(joinURL string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(joinURL, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("invite: encode qr: %w", err)
	}
	return png, nil
}
