package companionauth

import (
	"crypto/rand"
	"fmt"
)

// RandomPIN draws a fresh 6-digit PIN from crypto/rand. The modulo bias on
// b%10 is negligible for a secret that is also rate-limited to 5 guesses
// per minute.
func RandomPIN() (string, error) {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate pin: %w", err)
	}
	pin := make([]byte, 6)
	for i, b := range buf {
		pin[i] = '0' + b%10
	}
	return string(pin), nil
}
