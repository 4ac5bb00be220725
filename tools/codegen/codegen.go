package codegen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// VoucherCode returns prefix followed by 8 uppercase hex characters
// drawn from crypto/rand.
func VoucherCode(prefix string) (string, error) {
	raw, err := randomHex(4)
	if err != nil {
		return "", err
	}
	return prefix + strings.ToUpper(raw), nil
}

// OneTimePassword returns an 8-character lowercase hex password for a
// voucher-provisioned account.
func OneTimePassword() (string, error) {
	return randomHex(4)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
