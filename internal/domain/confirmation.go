/**
 * @description
 * One-time confirmation codes gating job completion. The worker requests a
 * code once work is in progress; the poster must present it back before the
 * payment can be captured. Only a bcrypt hash of the code is ever persisted.
 */

package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const (
	confirmationCodeMin  = 100000
	confirmationCodeSpan = 900000
)

// GenerateConfirmationCode produces a 6-digit numeric code drawn uniformly
// from 100000-999999 using a cryptographically secure source, and the bcrypt
// hash to persist alongside it.
func GenerateConfirmationCode() (code string, hash string, err error) {
	n, err := rand.Int(rand.Reader, big.NewInt(confirmationCodeSpan))
	if err != nil {
		return "", "", fmt.Errorf("failed to generate confirmation code: %w", err)
	}
	code = fmt.Sprintf("%06d", confirmationCodeMin+n.Int64())

	hashed, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash confirmation code: %w", err)
	}
	return code, string(hashed), nil
}

// VerifyConfirmationCode hash-compares a presented code against the stored
// hash. The plaintext is never logged or persisted.
func VerifyConfirmationCode(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
