package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SignHex computes the hex HMAC-SHA256 of message under secret.
func SignHex(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHex recomputes the hex HMAC-SHA256 and compares in constant time.
func VerifyHex(secret string, message []byte, signature string) bool {
	expected := SignHex(secret, message)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

func SHA256Hex(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}
