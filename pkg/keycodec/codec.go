// Package keycodec generates and verifies the license key string format.
// Everything here is pure and safe for offline use by client tooling.
//
// A key is 8 dash-separated segments: a 3-letter product prefix, five
// random 5-character segments, and two 5-character signature segments
// holding the first 50 bits of an HMAC-SHA256 over the prefix and random
// part. The first character of the first random segment encodes the
// signing keyring version (0-31); keys minted before version encoding are
// verified by trying every keyring secret.
package keycodec

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
)

// Alphabet avoids visually ambiguous characters (no 0/1/8/9/O/I).
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

const (
	PrefixLen         = 3
	SegmentLen        = 5
	RandomSegments    = 5
	SignatureSegments = 2
	totalParts        = 1 + RandomSegments + SignatureSegments
	signatureLen      = SegmentLen * SignatureSegments
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Generate mints a license key for the given product prefix. The prefix is
// uppercased and truncated or padded with 'X' to exactly three characters.
// The version (mod 32) overwrites the first random character so verifiers
// can pick the matching keyring secret without trial decryption.
func Generate(productPrefix, secret string, version uint32) (string, error) {
	prefix := normalizePrefix(productPrefix)

	segments := make([]string, RandomSegments)
	for i := range segments {
		segment, err := randomSegment()
		if err != nil {
			return "", err
		}
		segments[i] = segment
	}
	segments[0] = string(Alphabet[version%32]) + segments[0][1:]

	randomPart := strings.Join(segments, "-")
	sig := computeSignature(prefix, randomPart, secret)

	return prefix + "-" + randomPart + "-" + sig[:SegmentLen] + "-" + sig[SegmentLen:], nil
}

// VerifySignature recomputes the truncated MAC and compares it in constant
// time. Any structural mismatch reports false rather than an error.
func VerifySignature(key, secret string) bool {
	parts := strings.Split(key, "-")
	if len(parts) != totalParts {
		return false
	}
	prefix := parts[0]
	randomPart := strings.Join(parts[1:1+RandomSegments], "-")
	provided := strings.Join(parts[1+RandomSegments:], "")

	expected := computeSignature(prefix, randomPart, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

// VerifySignatureMulti verifies against a versioned keyring: the secret
// matching the embedded version is tried first, then every other secret.
// The fallback covers rotated keys and legacy keys whose first character
// was random rather than a version byte.
func VerifySignatureMulti(key string, ring map[uint32]string) bool {
	version := ExtractVersion(key)
	if secret, ok := ring[version]; ok {
		if VerifySignature(key, secret) {
			return true
		}
	}
	for v, secret := range ring {
		if v == version {
			continue
		}
		if VerifySignature(key, secret) {
			return true
		}
	}
	return false
}

// ExtractVersion reads the keyring version encoded in the first character
// of the first random segment. Unparseable keys report version 0.
func ExtractVersion(key string) uint32 {
	parts := strings.Split(key, "-")
	if len(parts) < 2 || len(parts[1]) < 1 {
		return 0
	}
	idx := strings.IndexByte(Alphabet, parts[1][0])
	if idx < 0 {
		return 0
	}
	return uint32(idx)
}

// Fingerprint is the SHA-256 hex digest of a key, used for indexed lookup
// so the raw key is never persisted.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func computeSignature(prefix, randomPart, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s-%s", prefix, randomPart)
	return b32.EncodeToString(mac.Sum(nil))[:signatureLen]
}

func normalizePrefix(productPrefix string) string {
	prefix := strings.ToUpper(productPrefix)
	if len(prefix) > PrefixLen {
		prefix = prefix[:PrefixLen]
	}
	for len(prefix) < PrefixLen {
		prefix += "X"
	}
	return prefix
}

func randomSegment() (string, error) {
	raw := make([]byte, SegmentLen)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("random segment: %w", err)
	}
	chars := make([]byte, SegmentLen)
	for i, b := range raw {
		chars[i] = Alphabet[b%32]
	}
	return string(chars), nil
}
