// Package keyring loads and rotates the HMAC keyring from its
// configured sources: an environment JSON document or a Vault KV entry.
package keyring

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"keystone/internal/domain"
)

// Parse decodes a keyring document: a JSON object mapping version
// numbers to secrets, e.g. {"0":"old-secret","1":"current-secret"}.
// A bare non-JSON string is accepted as a single version-0 secret so
// simple deployments can pass one secret directly.
func Parse(raw string) (*domain.Keyring, error) {
	if raw == "" {
		return nil, errors.New("keyring: empty document")
	}
	var doc map[string]string
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return domain.NewKeyring(map[uint32]string{0: raw})
	}
	if len(doc) == 0 {
		return nil, errors.New("keyring: document has no keys")
	}
	secrets := make(map[uint32]string, len(doc))
	for version, secret := range doc {
		v, err := strconv.ParseUint(version, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("keyring: bad version %q: %w", version, err)
		}
		secrets[uint32(v)] = secret
	}
	return domain.NewKeyring(secrets)
}

// Encode renders a keyring back into its JSON document form.
func Encode(ring *domain.Keyring) (string, error) {
	secrets := ring.SecretsByVersion()
	doc := make(map[string]string, len(secrets))
	for version, secret := range secrets {
		doc[strconv.FormatUint(uint64(version), 10)] = secret
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// NewSecret draws a fresh 256-bit signing secret, hex encoded.
func NewSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("keyring: draw secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Rotate returns a new ring with a fresh secret at the next version.
// Old secrets stay in the ring so existing keys, leases, and audit
// chains keep verifying.
func Rotate(ring *domain.Keyring) (*domain.Keyring, string, error) {
	secret, err := NewSecret()
	if err != nil {
		return nil, "", err
	}
	secrets := ring.SecretsByVersion()
	secrets[ring.CurrentVersion()+1] = secret
	rotated, err := domain.NewKeyring(secrets)
	if err != nil {
		return nil, "", err
	}
	return rotated, secret, nil
}
