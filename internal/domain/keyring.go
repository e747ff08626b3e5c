package domain

import (
	"errors"
	"sort"
)

// Keyring is an immutable versioned set of shared HMAC secrets. The highest
// version is the signing secret; every retained version remains valid for
// verification so rotation never invalidates previously issued material.
type Keyring struct {
	secrets map[uint32]string
	current uint32
}

func NewKeyring(secrets map[uint32]string) (*Keyring, error) {
	if len(secrets) == 0 {
		return nil, errors.New("keyring requires at least one secret")
	}
	copied := make(map[uint32]string, len(secrets))
	var current uint32
	first := true
	for version, secret := range secrets {
		if secret == "" {
			return nil, errors.New("keyring secrets must be non-empty")
		}
		copied[version] = secret
		if first || version > current {
			current = version
			first = false
		}
	}
	return &Keyring{secrets: copied, current: current}, nil
}

// SingleKeyring wraps one secret as version 0.
func SingleKeyring(secret string) (*Keyring, error) {
	return NewKeyring(map[uint32]string{0: secret})
}

func (k *Keyring) CurrentVersion() uint32 {
	return k.current
}

func (k *Keyring) CurrentSecret() string {
	return k.secrets[k.current]
}

func (k *Keyring) Secret(version uint32) (string, bool) {
	secret, ok := k.secrets[version]
	return secret, ok
}

func (k *Keyring) Versions() []uint32 {
	versions := make([]uint32, 0, len(k.secrets))
	for version := range k.secrets {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions
}

// SecretsByVersion returns a copy safe to hand to verification helpers.
func (k *Keyring) SecretsByVersion() map[uint32]string {
	copied := make(map[uint32]string, len(k.secrets))
	for version, secret := range k.secrets {
		copied[version] = secret
	}
	return copied
}

func (k *Keyring) Len() int {
	return len(k.secrets)
}
