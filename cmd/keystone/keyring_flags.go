package main

import (
	"errors"
	"os"
	"strings"

	"keystone/internal/domain"
	"keystone/internal/infra/keyring"
)

// ringFromFlags builds a keyring from --secret (single literal secret)
// or --keys (path to a keyring JSON document). --keys wins when both
// are given.
func ringFromFlags(secret, keysPath string) (*domain.Keyring, error) {
	if keysPath != "" {
		raw, err := os.ReadFile(keysPath)
		if err != nil {
			return nil, err
		}
		return keyring.Parse(strings.TrimSpace(string(raw)))
	}
	if secret != "" {
		return domain.SingleKeyring(secret)
	}
	return nil, errors.New("a keyring is required: pass --secret or --keys")
}
