package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"keystone/internal/config"
	"keystone/internal/domain"
	"keystone/internal/infra/keyring"
)

// runKeysRotate appends a fresh secret to the ring and prints the new
// keyring document. Old secrets stay in the ring so previously issued
// keys, leases, and audit signatures keep verifying.
func runKeysRotate(args []string) int {
	fs := flag.NewFlagSet("keys rotate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var keysPath string
	var outPath string
	var useVault bool
	fs.StringVar(&keysPath, "keys", "", "keyring JSON file (omit with --vault to rotate the Vault ring)")
	fs.StringVar(&outPath, "out", "", "output path for the new keyring document (default stdout)")
	fs.BoolVar(&useVault, "vault", false, "load and store the ring via Vault (KEYSTONE_VAULT_* env)")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx := context.Background()
	var ring *domain.Keyring
	var vault *keyring.VaultClient
	var vaultPath string

	switch {
	case useVault:
		cfg, err := config.FromEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			return 1
		}
		if !cfg.VaultConfigured() {
			fmt.Fprintln(os.Stderr, "--vault requires KEYSTONE_VAULT_ADDR and KEYSTONE_VAULT_TOKEN")
			return 1
		}
		vault = keyring.NewVaultClient(cfg.VaultAddr, cfg.VaultToken)
		vaultPath = cfg.VaultKeyringPath
		ring, err = vault.LoadRing(ctx, vaultPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load ring from vault: %v\n", err)
			return 1
		}
	case keysPath != "":
		raw, err := os.ReadFile(keysPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read keyring: %v\n", err)
			return 1
		}
		ring, err = keyring.Parse(strings.TrimSpace(string(raw)))
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse keyring: %v\n", err)
			return 1
		}
	default:
		// no existing ring: mint a fresh single-secret ring at v0
		secret, err := keyring.NewSecret()
		if err != nil {
			fmt.Fprintf(os.Stderr, "new secret: %v\n", err)
			return 1
		}
		fresh, err := domain.SingleKeyring(secret)
		if err != nil {
			fmt.Fprintf(os.Stderr, "new keyring: %v\n", err)
			return 1
		}
		doc, err := keyring.Encode(fresh)
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode keyring: %v\n", err)
			return 1
		}
		if err := writeOutput(outPath, []byte(doc)); err != nil {
			fmt.Fprintf(os.Stderr, "write output: %v\n", err)
			return 1
		}
		return 0
	}

	rotated, _, err := keyring.Rotate(ring)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rotate: %v\n", err)
		return 1
	}
	doc, err := keyring.Encode(rotated)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode keyring: %v\n", err)
		return 1
	}

	if vault != nil {
		if err := vault.StoreRing(ctx, vaultPath, rotated); err != nil {
			fmt.Fprintf(os.Stderr, "store ring in vault: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "vault ring rotated to v%d\n", rotated.CurrentVersion())
		if outPath == "" {
			return 0
		}
	}

	if err := writeOutput(outPath, []byte(doc)); err != nil {
		fmt.Fprintf(os.Stderr, "write output: %v\n", err)
		return 1
	}
	return 0
}
