package main

import (
	"flag"
	"fmt"
	"os"

	"keystone/pkg/keycodec"
)

// runValidate checks a key offline: grammar plus HMAC, no database.
func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var key string
	var secret string
	var keysPath string
	var formatOnly bool
	fs.StringVar(&key, "key", "", "license key to validate")
	fs.StringVar(&secret, "secret", "", "HMAC signing secret")
	fs.StringVar(&keysPath, "keys", "", "keyring JSON file")
	fs.BoolVar(&formatOnly, "format-only", false, "check grammar only, skip the signature")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "validate requires --key")
		return 1
	}

	var result keycodec.ValidationResult
	if formatOnly {
		result = keycodec.ValidateFormat(key)
	} else {
		ring, err := ringFromFlags(secret, keysPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "keyring: %v\n", err)
			return 1
		}
		result = keycodec.ValidateKeyMulti(key, ring.SecretsByVersion())
	}

	if err := writeJSON("", result); err != nil {
		fmt.Fprintf(os.Stderr, "write output: %v\n", err)
		return 1
	}
	if !result.Valid {
		return 1
	}
	return 0
}
