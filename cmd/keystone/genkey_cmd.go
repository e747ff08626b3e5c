package main

import (
	"flag"
	"fmt"
	"os"

	"keystone/pkg/keycodec"
)

type issuedKey struct {
	Key         string `json:"key"`
	Fingerprint string `json:"fingerprint"`
	Version     uint32 `json:"version"`
}

func runGenKey(args []string) int {
	fs := flag.NewFlagSet("genkey", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var prefix string
	var secret string
	var keysPath string
	var version uint
	var count int
	var outPath string
	fs.StringVar(&prefix, "prefix", "", "three-letter product prefix")
	fs.StringVar(&secret, "secret", "", "HMAC signing secret")
	fs.StringVar(&keysPath, "keys", "", "keyring JSON file (signs with the current version)")
	fs.UintVar(&version, "version", 0, "key version override (requires --secret)")
	fs.IntVar(&count, "count", 1, "number of keys to generate")
	fs.StringVar(&outPath, "out", "", "output JSON path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if prefix == "" {
		fmt.Fprintln(os.Stderr, "genkey requires --prefix")
		return 1
	}
	if count < 1 {
		count = 1
	}

	ring, err := ringFromFlags(secret, keysPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keyring: %v\n", err)
		return 1
	}
	signVersion := ring.CurrentVersion()
	signSecret := ring.CurrentSecret()
	if keysPath == "" && version != 0 {
		signVersion = uint32(version)
	}

	keys := make([]issuedKey, 0, count)
	for i := 0; i < count; i++ {
		key, err := keycodec.Generate(prefix, signSecret, signVersion)
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
			return 1
		}
		keys = append(keys, issuedKey{
			Key:         key,
			Fingerprint: keycodec.Fingerprint(key),
			Version:     signVersion,
		})
	}

	var doc any = keys
	if count == 1 {
		doc = keys[0]
	}
	if err := writeJSON(outPath, doc); err != nil {
		fmt.Fprintf(os.Stderr, "write output: %v\n", err)
		return 1
	}
	return 0
}
