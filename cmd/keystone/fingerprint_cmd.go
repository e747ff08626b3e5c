package main

import (
	"flag"
	"fmt"
	"os"

	"keystone/pkg/keycodec"
)

func runFingerprint(args []string) int {
	fs := flag.NewFlagSet("fingerprint", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var key string
	fs.StringVar(&key, "key", "", "license key to fingerprint")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "fingerprint requires --key")
		return 1
	}

	fmt.Fprintln(os.Stdout, keycodec.Fingerprint(key))
	return 0
}
