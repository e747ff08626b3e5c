package main

import (
	"fmt"
	"os"
	"path/filepath"
)

func run(args []string) int {
	if len(args) < 2 {
		usage(args)
		return 1
	}

	switch args[1] {
	case "serve":
		return runServe(args[2:])
	case "genkey":
		return runGenKey(args[2:])
	case "validate":
		return runValidate(args[2:])
	case "fingerprint":
		return runFingerprint(args[2:])
	case "lease":
		if len(args) >= 3 && args[2] == "verify" {
			return runLeaseVerify(args[3:])
		}
	case "keys":
		if len(args) >= 3 && args[2] == "rotate" {
			return runKeysRotate(args[3:])
		}
	}

	usage(args)
	return 1
}

func usage(args []string) {
	name := "keystone"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s serve\n", name)
	fmt.Fprintf(os.Stderr, "  %s genkey --prefix <code> (--secret <hmac>|--keys <ring-file>) [--version <n>] [--count <n>] [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s validate --key <license-key> (--secret <hmac>|--keys <ring-file>) [--format-only]\n", name)
	fmt.Fprintf(os.Stderr, "  %s fingerprint --key <license-key>\n", name)
	fmt.Fprintf(os.Stderr, "  %s lease verify --in <lease.json> (--secret <hmac>|--keys <ring-file>)\n", name)
	fmt.Fprintf(os.Stderr, "  %s keys rotate [--keys <ring-file>] [--out <file>]\n", name)
}
