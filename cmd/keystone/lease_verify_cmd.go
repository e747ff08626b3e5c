package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"keystone/internal/usecase"
	"keystone/pkg/lease"
)

type leaseVerifyOutput struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func runLeaseVerify(args []string) int {
	fs := flag.NewFlagSet("lease verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var inPath string
	var secret string
	var keysPath string
	fs.StringVar(&inPath, "in", "", "lease document path")
	fs.StringVar(&secret, "secret", "", "HMAC signing secret")
	fs.StringVar(&keysPath, "keys", "", "keyring JSON file")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if inPath == "" {
		fmt.Fprintln(os.Stderr, "lease verify requires --in")
		return 1
	}

	raw, err := os.ReadFile(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read lease: %v\n", err)
		return 1
	}
	var l lease.Lease
	if err := json.Unmarshal(raw, &l); err != nil {
		fmt.Fprintf(os.Stderr, "parse lease: %v\n", err)
		return 1
	}

	ring, err := ringFromFlags(secret, keysPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keyring: %v\n", err)
		return 1
	}

	out := leaseVerifyOutput{Valid: true}
	switch err := usecase.VerifyLease(l, ring); {
	case err == nil:
	case errors.Is(err, lease.ErrExpired):
		out = leaseVerifyOutput{Reason: "expired"}
	case errors.Is(err, lease.ErrSignature):
		out = leaseVerifyOutput{Reason: "signature_mismatch"}
	default:
		out = leaseVerifyOutput{Reason: "malformed"}
	}

	if err := writeJSON("", out); err != nil {
		fmt.Fprintf(os.Stderr, "write output: %v\n", err)
		return 1
	}
	if !out.Valid {
		return 1
	}
	return 0
}
