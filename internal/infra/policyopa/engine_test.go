package policyopa

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"keystone/internal/domain"
)

func TestEngineDeterministic(t *testing.T) {
	engine := newEngine(t)
	input := basePolicyInput()

	first, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate first: %v", err)
	}
	second, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate second: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected deterministic policy evaluation")
	}
	if !first.Allow {
		t.Fatalf("expected allow for baseline input, got reason %q", first.Reason)
	}
	if engine.BundleHash() == "" {
		t.Fatalf("expected bundle hash to be set")
	}
}

func TestEngineDenies(t *testing.T) {
	engine := newEngine(t)

	tests := []struct {
		name       string
		mutate     func(input *domain.PolicyInput)
		wantReason string
	}{
		{
			name: "unknown feature",
			mutate: func(input *domain.PolicyInput) {
				input.Feature = "does_not_exist"
			},
			wantReason: "feature not entitled",
		},
		{
			name: "disabled feature",
			mutate: func(input *domain.PolicyInput) {
				input.Feature = "sso"
			},
			wantReason: "feature not entitled",
		},
		{
			name: "exhausted limit",
			mutate: func(input *domain.PolicyInput) {
				input.Feature = "exports"
			},
			wantReason: "feature limit exhausted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := basePolicyInput()
			tt.mutate(&input)
			out, err := engine.Evaluate(context.Background(), input)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if out.Allow {
				t.Fatalf("expected deny")
			}
			if out.Reason != tt.wantReason {
				t.Fatalf("reason = %q, want %q", out.Reason, tt.wantReason)
			}
		})
	}
}

func TestEngineRejectsTimeBuiltin(t *testing.T) {
	rejectBuiltin(t, "time.now_ns()")
}

func TestEngineRejectsHttpSend(t *testing.T) {
	rejectBuiltin(t, "http.send({\"method\": \"get\", \"url\": \"https://example.com\"})")
}

func TestEngineRejectsRand(t *testing.T) {
	rejectBuiltin(t, "rand.intn(10)")
}

func rejectBuiltin(t *testing.T, expr string) {
	t.Helper()
	dir := t.TempDir()
	regoContent := `package keystone.entitlement
result := {"allow": true} {
  ` + expr + `
}`
	if err := os.WriteFile(filepath.Join(dir, "entitlement.rego"), []byte(regoContent), 0o644); err != nil {
		t.Fatalf("write rego: %v", err)
	}

	_, err := NewEngineFromBundlePath(context.Background(), dir, "test")
	if err == nil {
		t.Fatalf("expected builtin to be rejected")
	}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join("..", "..", "..", "policy", "bundles", "entitlement_v0")
	engine, err := NewEngineFromBundlePath(context.Background(), path, "entitlement_v0")
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func int64Ptr(v int64) *int64 { return &v }

func basePolicyInput() domain.PolicyInput {
	return domain.PolicyInput{
		LicenseID:   "lic-1",
		ProductCode: "ZUL",
		Tier:        "pro",
		Feature:     "api_access",
		Entitlements: []domain.Entitlement{
			{Feature: "api_access", Enabled: true},
			{Feature: "exports", Enabled: true, Limit: int64Ptr(10), Used: 10, Remaining: int64Ptr(0)},
			{Feature: "sso", Enabled: false},
		},
	}
}
