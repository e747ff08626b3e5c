package crypto

import (
	"encoding/json"
	"testing"
)

func TestCanonicalize_SortsKeysCompact(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{
			name:  "map keys sorted",
			input: map[string]any{"b": 1, "a": 2, "c": 3},
			want:  `{"a":2,"b":1,"c":3}`,
		},
		{
			name: "nested structures",
			input: map[string]any{
				"detail":     map[string]any{"tier": "pro", "count": 3},
				"actor":      "system",
				"prev_hash":  nil,
				"event_type": "license.created",
			},
			want: `{"actor":"system","detail":{"count":3,"tier":"pro"},"event_type":"license.created","prev_hash":null}`,
		},
		{
			name:  "arrays keep order",
			input: []any{"b", "a", 1, true, nil},
			want:  `["b","a",1,true,null]`,
		},
		{
			name:  "string escapes",
			input: map[string]any{"msg": "line1\nline2\t\"quoted\"\\"},
			want:  `{"msg":"line1\nline2\t\"quoted\"\\"}`,
		},
		{
			name:  "control characters",
			input: "\x01",
			want:  "\"\\u0001\"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.input)
			if err != nil {
				t.Fatalf("canonicalize: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("canonical = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCanonicalize_Numbers(t *testing.T) {
	tests := []struct {
		input any
		want  string
	}{
		{int64(0), "0"},
		{int64(86400), "86400"},
		{uint32(31), "31"},
		{float64(1.5), "1.5"},
		{float64(0.05), "0.05"},
		{float64(-3), "-3"},
		{json.Number("100000"), "100000"},
		{float64(1e21), "1e21"},
	}
	for _, tt := range tests {
		got, err := Canonicalize(tt.input)
		if err != nil {
			t.Fatalf("canonicalize %v: %v", tt.input, err)
		}
		if string(got) != tt.want {
			t.Fatalf("canonical(%v) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestCanonicalize_StructsViaTags(t *testing.T) {
	type payload struct {
		LicenseID string   `json:"license_id"`
		Limit     *int64   `json:"limit"`
		Features  []string `json:"features"`
	}
	got, err := Canonicalize(payload{LicenseID: "lic-1", Features: []string{"x"}})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"features":["x"],"license_id":"lic-1","limit":null}`
	if string(got) != want {
		t.Fatalf("canonical = %s, want %s", got, want)
	}
}

func TestCanonicalize_Deterministic(t *testing.T) {
	input := map[string]any{"z": []any{1, 2}, "a": map[string]any{"k": "v"}, "m": true}
	first, err := Canonicalize(input)
	if err != nil {
		t.Fatalf("canonicalize first: %v", err)
	}
	for i := 0; i < 50; i++ {
		next, err := Canonicalize(input)
		if err != nil {
			t.Fatalf("canonicalize repeat: %v", err)
		}
		if string(next) != string(first) {
			t.Fatalf("non-deterministic canonical output: %s vs %s", first, next)
		}
	}
}

func TestCanonicalize_RejectsInvalid(t *testing.T) {
	if _, err := Canonicalize(json.RawMessage(`{"a":1} trailing`)); err == nil {
		t.Fatal("expected error for trailing data")
	}
	if _, err := Canonicalize(map[string]any{"f": func() {}}); err == nil {
		t.Fatal("expected error for unmarshalable value")
	}
}

func TestSignVerifyHex(t *testing.T) {
	sig := SignHex("secret", []byte("message"))
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64", len(sig))
	}
	if !VerifyHex("secret", []byte("message"), sig) {
		t.Fatal("expected signature to verify")
	}
	if VerifyHex("other", []byte("message"), sig) {
		t.Fatal("expected wrong secret to fail")
	}
	if VerifyHex("secret", []byte("tampered"), sig) {
		t.Fatal("expected tampered message to fail")
	}
}
