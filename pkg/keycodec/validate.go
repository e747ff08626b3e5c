package keycodec

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation outcome codes, ordered by check stage so callers can tell a
// malformed key from a tampered or forged one.
const (
	CodeFormatOK       = "FORMAT_OK"
	CodeValid          = "VALID"
	CodeInvalidFormat  = "INVALID_FORMAT"
	CodeInvalidPrefix  = "INVALID_PREFIX"
	CodeInvalidSegment = "INVALID_SEGMENT"
	CodeInvalidHMAC    = "INVALID_HMAC"
)

// ValidationResult is the tagged outcome of key validation. None of the
// validation entry points panic or return errors; they fail closed here.
type ValidationResult struct {
	Valid         bool   `json:"valid"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	ProductPrefix string `json:"product_prefix,omitempty"`
}

var (
	prefixPattern  = regexp.MustCompile(`^[A-Z]{3}$`)
	segmentPattern = regexp.MustCompile(`^[` + Alphabet + `]{5}$`)
	keyPattern     = regexp.MustCompile(`^[A-Z]{3}(-[A-Z2-7]{5}){7}$`)
)

// ValidateFormat checks key structure only, independent of any secret:
// exactly 8 segments, a 3-uppercase-letter prefix, and base32 segments.
func ValidateFormat(key string) ValidationResult {
	if key == "" {
		return ValidationResult{Valid: false, Code: CodeInvalidFormat, Message: "key is empty"}
	}
	parts := strings.Split(key, "-")
	if len(parts) != totalParts {
		return ValidationResult{
			Valid:   false,
			Code:    CodeInvalidFormat,
			Message: fmt.Sprintf("expected %d segments, got %d", totalParts, len(parts)),
		}
	}
	if !prefixPattern.MatchString(parts[0]) {
		return ValidationResult{
			Valid:   false,
			Code:    CodeInvalidPrefix,
			Message: fmt.Sprintf("prefix must be %d uppercase letters", PrefixLen),
		}
	}
	for i, segment := range parts[1:] {
		if !segmentPattern.MatchString(segment) {
			return ValidationResult{
				Valid:         false,
				Code:          CodeInvalidSegment,
				Message:       fmt.Sprintf("segment %d is not valid base32 (got %q)", i+1, segment),
				ProductPrefix: parts[0],
			}
		}
	}
	return ValidationResult{
		Valid:         true,
		Code:          CodeFormatOK,
		Message:       "key format is valid",
		ProductPrefix: parts[0],
	}
}

// ValidateKey runs the format check then the signature check against one
// secret, short-circuiting on format failure.
func ValidateKey(key, secret string) ValidationResult {
	result := ValidateFormat(key)
	if !result.Valid {
		return result
	}
	if !VerifySignature(key, secret) {
		return invalidHMAC(result.ProductPrefix)
	}
	return valid(result.ProductPrefix)
}

// ValidateKeyMulti is ValidateKey against a versioned keyring.
func ValidateKeyMulti(key string, ring map[uint32]string) ValidationResult {
	result := ValidateFormat(key)
	if !result.Valid {
		return result
	}
	if !VerifySignatureMulti(key, ring) {
		return invalidHMAC(result.ProductPrefix)
	}
	return valid(result.ProductPrefix)
}

// MatchesGrammar reports whether the key matches the full key grammar in
// one regular expression. ValidateFormat gives per-stage diagnostics;
// this exists for cheap filtering.
func MatchesGrammar(key string) bool {
	return keyPattern.MatchString(key)
}

func invalidHMAC(prefix string) ValidationResult {
	return ValidationResult{
		Valid:         false,
		Code:          CodeInvalidHMAC,
		Message:       "key signature does not match; key may be tampered",
		ProductPrefix: prefix,
	}
}

func valid(prefix string) ValidationResult {
	return ValidationResult{
		Valid:         true,
		Code:          CodeValid,
		Message:       "key is structurally valid with correct signature",
		ProductPrefix: prefix,
	}
}
