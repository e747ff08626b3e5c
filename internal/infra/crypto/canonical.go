package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Canonicalize renders a value as deterministic JSON: object keys sorted,
// compact separators, stable number formatting. Identical logical content
// always yields identical bytes, which the lease and audit signatures
// depend on.
func Canonicalize(v any) ([]byte, error) {
	value, err := toJSONValue(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// toJSONValue normalizes arbitrary Go values into the generic JSON shapes
// the encoder understands. Structs and typed maps take a marshal round trip.
func toJSONValue(v any) (any, error) {
	switch value := v.(type) {
	case nil, bool, string, json.Number,
		float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		map[string]any, []any:
		return value, nil
	case json.RawMessage:
		return decodeJSON([]byte(value))
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		return decodeJSON(raw)
	}
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return nil, errors.New("invalid JSON: trailing data")
	}
	return value, nil
}

func encodeCanonical(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(v))
	case string:
		encodeString(buf, v)
	case json.Number:
		return encodeNumberString(buf, v.String())
	case float64:
		return encodeFloat(buf, v)
	case float32:
		return encodeFloat(buf, float64(v))
	case int:
		return encodeFloat(buf, float64(v))
	case int8:
		return encodeFloat(buf, float64(v))
	case int16:
		return encodeFloat(buf, float64(v))
	case int32:
		return encodeFloat(buf, float64(v))
	case int64:
		return encodeFloat(buf, float64(v))
	case uint:
		return encodeFloat(buf, float64(v))
	case uint8:
		return encodeFloat(buf, float64(v))
	case uint16:
		return encodeFloat(buf, float64(v))
	case uint32:
		return encodeFloat(buf, float64(v))
	case uint64:
		return encodeFloat(buf, float64(v))
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeString(buf, k)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("unsupported JSON type %T", value)
	}
	return nil
}

const hexDigits = "0123456789abcdef"

func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[r>>4])
				buf.WriteByte(hexDigits[r&0x0f])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

func encodeNumberString(buf *bytes.Buffer, number string) error {
	f, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return fmt.Errorf("invalid JSON number: %w", err)
	}
	return encodeFloat(buf, f)
}

// encodeFloat writes the shortest round-trippable decimal form, integers
// without a fractional part, matching the platform's sorted-key/compact
// signing convention.
func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return errors.New("invalid JSON number")
	}
	if f == 0 {
		buf.WriteString("0")
		return nil
	}

	sign := ""
	if f < 0 {
		sign = "-"
		f = -f
	}

	sci := strconv.FormatFloat(f, 'e', -1, 64)
	parts := strings.SplitN(sci, "e", 2)
	exp, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("invalid float exponent: %w", err)
	}
	digits := strings.ReplaceAll(parts[0], ".", "")

	switch {
	case exp <= -7 || exp >= 21:
		buf.WriteString(sign)
		buf.WriteString(digits[:1])
		if len(digits) > 1 {
			buf.WriteByte('.')
			buf.WriteString(digits[1:])
		}
		buf.WriteByte('e')
		buf.WriteString(strconv.Itoa(exp))
	case exp+1 >= len(digits):
		buf.WriteString(sign)
		buf.WriteString(digits)
		buf.WriteString(strings.Repeat("0", exp+1-len(digits)))
	case exp < 0:
		buf.WriteString(sign)
		buf.WriteString("0.")
		buf.WriteString(strings.Repeat("0", -(exp + 1)))
		buf.WriteString(digits)
	default:
		buf.WriteString(sign)
		buf.WriteString(digits[:exp+1])
		buf.WriteByte('.')
		buf.WriteString(digits[exp+1:])
	}
	return nil
}
