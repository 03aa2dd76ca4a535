package assembly

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/rendis/docgen-engine/internal/core/entity"
)

// CanonicalJSON serializes a tree deterministically: object keys in lexical
// order, arrays in iteration order, no whitespace, numbers in shortest
// round-trip form. Two equivalent trees always produce identical bytes.
func CanonicalJSON(v any) ([]byte, error) {
	var buf []byte
	return appendCanonical(buf, v)
}

func appendCanonical(buf []byte, v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case bool:
		if val {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case string:
		return appendJSONString(buf, val)
	case float64:
		return appendNumber(buf, val)
	case float32:
		return appendNumber(buf, float64(val))
	case int:
		return strconv.AppendInt(buf, int64(val), 10), nil
	case int64:
		return strconv.AppendInt(buf, val, 10), nil
	case json.Number:
		return append(buf, val.String()...), nil
	case []any:
		buf = append(buf, '[')
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			if buf, err = appendCanonical(buf, item); err != nil {
				return nil, err
			}
		}
		return append(buf, ']'), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			if buf, err = appendJSONString(buf, k); err != nil {
				return nil, err
			}
			buf = append(buf, ':')
			if buf, err = appendCanonical(buf, val[k]); err != nil {
				return nil, err
			}
		}
		return append(buf, '}'), nil
	case map[string]string:
		converted := make(map[string]any, len(val))
		for k, s := range val {
			converted[k] = s
		}
		return appendCanonical(buf, converted)
	default:
		return nil, fmt.Errorf("canonical encoding does not support %T", v)
	}
}

func appendJSONString(buf []byte, s string) ([]byte, error) {
	encoded, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding string: %w", err)
	}
	return append(buf, encoded...), nil
}

// appendNumber writes the shortest decimal that round-trips to the same
// float, matching the standard library's choice of plain or exponent form.
func appendNumber(buf []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("canonical encoding does not support non-finite numbers")
	}
	abs := math.Abs(f)
	format := byte('f')
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	return strconv.AppendFloat(buf, f, format, -1, 64), nil
}

// SingleRequestHash derives the idempotency hash of a single-template
// request.
func SingleRequestHash(templateID string, format entity.OutputFormat, data map[string]any) (string, error) {
	inner, err := dataDigest(data)
	if err != nil {
		return "", err
	}
	return outerDigest(templateID + "|" + string(format) + "|" + inner), nil
}

// CompositeRequestHash derives the idempotency hash of a composite request.
// The driving record ids take part so distinct record sets never collide.
func CompositeRequestHash(compositeID string, format entity.OutputFormat, recordIDs map[string]string, data map[string]any) (string, error) {
	inner, err := dataDigest(data)
	if err != nil {
		return "", err
	}
	ids, err := CanonicalJSON(recordIDs)
	if err != nil {
		return "", err
	}
	return outerDigest(compositeID + "|" + string(format) + "|" + string(ids) + "|" + inner), nil
}

func dataDigest(data map[string]any) (string, error) {
	canonical, err := CanonicalJSON(data)
	if err != nil {
		return "", fmt.Errorf("canonicalizing request data: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func outerDigest(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
