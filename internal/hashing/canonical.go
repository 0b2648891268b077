// Package hashing provides canonical JSON serialization and SHA-256 hashing.
// The canonical form is part of the audit and anchoring contract: equivalent
// payloads must hash identically regardless of key order.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ZeroHash is the 32-zero-byte sentinel used as prev_hash for the first
// audit entry.
var ZeroHash = strings.Repeat("0", 64)

// Canonical serializes v as deterministic JSON: object keys sorted, no
// whitespace, numbers in shortest decimal form. Non-finite floats are
// rejected because they have no JSON representation.
func Canonical(v interface{}) (string, error) {
	var sb strings.Builder
	if err := writeCanonical(&sb, v); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Sum256 returns the hex SHA-256 of the canonical form of v.
func Sum256(v interface{}) (string, error) {
	c, err := Canonical(v)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256([]byte(c))
	return hex.EncodeToString(h[:]), nil
}

// Sum256String hashes a raw string (already-canonical content).
func Sum256String(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// Sum256Bytes hashes raw bytes.
func Sum256Bytes(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func writeCanonical(sb *strings.Builder, v interface{}) error {
	switch t := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if t {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case string:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		sb.Write(b)
	case int:
		sb.WriteString(strconv.Itoa(t))
	case int64:
		sb.WriteString(strconv.FormatInt(t, 10))
	case uint64:
		sb.WriteString(strconv.FormatUint(t, 10))
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("non-finite number in hashable payload")
		}
		// Shortest form that round-trips; integral values print without
		// an exponent or trailing zeros.
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			sb.WriteString(strconv.FormatInt(int64(t), 10))
		} else {
			sb.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
		}
	case json.Number:
		sb.WriteString(t.String())
	case []interface{}:
		sb.WriteByte('[')
		for i, el := range t {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, el); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case []string:
		sb.WriteByte('[')
		for i, el := range t {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, el); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, k); err != nil {
				return err
			}
			sb.WriteByte(':')
			if err := writeCanonical(sb, t[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		// Structs and other values go through one JSON round trip and are
		// re-canonicalized as generic maps.
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		var generic interface{}
		dec := json.NewDecoder(strings.NewReader(string(b)))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			return err
		}
		return writeCanonical(sb, generic)
	}
	return nil
}
