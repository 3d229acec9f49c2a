// Package digest provides BLAKE3 content hashing over canonical JSON.
// Tree payloads and layout requests are hashed with it so that equal
// content always produces the same key regardless of map ordering.
package digest

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"sort"

	"lukechampine.com/blake3"
)

// Canonical converts a value to JSON with stable key ordering.
func Canonical(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var obj interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// Sum returns the BLAKE3-256 hash of data.
func Sum(data []byte) []byte {
	h := blake3.Sum256(data)
	return h[:]
}

// SumHex returns the hex-encoded BLAKE3-256 hash of data.
func SumHex(data []byte) string {
	return hex.EncodeToString(Sum(data))
}

// Of hashes the canonical JSON form of v, prefixed by kind so that
// different value kinds never collide. Returns a hex string.
func Of(kind string, v interface{}) (string, error) {
	canonical, err := Canonical(v)
	if err != nil {
		return "", err
	}
	data := append([]byte(kind+"\n"), canonical...)
	return SumHex(data), nil
}
