package requestcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
)

// Key derives the canonical signature of an input descriptor.
//
// The descriptor is encoded to JSON, decoded into generic values and encoded
// again, which sorts object keys and forgets struct field order. Numbers are
// normalised so that 1, 1.0 and int64(1) agree. Logically equal descriptors
// always produce the same key.
func Key(descriptor any) (string, error) {
	canonical, err := canonicalJSON(descriptor)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalJSON(descriptor any) ([]byte, error) {
	raw, err := json.Marshal(descriptor)
	if err != nil {
		return nil, fmt.Errorf("encode descriptor: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}

	return json.Marshal(normalize(generic))
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = normalize(child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = normalize(child)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	default:
		return t
	}
}
