package docstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetAs loads ref and decodes it into a T.
func GetAs[T any](ctx context.Context, g Getter, ref Ref) (T, error) {
	var out T
	snap, err := g.Get(ctx, ref)
	if err != nil {
		return out, err
	}
	err = snap.DataTo(&out)
	return out, err
}

// Encode renders v as a JSON object. Non-object values are rejected.
func Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("document must be a JSON object, got %T", v)
	}
	return raw, nil
}

// FilterDocument renders equality filters as a JSON object suitable for a
// containment match.
func FilterDocument(filters []Filter) ([]byte, error) {
	m := make(map[string]any, len(filters))
	for _, f := range filters {
		m[f.Field] = f.Value
	}
	return json.Marshal(m)
}

// MergeJSON shallow-merges the top-level fields of patch into base.
func MergeJSON(base, patch []byte) ([]byte, error) {
	var b, p map[string]json.RawMessage
	if len(base) > 0 {
		if err := json.Unmarshal(base, &b); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal(patch, &p); err != nil {
		return nil, err
	}
	if b == nil {
		b = make(map[string]json.RawMessage, len(p))
	}
	for k, v := range p {
		b[k] = v
	}
	return json.Marshal(b)
}
