package docstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeJSON_ShallowTopLevel(t *testing.T) {
	base := []byte(`{"status":"active","progressSummary":{"percent":10,"totalLessons":4},"keep":1}`)
	patch := []byte(`{"status":"completed","progressSummary":{"percent":100}}`)

	out, err := MergeJSON(base, patch)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	require.Equal(t, "completed", m["status"])
	require.Equal(t, float64(1), m["keep"])
	require.Equal(t, map[string]any{"percent": float64(100)}, m["progressSummary"])
}

func TestMergeJSON_EmptyBase(t *testing.T) {
	out, err := MergeJSON(nil, []byte(`{"a":1}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(out))
}

func TestEncode_RejectsNonObjects(t *testing.T) {
	_, err := Encode([]int{1, 2})
	require.Error(t, err)

	raw, err := Encode(map[string]any{"x": true})
	require.NoError(t, err)
	require.JSONEq(t, `{"x":true}`, string(raw))
}

func TestFilterDocument(t *testing.T) {
	raw, err := FilterDocument([]Filter{Eq("userId", "u1"), Eq("processed", false)})
	require.NoError(t, err)
	require.JSONEq(t, `{"userId":"u1","processed":false}`, string(raw))
}

func TestRefAndOptions(t *testing.T) {
	require.Equal(t, "courses/c1/modules/m1", Doc("courses/c1/modules", "m1").Path())
	require.True(t, ResolveSetOptions([]SetOption{Merge()}).Merge)
	require.False(t, ResolveSetOptions(nil).Merge)
}
