package hash

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON_Deterministic(t *testing.T) {
	payload := map[string]any{
		"diagnosis": []string{"flu"},
		"risk":      "low",
	}

	h1, err := JSON(payload)
	require.NoError(t, err)

	h2, err := JSON(payload)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestJSON_DifferentPayloadsDiffer(t *testing.T) {
	h1, err := JSON(map[string]any{"diagnosis": []string{"flu"}})
	require.NoError(t, err)

	h2, err := JSON(map[string]any{"diagnosis": []string{"cold"}})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestJSON_Format(t *testing.T) {
	h, err := JSON(map[string]any{"a": 1})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(h, Prefix))

	hex := strings.TrimPrefix(h, Prefix)
	assert.Len(t, hex, 64)
	assert.Equal(t, strings.ToLower(hex), hex)
}

func TestJSON_SerializationError(t *testing.T) {
	_, err := JSON(make(chan int))
	require.ErrorIs(t, err, ErrSerialization)

	_, err = JSON(math.Inf(1))
	require.ErrorIs(t, err, ErrSerialization)
}

func TestCanonical_IgnoresKeyOrderAndWhitespace(t *testing.T) {
	a := json.RawMessage(`{"b":2,"a":1}`)
	b := json.RawMessage(`{ "a": 1, "b": 2 }`)

	ha, err := Canonical(a)
	require.NoError(t, err)

	hb, err := Canonical(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
}

func TestCanonical_InvalidJSON(t *testing.T) {
	_, err := Canonical(json.RawMessage(`{not json`))
	require.ErrorIs(t, err, ErrSerialization)
}
