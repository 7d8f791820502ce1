package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Zeta   string   `json:"zeta"`
	Alpha  int      `json:"alpha"`
	Nested []string `json:"nested"`
}

type sampleReordered struct {
	Alpha  int      `json:"alpha"`
	Nested []string `json:"nested"`
	Zeta   string   `json:"zeta"`
}

func TestCanonical_SortsKeys(t *testing.T) {
	out, err := Canonical(sample{Zeta: "z", Alpha: 1, Nested: []string{"b", "a"}})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":1,"nested":["b","a"],"zeta":"z"}`, string(out))
}

func TestOf_IndependentOfFieldOrder(t *testing.T) {
	a, err := Of(sample{Zeta: "z", Alpha: 1, Nested: []string{"x"}})
	require.NoError(t, err)
	b, err := Of(sampleReordered{Alpha: 1, Nested: []string{"x"}, Zeta: "z"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestOf_SensitiveToValues(t *testing.T) {
	a, err := Of(map[string]any{"lookback_days": 30})
	require.NoError(t, err)
	b, err := Of(map[string]any{"lookback_days": 31})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestOf_StableAcrossCalls(t *testing.T) {
	v := map[string]any{"b": 2.5, "a": []int{3, 1}, "c": nil}
	first, err := Of(v)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Of(v)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestOf_UnsupportedValue(t *testing.T) {
	_, err := Of(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}
