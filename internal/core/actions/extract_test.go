package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPath_NestedMap(t *testing.T) {
	data := map[string]any{"a": map[string]any{"b": 5}}
	assert.Equal(t, 5, ExtractPath(data, "a.b"))
}

func TestExtractPath_EmptyPathIsIdentity(t *testing.T) {
	data := map[string]any{"x": 1}
	assert.Equal(t, data, ExtractPath(data, ""))
	assert.Equal(t, data, ExtractPath(data, "   "))

	list := []any{1, 2, 3}
	assert.Equal(t, list, ExtractPath(list, ""))
}

func TestExtractPath_SliceIndices(t *testing.T) {
	data := map[string]any{"a": []any{10, 20, 30}}

	assert.Equal(t, 10, ExtractPath(data, "a.0"))
	assert.Equal(t, 30, ExtractPath(data, "a.2"))
	assert.Equal(t, 30, ExtractPath(data, "a.-1"))
	assert.Equal(t, 10, ExtractPath(data, "a.-3"))
}

func TestExtractPath_SliceIndexOutOfBounds(t *testing.T) {
	data := map[string]any{"a": []any{10, 20, 30}}

	assert.Nil(t, ExtractPath(data, "a.5"))
	assert.Nil(t, ExtractPath(data, "a.3"))
	assert.Nil(t, ExtractPath(data, "a.-4"))
}

func TestExtractPath_NonNumericSliceSegment(t *testing.T) {
	data := map[string]any{"a": []any{10, 20, 30}}
	assert.Nil(t, ExtractPath(data, "a.first"))
}

func TestExtractPath_NilShortCircuits(t *testing.T) {
	data := map[string]any{"a": nil}
	assert.Nil(t, ExtractPath(data, "a.b"))
}

func TestExtractPath_MissingKey(t *testing.T) {
	data := map[string]any{"a": map[string]any{"b": 5}}

	// Final segment missing: nil, indistinguishable from a stored nil.
	assert.Nil(t, ExtractPath(data, "a.c"))
	// Non-final segment missing: short-circuits on the next hop.
	assert.Nil(t, ExtractPath(data, "a.c.d"))
}

func TestExtractPath_ScalarWithSegmentsRemaining(t *testing.T) {
	data := map[string]any{"a": 5}
	assert.Nil(t, ExtractPath(data, "a.b"))
}

func TestExtractPath_DeepMixedStructure(t *testing.T) {
	data := map[string]any{
		"weather": map[string]any{
			"forecast": []any{
				map[string]any{"temp": 21.5},
				map[string]any{"temp": 18.0},
			},
		},
	}

	assert.Equal(t, 21.5, ExtractPath(data, "weather.forecast.0.temp"))
	assert.Equal(t, 18.0, ExtractPath(data, "weather.forecast.-1.temp"))
}

func TestExtractPath_Idempotent(t *testing.T) {
	data := map[string]any{"a": []any{map[string]any{"b": "v"}}}

	first := ExtractPath(data, "a.0.b")
	second := ExtractPath(data, "a.0.b")
	assert.Equal(t, first, second)
	assert.Equal(t, "v", first)
}
