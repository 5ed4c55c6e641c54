package toolindex

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kagenti/mcp-hub/internal/settings"
)

func TestNewIndexReturnsNoopWhenDisabled(t *testing.T) {
	idx := NewIndex(settings.SmartRoutingConfig{Enabled: false})
	results, err := idx.Search(t.Context(), "anything", 10, 0.3, nil)
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestCosineSimilarityIdentical(t *testing.T) {
	v := []float32{1, 0, 0}
	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 0.0001)
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 0.0001)
}

func TestCosineSimilarityMismatchedLengths(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{1}))
}
