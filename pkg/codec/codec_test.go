package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muhammad-fiaz/OpenDB/pkg/model"
)

func TestMemoryRoundTrip(t *testing.T) {
	mem := model.NewMemory("test_id", "test content", []float32{1.0, 2.0, 3.0}, 0.5)
	mem.WithMetadata("source", "unit-test")

	encoded, err := EncodeMemory(mem)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, encoded[0])

	decoded, err := DecodeMemory(encoded)
	require.NoError(t, err)

	assert.Equal(t, mem.ID, decoded.ID)
	assert.Equal(t, mem.Content, decoded.Content)
	assert.Equal(t, mem.Embedding, decoded.Embedding)
	assert.Equal(t, mem.Importance, decoded.Importance)
	assert.Equal(t, mem.Timestamp, decoded.Timestamp)
	assert.Equal(t, mem.Metadata, decoded.Metadata)
}

func TestMemoryEncodingDeterministic(t *testing.T) {
	mem := model.NewMemory("m", "content", nil, 0.3)
	mem.WithMetadata("b", "2")
	mem.WithMetadata("a", "1")
	mem.WithMetadata("c", "3")

	first, err := EncodeMemory(mem)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := EncodeMemory(mem)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDecodeMemoryRejectsMalformed(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		_, err := DecodeMemory(nil)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("unknown format tag", func(t *testing.T) {
		_, err := DecodeMemory([]byte{0xFF, '{', '}'})
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("garbage body", func(t *testing.T) {
		_, err := DecodeMemory([]byte{FormatVersion, 0x00, 0x01, 0x02})
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("truncated json", func(t *testing.T) {
		good, err := EncodeMemory(model.NewMemory("m", "c", nil, 0.1))
		require.NoError(t, err)
		_, err = DecodeMemory(good[:len(good)/2])
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestEdgesRoundTrip(t *testing.T) {
	edges := []model.Edge{
		{From: "a", Relation: "knows", To: "b", Weight: 1.0, Timestamp: 100},
		{From: "a", Relation: "knows", To: "c", Weight: 0.5, Timestamp: 200},
	}

	encoded, err := EncodeEdges(edges)
	require.NoError(t, err)

	decoded, err := DecodeEdges(encoded)
	require.NoError(t, err)
	assert.Equal(t, edges, decoded)
}

func TestDecodeEdgesEmptyInput(t *testing.T) {
	// A missing bucket and an empty bucket are interchangeable.
	decoded, err := DecodeEdges(nil)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestEncodeEdgesNilSlice(t *testing.T) {
	encoded, err := EncodeEdges(nil)
	require.NoError(t, err)

	decoded, err := DecodeEdges(encoded)
	require.NoError(t, err)
	assert.NotNil(t, decoded)
	assert.Empty(t, decoded)
}

func TestDecodeEdgesRejectsMalformed(t *testing.T) {
	_, err := DecodeEdges([]byte{0x7F})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = DecodeEdges([]byte{FormatVersion, 'x'})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.1, -2.5, 3.75, 0}

	encoded := EncodeVector(vec)
	assert.Len(t, encoded, 16)

	decoded, err := DecodeVector(encoded)
	require.NoError(t, err)
	assert.Equal(t, vec, decoded)
}

func TestVectorEmpty(t *testing.T) {
	decoded, err := DecodeVector(EncodeVector(nil))
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecodeVectorRejectsBadLength(t *testing.T) {
	_, err := DecodeVector([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformed)
}
