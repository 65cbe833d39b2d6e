// Package codec handles the stable on-disk encoding of OpenDB values.
//
// Records and edge lists are stored as a one-byte format tag followed by a
// canonical JSON body. The tag makes the format forward-compatible: a
// future schema can bump the tag and keep decoding old data. JSON keeps
// values debuggable with standard tooling and is deterministic for
// identical inputs (encoding/json emits struct fields in declaration order
// and sorts map keys).
//
// Embedding vectors are not JSON: they are stored as a packed
// little-endian float32 array so a 384-dim embedding costs 1536 bytes, not
// a few KB of decimal text.
//
// Decoders never panic on malformed input; they return ErrMalformed or
// ErrUnsupportedFormat.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/muhammad-fiaz/OpenDB/pkg/model"
)

// FormatVersion is the current encoding format tag. Stored as the first
// byte of every encoded record and edge list.
const FormatVersion = byte(0x01)

var (
	// ErrMalformed is returned when encoded bytes cannot be decoded.
	ErrMalformed = errors.New("codec: malformed data")

	// ErrUnsupportedFormat is returned when the format tag is unknown.
	ErrUnsupportedFormat = errors.New("codec: unsupported format version")
)

// EncodeMemory serializes a memory record.
func EncodeMemory(m *model.Memory) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("codec: encoding memory %q: %w", m.ID, err)
	}
	return prependTag(body), nil
}

// DecodeMemory deserializes a memory record.
func DecodeMemory(data []byte) (*model.Memory, error) {
	body, err := checkTag(data)
	if err != nil {
		return nil, err
	}
	var m model.Memory
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: memory: %v", ErrMalformed, err)
	}
	return &m, nil
}

// EncodeEdges serializes an edge list (one graph bucket).
func EncodeEdges(edges []model.Edge) ([]byte, error) {
	if edges == nil {
		edges = []model.Edge{}
	}
	body, err := json.Marshal(edges)
	if err != nil {
		return nil, fmt.Errorf("codec: encoding edges: %w", err)
	}
	return prependTag(body), nil
}

// DecodeEdges deserializes an edge list. Empty input decodes to an empty
// list, so a missing bucket and an empty bucket are interchangeable.
func DecodeEdges(data []byte) ([]model.Edge, error) {
	if len(data) == 0 {
		return []model.Edge{}, nil
	}
	body, err := checkTag(data)
	if err != nil {
		return nil, err
	}
	var edges []model.Edge
	if err := json.Unmarshal(body, &edges); err != nil {
		return nil, fmt.Errorf("%w: edges: %v", ErrMalformed, err)
	}
	return edges, nil
}

// EncodeVector packs an embedding as little-endian float32s.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector unpacks a little-endian float32 array. The byte length
// must be a multiple of 4.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: vector blob length %d not a multiple of 4", ErrMalformed, len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

func prependTag(body []byte) []byte {
	out := make([]byte, 0, 1+len(body))
	out = append(out, FormatVersion)
	return append(out, body...)
}

func checkTag(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty byte array", ErrMalformed)
	}
	if data[0] != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFormat, data[0])
	}
	return data[1:], nil
}
