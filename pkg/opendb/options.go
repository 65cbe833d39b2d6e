// Package opendb - configuration options.
package opendb

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/muhammad-fiaz/OpenDB/pkg/vector"
)

// Index preset names accepted in Options.IndexPreset.
const (
	PresetHighAccuracy = "high_accuracy"
	PresetBalanced     = "balanced"
	PresetHighSpeed    = "high_speed"
)

// Options configures a database at open time.
//
// The zero value is not useful; start from DefaultOptions and override.
// VectorDimension is sticky: the first open persists it to config.json
// and later opens must match it.
type Options struct {
	// VectorDimension is the required length of every non-empty
	// embedding. Must be positive.
	VectorDimension int `yaml:"vector_dimension"`

	// KVCacheSize is the byte-KV cache capacity in entries.
	// Zero disables the KV cache.
	KVCacheSize int `yaml:"kv_cache_size"`

	// RecordCacheSize is the record cache capacity in entries.
	// Zero disables the record cache.
	RecordCacheSize int `yaml:"record_cache_size"`

	// IndexPreset selects the HNSW construction parameters:
	// "high_accuracy", "balanced", or "high_speed".
	IndexPreset string `yaml:"index_preset"`

	// SyncWrites forces an fsync after every storage write.
	SyncWrites bool `yaml:"sync_writes"`

	// Logger receives lifecycle events. Defaults to a stderr logger
	// with the "opendb" prefix.
	Logger *log.Logger `yaml:"-"`
}

// DefaultOptions returns the standard configuration: 384-dimension
// embeddings (common for sentence-transformer models), a 1000-entry KV
// cache, a 500-entry record cache, and the balanced index preset.
func DefaultOptions() Options {
	return Options{
		VectorDimension: 384,
		KVCacheSize:     1000,
		RecordCacheSize: 500,
		IndexPreset:     PresetBalanced,
	}
}

// WithDimension returns a copy with the vector dimension set.
func (o Options) WithDimension(dimension int) Options {
	o.VectorDimension = dimension
	return o
}

// WithKVCacheSize returns a copy with the KV cache capacity set.
func (o Options) WithKVCacheSize(size int) Options {
	o.KVCacheSize = size
	return o
}

// WithRecordCacheSize returns a copy with the record cache capacity set.
func (o Options) WithRecordCacheSize(size int) Options {
	o.RecordCacheSize = size
	return o
}

// WithIndexPreset returns a copy with the HNSW preset set.
func (o Options) WithIndexPreset(preset string) Options {
	o.IndexPreset = preset
	return o
}

// Validate checks option ranges before open.
func (o Options) Validate() error {
	if o.VectorDimension <= 0 {
		return fmt.Errorf("%w: vector dimension must be positive, got %d",
			ErrInvalidInput, o.VectorDimension)
	}
	if o.KVCacheSize < 0 {
		return fmt.Errorf("%w: kv cache size must not be negative, got %d",
			ErrInvalidInput, o.KVCacheSize)
	}
	if o.RecordCacheSize < 0 {
		return fmt.Errorf("%w: record cache size must not be negative, got %d",
			ErrInvalidInput, o.RecordCacheSize)
	}
	if _, err := o.indexParams(); err != nil {
		return err
	}
	return nil
}

// indexParams resolves the preset name to HNSW parameters.
func (o Options) indexParams() (vector.Params, error) {
	switch o.IndexPreset {
	case PresetHighAccuracy:
		return vector.HighAccuracy(), nil
	case PresetBalanced, "":
		return vector.Balanced(), nil
	case PresetHighSpeed:
		return vector.HighSpeed(), nil
	default:
		return vector.Params{}, fmt.Errorf("%w: unknown index preset %q",
			ErrInvalidInput, o.IndexPreset)
	}
}

// LoadOptionsFile reads Options from a YAML file, layered over
// DefaultOptions.
//
// Example file:
//
//	vector_dimension: 768
//	kv_cache_size: 2000
//	index_preset: high_accuracy
func LoadOptionsFile(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("opendb: reading options file: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("%w: options file %s: %v", ErrInvalidInput, path, err)
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}
