// Package store provides persistence for indexed chunks: a vector index for
// semantic search and a small SQLite table mapping (file_path, chunk_index)
// to chunk metadata and mtime.
package store

import (
	"context"
	"fmt"
)

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // Chunk key ("file_path\x00chunk_index")
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension, determined by the embedder in use.
	Dimensions int

	// Quantization records a vector precision label: "f32", "f16", "i8"
	// (default: "f16"). HNSWStore does not apply it; vectors are stored as float32.
	Quantization string

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean) (default: "cos")
	Metric string

	// M is HNSW max connections per layer (default: 32)
	M int

	// EfConstruction is the HNSW build-time search width (default: 128). It is
	// carried in the config and saved metadata; HNSWStore does not pass it to
	// the coder/hnsw graph.
	EfConstruction int

	// EfSearch is HNSW query-time search width (default: 64)
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Quantization:   "f16",
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorStore provides semantic search using the HNSW algorithm.
type VectorStore interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds k nearest neighbors to query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// Compact reclaims space held by deleted entries, returning how many
	// were dropped. May be a no-op below the implementation's thresholds.
	Compact(ctx context.Context) (int, error)

	// Count returns number of vectors.
	Count() int

	// Persistence.
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch between the
// store's configured dimensions and a vector passed to Add.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (delete the index directory to reindex)", e.Expected, e.Got)
}
