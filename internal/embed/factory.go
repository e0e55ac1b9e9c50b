package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderStatic uses hash-based embeddings: fully local, deterministic,
	// no model files. The default, and the fallback when no model is cached.
	ProviderStatic ProviderType = "static"

	// ProviderONNX runs a local sentence-transformer model through ONNX
	// Runtime (internal/embed/onnx.go); fully local, no network or
	// external process, reading model.onnx/tokenizer.json from
	// EmbeddingConfig.ModelDir.
	ProviderONNX ProviderType = "onnx"
)

// NewEmbedder creates an embedder for the given provider.
// The CODESEARCH_EMBEDDER environment variable overrides the provider:
//   - "static": hash-based embeddings, no model files needed
//   - "onnx": local transformer via ONNX Runtime
//
// Query embedding caching is enabled by default (saves 50-200ms per repeated query).
// Set CODESEARCH_EMBED_CACHE=false to disable caching.
func NewEmbedder(ctx context.Context, provider ProviderType) (Embedder, error) {
	if env := os.Getenv("CODESEARCH_EMBEDDER"); env != "" {
		provider = ParseProvider(env)
	}

	var embedder Embedder
	switch provider {
	case ProviderONNX:
		embedder = newConfiguredONNXEmbedder()
	case ProviderStatic:
		embedder = NewStaticEmbedder768()
	default:
		embedder = NewStaticEmbedder768()
	}

	// Wrap with cache unless disabled (QW-1: saves 50-200ms per repeated query)
	if !isCacheDisabled() {
		embedder = NewCachedEmbedderWithDefaults(embedder)
	}

	return embedder, nil
}

// isCacheDisabled checks if embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("CODESEARCH_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// ONNXConfig holds the local model directory and output dimension for the
// ONNX provider. The CLI fills only ModelDir (from the repository config's
// embedding model directory); Dimensions is left zero there.
type ONNXConfig struct {
	ModelDir   string // directory containing model.onnx and tokenizer.json
	Dimensions int    // output embedding dimension of that model
}

// globalONNXConfig holds config file settings set via SetONNXConfig.
var globalONNXConfig ONNXConfig

// DefaultONNXDimensions is the output dimension of the common
// sentence-transformer models this provider targets (e.g. BGE-small,
// all-MiniLM-L6-v2), used when ONNXConfig.Dimensions is zero.
const DefaultONNXDimensions = 384

// SetONNXConfig sets the ONNX provider's model directory and dimension.
// Call before NewEmbedder(ctx, ProviderONNX).
func SetONNXConfig(cfg ONNXConfig) {
	globalONNXConfig = cfg
}

func newConfiguredONNXEmbedder() Embedder {
	dims := globalONNXConfig.Dimensions
	if dims == 0 {
		dims = DefaultONNXDimensions
	}
	return NewONNXEmbedder(globalONNXConfig.ModelDir, dims)
}

// ParseProvider converts a string to ProviderType
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "onnx":
		return ProviderONNX
	case "static":
		return ProviderStatic
	default:
		return ProviderStatic
	}
}

// String returns the string representation of ProviderType
func (p ProviderType) String() string {
	return string(p)
}

// ValidProviders returns all valid provider names
func ValidProviders() []string {
	return []string{
		string(ProviderStatic),
		string(ProviderONNX),
	}
}

// IsValidProvider checks if a provider name is valid
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo contains information about an embedder
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo returns information about an embedder
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	// Unwrap cached embedder to get underlying type
	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.inner
	}

	switch inner.(type) {
	case *ONNXEmbedder:
		info.Provider = ProviderONNX
	default:
		info.Provider = ProviderStatic
	}

	return info
}

// MustNewEmbedder creates an embedder and panics on failure
// Use only in tests or initialization code where failure is fatal
func MustNewEmbedder(ctx context.Context, provider ProviderType) Embedder {
	embedder, err := NewEmbedder(ctx, provider)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}
