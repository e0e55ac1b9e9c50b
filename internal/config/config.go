// Package config loads and merges codesearch configuration from hardcoded
// defaults, a user config file, a project config file, and environment
// variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// IndexDirName is the directory created under a repository root to hold the
// persisted index. It is always excluded from scanning and is appended to
// the repository's .gitignore on first use.
const IndexDirName = ".code-search"

// ProjectConfigFileNames are the project-local config files checked, in
// order, under the repository root.
var ProjectConfigFileNames = []string{".codesearch.yaml", ".codesearch.yml"}

// EmbeddingConfig configures the dense embedding model.
type EmbeddingConfig struct {
	// ModelDir is the local directory containing model.onnx and
	// tokenizer.json. The Embedder only reads from this path; fetching the
	// model into it is out of scope.
	ModelDir string `yaml:"model_dir" json:"model_dir"`
	// BatchSize is B, the embedding batch size (default 32).
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// Provider selects the embedding backend: "static" (default, fully
	// local, no model files) or "onnx". See internal/embed.
	Provider string `yaml:"provider" json:"provider"`
}

// SubmoduleConfig controls git submodule discovery during scanning.
type SubmoduleConfig struct {
	// Enabled turns on .gitmodules parsing; initialized submodules are
	// scanned with paths relative to the parent repository root.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Recursive descends into nested submodules.
	Recursive bool `yaml:"recursive" json:"recursive"`
	// Include/Exclude filter submodules by name or path glob.
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// StoreConfig configures the persistent vector/metadata store.
type StoreConfig struct {
	// IndexDir overrides IndexDirName (mostly useful for tests).
	IndexDir string `yaml:"index_dir" json:"index_dir"`
	// HNSW graph construction/search parameters.
	M              int `yaml:"hnsw_m" json:"hnsw_m"`
	EfConstruction int `yaml:"hnsw_ef_construction" json:"hnsw_ef_construction"`
	EfSearch       int `yaml:"hnsw_ef_search" json:"hnsw_ef_search"`
}

// Config is the complete, merged codesearch configuration.
type Config struct {
	Version int `yaml:"version" json:"version"`

	// MaxLines is the heuristic chunker's ceiling (default 60).
	MaxLines int `yaml:"max_lines" json:"max_lines"`
	// MinLines is the minimum chunk size before merging (fixed at 10 per
	// the chunking contract; exposed for tests, not meant to be tuned).
	MinLines int `yaml:"min_lines" json:"min_lines"`
	// Limit is the default result cap (default: env CODE_SEARCH_LIMIT, else 10).
	Limit int `yaml:"limit" json:"limit"`
	// Excludes are additional caller-supplied glob exclude patterns.
	Excludes []string `yaml:"excludes" json:"excludes"`

	Embedding  EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Store      StoreConfig     `yaml:"store" json:"store"`
	Submodules SubmoduleConfig `yaml:"submodules" json:"submodules"`
}

// NewConfig returns the hardcoded defaults.
func NewConfig() *Config {
	return &Config{
		Version:  1,
		MaxLines: 60,
		MinLines: 10,
		Limit:    10,
		Embedding: EmbeddingConfig{
			ModelDir:  defaultModelDir(),
			BatchSize: 32,
			Provider:  "static",
		},
		Store: StoreConfig{
			IndexDir:       IndexDirName,
			M:              32,
			EfConstruction: 128,
			EfSearch:       64,
		},
	}
}

// defaultModelDir returns ~/.cache/huggingface/codesearch, the conventional
// local model cache location; the core only reads from it.
func defaultModelDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".cache", "huggingface", "codesearch")
	}
	return filepath.Join(home, ".cache", "huggingface", "codesearch")
}

// GetUserConfigPath returns the user/global configuration file path,
// honoring XDG_CONFIG_HOME.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "codesearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "codesearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "codesearch", "config.yaml")
}

// Load merges, in increasing precedence: hardcoded defaults, the user
// config file, the project config file under dir, and environment
// variables.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.mergeYAML(userPath); err != nil {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	for _, name := range ProjectConfigFileNames {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			if err := cfg.mergeYAML(path); err != nil {
				return nil, fmt.Errorf("loading project config %s: %w", path, err)
			}
			break
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) mergeYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	c.mergeWith(&overlay)
	return nil
}

// mergeWith overlays non-zero fields of other onto c.
func (c *Config) mergeWith(other *Config) {
	if other.MaxLines != 0 {
		c.MaxLines = other.MaxLines
	}
	if other.MinLines != 0 {
		c.MinLines = other.MinLines
	}
	if other.Limit != 0 {
		c.Limit = other.Limit
	}
	if len(other.Excludes) > 0 {
		c.Excludes = append(c.Excludes, other.Excludes...)
	}
	if other.Embedding.ModelDir != "" {
		c.Embedding.ModelDir = other.Embedding.ModelDir
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}
	if other.Embedding.Provider != "" {
		c.Embedding.Provider = other.Embedding.Provider
	}
	if other.Store.IndexDir != "" {
		c.Store.IndexDir = other.Store.IndexDir
	}
	if other.Store.M != 0 {
		c.Store.M = other.Store.M
	}
	if other.Store.EfConstruction != 0 {
		c.Store.EfConstruction = other.Store.EfConstruction
	}
	if other.Store.EfSearch != 0 {
		c.Store.EfSearch = other.Store.EfSearch
	}
	if other.Submodules.Enabled {
		c.Submodules = other.Submodules
	}
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CODE_SEARCH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limit = n
		}
	}
}

// FindProjectRoot walks upward from startDir looking for a .git directory
// or a project config file, falling back to startDir itself.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		for _, name := range ProjectConfigFileNames {
			if fileExists(filepath.Join(currentDir, name)) {
				return currentDir, nil
			}
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
