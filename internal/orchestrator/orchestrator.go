// Package orchestrator implements the single operation a user invokes:
// scan a repository, reconcile it against the persisted index, re-embed
// what changed, and return ranked search results for a query.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aman-cerp/codesearch/internal/chunk"
	"github.com/aman-cerp/codesearch/internal/config"
	"github.com/aman-cerp/codesearch/internal/embed"
	"github.com/aman-cerp/codesearch/internal/errkind"
	"github.com/aman-cerp/codesearch/internal/retriever"
	"github.com/aman-cerp/codesearch/internal/scanner"
	"github.com/aman-cerp/codesearch/internal/store"
)

// progressLogCadence reports embedding progress every this many chunks.
const progressLogCadence = 10 * embed.DefaultBatchSize

// Orchestrator drives Scan → diff → delete/upsert → retrieve for one or
// more repositories. One Orchestrator may serve many requests against the
// same repo_root; its Store handles are kept open for the Orchestrator's
// lifetime, so a long-running server holds each index open across
// requests. A short-lived CLI process that creates one Orchestrator per
// invocation and closes it on exit gets the same "opened per request"
// behavior for free.
type Orchestrator struct {
	scanner  *scanner.Scanner
	embedder embed.Embedder
	cfg      *config.Config

	mu     sync.Mutex
	stores map[string]*store.Store
}

// New creates an Orchestrator backed by sc and embedder, configured by cfg.
func New(sc *scanner.Scanner, embedder embed.Embedder, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		scanner:  sc,
		embedder: embedder,
		cfg:      cfg,
		stores:   make(map[string]*store.Store),
	}
}

// Close releases every Store opened by this Orchestrator.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var firstErr error
	for _, s := range o.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	o.stores = make(map[string]*store.Store)
	return firstErr
}

func (o *Orchestrator) openStore(ctx context.Context, repoRoot string) (*store.Store, error) {
	abs, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errkind.ErrStore, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if s, ok := o.stores[abs]; ok {
		return s, nil
	}

	storeCfg := store.DefaultVectorStoreConfig(o.embedder.Dimensions())
	storeCfg.M = o.cfg.Store.M
	storeCfg.EfConstruction = o.cfg.Store.EfConstruction
	storeCfg.EfSearch = o.cfg.Store.EfSearch

	indexDir := o.cfg.Store.IndexDir
	if indexDir == "" {
		indexDir = config.IndexDirName
	}

	s, err := store.Open(ctx, abs, indexDir, o.embedder.Dimensions(), storeCfg)
	if err != nil {
		return nil, err
	}
	o.stores[abs] = s
	return s, nil
}

// Search runs the full index-then-retrieve operation and returns up to
// limit ranked results.
func (o *Orchestrator) Search(ctx context.Context, repoRoot, query string, maxLines int, excludes []string, limit int) ([]retriever.SearchResult, error) {
	s, err := o.openStore(ctx, repoRoot)
	if err != nil {
		return nil, err
	}

	if err := o.reindex(ctx, s, repoRoot, maxLines, excludes); err != nil {
		return nil, err
	}

	return retriever.Retrieve(ctx, s, o.embedder, query, limit)
}

// observedFile is one scanned file's chunks, keyed by path in reindex.
type observedFile struct {
	mtime  int64
	chunks []chunk.Chunk
}

// reindex performs steps 2-8 of the orchestrator algorithm: concurrent
// scan + metadata fetch, diff, delete_paths, batched embed + upsert.
func (o *Orchestrator) reindex(ctx context.Context, s *store.Store, repoRoot string, maxLines int, excludes []string) error {
	g, gctx := errgroup.WithContext(ctx)

	var indexedMeta map[string]int64
	g.Go(func() error {
		var err error
		indexedMeta, err = s.IndexedMetadata(gctx)
		return err
	})

	observed := make(map[string]*observedFile)
	var observedMu sync.Mutex

	g.Go(func() error {
		opts := &scanner.ScanOptions{
			RootDir:          repoRoot,
			ExcludePatterns:  excludes,
			RespectGitignore: true,
			Submodules:       &o.cfg.Submodules,
		}
		results, err := o.scanner.ScanChunks(gctx, opts, maxLines)
		if err != nil {
			return err
		}
		for r := range results {
			if r.Err != nil {
				slog.Warn("scan_error", slog.String("path", r.Path), slog.String("error", r.Err.Error()))
				continue
			}
			if len(r.Chunks) == 0 {
				continue
			}
			observedMu.Lock()
			observed[r.Path] = &observedFile{mtime: r.Chunks[0].Mtime, chunks: r.Chunks}
			observedMu.Unlock()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	var toReindex []string
	observedPaths := make(map[string]bool, len(observed))
	for path, fc := range observed {
		observedPaths[path] = true
		storedMtime, present := indexedMeta[path]
		if !present || storedMtime != fc.mtime {
			toReindex = append(toReindex, path)
		}
	}

	var toRemove []string
	for path := range indexedMeta {
		if !observedPaths[path] {
			toRemove = append(toRemove, path)
		}
	}

	if err := s.DeletePaths(ctx, toRemove); err != nil {
		return err
	}

	if err := o.embedAndUpsert(ctx, s, observed, toReindex); err != nil {
		return err
	}

	return s.Cleanup(ctx)
}

// embedAndUpsert flattens toReindex's chunks into one stream, embeds them
// in fixed-size batches, and upserts each batch's chunk+vector pairs.
func (o *Orchestrator) embedAndUpsert(ctx context.Context, s *store.Store, observed map[string]*observedFile, toReindex []string) error {
	var all []chunk.Chunk
	for _, path := range toReindex {
		all = append(all, observed[path].chunks...)
	}
	if len(all) == 0 {
		return nil
	}

	batchSize := o.cfg.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}

	processed := 0
	for start := 0; start < len(all); start += batchSize {
		end := start + batchSize
		if end > len(all) {
			end = len(all)
		}
		batch := all[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		vectors, err := o.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("%w: %v", errkind.ErrEmbedding, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("%w: embedder returned %d vectors for %d chunks", errkind.ErrEmbedding, len(vectors), len(batch))
		}

		withVectors := make([]store.ChunkWithVector, len(batch))
		for i, c := range batch {
			withVectors[i] = store.ChunkWithVector{Chunk: c, Vector: vectors[i]}
		}
		if err := s.Upsert(ctx, withVectors); err != nil {
			return err
		}

		processed += len(batch)
		if processed%progressLogCadence == 0 {
			slog.Info("index_progress", slog.Int("chunks_embedded", processed), slog.Int("chunks_total", len(all)))
		}
	}
	return nil
}
