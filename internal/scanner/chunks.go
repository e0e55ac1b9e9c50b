package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/aman-cerp/codesearch/internal/chunk"
	"github.com/aman-cerp/codesearch/internal/errkind"
)

// ChunkResult is one file's chunks, or a per-file scan error. A ScanError
// is logged and skipped by the caller; it never aborts the scan.
type ChunkResult struct {
	Path   string
	Chunks []chunk.Chunk
	Err    error
}

// ScanChunks drives Scan and, behind a small worker pool, reads each
// discovered file's content and splits it into Chunks. This is the
// "parallel worker pool performs directory walking and chunking" half of
// the scheduling model: the directory walk itself streams FileInfo, and a
// fixed number of chunking workers consume that stream concurrently since
// chunking (tokenizing, tree-sitter parsing) is the CPU-bound part.
func (s *Scanner) ScanChunks(ctx context.Context, opts *ScanOptions, maxLines int) (<-chan ChunkResult, error) {
	files, err := s.Scan(ctx, opts)
	if err != nil {
		return nil, err
	}

	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}

	out := make(chan ChunkResult, workers*4)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			chunker := chunk.NewChunker()
			defer chunker.Close()

			for result := range files {
				if result.Error != nil {
					select {
					case out <- ChunkResult{Err: fmt.Errorf("%w: %v", errkind.ErrScan, result.Error)}:
					case <-ctx.Done():
						return
					}
					continue
				}

				chunks, err := chunkOneFile(ctx, chunker, result.File, maxLines)
				select {
				case out <- ChunkResult{Path: filepath.ToSlash(result.File.Path), Chunks: chunks, Err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

func chunkOneFile(ctx context.Context, chunker *chunk.Chunker, file *FileInfo, maxLines int) ([]chunk.Chunk, error) {
	content, err := os.ReadFile(file.AbsPath)
	if err != nil {
		slog.Warn("scan_read_failed", slog.String("path", file.Path), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: read %s: %v", errkind.ErrScan, file.Path, err)
	}

	chunks, err := chunker.ChunkFile(ctx, file.Path, content, file.ModTime.Unix(), maxLines)
	if err != nil {
		slog.Warn("scan_chunk_failed", slog.String("path", file.Path), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: chunk %s: %v", errkind.ErrScan, file.Path, err)
	}
	return chunks, nil
}
