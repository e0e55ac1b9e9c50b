package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/aman-cerp/codesearch/internal/chunk"
	"github.com/aman-cerp/codesearch/internal/errkind"
)

const (
	vectorFileName = "vectors.hnsw"
	metaDBFileName = "metadata.db"
	schemaVersion  = 1
)

// ChunkWithVector pairs a Chunk with its dense embedding, the unit the
// Orchestrator hands to Upsert.
type ChunkWithVector struct {
	chunk.Chunk
	Vector []float32
}

// ScoredChunk is a Chunk annotated with a similarity score in [0, 1].
type ScoredChunk struct {
	chunk.Chunk
	Score float32
}

// Store is the persistent table keyed logically by (file_path, chunk_index):
// a modernc.org/sqlite table for chunk content and line ranges, and an HNSW
// graph for the vector column. A gofrs/flock lock over the index directory
// serializes upserts across processes.
type Store struct {
	mu sync.Mutex

	repoRoot string
	indexDir string

	db     *sql.DB
	vector VectorStore
	lock   *indexLock
}

// Open opens or creates repoRoot/<indexDirName>. dimensions must match the
// embedder in use; a mismatch against a previously-persisted index is a
// fatal schema error (errkind.ErrStore, with the ErrDimensionMismatch
// message in its text).
func Open(ctx context.Context, repoRoot, indexDirName string, dimensions int, cfg VectorStoreConfig) (*Store, error) {
	indexDir := filepath.Join(repoRoot, indexDirName)
	if err := os.MkdirAll(indexDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create index directory: %v", errkind.ErrStore, err)
	}
	ensureGitignoreEntry(repoRoot, indexDirName)

	lock := newIndexLock(indexDir)
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("%w: %v", errkind.ErrStore, err)
	}

	db, err := openMetadataDB(filepath.Join(indexDir, metaDBFileName))
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("%w: open metadata db: %v", errkind.ErrStore, err)
	}

	cfg.Dimensions = dimensions
	vectorPath := filepath.Join(indexDir, vectorFileName)
	vec, err := openVectorStore(vectorPath, cfg)
	if err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("%w: %v", errkind.ErrStore, err)
	}

	return &Store{
		repoRoot: repoRoot,
		indexDir: indexDir,
		db:       db,
		vector:   vec,
		lock:     lock,
	}, nil
}

// ensureGitignoreEntry appends indexDirName/ to repoRoot/.gitignore unless
// an entry for it already exists. Best effort: a repository whose .gitignore
// cannot be written still gets a working index.
func ensureGitignoreEntry(repoRoot, indexDirName string) {
	gitignorePath := filepath.Join(repoRoot, ".gitignore")
	entry := indexDirName + "/"

	data, err := os.ReadFile(gitignorePath)
	if err != nil && !os.IsNotExist(err) {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == entry || trimmed == indexDirName {
			return
		}
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Warn("gitignore_update_failed", slog.String("path", gitignorePath), slog.String("error", err.Error()))
		return
	}
	defer f.Close()

	var prefix string
	if len(data) > 0 && data[len(data)-1] != '\n' {
		prefix = "\n"
	}
	if _, err := f.WriteString(prefix + entry + "\n"); err != nil {
		slog.Warn("gitignore_update_failed", slog.String("path", gitignorePath), slog.String("error", err.Error()))
	}
}

func openMetadataDB(path string) (*sql.DB, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_info (version INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS chunks (
	file_path   TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	line_start  INTEGER NOT NULL,
	line_end    INTEGER NOT NULL,
	mtime       INTEGER NOT NULL,
	PRIMARY KEY (file_path, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_chunks_file_path ON chunks(file_path);
`); err != nil {
		db.Close()
		return nil, err
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_info`).Scan(&count); err != nil {
		db.Close()
		return nil, err
	}
	if count == 0 {
		if _, err := db.Exec(`INSERT INTO schema_info (version) VALUES (?)`, schemaVersion); err != nil {
			db.Close()
			return nil, err
		}
	} else {
		var version int
		if err := db.QueryRow(`SELECT version FROM schema_info LIMIT 1`).Scan(&version); err != nil {
			db.Close()
			return nil, err
		}
		if version != schemaVersion {
			db.Close()
			return nil, fmt.Errorf("schema version %d does not match expected %d", version, schemaVersion)
		}
	}

	return db, nil
}

func openVectorStore(path string, cfg VectorStoreConfig) (VectorStore, error) {
	if _, err := os.Stat(path + ".meta"); err == nil {
		existingDims, err := ReadHNSWStoreDimensions(path)
		if err != nil {
			return nil, fmt.Errorf("read vector store dimensions: %w", err)
		}
		if existingDims != cfg.Dimensions {
			return nil, ErrDimensionMismatch{Expected: existingDims, Got: cfg.Dimensions}
		}
		vec, err := NewHNSWStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := vec.Load(path); err != nil {
			return nil, fmt.Errorf("load vector store: %w", err)
		}
		return vec, nil
	}
	return NewHNSWStore(cfg)
}

// chunkKey is the vector store's row identity for (filePath, chunkIndex).
func chunkKey(filePath string, chunkIndex int) string {
	return fmt.Sprintf("%s\x00%d", filePath, chunkIndex)
}

func splitChunkKey(key string) (filePath string, chunkIndex int, ok bool) {
	idx := strings.LastIndexByte(key, 0)
	if idx < 0 {
		return "", 0, false
	}
	var n int
	if _, err := fmt.Sscanf(key[idx+1:], "%d", &n); err != nil {
		return "", 0, false
	}
	return key[:idx], n, true
}

// IndexedMetadata projects the table to one row per distinct file_path,
// keyed to that file's stored mtime.
func (s *Store) IndexedMetadata(ctx context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT file_path, MIN(mtime) FROM chunks GROUP BY file_path`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errkind.ErrStore, err)
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var path string
		var mtime int64
		if err := rows.Scan(&path, &mtime); err != nil {
			return nil, fmt.Errorf("%w: %v", errkind.ErrStore, err)
		}
		result[path] = mtime
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errkind.ErrStore, err)
	}
	return result, nil
}

// DeletePaths removes all rows whose file_path is in paths. A no-op on an
// empty set.
func (s *Store) DeletePaths(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletePathsLocked(ctx, paths)
}

func (s *Store) deletePathsLocked(ctx context.Context, paths []string) error {
	for _, path := range paths {
		if err := s.deleteOnePathLocked(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) deleteOnePathLocked(ctx context.Context, path string) error {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_index FROM chunks WHERE file_path = ?`, path)
	if err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrStore, err)
	}
	var keys []string
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			rows.Close()
			return fmt.Errorf("%w: %v", errkind.ErrStore, err)
		}
		keys = append(keys, chunkKey(path, idx))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrStore, err)
	}

	if len(keys) > 0 {
		if err := s.vector.Delete(ctx, keys); err != nil {
			return fmt.Errorf("%w: %v", errkind.ErrStore, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = ?`, path); err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrStore, err)
	}
	return nil
}

// Upsert replaces, per distinct file_path in chunks, all of that path's
// rows with the given ones. Atomic per file; callers must serialize
// concurrent upserts for the same path.
func (s *Store) Upsert(ctx context.Context, chunks []ChunkWithVector) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byPath := make(map[string][]ChunkWithVector)
	var order []string
	for _, c := range chunks {
		if _, seen := byPath[c.FilePath]; !seen {
			order = append(order, c.FilePath)
		}
		byPath[c.FilePath] = append(byPath[c.FilePath], c)
	}

	for _, path := range order {
		if err := s.upsertOnePathLocked(ctx, path, byPath[path]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertOnePathLocked(ctx context.Context, path string, chunks []ChunkWithVector) error {
	if err := s.deleteOnePathLocked(ctx, path); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrStore, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (file_path, chunk_index, content, line_start, line_end, mtime)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: %v", errkind.ErrStore, err)
	}

	ids := make([]string, 0, len(chunks))
	vectors := make([][]float32, 0, len(chunks))
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.FilePath, c.ChunkIndex, c.Content, c.LineStart, c.LineEnd, c.Mtime); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("%w: %v", errkind.ErrStore, err)
		}
		ids = append(ids, chunkKey(c.FilePath, c.ChunkIndex))
		vectors = append(vectors, c.Vector)
	}
	stmt.Close()

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrStore, err)
	}

	if err := s.vector.Add(ctx, ids, vectors); err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrStore, err)
	}
	return nil
}

// Search returns up to k approximate nearest neighbors to queryVec, scored
// by 1 - cosine distance clamped to [0, 1], ordered by descending score.
func (s *Store) Search(ctx context.Context, queryVec []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	results, err := s.vector.Search(ctx, queryVec, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errkind.ErrStore, err)
	}

	out := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		path, idx, ok := splitChunkKey(r.ID)
		if !ok {
			continue
		}
		var content string
		var lineStart, lineEnd int
		var mtime int64
		err := s.db.QueryRowContext(ctx,
			`SELECT content, line_start, line_end, mtime FROM chunks WHERE file_path = ? AND chunk_index = ?`,
			path, idx).Scan(&content, &lineStart, &lineEnd, &mtime)
		if err == sql.ErrNoRows {
			continue // vector/row went out of sync; skip rather than fail the whole search
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errkind.ErrStore, err)
		}
		out = append(out, ScoredChunk{
			Chunk: chunk.Chunk{
				FilePath:   path,
				ChunkIndex: idx,
				Content:    content,
				LineStart:  lineStart,
				LineEnd:    lineEnd,
				Mtime:      mtime,
			},
			Score: r.Score,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// Cleanup reclaims space occupied by superseded versions: superseded sqlite
// pages via VACUUM, and the vector graph's lazy-deleted orphans via Compact.
// Safe to call after any batch of upserts; never mandatory for correctness.
func (s *Store) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrStore, err)
	}

	dropped, err := s.vector.Compact(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrStore, err)
	}
	if dropped > 0 {
		slog.Debug("index_compacted",
			slog.Int("orphans_dropped", dropped),
			slog.Int("vectors", s.vector.Count()))
	}

	return s.vector.Save(filepath.Join(s.indexDir, vectorFileName))
}

// Close persists the vector store, closes the metadata database, and
// releases the index directory lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if err := s.vector.Save(filepath.Join(s.indexDir, vectorFileName)); err != nil {
		errs = append(errs, err)
	}
	if err := s.vector.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.lock.Unlock(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", errkind.ErrStore, errs[0])
	}
	return nil
}
