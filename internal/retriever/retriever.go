// Package retriever implements query-time ranking: embed the query, recall
// an over-fetched candidate set from the Store, apply a lexical boost,
// filter noise, cap per-file diversity, and truncate to the caller's limit.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aman-cerp/codesearch/internal/chunk"
	"github.com/aman-cerp/codesearch/internal/embed"
	"github.com/aman-cerp/codesearch/internal/errkind"
	"github.com/aman-cerp/codesearch/internal/store"
)

// LexicalBoost is the fixed score bonus applied when the query text occurs,
// case-insensitively, as a substring of a candidate's content.
const LexicalBoost = 0.1

// ScoreEpsilon is the minimum score a candidate must clear to survive the
// filter stage; it exists to drop near-zero noise results.
const ScoreEpsilon = 0.01

// MaxPerFile is the diversity cap: at most this many results may come from
// any one file_path.
const MaxPerFile = 3

// overfetchMultiplier controls how many candidates are recalled from the
// Store relative to the requested limit, before reranking and filtering.
const overfetchMultiplier = 3

// SearchResult is a Chunk scored against a query, in [0, 1+LexicalBoost].
type SearchResult struct {
	chunk.Chunk
	Score float32
}

// Searcher is the subset of the Store's contract the Retriever depends on.
type Searcher interface {
	Search(ctx context.Context, queryVec []float32, k int) ([]store.ScoredChunk, error)
}

// Retrieve embeds queryText, recalls 3*limit candidates from s, reranks with
// a lexical substring boost, filters near-zero scores, caps results per
// file_path, and truncates to limit.
//
// An empty (or whitespace-only) queryText fails with errkind.ErrInvalidQuery.
// limit == 0 returns an empty result without invoking s or embedder.
func Retrieve(ctx context.Context, s Searcher, embedder embed.Embedder, queryText string, limit int) ([]SearchResult, error) {
	trimmed := strings.TrimSpace(queryText)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: query is empty", errkind.ErrInvalidQuery)
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must be non-negative", errkind.ErrInvalidQuery)
	}
	if limit == 0 {
		return nil, nil
	}

	queryVec, err := embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errkind.ErrEmbedding, err)
	}

	candidates, err := s.Search(ctx, queryVec, limit*overfetchMultiplier)
	if err != nil {
		return nil, err
	}

	results := rerank(candidates, queryText)
	results = filter(results, ScoreEpsilon)
	sortByScoreThenTieBreak(results)
	results = capPerFile(results, MaxPerFile)

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// rerank applies the fixed lexical boost to any candidate whose content
// contains a case-insensitive substring match of queryText.
func rerank(candidates []store.ScoredChunk, queryText string) []SearchResult {
	needle := strings.ToLower(queryText)
	out := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		score := c.Score
		if strings.Contains(strings.ToLower(c.Content), needle) {
			score += LexicalBoost
		}
		out = append(out, SearchResult{Chunk: c.Chunk, Score: score})
	}
	return out
}

func filter(results []SearchResult, epsilon float32) []SearchResult {
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if r.Score > epsilon {
			out = append(out, r)
		}
	}
	return out
}

// sortByScoreThenTieBreak orders by descending score, breaking ties by
// (file_path ascending, line_start ascending, chunk_index ascending).
func sortByScoreThenTieBreak(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.LineStart != b.LineStart {
			return a.LineStart < b.LineStart
		}
		return a.ChunkIndex < b.ChunkIndex
	})
}

// capPerFile walks results in order, keeping at most maxPerFile from any
// one file_path. Excess candidates are discarded, not re-sorted.
func capPerFile(results []SearchResult, maxPerFile int) []SearchResult {
	counts := make(map[string]int)
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if counts[r.FilePath] >= maxPerFile {
			continue
		}
		counts[r.FilePath]++
		out = append(out, r)
	}
	return out
}
