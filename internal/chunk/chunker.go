package chunk

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
)

// MinChunkLines is the minimum chunk size before small syntax captures are
// merged with their neighbors.
const MinChunkLines = 10

// SyntaxChunkLineCeiling is the file size, in lines, above which syntax
// chunking is skipped in favor of the heuristic chunker outright (parsing a
// very large file is not worth the cost when it will be split into many
// heuristic chunks anyway).
const SyntaxChunkLineCeiling = 5000

// wrapperTypes are tree-sitter node types that wrap a single definition
// without themselves being one (an export statement around a function, a
// decorator around a class). The chunker looks through them to find the
// definition underneath.
var wrapperTypes = map[string]bool{
	"export_statement":         true,
	"export_default_declaration": true,
	"decorated_definition":     true,
}

// Chunker splits one file's content into dense, line-covering Chunks,
// preferring syntax-tree boundaries and falling back to a line heuristic.
type Chunker struct {
	parser   *Parser
	registry *LanguageRegistry
}

// NewChunker creates a Chunker backed by the default language registry.
func NewChunker() *Chunker {
	return &Chunker{
		parser:   NewParser(),
		registry: DefaultRegistry(),
	}
}

// Close releases the underlying tree-sitter parser.
func (c *Chunker) Close() {
	c.parser.Close()
}

// ChunkFile splits content into Chunks for filePath, recorded at mtime.
// maxLines bounds both syntax-chunk splitting and heuristic chunk size; a
// value <= 0 uses the default of 60.
func (c *Chunker) ChunkFile(ctx context.Context, filePath string, content []byte, mtime int64, maxLines int) ([]Chunk, error) {
	lines := splitLines(content)
	if len(lines) == 0 {
		return nil, nil
	}
	if maxLines <= 0 {
		maxLines = 60
	}

	ranges := c.syntaxRanges(ctx, filePath, lines, maxLines)
	if ranges == nil {
		ranges = heuristicChunk(lines, maxLines, MinChunkLines)
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })

	chunks := make([]Chunk, 0, len(ranges))
	for i, r := range ranges {
		chunks = append(chunks, Chunk{
			FilePath:   filepath.ToSlash(filePath),
			ChunkIndex: i,
			Content:    strings.Join(lines[r.start:r.end+1], "\n"),
			LineStart:  r.start + 1,
			LineEnd:    r.end + 1,
			Mtime:      mtime,
		})
	}
	return chunks, nil
}

// syntaxRanges attempts syntax-tree chunking and returns nil when no grammar
// is available, parsing fails, or the file exceeds the syntax-chunk size
// ceiling — in every such case the caller falls back to heuristic chunking.
func (c *Chunker) syntaxRanges(ctx context.Context, filePath string, lines []string, maxLines int) []lineRange {
	if len(lines) > SyntaxChunkLineCeiling {
		return nil
	}

	ext := filepath.Ext(filePath)
	langCfg, ok := c.registry.GetByExtension(ext)
	if !ok {
		return nil
	}

	content := []byte(strings.Join(lines, "\n"))
	tree, err := c.parser.Parse(ctx, content, langCfg.Name)
	if err != nil || tree == nil || tree.Root == nil {
		return nil
	}

	captureTypes := make(map[string]bool, len(langCfg.DefinitionTypes()))
	for _, t := range langCfg.DefinitionTypes() {
		captureTypes[t] = true
	}

	captures := collectCaptures(tree.Root, captureTypes, len(lines))
	if len(captures) == 0 {
		return nil
	}
	sort.Slice(captures, func(i, j int) bool { return captures[i].start < captures[j].start })

	split := splitOversizedRanges(captures, lines, maxLines)
	merged := mergeSmallRanges(split, MinChunkLines)

	residual := residualRanges(merged, len(lines))
	for _, gap := range residual {
		gapLines := lines[gap.start : gap.end+1]
		for _, r := range heuristicChunk(gapLines, maxLines, MinChunkLines) {
			merged = append(merged, lineRange{start: r.start + gap.start, end: r.end + gap.start})
		}
	}

	return merged
}

// collectCaptures walks root's children (looking through wrapper node types)
// and records the line range of every node matching captureTypes. Only
// top-level definitions are captured, keeping to "top-level
// semantic units" contract.
func collectCaptures(root *Node, captureTypes map[string]bool, totalLines int) []lineRange {
	var captures []lineRange
	var visit func(n *Node)
	visit = func(n *Node) {
		for _, child := range n.Children {
			if captureTypes[child.Type] {
				start := child.StartLine() - 1
				end := child.EndLine() - 1
				if start < 0 {
					start = 0
				}
				if end >= totalLines {
					end = totalLines - 1
				}
				if end >= start {
					captures = append(captures, lineRange{start: start, end: end})
				}
				continue
			}
			if wrapperTypes[child.Type] {
				visit(child)
			}
		}
	}
	visit(root)
	return captures
}

// splitOversizedRanges re-chunks any capture larger than maxLines on its
// internal line boundaries, using the same heuristic splitter the line
// chunker uses so the overlap behavior stays consistent.
func splitOversizedRanges(ranges []lineRange, lines []string, maxLines int) []lineRange {
	out := make([]lineRange, 0, len(ranges))
	for _, r := range ranges {
		count := r.end - r.start + 1
		if count <= maxLines {
			out = append(out, r)
			continue
		}
		sub := heuristicChunk(lines[r.start:r.end+1], maxLines, MinChunkLines)
		for _, s := range sub {
			out = append(out, lineRange{start: s.start + r.start, end: s.end + r.start})
		}
	}
	return out
}

// mergeSmallRanges merges a range smaller than minLines with the next range
// in source order, as long as the two are contiguous (no uncovered gap
// between them). A gap, or reaching minLines, ends the merge.
func mergeSmallRanges(ranges []lineRange, minLines int) []lineRange {
	if len(ranges) == 0 {
		return ranges
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })

	out := make([]lineRange, 0, len(ranges))
	cur := ranges[0]
	for _, r := range ranges[1:] {
		curLen := cur.end - cur.start + 1
		contiguous := r.start <= cur.end+1
		if curLen < minLines && contiguous {
			if r.end > cur.end {
				cur.end = r.end
			}
			continue
		}
		out = append(out, cur)
		cur = r
	}
	out = append(out, cur)
	return out
}

// residualRanges returns the line ranges not covered by any range in
// covered, sorted by start. These are handed to the heuristic chunker since
// no syntax capture claims them (imports, top-level comments, script body).
func residualRanges(covered []lineRange, totalLines int) []lineRange {
	sorted := make([]lineRange, len(covered))
	copy(sorted, covered)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })

	var gaps []lineRange
	next := 0
	for _, r := range sorted {
		if r.start > next {
			gaps = append(gaps, lineRange{start: next, end: r.start - 1})
		}
		if r.end+1 > next {
			next = r.end + 1
		}
	}
	if next < totalLines {
		gaps = append(gaps, lineRange{start: next, end: totalLines - 1})
	}
	return gaps
}

// splitLines splits file content into lines, normalizing CRLF and dropping
// a single trailing empty line produced by a final newline so that line
// counts match the file's visible line count.
func splitLines(content []byte) []string {
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
