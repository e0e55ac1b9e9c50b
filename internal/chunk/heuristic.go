package chunk

import "strings"

// definitionPrefixes are language-agnostic tokens that mark the start of a
// new top-level definition, used by the heuristic chunker to decide where
// it is safe to close a chunk.
var definitionPrefixes = []string{
	"fn ", "fn(",
	"def ",
	"class ",
	"struct ",
	"impl ", "impl(",
	"interface ",
	"trait ",
	"func ", "func(",
	"public ",
	"private ",
	"protected ",
	"async function",
}

// looksLikeDefinition reports whether line begins a new definition, per
// the language-agnostic prefix list above.
func looksLikeDefinition(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	for _, prefix := range definitionPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// lineRange is a 0-based, inclusive [start, end] pair of local line
// indices into a lines slice.
type lineRange struct {
	start, end int
}

// heuristicChunk closes a chunk when it has reached at least minLines and
// the next line begins a definition, or when it reaches maxLines.
// Successive chunks overlap by floor(maxLines/2) lines when the closed chunk
// is longer than that overlap; a shorter chunk (one closed early at a
// definition) is followed by a chunk that starts on the next line, with no
// overlap.
func heuristicChunk(lines []string, maxLines, minLines int) []lineRange {
	n := len(lines)
	if n == 0 {
		return nil
	}
	overlap := maxLines / 2

	var ranges []lineRange
	i := 0
	for i < n {
		start := i
		end := i
		for end-start+1 < maxLines && end+1 < n {
			next := end + 1
			currentLen := end - start + 1
			if currentLen >= minLines && looksLikeDefinition(lines[next]) {
				break
			}
			end = next
		}
		ranges = append(ranges, lineRange{start: start, end: end})

		if end+1 >= n {
			break
		}
		nextStart := end + 1 - overlap
		if nextStart <= start {
			nextStart = end + 1
		}
		i = nextStart
	}
	return ranges
}
