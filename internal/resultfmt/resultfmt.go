// Package resultfmt renders search results in the one textual listing
// format the CLI and the MCP tool both produce:
//
//	<rank>. <file_path>:<line_start>:<line_end> (score: <score to 2 decimals>)
//	--------------------------------------------------
//	<content>
//	--------------------------------------------------
package resultfmt

import (
	"fmt"
	"strings"

	"github.com/aman-cerp/codesearch/internal/retriever"
)

const separator = "--------------------------------------------------"

// Format renders results as the textual listing. An empty slice renders a
// single "no results" line rather than an empty string, so both the CLI and
// the MCP tool always return a non-empty body.
func Format(query string, results []retriever.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results for %q.\n", query)
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s:%d:%d (score: %.2f)\n", i+1, r.FilePath, r.LineStart, r.LineEnd, r.Score)
		b.WriteString(separator)
		b.WriteByte('\n')
		b.WriteString(r.Content)
		if !strings.HasSuffix(r.Content, "\n") {
			b.WriteByte('\n')
		}
		b.WriteString(separator)
		b.WriteByte('\n')
	}
	return b.String()
}
