package chunk

// Point is a (row, column) position in a source file, 0-based, as reported
// by tree-sitter.
type Point struct {
	Row    uint32
	Column uint32
}

// Node is a tree-sitter parse node, stripped down to what the chunker
// needs: its byte range, its source-position range, and its children.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	HasError   bool
	Children   []*Node
}

// Tree is a parsed syntax tree for one file.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// StartLine returns the node's 1-based start line.
func (n *Node) StartLine() int {
	return int(n.StartPoint.Row) + 1
}

// EndLine returns the node's 1-based end line (inclusive).
func (n *Node) EndLine() int {
	line := int(n.EndPoint.Row) + 1
	// tree-sitter's end point sits on the line after the node's last
	// content when that content ends exactly at a newline; treat a
	// zero-column end as "ends on the previous line" to avoid an
	// off-by-one in the inclusive line range callers expect.
	if n.EndPoint.Column == 0 && line > n.StartLine() {
		line--
	}
	return line
}

// LineCount returns the inclusive number of lines the node spans.
func (n *Node) LineCount() int {
	return n.EndLine() - n.StartLine() + 1
}
