package segment

// Node is one section of the document AST. Nodes live in the Tree's arena
// and refer to each other by index, so there are no ownership cycles:
// Parent is just another index (-1 for the root).
type Node struct {
	Heading   string `json:"heading"`
	Content   string `json:"content"`
	CharStart int    `json:"char_start"`
	CharEnd   int    `json:"char_end"`
	Level     int    `json:"level"`
	Parent    int    `json:"parent"`
	Children  []int  `json:"children,omitempty"`
	PageStart int    `json:"page_start"`
	PageEnd   int    `json:"page_end"`
}

// Tree is the document AST. Nodes[0] is always the synthetic root covering
// the whole text. Leaf char ranges are half-open, contiguous, and partition
// [0, len(text)); child ranges nest within their parent's range.
type Tree struct {
	Nodes []Node `json:"nodes"`
	Text  string `json:"-"`
}

// Root returns the index of the root node.
func (t *Tree) Root() int { return 0 }

// IsLeaf reports whether the node has no children.
func (t *Tree) IsLeaf(id int) bool { return len(t.Nodes[id].Children) == 0 }

// Leaves returns leaf indices in document order.
func (t *Tree) Leaves() []int {
	var out []int
	var walk func(id int)
	walk = func(id int) {
		if t.IsLeaf(id) {
			out = append(out, id)
			return
		}
		for _, c := range t.Nodes[id].Children {
			walk(c)
		}
	}
	walk(0)
	return out
}

// Hierarchy returns the heading path from the root to the node, root first.
// The synthetic root's empty heading is skipped.
func (t *Tree) Hierarchy(id int) []string {
	var rev []string
	for cur := id; cur >= 0; cur = t.Nodes[cur].Parent {
		if h := t.Nodes[cur].Heading; h != "" {
			rev = append(rev, h)
		}
	}
	out := make([]string, len(rev))
	for i, h := range rev {
		out[len(rev)-1-i] = h
	}
	return out
}

// Walk visits every node in document order, parents before children.
func (t *Tree) Walk(fn func(id int, n *Node)) {
	var walk func(id int)
	walk = func(id int) {
		fn(id, &t.Nodes[id])
		for _, c := range t.Nodes[id].Children {
			walk(c)
		}
	}
	walk(0)
}
