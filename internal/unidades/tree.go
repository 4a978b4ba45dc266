package unidades

import "github.com/normadata/boerag/internal/boe"

// Node is one index block placed in the level-folded tree. Edges are
// materialized as ids only.
type Node struct {
	IDBloque    string
	Tipo        string
	Titulo      string
	URL         string
	Orden       int
	Class       Classification
	ParentID    string
	ChildrenIDs []string
}

// Tree is the folded index of one norm, preserving document order.
type Tree struct {
	Nodes map[string]*Node
	Order []string
}

// BuildTree folds the ordered block list into a tree: a block's
// parent is the nearest preceding block with a smaller level.
func BuildTree(blocks []boe.IndexBlockRef) *Tree {
	t := &Tree{Nodes: make(map[string]*Node, len(blocks))}

	var stack []*Node
	for _, b := range blocks {
		n := &Node{
			IDBloque: b.IDBloque,
			Tipo:     b.Tipo,
			Titulo:   b.Titulo,
			URL:      b.URL,
			Orden:    b.Orden,
			Class:    ClassifyBlock(b.IDBloque, b.Tipo, b.Titulo),
		}
		// Duplicate ids keep the first occurrence; the source emits
		// them only in malformed indices.
		if _, seen := t.Nodes[n.IDBloque]; seen {
			continue
		}

		for len(stack) > 0 && stack[len(stack)-1].Class.Level >= n.Class.Level {
			stack = stack[:len(stack)-1]
		}
		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			n.ParentID = parent.IDBloque
			parent.ChildrenIDs = append(parent.ChildrenIDs, n.IDBloque)
		}
		stack = append(stack, n)

		t.Nodes[n.IDBloque] = n
		t.Order = append(t.Order, n.IDBloque)
	}
	return t
}

// RootCandidates returns the non-HEADER nodes whose ancestors, if any,
// are all HEADER. These are the nodes that become semantic units.
func (t *Tree) RootCandidates() []*Node {
	var out []*Node
	for _, id := range t.Order {
		n := t.Nodes[id]
		if n.Class.Kind == KindHeader {
			continue
		}
		if t.ancestorsAllHeaders(n) {
			out = append(out, n)
		}
	}
	return out
}

func (t *Tree) ancestorsAllHeaders(n *Node) bool {
	for cur := n; cur.ParentID != ""; {
		parent := t.Nodes[cur.ParentID]
		if parent == nil {
			return false
		}
		if parent.Class.Kind != KindHeader {
			return false
		}
		cur = parent
	}
	return true
}

// Subtree collects the root and its descendants in document order.
func (t *Tree) Subtree(rootID string) []*Node {
	root := t.Nodes[rootID]
	if root == nil {
		return nil
	}
	in := map[string]bool{rootID: true}
	var walk func(id string)
	walk = func(id string) {
		for _, child := range t.Nodes[id].ChildrenIDs {
			in[child] = true
			walk(child)
		}
	}
	walk(rootID)

	var out []*Node
	for _, id := range t.Order {
		if in[id] {
			out = append(out, t.Nodes[id])
		}
	}
	return out
}
