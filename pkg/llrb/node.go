package llrb

import (
	"github.com/nilstore/rdms/pkg/db"
	"github.com/nilstore/rdms/pkg/types"
)

// node is a single entry in the tree plus the red-black bookkeeping needed
// to keep the left-leaning invariant: red edges always lean left, no two
// consecutive red edges on any root-to-leaf path, equal black-height on
// every path.
type node[K types.Comparable, V any, D any] struct {
	entry *db.Entry[K, V, D]
	black bool
	dirty bool
	left  *node[K, V, D]
	right *node[K, V, D]
}

func newNode[K types.Comparable, V any, D any](entry *db.Entry[K, V, D]) *node[K, V, D] {
	return &node[K, V, D]{entry: entry, dirty: true}
}

// clone copies the node's own fields without touching its children,
// marking the copy dirty. Mutations walk down from the root copying every
// node on the path so readers holding the old root keep a consistent view.
func (n *node[K, V, D]) clone() *node[K, V, D] {
	if n == nil {
		return nil
	}
	return &node[K, V, D]{
		entry: n.entry,
		black: n.black,
		dirty: true,
		left:  n.left,
		right: n.right,
	}
}

func isRed[K types.Comparable, V any, D any](n *node[K, V, D]) bool {
	return n != nil && !n.black
}

// rotateLeft fixes a right-leaning red link: x's right child h.right is red,
// so h.right is promoted to root of the subtree and h becomes its left
// child.
func rotateLeft[K types.Comparable, V any, D any](h *node[K, V, D]) *node[K, V, D] {
	x := h.right.clone()
	h.right = x.left
	x.left = h
	x.black = h.black
	h.black = false
	return x
}

// rotateRight fixes a left-leaning double-red: h.left is red, promote it
// to root of the subtree and h becomes its right child.
func rotateRight[K types.Comparable, V any, D any](h *node[K, V, D]) *node[K, V, D] {
	x := h.left.clone()
	h.left = x.right
	x.right = h
	x.black = h.black
	h.black = false
	return x
}

// flipColors flips h and both of its children between red and black. Used
// when both children are red (splits a temporary 4-node) or to undo that
// split on the way back up during deletion. h must already be a copy; the
// children are copied before their colour changes, so nodes still
// reachable from an older root are never modified.
func flipColors[K types.Comparable, V any, D any](h *node[K, V, D]) {
	h.black = !h.black
	if h.left != nil {
		h.left = h.left.clone()
		h.left.black = !h.left.black
	}
	if h.right != nil {
		h.right = h.right.clone()
		h.right.black = !h.right.black
	}
}

func minNode[K types.Comparable, V any, D any](h *node[K, V, D]) *node[K, V, D] {
	for h.left != nil {
		h = h.left
	}
	return h
}

// fixUp restores the left-leaning red-black invariants on the way back up
// a mutation path, applied after every recursive insert/delete step.
func fixUp[K types.Comparable, V any, D any](h *node[K, V, D]) *node[K, V, D] {
	if isRed(h.right) && !isRed(h.left) {
		h = rotateLeft(h)
	}
	if isRed(h.left) && isRed(h.left.left) {
		h = rotateRight(h)
	}
	if isRed(h.left) && isRed(h.right) {
		flipColors(h)
	}
	return h
}

// moveRedLeft and moveRedRight borrow a red link from a sibling during
// top-down deletion so the recursive call always descends into a node that
// is itself red (a 3-node or larger), guaranteeing a node can be removed
// without leaving the tree unbalanced.
func moveRedLeft[K types.Comparable, V any, D any](h *node[K, V, D]) *node[K, V, D] {
	flipColors(h)
	if isRed(h.right.left) {
		h.right = rotateRight(h.right)
		h = rotateLeft(h)
		flipColors(h)
	}
	return h
}

func moveRedRight[K types.Comparable, V any, D any](h *node[K, V, D]) *node[K, V, D] {
	flipColors(h)
	if isRed(h.left.left) {
		h = rotateRight(h)
		flipColors(h)
	}
	return h
}
