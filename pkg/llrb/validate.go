package llrb

import "github.com/nilstore/rdms/pkg/errors"

// Stats summarizes a successful Validate call.
type Stats struct {
	Entries    int
	BlackDepth int
	MaxDepth   int
}

// Validate walks the whole tree checking every invariant the left-leaning
// red-black structure and the versioned Entry contract depend on:
//
//   - keys strictly ascending in in-order traversal
//   - no node has two consecutive red edges on any root-to-leaf path
//   - every root-to-leaf path has equal black-height
//   - every entry's seqno is no greater than the tree's seqno counter
//   - within an entry, value.Seqno > deltas[0].Seqno > ... > deltas[n-1].Seqno
//
// It returns a FatalError on the first violation found.
func (t *Tree[K, V, D]) Validate() (Stats, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	treeSeqno := t.ToSeqno()
	var (
		entries    int
		haveLast   bool
		lastKey    K
		blackDepth = -1
	)

	var walk func(h *node[K, V, D], black, depth int) (int, error)
	walk = func(h *node[K, V, D], black, depth int) (int, error) {
		if h == nil {
			if blackDepth == -1 {
				blackDepth = black
			} else if black != blackDepth {
				return 0, &errors.FatalError{Msg: "unequal black-height across root-to-leaf paths"}
			}
			return depth, nil
		}

		if isRed(h.left) && isRed(h.right) {
			return 0, &errors.FatalError{Msg: "both children red: violates left-leaning invariant"}
		}
		if isRed(h) && isRed(h.left) {
			return 0, &errors.FatalError{Msg: "two consecutive red edges"}
		}

		childBlack := black
		if h.black {
			childBlack++
		}

		maxDepth, err := walk(h.left, childBlack, depth+1)
		if err != nil {
			return 0, err
		}

		if haveLast {
			if h.entry.Key.Compare(lastKey) <= 0 {
				return 0, &errors.FatalError{Msg: "keys not strictly ascending in in-order traversal"}
			}
		}
		lastKey, haveLast = h.entry.Key, true
		entries++

		if h.entry.ToSeqno() > treeSeqno {
			return 0, &errors.FatalError{Msg: "entry seqno exceeds tree seqno"}
		}
		prev := h.entry.Value.Seqno
		for _, d := range h.entry.Deltas {
			if d.Seqno >= prev {
				return 0, &errors.FatalError{Msg: "delta seqno chain is not strictly decreasing"}
			}
			prev = d.Seqno
		}

		rd, err := walk(h.right, childBlack, depth+1)
		if err != nil {
			return 0, err
		}
		if rd > maxDepth {
			maxDepth = rd
		}
		return maxDepth, nil
	}

	startBlack := 0
	if t.root != nil && t.root.black {
		startBlack = 1
	}
	maxDepth, err := walk(t.root, startBlack, 0)
	if err != nil {
		return Stats{}, err
	}

	return Stats{Entries: entries, BlackDepth: blackDepth, MaxDepth: maxDepth}, nil
}
