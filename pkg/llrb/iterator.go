package llrb

import (
	"github.com/nilstore/rdms/pkg/db"
	"github.com/nilstore/rdms/pkg/types"
)

// Cursor walks a single immutable snapshot of the tree in ascending or
// descending key order. Because mutations path-copy rather than mutate in
// place, a Cursor never needs to hold the tree's latch past the moment it
// captured the root: the nodes it walks cannot change underneath it.
type Cursor[K types.Comparable, V any, D any] struct {
	stack   []*node[K, V, D]
	reverse bool
	hi      *K
	hiIncl  bool
	lo      *K
	loIncl  bool
}

func newCursor[K types.Comparable, V any, D any](root *node[K, V, D], reverse bool) *Cursor[K, V, D] {
	c := &Cursor[K, V, D]{reverse: reverse}
	c.push(root)
	return c
}

func (c *Cursor[K, V, D]) push(h *node[K, V, D]) {
	for h != nil {
		c.stack = append(c.stack, h)
		if c.reverse {
			h = h.right
		} else {
			h = h.left
		}
	}
}

// Next advances the cursor and returns the entry at the new position, or
// nil when iteration is exhausted.
func (c *Cursor[K, V, D]) Next() *db.Entry[K, V, D] {
	for {
		if len(c.stack) == 0 {
			return nil
		}
		top := c.stack[len(c.stack)-1]
		c.stack = c.stack[:len(c.stack)-1]
		if c.reverse {
			c.push(top.left)
		} else {
			c.push(top.right)
		}

		if c.lo != nil {
			cmp := top.entry.Key.Compare(*c.lo)
			if cmp < 0 || (cmp == 0 && !c.loIncl) {
				continue
			}
		}
		if c.hi != nil {
			cmp := top.entry.Key.Compare(*c.hi)
			if cmp > 0 || (cmp == 0 && !c.hiIncl) {
				continue
			}
		}
		return top.entry
	}
}

// Iter returns a cursor over every live entry in ascending key order.
func (t *Tree[K, V, D]) Iter() *Cursor[K, V, D] {
	t.mu.RLock()
	root := t.root
	t.mu.RUnlock()
	return newCursor[K, V, D](root, false)
}

// Reverse returns a cursor over every live entry in descending key order.
func (t *Tree[K, V, D]) Reverse() *Cursor[K, V, D] {
	t.mu.RLock()
	root := t.root
	t.mu.RUnlock()
	return newCursor[K, V, D](root, true)
}

// Range returns an ascending cursor restricted to [lo, hi] (bounds
// inclusive); pass nil for either bound to leave it open.
func (t *Tree[K, V, D]) Range(lo, hi *K) *Cursor[K, V, D] {
	t.mu.RLock()
	root := t.root
	t.mu.RUnlock()
	c := newCursor[K, V, D](root, false)
	c.lo, c.loIncl = lo, true
	c.hi, c.hiIncl = hi, true
	return c
}

// RangeCursor is like Range but lets the caller control each bound's
// inclusivity independently, mirroring Rust's Bound::Included/Excluded.
func (t *Tree[K, V, D]) RangeCursor(lo *K, loIncl bool, hi *K, hiIncl bool, reverse bool) *Cursor[K, V, D] {
	t.mu.RLock()
	root := t.root
	t.mu.RUnlock()
	c := newCursor[K, V, D](root, reverse)
	c.lo, c.loIncl = lo, loIncl
	c.hi, c.hiIncl = hi, hiIncl
	return c
}
