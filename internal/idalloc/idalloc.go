// Package idalloc implements an inverse integer-id allocator: the set of
// currently-available ids over a bounded range [min,max], represented as
// disjoint, non-adjacent intervals, with a rotating cursor that makes
// freshly-freed ids unlikely to be reused immediately.
package idalloc

import "ddscore/internal/avltree"

type interval struct {
	min, max uint32
}

// Allocator hands out unique ids from [min, max].
type Allocator struct {
	min, max uint32
	cursor   uint32
	ids      *avltree.Tree[uint32, interval]
}

func cmpU32(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// New creates an allocator over the inclusive range [min, max], with every
// id initially available.
func New(min, max uint32) *Allocator {
	a := &Allocator{min: min, max: max, cursor: min, ids: avltree.New[uint32, interval](cmpU32)}
	a.ids.Insert(min, interval{min: min, max: max})
	return a
}

// Fini releases the allocator's internal bookkeeping.
func (a *Allocator) Fini() {
	a.ids.Free(nil)
}

// Alloc returns the smallest available id at or after the cursor, wrapping
// to the smallest available id overall if none remain at or after it. It
// reports false iff the range is fully allocated.
func (a *Allocator) Alloc() (uint32, bool) {
	if n := a.ids.LookupPredEq(a.cursor); n != nil && a.cursor <= n.Value.max {
		id := a.cursor
		a.consumeFromInterval(n, id)
		a.advanceCursor(id)
		return id, true
	}
	if n := a.ids.LookupSucc(a.cursor); n != nil {
		id := a.useMin(n)
		a.advanceCursor(id)
		return id, true
	}
	if n := a.ids.FindMin(); n != nil {
		id := a.useMin(n)
		a.advanceCursor(id)
		return id, true
	}
	return 0, false
}

// consumeFromInterval removes id from interval node n, which must satisfy
// n.Value.min <= id <= n.Value.max.
func (a *Allocator) consumeFromInterval(n *avltree.Node[uint32, interval], id uint32) {
	iv := n.Value
	switch {
	case iv.min == id:
		a.useMin(n)
	case iv.max == id:
		iv.max--
		n.Value = iv
	default:
		right := interval{min: id + 1, max: iv.max}
		iv.max = id - 1
		n.Value = iv
		a.ids.Insert(right.min, right)
	}
}

// useMin removes the minimum element of interval node n and returns it. The
// upstream C allocator bumps n's min in place, relying on the key living at
// a fixed address inside the interval struct itself; this tree stores the
// key separately from the Value, so growing/shrinking the min instead goes
// through delete+reinsert under the new key (reseat) to keep the tree's key
// index consistent with the interval's actual bounds.
func (a *Allocator) useMin(n *avltree.Node[uint32, interval]) uint32 {
	id := n.Value.min
	if n.Value.min == n.Value.max {
		a.ids.Delete(n)
	} else {
		iv := n.Value
		iv.min++
		a.ids.Delete(n)
		a.ids.Insert(iv.min, iv)
	}
	return id
}

func (a *Allocator) advanceCursor(id uint32) {
	if id < a.max {
		a.cursor = id + 1
	} else {
		a.cursor = a.min
	}
}

// Free returns id to the set of available ids. Freeing an id that is
// already available is a silent no-op (double free).
func (a *Allocator) Free(id uint32) {
	if n := a.ids.LookupPredEq(id); n != nil && id <= n.Value.max+1 {
		if id <= n.Value.max {
			return // already free
		}
		iv := n.Value
		if next, ok := a.ids.Lookup(id + 1); ok {
			iv.max = next.Value.max
			a.ids.Delete(next)
		} else {
			iv.max = id
		}
		n.Value = iv
		return
	}
	if n, ok := a.ids.Lookup(id + 1); ok {
		iv := n.Value
		iv.min = id
		n.Value = iv
		a.reseat(n, id)
		return
	}
	a.ids.Insert(id, interval{min: id, max: id})
}

// reseat re-inserts n under its new (lower) key after an in-place min edit,
// since this tree indexes nodes by the key captured at insertion time.
func (a *Allocator) reseat(n *avltree.Node[uint32, interval], newKey uint32) {
	iv := n.Value
	a.ids.Delete(n)
	a.ids.Insert(newKey, iv)
}
