package avltree

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cmpInt(a, b int) int { return a - b }

func heightOK[K any, V any](t *testing.T, n *Node[K, V]) int8 {
	t.Helper()
	if n == nil {
		return 0
	}
	l := heightOK[K, V](t, n.left)
	r := heightOK[K, V](t, n.right)
	diff := int(l) - int(r)
	if diff < 0 {
		diff = -diff
	}
	require.LessOrEqualf(t, diff, 1, "unbalanced at key %v: left=%d right=%d", n.key, l, r)
	var want int8
	if l > r {
		want = l + 1
	} else {
		want = r + 1
	}
	require.Equalf(t, want, n.height, "stale height at key %v", n.key)
	return n.height
}

func inOrderKeys(t *Tree[int, int]) []int {
	var got []int
	t.Walk(func(n *Node[int, int]) { got = append(got, n.key) })
	return got
}

func TestInsertAscendingInOrder(t *testing.T) {
	tree := New[int, int](cmpInt)
	keys := rand.New(rand.NewSource(1)).Perm(500)
	for _, k := range keys {
		tree.Insert(k, k*2)
		heightOK[int, int](t, tree.Root())
	}

	got := inOrderKeys(tree)
	want := append([]int(nil), keys...)
	sort.Ints(want)
	assert.Equal(t, want, got)
}

func TestLookupReflectsInsertAndDelete(t *testing.T) {
	tree := New[int, int](cmpInt)
	for i := 0; i < 100; i++ {
		tree.Insert(i, i)
	}
	for i := 0; i < 100; i += 2 {
		n, ok := tree.Lookup(i)
		require.True(t, ok)
		tree.Delete(n)
		heightOK[int, int](t, tree.Root())
	}
	for i := 0; i < 100; i++ {
		_, ok := tree.Lookup(i)
		assert.Equal(t, i%2 != 0, ok)
	}
}

func TestDeleteMaintainsBalance(t *testing.T) {
	tree := New[int, int](cmpInt)
	r := rand.New(rand.NewSource(42))
	keys := r.Perm(300)
	for _, k := range keys {
		tree.Insert(k, k)
	}
	r.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	for _, k := range keys[:200] {
		n, ok := tree.Lookup(k)
		require.True(t, ok)
		tree.Delete(n)
		heightOK[int, int](t, tree.Root())
	}
	assert.Equal(t, 100, tree.Size())
}

func TestSwapNodePreservesInOrder(t *testing.T) {
	tree := New[int, int](cmpInt)
	for _, k := range []int{10, 20, 30, 40, 50} {
		tree.Insert(k, k)
	}
	n30, ok := tree.Lookup(30)
	require.True(t, ok)

	replacement := &Node[int, int]{key: 31, Value: 31}
	tree.SwapNode(n30, replacement)

	assert.Equal(t, []int{10, 20, 31, 40, 50}, inOrderKeys(tree))
}

func TestDuplicatesPreserveInsertionOrder(t *testing.T) {
	tree := New[int, int](cmpInt, WithDuplicates[int, int]())
	for i, v := range []int{100, 200, 300} {
		tree.Insert(5, v)
		_ = i
	}
	tree.Insert(1, -1)
	tree.Insert(9, -1)

	var values []int
	tree.Walk(func(n *Node[int, int]) {
		if n.key == 5 {
			values = append(values, n.Value)
		}
	})
	assert.Equal(t, []int{100, 200, 300}, values)

	first := tree.LookupPredEq(5)
	require.NotNil(t, first)
	assert.Equal(t, 100, first.Value)
}

func TestAugmentUpdateRunsToRoot(t *testing.T) {
	var visits []int
	tree := New[int, int](cmpInt, WithAugment[int, int](func(n *Node[int, int]) {
		visits = append(visits, n.key)
	}))
	for _, k := range []int{5, 3, 8, 1, 4, 7, 9} {
		tree.Insert(k, k)
	}
	require.NotEmpty(t, visits)

	visits = nil
	n, ok := tree.Lookup(1)
	require.True(t, ok)
	tree.AugmentUpdate(n)
	assert.NotEmpty(t, visits)
	assert.Equal(t, 1, visits[0])
}

func TestWalkRange(t *testing.T) {
	tree := New[int, int](cmpInt)
	for i := 0; i < 20; i++ {
		tree.Insert(i, i)
	}
	var got []int
	tree.WalkRange(5, 10, func(n *Node[int, int]) { got = append(got, n.key) })
	assert.Equal(t, []int{5, 6, 7, 8, 9, 10}, got)

	got = nil
	tree.WalkRangeReverse(5, 10, func(n *Node[int, int]) { got = append(got, n.key) })
	assert.Equal(t, []int{10, 9, 8, 7, 6, 5}, got)
}

func TestIPathDPath(t *testing.T) {
	tree := New[int, int](cmpInt)
	n, path := tree.LookupIPath(42)
	require.Nil(t, n)
	require.NotNil(t, path)
	tree.InsertIPath(42, 99, path)

	n, dpath := tree.LookupDPath(42)
	require.NotNil(t, n)
	require.Equal(t, 99, n.Value)
	tree.DeleteDPath(n, dpath)

	_, ok := tree.Lookup(42)
	assert.False(t, ok)
}
