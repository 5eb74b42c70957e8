package fibheap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lessInt(a, b int) bool { return a < b }

func TestExtractMinAscending(t *testing.T) {
	h := New[int, string](lessInt)
	vals := map[int]string{5: "e", 3: "c", 8: "h", 1: "a", 4: "d", 7: "g"}
	for k, v := range vals {
		h.Insert(k, v)
	}
	require.Equal(t, len(vals), h.Len())

	var gotKeys []int
	for h.Len() > 0 {
		k, v, ok := h.ExtractMin()
		require.True(t, ok)
		assert.Equal(t, vals[k], v)
		gotKeys = append(gotKeys, k)
	}
	assert.Equal(t, []int{1, 3, 4, 5, 7, 8}, gotKeys)
}

func TestExtractMinOnEmptyHeap(t *testing.T) {
	h := New[int, string](lessInt)
	_, _, ok := h.ExtractMin()
	assert.False(t, ok)
	_, _, ok = h.Min()
	assert.False(t, ok)
}

func TestDecreaseKeyReordersMin(t *testing.T) {
	h := New[int, string](lessInt)
	h.Insert(10, "ten")
	hdl := h.Insert(20, "twenty")
	h.Insert(30, "thirty")

	h.DecreaseKey(hdl, 5)
	k, v, ok := h.Min()
	require.True(t, ok)
	assert.Equal(t, 5, k)
	assert.Equal(t, "twenty", v)
}

func TestDeleteRemovesEntry(t *testing.T) {
	h := New[int, string](lessInt)
	h.Insert(1, "a")
	hdl := h.Insert(2, "b")
	h.Insert(3, "c")

	h.Delete(hdl)
	assert.Equal(t, 2, h.Len())

	var got []int
	for h.Len() > 0 {
		k, _, _ := h.ExtractMin()
		got = append(got, k)
	}
	assert.Equal(t, []int{1, 3}, got)
}

func TestRandomizedAgainstSortedReference(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	h := New[int, int](lessInt)
	n := 400
	keys := make([]int, n)
	for i := range keys {
		keys[i] = r.Intn(10000)
		h.Insert(keys[i], i)
	}

	var got []int
	last := -1
	for h.Len() > 0 {
		k, _, ok := h.ExtractMin()
		require.True(t, ok)
		assert.GreaterOrEqual(t, k, last)
		last = k
		got = append(got, k)
	}
	assert.Len(t, got, n)
}

func TestHandleValid(t *testing.T) {
	var zero Handle[int, int]
	assert.False(t, zero.Valid())

	h := New[int, int](lessInt)
	hdl := h.Insert(1, 1)
	assert.True(t, hdl.Valid())
}
