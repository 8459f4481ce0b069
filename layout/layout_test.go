package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoglang/yoggc/object"
)

func slots(d *Descriptor, words int) []int {
	var got []int
	d.ForEachSlot(words, func(i int) {
		got = append(got, i)
	})
	return got
}

func TestForEachSlot(t *testing.T) {
	assert.Empty(t, slots(String, 10))
	assert.Equal(t, []int{0, 1, 2, 3}, slots(ValueArray, 4))
	assert.Equal(t, []int{1}, slots(Array, 2))
	assert.Equal(t, []int{1, 2}, slots(Closure, 3))

	// The bitstring repeats; a trailing partial element is not scanned.
	pair := WithSlots("pair", object.TagInstance, 2, 0)
	assert.Equal(t, []int{0, 2, 4}, slots(pair, 7))

	wide := WithSlots("wide", object.TagInstance, 12, 0, 9, 11)
	assert.Equal(t, []int{0, 9, 11, 12, 21, 23}, slots(wide, 24))
}

func TestIsSlot(t *testing.T) {
	assert.False(t, Array.IsSlot(0))
	assert.True(t, Array.IsSlot(1))
	assert.True(t, ValueArray.IsSlot(100))
	assert.False(t, Bignum.IsSlot(0))
	assert.False(t, Cell.IsSlot(-1))

	assert.Equal(t, 4, Array.ScannedWords(5))
	assert.Equal(t, 7, ValueArray.ScannedWords(7))
	assert.Equal(t, 0, String.ScannedWords(7))
}

func TestPointerFree(t *testing.T) {
	assert.True(t, String.PointerFree())
	assert.True(t, WithSlots("blank", object.TagRaw, 3).PointerFree())
	assert.False(t, Dict.PointerFree())
}

func TestRegistry(t *testing.T) {
	d := NoPointers("registered", object.TagRaw)
	require.NotZero(t, d.ID())
	assert.Same(t, d, Lookup(d.ID()))
	assert.Nil(t, Lookup(0))
	assert.Nil(t, Lookup(1<<31))
}

func TestWithSlotsOutOfRange(t *testing.T) {
	assert.Panics(t, func() {
		WithSlots("bad", object.TagRaw, 2, 2)
	})
}
