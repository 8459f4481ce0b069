package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoglang/yoggc/object"
)

func newRegion(t *testing.T, a *Allocator, size uint64) *Region {
	t.Helper()
	r, err := a.New(size)
	require.NoError(t, err)
	t.Cleanup(func() { r.Release() })
	return r
}

func TestRegionsAreDisjoint(t *testing.T) {
	var a Allocator
	r1 := newRegion(t, &a, 4096)
	r2 := newRegion(t, &a, 4096)
	assert.NotEqual(t, r1.Base(), r2.Base())
	assert.False(t, r1.Contains(r2.Base()))
	assert.True(t, r1.Contains(r1.End()-1))
	assert.False(t, r1.Contains(r1.End()))

	set := Set{r1, r2}
	assert.Same(t, r2, set.Lookup(r2.Base()+8))
	assert.Nil(t, set.Lookup(object.Nil))
}

func TestWordsAndHeaders(t *testing.T) {
	var a Allocator
	r := newRegion(t, &a, 4096)
	ref := r.Base() + 64

	r.SetWord(ref, 42)
	assert.Equal(t, uint64(42), r.Word(ref))

	h := object.Header{Desc: 3, Flags: object.FlagForwarded, Age: 2, Size: 48, Forward: r.Base() + 512}
	r.SetHeader(ref, h)
	assert.Equal(t, h, r.Header(ref))

	r.SetFlags(ref, object.FlagMarked)
	got := r.Header(ref)
	assert.Equal(t, object.FlagMarked, got.Flags)
	assert.Equal(t, uint32(3), got.Desc)
	assert.Equal(t, uint8(2), got.Age)
}

func TestOutOfRangeAccessPanics(t *testing.T) {
	var a Allocator
	r := newRegion(t, &a, 64)
	assert.Panics(t, func() { r.Word(r.End()) })
	assert.Panics(t, func() { r.Word(r.Base() - 8) })
	assert.Panics(t, func() { r.Bytes(r.Base()+32, 64) })
}

func TestGrowKeepsBaseAndContents(t *testing.T) {
	var a Allocator
	r := newRegion(t, &a, 64)
	base := r.Base()
	r.SetWord(base+56, 7)
	require.NoError(t, r.Grow(256))
	assert.Equal(t, base, r.Base())
	assert.Equal(t, uint64(256), r.Size())
	assert.Equal(t, uint64(7), r.Word(base+56))
	assert.Equal(t, uint64(0), r.Word(base+200))
	assert.Error(t, r.Grow(128))
}

func TestPoisonAndMove(t *testing.T) {
	var a Allocator
	r := newRegion(t, &a, 128)
	r.Poison(r.Base(), 16)
	assert.Equal(t, uint64(0xfdfdfdfdfdfdfdfd), r.Word(r.Base()+8))

	r.SetWord(r.Base()+64, 1)
	r.SetWord(r.Base()+72, 2)
	r.Move(r.Base()+72, r.Base()+64, 16)
	assert.Equal(t, uint64(1), r.Word(r.Base()+72))
	assert.Equal(t, uint64(2), r.Word(r.Base()+80))

	r.Zero(r.Base(), 128)
	assert.Equal(t, uint64(0), r.Word(r.Base()))
}

func TestInvalidSize(t *testing.T) {
	var a Allocator
	_, err := a.New(0)
	assert.Error(t, err)
	_, err = a.New(12)
	assert.Error(t, err)
}
