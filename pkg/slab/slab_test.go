package slab

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGet_ReturnsRequestedLength(t *testing.T) {
	a := New(4096, 16384)
	buf := a.Get(100)
	require.Len(t, buf, 100)
	require.GreaterOrEqual(t, cap(buf), 100)
}

func TestGet_ReusesPutBuffer(t *testing.T) {
	a := New(4096)
	first := a.Get(4096)
	for i := range first {
		first[i] = 0xAB
	}
	a.Put(first)

	second := a.Get(100)
	// second must be backed by the same array Put returned, proving reuse
	// rather than a fresh allocation.
	require.Equal(t, byte(0xAB), second[:4096][50])
}

func TestGet_FallsThroughForSizeAboveEveryClass(t *testing.T) {
	a := New(1024)
	buf := a.Get(2048)
	require.Len(t, buf, 2048)
}

func TestGet_RoundsUpToSmallestFittingClass(t *testing.T) {
	a := New(1024, 4096, 16384)
	buf := a.Get(1500)
	require.Len(t, buf, 1500)
	require.Equal(t, 4096, cap(buf))
}

func TestPut_DropsBuffersWithUnregisteredCapacity(t *testing.T) {
	a := New(4096)
	odd := make([]byte, 777)
	a.Put(odd) // should be silently dropped, not panic

	got := a.Get(777)
	require.NotEqual(t, cap(odd), cap(got))
}

func TestNew_DefaultsWhenNoClassesGiven(t *testing.T) {
	a := New()
	require.NotEmpty(t, a.classes)
	buf := a.Get(100)
	require.Len(t, buf, 100)
}

func TestNew_SortsClassesAscending(t *testing.T) {
	a := New(16384, 1024, 4096)
	require.Equal(t, []int{1024, 4096, 16384}, a.classes)
}

func TestAllocator_ConcurrentGetPutIsRaceFree(t *testing.T) {
	a := New(4096)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				buf := a.Get(4096)
				a.Put(buf)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
