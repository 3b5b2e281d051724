package chunker

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func testParams() Params {
	return Params{Min: 64, Avg: 256, Max: 1024}
}

func TestSplitter_BoundariesAreDeterministic(t *testing.T) {
	data := make([]byte, 64<<10)
	rand.New(rand.NewSource(1)).Read(data)

	s1, err := NewSplitter(testParams(), 0x1234)
	require.NoError(t, err)
	s2, err := NewSplitter(testParams(), 0x1234)
	require.NoError(t, err)

	blocks1 := s1.Split(data)
	blocks2 := s2.Split(data)
	require.Equal(t, blocks1, blocks2)
	require.NotEmpty(t, blocks1)
}

func TestSplitter_DifferentSeedsDiverge(t *testing.T) {
	data := make([]byte, 64<<10)
	rand.New(rand.NewSource(2)).Read(data)

	s1, err := NewSplitter(testParams(), 0x1234)
	require.NoError(t, err)
	s2, err := NewSplitter(testParams(), 0x5678)
	require.NoError(t, err)

	require.NotEqual(t, s1.Split(data), s2.Split(data))
}

func TestSplitter_BlocksReassembleToOriginal(t *testing.T) {
	data := make([]byte, 32<<10)
	rand.New(rand.NewSource(3)).Read(data)

	s, err := NewSplitter(testParams(), 0xABCD)
	require.NoError(t, err)
	blocks := s.Split(data)

	var out bytes.Buffer
	for _, b := range blocks {
		require.GreaterOrEqual(t, b.Length, 1)
		out.Write(data[b.Offset : b.Offset+b.Length])
	}
	require.Equal(t, data, out.Bytes())
}

func TestSplitter_RespectsMinMax(t *testing.T) {
	params := testParams()
	data := make([]byte, 16<<10)
	rand.New(rand.NewSource(4)).Read(data)

	s, err := NewSplitter(params, 0x9999)
	require.NoError(t, err)
	blocks := s.Split(data)

	for i, b := range blocks {
		require.LessOrEqual(t, b.Length, params.Max)
		if i != len(blocks)-1 {
			require.GreaterOrEqual(t, b.Length, params.Min)
		}
	}
}

func TestSplitter_InvalidParams(t *testing.T) {
	_, err := NewSplitter(Params{Min: 10, Avg: 5, Max: 1}, 1)
	require.Error(t, err)

	_, err = NewSplitter(Params{Min: 1, Avg: 2, Max: 3}, 1)
	require.Error(t, err, "min below Window must be rejected")
}

func TestSplitFixed(t *testing.T) {
	data := make([]byte, 100)
	blocks := SplitFixed(data, 30)
	require.Len(t, blocks, 4)
	require.Equal(t, Block{Offset: 0, Length: 30}, blocks[0])
	require.Equal(t, Block{Offset: 90, Length: 10}, blocks[3])
}

func TestSplitFixed_EmptyInput(t *testing.T) {
	require.Nil(t, SplitFixed(nil, 30))
	require.Nil(t, SplitFixed([]byte("x"), 0))
}

func TestSplit_EmptyInput(t *testing.T) {
	s, err := NewSplitter(testParams(), 1)
	require.NoError(t, err)
	require.Nil(t, s.Split(nil))
}
