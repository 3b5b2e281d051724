package codec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegistry_RegistersEveryBackend(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"store", "zstd", "zlib", "s2", "snappy", "lzma", "bzip2", "adaptive"} {
		c, err := r.ByName(name)
		require.NoError(t, err, name)
		require.Equal(t, name, c.Name())
	}
}

func TestRegistry_ByNameUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.ByName("does-not-exist")
	require.Error(t, err)
}

func TestRegistry_ByIDRoundTrip(t *testing.T) {
	r := NewRegistry()
	for _, id := range []byte{AlgoStore, AlgoZstd, AlgoZlib, AlgoS2, AlgoSnappy, AlgoLZMA, AlgoBzip2, AlgoAdaptive} {
		c, err := r.ByID(id)
		require.NoError(t, err)
		require.Equal(t, id, c.AlgoID())
	}

	_, err := r.ByID(0xFE)
	require.Error(t, err)
}

func testPayload() []byte {
	base := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 300)
	return base
}

func TestCodecs_CompressDecompressRoundTrip(t *testing.T) {
	r := NewRegistry()
	data := testPayload()

	for _, name := range []string{"store", "zstd", "zlib", "s2", "snappy", "lzma", "bzip2"} {
		t.Run(name, func(t *testing.T) {
			c, err := r.ByName(name)
			require.NoError(t, err)

			compressed, err := c.Compress(nil, data, 3)
			require.NoError(t, err)

			got, err := c.Decompress(nil, compressed, len(data))
			require.NoError(t, err)
			require.Equal(t, data, got)
		})
	}
}

func TestCodecs_EmptyInputRoundTrip(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"store", "zstd", "zlib", "s2", "snappy", "lzma", "bzip2"} {
		t.Run(name, func(t *testing.T) {
			c, err := r.ByName(name)
			require.NoError(t, err)

			compressed, err := c.Compress(nil, nil, 3)
			require.NoError(t, err)

			got, err := c.Decompress(nil, compressed, 0)
			require.NoError(t, err)
			require.Empty(t, got)
		})
	}
}

func TestCodecs_PropsReportSaneDefaults(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"store", "zstd", "zlib", "s2", "snappy", "lzma", "bzip2", "adaptive"} {
		c, _ := r.ByName(name)
		p := c.Props(3, 1<<20)
		require.GreaterOrEqual(t, p.BufExtra, 0, name)
	}
}

func TestAdaptiveCodec_PicksBetterRatioAndRecordsChosen(t *testing.T) {
	r := NewRegistry()
	adaptive, err := r.ByName("adaptive")
	require.NoError(t, err)

	state, err := adaptive.Init(3, 1, 1<<20, 1)
	require.NoError(t, err)

	data := bytes.Repeat([]byte("highly compressible run of bytes, repeated many times over"), 200)
	compressed, err := adaptive.Compress(state, data, 3)
	require.NoError(t, err)

	chosenID := Chosen(state)
	require.Contains(t, []byte{AlgoS2, AlgoSnappy}, chosenID)

	got, err := adaptive.Decompress(state, compressed, len(data))
	require.NoError(t, err)
	require.Equal(t, data, got)

	inner, err := r.ByID(chosenID)
	require.NoError(t, err)
	got2, err := inner.Decompress(nil, compressed, len(data))
	require.NoError(t, err)
	require.Equal(t, data, got2)
}

func TestAdaptiveCodec_DecompressWithAlgoDispatchesDirectly(t *testing.T) {
	r := NewRegistry()
	s2, err := r.ByName("s2")
	require.NoError(t, err)

	data := bytes.Repeat([]byte("dispatch-by-algo-id payload"), 50)
	compressed, err := s2.Compress(nil, data, 3)
	require.NoError(t, err)

	adaptive := mustAdaptive(t, r)
	got, err := adaptive.DecompressWithAlgo(AlgoS2, compressed, len(data))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestAdaptiveCodec_DecompressWithoutChosenStateFails(t *testing.T) {
	r := NewRegistry()
	adaptive, err := r.ByName("adaptive")
	require.NoError(t, err)

	state, err := adaptive.Init(3, 1, 1<<20, 1)
	require.NoError(t, err)

	_, err = adaptive.Decompress(state, []byte("anything"), 8)
	require.Error(t, err)
}

func mustAdaptive(t *testing.T, r *Registry) *adaptiveCodec {
	t.Helper()
	c, err := r.ByName("adaptive")
	require.NoError(t, err)
	a, ok := c.(*adaptiveCodec)
	require.True(t, ok)
	return a
}

func TestCodecs_RandomIncompressibleDataStillRoundTrips(t *testing.T) {
	r := NewRegistry()
	data := make([]byte, 4096)
	rand.New(rand.NewSource(99)).Read(data)

	for _, name := range []string{"zstd", "zlib", "s2", "snappy", "lzma", "bzip2"} {
		t.Run(name, func(t *testing.T) {
			c, err := r.ByName(name)
			require.NoError(t, err)

			compressed, err := c.Compress(nil, data, 3)
			require.NoError(t, err)

			got, err := c.Decompress(nil, compressed, len(data))
			require.NoError(t, err)
			require.Equal(t, data, got)
		})
	}
}
