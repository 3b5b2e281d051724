package pipeline

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/falk/pcompress-go/pkg/chunker"
	"github.com/falk/pcompress-go/pkg/dedup"
)

func newTestDeduper(t *testing.T) *Deduper {
	t.Helper()
	params := chunker.Params{Min: 64, Avg: 128, Max: 512}
	splitter, err := chunker.NewSplitter(params, 0xDEAD)
	require.NoError(t, err)
	simple := dedup.NewSimpleIndex(1<<20, 128, 1<<20, 8)
	fpKind := func(b []byte) []byte {
		var h uint64 = 1469598103934665603
		for _, c := range b {
			h ^= uint64(c)
			h *= 1099511628211
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = byte(h >> (8 * i))
		}
		return out
	}
	return NewDeduper(splitter, simple, nil, fpKind)
}

func TestDeduper_EncodeDecodeRoundTrip(t *testing.T) {
	d := newTestDeduper(t)
	data := bytes.Repeat([]byte("abcdefghijklmnopqrstuvwxyz0123456789"), 200)

	descriptor := d.Encode(data, 0)
	decoded, err := d.Decode(descriptor, data)
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestDeduper_RepeatedContentDedups(t *testing.T) {
	d := newTestDeduper(t)
	block := bytes.Repeat([]byte("REPEATED-BLOCK-CONTENT-"), 10)
	data := append(append([]byte{}, block...), block...)

	descriptor := d.Encode(data, 0)
	// A descriptor with at least one back-reference tag must be strictly
	// smaller than re-storing the duplicated half literally.
	require.Less(t, len(descriptor), len(data))

	decoded, err := d.Decode(descriptor, data)
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestDeduper_StreamOffsetIsHonoredAcrossCalls(t *testing.T) {
	d := newTestDeduper(t)
	chunkA := bytes.Repeat([]byte("first-region-bytes-AAAA"), 20)
	chunkB := bytes.Repeat([]byte("first-region-bytes-AAAA"), 20) // identical content, later offset

	descA := d.Encode(chunkA, 0)
	descB := d.Encode(chunkB, int64(len(chunkA)))

	// Decoding chunk B requires priorStream to include chunk A's bytes at
	// the absolute offsets inserted during chunk A's Encode call.
	prior := append(append([]byte{}, chunkA...), chunkB...)
	decodedB, err := d.Decode(descB, prior)
	require.NoError(t, err)
	require.Equal(t, chunkB, decodedB)
	require.NotEmpty(t, descA)
}

func TestFixedDeduper_SplitsOnFixedBoundaries(t *testing.T) {
	simple := dedup.NewSimpleIndex(1<<20, 16, 1<<20, 8)
	fpKind := func(b []byte) []byte { return b[:1] }
	d := NewFixedDeduper(16, simple, fpKind)

	data := make([]byte, 50)
	for i := range data {
		data[i] = byte(i)
	}
	blocks := d.split(data)
	require.Len(t, blocks, 4)
	require.Equal(t, 16, blocks[0].Length)
	require.Equal(t, 2, blocks[3].Length)
}

func TestDeduper_DecodeRejectsOutOfRangeReference(t *testing.T) {
	d := newTestDeduper(t)
	bad := append([]byte{dedupTagRef}, appendVarint(nil, 1000)...)
	bad = appendVarint(bad, 4)
	_, err := d.Decode(bad, []byte("short"))
	require.Error(t, err)
}

func TestDeduper_DecodeRejectsUnknownTag(t *testing.T) {
	d := newTestDeduper(t)
	_, err := d.Decode([]byte{0x7F}, nil)
	require.Error(t, err)
}
