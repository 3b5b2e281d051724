package pipeline

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/falk/pcompress-go/pkg/checksum"
	"github.com/falk/pcompress-go/pkg/codec"
	"github.com/falk/pcompress-go/pkg/config"
)

func newProcessor(t *testing.T, opts ...config.Option) *Processor {
	t.Helper()
	base := []config.Option{
		config.WithChunkSize(4096),
		config.WithAlgo("zstd"),
		config.WithLevel(3),
		config.WithChecksum(string(checksum.SHA256)),
		config.WithMAC(string(checksum.BLAKE2b)),
		config.WithWorkers(1),
	}
	cfg, err := config.Build(append(base, opts...)...)
	require.NoError(t, err)

	reg := codec.NewRegistry()
	p, err := NewProcessor(cfg, reg, nil)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestProcessor_CompressDecompressRoundTrip(t *testing.T) {
	p := newProcessor(t)
	data := bytes.Repeat([]byte("round-trip payload bytes "), 100)

	rec, err := p.Compress(0, data)
	require.NoError(t, err)

	got, err := p.Decompress(rec, nil)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestProcessor_IncompressibleDataFallsBackToStore(t *testing.T) {
	p := newProcessor(t)
	data := make([]byte, 2048)
	rand.New(rand.NewSource(7)).Read(data) // random bytes compress poorly

	rec, err := p.Compress(1, data)
	require.NoError(t, err)
	require.True(t, rec.Uncompressed(), "random data should fall back to CHSIZEMask storage")

	got, err := p.Decompress(rec, nil)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestProcessor_TamperedPayloadFailsIntegrityCheck(t *testing.T) {
	p := newProcessor(t)
	data := bytes.Repeat([]byte("integrity-checked content"), 50)

	rec, err := p.Compress(0, data)
	require.NoError(t, err)

	rec.Stored[0] ^= 0xFF
	_, err = p.Decompress(rec, nil)
	require.Error(t, err)
}

func TestProcessor_EncryptedRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	nonce := bytes.Repeat([]byte{0x24}, 8)
	p := newProcessor(t,
		config.WithEncrypt(config.EncryptAES),
		config.WithKeyMaterial(key, nil, nonce),
	)
	data := bytes.Repeat([]byte("secret chunk payload"), 30)

	rec, err := p.Compress(5, data)
	require.NoError(t, err)

	got, err := p.Decompress(rec, nil)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestProcessor_EncryptedTamperFailsMAC(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	nonce := bytes.Repeat([]byte{0x22}, 8)
	p := newProcessor(t,
		config.WithEncrypt(config.EncryptAES),
		config.WithKeyMaterial(key, nil, nonce),
	)
	data := bytes.Repeat([]byte("another secret payload"), 30)

	rec, err := p.Compress(2, data)
	require.NoError(t, err)

	rec.MACOrCksum[0] ^= 0x01
	_, err = p.Decompress(rec, nil)
	require.Error(t, err)
}

func TestProcessor_ReleaseStoredReturnsBufferToScratchPool(t *testing.T) {
	key := bytes.Repeat([]byte{0x55}, 32)
	nonce := bytes.Repeat([]byte{0x66}, 8)
	p := newProcessor(t,
		config.WithEncrypt(config.EncryptAES),
		config.WithKeyMaterial(key, nil, nonce),
	)
	data := bytes.Repeat([]byte("scratch pool payload"), 40)

	rec, err := p.Compress(3, data)
	require.NoError(t, err)
	stored := rec.Stored

	p.ReleaseStored(rec)
	reused := p.scratch.Get(len(stored))
	require.Equal(t, cap(stored), cap(reused), "released buffer's size class should serve the next Get")
}

func TestProcessor_DeterministicAcrossRuns(t *testing.T) {
	data := bytes.Repeat([]byte("same input every time"), 40)

	p1 := newProcessor(t)
	rec1, err := p1.Compress(9, data)
	require.NoError(t, err)

	p2 := newProcessor(t)
	rec2, err := p2.Compress(9, data)
	require.NoError(t, err)

	require.Equal(t, rec1.Stored, rec2.Stored)
	require.Equal(t, rec1.CompressedSize, rec2.CompressedSize)
}
