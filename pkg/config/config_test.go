package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuild_Defaults(t *testing.T) {
	c, err := Build()
	require.NoError(t, err)

	require.Equal(t, int64(1<<20), c.ChunkSize)
	require.Equal(t, "zstd", c.Algo)
	require.Equal(t, 3, c.Level)
	require.Equal(t, "sha256", c.ChecksumKind)
	require.Equal(t, "blake2b", c.MACKind)
	require.Equal(t, EncryptNone, c.Encrypt)
	require.Equal(t, DedupNone, c.Dedup)
	require.Equal(t, 1, c.NWorkers)
	require.Equal(t, uint32(CurrentHeaderVersion), c.HeaderVersion)
}

func TestBuild_OptionsOverrideDefaults(t *testing.T) {
	c, err := Build(
		WithChunkSize(4096),
		WithAlgo("lzma"),
		WithLevel(9),
		WithChecksum("crc32"),
		WithMAC("sha256"),
		WithDedup(DedupRabin),
		WithDedupPctInterval(25),
		WithMemLimit(1<<30),
		WithWorkers(8),
		WithArchiveMode(true),
		WithVerbose(true),
		WithShowStats(true),
		WithPreproc(PreprocLZP|PreprocDelta2),
	)
	require.NoError(t, err)

	require.Equal(t, int64(4096), c.ChunkSize)
	require.Equal(t, "lzma", c.Algo)
	require.Equal(t, 9, c.Level)
	require.Equal(t, "crc32", c.ChecksumKind)
	require.Equal(t, "sha256", c.MACKind)
	require.Equal(t, DedupRabin, c.Dedup)
	require.Equal(t, 25, c.DedupPctInterval)
	require.Equal(t, int64(1<<30), c.MemLimit)
	require.Equal(t, 8, c.NWorkers)
	require.True(t, c.ArchiveMode)
	require.True(t, c.Verbose)
	require.True(t, c.ShowStats)
	require.Equal(t, PreprocLZP|PreprocDelta2, c.Preproc)
}

func TestWithKeyMaterial(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	salt := []byte("salt-bytes")
	nonce := []byte("noncebyte")

	c, err := Build(
		WithEncrypt(EncryptAES),
		WithKeyMaterial(key, salt, nonce),
	)
	require.NoError(t, err)
	require.Equal(t, key, c.Key)
	require.Equal(t, salt, c.Salt)
	require.Equal(t, nonce, c.BaseNonce)
}

func TestValidate_RejectsNonPositiveChunkSize(t *testing.T) {
	_, err := Build(WithChunkSize(0))
	require.Error(t, err)

	_, err = Build(WithChunkSize(-1))
	require.Error(t, err)
}

func TestValidate_RejectsNonPositiveWorkers(t *testing.T) {
	_, err := Build(WithWorkers(0))
	require.Error(t, err)
}

func TestValidate_RejectsEncryptionWithoutKey(t *testing.T) {
	_, err := Build(WithEncrypt(EncryptXSalsa20))
	require.Error(t, err)
}

func TestValidate_RejectsBadDedupPctInterval(t *testing.T) {
	_, err := Build(WithDedupPctInterval(0))
	require.Error(t, err)

	_, err = Build(WithDedupPctInterval(101))
	require.Error(t, err)

	_, err = Build(WithDedupPctInterval(100))
	require.NoError(t, err)
}

func TestSimilarityIntervals(t *testing.T) {
	c, err := Build(WithDedupPctInterval(20))
	require.NoError(t, err)
	require.Equal(t, 5, c.SimilarityIntervals())

	c, err = Build(WithDedupPctInterval(25))
	require.NoError(t, err)
	require.Equal(t, 4, c.SimilarityIntervals())
}
