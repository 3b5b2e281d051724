package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/falk/pcompress-go/pkg/codec"
	"github.com/falk/pcompress-go/pkg/config"
	"github.com/falk/pcompress-go/pkg/errs"
)

func TestParseSize(t *testing.T) {
	cases := map[string]int64{
		"100":  100,
		"1k":   1 << 10,
		"4K":   4 << 10,
		"2m":   2 << 20,
		"1M":   1 << 20,
		"1g":   1 << 30,
		"1G":   1 << 30,
		" 5m ": 5 << 20,
	}
	for in, want := range cases {
		got, err := parseSize(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}

func TestParseSize_RejectsGarbage(t *testing.T) {
	_, err := parseSize("not-a-size")
	require.Error(t, err)
}

func TestDedupMode(t *testing.T) {
	require.Equal(t, config.DedupNone, dedupMode(cliFlags{}))
	require.Equal(t, config.DedupFixed, dedupMode(cliFlags{fixedDedup: true}))
	require.Equal(t, config.DedupRabin, dedupMode(cliFlags{rabinDedup: true}))
	require.Equal(t, config.DedupGlobal, dedupMode(cliFlags{segDedup: true}))
	require.Equal(t, config.DedupGlobal, dedupMode(cliFlags{globalDedup: true}))
	// segmented/global dedup takes priority when combined with other flags.
	require.Equal(t, config.DedupGlobal, dedupMode(cliFlags{segDedup: true, rabinDedup: true}))
}

func TestPreprocFlags_NoneRequested(t *testing.T) {
	require.Zero(t, preprocFlags(cliFlags{}))
}

func TestPreprocFlags_PlainDashPEnablesFullChain(t *testing.T) {
	bits := preprocFlags(cliFlags{preproc: true})
	require.NotZero(t, bits&config.PreprocLZP)
	require.NotZero(t, bits&config.PreprocDelta2)
	require.NotZero(t, bits&config.PreprocTranspose)
	require.NotZero(t, bits&config.PreprocDispack)
	require.NotZero(t, bits&config.PreprocTyped)
}

func TestPreprocFlags_NarrowedByLZPAndDispackFlags(t *testing.T) {
	bits := preprocFlags(cliFlags{lzp: true})
	require.Equal(t, config.PreprocLZP, bits)

	bits = preprocFlags(cliFlags{dispack: true})
	require.Equal(t, config.PreprocDispack, bits)

	bits = preprocFlags(cliFlags{lzp: true, dispack: true})
	require.Equal(t, config.PreprocLZP|config.PreprocDispack, bits)
}

func TestParseCipher(t *testing.T) {
	k, err := parseCipher("AES")
	require.NoError(t, err)
	require.Equal(t, config.EncryptAES, k)

	k, err = parseCipher("salsa20")
	require.NoError(t, err)
	require.Equal(t, config.EncryptXSalsa20, k)

	_, err = parseCipher("rot13")
	require.Error(t, err)
}

func TestAlgoIDFor(t *testing.T) {
	reg := codec.NewRegistry()
	id, err := algoIDFor(reg, "zstd")
	require.NoError(t, err)
	require.NotZero(t, id)

	_, err = algoIDFor(reg, "not-a-codec")
	require.Error(t, err)
}

func TestMacKindByte(t *testing.T) {
	b, err := macKindByte("sha256")
	require.NoError(t, err)
	require.NotNil(t, b)

	b2, err := macKindByte("")
	require.NoError(t, err)
	require.NotEqual(t, b, b2, "empty MAC kind should default to blake2b, distinct from sha256")
}

func TestHmacEqual(t *testing.T) {
	require.True(t, hmacEqual([]byte{1, 2, 3}, []byte{1, 2, 3}))
	require.False(t, hmacEqual([]byte{1, 2, 3}, []byte{1, 2, 4}))
	require.False(t, hmacEqual([]byte{1, 2}, []byte{1, 2, 3}))
}

func TestTmpDir_FallsBackToOSDefault(t *testing.T) {
	os.Unsetenv("PCOMPRESS_TMPDIR")
	require.Equal(t, os.TempDir(), tmpDir())

	t.Setenv("PCOMPRESS_TMPDIR", "/custom/scratch")
	require.Equal(t, "/custom/scratch", tmpDir())
}

func TestReadPasswordFile_RequiresEnvVar(t *testing.T) {
	os.Unsetenv("PCOMPRESS_PASSWORD_FILE")
	_, err := readPasswordFile()
	require.Error(t, err)
}

func TestReadPasswordFile_TrimsTrailingNewline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pw")
	require.NoError(t, os.WriteFile(path, []byte("hunter2\r\n"), 0o600))
	t.Setenv("PCOMPRESS_PASSWORD_FILE", path)

	got, err := readPasswordFile()
	require.NoError(t, err)
	require.Equal(t, "hunter2", string(got))
}

func TestRun_HelpRequested(t *testing.T) {
	err := run([]string{"-h"})
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.HelpRequested, kind)
	require.Equal(t, 2, kind.ExitCode())
}

func TestRun_MissingArgsIsUsageError(t *testing.T) {
	err := run([]string{"-c", "zstd"})
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.UsageError, kind)
	require.Equal(t, 1, kind.ExitCode())
}

func TestRun_CompressWithoutAlgoIsUsageError(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out")
	require.NoError(t, os.WriteFile(in, []byte("data"), 0o644))

	err := run([]string{in, out})
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.UsageError, kind)
}

func TestRun_CompressDecompressRoundTrip(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "input.txt")
	compressedPath := filepath.Join(dir, "compressed.pcmp")
	outPath := filepath.Join(dir, "output.txt")

	content := bytes.Repeat([]byte("pcompress CLI round trip payload line\n"), 2000)
	require.NoError(t, os.WriteFile(inPath, content, 0o644))

	require.NoError(t, run([]string{"-c", "zstd", "-s", "16k", "-T", "2", inPath, compressedPath}))
	require.NoError(t, run([]string{"-d", "-T", "2", compressedPath, outPath}))

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestRun_CompressDecompressRoundTrip_WithDedupAndPreproc(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "input.bin")
	compressedPath := filepath.Join(dir, "compressed.pcmp")
	outPath := filepath.Join(dir, "output.bin")

	block := bytes.Repeat([]byte("REPEATED-DEDUP-CANDIDATE-BLOCK-"), 64)
	content := append(append([]byte{}, block...), block...)
	require.NoError(t, os.WriteFile(inPath, content, 0o644))

	require.NoError(t, run([]string{"-c", "zstd", "-s", "8k", "-D", "-p", inPath, compressedPath}))
	require.NoError(t, run([]string{"-d", compressedPath, outPath}))

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestRun_EncryptedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "secret.txt")
	compressedPath := filepath.Join(dir, "secret.pcmp")
	outPath := filepath.Join(dir, "secret.out")
	pwPath := filepath.Join(dir, "password")

	require.NoError(t, os.WriteFile(pwPath, []byte("correct horse battery staple"), 0o600))
	t.Setenv("PCOMPRESS_PASSWORD_FILE", pwPath)

	content := bytes.Repeat([]byte("encrypted CLI payload "), 500)
	require.NoError(t, os.WriteFile(inPath, content, 0o644))

	require.NoError(t, run([]string{"-c", "zstd", "-s", "8k", "-e", "AES", inPath, compressedPath}))
	require.NoError(t, run([]string{"-d", compressedPath, outPath}))

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestRun_ArchiveModeRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "one.txt"), []byte("first file contents"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "sub", "two.txt"), []byte("second file, nested"), 0o644))

	dir := t.TempDir()
	compressedPath := filepath.Join(dir, "archive.pcmp")
	destDir := filepath.Join(dir, "extracted")

	require.NoError(t, run([]string{"-c", "zstd", "-s", "8k", "-a", srcDir, compressedPath}))
	require.NoError(t, run([]string{"-d", "-a", compressedPath, destDir}))

	got, err := os.ReadFile(filepath.Join(destDir, "one.txt"))
	require.NoError(t, err)
	require.Equal(t, "first file contents", string(got))

	got, err = os.ReadFile(filepath.Join(destDir, "sub", "two.txt"))
	require.NoError(t, err)
	require.Equal(t, "second file, nested", string(got))
}
