// Command pcompress is the CLI surface: a chunked,
// parallel, multi-algorithm compressor/decompressor with optional
// content-defined dedup, authenticated encryption, and archive-mode
// input. Flag names mirror the teacher's cmd/nsz/main.go: short,
// single-purpose, parsed once with the standard flag package.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/falk/pcompress-go/pkg/archive"
	"github.com/falk/pcompress-go/pkg/checksum"
	"github.com/falk/pcompress-go/pkg/chunker"
	"github.com/falk/pcompress-go/pkg/codec"
	"github.com/falk/pcompress-go/pkg/concurrency"
	"github.com/falk/pcompress-go/pkg/config"
	"github.com/falk/pcompress-go/pkg/container"
	"github.com/falk/pcompress-go/pkg/cryptoenv"
	"github.com/falk/pcompress-go/pkg/dedup"
	"github.com/falk/pcompress-go/pkg/errs"
	"github.com/falk/pcompress-go/pkg/pipeline"
)

const usage = `pcompress - chunked, parallel, multi-algorithm compressor

Usage:
  pcompress -c <algo> -l <level> -s <chunksize> [options] <input> <output>
  pcompress -d [options] <input> <output>

Options:
  -c <algo>     compress with the named codec (zstd, zlib, s2, snappy, lzma, bzip2, store, adaptive)
  -d            decompress
  -l <level>    compression level
  -s <size>     chunk size in bytes (suffixes k/m/g accepted)
  -p            enable the preprocessing pipeline
  -L            enable the LZP preprocessor (implies -p)
  -P            enable DISPACK (implies -p)
  -D            enable Rabin-split dedup
  -EE           enable segmented similarity dedup
  -F            enable fixed-block dedup
  -G            global dedup index (segmented similarity, archive-wide)
  -e <cipher>   enable encryption: AES or SALSA20
  -a            archive mode: <input>/<output> name a directory tree
  -T <n>        worker threads
  -M            hide memory/throughput stats
  -S <cksum>    checksum kind (sha256, sha512, blake2b, xxh32, crc32, crc64, sha512_256, keccak256, keccak512)
  -h            show this help

Environment:
  PCOMPRESS_TMPDIR          scratch dir for segmented-dedup metadata
  PCOMPRESS_PASSWORD_FILE   path to a file holding the encryption password
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		kind, _ := errs.KindOf(err)
		if kind == errs.HelpRequested {
			fmt.Fprint(os.Stdout, usage)
			os.Exit(kind.ExitCode())
		}
		fmt.Fprintln(os.Stderr, "pcompress:", err)
		os.Exit(kind.ExitCode())
	}
}

type cliFlags struct {
	algo      string
	decompress bool
	level     int
	chunkSize string
	preproc   bool
	lzp       bool
	dispack   bool
	rabinDedup bool
	segDedup  bool
	fixedDedup bool
	globalDedup bool
	cipher    string
	archiveMode bool
	nthreads  int
	hideStats bool
	cksum     string
	help      bool
}

func run(args []string) error {
	fs := flag.NewFlagSet("pcompress", flag.ContinueOnError)
	fs.SetOutput(new(nullWriter))

	var f cliFlags
	fs.StringVar(&f.algo, "c", "", "compress with the named codec")
	fs.BoolVar(&f.decompress, "d", false, "decompress")
	fs.IntVar(&f.level, "l", 3, "compression level")
	fs.StringVar(&f.chunkSize, "s", "1m", "chunk size")
	fs.BoolVar(&f.preproc, "p", false, "enable preprocessing")
	fs.BoolVar(&f.lzp, "L", false, "enable LZP")
	fs.BoolVar(&f.dispack, "P", false, "enable DISPACK")
	fs.BoolVar(&f.rabinDedup, "D", false, "enable Rabin dedup")
	fs.BoolVar(&f.segDedup, "EE", false, "enable segmented similarity dedup")
	fs.BoolVar(&f.fixedDedup, "F", false, "enable fixed-block dedup")
	fs.BoolVar(&f.globalDedup, "G", false, "global dedup index")
	fs.StringVar(&f.cipher, "e", "", "encryption cipher")
	fs.BoolVar(&f.archiveMode, "a", false, "archive mode")
	fs.IntVar(&f.nthreads, "T", 1, "worker threads")
	fs.BoolVar(&f.hideStats, "M", false, "hide memory stats")
	fs.StringVar(&f.cksum, "S", "sha256", "checksum kind")
	fs.BoolVar(&f.help, "h", false, "show help")

	if err := fs.Parse(args); err != nil {
		return errs.New(errs.UsageError, -1, "%v", err)
	}
	if f.help {
		return errs.New(errs.HelpRequested, -1, "help requested")
	}

	rest := fs.Args()
	if len(rest) != 2 {
		return errs.New(errs.UsageError, -1, "expected exactly <input> and <output>, got %d args", len(rest))
	}
	inputPath, outputPath := rest[0], rest[1]

	if f.decompress {
		return runDecompress(f, inputPath, outputPath)
	}
	if f.algo == "" {
		return errs.New(errs.UsageError, -1, "-c <algo> is required to compress")
	}
	return runCompress(f, inputPath, outputPath)
}

// nullWriter discards the flag package's own usage text; we print ours.
type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "g"):
		mult, s = 1<<30, strings.TrimSuffix(s, "g")
	case strings.HasSuffix(s, "m"):
		mult, s = 1<<20, strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "k"):
		mult, s = 1<<10, strings.TrimSuffix(s, "k")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * mult, nil
}

func dedupMode(f cliFlags) config.DedupMode {
	switch {
	case f.segDedup, f.globalDedup:
		return config.DedupGlobal
	case f.rabinDedup:
		return config.DedupRabin
	case f.fixedDedup:
		return config.DedupFixed
	default:
		return config.DedupNone
	}
}

func preprocFlags(f cliFlags) config.PreprocFlags {
	var bits config.PreprocFlags
	if !f.preproc && !f.lzp && !f.dispack {
		return 0
	}
	// -p alone enables the full fixed filter order; -L/-P narrow it to
	// specific filters, matching "-p enable preprocessing
	// pipeline. -L enable LZP; -P enable DISPACK."
	if f.preproc && !f.lzp && !f.dispack {
		return config.PreprocLZP | config.PreprocDelta2 | config.PreprocTranspose | config.PreprocDispack | config.PreprocTyped
	}
	if f.lzp {
		bits |= config.PreprocLZP
	}
	if f.dispack {
		bits |= config.PreprocDispack
	}
	return bits
}

func readPasswordFile() ([]byte, error) {
	path := os.Getenv("PCOMPRESS_PASSWORD_FILE")
	if path == "" {
		return nil, fmt.Errorf("encryption requested but PCOMPRESS_PASSWORD_FILE is not set")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading password file: %w", err)
	}
	return []byte(strings.TrimRight(string(data), "\r\n")), nil
}

func tmpDir() string {
	if d := os.Getenv("PCOMPRESS_TMPDIR"); d != "" {
		return d
	}
	return os.TempDir()
}

// buildDeduper constructs the dedup index/splitter combination the
// compress-side flags asked for, and returns a factory every worker's
// Processor shares one instance from — the dedup index is guarded by
// its own exclusive mutex, so one shared index serves every worker.
func buildDeduper(mode config.DedupMode, chunkSize int64, pctInterval int, memLimit int64, cksumKind checksum.Kind) (func() *pipeline.Deduper, func(), error) {
	if mode == config.DedupNone {
		return nil, func() {}, nil
	}

	fpBytes, err := checksum.Size(cksumKind)
	if err != nil {
		return nil, nil, err
	}
	fpKind := func(b []byte) []byte {
		sum, _ := checksum.Sum(cksumKind, b)
		return sum
	}

	params := chunker.Params{Min: int(chunkSize / 8), Avg: int(chunkSize / 4), Max: int(chunkSize)}
	if params.Min < chunker.Window {
		params.Min = chunker.Window
	}

	switch mode {
	case config.DedupFixed:
		simple := dedup.NewSimpleIndex(chunkSize*64, chunkSize/4, memLimit, fpBytes)
		d := pipeline.NewFixedDeduper(int(chunkSize/4), simple, fpKind)
		return func() *pipeline.Deduper { return d }, func() {}, nil

	case config.DedupRabin:
		splitter, err := chunker.NewRandomSplitter(params)
		if err != nil {
			return nil, nil, err
		}
		simple := dedup.NewSimpleIndex(chunkSize*64, int64(params.Avg), memLimit, fpBytes)
		d := pipeline.NewDeduper(splitter, simple, nil, fpKind)
		return func() *pipeline.Deduper { return d }, func() {}, nil

	case config.DedupGlobal:
		splitter, err := chunker.NewRandomSplitter(params)
		if err != nil {
			return nil, nil, err
		}
		intervals := 100 / pctInterval
		similarity := dedup.NewSimilarityIndex(intervals, chunkSize*64/int64(params.Avg), memLimit)
		segWriter, err := dedup.NewSegmentWriter(tmpDir())
		if err != nil {
			return nil, nil, err
		}
		d := pipeline.NewDeduper(splitter, nil, similarity, fpKind)
		return func() *pipeline.Deduper { return d }, func() { segWriter.Close() }, nil

	default:
		return nil, func() {}, fmt.Errorf("unsupported dedup mode %v", mode)
	}
}

func runCompress(f cliFlags, inputPath, outputPath string) error {
	chunkSize, err := parseSize(f.chunkSize)
	if err != nil {
		return errs.New(errs.UsageError, -1, "%v", err)
	}

	reg := codec.NewRegistry()
	if _, err := reg.ByName(f.algo); err != nil {
		return errs.New(errs.UsageError, -1, "%v", err)
	}

	cksumKind := checksum.Kind(f.cksum)
	if _, err := checksum.Size(cksumKind); err != nil {
		return errs.New(errs.UsageError, -1, "%v", err)
	}

	mode := dedupMode(f)
	preproc := preprocFlags(f)
	memLimit := int64(64 << 20)

	opts := []config.Option{
		config.WithChunkSize(chunkSize),
		config.WithAlgo(f.algo),
		config.WithLevel(f.level),
		config.WithChecksum(string(cksumKind)),
		config.WithMAC("blake2b"),
		config.WithPreproc(preproc),
		config.WithDedup(mode),
		config.WithMemLimit(memLimit),
		config.WithWorkers(f.nthreads),
		config.WithArchiveMode(f.archiveMode),
		config.WithShowStats(!f.hideStats),
	}

	var encryptKind config.EncryptKind
	var salt, baseNonce, key []byte
	var scryptParams cryptoenv.ScryptParams
	if f.cipher != "" {
		encryptKind, err = parseCipher(f.cipher)
		if err != nil {
			return errs.New(errs.UsageError, -1, "%v", err)
		}
		password, err := readPasswordFile()
		if err != nil {
			return errs.Wrap(errs.UsageError, -1, err)
		}
		nonceLen, err := cryptoenv.NonceLen(f.cipher)
		if err != nil {
			return errs.New(errs.UsageError, -1, "%v", err)
		}
		salt = make([]byte, 16)
		baseNonce = make([]byte, nonceLen)
		if err := cryptoenv.RandomBytes(salt); err != nil {
			return errs.Wrap(errs.ResourceError, -1, err)
		}
		if err := cryptoenv.RandomBytes(baseNonce); err != nil {
			return errs.Wrap(errs.ResourceError, -1, err)
		}
		scryptParams = cryptoenv.PickScryptParams(memLimit)
		key, err = cryptoenv.DeriveKey(password, salt, scryptParams, 32)
		if err != nil {
			return errs.Wrap(errs.ResourceError, -1, err)
		}
		opts = append(opts, config.WithEncrypt(encryptKind), config.WithKeyMaterial(key, salt, baseNonce))
	}

	cfg, err := config.Build(opts...)
	if err != nil {
		return errs.New(errs.UsageError, -1, "%v", err)
	}

	newDeduper, cleanupDedup, err := buildDeduper(mode, chunkSize, cfg.DedupPctInterval, memLimit, cksumKind)
	if err != nil {
		return errs.Wrap(errs.ResourceError, -1, err)
	}
	defer cleanupDedup()

	out, err := os.Create(outputPath)
	if err != nil {
		return errs.Wrap(errs.IoError, -1, err)
	}
	defer out.Close()
	bw := bufio.NewWriter(out)
	defer bw.Flush()

	algoID, _ := algoIDFor(reg, f.algo)
	macByte, err := macKindByte(cfg.MACKind)
	if err != nil {
		return errs.Wrap(errs.ResourceError, -1, err)
	}
	cksumByte, err := container.CksumKindToByte(cksumKind)
	if err != nil {
		return errs.Wrap(errs.ResourceError, -1, err)
	}

	var flags uint32
	if encryptKind != config.EncryptNone {
		flags |= container.FlagEncrypt
	}
	if f.archiveMode {
		flags |= container.FlagArchive
	}
	if mode != config.DedupNone || preproc != 0 || encryptKind != config.EncryptNone {
		flags |= container.FlagChunkMeta
	}
	if mode == config.DedupGlobal {
		flags |= container.FlagGlobalDedup
	}

	pro := &container.Prologue{
		Version:   config.CurrentHeaderVersion,
		AlgoID:    algoID,
		Level:     byte(f.level),
		CksumKind: cksumByte,
		MACKind:   macByte,
		ChunkSize: uint64(chunkSize),
		Flags:     flags,
		Salt:      salt,
		ScryptParams: scryptParams,
		Nonce:     baseNonce,
	}
	if err := sealPrologue(cfg, pro); err != nil {
		return errs.Wrap(errs.ResourceError, -1, err)
	}
	if err := container.WritePrologue(bw, pro); err != nil {
		return errs.Wrap(errs.IoError, -1, err)
	}

	includeMeta := flags&container.FlagChunkMeta != 0

	var src io.Reader
	if f.archiveMode {
		bridge := archive.NewSourceBridge(8)
		go archive.WalkProducer(inputPath, bridge)
		src = bridge
	} else {
		in, err := os.Open(inputPath)
		if err != nil {
			return errs.Wrap(errs.IoError, -1, err)
		}
		defer in.Close()
		src = bufio.NewReader(in)
	}

	return concurrency.CompressStream(cfg, reg, newDeduper, src, bw, includeMeta)
}

func runDecompress(f cliFlags, inputPath, outputPath string) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return errs.Wrap(errs.IoError, -1, err)
	}
	defer in.Close()
	br := bufio.NewReader(in)

	reg := codec.NewRegistry()
	pro, err := container.ReadPrologue(br)
	if err != nil {
		return errs.Wrap(errs.FormatError, -1, err)
	}

	algo, err := reg.ByID(pro.AlgoID)
	if err != nil {
		return errs.Wrap(errs.FormatError, -1, err)
	}
	cksumKind, err := container.ByteToCksumKind(pro.CksumKind)
	if err != nil {
		return errs.Wrap(errs.FormatError, -1, err)
	}
	macKind, err := container.ByteToCksumKind(pro.MACKind)
	if err != nil {
		return errs.Wrap(errs.FormatError, -1, err)
	}

	opts := []config.Option{
		config.WithChunkSize(int64(pro.ChunkSize)),
		config.WithAlgo(algo.Name()),
		config.WithLevel(int(pro.Level)),
		config.WithChecksum(string(cksumKind)),
		config.WithMAC(string(macKind)),
		config.WithWorkers(f.nthreads),
		config.WithArchiveMode(pro.Flags&container.FlagArchive != 0),
		config.WithShowStats(!f.hideStats),
	}

	macOrCksumLen, err := checksum.Size(cksumKind)
	if err != nil {
		return errs.Wrap(errs.FormatError, -1, err)
	}
	if pro.Encrypted() {
		password, err := readPasswordFile()
		if err != nil {
			return errs.Wrap(errs.UsageError, -1, err)
		}
		key, err := cryptoenv.DeriveKey(password, pro.Salt, pro.ScryptParams, 32)
		if err != nil {
			return errs.Wrap(errs.ResourceError, -1, err)
		}
		cipherName := "AES"
		if len(pro.Nonce) == 24 {
			cipherName = "SALSA20"
		}
		encKind := config.EncryptAES
		if cipherName == "SALSA20" {
			encKind = config.EncryptXSalsa20
		}
		opts = append(opts, config.WithEncrypt(encKind), config.WithKeyMaterial(key, pro.Salt, pro.Nonce))
		macOrCksumLen, err = checksum.Size(macKind)
		if err != nil {
			return errs.Wrap(errs.FormatError, -1, err)
		}
		if err := verifyPrologueMAC(pro, macKind, key); err != nil {
			return errs.Wrap(errs.IntegrityError, -1, err)
		}
	} else if err := verifyPrologueCksum(pro, cksumKind); err != nil {
		return errs.Wrap(errs.IntegrityError, -1, err)
	}

	cfg, err := config.Build(opts...)
	if err != nil {
		return errs.New(errs.UsageError, -1, "%v", err)
	}

	hasMeta := pro.Flags&container.FlagChunkMeta != 0
	newDeduper := func() *pipeline.Deduper { return &pipeline.Deduper{} }

	if pro.Flags&container.FlagArchive != 0 {
		sink := archive.NewSinkBridge(8)
		done := make(chan error, 1)
		go func() { done <- archive.ExtractConsumer(outputPath, sink) }()
		if err := concurrency.DecompressStream(cfg, reg, newDeduper, br, sink, macOrCksumLen, hasMeta); err != nil {
			sink.SignalCancel()
			<-done
			return err
		}
		sink.Close()
		return <-done
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return errs.Wrap(errs.IoError, -1, err)
	}
	defer out.Close()
	bw := bufio.NewWriter(out)
	defer bw.Flush()

	return concurrency.DecompressStream(cfg, reg, newDeduper, br, bw, macOrCksumLen, hasMeta)
}

func parseCipher(name string) (config.EncryptKind, error) {
	switch strings.ToUpper(name) {
	case "AES":
		return config.EncryptAES, nil
	case "SALSA20":
		return config.EncryptXSalsa20, nil
	default:
		return config.EncryptNone, fmt.Errorf("unknown cipher %q, expected AES or SALSA20", name)
	}
}

func algoIDFor(reg *codec.Registry, name string) (byte, error) {
	c, err := reg.ByName(name)
	if err != nil {
		return 0, err
	}
	return c.AlgoID(), nil
}

func macKindByte(name string) (byte, error) {
	return container.CksumKindToByte(cryptoenv.MACKindFor(name))
}

// sealPrologue computes the prologue's MAC (when encryption is enabled)
// or plain checksum and stores it on pro, ready for WritePrologue.
func sealPrologue(cfg *config.PipelineConfig, pro *container.Prologue) error {
	if pro.Encrypted() {
		mac, err := checksum.NewMAC(cryptoenv.MACKindFor(cfg.MACKind), cfg.Key)
		if err != nil {
			return err
		}
		mac.Write(cryptoenv.PrologueMACInput(pro.Version, pro.AlgoID, pro.CksumKind, pro.MACKind, int64(pro.ChunkSize), pro.Flags, pro.Salt, pro.ScryptParams, pro.Nonce))
		pro.PrologueMAC = mac.Sum(nil)
		return nil
	}
	sum, err := checksum.Sum(checksum.Kind(cfg.ChecksumKind), cryptoenv.PrologueMACInput(pro.Version, pro.AlgoID, pro.CksumKind, pro.MACKind, int64(pro.ChunkSize), pro.Flags, nil, cryptoenv.ScryptParams{}, nil))
	if err != nil {
		return err
	}
	pro.PrologueCksum = sum
	return nil
}

// verifyPrologueMAC recomputes the prologue MAC under the derived key
// and compares it against what was read off the wire.
func verifyPrologueMAC(pro *container.Prologue, macKind checksum.Kind, key []byte) error {
	mac, err := checksum.NewMAC(macKind, key)
	if err != nil {
		return err
	}
	mac.Write(cryptoenv.PrologueMACInput(pro.Version, pro.AlgoID, pro.CksumKind, pro.MACKind, int64(pro.ChunkSize), pro.Flags, pro.Salt, pro.ScryptParams, pro.Nonce))
	if !hmacEqual(mac.Sum(nil), pro.PrologueMAC) {
		return fmt.Errorf("prologue MAC mismatch")
	}
	return nil
}

// verifyPrologueCksum recomputes the plain-mode prologue checksum.
func verifyPrologueCksum(pro *container.Prologue, cksumKind checksum.Kind) error {
	sum, err := checksum.Sum(cksumKind, cryptoenv.PrologueMACInput(pro.Version, pro.AlgoID, pro.CksumKind, pro.MACKind, int64(pro.ChunkSize), pro.Flags, nil, cryptoenv.ScryptParams{}, nil))
	if err != nil {
		return err
	}
	if !hmacEqual(sum, pro.PrologueCksum) {
		return fmt.Errorf("prologue checksum mismatch")
	}
	return nil
}

func hmacEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

