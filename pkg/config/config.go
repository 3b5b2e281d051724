// Package config holds the immutable pipeline configuration shared by
// every chunk processed in one run.
package config

import "fmt"

// DedupMode selects how (or whether) the pipeline deduplicates chunk
// content before compression.
type DedupMode int

const (
	DedupNone DedupMode = iota
	DedupFixed
	DedupRabin
	DedupGlobal // segmented similarity index
)

// EncryptKind selects the stream cipher used by the cryptographic
// envelope. EncryptNone disables the envelope entirely.
type EncryptKind int

const (
	EncryptNone EncryptKind = iota
	EncryptAES
	EncryptXSalsa20
)

// PreprocFlags is a bitset of optional preprocessing filters applied in
// the fixed order: LZP -> DELTA2 -> transpose -> DISPACK -> typed filter.
type PreprocFlags uint8

const (
	PreprocLZP PreprocFlags = 1 << iota
	PreprocDelta2
	PreprocTranspose
	PreprocDispack
	PreprocTyped
)

// PipelineConfig is immutable after Build(); every field reproduces
// identical outputs for identical inputs when the configured codec is
// deterministic.
type PipelineConfig struct {
	ChunkSize    int64
	Algo         string
	Level        int
	ChecksumKind string
	MACKind      string
	Encrypt      EncryptKind
	Preproc      PreprocFlags
	Dedup        DedupMode
	DedupPctInterval int
	MemLimit     int64
	NWorkers     int
	ArchiveMode  bool
	HeaderVersion uint32

	// Key material, populated by the KDF step; Validate rejects an
	// empty Key when Encrypt is not EncryptNone.
	Key      []byte
	Salt     []byte
	BaseNonce []byte

	Verbose bool
	ShowStats bool
}

// Option mutates a PipelineConfig under construction.
type Option func(*PipelineConfig)

func WithChunkSize(n int64) Option        { return func(c *PipelineConfig) { c.ChunkSize = n } }
func WithAlgo(algo string) Option         { return func(c *PipelineConfig) { c.Algo = algo } }
func WithLevel(level int) Option          { return func(c *PipelineConfig) { c.Level = level } }
func WithChecksum(kind string) Option     { return func(c *PipelineConfig) { c.ChecksumKind = kind } }
func WithMAC(kind string) Option          { return func(c *PipelineConfig) { c.MACKind = kind } }
func WithEncrypt(kind EncryptKind) Option { return func(c *PipelineConfig) { c.Encrypt = kind } }
func WithPreproc(flags PreprocFlags) Option {
	return func(c *PipelineConfig) { c.Preproc = flags }
}
func WithDedup(mode DedupMode) Option { return func(c *PipelineConfig) { c.Dedup = mode } }
func WithDedupPctInterval(pct int) Option {
	return func(c *PipelineConfig) { c.DedupPctInterval = pct }
}
func WithMemLimit(n int64) Option   { return func(c *PipelineConfig) { c.MemLimit = n } }
func WithWorkers(n int) Option      { return func(c *PipelineConfig) { c.NWorkers = n } }
func WithArchiveMode(b bool) Option { return func(c *PipelineConfig) { c.ArchiveMode = b } }
func WithVerbose(b bool) Option     { return func(c *PipelineConfig) { c.Verbose = b } }
func WithShowStats(b bool) Option   { return func(c *PipelineConfig) { c.ShowStats = b } }
func WithKeyMaterial(key, salt, baseNonce []byte) Option {
	return func(c *PipelineConfig) {
		c.Key = key
		c.Salt = salt
		c.BaseNonce = baseNonce
	}
}

// CurrentHeaderVersion is the highest prologue version this
// implementation emits.
const CurrentHeaderVersion = 5

// MinSupportedHeaderVersion is the oldest prologue version decompression
// will accept.
const MinSupportedHeaderVersion = 1

// Build assembles a PipelineConfig with defaults matching the teacher's
// CLI defaults, then applies opts in order.
func Build(opts ...Option) (*PipelineConfig, error) {
	c := &PipelineConfig{
		ChunkSize:     1 << 20, // 1 MiB, matches teacher's DefaultBlockSizeEx
		Algo:          "zstd",
		Level:         3,
		ChecksumKind:  "sha256",
		MACKind:       "blake2b",
		Encrypt:       EncryptNone,
		Dedup:         DedupNone,
		DedupPctInterval: 20,
		MemLimit:      64 << 20,
		NWorkers:      1,
		HeaderVersion: CurrentHeaderVersion,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate enforces the invariants the design assumes callers uphold before
// any chunk is processed.
func (c *PipelineConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.NWorkers <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", c.NWorkers)
	}
	if c.Encrypt != EncryptNone && len(c.Key) == 0 {
		return fmt.Errorf("encryption enabled but no key material set")
	}
	if c.DedupPctInterval <= 0 || c.DedupPctInterval > 100 {
		return fmt.Errorf("dedup percentile interval must be in (0,100], got %d", c.DedupPctInterval)
	}
	return nil
}

// SimilarityIntervals returns 100/pct_interval, the number of similarity
// buckets used by segmented dedup.
func (c *PipelineConfig) SimilarityIntervals() int {
	return 100 / c.DedupPctInterval
}
