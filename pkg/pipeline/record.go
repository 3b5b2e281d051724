// Package pipeline implements the per-chunk processing pipeline:
// preprocess -> dedup -> compress -> encrypt -> MAC, and
// its strict inverse. It is grounded on the teacher's compressBlocks
// (pkg/fs/compressor.go): "read -> transform -> compress -> keep
// smaller of compressed/raw" becomes, here, a longer fixed stage order
// with dedup and an optional cryptographic envelope spliced in, driven
// by pkg/config.PipelineConfig instead of a single compressionLevel
// argument.
package pipeline

// CHSIZEMask marks compressed_size_be as carrying an uncompressed
// (stored) chunk,
const CHSIZEMask = uint64(1) << 63

// Chunk record flag bits, persisted as flags_byte whenever the dedup or
// preprocess bit is set ("If chunk flags bit dedup/
// preproc set: original_size_be, flags_byte").
const (
	FlagDedup byte = 1 << iota
	FlagPreprocLZP
	FlagPreprocDelta2
	FlagPreprocTranspose
	FlagPreprocDispack
	FlagPreprocTyped
)

// preprocMask is the subset of flag bits the preprocess stage owns.
const preprocMask = FlagPreprocLZP | FlagPreprocDelta2 | FlagPreprocTranspose | FlagPreprocDispack | FlagPreprocTyped

// Record is one chunk record, as laid out on the wire by pkg/container.
// AlgoID is persisted only in adaptive mode; it is otherwise implied
// by the file-level algo_id in the prologue.
type Record struct {
	ID             int64
	CompressedSize uint64 // top bit == CHSIZEMask iff Stored
	MACOrCksum     []byte
	OriginalSize   uint64 // on the wire only when the stream carries container.FlagChunkMeta
	Flags          byte
	AlgoID         byte
	Stored         []byte
}

// Uncompressed reports whether this record's bytes are stored verbatim
// rather than through the configured codec.
func (r *Record) Uncompressed() bool {
	return r.CompressedSize&CHSIZEMask != 0
}

// PayloadLen is the number of stored bytes, independent of the
// CHSIZEMask bit.
func (r *Record) PayloadLen() uint64 {
	return r.CompressedSize &^ CHSIZEMask
}
