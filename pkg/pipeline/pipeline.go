package pipeline

import (
	"bytes"
	"fmt"

	"github.com/falk/pcompress-go/pkg/checksum"
	"github.com/falk/pcompress-go/pkg/codec"
	"github.com/falk/pcompress-go/pkg/config"
	"github.com/falk/pcompress-go/pkg/cryptoenv"
	"github.com/falk/pcompress-go/pkg/errs"
	"github.com/falk/pcompress-go/pkg/slab"
)

// headerOverhead approximates the per-record framing cost (size field,
// checksum/MAC, optional original-size+flags byte) that the
// store-fallback comparison weighs compressed output against, so a
// compressed chunk that merely breaks even on the codec doesn't still
// lose to framing overhead once stored.
const headerOverhead = 24

// typeKind is the first stage: sample the first KiB to classify
// the chunk as text, binary, or already-compressed. Only the compressed
// distinction
// actually changes pipeline behavior (skip preprocessing, since
// already-compressed data has no exploitable structure left); the rest
// is advisory and, per the dispack/typed filter Open Question decision,
// has no registered per-type filter to dispatch to.
type typeKind int

const (
	typeBinary typeKind = iota
	typeText
	typeCompressed
)

var compressedMagics = [][]byte{
	{0xFF, 0xD8, 0xFF},             // JPEG
	{0x89, 'P', 'N', 'G'},          // PNG
	{'P', 'K', 0x03, 0x04},         // ZIP
	{0x1F, 0x8B},                   // gzip
	{0x28, 0xB5, 0x2F, 0xFD},       // zstd frame
}

func detectType(data []byte) typeKind {
	sample := data
	if len(sample) > 1024 {
		sample = sample[:1024]
	}
	for _, magic := range compressedMagics {
		if bytes.HasPrefix(sample, magic) {
			return typeCompressed
		}
	}
	textLike := 0
	for _, b := range sample {
		if b == '\n' || b == '\t' || (b >= 0x20 && b < 0x7F) {
			textLike++
		}
	}
	if len(sample) > 0 && textLike*100/len(sample) > 95 {
		return typeText
	}
	return typeBinary
}

// Processor runs one worker's share of the chunk pipeline. It owns the
// codec's per-thread State and, when dedup is enabled, a Deduper tied
// to the shared index.
type Processor struct {
	cfg        *config.PipelineConfig
	reg        *codec.Registry
	codecImpl  codec.Codec
	codecState codec.State
	dedup      *Deduper
	scratch    *slab.Allocator
}

func NewProcessor(cfg *config.PipelineConfig, reg *codec.Registry, dd *Deduper) (*Processor, error) {
	c, err := reg.ByName(cfg.Algo)
	if err != nil {
		return nil, err
	}
	state, err := c.Init(cfg.Level, 1, cfg.ChunkSize, cfg.HeaderVersion)
	if err != nil {
		return nil, errs.Wrap(errs.ResourceError, -1, err)
	}
	return &Processor{cfg: cfg, reg: reg, codecImpl: c, codecState: state, dedup: dd, scratch: slab.New()}, nil
}

// ReleaseStored returns rec.Stored to the scratch allocator once the
// caller has finished writing it out (the concurrency ring does this
// right after the wire record is serialized). Buffers whose capacity
// doesn't match a registered size class are simply dropped.
func (p *Processor) ReleaseStored(rec *Record) {
	p.scratch.Put(rec.Stored)
}

func (p *Processor) Close() {
	p.codecImpl.Deinit(p.codecState)
}

func cipherKindName(k config.EncryptKind) string {
	switch k {
	case config.EncryptAES:
		return "AES"
	case config.EncryptXSalsa20:
		return "SALSA20"
	default:
		return ""
	}
}

// Compress runs the type-detect, preprocess, dedup, codec, encrypt, and
// seal stages on one chunk and returns its wire record.
func (p *Processor) Compress(id int64, data []byte) (*Record, error) {
	kind := detectType(data)

	payload := data
	var appliedBits byte
	if p.cfg.Preproc != 0 && kind != typeCompressed {
		out, bits, err := applyPreproc(payload, p.cfg.Preproc)
		if err != nil {
			return nil, errs.Wrap(errs.CodecError, id, err)
		}
		payload = out
		appliedBits = bits
	}

	originalSize := uint64(len(payload))

	var flags byte = appliedBits
	if p.cfg.Dedup != config.DedupNone && p.dedup != nil {
		payload = p.dedup.Encode(payload, id*p.cfg.ChunkSize)
		flags |= FlagDedup
	}

	compressed, cErr := p.codecImpl.Compress(p.codecState, payload, p.cfg.Level)
	var stored []byte
	var compressedSize uint64
	if cErr != nil || uint64(len(compressed))+headerOverhead >= uint64(len(payload)) {
		// codec failure or non-improving ratio falls back to
		// uncompressed storage; this is not a pipeline error.
		stored = payload
		compressedSize = uint64(len(payload)) | CHSIZEMask
	} else {
		stored = compressed
		compressedSize = uint64(len(compressed))
	}

	algoID := p.codecImpl.AlgoID()
	if p.codecImpl.AlgoID() == codec.AlgoAdaptive {
		algoID = codec.Chosen(p.codecState)
	}

	if p.cfg.Encrypt != config.EncryptNone {
		stream, err := cryptoenv.Stream(cipherKindName(p.cfg.Encrypt), p.cfg.Key, p.cfg.BaseNonce, id)
		if err != nil {
			return nil, errs.Wrap(errs.ResourceError, id, err)
		}
		encrypted := p.scratch.Get(len(stored))
		stream.XORKeyStream(encrypted, stored)
		stored = encrypted
	}

	rec := &Record{
		ID:             id,
		CompressedSize: compressedSize,
		OriginalSize:   originalSize,
		Flags:          flags,
		AlgoID:         algoID,
		Stored:         stored,
	}

	macOrCksum, err := p.sealRecord(rec)
	if err != nil {
		return nil, errs.Wrap(errs.ResourceError, id, err)
	}
	rec.MACOrCksum = macOrCksum
	return rec, nil
}

func (p *Processor) sealRecord(rec *Record) ([]byte, error) {
	if p.cfg.Encrypt != config.EncryptNone {
		mac, err := checksum.NewMAC(cryptoenv.MACKindFor(p.cfg.MACKind), p.cfg.Key)
		if err != nil {
			return nil, err
		}
		mac.Write(cryptoenv.ChunkMACInput(rec.CompressedSize, rec.OriginalSize, rec.Flags, rec.AlgoID, rec.ID, rec.Stored))
		return mac.Sum(nil), nil
	}
	return checksum.Sum(checksum.Kind(p.cfg.ChecksumKind), rec.Stored)
}

// DecodeStage runs the parallel-safe half of the decompress inverse:
// verify MAC/checksum, decrypt, then decompress (unless stored). Its
// result is either the final chunk bytes (dedup disabled) or the dedup
// descriptor stream (dedup enabled) — the caller tells the two apart
// via rec.Flags&FlagDedup. Pure function of (rec, key), safe to call
// concurrently across chunks.
func (p *Processor) DecodeStage(rec *Record) ([]byte, error) {
	if err := p.verify(rec); err != nil {
		return nil, errs.Wrap(errs.IntegrityError, rec.ID, err)
	}

	stored := rec.Stored
	if p.cfg.Encrypt != config.EncryptNone {
		stream, err := cryptoenv.Stream(cipherKindName(p.cfg.Encrypt), p.cfg.Key, p.cfg.BaseNonce, rec.ID)
		if err != nil {
			return nil, errs.Wrap(errs.ResourceError, rec.ID, err)
		}
		decrypted := make([]byte, len(stored))
		stream.XORKeyStream(decrypted, stored)
		stored = decrypted
	}

	if rec.Uncompressed() {
		return stored, nil
	}

	var payload []byte
	var err error
	if p.codecImpl.AlgoID() == codec.AlgoAdaptive {
		ac := p.codecImpl.(interface {
			DecompressWithAlgo(byte, []byte, int) ([]byte, error)
		})
		payload, err = ac.DecompressWithAlgo(rec.AlgoID, stored, int(rec.OriginalSize))
	} else {
		payload, err = p.codecImpl.Decompress(p.codecState, stored, int(rec.OriginalSize))
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodecError, rec.ID, err)
	}
	return payload, nil
}

// FinishStage runs the serialized half of the decompress inverse:
// dedup expansion (needs priorStream, the logical stream written so
// far, since a back-reference target may lie anywhere before it)
// followed by reversing preprocessing filters. The concurrency ring
// runs this on the writer task, in chunk order, after DecodeStage has
// already run for that chunk (possibly out of order, in a worker).
func (p *Processor) FinishStage(rec *Record, stage1Out []byte, priorStream []byte) ([]byte, error) {
	payload := stage1Out

	if rec.Flags&FlagDedup != 0 {
		if p.dedup == nil {
			return nil, errs.New(errs.IntegrityError, rec.ID, "dedup bit set but no dedup index configured")
		}
		expanded, err := p.dedup.Decode(payload, priorStream)
		if err != nil {
			return nil, errs.Wrap(errs.IntegrityError, rec.ID, err)
		}
		payload = expanded
	}

	if rec.Flags&preprocMask != 0 {
		reversed, err := reversePreproc(payload, rec.Flags&preprocMask)
		if err != nil {
			return nil, errs.Wrap(errs.CodecError, rec.ID, err)
		}
		payload = reversed
	}

	return payload, nil
}

// Decompress runs the full strict inverse of Compress serially, for
// callers (tests, single-threaded decode) that don't need DecodeStage
// and FinishStage split across the concurrency ring.
func (p *Processor) Decompress(rec *Record, priorStream []byte) ([]byte, error) {
	stage1, err := p.DecodeStage(rec)
	if err != nil {
		return nil, err
	}
	return p.FinishStage(rec, stage1, priorStream)
}

func (p *Processor) verify(rec *Record) error {
	var want []byte
	var err error
	if p.cfg.Encrypt != config.EncryptNone {
		mac, macErr := checksum.NewMAC(cryptoenv.MACKindFor(p.cfg.MACKind), p.cfg.Key)
		if macErr != nil {
			return macErr
		}
		algoID := rec.AlgoID
		if p.codecImpl.AlgoID() != codec.AlgoAdaptive {
			algoID = p.codecImpl.AlgoID()
		}
		mac.Write(cryptoenv.ChunkMACInput(rec.CompressedSize, rec.OriginalSize, rec.Flags, algoID, rec.ID, rec.Stored))
		want = mac.Sum(nil)
	} else {
		want, err = checksum.Sum(checksum.Kind(p.cfg.ChecksumKind), rec.Stored)
		if err != nil {
			return err
		}
	}
	if !bytes.Equal(want, rec.MACOrCksum) {
		return fmt.Errorf("chunk %d: MAC/checksum mismatch", rec.ID)
	}
	return nil
}
