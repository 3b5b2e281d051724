package pipeline

import (
	"encoding/binary"
	"fmt"

	"github.com/falk/pcompress-go/pkg/chunker"
	"github.com/falk/pcompress-go/pkg/dedup"
)

// dedupTag distinguishes a literal run from a back-reference within the
// dedup descriptor stream that replaces a deduplicated chunk's content:
// a reference points at earlier offsets instead of repeating bytes.
// The wire shape of that stream is varint-based, grounded on the
// chunk-record framing style of pkg/container (length-prefixed fields,
// big-endian fixed integers for anything that must be a stable width).
const (
	dedupTagLiteral byte = 0
	dedupTagRef     byte = 1
)

// Deduper owns whichever dedup index the pipeline configuration
// selected and applies/reverses the dedup descriptor-stream transform.
// The index itself (simple or similarity) is the only state shared
// across concurrent workers, and it serializes its own access; a
// Deduper carries no other mutable state, so the same instance can be
// handed to every worker in the ring: the index's exclusive mutex is
// held only across a single lookup-plus-optional-insert.
type Deduper struct {
	splitter   *chunker.Splitter
	fixedSize  int // >0 selects SplitFixed instead of splitter, "Fixed" mode
	simple     *dedup.SimpleIndex
	similarity *dedup.SimilarityIndex
	fpKind     func(data []byte) []byte
}

func NewDeduper(splitter *chunker.Splitter, simple *dedup.SimpleIndex, similarity *dedup.SimilarityIndex, fpKind func([]byte) []byte) *Deduper {
	return &Deduper{splitter: splitter, simple: simple, similarity: similarity, fpKind: fpKind}
}

// NewFixedDeduper builds a Deduper that splits on fixed-size boundaries
// (no Rabin rolling hash) rather than content-defined ones.
func NewFixedDeduper(fixedSize int, simple *dedup.SimpleIndex, fpKind func([]byte) []byte) *Deduper {
	return &Deduper{fixedSize: fixedSize, simple: simple, fpKind: fpKind}
}

func (d *Deduper) split(data []byte) []chunker.Block {
	if d.fixedSize > 0 {
		return chunker.SplitFixed(data, d.fixedSize)
	}
	return d.splitter.Split(data)
}

// Encode splits data into content-defined blocks and emits the dedup
// descriptor stream, inserting any new blocks into the index at their
// absolute offset in the logical stream. streamOffset is the position
// of data[0] in that logical stream; callers pass chunk_id*chunk_size
// rather than have Encode track a running counter, since workers in the
// concurrency ring call Encode out of chunk order.
func (d *Deduper) Encode(data []byte, streamOffset int64) []byte {
	blocks := d.split(data)
	out := make([]byte, 0, len(data))

	for _, blk := range blocks {
		chunkData := data[blk.Offset : blk.Offset+blk.Length]
		fp := d.fpKind(chunkData)
		absOffset := streamOffset + int64(blk.Offset)

		if offset, ok := d.lookup(fp, int64(blk.Length)); ok {
			out = append(out, dedupTagRef)
			out = appendVarint(out, offset)
			out = appendVarint(out, int64(blk.Length))
		} else {
			out = append(out, dedupTagLiteral)
			out = appendVarint(out, int64(blk.Length))
			out = append(out, chunkData...)
			d.insert(fp, absOffset, int64(blk.Length))
		}
	}

	return out
}

func (d *Deduper) lookup(fp []byte, size int64) (int64, bool) {
	if d.simple != nil {
		e, ok := d.simple.Lookup(fp, size)
		if ok {
			return e.ItemOffset, true
		}
		return 0, false
	}
	return d.similarity.Lookup(fp)
}

func (d *Deduper) insert(fp []byte, offset, size int64) {
	if d.simple != nil {
		d.simple.Insert(fp, offset, size)
		return
	}
	d.similarity.Insert(fp, offset)
}

// Decode reverses Encode given access to the full logical stream
// produced before this chunk (the pipeline must keep every deduped
// chunk's original bytes available for back-references,
// "item_offset into the original uncompressed stream"). A reference
// past the end of priorStream resolves into the bytes this call has
// already decoded, i.e. an earlier block of the same chunk.
func (d *Deduper) Decode(descriptor []byte, priorStream []byte) ([]byte, error) {
	out := make([]byte, 0, len(descriptor))
	i := 0
	for i < len(descriptor) {
		tag := descriptor[i]
		i++
		switch tag {
		case dedupTagLiteral:
			n, next, err := readVarint(descriptor, i)
			if err != nil {
				return nil, err
			}
			i = next
			if i+int(n) > len(descriptor) {
				return nil, fmt.Errorf("pipeline: dedup literal run exceeds descriptor length")
			}
			out = append(out, descriptor[i:i+int(n)]...)
			i += int(n)
		case dedupTagRef:
			offset, next, err := readVarint(descriptor, i)
			if err != nil {
				return nil, err
			}
			i = next
			length, next2, err := readVarint(descriptor, i)
			if err != nil {
				return nil, err
			}
			i = next2
			prior := int64(len(priorStream))
			known := prior + int64(len(out))
			if offset < 0 || length < 0 || offset+length > known {
				return nil, fmt.Errorf("pipeline: dedup reference [%d,%d) out of range of %d known bytes", offset, offset+length, known)
			}
			for k := offset; k < offset+length; k++ {
				if k < prior {
					out = append(out, priorStream[k])
				} else {
					out = append(out, out[k-prior])
				}
			}
		default:
			return nil, fmt.Errorf("pipeline: unknown dedup descriptor tag %d", tag)
		}
	}
	return out, nil
}

func appendVarint(buf []byte, v int64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readVarint(buf []byte, off int) (int64, int, error) {
	v, n := binary.Varint(buf[off:])
	if n <= 0 {
		return 0, 0, fmt.Errorf("pipeline: malformed varint in dedup descriptor")
	}
	return v, off + n, nil
}
