package pipeline

import (
	"encoding/binary"

	"github.com/falk/pcompress-go/pkg/config"
)

// filterResult is a preprocess filter's verdict on one chunk, matching
// "SKIP (leave chunk unchanged, clear its bit) or ERROR
// (abort the chunk)".
type filterResult struct {
	out     []byte
	applied bool
}

type filter struct {
	bit     byte
	forward func(src []byte) (filterResult, error)
	inverse func(src []byte) ([]byte, error)
}

// preprocChain returns the filters selected by flags, in the fixed
// order mandates: LZP -> DELTA2 -> transpose -> DISPACK ->
// typed filter.
func preprocChain(flags config.PreprocFlags) []filter {
	var chain []filter
	if flags&config.PreprocLZP != 0 {
		chain = append(chain, filter{FlagPreprocLZP, lzpForward, lzpInverse})
	}
	if flags&config.PreprocDelta2 != 0 {
		chain = append(chain, filter{FlagPreprocDelta2, delta2Forward, delta2Inverse})
	}
	if flags&config.PreprocTranspose != 0 {
		chain = append(chain, filter{FlagPreprocTranspose, transposeForward, transposeInverse})
	}
	if flags&config.PreprocDispack != 0 {
		chain = append(chain, filter{FlagPreprocDispack, dispackForward, dispackInverse})
	}
	if flags&config.PreprocTyped != 0 {
		chain = append(chain, filter{FlagPreprocTyped, typedForward, typedInverse})
	}
	return chain
}

// applyPreproc runs the chain in order, accumulating the flag bits of
// filters that actually transformed the buffer (a SKIP leaves the bit
// clear).
func applyPreproc(data []byte, flags config.PreprocFlags) ([]byte, byte, error) {
	var appliedBits byte
	cur := data
	for _, f := range preprocChain(flags) {
		res, err := f.forward(cur)
		if err != nil {
			return nil, 0, err
		}
		if res.applied {
			cur = res.out
			appliedBits |= f.bit
		}
	}
	return cur, appliedBits, nil
}

// reversePreproc inverts exactly the filters recorded in appliedBits, in
// reverse order, "reverse filters in reverse order".
func reversePreproc(data []byte, appliedBits byte) ([]byte, error) {
	all := preprocChain(config.PreprocLZP | config.PreprocDelta2 | config.PreprocTranspose | config.PreprocDispack | config.PreprocTyped)
	cur := data
	for i := len(all) - 1; i >= 0; i-- {
		f := all[i]
		if appliedBits&f.bit == 0 {
			continue
		}
		out, err := f.inverse(cur)
		if err != nil {
			return nil, err
		}
		cur = out
	}
	return cur, nil
}

// lzpMinMatch is the shortest run length worth encoding as a reference;
// anything shorter is cheaper left literal.
const lzpMinMatch = 32

// lzpContextBits sizes the context hash table; contexts are the
// preceding 4 bytes, matching the classic LZP predictor design.
const lzpContextBits = 16

// lzpForward is a predictive literal/match filter: for every position it
// hashes the preceding 4-byte context, looks up where that context was
// last seen, and if the bytes from there match for at least
// lzpMinMatch, emits a (runLength) marker instead of literals. Grounded
// on "LZP" stage name; the encoding here is a compact,
// from-scratch predictor since no pack example implements LZP.
func lzpForward(src []byte) (filterResult, error) {
	if len(src) < 8 {
		return filterResult{}, nil
	}

	table := make([]int32, 1<<lzpContextBits)
	for i := range table {
		table[i] = -1
	}

	out := make([]byte, 0, len(src))
	var lenBuf [4]byte
	changed := false

	i := 4
	out = append(out, src[:4]...)
	for i < len(src) {
		ctx := lzpHash(src[i-4 : i])
		prev := table[ctx]
		table[ctx] = int32(i)

		if prev >= 0 {
			runLen := matchLen(src, int(prev), i)
			if runLen >= lzpMinMatch {
				changed = true
				out = append(out, 0xFF)
				binary.BigEndian.PutUint32(lenBuf[:], uint32(runLen))
				out = append(out, lenBuf[:]...)
				i += runLen
				continue
			}
		}

		b := src[i]
		if b == 0xFF {
			out = append(out, 0xFF, 0, 0, 0, 0) // escape literal 0xFF as a zero-length match
		} else {
			out = append(out, b)
		}
		i++
	}

	if !changed {
		return filterResult{}, nil
	}
	return filterResult{out: out, applied: true}, nil
}

func lzpInverse(src []byte) ([]byte, error) {
	if len(src) < 4 {
		return src, nil
	}

	table := make([]int32, 1<<lzpContextBits)
	for i := range table {
		table[i] = -1
	}

	out := make([]byte, 4, len(src)*2)
	copy(out, src[:4])

	si := 4
	for si < len(src) {
		ctx := lzpHash(out[len(out)-4:])
		prev := table[ctx]
		table[ctx] = int32(len(out))

		if src[si] == 0xFF {
			runLen := binary.BigEndian.Uint32(src[si+1 : si+5])
			si += 5
			if runLen == 0 {
				out = append(out, 0xFF)
				continue
			}
			start := int(prev)
			for k := 0; k < int(runLen); k++ {
				out = append(out, out[start+k])
			}
			continue
		}

		out = append(out, src[si])
		si++
	}
	return out, nil
}

func lzpHash(ctx []byte) uint32 {
	h := binary.BigEndian.Uint32(ctx)
	h *= 2654435761
	return h >> (32 - lzpContextBits)
}

func matchLen(data []byte, a, b int) int {
	n := 0
	for b+n < len(data) && data[a+n] == data[b+n] && n < 1<<24 {
		n++
	}
	return n
}

// delta2Forward replaces each 2-byte little-endian word with its delta
// from the previous word, the classic preprocessing step for sample
// data with slowly varying magnitude.
func delta2Forward(src []byte) (filterResult, error) {
	if len(src) < 4 {
		return filterResult{}, nil
	}
	out := make([]byte, len(src))
	copy(out, src)

	var prev uint16
	for i := 0; i+1 < len(src); i += 2 {
		cur := binary.LittleEndian.Uint16(src[i : i+2])
		binary.LittleEndian.PutUint16(out[i:i+2], cur-prev)
		prev = cur
	}
	return filterResult{out: out, applied: true}, nil
}

func delta2Inverse(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)

	var prev uint16
	for i := 0; i+1 < len(src); i += 2 {
		d := binary.LittleEndian.Uint16(src[i : i+2])
		cur := prev + d
		binary.LittleEndian.PutUint16(out[i:i+2], cur)
		prev = cur
	}
	return out, nil
}

// transposeStride is the row width used by the byte-plane transpose,
// matching common multi-channel sample widths (e.g. 4-byte PCM frames).
const transposeStride = 4

// transposeForward rearranges src from row-major to column-major over
// transposeStride-wide rows, exposing cross-row correlation to the
// codec.
func transposeForward(src []byte) (filterResult, error) {
	rows := len(src) / transposeStride
	if rows < 2 {
		return filterResult{}, nil
	}
	used := rows * transposeStride
	out := make([]byte, len(src))
	for r := 0; r < rows; r++ {
		for c := 0; c < transposeStride; c++ {
			out[c*rows+r] = src[r*transposeStride+c]
		}
	}
	copy(out[used:], src[used:])
	return filterResult{out: out, applied: true}, nil
}

func transposeInverse(src []byte) ([]byte, error) {
	rows := len(src) / transposeStride
	if rows < 2 {
		return src, nil
	}
	used := rows * transposeStride
	out := make([]byte, len(src))
	for r := 0; r < rows; r++ {
		for c := 0; c < transposeStride; c++ {
			out[r*transposeStride+c] = src[c*rows+r]
		}
	}
	copy(out[used:], src[used:])
	return out, nil
}

// dispackForward stands in for DISPACK (disassembler-
// driven instruction repacking): it always returns SKIP. A real DISPACK
// needs an architecture-specific disassembler registered as an external
// plug-in (the same place JPEG's typed filter lives, per the Open
// Question decision in the grounding ledger); none of the pack examples
// carries one, so this stage never claims its flag bit.
func dispackForward(src []byte) (filterResult, error) { return filterResult{}, nil }
func dispackInverse(src []byte) ([]byte, error)        { return src, nil }

// typedForward stands in for per-type filter (e.g.
// packJPG). Like DISPACK, the concrete filters are format-specific
// external plug-ins outside this module's scope; it always SKIPs.
func typedForward(src []byte) (filterResult, error) { return filterResult{}, nil }
func typedInverse(src []byte) ([]byte, error)        { return src, nil }
