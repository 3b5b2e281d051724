// Package chunker implements the content-defined chunker: a
// Rabin-style rolling-hash splitter producing variable-size
// blocks bounded by (min, avg, max), plus a fixed-block mode for when
// dedup runs without Rabin splitting. It is grounded on FairForge-
// vaultaire's FastCDCChunker (internal/crypto/chunker.go), which wraps
// github.com/restic/chunker for the same job; that package is used here
// only to source a randomized 64-bit splitting polynomial (its
// RandomPolynomial, the same "irreducible polynomial" idea restic's own
// rolling hash tables are built from) — the boundary predicate itself
// is hand-rolled to match the design's exact formula, which restic's own
// chunker does not implement (its split mask is fixed, not parametrized
// by (min, avg, max)).
package chunker

import (
	"fmt"

	resticchunker "github.com/restic/chunker"
)

// Window is the rolling-hash window width.
const Window = 48

// Params bounds a splitter: Bmin <= Bavg <= Bmax.
type Params struct {
	Min int
	Avg int
	Max int
}

func (p Params) Validate() error {
	if !(p.Min <= p.Avg && p.Avg <= p.Max) {
		return fmt.Errorf("chunker: params must satisfy min <= avg <= max, got %+v", p)
	}
	if p.Min < Window {
		return fmt.Errorf("chunker: min block size must be >= window (%d), got %d", Window, p.Min)
	}
	return nil
}

// Block describes one content-defined (or fixed) block within a buffer.
type Block struct {
	Offset   int
	Length   int
	Checksum uint64 // block_cksum of segment metadata block_entry_t
}

// Splitter produces chunk boundaries for a fixed Params, seeded by a
// polynomial so two Splitter instances built with the same seed produce
// bit-identical boundaries while instances
// built with different seeds diverge — the knob "global dedup index"
// mode uses to decorrelate from plain "-D" local mode.
//
// The rolling hash is the classic polynomial (Rabin-Karp-style)
// recurrence over a fixed window: hash' = hash*mul + b, with the byte
// leaving the window subtracted via a precomputed mul^Window term. Using
// fixed-width uint64 arithmetic throughout keeps boundaries bit-
// identical across platforms,
type Splitter struct {
	params Params
	mul    uint64
	mulOut uint64 // mul^Window, removes the byte leaving the window
}

// NewSplitter builds a Splitter from an explicit 64-bit polynomial seed
// (for deterministic, reproducible boundaries across runs/platforms).
func NewSplitter(params Params, polySeed uint64) (*Splitter, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if polySeed == 0 {
		polySeed = defaultPolySeed
	}
	// Force the seed odd so repeated multiplication never collapses to
	// a fixed point of zero, matching the non-degeneracy restic/chunker
	// itself requires of its irreducible polynomials.
	polySeed |= 1

	s := &Splitter{params: params, mul: polySeed}
	pow := uint64(1)
	for i := 0; i < Window; i++ {
		pow *= s.mul
	}
	s.mulOut = pow
	return s, nil
}

// NewRandomSplitter sources its polynomial from
// github.com/restic/chunker's RandomPolynomial, giving each caller a
// distinct, still-deterministic-once-fixed splitting function.
func NewRandomSplitter(params Params) (*Splitter, error) {
	pol, err := resticchunker.RandomPolynomial()
	if err != nil {
		return nil, fmt.Errorf("chunker: generating polynomial: %w", err)
	}
	return NewSplitter(params, uint64(pol))
}

// defaultPolySeed is used when NewSplitter is given a zero seed, so
// callers get the same boundaries on every run without managing a seed.
const defaultPolySeed = 0x3DA3358B4DC173

// Split scans data and returns the full sequence of blocks covering it.
// A chunk boundary is declared at position p if p >= Bmin
// and either (hash(p) mod Bavg == Bavg-1) or p == Bmax.
func (s *Splitter) Split(data []byte) []Block {
	if len(data) == 0 {
		return nil
	}

	var blocks []Block
	start := 0
	var hash uint64
	windowed := 0

	for i := 0; i < len(data); i++ {
		b := data[i]
		hash = hash*s.mul + uint64(b)
		if windowed >= Window {
			hash -= uint64(data[i-Window]) * s.mulOut
		}
		windowed++

		length := i - start + 1
		if length >= s.params.Min {
			isAvgCut := uint32(hash)%uint32(s.params.Avg) == uint32(s.params.Avg-1)
			isMaxCut := length == s.params.Max
			if isAvgCut || isMaxCut {
				blocks = append(blocks, Block{Offset: start, Length: length, Checksum: hash})
				start = i + 1
				hash = 0
				windowed = 0
			}
		}
	}

	if start < len(data) {
		length := len(data) - start
		blocks = append(blocks, Block{Offset: start, Length: length, Checksum: hash})
	}
	return blocks
}

// SplitFixed emits fixed-size blocks of avg bytes, skipping the Rabin
// rolling hash entirely.
func SplitFixed(data []byte, avg int) []Block {
	if avg <= 0 {
		return nil
	}
	var blocks []Block
	for off := 0; off < len(data); off += avg {
		end := off + avg
		if end > len(data) {
			end = len(data)
		}
		blocks = append(blocks, Block{Offset: off, Length: end - off})
	}
	return blocks
}
