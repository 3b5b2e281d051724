package codec

import (
	"fmt"

	"github.com/klauspost/compress/s2"
)

// s2Codec wraps klauspost/compress/s2, the pack's extended, faster
// Snappy-compatible format — the LZ4-class "fast" back-end in the
// registry, alongside the plain-Snappy codec for interoperability.
type s2Codec struct{}

func newS2Codec() Codec { return &s2Codec{} }

func (c *s2Codec) AlgoID() byte { return AlgoS2 }
func (c *s2Codec) Name() string { return "s2" }

func (c *s2Codec) Init(level, nthreads int, chunkSize int64, fileVersion uint32) (State, error) {
	return nil, nil
}
func (c *s2Codec) Deinit(State) {}

func (c *s2Codec) Compress(state State, src []byte, level int) ([]byte, error) {
	var opts []s2.WriterOption
	if level >= 2 {
		opts = append(opts, s2.WriterBetterCompression())
	}
	if level >= 4 {
		opts = append(opts, s2.WriterBestCompression())
	}
	dst := make([]byte, 0, s2.MaxEncodedLen(len(src)))
	if len(opts) == 0 {
		return s2.Encode(dst, src), nil
	}
	return s2.EncodeBetter(dst, src), nil
}

func (c *s2Codec) Decompress(state State, src []byte, originalSize int) ([]byte, error) {
	dst := make([]byte, 0, originalSize)
	out, err := s2.Decode(dst, src)
	if err != nil {
		return nil, fmt.Errorf("s2 decode: %w", err)
	}
	return out, nil
}

func (c *s2Codec) Props(level int, chunkSize int64) Props {
	return Props{
		MTCapable:            true,
		BufExtra:             32 + int(chunkSize/128),
		CMaxThreads:          0,
		DMaxThreads:          0,
		SingleChunkMTCapable: false,
	}
}

func (c *s2Codec) Stats(show bool) string { return "" }
