package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
)

// bzip2Codec wraps github.com/dsnet/compress/bzip2, the pack's pure-Go
// bzip2 implementation (other_examples/dsnet-compress), standing in for
// the original C pcompress's bzip2_compress.c back-end.
type bzip2Codec struct{}

func newBzip2Codec() Codec { return &bzip2Codec{} }

func (c *bzip2Codec) AlgoID() byte { return AlgoBzip2 }
func (c *bzip2Codec) Name() string { return "bzip2" }

func (c *bzip2Codec) Init(level, nthreads int, chunkSize int64, fileVersion uint32) (State, error) {
	return nil, nil
}
func (c *bzip2Codec) Deinit(State) {}

func (c *bzip2Codec) normalizeLevel(level int) int {
	if level < bzip2.BestSpeed {
		return bzip2.DefaultCompression
	}
	if level > bzip2.BestCompression {
		return bzip2.BestCompression
	}
	return level
}

func (c *bzip2Codec) Compress(state State, src []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := bzip2.NewWriterLevel(&buf, c.normalizeLevel(level))
	if err != nil {
		return nil, fmt.Errorf("bzip2 init: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("bzip2 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("bzip2 compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *bzip2Codec) Decompress(state State, src []byte, originalSize int) ([]byte, error) {
	r, err := bzip2.NewReader(bytes.NewReader(src), nil)
	if err != nil {
		return nil, fmt.Errorf("bzip2 init decode: %w", err)
	}
	dst := bytes.NewBuffer(make([]byte, 0, originalSize))
	if _, err := io.Copy(dst, r); err != nil {
		return nil, fmt.Errorf("bzip2 decode: %w", err)
	}
	return dst.Bytes(), nil
}

func (c *bzip2Codec) Props(level int, chunkSize int64) Props {
	return Props{
		MTCapable:   false,
		BufExtra:    128 + int(chunkSize/400),
		CMaxThreads: 1,
		DMaxThreads: 1,
	}
}

func (c *bzip2Codec) Stats(show bool) string { return "" }
