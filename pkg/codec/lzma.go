package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// lzmaCodec wraps github.com/ulikunitz/xz/lzma, the pack's pure-Go LZMA
// implementation (other_examples/ulikunitz-xz, liumingmin-xz), standing
// in for the original C pcompress's lzma_compress.c back-end. LZMA is
// CPU-heavy and single-stream per the design's c_max_threads/d_max_threads
// convention, so Props caps it to 1 concurrent invocation.
type lzmaCodec struct{}

func newLZMACodec() Codec { return &lzmaCodec{} }

func (c *lzmaCodec) AlgoID() byte { return AlgoLZMA }
func (c *lzmaCodec) Name() string { return "lzma" }

func (c *lzmaCodec) Init(level, nthreads int, chunkSize int64, fileVersion uint32) (State, error) {
	return nil, nil
}
func (c *lzmaCodec) Deinit(State) {}

func (c *lzmaCodec) dictCapFor(chunkSize int64) int {
	// DictCap must cover the whole chunk for single-shot compression to
	// find matches across the entire buffer.
	cap := int(chunkSize)
	if cap < lzma.MinDictCap {
		cap = lzma.MinDictCap
	}
	return cap
}

func (c *lzmaCodec) Compress(state State, src []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	cfg := lzma.WriterConfig{DictCap: c.dictCapFor(int64(len(src)))}
	w, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("lzma init: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("lzma compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lzma compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *lzmaCodec) Decompress(state State, src []byte, originalSize int) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("lzma decode: %w", err)
	}
	dst := bytes.NewBuffer(make([]byte, 0, originalSize))
	if _, err := io.Copy(dst, r); err != nil {
		return nil, fmt.Errorf("lzma decode: %w", err)
	}
	return dst.Bytes(), nil
}

func (c *lzmaCodec) Props(level int, chunkSize int64) Props {
	return Props{
		MTCapable:   false,
		BufExtra:    128 + int(chunkSize/500),
		CMaxThreads: 1,
		DMaxThreads: 1,
	}
}

func (c *lzmaCodec) Stats(show bool) string { return "" }
