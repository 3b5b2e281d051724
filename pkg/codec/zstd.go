package codec

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdCodec generalizes the teacher's pkg/zstd/zstd.go: a map of
// sync.Pool encoders keyed by level, and one shared decoder, now behind
// the uniform Codec contract instead of package-level functions.
type zstdCodec struct {
	mu           sync.RWMutex
	encoderPools map[int]*sync.Pool
	decoder      *zstd.Decoder
}

func newZstdCodec() Codec {
	dec, _ := zstd.NewReader(nil)
	return &zstdCodec{
		encoderPools: make(map[int]*sync.Pool),
		decoder:      dec,
	}
}

func (c *zstdCodec) AlgoID() byte { return AlgoZstd }
func (c *zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) Init(level, nthreads int, chunkSize int64, fileVersion uint32) (State, error) {
	return nil, nil
}
func (c *zstdCodec) Deinit(State) {}

func (c *zstdCodec) normalizeLevel(level int) int {
	if level < 1 {
		return 1
	}
	if level > 22 {
		return 22
	}
	return level
}

func (c *zstdCodec) getEncoderPool(level int) *sync.Pool {
	c.mu.RLock()
	pool, ok := c.encoderPools[level]
	c.mu.RUnlock()
	if ok {
		return pool
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if pool, ok = c.encoderPools[level]; ok {
		return pool
	}
	pool = &sync.Pool{
		New: func() interface{} {
			enc, _ := zstd.NewWriter(nil,
				zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
				zstd.WithEncoderConcurrency(1),
			)
			return enc
		},
	}
	c.encoderPools[level] = pool
	return pool
}

func (c *zstdCodec) Compress(state State, src []byte, level int) ([]byte, error) {
	level = c.normalizeLevel(level)
	pool := c.getEncoderPool(level)
	enc := pool.Get().(*zstd.Encoder)
	defer pool.Put(enc)
	return enc.EncodeAll(src, make([]byte, 0, len(src))), nil
}

func (c *zstdCodec) Decompress(state State, src []byte, originalSize int) ([]byte, error) {
	dst, err := c.decoder.DecodeAll(src, make([]byte, 0, originalSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return dst, nil
}

func (c *zstdCodec) Props(level int, chunkSize int64) Props {
	return Props{
		MTCapable:            true,
		BufExtra:             64 + int(chunkSize/200), // zstd worst-case expansion
		CMaxThreads:          0,                        // 0 == no cap, uses outer worker count
		DMaxThreads:          0,
		SingleChunkMTCapable: true,
	}
}

func (c *zstdCodec) Stats(show bool) string {
	if !show {
		return ""
	}
	return "zstd: encoder pools active for levels in use"
}
