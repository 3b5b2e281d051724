// Package codec is the uniform compressor back-end registry:
// init/deinit/compress/decompress/props/stats over a closed set of
// algorithms, plus an adaptive meta-entry. It generalizes the teacher's
// single-algorithm pkg/zstd/zstd.go (encoder-pool-per-level, one shared
// decoder) to N back-ends sharing one contract, the way the original C
// pcompress wraps each of zlib_compress.c/bzip2_compress.c/
// lzma_compress.c/none_compress.c behind one calling convention.
package codec

import "fmt"

// Props describes the capabilities and buffer requirements of a codec at
// a given level/chunk size.
type Props struct {
	MTCapable            bool
	BufExtra             int
	Delta2Span           int
	DeltaCMinDistance    int
	CMaxThreads          int
	DMaxThreads          int
	SingleChunkMTCapable bool
}

// State is the opaque per-thread scratch handle returned by Init.
type State interface{}

// Codec is the contract every back-end implements. AlgoID is a stable
// small integer persisted in chunk headers when running in adaptive
// mode, so decompression can dispatch without re-probing.
type Codec interface {
	AlgoID() byte
	Name() string
	Init(level, nthreads int, chunkSize int64, fileVersion uint32) (State, error)
	Deinit(State)
	Compress(state State, src []byte, level int) (dst []byte, err error)
	Decompress(state State, src []byte, originalSize int) (dst []byte, err error)
	Props(level int, chunkSize int64) Props
	Stats(show bool) string
}

// Registry maps algo name and id to a Codec implementation.
type Registry struct {
	byName map[string]Codec
	byID   map[byte]Codec
}

// NewRegistry builds the default registry with every back-end this
// implementation ships, including the "store" (no-op) and "adaptive"
// meta-entries.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Codec), byID: make(map[byte]Codec)}
	codecs := []Codec{
		newStoreCodec(),
		newZstdCodec(),
		newZlibCodec(),
		newS2Codec(),
		newSnappyCodec(),
		newLZMACodec(),
		newBzip2Codec(),
	}
	for _, c := range codecs {
		r.Register(c)
	}
	r.Register(newAdaptiveCodec(r))
	return r
}

func (r *Registry) Register(c Codec) {
	r.byName[c.Name()] = c
	r.byID[c.AlgoID()] = c
}

func (r *Registry) ByName(name string) (Codec, error) {
	c, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("codec: unknown algorithm %q", name)
	}
	return c, nil
}

func (r *Registry) ByID(id byte) (Codec, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("codec: unknown algo id %d", id)
	}
	return c, nil
}

// Algo ids persisted on the wire.
const (
	AlgoStore byte = iota
	AlgoZstd
	AlgoZlib
	AlgoS2
	AlgoSnappy
	AlgoLZMA
	AlgoBzip2
	AlgoAdaptive
)
