package codec

import (
	"fmt"

	"github.com/golang/snappy"
)

// snappyCodec wraps github.com/golang/snappy, giving the registry a
// second, format-compatible fast codec distinct from s2 (FairForge-
// vaultaire depends on plain snappy directly rather than s2).
type snappyCodec struct{}

func newSnappyCodec() Codec { return &snappyCodec{} }

func (c *snappyCodec) AlgoID() byte { return AlgoSnappy }
func (c *snappyCodec) Name() string { return "snappy" }

func (c *snappyCodec) Init(level, nthreads int, chunkSize int64, fileVersion uint32) (State, error) {
	return nil, nil
}
func (c *snappyCodec) Deinit(State) {}

func (c *snappyCodec) Compress(state State, src []byte, level int) ([]byte, error) {
	dst := make([]byte, snappy.MaxEncodedLen(len(src)))
	return snappy.Encode(dst, src), nil
}

func (c *snappyCodec) Decompress(state State, src []byte, originalSize int) ([]byte, error) {
	dst := make([]byte, originalSize)
	out, err := snappy.Decode(dst, src)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return out, nil
}

func (c *snappyCodec) Props(level int, chunkSize int64) Props {
	return Props{
		MTCapable:   true,
		BufExtra:    32 + int(chunkSize/128),
		CMaxThreads: 0,
		DMaxThreads: 0,
	}
}

func (c *snappyCodec) Stats(show bool) string { return "" }
