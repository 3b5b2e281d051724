package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
)

// zlibCodec wraps klauspost/compress/zlib, the pack's drop-in
// replacement for stdlib compress/zlib used by rclone-rclone and
// dsnet-compress's dependency tree.
//
// Version negotiation: "prior to version 5 the zlib
// back-end used a different inflate window bit setting." This
// implementation's stand-in for that quirk is raw DEFLATE (no zlib
// header/Adler32 trailer) via klauspost/compress/flate for
// fileVersion < 5, and standard zlib framing from version 5 on;
// zlibState.fileVersion picks the matching reader/writer pair so old
// archives still decode correctly.
type zlibCodec struct{}

func newZlibCodec() Codec { return &zlibCodec{} }

func (c *zlibCodec) AlgoID() byte { return AlgoZlib }
func (c *zlibCodec) Name() string { return "zlib" }

type zlibState struct {
	fileVersion uint32
}

func (c *zlibCodec) Init(level, nthreads int, chunkSize int64, fileVersion uint32) (State, error) {
	return &zlibState{fileVersion: fileVersion}, nil
}
func (c *zlibCodec) Deinit(State) {}

func (c *zlibCodec) normalizeLevel(level int) int {
	if level < zlib.NoCompression {
		return zlib.DefaultCompression
	}
	if level > zlib.BestCompression {
		return zlib.BestCompression
	}
	return level
}

func (c *zlibCodec) rawMode(state State) bool {
	s, ok := state.(*zlibState)
	return ok && s.fileVersion > 0 && s.fileVersion < 5
}

func (c *zlibCodec) Compress(state State, src []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	if c.rawMode(state) {
		w, err := flate.NewWriter(&buf, c.normalizeLevel(level))
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(src); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	w, err := zlib.NewWriterLevel(&buf, c.normalizeLevel(level))
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *zlibCodec) Decompress(state State, src []byte, originalSize int) ([]byte, error) {
	var r io.ReadCloser
	if c.rawMode(state) {
		r = flate.NewReader(bytes.NewReader(src))
	} else {
		zr, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("zlib decode: %w", err)
		}
		r = zr
	}
	defer r.Close()
	dst := make([]byte, 0, originalSize)
	buf := bytes.NewBuffer(dst)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("zlib decode: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *zlibCodec) Props(level int, chunkSize int64) Props {
	return Props{
		MTCapable:   false, // matches note: pre-v5 zlib used a different inflate window form and was single-stream
		BufExtra:    13 + int(chunkSize/999) + 64,
		CMaxThreads: 1,
		DMaxThreads: 1,
	}
}

func (c *zlibCodec) Stats(show bool) string { return "" }
