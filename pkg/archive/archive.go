// Package archive implements the archive bridge: an
// adapter that lets an external archive producer/consumer task feed (or
// drain) the pipeline core as a plain byte stream, without the core ever
// interpreting archive framing itself. It is grounded on the teacher's
// pkg/fs/pfs0_writer.go, which drives a PFS0 member loop against a
// single output file handle from its own goroutine-free call site; here
// that direct call is replaced by the ordered bounded channel of byte
// buffers the design notes call for ("the C code uses a pipe between an
// archive producer thread and the compressor... the reimplementation
// should use an ordered bounded channel of byte buffers").
package archive

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/falk/pcompress-go/pkg/errs"
)

// ArchiveSource is the read half of the archive contract: "read(buf, len) ->
// n | -1", with end-of-stream signalled by returning fewer bytes than
// requested (io.EOF once nothing remains). The pipeline reader consumes
// one of these in place of a plain os.File when -a is set.
type ArchiveSource interface {
	io.Reader
	SignalCancel()
}

// ArchiveSink is the write half: "write(buf, len) -> n | -1", accepting
// expanded bytes during extraction. The pipeline writer writes into one
// of these in place of a plain os.File when -a is set on decompress.
type ArchiveSink interface {
	io.Writer
	SignalCancel()
}

type chunkBuf struct {
	data []byte
	err  error
}

// SourceBridge adapts a producer task (e.g. a directory-tree walker
// emitting a synthesized archive stream) to ArchiveSource. The producer
// calls Emit for each buffer it wants to hand the core and Close/Fail
// when it's done; Read drains those buffers in order on the consuming
// side.
type SourceBridge struct {
	bufs     chan chunkBuf
	stop     chan struct{}
	stopOnce sync.Once
	canceled atomic.Bool
	pending  []byte
}

// NewSourceBridge builds a bridge with the given channel depth (the
// "ordered bounded channel" of the design notes; depth bounds how far
// the producer can run ahead of the pipeline reader).
func NewSourceBridge(depth int) *SourceBridge {
	if depth <= 0 {
		depth = 1
	}
	return &SourceBridge{bufs: make(chan chunkBuf, depth), stop: make(chan struct{})}
}

// Emit hands one buffer to the reader side, copying it first since the
// producer is free to reuse its own buffer immediately after Emit
// returns. Returns false if the bridge has been canceled, in which case
// the producer should stop emitting and return.
func (b *SourceBridge) Emit(buf []byte) bool {
	if b.canceled.Load() {
		return false
	}
	cp := append([]byte(nil), buf...)
	select {
	case b.bufs <- chunkBuf{data: cp}:
		return true
	case <-b.stop:
		return false
	}
}

// Close signals clean end-of-stream to the reader side.
func (b *SourceBridge) Close() {
	select {
	case b.bufs <- chunkBuf{}:
	case <-b.stop:
	}
}

// Fail propagates a producer-side fatal error to the reader side.
func (b *SourceBridge) Fail(err error) {
	select {
	case b.bufs <- chunkBuf{err: err}:
	case <-b.stop:
	}
}

// Read implements io.Reader, pulling emitted buffers in order.
func (b *SourceBridge) Read(p []byte) (int, error) {
	for len(b.pending) == 0 {
		select {
		case cb := <-b.bufs:
			if cb.err != nil {
				return 0, cb.err
			}
			if len(cb.data) == 0 {
				return 0, io.EOF
			}
			b.pending = cb.data
		case <-b.stop:
			return 0, errs.New(errs.Canceled, -1, "archive source canceled")
		}
	}
	n := copy(p, b.pending)
	b.pending = b.pending[n:]
	return n, nil
}

// SignalCancel implements the C9 signal_cancel contract: it propagates a
// fatal error from either side, unblocking any goroutine parked on Emit
// or Read.
func (b *SourceBridge) SignalCancel() {
	b.canceled.Store(true)
	b.stopOnce.Do(func() { close(b.stop) })
}

// SinkBridge adapts a consumer task (e.g. an archive unpacker) to
// ArchiveSink: the pipeline writer calls Write, and the consumer task
// drains buffers via Next in its own goroutine.
type SinkBridge struct {
	bufs     chan chunkBuf
	stop     chan struct{}
	stopOnce sync.Once
	canceled atomic.Bool
}

func NewSinkBridge(depth int) *SinkBridge {
	if depth <= 0 {
		depth = 1
	}
	return &SinkBridge{bufs: make(chan chunkBuf, depth), stop: make(chan struct{})}
}

// Write implements io.Writer. It copies p, since the caller may reuse
// its buffer immediately after Write returns.
func (b *SinkBridge) Write(p []byte) (int, error) {
	if b.canceled.Load() {
		return 0, errs.New(errs.Canceled, -1, "archive sink canceled")
	}
	cp := append([]byte(nil), p...)
	select {
	case b.bufs <- chunkBuf{data: cp}:
		return len(p), nil
	case <-b.stop:
		return 0, errs.New(errs.Canceled, -1, "archive sink canceled")
	}
}

// Close signals clean end-of-stream to the consumer task.
func (b *SinkBridge) Close() {
	select {
	case b.bufs <- chunkBuf{}:
	case <-b.stop:
	}
}

// Next blocks until the next buffer the writer produced is available.
// It returns io.EOF once Close has been called and every buffer drained.
func (b *SinkBridge) Next() ([]byte, error) {
	select {
	case cb := <-b.bufs:
		if cb.err != nil {
			return nil, cb.err
		}
		if len(cb.data) == 0 {
			return nil, io.EOF
		}
		return cb.data, nil
	case <-b.stop:
		return nil, errs.New(errs.Canceled, -1, "archive sink canceled")
	}
}

func (b *SinkBridge) SignalCancel() {
	b.canceled.Store(true)
	b.stopOnce.Do(func() { close(b.stop) })
}
