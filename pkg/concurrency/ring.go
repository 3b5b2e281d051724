// Package concurrency implements the reader/N-worker/writer ring:
// a fixed set of per-worker slots, each guarded by three
// semaphores (start, cmp_done, write_done), dispatched round-robin so
// the writer drains in strict input order regardless of which worker
// finishes first. It is grounded on the teacher's compressBlocks
// worker pool (pkg/fs/compressor.go): same read -> dispatch -> collect
// shape, restructured from an unordered channel fan-in (a result map
// keyed by index, drained by a single collector goroutine) into the
// explicit semaphore ring the design requires, so ordering is enforced by
// slot position rather than by buffering every result until its turn.
package concurrency

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/falk/pcompress-go/pkg/codec"
	"github.com/falk/pcompress-go/pkg/config"
	"github.com/falk/pcompress-go/pkg/container"
	"github.com/falk/pcompress-go/pkg/errs"
	"github.com/falk/pcompress-go/pkg/pipeline"
)

// semaphore is a binary semaphore built on a capacity-1 channel: a
// pending post is retained even if nobody is waiting yet. writeDone
// starts signaled so the reader can fill a fresh slot immediately.
type semaphore chan struct{}

func newSemaphore(signaled bool) semaphore {
	s := make(semaphore, 1)
	if signaled {
		s <- struct{}{}
	}
	return s
}

func (s semaphore) post() {
	select {
	case s <- struct{}{}:
	default:
	}
}

func (s semaphore) wait() { <-s }

// waitOrStop waits on s, but gives up in favor of r.stop so a blocked
// reader/worker/writer always has a way out once any task has set a
// fatal error and the ring has been torn down. Returns false if it woke
// up via stop rather than s.
func (r *ring) waitOrStop(s semaphore) bool {
	select {
	case <-s:
		return true
	case <-r.stop:
		return false
	}
}

// slot is one worker's cmp_data: its three semaphores and the buffers/
// fields that travel through start -> cmp_done -> write_done.
type slot struct {
	start     semaphore
	cmpDone   semaphore
	writeDone semaphore

	chunkID  int64
	terminal bool

	// compression direction
	src []byte
	rec *pipeline.Record
	err error

	// decompression direction
	inRec     *pipeline.Record
	stage1Out []byte
}

// ring owns the N slots plus the shared cancel flag.
type ring struct {
	slots  []*slot
	cancel atomic.Bool
	stop   chan struct{}
	stopOnce sync.Once

	errMu sync.Mutex
	err   error
}

func newRing(n int) *ring {
	r := &ring{slots: make([]*slot, n), stop: make(chan struct{})}
	for i := range r.slots {
		r.slots[i] = &slot{
			start:     newSemaphore(false),
			cmpDone:   newSemaphore(false),
			writeDone: newSemaphore(true),
		}
	}
	return r
}

func (r *ring) setErr(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.errMu.Unlock()
	r.cancel.Store(true)
	r.closeStop()
}

func (r *ring) getErr() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *ring) canceled() bool { return r.cancel.Load() }

func (r *ring) closeStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// CompressStream runs the compression pipeline end to end: it reads cfg.ChunkSize
// chunks from src, runs each through the pipeline in one of cfg.NWorkers
// worker goroutines, and writes records to dst in input order, followed
// by the EOF terminator record. includeMeta mirrors the per-record
// original_size/flags fields' presence rule documented in pkg/container.
func CompressStream(cfg *config.PipelineConfig, reg *codec.Registry, newDeduper func() *pipeline.Deduper, src io.Reader, dst io.Writer, includeMeta bool) error {
	n := cfg.NWorkers
	r := newRing(n)

	processors := make([]*pipeline.Processor, n)
	for i := 0; i < n; i++ {
		var dd *pipeline.Deduper
		if newDeduper != nil {
			dd = newDeduper()
		}
		p, err := pipeline.NewProcessor(cfg, reg, dd)
		if err != nil {
			return err
		}
		processors[i] = p
	}
	defer func() {
		for _, p := range processors {
			p.Close()
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < n; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			s := r.slots[w]
			for {
				if !r.waitOrStop(s.start) {
					return
				}
				if r.canceled() {
					return
				}
				if s.terminal {
					s.cmpDone.post()
					return
				}
				rec, err := processors[w].Compress(s.chunkID, s.src)
				s.rec, s.err = rec, err
				if err != nil {
					r.setErr(err)
				}
				s.cmpDone.post()
			}
		}(w)
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		next := 0
		for {
			s := r.slots[next]
			if !r.waitOrStop(s.cmpDone) {
				return
			}
			if r.canceled() {
				return
			}
			if s.terminal {
				if err := container.WriteEOF(dst); err != nil {
					r.setErr(errs.Wrap(errs.IoError, -1, err))
				}
				return
			}
			if s.err != nil {
				return
			}
			if err := container.WriteChunkRecord(dst, s.rec, includeMeta); err != nil {
				r.setErr(errs.Wrap(errs.IoError, s.chunkID, err))
				return
			}
			processors[next].ReleaseStored(s.rec)
			s.writeDone.post()
			next = (next + 1) % n
		}
	}()

	buf := make([]byte, cfg.ChunkSize)
	next := 0
	chunkID := int64(0)
	for !r.canceled() {
		nRead, rerr := io.ReadFull(src, buf)
		if nRead > 0 {
			s := r.slots[next]
			if !r.waitOrStop(s.writeDone) {
				break
			}
			if r.canceled() {
				break
			}
			data := make([]byte, nRead)
			copy(data, buf[:nRead])
			s.src = data
			s.chunkID = chunkID
			s.terminal = false
			s.start.post()
			chunkID++
			next = (next + 1) % n
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			s := r.slots[next]
			if r.waitOrStop(s.writeDone) && !r.canceled() {
				s.terminal = true
				s.start.post()
			}
			break
		}
		if rerr != nil {
			r.setErr(errs.Wrap(errs.IoError, chunkID, rerr))
			break
		}
	}

	<-writerDone
	r.closeStop()
	wg.Wait()
	return r.getErr()
}

// DecompressStream mirrors CompressStream: the reader parses chunk
// records from src, workers run the parallel-safe DecodeStage, and the
// writer runs the serialized FinishStage (dedup expansion needs the
// full prior output, so it can't be parallelized across workers)
// before appending to dst.
func DecompressStream(cfg *config.PipelineConfig, reg *codec.Registry, newDeduper func() *pipeline.Deduper, src io.Reader, dst io.Writer, macOrCksumLen int, hasMeta bool) error {
	n := cfg.NWorkers
	r := newRing(n)

	processors := make([]*pipeline.Processor, n)
	for i := 0; i < n; i++ {
		var dd *pipeline.Deduper
		if newDeduper != nil {
			dd = newDeduper()
		}
		p, err := pipeline.NewProcessor(cfg, reg, dd)
		if err != nil {
			return err
		}
		processors[i] = p
	}
	defer func() {
		for _, p := range processors {
			p.Close()
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < n; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			s := r.slots[w]
			for {
				if !r.waitOrStop(s.start) {
					return
				}
				if r.canceled() {
					return
				}
				if s.terminal {
					s.cmpDone.post()
					return
				}
				out, err := processors[w].DecodeStage(s.inRec)
				s.stage1Out, s.err = out, err
				if err != nil {
					r.setErr(err)
				}
				s.cmpDone.post()
			}
		}(w)
	}

	writerDone := make(chan struct{})
	var priorStream []byte
	go func() {
		defer close(writerDone)
		next := 0
		for {
			s := r.slots[next]
			if !r.waitOrStop(s.cmpDone) {
				return
			}
			if r.canceled() {
				return
			}
			if s.terminal {
				return
			}
			if s.err != nil {
				return
			}
			final, err := processors[next].FinishStage(s.inRec, s.stage1Out, priorStream)
			if err != nil {
				r.setErr(err)
				return
			}
			if _, err := dst.Write(final); err != nil {
				r.setErr(errs.Wrap(errs.IoError, s.chunkID, err))
				return
			}
			priorStream = append(priorStream, final...)
			s.writeDone.post()
			next = (next + 1) % n
		}
	}()

	chunkID := int64(0)
	next := 0
	for !r.canceled() {
		rec, rerr := container.ReadChunkRecord(src, chunkID, macOrCksumLen, hasMeta)
		if rerr == io.EOF {
			s := r.slots[next]
			if r.waitOrStop(s.writeDone) && !r.canceled() {
				s.terminal = true
				s.start.post()
			}
			break
		}
		if rerr != nil {
			r.setErr(errs.Wrap(errs.FormatError, chunkID, rerr))
			break
		}
		s := r.slots[next]
		if !r.waitOrStop(s.writeDone) {
			break
		}
		if r.canceled() {
			break
		}
		s.inRec = rec
		s.chunkID = chunkID
		s.terminal = false
		s.start.post()
		chunkID++
		next = (next + 1) % n
	}

	<-writerDone
	r.closeStop()
	wg.Wait()
	return r.getErr()
}
