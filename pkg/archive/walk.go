package archive

import (
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// This file is the CLI-level archive producer/consumer, deliberately
// kept outside the core: walking a directory tree into an archive
// member list, and the on-disk archive framing that wraps members,
// is a concern of the CLI, not the compression core. It lives here,
// driving a SourceBridge/SinkBridge pair, so -a has something concrete
// to spawn without the pipeline ever parsing member framing — from the
// core's perspective this is just bytes.
//
// Framing: per member, a big-endian record {name_len u16, name,
// mode u32, size u64, content}; the walk ends with a zero-length name.
// It is intentionally minimal — the design leaves the wrapper format
// unspecified beyond "the core consumes a byte stream."

// WalkProducer walks root and emits one framed record per regular file
// into src, closing src when the walk completes (or failing it on the
// first error). Run this in its own goroutine, matching "the archive
// producer runs in its own task."
func WalkProducer(root string, src *SourceBridge) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		header := encodeMemberHeader(rel, uint32(info.Mode().Perm()), uint64(info.Size()))
		if !src.Emit(header) {
			return errCanceled
		}
		buf := make([]byte, 256<<10)
		for {
			n, rerr := f.Read(buf)
			if n > 0 {
				if !src.Emit(buf[:n]) {
					return errCanceled
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return rerr
			}
		}
		return nil
	})
	if err != nil && err != errCanceled {
		src.Fail(err)
		return
	}
	src.Emit(encodeMemberHeader("", 0, 0)) // zero-length name terminates the walk
	src.Close()
}

// ExtractConsumer drains sink in its own goroutine, writing each framed
// member back out under root. It returns the first error encountered,
// or nil once the terminator record is drained.
func ExtractConsumer(root string, sink *SinkBridge) error {
	var pending []byte
	read := func(n int) ([]byte, error) {
		for len(pending) < n {
			buf, err := sink.Next()
			if err != nil {
				return nil, err
			}
			pending = append(pending, buf...)
		}
		out := pending[:n]
		pending = pending[n:]
		return out, nil
	}

	for {
		nameLenB, err := read(2)
		if err != nil {
			return err
		}
		nameLen := int(binary.BigEndian.Uint16(nameLenB))
		if nameLen == 0 {
			return nil
		}
		nameB, err := read(nameLen)
		if err != nil {
			return err
		}
		name := string(nameB)

		modeB, err := read(4)
		if err != nil {
			return err
		}
		mode := binary.BigEndian.Uint32(modeB)

		sizeB, err := read(8)
		if err != nil {
			return err
		}
		size := binary.BigEndian.Uint64(sizeB)

		dst := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(mode))
		if err != nil {
			return err
		}
		remaining := int64(size)
		for remaining > 0 {
			want := remaining
			if want > 1<<20 {
				want = 1 << 20
			}
			chunk, err := read(int(want))
			if err != nil {
				out.Close()
				return err
			}
			if _, err := out.Write(chunk); err != nil {
				out.Close()
				return err
			}
			remaining -= int64(len(chunk))
		}
		out.Close()
	}
}

func encodeMemberHeader(name string, mode uint32, size uint64) []byte {
	buf := make([]byte, 2+len(name)+4+8)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(name)))
	copy(buf[2:], name)
	off := 2 + len(name)
	binary.BigEndian.PutUint32(buf[off:off+4], mode)
	binary.BigEndian.PutUint64(buf[off+4:off+12], size)
	return buf
}

var errCanceled = errors.New("archive: producer canceled")
