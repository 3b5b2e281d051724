// Package container implements the on-disk wire format:
// a file prologue followed by an ordered sequence of chunk records and
// an empty terminator record. It is grounded on the teacher's
// pkg/nsz/nsz.go and pkg/nsz/ncz.go (NSZHeader / NczSectionHeader /
// NczBlockHeader, binary.Write-based fixed-layout framing), generalized
// from NSZ's little-endian, Switch-specific layout to a
// big-endian generic prologue/chunk-record layout.
package container

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/falk/pcompress-go/pkg/checksum"
	"github.com/falk/pcompress-go/pkg/cryptoenv"
	"github.com/falk/pcompress-go/pkg/pipeline"
)

// Magic identifies a pcompress container file.
var Magic = [4]byte{'P', 'C', 'M', 'P'}

// Prologue-level flag bits (distinct from pipeline.Flag* chunk bits).
const (
	FlagEncrypt uint32 = 1 << iota
	FlagArchive
	FlagSingleChunk
	FlagGlobalDedup
	// FlagChunkMeta records, at the stream level, whether every chunk
	// record carries original_size_be/flags_byte — true whenever the
	// run had dedup, any preprocessing filter, or encryption enabled
	// (the chunk MAC covers both fields), so the decompressor knows to
	// expect those fields before it has parsed a single chunk record.
	FlagChunkMeta
)

// Prologue is the file-level header.
type Prologue struct {
	Version      uint32
	AlgoID       byte
	Level        byte
	CksumKind    byte
	MACKind      byte
	ChunkSize    uint64
	Flags        uint32
	Salt         []byte
	ScryptParams cryptoenv.ScryptParams
	Nonce        []byte
	PrologueMAC  []byte // present iff FlagEncrypt
	PrologueCksum []byte // present iff !FlagEncrypt
}

func (p *Prologue) Encrypted() bool { return p.Flags&FlagEncrypt != 0 }

// cksumKindTable assigns stable on-disk ids to checksum.Kind values. The
// table is this implementation's own (the design leaves the byte encoding
// to the implementation), but is never renumbered across versions once
// shipped, matching the design's "version negotiation" intent for every
// other on-disk enum.
var cksumKindTable = []checksum.Kind{
	checksum.XXHash32,
	checksum.SHA256,
	checksum.SHA512,
	checksum.SHA512_256,
	checksum.Keccak256,
	checksum.Keccak512,
	checksum.BLAKE2b,
	checksum.CRC32,
	checksum.CRC64,
}

func CksumKindToByte(k checksum.Kind) (byte, error) {
	for i, c := range cksumKindTable {
		if c == k {
			return byte(i), nil
		}
	}
	return 0, fmt.Errorf("container: unregistered checksum kind %q", k)
}

func ByteToCksumKind(b byte) (checksum.Kind, error) {
	if int(b) >= len(cksumKindTable) {
		return "", fmt.Errorf("container: unknown checksum kind id %d", b)
	}
	return cksumKindTable[b], nil
}

// WritePrologue serializes p to w
func WritePrologue(w io.Writer, p *Prologue) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.Write(Magic[:]); err != nil {
		return err
	}
	if err := writeU32(bw, p.Version); err != nil {
		return err
	}
	if _, err := bw.Write([]byte{p.AlgoID, p.Level, p.CksumKind, p.MACKind}); err != nil {
		return err
	}
	if err := writeU64(bw, p.ChunkSize); err != nil {
		return err
	}
	if err := writeU32(bw, p.Flags); err != nil {
		return err
	}

	if p.Encrypted() {
		if len(p.Salt) > 255 || len(p.Nonce) > 255 || len(p.PrologueMAC) > 255 {
			return fmt.Errorf("container: encryption block field exceeds 255 bytes")
		}
		if _, err := bw.Write([]byte{byte(len(p.Salt))}); err != nil {
			return err
		}
		if _, err := bw.Write(p.Salt); err != nil {
			return err
		}
		if _, err := bw.Write([]byte{p.ScryptParams.LogN}); err != nil {
			return err
		}
		if err := writeU32(bw, p.ScryptParams.R); err != nil {
			return err
		}
		if err := writeU32(bw, p.ScryptParams.P); err != nil {
			return err
		}
		if _, err := bw.Write([]byte{byte(len(p.Nonce))}); err != nil {
			return err
		}
		if _, err := bw.Write(p.Nonce); err != nil {
			return err
		}
		if _, err := bw.Write([]byte{byte(len(p.PrologueMAC))}); err != nil {
			return err
		}
		if _, err := bw.Write(p.PrologueMAC); err != nil {
			return err
		}
	} else {
		if _, err := bw.Write(p.PrologueCksum); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// ReadPrologue parses a Prologue from r. The plain (non-encrypted)
// checksum field's width is derived from the cksum_kind byte already
// read off the wire, rather than asked of the caller, since the two
// must always agree.
func ReadPrologue(r io.Reader) (*Prologue, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("container: reading magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("container: bad magic %q, expected %q", magic, Magic)
	}

	version, err := readU32(r)
	if err != nil {
		return nil, err
	}

	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("container: reading header bytes: %w", err)
	}
	p := &Prologue{Version: version, AlgoID: hdr[0], Level: hdr[1], CksumKind: hdr[2], MACKind: hdr[3]}

	if p.ChunkSize, err = readU64(r); err != nil {
		return nil, err
	}
	if p.Flags, err = readU32(r); err != nil {
		return nil, err
	}

	if p.Encrypted() {
		saltLen, err := readU8(r)
		if err != nil {
			return nil, err
		}
		p.Salt = make([]byte, saltLen)
		if _, err := io.ReadFull(r, p.Salt); err != nil {
			return nil, fmt.Errorf("container: reading salt: %w", err)
		}
		logN, err := readU8(r)
		if err != nil {
			return nil, err
		}
		rP, err := readU32(r)
		if err != nil {
			return nil, err
		}
		pP, err := readU32(r)
		if err != nil {
			return nil, err
		}
		p.ScryptParams = cryptoenv.ScryptParams{LogN: logN, R: rP, P: pP}

		nonceLen, err := readU8(r)
		if err != nil {
			return nil, err
		}
		p.Nonce = make([]byte, nonceLen)
		if _, err := io.ReadFull(r, p.Nonce); err != nil {
			return nil, fmt.Errorf("container: reading nonce: %w", err)
		}
		macLen, err := readU8(r)
		if err != nil {
			return nil, err
		}
		p.PrologueMAC = make([]byte, macLen)
		if _, err := io.ReadFull(r, p.PrologueMAC); err != nil {
			return nil, fmt.Errorf("container: reading prologue MAC: %w", err)
		}
	} else {
		kind, err := ByteToCksumKind(p.CksumKind)
		if err != nil {
			return nil, err
		}
		n, err := checksum.Size(kind)
		if err != nil {
			return nil, err
		}
		p.PrologueCksum = make([]byte, n)
		if _, err := io.ReadFull(r, p.PrologueCksum); err != nil {
			return nil, fmt.Errorf("container: reading prologue checksum: %w", err)
		}
	}

	return p, nil
}

// WriteChunkRecord serializes rec. includeMeta gates
// original_size_be/flags_byte and is decided once per stream by the
// caller: true whenever the run enables dedup, any preprocessing filter,
// or encryption (so the field is present even on chunks where every
// filter happened to SKIP and rec.Flags is zero). Otherwise no record
// carries them, the final chunk included; a short final chunk's size
// comes from its decoded payload, not from the configured chunk size.
func WriteChunkRecord(w io.Writer, rec *pipeline.Record, includeMeta bool) error {
	if err := writeU64(w, rec.CompressedSize); err != nil {
		return err
	}
	if _, err := w.Write(rec.MACOrCksum); err != nil {
		return err
	}
	if includeMeta {
		if err := writeU64(w, rec.OriginalSize); err != nil {
			return err
		}
		if _, err := w.Write([]byte{rec.Flags}); err != nil {
			return err
		}
	}
	_, err := w.Write(rec.Stored)
	return err
}

// WriteEOF writes the zero-length terminator record.
func WriteEOF(w io.Writer) error {
	return writeU64(w, 0)
}

// ReadChunkRecord reads one chunk record. It returns io.EOF (and no
// error) when the terminator record is encountered.
func ReadChunkRecord(r io.Reader, id int64, macOrCksumLen int, hasOriginalSize bool) (*pipeline.Record, error) {
	compressedSize, err := readU64(r)
	if err != nil {
		return nil, err
	}
	if compressedSize == 0 {
		return nil, io.EOF
	}

	rec := &pipeline.Record{ID: id, CompressedSize: compressedSize}

	rec.MACOrCksum = make([]byte, macOrCksumLen)
	if _, err := io.ReadFull(r, rec.MACOrCksum); err != nil {
		return nil, fmt.Errorf("container: reading chunk %d checksum/MAC: %w", id, err)
	}

	if hasOriginalSize {
		if rec.OriginalSize, err = readU64(r); err != nil {
			return nil, err
		}
		flagByte, err := readU8(r)
		if err != nil {
			return nil, err
		}
		rec.Flags = flagByte
	}

	payloadLen := rec.PayloadLen()
	rec.Stored = make([]byte, payloadLen)
	if _, err := io.ReadFull(r, rec.Stored); err != nil {
		return nil, fmt.Errorf("container: reading chunk %d payload: %w", id, err)
	}

	return rec, nil
}

func writeU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeU64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readU8(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}
