package dedup

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// SegmentParams sizes a segmented similarity index from the total
// archive size, table.
type SegmentParams struct {
	SegmentBytes int64
	DirFanout    int
	DirLevels    int
}

// PickSegmentParams implements archive-size table.
func PickSegmentParams(archiveSize int64) SegmentParams {
	const tib = int64(1) << 40
	const pib = int64(1) << 50
	switch {
	case archiveSize < tib:
		return SegmentParams{SegmentBytes: 4 << 20, DirFanout: 128, DirLevels: 2}
	case archiveSize < pib:
		return SegmentParams{SegmentBytes: 8 << 20, DirFanout: 256, DirLevels: 2}
	default:
		return SegmentParams{SegmentBytes: 8 << 20, DirFanout: 256, DirLevels: 3}
	}
}

// BlockEntry is the per-chunk block_entry_t: {offset,
// length, cksum}, appended to the segment metadata scratch file.
type BlockEntry struct {
	Offset int64
	Length int64
	Cksum  uint64
}

const blockEntrySize = 8 + 8 + 8

// SegmentRecord is the segment metadata record:
// {block_count, file_offset, blocks}, appended to a scratch file.
// Records are append-only; the record's own file offset is the value
// stored as item_offset in the similarity index.
type SegmentRecord struct {
	BlockCount uint32
	FileOffset uint64
	Blocks     []BlockEntry
}

// SegmentWriter appends segment metadata records to a scratch file
// under a single mutex: the writer fd is shared, guarded by one
// exclusive append mutex.
type SegmentWriter struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewSegmentWriter creates the scratch file at
// $PCOMPRESS_TMPDIR/.segXXXXXX.
func NewSegmentWriter(tmpDir string) (*SegmentWriter, error) {
	f, err := os.CreateTemp(tmpDir, ".seg")
	if err != nil {
		return nil, fmt.Errorf("dedup: creating segment scratch file: %w", err)
	}
	return &SegmentWriter{file: f, path: f.Name()}, nil
}

func (w *SegmentWriter) Path() string { return w.path }

// Append writes one segment record and returns its file offset (the
// value the similarity index stores as item_offset).
func (w *SegmentWriter) Append(blocks []BlockEntry) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	offset, err := w.file.Seek(0, os.SEEK_END)
	if err != nil {
		return 0, fmt.Errorf("dedup: seeking segment scratch file: %w", err)
	}

	hdr := make([]byte, 12)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(blocks)))
	binary.BigEndian.PutUint64(hdr[4:12], uint64(offset))
	if _, err := w.file.Write(hdr); err != nil {
		return 0, fmt.Errorf("dedup: writing segment record header: %w", err)
	}

	buf := make([]byte, blockEntrySize*len(blocks))
	for i, b := range blocks {
		base := i * blockEntrySize
		binary.BigEndian.PutUint64(buf[base:base+8], uint64(b.Offset))
		binary.BigEndian.PutUint64(buf[base+8:base+16], uint64(b.Length))
		binary.BigEndian.PutUint64(buf[base+16:base+24], b.Cksum)
	}
	if _, err := w.file.Write(buf); err != nil {
		return 0, fmt.Errorf("dedup: writing segment record blocks: %w", err)
	}

	return offset, nil
}

// Close closes and removes the scratch file: it is deleted on
// completion or cancellation, never left behind.
func (w *SegmentWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	path := w.file.Name()
	err := w.file.Close()
	if rmErr := os.Remove(path); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// SegmentReader memory-maps segment records on demand, caching the
// current mapping per worker: it maps the region from offset through
// the record header plus segment_sz*sizeof(block_entry), aligned down
// to page size, and re-reading the same offset reuses the existing map.
// Each SegmentReader is owned by exactly one worker — assigns
// one mapped fd per worker with no sharing.
type SegmentReader struct {
	file       *os.File
	pageSize   int64
	mappedOff  int64
	mappedLen  int
	mapping    []byte
	hasMapping bool
}

func NewSegmentReader(path string) (*SegmentReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dedup: opening segment scratch file: %w", err)
	}
	return &SegmentReader{file: f, pageSize: int64(os.Getpagesize())}, nil
}

func (r *SegmentReader) Close() error {
	if r.hasMapping {
		unix.Munmap(r.mapping)
		r.hasMapping = false
	}
	return r.file.Close()
}

// ReadRecord reads the segment record at offset, reusing the cached
// mapping when the requested region falls within it.
func (r *SegmentReader) ReadRecord(offset int64, segmentSz int64) (SegmentRecord, error) {
	alignedOff := (offset / r.pageSize) * r.pageSize
	length := int(offset-alignedOff) + 12 + int(segmentSz*blockEntrySize)
	if length < int(r.pageSize) {
		length = int(r.pageSize)
	}

	if !r.hasMapping || alignedOff != r.mappedOff || length > r.mappedLen {
		if r.hasMapping {
			unix.Munmap(r.mapping)
			r.hasMapping = false
		}
		mapping, err := unix.Mmap(int(r.file.Fd()), alignedOff, length, unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			return SegmentRecord{}, fmt.Errorf("dedup: mmap segment region: %w", err)
		}
		r.mapping = mapping
		r.mappedOff = alignedOff
		r.mappedLen = length
		r.hasMapping = true
	}

	rel := int(offset - r.mappedOff)
	if rel+12 > len(r.mapping) {
		return SegmentRecord{}, fmt.Errorf("dedup: segment record at %d out of mapped range", offset)
	}

	blockCount := binary.BigEndian.Uint32(r.mapping[rel : rel+4])
	fileOffset := binary.BigEndian.Uint64(r.mapping[rel+4 : rel+12])

	blocks := make([]BlockEntry, blockCount)
	base := rel + 12
	for i := range blocks {
		bo := base + i*blockEntrySize
		if bo+blockEntrySize > len(r.mapping) {
			return SegmentRecord{}, fmt.Errorf("dedup: segment record blocks at %d out of mapped range", offset)
		}
		blocks[i] = BlockEntry{
			Offset: int64(binary.BigEndian.Uint64(r.mapping[bo : bo+8])),
			Length: int64(binary.BigEndian.Uint64(r.mapping[bo+8 : bo+16])),
			Cksum:  binary.BigEndian.Uint64(r.mapping[bo+16 : bo+24]),
		}
	}

	return SegmentRecord{BlockCount: blockCount, FileOffset: fileOffset, Blocks: blocks}, nil
}

// SimilarityIndex is segmented similarity index: one
// hash table per similarity interval, routing a fingerprint to one of
// several tables so near-matches within the same bucket collide.
type SimilarityIndex struct {
	mu        sync.Mutex
	intervals []*similarityTable
	memLimit  int64
	memUsed   int64
}

type similarityTable struct {
	slots   []int32
	entries []simEntry
}

type simEntry struct {
	fingerprint []byte
	itemOffset  int64
	next        int32
}

// NewSimilarityIndex builds nIntervals independent tables, each sized
// for expectedEntries/nIntervals at 50% occupancy.
func NewSimilarityIndex(nIntervals int, expectedEntries int64, memLimit int64) *SimilarityIndex {
	idx := &SimilarityIndex{memLimit: memLimit}
	perTable := expectedEntries / int64(nIntervals)
	if perTable < 16 {
		perTable = 16
	}
	slotCount := int(nextPow2(perTable * 2))
	for i := 0; i < nIntervals; i++ {
		slots := make([]int32, slotCount)
		for j := range slots {
			slots[j] = -1
		}
		idx.intervals = append(idx.intervals, &similarityTable{slots: slots})
	}
	return idx
}

// intervalFor routes a fingerprint to one of the nIntervals tables using
// fnvWordAligned over its full 8-byte words.
func (idx *SimilarityIndex) intervalFor(fingerprint []byte) *similarityTable {
	h := fnvWordAligned(fingerprint)
	return idx.intervals[h%uint64(len(idx.intervals))]
}

// Lookup finds an entry keyed by fingerprint alone (similarity mode's
// match key, unlike simple mode which also compares size).
func (idx *SimilarityIndex) Lookup(fingerprint []byte) (int64, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	t := idx.intervalFor(fingerprint)
	slot := int(fnvWordAligned(fingerprint) % uint64(len(t.slots)))
	for e := t.slots[slot]; e != -1; e = t.entries[e].next {
		if fp8Equal(t.entries[e].fingerprint, fingerprint) {
			return t.entries[e].itemOffset, true
		}
	}
	return 0, false
}

// fp8Equal checks the first 8 bytes first when both fingerprints are at
// least that long, then still compares the full fingerprints.
func fp8Equal(a, b []byte) bool {
	if len(a) >= 8 && len(b) >= 8 {
		return binary.BigEndian.Uint64(a[:8]) == binary.BigEndian.Uint64(b[:8]) && wordEqual(a, b)
	}
	return wordEqual(a, b)
}

// Insert adds fingerprint -> itemOffset, evicting the target chain's
// head once memUsed >= memLimit (same bounded-displacement rule as
// SimpleIndex).
func (idx *SimilarityIndex) Insert(fingerprint []byte, itemOffset int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	t := idx.intervalFor(fingerprint)
	slot := int(fnvWordAligned(fingerprint) % uint64(len(t.slots)))
	entrySize := int64(len(fingerprint) + 16)

	if idx.memUsed >= idx.memLimit && t.slots[slot] != -1 {
		head := t.slots[slot]
		t.entries[head].fingerprint = fingerprint
		t.entries[head].itemOffset = itemOffset
		return
	}

	e := simEntry{fingerprint: fingerprint, itemOffset: itemOffset, next: t.slots[slot]}
	t.entries = append(t.entries, e)
	t.slots[slot] = int32(len(t.entries) - 1)
	idx.memUsed += entrySize
}

// ShouldUpgrade reports whether a simple index's memory requirement
// exceeds memLimit by more than 3x, the auto-upgrade trigger.
func ShouldUpgrade(requiredMem, memLimit int64) bool {
	return requiredMem > memLimit*3
}
