package cryptoenv

import (
	"encoding/binary"

	"github.com/falk/pcompress-go/pkg/checksum"
)

// PrologueMACInput serializes the prologue fields the MAC must cover
// (version, algo, chunk_size, flags, cksum_kind, mac_kind,
// salt, scrypt params, nonce) into one buffer suitable for MAC/cksum.
func PrologueMACInput(version uint32, algoID, cksumKind, macKind byte, chunkSize int64, flags uint32, salt []byte, params ScryptParams, nonce []byte) []byte {
	buf := make([]byte, 0, 32+len(salt)+len(nonce))
	var tmp [8]byte

	binary.BigEndian.PutUint32(tmp[:4], version)
	buf = append(buf, tmp[:4]...)
	buf = append(buf, algoID, cksumKind, macKind)

	binary.BigEndian.PutUint64(tmp[:8], uint64(chunkSize))
	buf = append(buf, tmp[:8]...)

	binary.BigEndian.PutUint32(tmp[:4], flags)
	buf = append(buf, tmp[:4]...)

	buf = append(buf, salt...)
	buf = append(buf, params.LogN)
	binary.BigEndian.PutUint32(tmp[:4], params.R)
	buf = append(buf, tmp[:4]...)
	binary.BigEndian.PutUint32(tmp[:4], params.P)
	buf = append(buf, tmp[:4]...)
	buf = append(buf, nonce...)
	return buf
}

// ChunkMACInput serializes the chunk-record header fields the MAC must
// cover (compressed_size_be, original_size_be, flags,
// algo_id, id) followed by the stored bytes.
func ChunkMACInput(compressedSizeBE uint64, originalSizeBE uint64, flags, algoID byte, id int64, storedBytes []byte) []byte {
	buf := make([]byte, 0, 8+8+1+1+8+len(storedBytes))
	var tmp [8]byte

	binary.BigEndian.PutUint64(tmp[:], compressedSizeBE)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint64(tmp[:], originalSizeBE)
	buf = append(buf, tmp[:]...)
	buf = append(buf, flags, algoID)
	binary.BigEndian.PutUint64(tmp[:], uint64(id))
	buf = append(buf, tmp[:]...)
	buf = append(buf, storedBytes...)
	return buf
}

// MACKindFor maps a config MAC-kind string to a checksum.Kind.
func MACKindFor(name string) checksum.Kind {
	switch name {
	case "sha256":
		return checksum.SHA256
	case "sha512":
		return checksum.SHA512
	case "blake2b", "":
		return checksum.BLAKE2b
	default:
		return checksum.Kind(name)
	}
}
