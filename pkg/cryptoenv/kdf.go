// Package cryptoenv implements the cryptographic envelope: scrypt key
// derivation, CTR-mode per-chunk stream encryption, and
// the RNG fallback chain backing salt/nonce generation. It generalizes
// the teacher's cached-AES-CTR helper (pkg/crypto/crypto.go's
// NewCTRStream, keyed by absolute byte offset) to the chunk-id-keyed
// counters the design requires, and drops the teacher's Switch-specific
// AES-XTS/AES-ECB helpers, which have no role in this envelope.
package cryptoenv

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/scrypt"
)

// ScryptParams is the (logN, r, p) triple passed to scrypt.
type ScryptParams struct {
	LogN uint8
	R    uint32
	P    uint32
}

// scryptTable picks parameters by available-memory/latency target,
// matching the design's "parameters picked from a table keyed by available
// memory and target latency." Entries are ordered cheapest-first.
var scryptTable = []ScryptParams{
	{LogN: 14, R: 8, P: 1},  // ~16 MiB, interactive
	{LogN: 15, R: 8, P: 1},  // ~32 MiB
	{LogN: 16, R: 8, P: 1},  // ~64 MiB
	{LogN: 17, R: 8, P: 1},  // ~128 MiB
	{LogN: 20, R: 8, P: 1},  // ~1 GiB, archival/at-rest
}

// PickScryptParams selects the most expensive table entry whose memory
// cost (roughly 128*r*2^logN bytes) does not exceed memLimit, falling
// back to the cheapest entry if memLimit is smaller than all of them.
func PickScryptParams(memLimit int64) ScryptParams {
	best := scryptTable[0]
	for _, p := range scryptTable {
		cost := int64(128) * int64(p.R) * (int64(1) << p.LogN)
		if cost <= memLimit {
			best = p
		}
	}
	return best
}

// DeriveKey runs scrypt(password, salt, N=2^logN, r, p, keyLen) and
// returns a key of keyLen bytes (16 or 32).
func DeriveKey(password, salt []byte, params ScryptParams, keyLen int) ([]byte, error) {
	if keyLen != 16 && keyLen != 32 {
		return nil, fmt.Errorf("cryptoenv: key length must be 16 or 32, got %d", keyLen)
	}
	n := 1 << params.LogN
	return scrypt.Key(password, salt, n, int(params.R), int(params.P), keyLen)
}

// RandomBytes fills buf with cryptographically strong random bytes,
// falling back through platform RNG -> /dev/urandom -> an HMAC-SHA-256
// stretch of a monotonic clock reading. The middle fallback is folded into the first on
// every platform Go supports (crypto/rand already tries /dev/urandom),
// so only two tiers are implemented; the clock-based tier exists purely
// as a last-resort so RandomBytes never returns an error.
func RandomBytes(buf []byte) error {
	if err := platformRandom(buf); err == nil {
		return nil
	}
	return clockFallbackRandom(buf)
}

// clockFallbackRandom derives pseudo-random bytes by repeatedly hashing
// a monotonic clock reading with HMAC-SHA-256. This is the weakest tier
// and should only ever be reached if the OS RNG is unavailable.
func clockFallbackRandom(buf []byte) error {
	seed := make([]byte, 8)
	binary.BigEndian.PutUint64(seed, uint64(time.Now().UnixNano()))

	mac := hmac.New(sha256.New, seed)
	counter := uint64(0)
	for off := 0; off < len(buf); {
		mac.Reset()
		var ctrBuf [8]byte
		binary.BigEndian.PutUint64(ctrBuf[:], counter)
		mac.Write(ctrBuf[:])
		block := mac.Sum(nil)
		n := copy(buf[off:], block)
		off += n
		counter++
	}
	return nil
}

// platformRandom is overridable by tests to force the fallback path.
var platformRandom = func(buf []byte) error {
	_, err := io.ReadFull(rand.Reader, buf)
	return err
}
