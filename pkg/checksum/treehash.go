package checksum

// TreeHash computes a digest of input using the 4-way interleaved
// parallel tree-hash: split input into 4 interleaved
// streams of BlockSize, hash each independently, combine the 4 digests
// into 2 by pairwise hashing, then hash those 2 into the final digest.
// A serial fallback is used when len(input) <= 2*BlockSize. The output
// depends only on input bytes and kind — parallelism is never observable.
const BlockSize = 2 << 10 // 2 KiB

func TreeHash(kind Kind, input []byte) ([]byte, error) {
	if len(input) <= 2*BlockSize {
		return Sum(kind, input)
	}

	streams := splitInterleaved(input, 4, BlockSize)

	type result struct {
		idx int
		sum []byte
		err error
	}
	resCh := make(chan result, 4)
	for i, s := range streams {
		go func(idx int, data []byte) {
			sum, err := Sum(kind, data)
			resCh <- result{idx, sum, err}
		}(i, s)
	}

	digests := make([][]byte, 4)
	for i := 0; i < 4; i++ {
		r := <-resCh
		if r.err != nil {
			return nil, r.err
		}
		digests[r.idx] = r.sum
	}

	combined01, err := Sum(kind, append(append([]byte{}, digests[0]...), digests[1]...))
	if err != nil {
		return nil, err
	}
	combined23, err := Sum(kind, append(append([]byte{}, digests[2]...), digests[3]...))
	if err != nil {
		return nil, err
	}

	return Sum(kind, append(combined01, combined23...))
}

// splitInterleaved partitions data into n streams, each the
// concatenation of every n-th block of size blockSize, in block order.
// The split is purely positional (each block is copied into its stream)
// so recombination in TreeHash is deterministic given (data, kind) alone.
func splitInterleaved(data []byte, n, blockSize int) [][]byte {
	streams := make([][]byte, n)
	for i := range streams {
		streams[i] = make([]byte, 0, (len(data)/n)+blockSize)
	}

	blockIdx := 0
	for off := 0; off < len(data); off += blockSize {
		end := off + blockSize
		if end > len(data) {
			end = len(data)
		}
		s := blockIdx % n
		streams[s] = append(streams[s], data[off:end]...)
		blockIdx++
	}
	return streams
}
