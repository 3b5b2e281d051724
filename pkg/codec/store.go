package codec

// storeCodec is the identity "compressor" registered as AlgoStore. The
// pipeline's uncompressed fallback does not call it (it stores the
// payload directly under CHSIZEMask), and adaptive mode does not probe it.
type storeCodec struct{}

func newStoreCodec() Codec { return storeCodec{} }

func (storeCodec) AlgoID() byte { return AlgoStore }
func (storeCodec) Name() string { return "store" }

func (storeCodec) Init(level, nthreads int, chunkSize int64, fileVersion uint32) (State, error) {
	return nil, nil
}
func (storeCodec) Deinit(State) {}

func (storeCodec) Compress(state State, src []byte, level int) ([]byte, error) {
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst, nil
}

func (storeCodec) Decompress(state State, src []byte, originalSize int) ([]byte, error) {
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst, nil
}

func (storeCodec) Props(level int, chunkSize int64) Props {
	return Props{MTCapable: true, BufExtra: 0, CMaxThreads: 0, DMaxThreads: 0}
}

func (storeCodec) Stats(show bool) string { return "" }
