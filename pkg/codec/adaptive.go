package codec

// adaptiveCodec is the meta-entry: it probes a small
// prefix with two fast codecs, picks the better ratio, and records the
// chosen AlgoID in the chunk header so decompression can dispatch to
// the right back-end directly (it never re-probes).
type adaptiveCodec struct {
	registry *Registry
	probeA   Codec
	probeB   Codec
}

// probePrefixLen bounds how much of the chunk is sampled before picking
// a back-end, keeping adaptive mode's overhead small relative to full
// chunk compression.
const probePrefixLen = 64 << 10

func newAdaptiveCodec(r *Registry) Codec {
	return &adaptiveCodec{registry: r}
}

func (c *adaptiveCodec) AlgoID() byte { return AlgoAdaptive }
func (c *adaptiveCodec) Name() string { return "adaptive" }

func (c *adaptiveCodec) resolveProbes() {
	if c.probeA != nil {
		return
	}
	// s2 and snappy are the two fastest registered codecs; declared
	// order here is also the tie-break order: when ratios are within
	// 1%, the codec declared earlier wins.
	c.probeA, _ = c.registry.ByName("s2")
	c.probeB, _ = c.registry.ByName("snappy")
}

type adaptiveState struct {
	chosen Codec
}

func (c *adaptiveCodec) Init(level, nthreads int, chunkSize int64, fileVersion uint32) (State, error) {
	c.resolveProbes()
	return &adaptiveState{}, nil
}

func (c *adaptiveCodec) Deinit(State) {}

// Chosen returns the AlgoID selected by the last Compress call on this
// state, so the pipeline can persist it into the chunk header.
func Chosen(state State) byte {
	s, ok := state.(*adaptiveState)
	if !ok || s.chosen == nil {
		return AlgoStore
	}
	return s.chosen.AlgoID()
}

func (c *adaptiveCodec) Compress(state State, src []byte, level int) ([]byte, error) {
	c.resolveProbes()
	s := state.(*adaptiveState)

	prefix := src
	if len(prefix) > probePrefixLen {
		prefix = prefix[:probePrefixLen]
	}

	aOut, aErr := c.probeA.Compress(nil, prefix, level)
	bOut, bErr := c.probeB.Compress(nil, prefix, level)

	chosen := c.probeA
	switch {
	case aErr != nil && bErr != nil:
		s.chosen = nil
		return nil, aErr
	case aErr != nil:
		chosen = c.probeB
	case bErr != nil:
		chosen = c.probeA
	default:
		aRatio := float64(len(aOut)) / float64(len(prefix))
		bRatio := float64(len(bOut)) / float64(len(prefix))
		// within 1%: earlier-declared (probeA) wins, matching the
		// registry declaration order tie-break.
		if bRatio < aRatio && (aRatio-bRatio) > 0.01 {
			chosen = c.probeB
		}
	}

	s.chosen = chosen
	return chosen.Compress(nil, src, level)
}

func (c *adaptiveCodec) Decompress(state State, src []byte, originalSize int) ([]byte, error) {
	c.resolveProbes()
	s, ok := state.(*adaptiveState)
	if !ok || s.chosen == nil {
		return nil, errAdaptiveNoChosen
	}
	return s.chosen.Decompress(nil, src, originalSize)
}

// DecompressWithAlgo decompresses adaptive-mode data when the chosen
// AlgoID is already known from the chunk header (the normal
// decompression path — adaptive mode never re-probes on read).
func (c *adaptiveCodec) DecompressWithAlgo(algoID byte, src []byte, originalSize int) ([]byte, error) {
	inner, err := c.registry.ByID(algoID)
	if err != nil {
		return nil, err
	}
	return inner.Decompress(nil, src, originalSize)
}

func (c *adaptiveCodec) Props(level int, chunkSize int64) Props {
	return Props{MTCapable: true, BufExtra: 128 + int(chunkSize/100)}
}

func (c *adaptiveCodec) Stats(show bool) string { return "" }

var errAdaptiveNoChosen = &adaptiveErr{"adaptive codec: no back-end chosen for this state"}

type adaptiveErr struct{ msg string }

func (e *adaptiveErr) Error() string { return e.msg }
