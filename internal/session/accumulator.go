package session

// Accumulator is the append-only audio buffer backing a session. Every
// transcription dispatch reads the whole buffer from byte zero, so the buffer
// only ever grows until the session is destroyed. Not safe for concurrent use;
// the owning State serializes access.
type Accumulator struct {
	minChunk int
	buf      []byte
	appended int
}

// NewAccumulator returns an accumulator that ignores chunks smaller than
// minChunkBytes. Tiny fragments carry headers or silence and would skew the
// dispatch cadence without adding transcribable audio.
func NewAccumulator(minChunkBytes int) *Accumulator {
	return &Accumulator{minChunk: minChunkBytes}
}

// Append adds a chunk to the buffer. Chunks below the minimum size are
// ignored and reported false.
func (a *Accumulator) Append(chunk []byte) bool {
	if len(chunk) < a.minChunk {
		return false
	}
	a.buf = append(a.buf, chunk...)
	a.appended++
	return true
}

// Snapshot returns a copy of everything accumulated so far.
func (a *Accumulator) Snapshot() []byte {
	out := make([]byte, len(a.buf))
	copy(out, a.buf)
	return out
}

// Len reports the buffered byte count.
func (a *Accumulator) Len() int {
	return len(a.buf)
}

// Appended reports how many chunks passed the size floor.
func (a *Accumulator) Appended() int {
	return a.appended
}

// Release drops the buffered audio. Counters survive for final reporting.
func (a *Accumulator) Release() {
	a.buf = nil
}
