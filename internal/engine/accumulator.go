package engine

// Accumulator buffers normalized samples until a full analysis window is
// available. Samples are consumed strictly in FIFO order; any excess beyond
// the window capacity stays buffered for the next window.
type Accumulator struct {
	capacity int
	buf      []float32
}

func NewAccumulator(capacity int) *Accumulator {
	return &Accumulator{capacity: capacity}
}

func (a *Accumulator) Push(samples []float32) {
	a.buf = append(a.buf, samples...)
}

// Extract returns the next full window, or false if fewer than capacity
// samples are buffered. The returned slice is a copy; the accumulator keeps
// only the remainder.
func (a *Accumulator) Extract() ([]float32, bool) {
	if len(a.buf) < a.capacity {
		return nil, false
	}
	window := make([]float32, a.capacity)
	copy(window, a.buf[:a.capacity])
	a.buf = a.buf[:copy(a.buf, a.buf[a.capacity:])]
	return window, true
}

// Len reports the number of buffered samples not yet extracted.
func (a *Accumulator) Len() int {
	return len(a.buf)
}

func (a *Accumulator) Reset() {
	a.buf = a.buf[:0]
}
