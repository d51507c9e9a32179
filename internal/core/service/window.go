package service

// SampleWindow is a bounded FIFO of scaled samples.
type SampleWindow struct {
	capacity int
	samples  []float64
}

func NewSampleWindow(capacity int) *SampleWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &SampleWindow{
		capacity: capacity,
		samples:  make([]float64, 0, capacity+1),
	}
}

func (w *SampleWindow) Capacity() int {
	return w.capacity
}

// SetCapacity changes the capacity, evicting the oldest samples if needed.
func (w *SampleWindow) SetCapacity(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	w.capacity = capacity
	w.evict()
}

// Update appends value then evicts from the front until len <= capacity.
func (w *SampleWindow) Update(value float64) {
	w.samples = append(w.samples, value)
	w.evict()
}

func (w *SampleWindow) evict() {
	if over := len(w.samples) - w.capacity; over > 0 {
		w.samples = append(w.samples[:0], w.samples[over:]...)
	}
}

func (w *SampleWindow) Len() int {
	return len(w.samples)
}

// Mean returns the arithmetic mean of retained samples, 0 when empty.
func (w *SampleWindow) Mean() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w.samples {
		sum += v
	}
	return sum / float64(len(w.samples))
}

// Max returns the largest retained sample, 0 when empty.
func (w *SampleWindow) Max() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	max := w.samples[0]
	for _, v := range w.samples[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

func (w *SampleWindow) Samples() []float64 {
	return append([]float64{}, w.samples...)
}

func (w *SampleWindow) Clear() {
	w.samples = w.samples[:0]
}
