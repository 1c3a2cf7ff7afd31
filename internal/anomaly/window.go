package anomaly

import "math"

// window is a fixed-capacity FIFO of recent metric values. When full, pushing
// evicts the oldest value.
type window struct {
	values []float64
	head   int
	count  int
}

func newWindow(capacity int) *window {
	return &window{values: make([]float64, capacity)}
}

func (w *window) push(v float64) {
	if w.count < len(w.values) {
		w.values[(w.head+w.count)%len(w.values)] = v
		w.count++
		return
	}
	// Full: overwrite the oldest slot and advance.
	w.values[w.head] = v
	w.head = (w.head + 1) % len(w.values)
}

func (w *window) len() int {
	return w.count
}

// at returns the i-th value in insertion order (0 = oldest).
func (w *window) at(i int) float64 {
	return w.values[(w.head+i)%len(w.values)]
}

// tail returns up to n of the most recent values, oldest first.
func (w *window) tail(n int) []float64 {
	if n > w.count {
		n = w.count
	}
	out := make([]float64, 0, n)
	for i := w.count - n; i < w.count; i++ {
		out = append(out, w.at(i))
	}
	return out
}

// stats returns the sample mean and standard deviation of the window.
func (w *window) stats() (mean, stddev float64) {
	if w.count == 0 {
		return 0, 0
	}
	for i := 0; i < w.count; i++ {
		mean += w.at(i)
	}
	mean /= float64(w.count)

	if w.count < 2 {
		return mean, 0
	}
	var variance float64
	for i := 0; i < w.count; i++ {
		diff := w.at(i) - mean
		variance += diff * diff
	}
	variance /= float64(w.count - 1)
	return mean, math.Sqrt(variance)
}
