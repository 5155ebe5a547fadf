package dsp

// RingBuffer keeps the most recent capacity samples of every channel.
// It is not safe for concurrent use; the extractor owns it.
type RingBuffer struct {
	channels int
	capacity int
	data     [][]float64
	cursor   int
	full     bool
}

// NewRingBuffer allocates a buffer of capacity samples per channel.
func NewRingBuffer(channels, capacity int) *RingBuffer {
	data := make([][]float64, channels)
	for c := range data {
		data[c] = make([]float64, capacity)
	}
	return &RingBuffer{channels: channels, capacity: capacity, data: data}
}

// Append writes a channels × n block. A block at least as long as the buffer
// replaces its contents with the block's tail.
func (r *RingBuffer) Append(block [][]float64) error {
	if len(block) != r.channels {
		return errChannelMismatch(r.channels, len(block))
	}
	n := len(block[0])
	for c := 1; c < len(block); c++ {
		if len(block[c]) != n {
			return errRaggedBlock(c, n, len(block[c]))
		}
	}
	if n == 0 || r.capacity == 0 {
		return nil
	}

	if n >= r.capacity {
		for c := range r.data {
			copy(r.data[c], block[c][n-r.capacity:])
		}
		r.cursor = 0
		r.full = true
		return nil
	}

	end := r.cursor + n
	if end <= r.capacity {
		for c := range r.data {
			copy(r.data[c][r.cursor:end], block[c])
		}
	} else {
		first := r.capacity - r.cursor
		for c := range r.data {
			copy(r.data[c][r.cursor:], block[c][:first])
			copy(r.data[c][:n-first], block[c][first:])
		}
	}
	if end >= r.capacity {
		r.full = true
	}
	r.cursor = end % r.capacity
	return nil
}

// Len returns the number of valid samples per channel.
func (r *RingBuffer) Len() int {
	if r.full {
		return r.capacity
	}
	return r.cursor
}

// Full reports whether the buffer has wrapped at least once.
func (r *RingBuffer) Full() bool {
	return r.full
}

// Capacity returns the per-channel capacity.
func (r *RingBuffer) Capacity() int {
	return r.capacity
}

// View returns a chronological copy of the valid samples of every channel.
func (r *RingBuffer) View() [][]float64 {
	out := make([][]float64, r.channels)
	n := r.Len()
	for c := range r.data {
		dst := make([]float64, n)
		if r.full {
			k := copy(dst, r.data[c][r.cursor:])
			copy(dst[k:], r.data[c][:r.cursor])
		} else {
			copy(dst, r.data[c][:r.cursor])
		}
		out[c] = dst
	}
	return out
}
