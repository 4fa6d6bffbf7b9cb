package fimg

import "github.com/openfimg/fimg/kernel"

// RingMarker is a snapshot of a RingBuffer's cursor, used to delimit a range of the command
// stream
type RingMarker struct {
	ring *RingBuffer
	cur  int
}

// CreateMarker returns a marker at the current cursor
func (r *RingBuffer) CreateMarker() *RingMarker {
	marker := &RingMarker{ring: r}
	marker.Mark()
	return marker
}

// Mark moves the marker to the ring buffer's current cursor
func (m *RingMarker) Mark() {
	m.cur = m.ring.cur
}

// Ring returns the ring buffer this marker belongs to
func (m *RingMarker) Ring() *RingBuffer {
	return m.ring
}

// Position returns the word index the marker points at
func (m *RingMarker) Position() int {
	return m.cur
}

// DistanceWords returns the number of words from m to end. Both markers must belong to the
// same ring buffer.
func (m *RingMarker) DistanceWords(end *RingMarker) int {
	if m.ring != end.ring {
		panic("attempted to measure the distance between markers of different ring buffers")
	}

	return end.cur - m.cur
}

// Flush submits the words from the marker to the cursor, leaving anything emitted before the
// marker and after the previous flush unsubmitted
func (m *RingMarker) Flush() (kernel.Timestamp, error) {
	return m.ring.flushFrom(m.cur)
}
