package memutils

import "math"

// Statistics is a snapshot of the buffer objects live against a single device
type Statistics struct {
	// BufferCount is the number of live buffer objects
	BufferCount int
	// BufferBytes is the sum of the sizes requested by callers
	BufferBytes int
	// AllocatedBytes is the sum of the sizes actually requested from the kernel, after
	// rounding to the device allocation granularity
	AllocatedBytes int
	// NamedCount is the number of buffer objects with a shared name
	NamedCount int
	// MappedCount is the number of buffer objects with a process mapping
	MappedCount int
	// MappedBytes is the sum of the sizes of all process mappings
	MappedBytes int
}

func (s *Statistics) Clear() {
	s.BufferCount = 0
	s.BufferBytes = 0
	s.AllocatedBytes = 0
	s.NamedCount = 0
	s.MappedCount = 0
	s.MappedBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BufferCount += other.BufferCount
	s.BufferBytes += other.BufferBytes
	s.AllocatedBytes += other.AllocatedBytes
	s.NamedCount += other.NamedCount
	s.MappedCount += other.MappedCount
	s.MappedBytes += other.MappedBytes
}

// DetailedStatistics extends Statistics with size extremes, which are more expensive to gather
type DetailedStatistics struct {
	Statistics
	BufferSizeMin int
	BufferSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.BufferSizeMin = math.MaxInt
	s.BufferSizeMax = 0
}

// AddBuffer accounts for a single buffer object
func (s *DetailedStatistics) AddBuffer(size, allocatedSize int, named bool, mappedSize int) {
	s.BufferCount++
	s.BufferBytes += size
	s.AllocatedBytes += allocatedSize

	if named {
		s.NamedCount++
	}

	if mappedSize > 0 {
		s.MappedCount++
		s.MappedBytes += mappedSize
	}

	if size < s.BufferSizeMin {
		s.BufferSizeMin = size
	}

	if size > s.BufferSizeMax {
		s.BufferSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)

	if other.BufferSizeMin < s.BufferSizeMin {
		s.BufferSizeMin = other.BufferSizeMin
	}

	if other.BufferSizeMax > s.BufferSizeMax {
		s.BufferSizeMax = other.BufferSizeMax
	}
}
