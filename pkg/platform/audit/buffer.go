package audit

import "sync"

// RingBuffer holds records whose append failed until the redelivery worker drains them.
// When full, the oldest record is dropped to make room.
type RingBuffer struct {
	mu       sync.Mutex
	records  []Record
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int

	dropped int64
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RingBuffer{
		records:  make([]Record, capacity),
		capacity: capacity,
	}
}

// Enqueue adds a record and reports whether the oldest one had to be dropped.
func (b *RingBuffer) Enqueue(rec Record) (droppedOldest bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		b.records[b.tail] = Record{}
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
		droppedOldest = true
	}

	b.records[b.head] = rec
	b.head = (b.head + 1) % b.capacity
	b.count++
	return droppedOldest
}

// DequeueBatch removes up to n records, oldest first.
func (b *RingBuffer) DequeueBatch(n int) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 || n <= 0 {
		return nil
	}
	n = min(n, b.count)

	out := make([]Record, n)
	for i := range n {
		out[i] = b.records[b.tail]
		b.records[b.tail] = Record{}
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return out
}

// Len returns the number of buffered records.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns the total number of records lost to overflow.
func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
