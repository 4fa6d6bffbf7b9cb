package fimg

import "github.com/openfimg/fimg/kernel"

// queueEntry links one buffer object into one of a pipe's queues. A buffer object has at most
// one entry per pipe.
type queueEntry struct {
	bo    *BufferObject
	queue *boQueue

	// timestamp is the completion this pipe waits on before retiring bo, 0 until flushed
	timestamp kernel.Timestamp

	prev *queueEntry
	next *queueEntry
}

// boQueue is a FIFO of buffer objects with O(1) unlink
type boQueue struct {
	head  *queueEntry
	tail  *queueEntry
	count int
}

func (q *boQueue) pushBack(entry *queueEntry) {
	if entry.queue != nil {
		panic("buffer object queue entry is already linked")
	}

	entry.queue = q
	entry.prev = q.tail
	entry.next = nil

	if q.tail == nil {
		q.head = entry
	} else {
		q.tail.next = entry
	}
	q.tail = entry
	q.count++
}

func (q *boQueue) remove(entry *queueEntry) {
	if entry.queue != q {
		panic("buffer object queue entry is linked into a different queue")
	}

	if entry.prev == nil {
		q.head = entry.next
	} else {
		entry.prev.next = entry.next
	}

	if entry.next == nil {
		q.tail = entry.prev
	} else {
		entry.next.prev = entry.prev
	}

	entry.queue = nil
	entry.prev = nil
	entry.next = nil
	q.count--
}

func (q *boQueue) Len() int {
	return q.count
}

// Each calls cb for every buffer object in FIFO order until cb returns true
func (q *boQueue) Each(cb func(bo *BufferObject) (stop bool)) {
	for entry := q.head; entry != nil; entry = entry.next {
		if cb(entry.bo) {
			return
		}
	}
}
