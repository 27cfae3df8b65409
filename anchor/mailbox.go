package anchor

import "sync"

// Mailbox hands completed detections from detector workers to the render
// loop. Detections are delivered in the order they were offered, which is
// their completion order. When full, the oldest pending detection is dropped.
type Mailbox struct {
	mu       sync.Mutex
	queue    []*Detection
	capacity int
	dropped  int
}

// NewMailbox creates a mailbox holding at most capacity detections.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = 1
	}
	return &Mailbox{queue: make([]*Detection, 0, capacity), capacity: capacity}
}

// Offer enqueues a completed detection. It returns true if an older pending
// detection was dropped to make room.
func (m *Mailbox) Offer(det *Detection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := false
	if len(m.queue) == m.capacity {
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.dropped++
		dropped = true
	}
	m.queue = append(m.queue, det)
	return dropped
}

// Take removes the oldest pending detection. It never blocks; ok is false
// when nothing is pending, which the caller treats as no measurement.
func (m *Mailbox) Take() (det *Detection, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return nil, false
	}
	det = m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return det, true
}

// Len returns the number of pending detections.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Dropped returns how many detections have been discarded since creation.
func (m *Mailbox) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Drain discards all pending detections.
func (m *Mailbox) Drain() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = m.queue[:0]
}
