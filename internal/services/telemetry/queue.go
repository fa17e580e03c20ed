package telemetry

import "sync"

// Message is one outbound unit. Immutable once enqueued; the publisher
// owns it until the broker acknowledges it or the retry budget runs
// out.
type Message struct {
	ID      string
	Topic   string
	Payload []byte
	Seq     uint64
	Retries int
}

// queue is a bounded FIFO of unacknowledged messages, oldest first.
type queue struct {
	mu   sync.Mutex
	data []*Message
	cap  int
}

func newQueue(capacity int) *queue {
	return &queue{data: make([]*Message, 0, capacity), cap: capacity}
}

// push appends m. When the queue is full the oldest unacknowledged
// message is dropped and returned so the caller can account for it.
func (q *queue) push(m *Message) (dropped *Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) >= q.cap {
		dropped = q.data[0]
		q.data = append(q.data[:0], q.data[1:]...)
	}
	q.data = append(q.data, m)
	return dropped
}

// peek returns the oldest message without removing it.
func (q *queue) peek() *Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	return q.data[0]
}

// popIf removes the head only if it is still m. The head can change
// under an overflow drop while m is in flight on the link, and
// removing by position then would lose the wrong message.
func (q *queue) popIf(m *Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 || q.data[0].ID != m.ID {
		return false
	}
	q.data = append(q.data[:0], q.data[1:]...)
	return true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}
