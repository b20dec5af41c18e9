package mqtt

import "log"

// bufferedMsg is a serialized message waiting for the broker.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool

	// latestOnly messages replace any queued message on the same topic.
	latestOnly bool
}

// offlineQueue holds messages published while the broker is unreachable.
// Touch events are latestOnly, so a reconnect replays the current touch
// state instead of its history. Lifecycle events queue in order. When the
// queue is full the oldest message is dropped.
// Callers must synchronize.
type offlineQueue struct {
	msgs     []bufferedMsg
	capacity int
	dropped  uint64
	overflow bool // a message was dropped since the last drain
}

func newOfflineQueue(capacity int) *offlineQueue {
	return &offlineQueue{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
	}
}

func (q *offlineQueue) push(msg bufferedMsg) {
	if msg.latestOnly {
		for i, m := range q.msgs {
			if m.topic == msg.topic {
				q.msgs = append(q.msgs[:i], q.msgs[i+1:]...)
				break
			}
		}
	}
	if len(q.msgs) == q.capacity {
		if !q.overflow {
			log.Printf("mqtt: offline queue full (%d messages), dropping oldest", q.capacity)
			q.overflow = true
		}
		q.msgs = append(q.msgs[:0], q.msgs[1:]...)
		q.dropped++
	}
	q.msgs = append(q.msgs, msg)
}

// drainAll returns queued messages oldest first and empties the queue.
func (q *offlineQueue) drainAll() []bufferedMsg {
	if len(q.msgs) == 0 {
		return nil
	}
	out := make([]bufferedMsg, len(q.msgs))
	copy(out, q.msgs)
	q.msgs = q.msgs[:0]
	q.overflow = false
	return out
}

func (q *offlineQueue) len() int {
	return len(q.msgs)
}

// droppedTotal counts messages lost to overflow since startup.
func (q *offlineQueue) droppedTotal() uint64 {
	return q.dropped
}
