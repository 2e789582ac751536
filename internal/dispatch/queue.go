package dispatch

import "github.com/danmuck/relayctl/internal/protocol"

// ReplyFunc receives the positional reply for one request, or a non-nil
// err wrapping ErrConnectionClosed when the stream ended first.
type ReplyFunc func(reply protocol.Reply, err error)

func noopReply(protocol.Reply, error) {}

// pendingQueue is the FIFO of reply slots. Append at tail, pop at head.
type pendingQueue struct {
	slots []ReplyFunc
	head  int
}

func (q *pendingQueue) len() int {
	return len(q.slots) - q.head
}

func (q *pendingQueue) push(cb ReplyFunc) {
	q.slots = append(q.slots, cb)
}

func (q *pendingQueue) pop() (ReplyFunc, bool) {
	if q.len() == 0 {
		return nil, false
	}
	cb := q.slots[q.head]
	q.slots[q.head] = nil
	q.head++
	q.compact()
	return cb, true
}

// dropTail withdraws the most recently pushed slot.
func (q *pendingQueue) dropTail() {
	if q.len() == 0 {
		return
	}
	q.slots[len(q.slots)-1] = nil
	q.slots = q.slots[:len(q.slots)-1]
}

func (q *pendingQueue) drain() []ReplyFunc {
	out := make([]ReplyFunc, q.len())
	copy(out, q.slots[q.head:])
	q.slots = nil
	q.head = 0
	return out
}

func (q *pendingQueue) compact() {
	if q.head == len(q.slots) {
		q.slots = q.slots[:0]
		q.head = 0
		return
	}
	if q.head < 64 || q.head < len(q.slots)/2 {
		return
	}
	n := copy(q.slots, q.slots[q.head:])
	clear(q.slots[n:])
	q.slots = q.slots[:n]
	q.head = 0
}
