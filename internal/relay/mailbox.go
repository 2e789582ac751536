package relay

import "sync"

// mailbox is an unbounded single-consumer op queue.
type mailbox struct {
	mu     sync.Mutex
	ops    []func()
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

// post enqueues op and reports false once the mailbox is closed.
func (m *mailbox) post(op func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.ops = append(m.ops, op)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) take() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := m.ops
	m.ops = nil
	return ops
}

// close rejects further posts and returns whatever was still queued.
func (m *mailbox) close() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	ops := m.ops
	m.ops = nil
	return ops
}
