package rpc

import (
	"sync"
)

// Outcome is the terminal result of one pending call: either a correlated
// response or the error that killed the session.
type Outcome struct {
	Response *Response
	Err      error
}

// PendingCalls is the correlation table bridging synchronous callers onto
// the async runtime. Each registered identity owns a oneshot completion
// slot; the calling goroutine waits on the slot's channel while the
// runtime's read loop completes it. A slot receives exactly one outcome.
type PendingCalls struct {
	mu     sync.Mutex
	slots  map[string]chan Outcome
	failed error
}

// NewPendingCalls creates an empty correlation table.
func NewPendingCalls() *PendingCalls {
	return &PendingCalls{slots: make(map[string]chan Outcome)}
}

// Register creates a completion slot for the given correlation identity.
// It fails if the table has already been failed (session dead) or the
// identity is already in flight.
func (p *PendingCalls) Register(id string) (<-chan Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failed != nil {
		return nil, p.failed
	}
	if _, dup := p.slots[id]; dup {
		return nil, &Error{Code: CodeInvalidRequest, Message: "duplicate correlation id " + id}
	}

	// Buffered so completion never blocks the runtime's read loop, even
	// if the caller already timed out and left.
	ch := make(chan Outcome, 1)
	p.slots[id] = ch
	return ch, nil
}

// Complete delivers a response to the slot registered under its
// correlation identity. It reports whether a slot was found; responses
// with unknown identities are dropped by the caller.
func (p *PendingCalls) Complete(resp *Response) bool {
	p.mu.Lock()
	ch, ok := p.slots[resp.ID]
	if ok {
		delete(p.slots, resp.ID)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- Outcome{Response: resp}
	return true
}

// Cancel removes a slot without completing it, used when the caller's own
// timeout elapses. A response arriving later is then dropped.
func (p *PendingCalls) Cancel(id string) {
	p.mu.Lock()
	delete(p.slots, id)
	p.mu.Unlock()
}

// FailAll completes every outstanding slot with err and marks the table so
// future Register calls fail immediately. Each slot still receives exactly
// one outcome.
func (p *PendingCalls) FailAll(err error) {
	p.mu.Lock()
	if p.failed == nil {
		p.failed = err
	}
	slots := p.slots
	p.slots = make(map[string]chan Outcome)
	p.mu.Unlock()

	for _, ch := range slots {
		ch <- Outcome{Err: err}
	}
}

// Len returns the number of in-flight calls.
func (p *PendingCalls) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
