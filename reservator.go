package mprpc

import "sync"

// reservator is the keyed one-shot handoff table of spec.md §3/design
// notes: map<msgid, pending<Response>>. Each key may be reserved exactly
// once; resolving it delivers the Response to the single waiter and
// removes the entry. Shutdown and ForceShutdown drain any still-pending
// entries with a failure (abortAll), which is how a torn-down Session
// causes in-flight recv calls to fail per spec.md §5.
type reservator struct {
	mu      sync.Mutex
	pending map[uint32]chan *Response
	closed  bool
}

func newReservator() *reservator {
	return &reservator{pending: make(map[uint32]chan *Response)}
}

// reserve creates a Pending entry for msgid and returns a channel that
// will receive exactly one Response once resolve(msgid, ...) is called,
// or be closed with no value if the reservator is aborted first. Fails
// with ErrAlreadyReserved if msgid is already pending, and with
// ErrNotRunning if the reservator has already been shut down.
func (r *reservator) reserve(msgid uint32) (<-chan *Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrNotRunning
	}
	if _, exists := r.pending[msgid]; exists {
		return nil, ErrAlreadyReserved
	}
	ch := make(chan *Response, 1)
	r.pending[msgid] = ch
	return ch, nil
}

// resolve transitions msgid's entry from Pending to Resolved, delivering
// resp to its waiter and removing the entry. Fails with ErrNotReserved
// if msgid was never reserved (or was already resolved/aborted) — this
// is spec.md's "Orphan Response" case, reported by the caller via
// onMessageError.
func (r *reservator) resolve(msgid uint32, resp *Response) error {
	r.mu.Lock()
	ch, exists := r.pending[msgid]
	if exists {
		delete(r.pending, msgid)
	}
	r.mu.Unlock()
	if !exists {
		return ErrNotReserved
	}
	ch <- resp
	return nil
}

// cancel removes msgid's pending entry without delivering a Response,
// for a caller that reserved but then failed or gave up before a
// Response arrived (e.g. Client.Call when Send itself fails, or its ctx
// expires first). A no-op if msgid was already resolved or aborted.
func (r *reservator) cancel(msgid uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, msgid)
}

// abortAll closes every still-pending entry without a Response and
// marks the reservator closed, so that subsequent reserve calls fail
// fast. This is the external-cancellation path spec.md §3 describes for
// the Reservator: shutdown propagates a failure to all pending waiters
// by closing their channel with nothing sent, which recv surfaces as
// ErrNotRunning.
func (r *reservator) abortAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for msgid, ch := range r.pending {
		close(ch)
		delete(r.pending, msgid)
	}
}
