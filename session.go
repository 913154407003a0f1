package mprpc

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

// sessionState is the Idle → Running → Terminated lifecycle of spec.md
// §3. Terminated is absorbing: a Session is never restarted.
type sessionState int

const (
	stateIdle sessionState = iota
	stateRunning
	stateTerminated
)

// halfCloseReader is satisfied by stream types (e.g. *net.TCPConn,
// *net.UnixConn) that can tear down their read half independently of
// their write half. Preferred over a bare io.Closer when available, so
// that passing one duplex net.Conn as both r and w to
// NewSessionFromStream still lets graceful Shutdown unblock the
// consumer's read without taking the write side down with it.
type halfCloseReader interface {
	CloseRead() error
}

// Session is the bidirectional MessagePack-RPC engine of spec.md §4.4: it
// owns an inbound Reader, an outbound Writer, an internal outbound
// Message queue, a reservator correlating in-flight recv calls by
// msgid, and a user-settable Dispatcher for inbound Requests and
// Notifications. Start launches two concurrent pipelines — a consumer
// (bytes → decode → classify → handle) and a producer (internal queue →
// encode → bytes) — managed as a golang.org/x/sync/errgroup.Group, the
// same dependency the teacher package already carries for exactly this
// kind of paired-goroutine lifecycle.
type Session struct {
	reader         Reader
	writer         Writer
	readCloser     io.Closer       // optional; full close, used by ForceShutdown and as a fallback by Shutdown
	readHalfCloser halfCloseReader // optional; preferred by Shutdown when the read stream supports a true half-close

	errorSerializer func(error) any
	logger          Logger

	dispMu     sync.RWMutex
	dispatcher *Dispatcher

	hookMu           sync.RWMutex
	onInvalidMessage func(v any)
	onMessageError   func(err error, msg Message)

	mu        sync.Mutex
	state     sessionState
	accepting bool

	reservator *reservator
	outbound   chan Message

	sendWG        sync.WaitGroup // in-flight Session.Send calls
	requestWG     sync.WaitGroup // detached per-Request/Notification dispatch tasks
	abortSendOnce sync.Once
	abortSendCh   chan struct{}

	consumerCancel context.CancelFunc
	producerCancel context.CancelFunc

	group *errgroup.Group

	errMu       sync.Mutex
	consumerErr error
	producerErr error
}

// SessionOption configures a Session at construction time (spec.md §6's
// "Optional configuration").
type SessionOption func(*Session)

// WithErrorSerializer overrides the default errorSerializer, which
// converts a handler error into a *WireError rather than passing it
// through unchanged (spec.md §6).
func WithErrorSerializer(fn func(error) any) SessionOption {
	return func(s *Session) { s.errorSerializer = fn }
}

// WithLogger overrides the default no-op Logger.
func WithLogger(l Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithDispatcher sets the initial Dispatcher. Equivalent to calling
// SetDispatcher after construction.
func WithDispatcher(d *Dispatcher) SessionOption {
	return func(s *Session) { s.dispatcher = d }
}

// WithOnInvalidMessage sets the onInvalidMessage hook (spec.md §4.4
// Hooks).
func WithOnInvalidMessage(fn func(v any)) SessionOption {
	return func(s *Session) { s.onInvalidMessage = fn }
}

// WithOnMessageError sets the onMessageError hook (spec.md §4.4 Hooks).
func WithOnMessageError(fn func(err error, msg Message)) SessionOption {
	return func(s *Session) { s.onMessageError = fn }
}

// NewSession builds a Session around an already-constructed Reader/
// Writer pair. Use NewSessionFromStream when you only have raw byte
// streams and want NewStreamCodec wired in automatically.
func NewSession(r Reader, w Writer, opts ...SessionOption) *Session {
	s := &Session{
		reader:          r,
		writer:          w,
		errorSerializer: defaultErrorSerializer,
		logger:          noopLogger{},
		dispatcher:      NewDispatcher(),
		reservator:      newReservator(),
		outbound:        make(chan Message),
		abortSendCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSessionFromStream is a convenience constructor wiring
// NewStreamCodec's Reader/Writer pair onto separate read and write
// streams (e.g. a process's stdin/stdout, or two halves of a duplex
// connection passed twice). Session.Shutdown and Session.ForceShutdown
// need to unblock a consumer read that is blocked inside the codec
// decoder without disturbing the write side still flushing Responses
// during a graceful Shutdown, the way the teacher's Conn relies on its
// Stream's Close to do the same. That requires r and w to genuinely be
// independent streams (e.g. two io.Pipe() pairs, or a process's separate
// stdin/stdout) — or, if the same net.Conn is passed for both, one whose
// concrete type implements halfCloseReader (*net.TCPConn, *net.UnixConn
// both do). Passed a plain net.Conn-typed value with no CloseRead (as
// net.Pipe() returns), Shutdown falls back to a full Close of r, which
// also tears down w and can cut off in-flight Responses before the
// writer drains them; callers needing the graceful guarantee over such a
// conn should split it into independent read/write streams instead.
func NewSessionFromStream(r io.Reader, w io.Writer, opts ...SessionOption) *Session {
	reader, writer := NewStreamCodec(r, w)
	s := NewSession(reader, writer, opts...)
	if hc, ok := r.(halfCloseReader); ok {
		s.readHalfCloser = hc
	}
	if c, ok := r.(io.Closer); ok {
		s.readCloser = c
	}
	return s
}

// SetDispatcher replaces the Dispatcher the Session consults on every
// inbound Request/Notification. Safe to call at any time, including
// while Running — spec.md §3: "the running Session observes the current
// value at the moment of each dispatch".
func (s *Session) SetDispatcher(d *Dispatcher) {
	s.dispMu.Lock()
	defer s.dispMu.Unlock()
	s.dispatcher = d
}

func (s *Session) getDispatcher() *Dispatcher {
	s.dispMu.RLock()
	defer s.dispMu.RUnlock()
	return s.dispatcher
}

// SetOnInvalidMessage replaces the onInvalidMessage hook.
func (s *Session) SetOnInvalidMessage(fn func(v any)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onInvalidMessage = fn
}

// SetOnMessageError replaces the onMessageError hook.
func (s *Session) SetOnMessageError(fn func(err error, msg Message)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onMessageError = fn
}

func (s *Session) fireInvalidMessage(v any) {
	s.hookMu.RLock()
	fn := s.onInvalidMessage
	s.hookMu.RUnlock()
	if fn == nil {
		return
	}
	defer s.recoverHook("onInvalidMessage")
	fn(v)
}

func (s *Session) fireMessageError(err error, msg Message) {
	s.hookMu.RLock()
	fn := s.onMessageError
	s.hookMu.RUnlock()
	if fn == nil {
		return
	}
	defer s.recoverHook("onMessageError")
	fn(err, msg)
}

// recoverHook implements spec.md §8's "Hook isolation" law: a panicking
// hook must never terminate the Session.
func (s *Session) recoverHook(name string) {
	if r := recover(); r != nil {
		s.logger.Printf("recovered panic in %s hook: %v", name, r)
	}
}

// Start transitions Idle → Running, launching the consumer and producer
// pipelines. Fails with ErrAlreadyRunning if the Session was already
// started.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != stateIdle {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = stateRunning
	s.accepting = true

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	producerCtx, producerCancel := context.WithCancel(context.Background())
	s.consumerCancel = consumerCancel
	s.producerCancel = producerCancel
	s.mu.Unlock()

	var group errgroup.Group
	group.Go(func() error {
		err := s.runConsumer(consumerCtx)
		s.errMu.Lock()
		s.consumerErr = err
		s.errMu.Unlock()
		return err
	})
	group.Go(func() error {
		err := s.runProducer(producerCtx)
		s.errMu.Lock()
		s.producerErr = err
		s.errMu.Unlock()
		return err
	})
	s.group = &group
	return nil
}

// Send enqueues m onto the internal outbound queue. It does not block on
// wire transmission, only on handing m to the producer pipeline. Fails
// with ErrNotRunning if the Session is not Running or is in the process
// of shutting down.
func (s *Session) Send(ctx context.Context, m Message) error {
	s.mu.Lock()
	if s.state != stateRunning || !s.accepting {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	return s.enqueue(ctx, m)
}

// sendReply enqueues a Request's Response from within handleRequest. It
// skips the accepting-gate Send enforces on external callers: by the
// time Shutdown flips accepting to false, any handleRequest goroutine
// already in flight is tracked by requestWG, and runConsumer waits for
// requestWG to drain before it closes the outbound queue — so this
// reply is guaranteed a still-open queue to enqueue into.
func (s *Session) sendReply(ctx context.Context, m Message) error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	return s.enqueue(ctx, m)
}

func (s *Session) enqueue(ctx context.Context, m Message) error {
	select {
	case s.outbound <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.abortSendCh:
		return ErrNotRunning
	}
}

// Recv reserves msgid in the reservator and blocks until the matching
// Response arrives, ctx is done, or the Session tears down. Fails with
// ErrAlreadyReserved if msgid is already reserved by another Recv call.
func (s *Session) Recv(ctx context.Context, msgid uint32) (*Response, error) {
	s.mu.Lock()
	running := s.state == stateRunning
	s.mu.Unlock()
	if !running {
		return nil, ErrNotRunning
	}
	ch, err := s.reservator.reserve(msgid)
	if err != nil {
		return nil, err
	}
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotRunning
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait blocks until both pipelines have terminated and returns their
// aggregated, sentinel-filtered error (spec.md §4.4).
func (s *Session) Wait() error {
	if s.group == nil {
		return ErrNotRunning
	}
	// group.Wait() itself only surfaces the first goroutine's error; both
	// consumer and producer return theirs into the group (so Go's own
	// error aggregation is actually exercised rather than short-circuited
	// to nil), but the pair needed for multierror aggregation below comes
	// from the errMu-protected fields each goroutine also records.
	_ = s.group.Wait()

	s.mu.Lock()
	s.state = stateTerminated
	s.mu.Unlock()

	s.errMu.Lock()
	defer s.errMu.Unlock()
	return joinPipelineErrors(s.consumerErr, s.producerErr)
}

// Shutdown performs the graceful shutdown of spec.md §4.4: the consumer
// stops accepting new inbound messages, then Shutdown waits for every
// in-flight dispatch to finish enqueuing its Response and for the
// producer to drain the outbound queue and flush the writer, before
// returning. Every Response enqueued before Shutdown returns is
// guaranteed to have reached the writer (modulo writer errors). If ctx
// is done before that drain completes, Shutdown cancels the producer and
// any Responses not yet written are dropped. Pending Recv/Call waiters
// are failed with ErrNotRunning, since the consumer no longer reads the
// Responses that would resolve them.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.accepting = false
	consumerCancel := s.consumerCancel
	producerCancel := s.producerCancel
	s.mu.Unlock()

	consumerCancel()
	switch {
	case s.readHalfCloser != nil:
		_ = s.readHalfCloser.CloseRead()
	case s.readCloser != nil:
		_ = s.readCloser.Close()
	}
	s.reservator.abortAll()

	// The consumer itself waits for requestWG and sendWG to drain before
	// closing the outbound queue, which is what lets the producer exit
	// naturally once everything in flight has been written. We only
	// need to step in if the caller's ctx gives up on waiting for that.
	done := make(chan error, 1)
	go func() { done <- s.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.abortSendOnce.Do(func() { close(s.abortSendCh) })
		producerCancel()
		return <-done
	}
}

// ForceShutdown cancels both pipelines immediately. In-flight outbound
// messages, and in-flight dispatches that have not yet enqueued their
// Response, may be lost.
func (s *Session) ForceShutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.accepting = false
	consumerCancel := s.consumerCancel
	producerCancel := s.producerCancel
	s.mu.Unlock()

	s.abortSendOnce.Do(func() { close(s.abortSendCh) })
	consumerCancel()
	producerCancel()
	if s.readCloser != nil {
		_ = s.readCloser.Close()
	}
	s.reservator.abortAll()

	return s.Wait()
}

// runConsumer is the consumer pipeline of spec.md §4.4: decode, classify,
// and dispatch inbound messages until the reader closes, decode errors,
// or consumerCtx is cancelled.
func (s *Session) runConsumer(ctx context.Context) error {
	var readErr error
readLoop:
	for {
		select {
		case <-ctx.Done():
			readErr = errShutdownSentinel
			break readLoop
		default:
		}

		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			var invalid *InvalidMessageError
			if errors.As(err, &invalid) {
				s.fireInvalidMessage(invalid.Value)
				continue
			}
			if ctx.Err() != nil {
				readErr = errShutdownSentinel
			} else {
				readErr = err
			}
			break readLoop
		}

		switch m := msg.(type) {
		case *Request:
			s.requestWG.Add(1)
			go s.handleRequest(ctx, m)
		case *Notification:
			s.requestWG.Add(1)
			go s.handleNotification(ctx, m)
		case *Response:
			if err := s.reservator.resolve(m.Msgid, m); err != nil {
				s.fireMessageError(err, m)
			}
		}
	}

	// The read side is gone now, whether from EOF, a decode error, or ctx
	// cancellation — stop the Send gate from letting any new message
	// through before outbound is closed below. Shutdown/ForceShutdown
	// already flip this themselves, but a bare peer disconnect reaches
	// this point without either having run.
	s.mu.Lock()
	s.accepting = false
	s.mu.Unlock()

	// Graceful teardown waits for every in-flight handler to enqueue its
	// Response before closing outbound, so the producer can drain it
	// completely. A forced teardown must not wait on handlers it has no
	// way to interrupt (e.g. one blocked on its own application logic,
	// not on ctx) — abortSendCh closing is the signal to abandon that
	// wait instead of blocking Shutdown/ForceShutdown forever.
	drained := make(chan struct{})
	go func() {
		s.requestWG.Wait()
		s.sendWG.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		close(s.outbound)
	case <-s.abortSendCh:
	}
	return readErr
}

// handleRequest dispatches a Request and enqueues its Response. A
// dispatch failure is passed through errorSerializer and sent back as an
// error Response; a failure to enqueue the Response is reported via
// onMessageError. Neither terminates the Session (spec.md §7).
func (s *Session) handleRequest(ctx context.Context, req *Request) {
	defer s.requestWG.Done()

	result, err := s.getDispatcher().dispatch(ctx, req.Method, req.Params)
	var resp *Response
	if err != nil {
		resp = NewErrorResponse(req.Msgid, s.errorSerializer(err))
	} else {
		resp = NewResponse(req.Msgid, result)
	}

	if sendErr := s.sendReply(context.Background(), resp); sendErr != nil {
		s.fireMessageError(sendErr, req)
	}
}

// handleNotification dispatches a Notification and discards its result;
// no reply is ever sent. Handler failures are reported via
// onMessageError.
func (s *Session) handleNotification(ctx context.Context, notif *Notification) {
	defer s.requestWG.Done()

	if _, err := s.getDispatcher().dispatch(ctx, notif.Method, notif.Params); err != nil {
		s.fireMessageError(err, notif)
	}
}

// runProducer is the producer pipeline of spec.md §4.4: drain the
// internal queue, encode, write, until the queue closes (graceful) or
// producerCtx is cancelled (forced).
func (s *Session) runProducer(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return errShutdownSentinel
		case msg, ok := <-s.outbound:
			if !ok {
				return nil
			}
			if err := s.writer.WriteMessage(ctx, msg); err != nil {
				return err
			}
		}
	}
}
