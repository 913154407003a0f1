package mprpc

import (
	"context"
	"fmt"
)

// Client is a thin Request/Notification issuer built on a Session
// (spec.md §2/§4.5). A Client borrows a Session — it never owns its
// lifecycle — and allocates msgids via an Indexer. By default each Client
// gets its own fresh Indexer; WithIndexer shares one Indexer across the
// Clients built on the same Session so their msgid spaces do not collide.
type Client struct {
	session           *Session
	indexer           *Indexer
	errorDeserializer func(any) error
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithIndexer shares an existing Indexer across multiple Clients that
// issue calls on the same Session, so their msgid spaces do not
// collide (spec.md §3).
func WithIndexer(ix *Indexer) ClientOption {
	return func(c *Client) { c.indexer = ix }
}

// WithErrorDeserializer overrides the default errorDeserializer, which
// converts the Response's error payload into a *WireError rather than
// returning it unchanged (spec.md §4.5).
func WithErrorDeserializer(fn func(any) error) ClientOption {
	return func(c *Client) { c.errorDeserializer = fn }
}

// NewClient builds a Client issuing requests over session.
func NewClient(session *Session, opts ...ClientOption) *Client {
	c := &Client{
		session:           session,
		indexer:           NewIndexer(),
		errorDeserializer: defaultErrorDeserializer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call allocates a msgid, issues a Request for method with params, and
// awaits its Response. The msgid is reserved in the Session's reservator
// before the Request is sent, so a peer fast enough to answer before
// Send's own enqueue returns can never race ahead of the reservation and
// be dropped as an orphan Response (spec.md §4.5). If the Response
// carries a non-nil Error, Call fails with errorDeserializer(error);
// otherwise it returns Result.
func (c *Client) Call(ctx context.Context, method string, params ...any) (any, error) {
	msgid := c.indexer.Next()
	req := NewRequest(msgid, method, params)

	ch, err := c.session.reservator.reserve(msgid)
	if err != nil {
		return nil, err
	}

	if err := c.session.Send(ctx, req); err != nil {
		c.session.reservator.cancel(msgid)
		return nil, fmt.Errorf("mprpc: call %s(%v): %w", method, params, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotRunning
		}
		if resp.Error != nil {
			return nil, c.errorDeserializer(resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.session.reservator.cancel(msgid)
		return nil, ctx.Err()
	}
}

// Notify builds and sends a Notification for method with params. No
// Response is awaited or possible.
func (c *Client) Notify(ctx context.Context, method string, params ...any) error {
	notif := NewNotification(method, params)
	return c.session.Send(ctx, notif)
}
