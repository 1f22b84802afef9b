// Package transport provides the point-to-point synchronous request/reply
// channel connecting two adjacent tiers of the pipeline.
//
// A Pipe returns a connected Conn/Listener pair. The Conn side performs
// blocking round trips and serializes its callers, so at most one request is
// in flight per connection; the Listener side is a single-threaded receive
// loop that processes one request to completion before accepting the next.
// This reproduces the strict one-at-a-time scheduling of each tier.
//
// Connections are long-lived: acquired once at startup, reused for the
// component's lifetime, and released on shutdown. There are no timeouts and
// no retries; a canceled context or a closed peer surfaces as
// ledger.ErrConnectionFailure to the caller.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger"
)

// HandlerFunc processes one request frame and produces the reply frame.
type HandlerFunc func(ctx context.Context, request []byte) []byte

type call struct {
	request []byte
	reply   chan []byte
}

// Conn is the requesting end of a pipe. Safe for concurrent use; concurrent
// round trips are serialized.
type Conn struct {
	mu   sync.Mutex
	pipe *pipe
}

// Listener is the serving end of a pipe.
type Listener struct {
	pipe *pipe
}

type pipe struct {
	calls     chan call
	closed    chan struct{}
	closeOnce sync.Once
}

func (p *pipe) close() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
}

// Pipe creates a connected Conn/Listener pair.
func Pipe() (*Conn, *Listener) {
	p := &pipe{
		calls:  make(chan call),
		closed: make(chan struct{}),
	}

	return &Conn{pipe: p}, &Listener{pipe: p}
}

// Listen creates a listener with no connection yet; peers connect with Dial.
func Listen() *Listener {
	return &Listener{pipe: &pipe{
		calls:  make(chan call),
		closed: make(chan struct{}),
	}}
}

// Dial returns an additional connection to this listener. All connections
// feed the same single-threaded serve loop, which interleaves their requests
// one at a time. Closing any connection closes the whole pipe.
func (l *Listener) Dial() *Conn {
	return &Conn{pipe: l.pipe}
}

// RoundTrip sends one request frame and blocks until the single reply frame
// arrives. There is no timeout of its own; cancellation comes from the
// context and surfaces as ledger.ErrConnectionFailure, never as a retry.
func (c *Conn) RoundTrip(ctx context.Context, request []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := call{request: request, reply: make(chan []byte, 1)}

	select {
	case c.pipe.calls <- pending:
	case <-c.pipe.closed:
		return nil, ledger.ErrConnectionFailure
	case <-ctx.Done():
		return nil, errors.Join(ledger.ErrConnectionFailure, ctx.Err())
	}

	select {
	case reply := <-pending.reply:
		return reply, nil
	case <-c.pipe.closed:
		// the peer may have replied just before closing
		select {
		case reply := <-pending.reply:
			return reply, nil
		default:
		}

		return nil, ledger.ErrConnectionFailure
	case <-ctx.Done():
		return nil, errors.Join(ledger.ErrConnectionFailure, ctx.Err())
	}
}

// Close releases the connection; in-flight and subsequent round trips fail
// with ledger.ErrConnectionFailure.
func (c *Conn) Close() {
	c.pipe.close()
}

// Serve runs the single-threaded receive loop: accept one request, process
// it to completion, reply, repeat. It returns when the context is canceled
// or the pipe is closed, closing the pipe on the way out so the peer never
// blocks on a dead listener.
func (l *Listener) Serve(ctx context.Context, handler HandlerFunc) error {
	defer l.pipe.close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.pipe.closed:
			return nil
		case pending := <-l.pipe.calls:
			pending.reply <- handler(ctx, pending.request)
		}
	}
}

// Close stops the listener; a running Serve loop returns.
func (l *Listener) Close() {
	l.pipe.close()
}
