package devtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
)

// Sentinel errors surfaced by RPC. Transport-level disposal and local
// per-call timeouts are distinguished so a Browser/Page can tell "this one
// call was slow" from "the socket is gone."
var (
	ErrTimeout   = errors.New("devtools: rpc timed out")
	ErrCancelled = errors.New("devtools: rpc cancelled")
	ErrTransport = errors.New("devtools: transport closed")
)

// DefaultResponseTimeout is used when a Connection is constructed with a
// non-positive timeout.
const DefaultResponseTimeout = 30 * time.Second

type connState int32

const (
	stateNew connState = iota
	stateConnected
	stateFaulted
	stateClosed
)

type rpcOutcome struct {
	result json.RawMessage
	err    error
}

// serializedWriter funnels every raw socket write through one mutex.
// Data frames come from the sender worker; the receive side also writes
// the occasional pong reply to a server ping, so the two must not
// interleave partial frames.
type serializedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *serializedWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.w.Write(p) //nolint:wrapcheck
}

// transport pairs the read side handed back by the WebSocket dial (any
// bytes the handshake over-read, then the socket) with the serialized
// write side, satisfying the io.ReadWriter the frame readers want.
type transport struct {
	io.Reader
	io.Writer
}

// Connection is a single logical RPC channel multiplexed over one
// WebSocket. One Connection is shared by every concurrent caller issuing
// commands against the same DevTools endpoint (a browser or a page);
// responses are correlated by integer id regardless of arrival order.
//
// Message frames are sent only by the sender worker and read only by the
// receiver worker (sendLoop, receiveLoop); the raw socket write is the
// one point the two sides can meet (pong replies), and serializedWriter
// covers it.
type Connection struct {
	url             string
	responseTimeout time.Duration
	logger          log.Logger

	initMu sync.Mutex
	state  connState
	conn   net.Conn
	writer *serializedWriter
	rw     *transport

	lastID int64 // atomic, monotonic

	pendingMu sync.Mutex
	pending   map[int64]chan rpcOutcome

	sendCh chan []byte
	done   chan struct{}

	closeOnce sync.Once
}

// NewConnection builds a Connection for url. Init must be called before
// any RPC.
func NewConnection(url string, responseTimeout time.Duration, logger log.Logger) *Connection {
	if responseTimeout <= 0 {
		responseTimeout = DefaultResponseTimeout
	}

	return &Connection{
		url:             url,
		responseTimeout: responseTimeout,
		logger:          logger,
		pending:         make(map[int64]chan rpcOutcome),
		sendCh:          make(chan []byte, 64),
		done:            make(chan struct{}),
	}
}

// ResponseTimeout returns the per-call timeout this Connection was built
// with, so a page Connection can be given the same budget as its owning
// browser Connection.
func (c *Connection) ResponseTimeout() time.Duration {
	return c.responseTimeout
}

// Init performs the WebSocket handshake and starts the sender and
// receiver workers. It is idempotent under a mutex: a second call after a
// successful first is a no-op.
func (c *Connection) Init(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.state != stateNew {
		return nil
	}

	conn, buffered, _, err := ws.Dial(ctx, c.url)
	if err != nil {
		c.state = stateFaulted

		return fmt.Errorf("devtools: dial %s: %w", c.url, err)
	}

	c.conn = conn
	c.writer = &serializedWriter{w: conn}

	var readSide io.Reader = conn
	if buffered != nil {
		readSide = buffered
	}

	c.rw = &transport{Reader: readSide, Writer: c.writer}
	c.state = stateConnected

	go c.sendLoop()
	go c.receiveLoop()

	return nil
}

func (c *Connection) nextID() int64 {
	return atomic.AddInt64(&c.lastID, 1)
}

func (c *Connection) registerPending(id int64) chan rpcOutcome {
	ch := make(chan rpcOutcome, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	return ch
}

func (c *Connection) removePending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// RPC sends method/params and blocks until a correlated response arrives,
// ResponseTimeout elapses, ctx is cancelled, or the Connection is
// disposed. The PendingCall entry is always removed before RPC returns,
// so no late response can leak a goroutine or a map entry.
func (c *Connection) RPC(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	return c.RPCWithTimeout(ctx, method, params, c.responseTimeout)
}

// RPCWithTimeout behaves like RPC but bounds the wait with the given
// timeout instead of the Connection-wide ResponseTimeout. A call whose
// response is legitimately slower than ResponseTimeout (a JS-readiness
// evaluate that holds its promise open for a caller-chosen window) goes
// through here so the connection default never cuts it short.
func (c *Connection) RPCWithTimeout(ctx context.Context, method string, params map[string]any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.responseTimeout
	}

	id := c.nextID()
	ch := c.registerPending(id)

	payload, err := json.Marshal(Message{ID: id, Method: method, Params: params})
	if err != nil {
		c.removePending(id)

		return nil, fmt.Errorf("devtools: encode %s: %w", method, err)
	}

	select {
	case c.sendCh <- payload:
	case <-c.done:
		c.removePending(id)

		return nil, fmt.Errorf("%w: %s", ErrTransport, method)
	case <-ctx.Done():
		c.removePending(id)

		return nil, fmt.Errorf("%w: %s", ErrCancelled, method)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-ch:
		c.removePending(id)

		return outcome.result, outcome.err
	case <-timer.C:
		c.removePending(id)

		return nil, fmt.Errorf("%w: %s", ErrTimeout, method)
	case <-ctx.Done():
		c.removePending(id)

		return nil, fmt.Errorf("%w: %s", ErrCancelled, method)
	case <-c.done:
		c.removePending(id)

		return nil, fmt.Errorf("%w: %s", ErrTransport, method)
	}
}

// FireAndForget enqueues method/params without registering a PendingCall.
// There is no acknowledgement and no error propagation beyond a dropped
// send when the Connection is already gone.
func (c *Connection) FireAndForget(method string, params map[string]any) {
	id := c.nextID()

	payload, err := json.Marshal(Message{ID: id, Method: method, Params: params})
	if err != nil {
		c.logger.Warn("devtools: encode fire-and-forget message failed", "method", method, "error", err)

		return
	}

	select {
	case c.sendCh <- payload:
	case <-c.done:
	}
}

func (c *Connection) sendLoop() {
	for {
		select {
		case payload := <-c.sendCh:
			if err := wsutil.WriteClientText(c.writer, payload); err != nil {
				c.fault(err)

				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) receiveLoop() {
	for {
		data, err := wsutil.ReadServerText(c.rw)
		if err != nil {
			c.fault(err)

			return
		}

		env, ok := decodeEnvelope(data)
		if !ok {
			continue // event frame or unparseable garbage; ignored
		}

		c.pendingMu.Lock()
		ch, found := c.pending[env.ID]
		if found {
			delete(c.pending, env.ID)
		}
		c.pendingMu.Unlock()

		if !found {
			continue // late or unknown response, discarded silently
		}

		outcome := rpcOutcome{result: env.Result}
		if env.Error != nil {
			outcome.err = fmt.Errorf("devtools: cdp error %d: %s", env.Error.Code, env.Error.Message)
		}

		select {
		case ch <- outcome:
		default:
		}
	}
}

func (c *Connection) fault(err error) {
	c.initMu.Lock()
	alreadyClosed := c.state == stateClosed
	if !alreadyClosed {
		c.state = stateFaulted
	}
	c.initMu.Unlock()

	if alreadyClosed {
		return
	}

	c.logger.Debug("devtools: connection faulted", "url", c.url, "error", err)
	c.Dispose()
}

// Dispose cancels the background workers, closes the socket, and fails
// every outstanding PendingCall with ErrTransport. It may be called any
// number of times from any goroutine; only the first call acts.
func (c *Connection) Dispose() {
	c.closeOnce.Do(func() {
		c.initMu.Lock()
		c.state = stateClosed
		conn := c.conn
		c.initMu.Unlock()

		close(c.done)

		if conn != nil {
			_ = conn.Close()
		}

		c.pendingMu.Lock()
		for id, ch := range c.pending {
			select {
			case ch <- rpcOutcome{err: ErrTransport}:
			default:
			}

			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
	})
}
