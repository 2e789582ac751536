package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyStarted = errors.New("transport: read loop already started")
	ErrClosed         = errors.New("transport: connection closed")
)

// Handler receives connection notifications from the read goroutine.
// OnData may be called many times; exactly one of OnEnd or OnError
// follows, after which nothing else is delivered.
type Handler interface {
	OnData(chunk []byte)
	OnEnd()
	OnError(err error)
}

// Conn owns one stream socket. It moves bytes and never interprets them.
type Conn struct {
	conn    net.Conn
	target  Target
	cfg     Config
	writeMu sync.Mutex
	closed  atomic.Bool
	started atomic.Bool
	done    chan struct{}
}

// Dial opens exactly one stream connection to target.
func Dial(ctx context.Context, target Target, cfg Config) (*Conn, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	raw, err := dialer.DialContext(ctx, target.Network, target.Address)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", target, err)
	}
	log.Debug().Msgf("transport.Conn connected target=%s", target)
	return NewConn(raw, target, cfg), nil
}

// NewConn wraps an established stream.
func NewConn(raw net.Conn, target Target, cfg Config) *Conn {
	return &Conn{
		conn:   raw,
		target: target,
		cfg:    cfg.WithDefaults(),
		done:   make(chan struct{}),
	}
}

func (c *Conn) Target() Target {
	return c.target
}

// Start begins delivering inbound bytes to h on a dedicated goroutine.
func (c *Conn) Start(h Handler) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go c.readLoop(h)
	return nil
}

// Done is closed once the read loop has delivered its terminal notification.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) readLoop(h Handler) {
	defer close(c.done)
	buf := make([]byte, c.cfg.ReadBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.OnData(chunk)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || c.closed.Load() {
			log.Debug().Msgf("transport.Conn end target=%s", c.target)
			h.OnEnd()
			return
		}
		log.Warn().Err(err).Msgf("transport.Conn read failed target=%s", c.target)
		h.OnError(err)
		return
	}
}

// Write sends p under the configured write timeout. Its return is the
// completion notification.
func (c *Conn) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			return 0, err
		}
	}
	return c.conn.Write(p)
}

// WriteNotify writes p and reports the outcome to onFlushed when set.
func (c *Conn) WriteNotify(p []byte, onFlushed func(error)) error {
	_, err := c.Write(p)
	if onFlushed != nil {
		onFlushed(err)
	}
	return err
}

// Close shuts the socket; the read loop then reports OnEnd. Safe to call
// more than once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}
