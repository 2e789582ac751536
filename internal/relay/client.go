package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/relayctl/internal/dispatch"
	"github.com/danmuck/relayctl/internal/protocol"
	"github.com/danmuck/relayctl/internal/protocol/frame"
	"github.com/danmuck/relayctl/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrTargetRequired = errors.New("relay: target required")
	ErrRejected       = errors.New("relay: request rejected")
)

type Config struct {
	Target    transport.Target
	Transport transport.Config
	Limits    frame.Limits
	Logger    *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Transport: transport.DefaultConfig(),
		Limits:    frame.DefaultLimits(),
	}
}

// Client is one connection plus its dispatch core.
type Client struct {
	conn   *transport.Conn
	d      *dispatch.Dispatcher
	box    *mailbox
	limits frame.Limits
	log    zerolog.Logger
	done   chan struct{}

	errMu sync.Mutex
	err   error
}

// Dial connects to cfg.Target and starts the client loop.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Target.Address) == "" {
		return nil, ErrTargetRequired
	}
	conn, err := transport.Dial(ctx, cfg.Target, cfg.Transport)
	if err != nil {
		return nil, err
	}
	return New(conn, cfg)
}

// New takes ownership of an unstarted transport connection.
func New(conn *transport.Conn, cfg Config) (*Client, error) {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().Str("target", conn.Target().String()).Logger()
	if cfg.Limits.MaxPayloadBytes <= 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	c := &Client{
		conn:   conn,
		box:    newMailbox(),
		limits: cfg.Limits,
		log:    logger,
		done:   make(chan struct{}),
	}
	c.d = dispatch.New(conn, dispatch.Options{Limits: cfg.Limits, Logger: &c.log})
	go c.run()
	if err := conn.Start(inbound{c}); err != nil {
		_ = c.post(func() { c.shutdown(err) })
		return nil, err
	}
	return c, nil
}

func (c *Client) run() {
	defer close(c.done)
	for range c.box.signal {
		for _, op := range c.box.take() {
			op()
		}
		if c.d.Closed() {
			for _, op := range c.box.close() {
				op()
			}
			c.log.Debug().Msg("relay.Client loop stopped")
			return
		}
	}
}

func (c *Client) post(op func()) error {
	if !c.box.post(op) {
		return c.closedErr()
	}
	return nil
}

// shutdown closes the socket and resolves everything pending with cause.
// Loop goroutine only.
func (c *Client) shutdown(cause error) {
	_ = c.conn.Close()
	c.d.HandleEnd(cause)
	c.errMu.Lock()
	c.err = c.d.Err()
	c.errMu.Unlock()
}

func (c *Client) closedErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return dispatch.ErrConnectionClosed
}

// Err reports why the connection ended; nil while it is open.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Done is closed after the connection ended and every pending callback ran.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close shuts the connection without waiting; pending callbacks receive
// ErrConnectionClosed. Wait on Done for completion.
func (c *Client) Close() error {
	return c.conn.Close()
}

// prepare validates and marshals msg on the caller's goroutine so only
// write failures remain for the loop.
func (c *Client) prepare(msg any) (json.RawMessage, error) {
	if req, ok := msg.(protocol.Request); ok {
		if err := req.Validate(); err != nil {
			return nil, err
		}
	}
	raw, err := frame.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(raw) > c.limits.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", frame.ErrFrameTooLarge, len(raw))
	}
	return raw, nil
}

// SendOnly writes msg without expecting a reply. A write failure closes
// the connection.
func (c *Client) SendOnly(msg any) error {
	raw, err := c.prepare(msg)
	if err != nil {
		return err
	}
	return c.post(func() {
		if err := c.d.SendOnly(raw); err != nil && !c.d.Closed() {
			c.log.Error().Err(err).Msg("relay.Client send failed")
			c.shutdown(err)
		}
	})
}

// Send writes msg and delivers the positional reply to cb on the loop
// goroutine. When Send returns nil, cb runs exactly once.
func (c *Client) Send(msg any, cb dispatch.ReplyFunc) error {
	raw, err := c.prepare(msg)
	if err != nil {
		return err
	}
	if cb == nil {
		cb = func(protocol.Reply, error) {}
	}
	return c.post(func() {
		err := c.d.SendAndAwaitReply(raw, cb)
		if err == nil {
			return
		}
		if !c.d.Closed() {
			c.log.Error().Err(err).Msg("relay.Client send failed")
			c.shutdown(err)
		}
		cb(protocol.Reply{}, c.closedErr())
	})
}

type callResult struct {
	reply protocol.Reply
	err   error
}

// Call sends msg and blocks for its reply. Do not call it from a listener
// or reply callback; use Send there. Cancelling ctx abandons the wait but
// not the queue slot, which is consumed by the eventual reply.
func (c *Client) Call(ctx context.Context, msg any) (protocol.Reply, error) {
	ch := make(chan callResult, 1)
	if err := c.Send(msg, func(reply protocol.Reply, err error) {
		ch <- callResult{reply: reply, err: err}
	}); err != nil {
		return protocol.Reply{}, err
	}
	select {
	case res := <-ch:
		return res.reply, res.err
	case <-ctx.Done():
		return protocol.Reply{}, ctx.Err()
	}
}

// Registration is a handle for one listener.
type Registration struct {
	c    *Client
	name string
	id   dispatch.ListenerID
}

// Off removes the listener. Safe to call from any goroutine, more than once.
func (r *Registration) Off() {
	_ = r.c.post(func() {
		if r.id != 0 {
			r.c.d.Off(r.name, r.id)
			r.id = 0
		}
	})
}

// On registers a permanent listener; the first one for a server event
// subscribes to it. Registration completes on the loop goroutine, so a nil
// error only means the request was queued. If the subscribe write fails the
// connection is closed and the failure surfaces through Done and Err.
func (c *Client) On(name string, fn dispatch.Listener) (*Registration, error) {
	return c.register(name, fn, func() (dispatch.ListenerID, error) {
		return c.d.On(name, fn)
	})
}

// Once registers a listener removed after its first event accepted by
// match. Failures surface as for On.
func (c *Client) Once(name string, match dispatch.MatchFunc, fn dispatch.Listener) (*Registration, error) {
	return c.register(name, fn, func() (dispatch.ListenerID, error) {
		return c.d.Once(name, match, fn)
	})
}

func (c *Client) register(name string, fn dispatch.Listener, add func() (dispatch.ListenerID, error)) (*Registration, error) {
	if fn == nil {
		return nil, dispatch.ErrNilListener
	}
	reg := &Registration{c: c, name: name}
	err := c.post(func() {
		id, err := add()
		if err != nil {
			if !c.d.Closed() {
				c.log.Error().Err(err).Msgf("relay.Client register name=%s failed", name)
				c.shutdown(err)
			}
			return
		}
		reg.id = id
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// Stats is a point-in-time view of the dispatch core.
type Stats struct {
	Pending       int
	Subscriptions []string
}

// Stats queries the loop; do not call it from a listener.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	ch := make(chan Stats, 1)
	if err := c.post(func() {
		ch <- Stats{Pending: c.d.Pending(), Subscriptions: c.d.Subscriptions()}
	}); err != nil {
		return Stats{}, err
	}
	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Flush returns once every operation posted before it has run, so prior
// SendOnly writes have reached the socket.
func (c *Client) Flush(ctx context.Context) error {
	_, err := c.Stats(ctx)
	return err
}

// inbound adapts transport notifications onto the client loop.
type inbound struct {
	c *Client
}

func (in inbound) OnData(chunk []byte) {
	c := in.c
	_ = c.post(func() {
		if err := c.d.HandleData(chunk); err != nil {
			c.shutdown(err)
		}
	})
}

func (in inbound) OnEnd() {
	c := in.c
	_ = c.post(func() {
		c.shutdown(nil)
	})
}

func (in inbound) OnError(err error) {
	c := in.c
	_ = c.post(func() {
		c.shutdown(err)
	})
}
