package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/relayctl/internal/observability"
	"github.com/danmuck/relayctl/internal/protocol"
	"github.com/danmuck/relayctl/internal/protocol/frame"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Client-internal notifications delivered through the listener registry.
const (
	LocalClose  = "close"
	LocalError  = "error"
	LocalDesync = "desync"
)

const unsubscribedLabel = "unsubscribed"

var (
	ErrConnectionClosed = errors.New("dispatch: connection closed")
	ErrNilListener      = errors.New("dispatch: nil listener")
	ErrNotEventName     = errors.New("dispatch: not a protocol event name")
)

type Options struct {
	Limits frame.Limits
	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// Dispatcher correlates replies positionally and fans out pushed events
// for one connection.
type Dispatcher struct {
	w        io.Writer
	limits   frame.Limits
	log      zerolog.Logger
	decoder  *frame.Decoder
	queue    pendingQueue
	subs     *SubscriptionSet
	reg      *Registry
	closed   bool
	closeErr error
}

func New(w io.Writer, opts Options) *Dispatcher {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Limits.MaxPayloadBytes <= 0 {
		opts.Limits = frame.DefaultLimits()
	}
	return &Dispatcher{
		w:       w,
		limits:  opts.Limits,
		log:     logger,
		decoder: frame.NewDecoder(opts.Limits),
		subs:    NewSubscriptionSet(),
		reg:     NewRegistry(),
	}
}

// SendOnly writes msg without expecting a reply.
func (d *Dispatcher) SendOnly(msg any) error {
	if d.closed {
		return d.closeErr
	}
	return d.write(msg)
}

// SendAndAwaitReply queues cb for the next unclaimed reply, then writes
// msg. When an error is returned the slot is withdrawn and cb never runs.
func (d *Dispatcher) SendAndAwaitReply(msg any, cb ReplyFunc) error {
	if d.closed {
		return d.closeErr
	}
	if cb == nil {
		cb = noopReply
	}
	d.queue.push(cb)
	observability.AddPending(1)
	if err := d.write(msg); err != nil {
		d.queue.dropTail()
		observability.AddPending(-1)
		return err
	}
	return nil
}

func (d *Dispatcher) write(msg any) error {
	if req, ok := msg.(protocol.Request); ok {
		if err := req.Validate(); err != nil {
			return err
		}
	}
	b, err := frame.Encode(msg, d.limits)
	if err != nil {
		return err
	}
	n, err := d.w.Write(b)
	observability.RecordBytes(observability.DirectionOut, n)
	if err != nil {
		return fmt.Errorf("dispatch: write: %w", err)
	}
	observability.RecordFrame(observability.DirectionOut)
	d.log.Trace().Msgf("dispatch.Dispatcher sent bytes=%d pending=%d", len(b), d.queue.len())
	return nil
}

// HandleData decodes chunk and routes every completed message. A returned
// error wraps frame.ErrDesync; the owner must close the connection and
// call HandleEnd.
func (d *Dispatcher) HandleData(chunk []byte) error {
	if d.closed {
		return nil
	}
	observability.RecordBytes(observability.DirectionIn, len(chunk))
	msgs, err := d.decoder.Feed(chunk)
	for _, raw := range msgs {
		if d.closed {
			return nil
		}
		d.handleMessage(raw)
	}
	if err != nil {
		observability.RecordDesync()
		d.log.Error().Err(err).Msgf("dispatch.Dispatcher desync pending=%d", d.queue.len())
		d.reg.Dispatch(LocalDesync, protocol.StringParams(err.Error()))
		return err
	}
	return nil
}

func (d *Dispatcher) handleMessage(raw json.RawMessage) {
	observability.RecordFrame(observability.DirectionIn)
	in, err := protocol.Classify(raw)
	if err != nil {
		d.log.Warn().Err(err).Msgf("dispatch.Dispatcher drop message bytes=%d", len(raw))
		return
	}
	if in.IsEvent {
		d.dispatchEvent(in.Event)
		return
	}
	cb, ok := d.queue.pop()
	if !ok {
		observability.RecordOrphanedReply()
		d.log.Warn().Msgf("dispatch.Dispatcher orphaned reply body=%s", truncate(in.Reply.String(), 256))
		return
	}
	observability.AddPending(-1)
	cb(in.Reply, nil)
}

func (d *Dispatcher) dispatchEvent(ev protocol.Event) {
	name := ev.DispatchName()
	observability.RecordEvent(d.eventLabel(ev.Name))
	if n := d.reg.Dispatch(name, ev.Params); n == 0 {
		d.log.Trace().Msgf("dispatch.Dispatcher event=%s no listeners", name)
	}
}

// On registers a permanent listener. The first registration backed by a
// server event sends its subscribe request.
func (d *Dispatcher) On(name string, fn Listener) (ListenerID, error) {
	if fn == nil {
		return 0, ErrNilListener
	}
	if err := d.ensureFor(name); err != nil {
		return 0, err
	}
	return d.reg.Add(name, fn), nil
}

// Once registers a one-shot listener that removes itself on the first
// event accepted by match. Concurrent equivalent calls cannot be told
// apart; each one-shot sees every matching event.
func (d *Dispatcher) Once(name string, match MatchFunc, fn Listener) (ListenerID, error) {
	if fn == nil {
		return 0, ErrNilListener
	}
	if err := d.ensureFor(name); err != nil {
		return 0, err
	}
	return d.reg.AddOnce(name, match, fn), nil
}

func (d *Dispatcher) Off(name string, id ListenerID) bool {
	return d.reg.Remove(name, id)
}

// Listeners reports how many listeners are registered under name.
func (d *Dispatcher) Listeners(name string) int {
	return d.reg.Count(name)
}

// EmitLocal delivers a client-internal notification to listeners of name.
func (d *Dispatcher) EmitLocal(name string, params ...protocol.Param) int {
	return d.reg.Dispatch(name, params)
}

func (d *Dispatcher) ensureFor(name string) error {
	event, ok := subscriptionFor(name)
	if !ok {
		return nil
	}
	_, err := d.EnsureSubscribed(event)
	return err
}

// EnsureSubscribed sends the subscribe request for event once per
// connection. It reports whether a request was sent by this call.
func (d *Dispatcher) EnsureSubscribed(event string) (bool, error) {
	if !IsEventName(event) {
		return false, fmt.Errorf("%w: %q", ErrNotEventName, event)
	}
	if d.subs.Has(event) {
		return false, nil
	}
	err := d.SendAndAwaitReply(protocol.Subscribe(event), func(reply protocol.Reply, err error) {
		if err != nil {
			return
		}
		if ok, has := reply.Success(); has && !ok {
			d.log.Warn().Msgf("dispatch.Dispatcher subscribe rejected event=%s reply=%s", event, truncate(reply.String(), 256))
			return
		}
		d.log.Debug().Msgf("dispatch.Dispatcher subscribed event=%s", event)
	})
	if err != nil {
		return false, fmt.Errorf("dispatch: subscribe %s: %w", event, err)
	}
	d.subs.Add(event)
	observability.RecordSubscription()
	return true, nil
}

func (d *Dispatcher) Subscribed(event string) bool {
	return d.subs.Has(event)
}

func (d *Dispatcher) Subscriptions() []string {
	return d.subs.List()
}

// Pending reports requests still waiting for a reply.
func (d *Dispatcher) Pending() int {
	return d.queue.len()
}

func (d *Dispatcher) Closed() bool {
	return d.closed
}

// Err returns the close outcome, nil while open.
func (d *Dispatcher) Err() error {
	return d.closeErr
}

// HandleEnd resolves every pending callback with ErrConnectionClosed and
// rejects further sends. cause is nil for a clean end of stream.
func (d *Dispatcher) HandleEnd(cause error) {
	if d.closed {
		return
	}
	d.closed = true
	d.closeErr = ErrConnectionClosed
	if cause != nil {
		d.closeErr = fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
	}

	pending := d.queue.drain()
	observability.AddPending(-len(pending))
	d.log.Info().Msgf("dispatch.Dispatcher closed pending=%d cause=%v", len(pending), cause)
	for _, cb := range pending {
		cb(protocol.Reply{}, d.closeErr)
	}

	if cause != nil {
		d.reg.Dispatch(LocalError, protocol.StringParams(cause.Error()))
	}
	d.reg.Dispatch(LocalClose, nil)
}

// eventLabel keeps the events metric bounded by the names this connection
// subscribed to. The raw protocol name is used, never the command_<x>
// re-tag, whose suffix is chosen by remote users.
func (d *Dispatcher) eventLabel(raw string) string {
	if d.subs.Has(raw) {
		return raw
	}
	return unsubscribedLabel
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}
