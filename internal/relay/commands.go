package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/danmuck/relayctl/internal/protocol"
)

// Events that carry the results of names/whois lookups.
const (
	EventNames = "NAMES"
	EventWhois = "WHOIS"
)

// MessageTarget addresses a channel or nick on one relayed network.
type MessageTarget struct {
	Network string
	Target  string
}

type JoinOptions struct {
	Network string
	Channel string
	Key     string
}

type PartOptions struct {
	Network string
	Channel string
	Reason  string
}

// PropertyOptions names a relay property. Scope narrows it to a network,
// channel or nick, outermost first.
type PropertyOptions struct {
	Name  string
	Value any
	Scope []string
}

func (o PropertyOptions) scope() []any {
	if len(o.Scope) == 0 {
		return nil
	}
	out := make([]any, len(o.Scope))
	for i, s := range o.Scope {
		out[i] = s
	}
	return out
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s required", protocol.ErrInvalidRequest, field)
	}
	return nil
}

// Say sends text to a channel or nick and waits for the relay's ack.
func (c *Client) Say(ctx context.Context, to MessageTarget, text string) error {
	if err := required("network", to.Network); err != nil {
		return err
	}
	if err := required("target", to.Target); err != nil {
		return err
	}
	return c.expectSuccess(ctx, protocol.Do("say", to.Network, to.Target, text))
}

func (c *Client) Join(ctx context.Context, opts JoinOptions) error {
	if err := required("network", opts.Network); err != nil {
		return err
	}
	if err := required("channel", opts.Channel); err != nil {
		return err
	}
	params := []any{opts.Network, opts.Channel}
	if opts.Key != "" {
		params = append(params, opts.Key)
	}
	return c.expectSuccess(ctx, protocol.Do("join", params...))
}

func (c *Client) Part(ctx context.Context, opts PartOptions) error {
	if err := required("network", opts.Network); err != nil {
		return err
	}
	if err := required("channel", opts.Channel); err != nil {
		return err
	}
	params := []any{opts.Network, opts.Channel}
	if opts.Reason != "" {
		params = append(params, opts.Reason)
	}
	return c.expectSuccess(ctx, protocol.Do("part", params...))
}

func (c *Client) SetProperty(ctx context.Context, opts PropertyOptions) error {
	if err := required("property", opts.Name); err != nil {
		return err
	}
	req := protocol.Do("set", opts.Name, opts.Value).WithScope(opts.scope()...)
	return c.expectSuccess(ctx, req)
}

// GetProperty returns the relay's reply to a property query verbatim.
func (c *Client) GetProperty(ctx context.Context, opts PropertyOptions) (protocol.Reply, error) {
	if err := required("property", opts.Name); err != nil {
		return protocol.Reply{}, err
	}
	return c.Call(ctx, protocol.Get(opts.Name).WithScope(opts.scope()...))
}

// Names lists the members of channel. Concurrent identical lookups cannot
// be told apart and may see each other's result.
func (c *Client) Names(ctx context.Context, network, channel string) ([]protocol.Param, error) {
	if err := required("network", network); err != nil {
		return nil, err
	}
	if err := required("channel", channel); err != nil {
		return nil, err
	}
	return c.correlate(ctx, EventNames, protocol.Do("names", network, channel), network, channel)
}

// Whois looks up nick; see Names for the correlation caveat.
func (c *Client) Whois(ctx context.Context, network, nick string) ([]protocol.Param, error) {
	if err := required("network", network); err != nil {
		return nil, err
	}
	if err := required("nick", nick); err != nil {
		return nil, err
	}
	return c.correlate(ctx, EventWhois, protocol.Do("whois", network, nick), network, nick)
}

func (c *Client) expectSuccess(ctx context.Context, req protocol.Request) error {
	reply, err := c.Call(ctx, req)
	if err != nil {
		return err
	}
	return rejection(req, reply)
}

func rejection(req protocol.Request, reply protocol.Reply) error {
	if ok, has := reply.Success(); has && !ok {
		return fmt.Errorf("%w: %s reply=%s", ErrRejected, req.Verb(), reply.String())
	}
	return nil
}

// matchKeys accepts events whose leading params equal keys, ignoring case
// as IRC does for network, channel and nick names.
func matchKeys(keys ...string) func([]protocol.Param) bool {
	return func(params []protocol.Param) bool {
		if len(params) < len(keys) {
			return false
		}
		for i, key := range keys {
			if !params[i].IsString() || !strings.EqualFold(params[i].String(), key) {
				return false
			}
		}
		return true
	}
}

// correlate installs a one-shot listener on event before sending req so a
// fast result cannot slip past it, then waits for the matching event. The
// returned params follow the matched keys.
func (c *Client) correlate(ctx context.Context, event string, req protocol.Request, keys ...string) ([]protocol.Param, error) {
	type result struct {
		params []protocol.Param
		err    error
	}
	results := make(chan result, 2)
	reg, err := c.Once(event, matchKeys(keys...), func(params ...protocol.Param) {
		rest := make([]protocol.Param, len(params)-len(keys))
		copy(rest, params[len(keys):])
		results <- result{params: rest}
	})
	if err != nil {
		return nil, err
	}
	err = c.Send(req, func(reply protocol.Reply, err error) {
		if err == nil {
			err = rejection(req, reply)
		}
		if err != nil {
			results <- result{err: err}
		}
	})
	if err != nil {
		reg.Off()
		return nil, err
	}
	select {
	case res := <-results:
		if res.err != nil {
			reg.Off()
		}
		return res.params, res.err
	case <-ctx.Done():
		reg.Off()
		return nil, ctx.Err()
	case <-c.Done():
		return nil, c.closedErr()
	}
}
