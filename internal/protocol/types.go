package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// EventCommand is the generic bot-command channel re-tagged per command.
	EventCommand = "COMMAND"
	// CommandEventPrefix prefixes synthetic per-command event names.
	CommandEventPrefix = "command_"

	VerbSubscribe = "subscribe"
)

// Request is one outbound call. Exactly one of Do or Get is set.
type Request struct {
	Do     string `json:"do,omitempty"`
	Get    string `json:"get,omitempty"`
	Params []any  `json:"params"`
	Scope  []any  `json:"scope,omitempty"`
}

// Do builds an action request.
func Do(verb string, params ...any) Request {
	return Request{Do: verb, Params: params}
}

// Get builds a query request.
func Get(verb string, params ...any) Request {
	return Request{Get: verb, Params: params}
}

func (r Request) WithScope(scope ...any) Request {
	r.Scope = scope
	return r
}

func (r Request) Verb() string {
	if r.Do != "" {
		return r.Do
	}
	return r.Get
}

func (r Request) Validate() error {
	do := strings.TrimSpace(r.Do)
	get := strings.TrimSpace(r.Get)
	if do == "" && get == "" {
		return fmt.Errorf("%w: missing do/get verb", ErrInvalidRequest)
	}
	if do != "" && get != "" {
		return fmt.Errorf("%w: both do=%q and get=%q set", ErrInvalidRequest, r.Do, r.Get)
	}
	return nil
}

func (r Request) MarshalJSON() ([]byte, error) {
	type wire Request
	w := wire(r)
	if w.Params == nil {
		w.Params = []any{}
	}
	return json.Marshal(w)
}

// Subscribe builds the control request that starts pushes for event.
func Subscribe(event string) Request {
	return Do(VerbSubscribe, event)
}

// Param is one positional JSON value of an event.
type Param json.RawMessage

func (p Param) Raw() json.RawMessage {
	return json.RawMessage(p)
}

// IsString reports whether the param is a JSON string.
func (p Param) IsString() bool {
	b := bytes.TrimSpace(p)
	return len(b) > 0 && b[0] == '"'
}

// String returns the unquoted value of a JSON string param and the raw
// JSON text for anything else.
func (p Param) String() string {
	if p.IsString() {
		var s string
		if err := json.Unmarshal(p, &s); err == nil {
			return s
		}
	}
	return string(bytes.TrimSpace(p))
}

func (p Param) Decode(v any) error {
	return json.Unmarshal(p, v)
}

func (p Param) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

func (p *Param) UnmarshalJSON(data []byte) error {
	*p = append((*p)[:0], data...)
	return nil
}

// StringParams builds string params, mostly for tests and local events.
func StringParams(values ...string) []Param {
	out := make([]Param, 0, len(values))
	for _, v := range values {
		b, _ := json.Marshal(v)
		out = append(out, Param(b))
	}
	return out
}

// Event is a server-pushed message.
type Event struct {
	Name   string  `json:"event"`
	Params []Param `json:"params"`
}

// StringAt returns params[i] when it is a JSON string.
func (e Event) StringAt(i int) (string, bool) {
	if i < 0 || i >= len(e.Params) || !e.Params[i].IsString() {
		return "", false
	}
	return e.Params[i].String(), true
}

// DispatchName resolves the registry name an event is delivered under.
// COMMAND events carry the command name as the fourth param and are
// re-tagged command_<name>.
func (e Event) DispatchName() string {
	if e.Name != EventCommand {
		return e.Name
	}
	cmd, ok := e.StringAt(3)
	if !ok || cmd == "" {
		return e.Name
	}
	return CommandEventPrefix + cmd
}

// Reply is any non-event inbound message, shaped by the request verb.
type Reply struct {
	raw json.RawMessage
}

func NewReply(raw json.RawMessage) Reply {
	return Reply{raw: raw}
}

func (r Reply) Raw() json.RawMessage {
	return r.raw
}

func (r Reply) Decode(v any) error {
	if len(r.raw) == 0 {
		return fmt.Errorf("protocol: empty reply")
	}
	return json.Unmarshal(r.raw, v)
}

// Success reads the conventional "success" field. ok is false when the
// reply carries no boolean success field.
func (r Reply) Success() (success bool, ok bool) {
	var probe struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(r.raw, &probe); err != nil || probe.Success == nil {
		return false, false
	}
	return *probe.Success, true
}

func (r Reply) String() string {
	return string(r.raw)
}
