package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/danmuck/relayctl/internal/testutil/testlog"
)

func TestRequestMarshalShape(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		req  Request
		want string
	}{
		{Do("join", "net1", "#chan"), `{"do":"join","params":["net1","#chan"]}`},
		{Get("nick"), `{"get":"nick","params":[]}`},
		{Do("say", "net1", "#c", "hi").WithScope("net1"), `{"do":"say","params":["net1","#c","hi"],"scope":["net1"]}`},
		{Subscribe("PRIVMSG"), `{"do":"subscribe","params":["PRIVMSG"]}`},
	}
	for _, tc := range cases {
		b, err := json.Marshal(tc.req)
		if err != nil {
			t.Fatalf("marshal %+v: %v", tc.req, err)
		}
		if string(b) != tc.want {
			t.Fatalf("marshal got=%s want=%s", b, tc.want)
		}
	}
}

func TestRequestValidate(t *testing.T) {
	testlog.Start(t)
	if err := Do("join").Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Request{}).Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty verb, got %v", err)
	}
	if err := (Request{Do: "a", Get: "b"}).Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for do+get, got %v", err)
	}
	if got := Get("nick").Verb(); got != "nick" {
		t.Fatalf("unexpected verb: %q", got)
	}
}

func TestClassifyEvent(t *testing.T) {
	testlog.Start(t)
	in, err := Classify(json.RawMessage(`{"event":"PRIVMSG","params":["net1","#chan","nick","hello",3]}`))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !in.IsEvent || in.Event.Name != "PRIVMSG" {
		t.Fatalf("expected PRIVMSG event, got %+v", in)
	}
	if len(in.Event.Params) != 5 {
		t.Fatalf("unexpected params: %d", len(in.Event.Params))
	}
	if s, ok := in.Event.StringAt(3); !ok || s != "hello" {
		t.Fatalf("unexpected param 3: %q ok=%v", s, ok)
	}
	if _, ok := in.Event.StringAt(4); ok {
		t.Fatalf("numeric param must not read as string")
	}
	var n int
	if err := in.Event.Params[4].Decode(&n); err != nil || n != 3 {
		t.Fatalf("decode numeric param: n=%d err=%v", n, err)
	}
	if got := in.Event.Params[4].String(); got != "3" {
		t.Fatalf("unexpected raw string: %q", got)
	}
}

func TestClassifyReply(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []string{`{"success":true}`, `{"event":null,"x":1}`, `[1,2]`, `"ok"`} {
		in, err := Classify(json.RawMessage(raw))
		if err != nil {
			t.Fatalf("classify %s: %v", raw, err)
		}
		if in.IsEvent {
			t.Fatalf("expected reply for %s", raw)
		}
		if in.Reply.String() != raw {
			t.Fatalf("reply raw mismatch: %q", in.Reply.String())
		}
	}
}

func TestClassifyInvalidEvent(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []string{`{"event":5}`, `{"event":"JOIN","params":{"a":1}}`} {
		if _, err := Classify(json.RawMessage(raw)); !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("expected ErrInvalidEvent for %s, got %v", raw, err)
		}
	}
}

func TestEventDispatchName(t *testing.T) {
	testlog.Start(t)
	cmd := Event{Name: EventCommand, Params: StringParams("net", "#chan", "user", "build", "a house")}
	if got := cmd.DispatchName(); got != "command_build" {
		t.Fatalf("unexpected command dispatch name: %q", got)
	}
	short := Event{Name: EventCommand, Params: StringParams("net", "#chan")}
	if got := short.DispatchName(); got != EventCommand {
		t.Fatalf("short COMMAND must keep its name, got %q", got)
	}
	plain := Event{Name: "JOIN"}
	if got := plain.DispatchName(); got != "JOIN" {
		t.Fatalf("unexpected dispatch name: %q", got)
	}
}

func TestReplySuccess(t *testing.T) {
	testlog.Start(t)
	if ok, has := NewReply(json.RawMessage(`{"success":false}`)).Success(); !has || ok {
		t.Fatalf("expected explicit failure, got ok=%v has=%v", ok, has)
	}
	if _, has := NewReply(json.RawMessage(`{"nick":"bot"}`)).Success(); has {
		t.Fatalf("expected no success field")
	}
	var out struct {
		Nick string `json:"nick"`
	}
	if err := NewReply(json.RawMessage(`{"nick":"bot"}`)).Decode(&out); err != nil || out.Nick != "bot" {
		t.Fatalf("decode reply: %+v err=%v", out, err)
	}
}

func TestParamMarshalRoundTrip(t *testing.T) {
	testlog.Start(t)
	ev := Event{Name: "JOIN", Params: StringParams("net1", "#chan")}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if string(b) != `{"event":"JOIN","params":["net1","#chan"]}` {
		t.Fatalf("unexpected event json: %s", b)
	}
}
