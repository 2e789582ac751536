package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"net"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/relayctl/internal/protocol"
	"github.com/danmuck/relayctl/internal/protocol/frame"
	"github.com/danmuck/relayctl/internal/testutil/testlog"
)

// serveOnce accepts one connection, hands every decoded request to
// respond, and writes back whatever frames it returns.
func serveOnce(t *testing.T, respond func(protocol.Request) []string) (string, <-chan protocol.Request) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	seen := make(chan protocol.Request, 16)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		dec := frame.NewDecoder(frame.DefaultLimits())
		buf := make([]byte, 512)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				msgs, _ := dec.Feed(buf[:n])
				for _, raw := range msgs {
					var req protocol.Request
					if json.Unmarshal(raw, &req) != nil {
						continue
					}
					seen <- req
					for _, out := range respond(req) {
						b, _ := frame.Encode(json.RawMessage(out), frame.Limits{})
						_, _ = conn.Write(b)
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return ln.Addr().String(), seen
}

func parseTestFlags(t *testing.T, args ...string) options {
	t.Helper()
	fs := flag.NewFlagSet("relayctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	opts, err := parseFlags(fs, args)
	if err != nil {
		t.Fatalf("parse flags %v: %v", args, err)
	}
	return opts
}

func TestParseFlagsRejectsDoAndGet(t *testing.T) {
	testlog.Start(t)
	fs := flag.NewFlagSet("relayctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, err := parseFlags(fs, []string{"-do", "say", "-get", "nick"}); err == nil {
		t.Fatalf("expected -do with -get to fail")
	}
}

func TestBuildRequest(t *testing.T) {
	testlog.Start(t)
	opts := parseTestFlags(t, "-do", "join", "-params", `["net1","#chan"]`, "-scope", `["net1"]`)
	req, ok, err := buildRequest(opts)
	if err != nil || !ok {
		t.Fatalf("build request ok=%v err=%v", ok, err)
	}
	if req.Do != "join" || !reflect.DeepEqual(req.Params, []any{"net1", "#chan"}) || !reflect.DeepEqual(req.Scope, []any{"net1"}) {
		t.Fatalf("unexpected request: %+v", req)
	}
	if _, ok, _ := buildRequest(parseTestFlags(t)); ok {
		t.Fatalf("expected no request without -do/-get")
	}
	if _, _, err := buildRequest(parseTestFlags(t, "-do", "say", "-params", `{"a":1}`)); err == nil {
		t.Fatalf("expected non-array params to fail")
	}
}

func TestRunGetPrintsReply(t *testing.T) {
	testlog.Start(t)
	addr, seen := serveOnce(t, func(req protocol.Request) []string {
		return []string{`{"value":"bot"}`}
	})
	var stdout bytes.Buffer
	opts := parseTestFlags(t, "-target", addr, "-get", "nick", "-scope", `["net1"]`, "-timeout", "2s")
	if err := run(context.Background(), opts, &stdout); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != `{"value":"bot"}` {
		t.Fatalf("unexpected output: %q", got)
	}
	req := <-seen
	if req.Get != "nick" || !reflect.DeepEqual(req.Scope, []any{"net1"}) {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestRunDoIsFireAndForget(t *testing.T) {
	testlog.Start(t)
	addr, seen := serveOnce(t, func(protocol.Request) []string { return nil })
	opts := parseTestFlags(t, "-target", addr, "-do", "say", "-params", `["net1","#chan","hi"]`, "-timeout", "2s")
	if err := run(context.Background(), opts, io.Discard); err != nil {
		t.Fatalf("run: %v", err)
	}
	select {
	case req := <-seen:
		if req.Do != "say" || !reflect.DeepEqual(req.Params, []any{"net1", "#chan", "hi"}) {
			t.Fatalf("unexpected request: %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received the request")
	}
}

func TestRunListenPrintsEventsUntilCancelled(t *testing.T) {
	testlog.Start(t)
	addr, seen := serveOnce(t, func(req protocol.Request) []string {
		if req.Do == protocol.VerbSubscribe {
			return []string{`{"success":true}`, `{"event":"PRIVMSG","params":["net1","#chan","hello"]}`}
		}
		return nil
	})
	out := &syncBuffer{lines: make(chan string, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	opts := parseTestFlags(t, "-target", addr, "-listen", "PRIVMSG", "-timeout", "2s")
	go func() { done <- run(ctx, opts, out) }()

	if req := <-seen; req.Do != protocol.VerbSubscribe {
		t.Fatalf("expected subscribe, got %+v", req)
	}
	select {
	case line := <-out.lines:
		if line != `{"event":"PRIVMSG","params":["net1","#chan","hello"]}` {
			t.Fatalf("unexpected event line: %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event printed")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunRequiresWork(t *testing.T) {
	testlog.Start(t)
	if err := run(context.Background(), parseTestFlags(t, "-target", "127.0.0.1:1"), io.Discard); err == nil {
		t.Fatalf("expected error without -do/-get/-listen")
	}
	if err := run(context.Background(), parseTestFlags(t, "-get", "nick"), io.Discard); err == nil {
		t.Fatalf("expected error without a target")
	}
}

// syncBuffer hands each written JSON line to a channel.
type syncBuffer struct {
	lines chan string
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.lines <- strings.TrimSpace(string(p))
	return len(p), nil
}
