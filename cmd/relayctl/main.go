package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/relayctl/internal/dispatch"
	"github.com/danmuck/relayctl/internal/logging"
	"github.com/danmuck/relayctl/internal/observability"
	"github.com/danmuck/relayctl/internal/protocol"
	"github.com/danmuck/relayctl/internal/relay"
	"github.com/rs/zerolog/log"
)

type options struct {
	configPath  string
	target      string
	do          string
	get         string
	params      string
	scope       string
	listen      string
	timeout     time.Duration
	metricsAddr string
}

func main() {
	logging.ConfigureRuntime()
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fatalf("%v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, opts, os.Stdout); err != nil {
		fatalf("%v", err)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var opts options
	fs.StringVar(&opts.configPath, "config", "", "optional TOML config file")
	fs.StringVar(&opts.target, "target", "", "relay control socket: host:port, tcp://host:port, unix:/path")
	fs.StringVar(&opts.do, "do", "", "action verb to send")
	fs.StringVar(&opts.get, "get", "", "query verb to send; the reply is printed")
	fs.StringVar(&opts.params, "params", "", "request params as a JSON array")
	fs.StringVar(&opts.scope, "scope", "", "request scope as a JSON array")
	fs.StringVar(&opts.listen, "listen", "", "comma-separated events to print until interrupted")
	fs.DurationVar(&opts.timeout, "timeout", 10*time.Second, "connect and reply timeout")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics on this address")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.do != "" && opts.get != "" {
		return options{}, errors.New("-do and -get are mutually exclusive")
	}
	return opts, nil
}

func resolveConfig(opts options) (cliConfig, error) {
	cfg := defaultCLIConfig()
	if opts.configPath != "" {
		loaded, err := loadCLIConfig(opts.configPath)
		if err != nil {
			return cliConfig{}, err
		}
		cfg = loaded
	}
	if v := strings.TrimSpace(opts.target); v != "" {
		cfg.Target = v
	}
	if v := strings.TrimSpace(opts.metricsAddr); v != "" {
		cfg.MetricsAddr = v
	}
	cfg.Subscribe = splitEvents(append(cfg.Subscribe, opts.listen)...)
	if err := cfg.resolveTarget(); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

// buildRequest reports false when neither -do nor -get was given.
func buildRequest(opts options) (protocol.Request, bool, error) {
	if opts.do == "" && opts.get == "" {
		return protocol.Request{}, false, nil
	}
	params, err := parseJSONList("params", opts.params)
	if err != nil {
		return protocol.Request{}, false, err
	}
	scope, err := parseJSONList("scope", opts.scope)
	if err != nil {
		return protocol.Request{}, false, err
	}
	req := protocol.Request{Do: opts.do, Get: opts.get, Params: params, Scope: scope}
	if err := req.Validate(); err != nil {
		return protocol.Request{}, false, err
	}
	return req, true, nil
}

func parseJSONList(name, raw string) ([]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse -%s: want a JSON array: %w", name, err)
	}
	return out, nil
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return err
	}
	req, hasReq, err := buildRequest(opts)
	if err != nil {
		return err
	}
	if !hasReq && len(cfg.Subscribe) == 0 {
		return errors.New("nothing to do: pass -do, -get or -listen")
	}
	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr)
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	c, err := relay.Dial(dialCtx, cfg.Relay)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
		<-c.Done()
	}()
	log.Info().Msgf("relayctl connected target=%s", cfg.Relay.Target)

	out := &lineWriter{enc: json.NewEncoder(stdout)}
	for _, name := range cfg.Subscribe {
		name := name // per-iteration copy; go directive lowered to 1.21 for the local toolchain
		if _, err := c.On(name, func(params ...protocol.Param) {
			out.write(eventLine{Event: name, Params: params})
		}); err != nil {
			return err
		}
	}

	listening := len(cfg.Subscribe) > 0
	if hasReq {
		if err := sendRequest(ctx, c, req, listening, opts.timeout, out); err != nil {
			return err
		}
	}
	if !listening {
		return nil
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("relayctl interrupted")
		return nil
	case <-c.Done():
		// A bare ErrConnectionClosed is a clean end of stream.
		if err := c.Err(); err != nil && err != dispatch.ErrConnectionClosed {
			return err
		}
		log.Info().Msg("relayctl stream ended")
		return nil
	}
}

func sendRequest(ctx context.Context, c *relay.Client, req protocol.Request, listening bool, timeout time.Duration, out *lineWriter) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	switch {
	case req.Get != "":
		reply, err := c.Call(callCtx, req)
		if err != nil {
			return err
		}
		out.write(reply.Raw())
		return nil
	case listening:
		return c.Send(req, func(reply protocol.Reply, err error) {
			if err != nil {
				log.Warn().Err(err).Msgf("relayctl do=%s unanswered", req.Do)
				return
			}
			log.Info().Msgf("relayctl do=%s reply=%s", req.Do, reply)
		})
	default:
		if err := c.SendOnly(req); err != nil {
			return err
		}
		return c.Flush(callCtx)
	}
}

type eventLine struct {
	Event  string           `json:"event"`
	Params []protocol.Param `json:"params"`
}

// lineWriter serializes JSON lines written from the client loop and the
// main goroutine.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (w *lineWriter) write(v any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(v); err != nil {
		log.Warn().Err(err).Msg("relayctl output failed")
	}
}

func serveMetrics(addr string) {
	observability.RegisterMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	go func() {
		log.Info().Msgf("relayctl metrics listening addr=%s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("relayctl metrics server stopped")
		}
	}()
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "relayctl: "+format+"\n", args...)
	os.Exit(1)
}
