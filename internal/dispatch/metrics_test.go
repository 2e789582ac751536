package dispatch

import (
	"fmt"
	"strings"
	"testing"

	"github.com/danmuck/relayctl/internal/observability"
	"github.com/danmuck/relayctl/internal/protocol"
	"github.com/danmuck/relayctl/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus"
)

// eventSeries returns the event label of every relayctl_dispatch_events_total
// series in the default registry.
func eventSeries(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]bool)
	for _, mf := range families {
		if mf.GetName() != "relayctl_dispatch_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "event" {
					out[lp.GetValue()] = true
				}
			}
		}
	}
	return out
}

func TestEventMetricIgnoresUserChosenCommandNames(t *testing.T) {
	testlog.Start(t)
	observability.RegisterMetrics()
	d, _ := newTestDispatcher(t)
	if _, err := d.On("command_build", func(...protocol.Param) {}); err != nil {
		t.Fatalf("on: %v", err)
	}
	if err := d.HandleData(wire(t, map[string]bool{"success": true})); err != nil {
		t.Fatalf("ack: %v", err)
	}

	for i := 0; i < 500; i++ {
		ev := protocol.Event{Name: protocol.EventCommand, Params: protocol.StringParams("net", "#chan", "user", fmt.Sprintf("junk%d", i))}
		if err := d.HandleData(wire(t, ev)); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}
	unrequested := protocol.Event{Name: "X_UNREQUESTED_42", Params: protocol.StringParams("net")}
	if err := d.HandleData(wire(t, unrequested)); err != nil {
		t.Fatalf("unrequested event: %v", err)
	}

	series := eventSeries(t)
	for label := range series {
		if strings.HasPrefix(label, protocol.CommandEventPrefix) || label == "X_UNREQUESTED_42" {
			t.Fatalf("events metric grew a user-chosen series %q", label)
		}
	}
	if !series[protocol.EventCommand] || !series[unsubscribedLabel] {
		t.Fatalf("expected COMMAND and %s series, got %v", unsubscribedLabel, series)
	}
}
