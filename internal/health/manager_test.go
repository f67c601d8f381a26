package health

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/urd-project/urd/internal/config"
	"github.com/urd-project/urd/internal/events"
	"github.com/urd-project/urd/internal/protocol"
)

type staticServers []protocol.ServerDescriptor

func (s staticServers) Servers() []protocol.ServerDescriptor { return s }

func descriptor(name string, port uint16) protocol.ServerDescriptor {
	return protocol.ServerDescriptor{
		IP:   netip.MustParseAddr("127.0.0.1"),
		Port: port,
		Name: name,
	}
}

// fakeDialer fails for the addresses in down.
type fakeDialer struct {
	mu   sync.Mutex
	down map[string]bool
}

func (d *fakeDialer) setDown(addr string, down bool) {
	d.mu.Lock()
	d.down[addr] = down
	d.mu.Unlock()
}

func (d *fakeDialer) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down[addr] {
		return nil, errors.New("connection refused")
	}
	client, server := net.Pipe()
	server.Close()
	return client, nil
}

func collect(bus *events.EventBus) chan events.Event {
	ch := make(chan events.Event, 8)
	handler := func(ctx context.Context, e events.Event) error {
		ch <- e
		return nil
	}
	bus.Subscribe(events.EventCharServerDown, "test.down", handler)
	bus.Subscribe(events.EventCharServerUp, "test.up", handler)
	return ch
}

func expectEvent(t *testing.T, ch chan events.Event, want events.EventType, addr string) {
	t.Helper()
	select {
	case e := <-ch:
		if e.Type != want {
			t.Fatalf("event = %s, want %s", e.Type, want)
		}
		if p := e.Payload.(events.CharServerPayload); p.Addr != addr {
			t.Errorf("addr = %q, want %q", p.Addr, addr)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s event", want)
	}
}

func expectNoEvent(t *testing.T, ch chan events.Event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %s", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCheckCharServersTransitions(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	ch := collect(bus)

	servers := staticServers{descriptor("Urd", 6121), descriptor("Verdandi", 6122)}
	dialer := &fakeDialer{down: map[string]bool{"127.0.0.1:6122": true}}

	m := NewManager(config.HealthConfig{CharServerCheckSec: 60, DialTimeoutSec: 1}, servers, bus)
	m.dial = dialer.dial

	results := m.CheckCharServers(context.Background())
	if len(results) != 2 || !results[0].Reachable || results[1].Reachable {
		t.Fatalf("results = %+v", results)
	}
	expectEvent(t, ch, events.EventCharServerDown, "127.0.0.1:6122")
	expectNoEvent(t, ch)

	// unchanged state emits nothing
	m.CheckCharServers(context.Background())
	expectNoEvent(t, ch)

	dialer.setDown("127.0.0.1:6122", false)
	m.CheckCharServers(context.Background())
	expectEvent(t, ch, events.EventCharServerUp, "127.0.0.1:6122")

	dialer.setDown("127.0.0.1:6121", true)
	m.CheckCharServers(context.Background())
	expectEvent(t, ch, events.EventCharServerDown, "127.0.0.1:6121")

	statuses := m.Statuses()
	if len(statuses) != 2 || statuses[0].Name != "Urd" || statuses[0].Reachable || statuses[0].Error == "" {
		t.Errorf("Statuses = %+v", statuses)
	}
}

func TestCheckCharServersRealListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	bus := events.NewEventBus()
	defer bus.Stop()

	m := NewManager(config.HealthConfig{CharServerCheckSec: 60, DialTimeoutSec: 1}, staticServers{descriptor("Urd", port)}, bus)
	results := m.CheckCharServers(context.Background())
	if len(results) != 1 || !results[0].Reachable {
		t.Errorf("results = %+v", results)
	}
}

func TestStatusesDropRemovedServers(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	servers := staticServers{descriptor("Urd", 6121), descriptor("Verdandi", 6122)}
	m := NewManager(config.HealthConfig{}, servers, bus)
	m.dial = (&fakeDialer{down: map[string]bool{}}).dial

	m.CheckCharServers(context.Background())
	m.servers = servers[:1]
	m.CheckCharServers(context.Background())

	if got := m.Statuses(); len(got) != 1 || got[0].Name != "Urd" {
		t.Errorf("Statuses = %+v", got)
	}
}

func TestStartDisabled(t *testing.T) {
	m := NewManager(config.HealthConfig{}, staticServers{}, events.NewEventBus())

	done := make(chan struct{})
	go func() {
		m.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return with checks disabled")
	}
}
