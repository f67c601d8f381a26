// Package health checks that the advertised char servers accept TCP
// connections and reports changes on the event bus.
package health

import (
	"context"
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/urd-project/urd/internal/config"
	"github.com/urd-project/urd/internal/events"
	"github.com/urd-project/urd/internal/protocol"
)

// ServerList returns the char servers currently sent with LoginAccepted.
type ServerList interface {
	Servers() []protocol.ServerDescriptor
}

// Status is the last check result of one char server.
type Status struct {
	Name      string    `json:"name"`
	Addr      string    `json:"addr"`
	Reachable bool      `json:"reachable"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Manager probes the char servers on an interval.
type Manager struct {
	cfg      config.HealthConfig
	servers  ServerList
	eventBus *events.EventBus

	dial func(ctx context.Context, network, addr string) (net.Conn, error)
	now  func() time.Time

	mu     sync.Mutex
	status map[string]Status
}

// NewManager creates a health manager for servers.
func NewManager(cfg config.HealthConfig, servers ServerList, eventBus *events.EventBus) *Manager {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout()}
	return &Manager{
		cfg:      cfg,
		servers:  servers,
		eventBus: eventBus,
		dial:     dialer.DialContext,
		now:      time.Now,
		status:   make(map[string]Status),
	}
}

// Start checks immediately, then on every interval until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	interval := m.cfg.CheckInterval()
	if interval <= 0 {
		log.Info().Msg("char server health checks disabled")
		return
	}

	log.Info().Dur("interval", interval).Msg("char server health checks started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.CheckCharServers(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("char server health checks stopped")
			return
		case <-ticker.C:
			m.CheckCharServers(ctx)
		}
	}
}

// CheckCharServers dials every advertised server once, records the
// results and emits an event for each server whose reachability changed.
// A server that is unreachable on its first check counts as a change.
func (m *Manager) CheckCharServers(ctx context.Context) []Status {
	servers := m.servers.Servers()

	results := make([]Status, len(servers))
	var wg sync.WaitGroup
	for i, srv := range servers {
		wg.Add(1)
		go func(i int, srv protocol.ServerDescriptor) {
			defer wg.Done()
			results[i] = m.probe(ctx, srv)
		}(i, srv)
	}
	wg.Wait()

	m.mu.Lock()
	seen := make(map[string]bool, len(results))
	var changed []Status
	for _, st := range results {
		seen[st.Addr] = true
		prev, known := m.status[st.Addr]
		if (known && prev.Reachable != st.Reachable) || (!known && !st.Reachable) {
			changed = append(changed, st)
		}
		m.status[st.Addr] = st
	}
	for addr := range m.status {
		if !seen[addr] {
			delete(m.status, addr)
		}
	}
	m.mu.Unlock()

	for _, st := range changed {
		m.report(ctx, st)
	}
	return results
}

// Statuses returns the last results ordered by server name.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	out := make([]Status, 0, len(m.status))
	for _, st := range m.status {
		out = append(out, st)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Addr < out[j].Addr
	})
	return out
}

func (m *Manager) probe(ctx context.Context, srv protocol.ServerDescriptor) Status {
	addr := netip.AddrPortFrom(srv.IP, srv.Port).String()
	st := Status{Name: srv.Name, Addr: addr, CheckedAt: m.now()}

	conn, err := m.dial(ctx, "tcp", addr)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	conn.Close()
	st.Reachable = true
	return st
}

func (m *Manager) report(ctx context.Context, st Status) {
	payload := events.CharServerPayload{
		Name:  st.Name,
		Addr:  st.Addr,
		Error: st.Error,
		Time:  st.CheckedAt,
	}

	if st.Reachable {
		log.Info().Str("server", st.Name).Str("addr", st.Addr).Msg("char server reachable again")
		m.eventBus.Emit(ctx, events.Event{Type: events.EventCharServerUp, Source: "health", Payload: payload})
		return
	}

	log.Warn().Str("server", st.Name).Str("addr", st.Addr).Str("error", st.Error).Msg("char server unreachable")
	m.eventBus.Emit(ctx, events.Event{Type: events.EventCharServerDown, Source: "health", Payload: payload})
}
