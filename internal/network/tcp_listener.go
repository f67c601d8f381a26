package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/urd-project/urd/internal/events"
)

// ListenerOptions configures a Listener.
type ListenerOptions struct {
	Addr            string
	MaxConnections  int
	ShutdownTimeout time.Duration
	KeepAlive       time.Duration
	Conn            ConnOptions
}

const defaultMaxConnections = 1024

// Listener accepts client connections and runs one Connection per socket,
// up to MaxConnections at a time. Connections over the cap are closed
// right after accept.
type Listener struct {
	opts     ListenerOptions
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	active   atomic.Int64
	listener net.Listener
	ready    chan struct{}
}

// NewListener creates a Listener.
func NewListener(opts ListenerOptions) *Listener {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = defaultMaxConnections
	}
	opts.Conn = opts.Conn.withDefaults()
	return &Listener{
		opts:  opts,
		sem:   semaphore.NewWeighted(int64(opts.MaxConnections)),
		ready: make(chan struct{}),
	}
}

// Listen binds the listening socket.
func (l *Listener) Listen(ctx context.Context) error {
	lc := ReuseAddrListenConfig(l.opts.KeepAlive)
	ln, err := lc.Listen(ctx, "tcp", l.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener on %s: %w", l.opts.Addr, err)
	}
	l.listener = ln
	close(l.ready)

	log.Info().
		Str("addr", ln.Addr().String()).
		Int("max_connections", l.opts.MaxConnections).
		Msg("login listener started")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Ready is closed once the socket is bound.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// ActiveConnections returns the number of running connection loops.
func (l *Listener) ActiveConnections() int {
	return int(l.active.Load())
}

// Start binds and serves until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	if err := l.Listen(ctx); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled, then waits for the
// connection loops to finish, at most ShutdownTimeout.
func (l *Listener) Serve(ctx context.Context) error {
	if l.listener == nil {
		return errors.New("listener is not bound")
	}

	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("login listener stopping")
				return l.drain()
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return l.drain()
			}
			log.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		if !l.sem.TryAcquire(1) {
			l.reject(ctx, conn)
			continue
		}

		l.wg.Add(1)
		l.active.Add(1)
		go func() {
			defer func() {
				l.active.Add(-1)
				l.sem.Release(1)
				l.wg.Done()
			}()
			l.handle(ctx, conn)
		}()
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	c := NewConnection(conn, l.opts.Conn)
	if err := c.Serve(ctx); err != nil {
		log.Warn().
			Err(err).
			Str("component", "listener").
			Str("remote", c.Remote()).
			Msg("connection ended with error")
	}
}

func (l *Listener) reject(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	conn.Close()

	log.Warn().
		Str("remote", remote).
		Int("max_connections", l.opts.MaxConnections).
		Msg("connection limit reached, rejecting connection")
	l.opts.Conn.Metrics.ConnectionRejected()

	if bus := l.opts.Conn.Bus; bus != nil {
		bus.Emit(ctx, events.Event{
			Type:    events.EventConnectionRejected,
			Source:  "listener",
			Payload: events.ConnectionPayload{Remote: remote, Reason: "connection_limit"},
		})
	}
}

func (l *Listener) drain() error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	if l.opts.ShutdownTimeout <= 0 {
		<-done
		return nil
	}

	select {
	case <-done:
		return nil
	case <-time.After(l.opts.ShutdownTimeout):
		n := l.ActiveConnections()
		log.Warn().Int("connections", n).Msg("shutdown timeout, abandoning connections")
		return fmt.Errorf("%d connections still open after %s", n, l.opts.ShutdownTimeout)
	}
}
