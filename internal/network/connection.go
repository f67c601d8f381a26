// Package network implements the client-facing TCP listener and the
// per-connection dispatch loop of the login gateway.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/urd-project/urd/internal/events"
	"github.com/urd-project/urd/internal/login"
	"github.com/urd-project/urd/internal/metrics"
	"github.com/urd-project/urd/internal/protocol"
	"github.com/urd-project/urd/internal/session"
)

var (
	// ErrStreamRead wraps socket read failures other than EOF, close or idle timeout.
	ErrStreamRead = errors.New("stream read failed")
	// ErrStreamWrite wraps failures to send a response.
	ErrStreamWrite = errors.New("stream write failed")
)

// Close reasons, reported in logs, events and the connections_closed metric.
const (
	CloseEOF          = "eof"
	CloseIdle         = "idle"
	ClosePeerGone     = "peer_gone"
	CloseReadError    = "read_error"
	CloseWriteError   = "write_error"
	CloseServerClosed = "server_closed"
)

// kickWriteTimeout bounds the BanNotification write of Kick, which runs
// under the connection lock.
const kickWriteTimeout = 2 * time.Second

// releaseEncodeError is the SessionClosed reason for a session whose
// LoginAccepted could not be encoded.
const releaseEncodeError = "encode_error"

// Dispatcher answers decoded login-phase requests.
type Dispatcher interface {
	Authenticate(ctx context.Context, peer login.Peer, req protocol.LoginRequest) (protocol.Packet, *session.Session)
	Enter(ctx context.Context, peer login.Peer, req protocol.EnterRequest) protocol.Packet
}

// ConnOptions configures the dispatch loop. Zero sizes fall back to the
// defaults; zero timeouts disable the deadline.
type ConnOptions struct {
	Codec          *protocol.Codec
	Dispatcher     Dispatcher
	Registry       *session.Registry
	Bus            *events.EventBus
	Metrics        *metrics.Metrics
	ReadChunkSize  int
	EmptyReadLimit int
	IdleTimeout    time.Duration
	WriteTimeout   time.Duration
}

const (
	defaultReadChunkSize  = 512
	defaultEmptyReadLimit = 5
)

func (o ConnOptions) withDefaults() ConnOptions {
	if o.Codec == nil {
		o.Codec, _ = protocol.NewCodec(protocol.CharsetUTF8)
	}
	if o.ReadChunkSize <= protocol.TypeSize {
		o.ReadChunkSize = defaultReadChunkSize
	}
	if o.EmptyReadLimit <= 0 {
		o.EmptyReadLimit = defaultEmptyReadLimit
	}
	return o
}

// Connection runs the login-phase loop for one client socket. It owns at
// most one session and implements session.Kicker for it.
type Connection struct {
	conn   net.Conn
	opts   ConnOptions
	remote string
	logger zerolog.Logger

	connectedAt time.Time

	mu          sync.Mutex
	closed      bool
	closeReason string
	session     *session.Session
}

// NewConnection wraps an accepted net.Conn.
func NewConnection(conn net.Conn, opts ConnOptions) *Connection {
	remote := conn.RemoteAddr().String()
	return &Connection{
		conn:        conn,
		opts:        opts.withDefaults(),
		remote:      remote,
		connectedAt: time.Now(),
		logger: log.With().
			Str("component", "connection").
			Str("remote", remote).
			Logger(),
	}
}

// Remote returns the peer address.
func (c *Connection) Remote() string {
	return c.remote
}

// Serve reads and answers requests until the peer goes away, a socket
// error occurs or ctx is cancelled. On cancellation the peer is sent
// BanNotification{ServerClosed}. A clean end returns nil.
func (c *Connection) Serve(ctx context.Context) error {
	c.logger.Debug().Msg("connection opened")
	c.opts.Metrics.ConnectionOpened()
	c.emit(ctx, events.EventConnectionOpened, events.ConnectionPayload{Remote: c.remote})

	stop := context.AfterFunc(ctx, func() {
		c.Kick(protocol.BanServerClosed)
	})
	defer func() {
		stop()
		c.finish(ctx)
	}()

	buf := make([]byte, c.opts.ReadChunkSize)
	empty := 0

	for {
		if c.opts.IdleTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
		}

		n, readErr := c.conn.Read(buf)

		if n > 0 || readErr == nil {
			frame := buf[:n]
			if n <= protocol.TypeSize {
				empty++
				c.logger.Debug().Int("bytes", n).Int("count", empty).Msg("empty frame")
				if empty >= c.opts.EmptyReadLimit {
					c.close(ClosePeerGone)
					c.logger.Debug().Int("count", empty).Msg("peer stopped sending, closing")
					return nil
				}
			} else {
				empty = 0
				if err := c.dispatch(ctx, frame); err != nil {
					return err
				}
			}
		}

		if readErr != nil {
			return c.readFailed(readErr)
		}
	}
}

func (c *Connection) readFailed(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		c.close(CloseEOF)
		return nil
	case errors.As(err, &netErr) && netErr.Timeout():
		c.close(CloseIdle)
		c.logger.Info().Dur("idle", c.opts.IdleTimeout).Msg("connection idle, closing")
		return nil
	default:
		c.close(CloseReadError)
		c.logger.Warn().Err(err).Msg("read error, closing connection")
		return fmt.Errorf("%w: %w", ErrStreamRead, err)
	}
}

// dispatch decodes one frame and writes the response, if any.
func (c *Connection) dispatch(ctx context.Context, frame []byte) error {
	pkt, err := c.opts.Codec.Decode(frame)
	if err != nil {
		c.logger.Warn().Err(err).Int("bytes", len(frame)).Msg("failed to decode packet")
		c.logger.Debug().Hex("data", frame).Msg("undecodable frame")
		c.opts.Metrics.DecodeError(decodeErrorKind(err))
		return nil
	}

	name := protocol.Name(pkt.PacketType())
	c.opts.Metrics.PacketReceived(name)
	c.logger.Debug().Str("packet", name).Int("bytes", len(frame)).Hex("data", frame).Msg("packet received")

	peer := login.Peer{Remote: c.remote, Kicker: c}

	var (
		resp protocol.Packet
		s    *session.Session
	)
	switch req := pkt.(type) {
	case protocol.LoginRequest:
		resp, s = c.opts.Dispatcher.Authenticate(ctx, peer, req)
		if s != nil {
			c.bind(s)
		}
	case protocol.EnterRequest:
		resp = c.opts.Dispatcher.Enter(ctx, peer, req)
	default:
		c.logger.Warn().Str("packet", name).Msg("packet not valid in login phase")
		return nil
	}

	if resp == nil {
		return nil
	}

	buf, err := c.encode(resp)
	if err != nil {
		c.logger.Error().Err(err).Str("packet", protocol.Name(resp.PacketType())).Msg("failed to encode response")
		if s != nil {
			c.release(ctx, s, releaseEncodeError)
		}
		return nil
	}
	return c.respond(resp, buf)
}

func decodeErrorKind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownPacketType):
		return "unknown_packet_type"
	case errors.Is(err, protocol.ErrInvalidLength):
		return "invalid_length"
	default:
		return "other"
	}
}

// bind attaches s to the connection. A previous session of the same
// connection is released.
func (c *Connection) bind(s *session.Session) {
	c.mu.Lock()
	prev := c.session
	c.session = s
	c.mu.Unlock()

	if prev != nil && c.opts.Registry != nil {
		c.opts.Registry.Remove(prev.ID)
	}
}

// release gives s back to the registry when the client never learnt of it.
func (c *Connection) release(ctx context.Context, s *session.Session, reason string) {
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()

	if c.opts.Registry != nil {
		c.opts.Registry.Remove(s.ID)
		c.opts.Metrics.SetSessions(c.opts.Registry.Count())
	}
	c.logger.Warn().Uint64("session_id", s.ID).Str("reason", reason).Msg("session released")
	c.emit(context.WithoutCancel(ctx), events.EventSessionClosed, events.SessionClosedPayload{
		UserID:    s.UserID,
		AccountID: s.AccountID,
		SessionID: s.ID,
		Remote:    c.remote,
		Duration:  time.Since(s.LoginAt),
		Reason:    reason,
	})
}

// Session returns the session owned by this connection.
func (c *Connection) Session() (session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return session.Session{}, false
	}
	return *c.session, true
}

// encode writes p into a fresh zeroed buffer.
func (c *Connection) encode(p protocol.Packet) ([]byte, error) {
	buf := make([]byte, responseSize(p))
	n, err := c.opts.Codec.Encode(p, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// respond writes the encoded form buf of p.
func (c *Connection) respond(p protocol.Packet, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if err := c.writeLocked(buf, c.opts.WriteTimeout); err != nil {
		c.closeLocked(CloseWriteError)
		c.logger.Warn().Err(err).Msg("failed to send response")
		return fmt.Errorf("%w: %w", ErrStreamWrite, err)
	}

	name := protocol.Name(p.PacketType())
	c.opts.Metrics.PacketSent(name)
	c.logger.Debug().Str("packet", name).Int("bytes", len(buf)).Hex("data", buf).Msg("packet sent")
	return nil
}

func responseSize(p protocol.Packet) int {
	switch pkt := p.(type) {
	case protocol.LoginAccepted:
		return pkt.Size()
	case protocol.LoginRefused:
		return protocol.LoginRefusedSize
	case protocol.BanNotification:
		return protocol.BanNotificationSize
	case protocol.EnterAck:
		return protocol.EnterAckSize
	default:
		return protocol.LoginAcceptedHeaderSize
	}
}

func (c *Connection) writeLocked(data []byte, timeout time.Duration) error {
	if timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}
	_, err := c.conn.Write(data)
	return err
}

// Kick sends BanNotification{reason} and closes the connection. It is
// safe to call from any goroutine and more than once.
func (c *Connection) Kick(reason protocol.BanReason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	var buf [protocol.BanNotificationSize]byte
	if n, err := c.opts.Codec.Encode(protocol.BanNotification{Reason: reason}, buf[:]); err == nil {
		if err := c.writeLocked(buf[:n], kickTimeout(c.opts.WriteTimeout)); err != nil {
			c.logger.Debug().Err(err).Msg("failed to send ban notification")
		} else {
			c.opts.Metrics.PacketSent(protocol.Name(protocol.TypeBanNotification))
		}
	}

	closeReason := reason.String()
	if reason == protocol.BanServerClosed {
		closeReason = CloseServerClosed
	}
	c.closeLocked(closeReason)
	c.logger.Info().Str("reason", reason.String()).Msg("connection kicked")
}

// kickTimeout is the write deadline for a ban frame. It never exceeds
// kickWriteTimeout, also when writes are otherwise unbounded.
func kickTimeout(writeTimeout time.Duration) time.Duration {
	if writeTimeout > 0 && writeTimeout < kickWriteTimeout {
		return writeTimeout
	}
	return kickWriteTimeout
}

func (c *Connection) close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(reason)
}

func (c *Connection) closeLocked(reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeReason = reason
	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("close failed")
	}
}

// finish releases the session and reports the end of the connection.
func (c *Connection) finish(ctx context.Context) {
	c.close(CloseEOF)

	c.mu.Lock()
	s := c.session
	reason := c.closeReason
	c.session = nil
	c.mu.Unlock()

	ctx = context.WithoutCancel(ctx)

	if s != nil {
		if c.opts.Registry != nil {
			c.opts.Registry.Remove(s.ID)
			c.opts.Metrics.SetSessions(c.opts.Registry.Count())
		}
		c.emit(ctx, events.EventSessionClosed, events.SessionClosedPayload{
			UserID:    s.UserID,
			AccountID: s.AccountID,
			SessionID: s.ID,
			Remote:    c.remote,
			Duration:  time.Since(s.LoginAt),
			Reason:    reason,
		})
	}

	c.opts.Metrics.ConnectionClosed(reason)
	c.emit(ctx, events.EventConnectionClosed, events.ConnectionPayload{Remote: c.remote, Reason: reason})
	c.logger.Debug().
		Str("reason", reason).
		Dur("duration", time.Since(c.connectedAt)).
		Msg("connection closed")
}

func (c *Connection) emit(ctx context.Context, eventType events.EventType, payload interface{}) {
	if c.opts.Bus == nil {
		return
	}
	c.opts.Bus.Emit(ctx, events.Event{
		Type:    eventType,
		Source:  "connection:" + c.remote,
		Payload: payload,
	})
}
