// Package login answers the two requests of the login phase: a
// LoginRequest is authenticated against the account store and the
// session registry, an EnterRequest is acknowledged.
package login

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/urd-project/urd/internal/account"
	"github.com/urd-project/urd/internal/events"
	"github.com/urd-project/urd/internal/metrics"
	"github.com/urd-project/urd/internal/protocol"
	"github.com/urd-project/urd/internal/session"
)

const tracerName = "github.com/urd-project/urd/internal/login"

// Peer identifies the connection a request arrived on.
type Peer struct {
	Remote string
	Kicker session.Kicker
}

// Options configures a Handler. Bus and Metrics may be nil.
type Options struct {
	Store            account.Store
	Registry         *session.Registry
	Servers          []protocol.ServerDescriptor
	MinClientVersion uint32
	Bus              *events.EventBus
	Metrics          *metrics.Metrics
}

// Handler authenticates login requests.
type Handler struct {
	store    account.Store
	registry *session.Registry
	bus      *events.EventBus
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	mu         sync.RWMutex
	servers    []protocol.ServerDescriptor
	minVersion uint32

	authCode func() (int32, error)
	now      func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	return &Handler{
		store:      opts.Store,
		registry:   opts.Registry,
		bus:        opts.Bus,
		metrics:    opts.Metrics,
		tracer:     otel.Tracer(tracerName),
		servers:    append([]protocol.ServerDescriptor(nil), opts.Servers...),
		minVersion: opts.MinClientVersion,
		authCode:   randomAuthCode,
		now:        time.Now,
	}
}

// SetServers replaces the server list sent with LoginAccepted.
func (h *Handler) SetServers(servers []protocol.ServerDescriptor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.servers = append([]protocol.ServerDescriptor(nil), servers...)
}

// Servers returns the current server list.
func (h *Handler) Servers() []protocol.ServerDescriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]protocol.ServerDescriptor(nil), h.servers...)
}

// SetMinClientVersion changes the version gate; zero disables it.
func (h *Handler) SetMinClientVersion(v uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.minVersion = v
}

func randomAuthCode() (int32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}

// outcome is the result of one authentication, before it is reported.
type outcome struct {
	response protocol.Packet
	session  *session.Session
	reason   string
	code     uint8
	err      error
}

func refused(reason protocol.RefuseReason, date string) outcome {
	return outcome{
		response: protocol.LoginRefused{Reason: reason, BlockDate: date},
		reason:   reason.String(),
		code:     uint8(reason),
	}
}

func banned(reason protocol.BanReason) outcome {
	return outcome{
		response: protocol.BanNotification{Reason: reason},
		reason:   reason.String(),
		code:     uint8(reason),
	}
}

// Authenticate produces exactly one response to req. On LoginAccepted the
// returned session is already recorded in the registry and owned by peer.
func (h *Handler) Authenticate(ctx context.Context, peer Peer, req protocol.LoginRequest) (protocol.Packet, *session.Session) {
	start := h.now()

	ctx, span := h.tracer.Start(ctx, "login.authenticate",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("urd.userid", req.UserID),
			attribute.Int64("urd.client_version", int64(req.Version)),
			attribute.String("net.peer.addr", peer.Remote),
		),
	)
	defer span.End()

	out := h.authenticate(ctx, peer, req)

	logger := log.With().
		Str("component", "login").
		Str("remote", peer.Remote).
		Str("userid", req.UserID).
		Uint32("version", req.Version).
		Logger()

	result := "refused"
	if out.session != nil {
		result = "accepted"
		logger.Info().
			Uint32("account_id", out.session.AccountID).
			Uint64("session", out.session.ID).
			Msg("login accepted")
		h.emit(ctx, events.EventLoginAccepted, events.LoginAcceptedPayload{
			Time:      start,
			UserID:    out.session.UserID,
			AccountID: out.session.AccountID,
			Level:     out.response.(protocol.LoginAccepted).UserLevel,
			SessionID: out.session.ID,
			Remote:    peer.Remote,
			Version:   req.Version,
		})
	} else {
		if out.err != nil {
			logger.Error().Err(out.err).Msg("account store unavailable")
			span.RecordError(out.err)
			span.SetStatus(codes.Error, out.err.Error())
		} else {
			logger.Info().Str("reason", out.reason).Msg("login refused")
		}
		h.emit(ctx, events.EventLoginRefused, events.LoginRefusedPayload{
			Time:    start,
			UserID:  req.UserID,
			Remote:  peer.Remote,
			Reason:  out.reason,
			Code:    out.code,
			Version: req.Version,
		})
	}

	span.SetAttributes(
		attribute.String("urd.login.result", result),
		attribute.String("urd.login.reason", out.reason),
	)
	h.metrics.Login(result, out.reason, h.now().Sub(start).Seconds())
	if h.registry != nil {
		h.metrics.SetSessions(h.registry.Count())
	}

	return out.response, out.session
}

func (h *Handler) authenticate(ctx context.Context, peer Peer, req protocol.LoginRequest) outcome {
	h.mu.RLock()
	minVersion := h.minVersion
	servers := append([]protocol.ServerDescriptor(nil), h.servers...)
	h.mu.RUnlock()

	if minVersion > 0 && req.Version < minVersion {
		return refused(protocol.RefuseExeNotLatestVersion, "")
	}

	acc, err := h.store.Authenticate(ctx, req.UserID, req.Password)
	if err != nil {
		return storeOutcome(err)
	}

	code, err := h.authCode()
	if err != nil {
		out := refused(protocol.RefuseCantConnectSakray, "")
		out.err = fmt.Errorf("failed to generate auth code: %w", err)
		return out
	}

	s, err := h.registry.TryLogin(session.Session{
		AccountID: acc.ID,
		UserID:    req.UserID,
		Remote:    peer.Remote,
		LoginAt:   h.now(),
	}, peer.Kicker)
	switch {
	case errors.Is(err, session.ErrFull):
		return refused(protocol.RefuseServerOverpopulation, "")
	case errors.Is(err, session.ErrAlreadyLoggedIn):
		return banned(protocol.BanAlreadyLoggedIn)
	case err != nil:
		out := refused(protocol.RefuseCantConnectSakray, "")
		out.err = err
		return out
	}

	if rec, ok := h.store.(account.Recorder); ok {
		if err := rec.RecordLogin(ctx, acc.ID, peer.Remote); err != nil {
			log.Warn().Err(err).Str("userid", req.UserID).Msg("failed to record login")
		}
	}

	return outcome{
		response: protocol.LoginAccepted{
			AuthCode:  code,
			AccountID: acc.ID,
			UserLevel: acc.Level,
			Sex:       acc.Sex,
			Servers:   servers,
		},
		session: &s,
	}
}

// storeOutcome maps an account store error to its refusal.
func storeOutcome(err error) outcome {
	var bannedUntil *account.BannedUntilError
	switch {
	case errors.Is(err, account.ErrUnknownAccount):
		return refused(protocol.RefuseUnregisteredID, "")
	case errors.Is(err, account.ErrBadPassword):
		return refused(protocol.RefuseIncorrectIDPassword, "")
	case errors.Is(err, account.ErrExpired):
		return refused(protocol.RefuseIDExpired, "")
	case errors.Is(err, account.ErrBlocked):
		return refused(protocol.RefuseAccountBlocked, "")
	case errors.As(err, &bannedUntil):
		return refused(protocol.RefuseLoginProhibitedUntil, bannedUntil.Until.Format(account.BanDateLayout))
	default:
		out := refused(protocol.RefuseCantConnectSakray, "")
		out.err = err
		return out
	}
}

// Enter acknowledges an EnterRequest.
func (h *Handler) Enter(ctx context.Context, peer Peer, req protocol.EnterRequest) protocol.Packet {
	log.Debug().
		Str("component", "login").
		Str("remote", peer.Remote).
		Uint32("account_id", req.AccountID).
		Int16("client_type", req.ClientType).
		Msg("enter request acknowledged")

	h.emit(ctx, events.EventEnter, events.EnterPayload{
		AccountID: req.AccountID,
		Remote:    peer.Remote,
	})
	return protocol.EnterAck{Code: 1}
}

func (h *Handler) emit(ctx context.Context, eventType events.EventType, payload interface{}) {
	if h.bus == nil {
		return
	}
	h.bus.Emit(ctx, events.Event{
		Type:    eventType,
		Source:  "login",
		Payload: payload,
	})
}
