package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/urd-project/urd/internal/events"
)

// Login log results.
const (
	ResultAccepted = "accepted"
	ResultRefused  = "refused"
)

// LoginLogEntry is one recorded login attempt.
type LoginLogEntry struct {
	ID        int64     `json:"id"`
	Time      time.Time `json:"time"`
	UserID    string    `json:"userid"`
	AccountID uint32    `json:"account_id,omitempty"`
	Remote    string    `json:"remote"`
	Result    string    `json:"result"`
	Reason    string    `json:"reason,omitempty"`
}

// LoginLog records login attempts.
type LoginLog struct {
	db *Database
}

// NewLoginLog creates the login log on top of d.
func NewLoginLog(d *Database) *LoginLog {
	return &LoginLog{db: d}
}

// Insert appends an entry. A zero Time is stamped with the current time.
func (l *LoginLog) Insert(ctx context.Context, e LoginLogEntry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := l.db.Exec(ctx, `
		INSERT INTO login_log (time, userid, account_id, remote, result, reason)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Time.Unix(), e.UserID, e.AccountID, e.Remote, e.Result, e.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert login log entry: %w", err)
	}
	return nil
}

// Recent returns up to count entries, newest first.
func (l *LoginLog) Recent(ctx context.Context, count int) ([]LoginLogEntry, error) {
	rows, err := l.db.Query(ctx, `
		SELECT id, time, userid, account_id, remote, result, reason
		FROM login_log ORDER BY time DESC, id DESC LIMIT ?`, count)
	if err != nil {
		return nil, fmt.Errorf("failed to query login log: %w", err)
	}
	defer rows.Close()

	entries := []LoginLogEntry{}
	for rows.Next() {
		var (
			e  LoginLogEntry
			ts int64
		)
		if err := rows.Scan(&e.ID, &ts, &e.UserID, &e.AccountID, &e.Remote, &e.Result, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan login log entry: %w", err)
		}
		e.Time = fromUnix(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than before and returns how many were removed.
func (l *LoginLog) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.Exec(ctx, "DELETE FROM login_log WHERE time < ?", before.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune login log: %w", err)
	}
	return res.RowsAffected()
}

// Subscribe records login events published on bus.
func (l *LoginLog) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventLoginAccepted, "loginlog.accepted", l.onLoginAccepted)
	bus.Subscribe(events.EventLoginRefused, "loginlog.refused", l.onLoginRefused)
}

func (l *LoginLog) onLoginAccepted(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.LoginAcceptedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	return l.Insert(context.WithoutCancel(ctx), LoginLogEntry{
		Time:      p.Time,
		UserID:    p.UserID,
		AccountID: p.AccountID,
		Remote:    p.Remote,
		Result:    ResultAccepted,
	})
}

func (l *LoginLog) onLoginRefused(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.LoginRefusedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	log.Trace().Str("userid", p.UserID).Str("reason", p.Reason).Msg("recording refused login")
	return l.Insert(context.WithoutCancel(ctx), LoginLogEntry{
		Time:   p.Time,
		UserID: p.UserID,
		Remote: p.Remote,
		Result: ResultRefused,
		Reason: p.Reason,
	})
}
