// Package account defines login accounts and the credential store the
// login handler consults.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urd-project/urd/internal/protocol"
)

// BanDateLayout is how a ban expiry is shown to the client.
const BanDateLayout = "2006-01-02 15:04:05"

// Authentication outcomes a Store reports. Any other error means the
// store itself failed.
var (
	ErrUnknownAccount = errors.New("unknown account")
	ErrBadPassword    = errors.New("incorrect password")
	ErrExpired        = errors.New("account expired")
	ErrBlocked        = errors.New("account blocked")
)

// BannedUntilError is returned for an account with a temporary ban.
type BannedUntilError struct {
	Until time.Time
}

func (e *BannedUntilError) Error() string {
	return fmt.Sprintf("login prohibited until %s", e.Until.Format(BanDateLayout))
}

// State is the administrative state of an account.
type State int

const (
	StateActive State = iota
	StateBlocked
)

func (s State) String() string {
	if s == StateBlocked {
		return "blocked"
	}
	return "active"
}

// Account is a login identity.
type Account struct {
	ID          uint32       `json:"account_id"`
	UserID      string       `json:"userid"`
	Level       uint32       `json:"level"`
	Sex         protocol.Sex `json:"-"`
	State       State        `json:"-"`
	ExpiresAt   time.Time    `json:"expires_at,omitempty"`
	BannedUntil time.Time    `json:"banned_until,omitempty"`
	LoginCount  int          `json:"login_count"`
	LastLogin   time.Time    `json:"last_login,omitempty"`
	LastIP      string       `json:"last_ip,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Check reports whether the account may log in at now.
func (a Account) Check(now time.Time) error {
	if a.State == StateBlocked {
		return ErrBlocked
	}
	if !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt) {
		return ErrExpired
	}
	if !a.BannedUntil.IsZero() && now.Before(a.BannedUntil) {
		return &BannedUntilError{Until: a.BannedUntil}
	}
	return nil
}

// Store verifies credentials.
type Store interface {
	Authenticate(ctx context.Context, userID, password string) (Account, error)
}

// Recorder is implemented by stores that keep login bookkeeping.
type Recorder interface {
	RecordLogin(ctx context.Context, accountID uint32, remote string) error
}
