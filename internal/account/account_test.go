package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/urd-project/urd/internal/protocol"
)

func TestCheck(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		account Account
		wantErr error
	}{
		{"active", Account{}, nil},
		{"blocked", Account{State: StateBlocked}, ErrBlocked},
		{"expired", Account{ExpiresAt: now.Add(-time.Hour)}, ErrExpired},
		{"expires_later", Account{ExpiresAt: now.Add(time.Hour)}, nil},
		{"ban_over", Account{BannedUntil: now.Add(-time.Second)}, nil},
		{"blocked_wins", Account{State: StateBlocked, ExpiresAt: now.Add(-time.Hour)}, ErrBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.account.Check(now)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Check = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckBanned(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(48 * time.Hour)

	err := Account{BannedUntil: until}.Check(now)

	var banned *BannedUntilError
	if !errors.As(err, &banned) {
		t.Fatalf("Check = %v, want *BannedUntilError", err)
	}
	if !banned.Until.Equal(until) {
		t.Errorf("Until = %s, want %s", banned.Until, until)
	}
	if got := banned.Error(); got != "login prohibited until 2026-06-03 12:00:00" {
		t.Errorf("Error() = %q", got)
	}
}

func TestOpenStore(t *testing.T) {
	s := NewOpenStore(1, protocol.Male)
	ctx := context.Background()

	a, err := s.Authenticate(ctx, "test", "pass")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if a.ID != FirstAccountID || a.Level != 1 || a.Sex != protocol.Male {
		t.Errorf("account = %+v", a)
	}

	b, _ := s.Authenticate(ctx, "other", "")
	if b.ID != FirstAccountID+1 {
		t.Errorf("second id = %d, want %d", b.ID, FirstAccountID+1)
	}

	again, _ := s.Authenticate(ctx, "test", "different")
	if again.ID != a.ID {
		t.Errorf("id for repeat login = %d, want %d", again.ID, a.ID)
	}

	if _, err := s.Authenticate(ctx, "", "pass"); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("empty user id err = %v, want ErrUnknownAccount", err)
	}
}
