package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/urd-project/urd/internal/account"
	"github.com/urd-project/urd/internal/events"
	"github.com/urd-project/urd/internal/protocol"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := NewDatabase(filepath.Join(t.TempDir(), "data", "urd.db"))
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func newTestAccounts(t *testing.T) *AccountsDatabase {
	t.Helper()
	a := NewAccountsDatabase(openTestDB(t))
	a.SetHashCost(bcrypt.MinCost)
	return a
}

func TestCreateAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	a := newTestAccounts(t)

	created, err := a.Create(ctx, NewAccount{UserID: "test", Password: "pass", Level: 1, Sex: protocol.Female})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID != account.FirstAccountID {
		t.Errorf("first id = %d, want %d", created.ID, account.FirstAccountID)
	}

	second, err := a.Create(ctx, NewAccount{UserID: "other", Password: "x"})
	if err != nil {
		t.Fatalf("Create other: %v", err)
	}
	if second.ID != account.FirstAccountID+1 {
		t.Errorf("second id = %d, want %d", second.ID, account.FirstAccountID+1)
	}

	got, err := a.Authenticate(ctx, "test", "pass")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != created.ID || got.Level != 1 || got.Sex != protocol.Female {
		t.Errorf("Authenticate = %+v", got)
	}

	if _, err := a.Authenticate(ctx, "test", "wrong"); !errors.Is(err, account.ErrBadPassword) {
		t.Errorf("wrong password err = %v, want ErrBadPassword", err)
	}
	if _, err := a.Authenticate(ctx, "nobody", "pass"); !errors.Is(err, account.ErrUnknownAccount) {
		t.Errorf("unknown account err = %v, want ErrUnknownAccount", err)
	}
}

func TestCreateRejects(t *testing.T) {
	ctx := context.Background()
	a := newTestAccounts(t)

	if _, err := a.Create(ctx, NewAccount{UserID: "dup", Password: "a"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name string
		na   NewAccount
	}{
		{"duplicate", NewAccount{UserID: "dup", Password: "b"}},
		{"empty_userid", NewAccount{UserID: "", Password: "b"}},
		{"long_userid", NewAccount{UserID: "abcdefghijklmnopqrstuvwx", Password: "b"}},
		{"long_password", NewAccount{UserID: "ok", Password: "abcdefghijklmnopqrstuvwx"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.Create(ctx, tt.na); err == nil {
				t.Error("Create succeeded")
			}
		})
	}

	if _, err := a.Create(ctx, NewAccount{UserID: "dup", Password: "c"}); !errors.Is(err, ErrAccountExists) {
		t.Errorf("duplicate err = %v, want ErrAccountExists", err)
	}
}

func TestAccountStates(t *testing.T) {
	ctx := context.Background()
	a := newTestAccounts(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	if _, err := a.Create(ctx, NewAccount{UserID: "test", Password: "pass"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := a.SetState(ctx, "test", account.StateBlocked); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if _, err := a.Authenticate(ctx, "test", "pass"); !errors.Is(err, account.ErrBlocked) {
		t.Errorf("blocked err = %v, want ErrBlocked", err)
	}
	_ = a.SetState(ctx, "test", account.StateActive)

	until := now.Add(24 * time.Hour)
	if err := a.SetBan(ctx, "test", until); err != nil {
		t.Fatalf("SetBan: %v", err)
	}
	_, err := a.Authenticate(ctx, "test", "pass")
	var banned *account.BannedUntilError
	if !errors.As(err, &banned) || !banned.Until.Equal(until) {
		t.Errorf("banned err = %v, want BannedUntilError(%s)", err, until)
	}
	_ = a.SetBan(ctx, "test", time.Time{})

	if err := a.SetExpiry(ctx, "test", now.Add(-time.Minute)); err != nil {
		t.Fatalf("SetExpiry: %v", err)
	}
	if _, err := a.Authenticate(ctx, "test", "pass"); !errors.Is(err, account.ErrExpired) {
		t.Errorf("expired err = %v, want ErrExpired", err)
	}
	_ = a.SetExpiry(ctx, "test", time.Time{})

	if err := a.SetPassword(ctx, "test", "new"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if _, err := a.Authenticate(ctx, "test", "new"); err != nil {
		t.Errorf("Authenticate after SetPassword: %v", err)
	}

	if err := a.SetState(ctx, "nobody", account.StateBlocked); !errors.Is(err, account.ErrUnknownAccount) {
		t.Errorf("SetState unknown err = %v, want ErrUnknownAccount", err)
	}
}

func TestListDeleteRecordLogin(t *testing.T) {
	ctx := context.Background()
	a := newTestAccounts(t)

	for _, id := range []string{"b", "a"} {
		if _, err := a.Create(ctx, NewAccount{UserID: id, Password: "p"}); err != nil {
			t.Fatalf("Create(%s): %v", id, err)
		}
	}

	acc, _ := a.Get(ctx, "b")
	if err := a.RecordLogin(ctx, acc.ID, "10.0.0.5:4321"); err != nil {
		t.Fatalf("RecordLogin: %v", err)
	}
	acc, _ = a.Get(ctx, "b")
	if acc.LoginCount != 1 || acc.LastIP != "10.0.0.5:4321" || acc.LastLogin.IsZero() {
		t.Errorf("after RecordLogin: %+v", acc)
	}

	list, err := a.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].UserID != "b" || list[1].UserID != "a" {
		t.Errorf("List = %+v", list)
	}

	if err := a.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := a.Delete(ctx, "b"); !errors.Is(err, account.ErrUnknownAccount) {
		t.Errorf("second Delete err = %v, want ErrUnknownAccount", err)
	}
	if _, err := a.Get(ctx, "b"); !errors.Is(err, account.ErrUnknownAccount) {
		t.Errorf("Get deleted err = %v", err)
	}
}

func TestLoginLog(t *testing.T) {
	ctx := context.Background()
	l := NewLoginLog(openTestDB(t))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	entries := []LoginLogEntry{
		{Time: base, UserID: "old", Result: ResultRefused, Reason: "incorrect_id_password"},
		{Time: base.Add(time.Hour), UserID: "mid", AccountID: 2000000, Result: ResultAccepted},
		{Time: base.Add(2 * time.Hour), UserID: "new", Result: ResultAccepted},
	}
	for _, e := range entries {
		if err := l.Insert(ctx, e); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	recent, err := l.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].UserID != "new" || recent[1].UserID != "mid" {
		t.Fatalf("Recent = %+v", recent)
	}
	if recent[1].AccountID != 2000000 || !recent[1].Time.Equal(base.Add(time.Hour)) {
		t.Errorf("entry = %+v", recent[1])
	}

	n, err := l.Prune(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune removed %d, want 1", n)
	}
	all, _ := l.Recent(ctx, 10)
	if len(all) != 2 {
		t.Errorf("entries after prune = %d, want 2", len(all))
	}
}

func TestLoginLogSubscribe(t *testing.T) {
	ctx := context.Background()
	l := NewLoginLog(openTestDB(t))
	bus := events.NewEventBus()
	l.Subscribe(bus)

	err := bus.EmitSync(ctx, events.Event{
		Type:    events.EventLoginAccepted,
		Payload: events.LoginAcceptedPayload{UserID: "test", AccountID: 2000000, Remote: "127.0.0.1:5000"},
	})
	if err != nil {
		t.Fatalf("EmitSync accepted: %v", err)
	}
	err = bus.EmitSync(ctx, events.Event{
		Type:    events.EventLoginRefused,
		Payload: events.LoginRefusedPayload{UserID: "test", Reason: "already_logged_in"},
	})
	if err != nil {
		t.Fatalf("EmitSync refused: %v", err)
	}

	got, _ := l.Recent(ctx, 10)
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	results := map[string]bool{}
	for _, e := range got {
		results[e.Result] = true
	}
	if !results[ResultAccepted] || !results[ResultRefused] {
		t.Errorf("results = %v", results)
	}
}
