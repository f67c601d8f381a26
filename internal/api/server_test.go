package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urd-project/urd/internal/account"
	"github.com/urd-project/urd/internal/config"
	"github.com/urd-project/urd/internal/db"
	"github.com/urd-project/urd/internal/events"
	"github.com/urd-project/urd/internal/health"
	"github.com/urd-project/urd/internal/login"
	"github.com/urd-project/urd/internal/metrics"
	"github.com/urd-project/urd/internal/protocol"
	"github.com/urd-project/urd/internal/session"
)

const testToken = "secret"

type recordingKicker struct {
	reasons []protocol.BanReason
}

func (k *recordingKicker) Kick(reason protocol.BanReason) {
	k.reasons = append(k.reasons, reason)
}

type stubLoginLog struct {
	count int
}

func (l *stubLoginLog) Recent(ctx context.Context, count int) ([]db.LoginLogEntry, error) {
	l.count = count
	return []db.LoginLogEntry{{ID: 1, UserID: "test", Result: db.ResultAccepted}}, nil
}

type stubAccounts struct {
	states map[string]account.State
	bans   map[string]time.Time
}

func (a *stubAccounts) List(ctx context.Context) ([]account.Account, error) {
	return []account.Account{{ID: 2000000, UserID: "test", Level: 1, Sex: protocol.Female, State: account.StateBlocked}}, nil
}

func (a *stubAccounts) SetState(ctx context.Context, userID string, state account.State) error {
	if userID != "test" {
		return account.ErrUnknownAccount
	}
	a.states[userID] = state
	return nil
}

func (a *stubAccounts) SetBan(ctx context.Context, userID string, until time.Time) error {
	if userID != "test" {
		return account.ErrUnknownAccount
	}
	a.bans[userID] = until
	return nil
}

type stubHealth []health.Status

func (h stubHealth) Statuses() []health.Status { return h }

type testEnv struct {
	server   *Server
	cfg      *config.Config
	registry *session.Registry
	handler  *login.Handler
	loginLog *stubLoginLog
	accounts *stubAccounts
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), "config.json"))
	appData := cfg.GetApplicationData()
	appData.API.Token = testToken
	appData.API.RateLimitRPS = 0
	cfg.SetApplicationData(appData)

	reg := session.NewRegistry(0)
	servers, err := cfg.GetLogin().ServerDescriptors()
	if err != nil {
		t.Fatal(err)
	}
	handler := login.NewHandler(login.Options{Registry: reg, Servers: servers})

	env := &testEnv{
		cfg:      cfg,
		registry: reg,
		handler:  handler,
		loginLog: &stubLoginLog{},
		accounts: &stubAccounts{states: map[string]account.State{}, bans: map[string]time.Time{}},
	}
	env.server = NewServer(Deps{
		Config:      cfg,
		Registry:    reg,
		Servers:     handler,
		LoginLog:    env.loginLog,
		Accounts:    env.accounts,
		Health:      stubHealth{{Name: "Urd", Addr: "127.0.0.1:6900", Reachable: true}},
		Metrics:     metrics.New(),
		Connections: func() int { return 3 },
		Version:     "test",
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v: %s", err, w.Body.String())
	}
	return out
}

func TestPublicEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/public/ping", "", false)
	if w.Code != http.StatusOK || decode(t, w)["service"] != "urd" {
		t.Errorf("ping = %d %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}

	w = env.do(t, http.MethodGet, "/api/public/status", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	status := decode(t, w)
	if status["connections"] != float64(3) || status["sessions"] != float64(0) {
		t.Errorf("status = %v", status)
	}
	servers, _ := status["char_servers"].([]interface{})
	if len(servers) != 1 {
		t.Fatalf("char_servers = %v", status["char_servers"])
	}
	if srv := servers[0].(map[string]interface{}); srv["name"] != "Urd" || srv["ip"] != "127.0.0.1" || srv["status"] != "normal" {
		t.Errorf("server = %v", srv)
	}
	checks, _ := status["char_server_health"].([]interface{})
	if len(checks) != 1 || checks[0].(map[string]interface{})["reachable"] != true {
		t.Errorf("char_server_health = %v", status["char_server_health"])
	}
}

func TestTokenRequired(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"scheme", "Basic " + testToken, http.StatusUnauthorized},
		{"valid", "Bearer " + testToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("code = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestSessionsAndKick(t *testing.T) {
	env := newTestEnv(t)
	kicker := &recordingKicker{}
	if _, err := env.registry.TryLogin(session.Session{AccountID: 2000000, UserID: "test", Remote: "10.0.0.1:5000"}, kicker); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodGet, "/api/sessions", "", true)
	if w.Code != http.StatusOK || decode(t, w)["total"] != float64(1) {
		t.Errorf("sessions = %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodDelete, "/api/sessions/test", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("kick = %d %s", w.Code, w.Body.String())
	}
	if len(kicker.reasons) != 1 || kicker.reasons[0] != protocol.BanServerClosed {
		t.Errorf("kick reasons = %v", kicker.reasons)
	}
	if env.registry.Count() != 0 {
		t.Error("session still registered")
	}

	w = env.do(t, http.MethodDelete, "/api/sessions/test", "", true)
	if w.Code != http.StatusNotFound {
		t.Errorf("second kick = %d, want 404", w.Code)
	}
}

func TestLoginLogCount(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		query string
		code  int
		count int
	}{
		{"", http.StatusOK, defaultLogCount},
		{"?count=10", http.StatusOK, 10},
		{"?count=5000", http.StatusOK, maxLogCount},
		{"?count=0", http.StatusBadRequest, 0},
		{"?count=abc", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		env.loginLog.count = 0
		w := env.do(t, http.MethodGet, "/api/login_log"+tt.query, "", true)
		if w.Code != tt.code {
			t.Errorf("%q: code = %d, want %d", tt.query, w.Code, tt.code)
		}
		if env.loginLog.count != tt.count {
			t.Errorf("%q: count = %d, want %d", tt.query, env.loginLog.count, tt.count)
		}
	}
}

func TestAccountRoutes(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/accounts", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("accounts = %d", w.Code)
	}
	list := decode(t, w)["accounts"].([]interface{})
	if acc := list[0].(map[string]interface{}); acc["sex"] != "F" || acc["state"] != "blocked" || acc["userid"] != "test" {
		t.Errorf("account = %v", acc)
	}

	if w := env.do(t, http.MethodPost, "/api/accounts/test/block", "", true); w.Code != http.StatusOK {
		t.Errorf("block = %d", w.Code)
	}
	if env.accounts.states["test"] != account.StateBlocked {
		t.Error("account not blocked")
	}
	if w := env.do(t, http.MethodPost, "/api/accounts/test/unblock", "", true); w.Code != http.StatusOK {
		t.Errorf("unblock = %d", w.Code)
	}
	if env.accounts.states["test"] != account.StateActive {
		t.Error("account not unblocked")
	}
	if w := env.do(t, http.MethodPost, "/api/accounts/nobody/block", "", true); w.Code != http.StatusNotFound {
		t.Errorf("block unknown = %d, want 404", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/accounts/test/ban", `{"minutes": 60}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("ban = %d %s", w.Code, w.Body.String())
	}
	if until := env.accounts.bans["test"]; time.Until(until) < 59*time.Minute {
		t.Errorf("banned until %v", until)
	}
	if w := env.do(t, http.MethodPost, "/api/accounts/test/ban", `{"minutes": -1}`, true); w.Code != http.StatusBadRequest {
		t.Errorf("negative ban = %d, want 400", w.Code)
	}
}

func TestSetCharServers(t *testing.T) {
	env := newTestEnv(t)

	body := `[{"name":"Valhalla","ip":"10.0.0.5","port":6121,"users":12,"status":"p2p"},{"name":"Asgard","ip":"10.0.0.6","port":6122}]`
	w := env.do(t, http.MethodPut, "/api/config/char_servers", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("set = %d %s", w.Code, w.Body.String())
	}

	servers := env.handler.Servers()
	if len(servers) != 2 || servers[0].Name != "Valhalla" || servers[0].Status != protocol.ServerP2P || servers[1].Port != 6122 {
		t.Errorf("handler servers = %+v", servers)
	}

	reloaded, err := config.Load(filepath.Dir(env.cfg.Path()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := reloaded.GetLogin().CharServers; len(got) != 2 || got[1].Name != "Asgard" {
		t.Errorf("saved char_servers = %+v", got)
	}

	bad := `[{"name":"Valhalla","ip":"::1","port":6121}]`
	if w := env.do(t, http.MethodPut, "/api/config/char_servers", bad, true); w.Code != http.StatusBadRequest {
		t.Errorf("IPv6 server = %d, want 400", w.Code)
	}
	if len(env.handler.Servers()) != 2 {
		t.Error("rejected list was applied")
	}
}

func TestSetCharServersChecksCharset(t *testing.T) {
	env := newTestEnv(t)
	login := env.cfg.GetLogin()
	login.ClientCharset = protocol.CharsetEUCKR
	env.cfg.SetLogin(login)

	body := `[{"name":"Urd\ud83d\ude42","ip":"10.0.0.5","port":6121}]`
	if w := env.do(t, http.MethodPut, "/api/config/char_servers", body, true); w.Code != http.StatusBadRequest {
		t.Fatalf("unencodable name = %d, want 400", w.Code)
	}
	if servers := env.handler.Servers(); len(servers) != 1 || servers[0].Name != "Urd" {
		t.Errorf("handler servers = %+v", servers)
	}

	body = `[{"name":"한국","ip":"10.0.0.5","port":6121}]`
	if w := env.do(t, http.MethodPut, "/api/config/char_servers", body, true); w.Code != http.StatusOK {
		t.Errorf("korean name = %d %s", w.Code, w.Body.String())
	}
}

func TestKickEventOutlivesRequest(t *testing.T) {
	env := newTestEnv(t)
	bus := events.NewEventBus()
	defer bus.Stop()
	env.server.Bus = bus

	requestDone := make(chan struct{})
	handlerErr := make(chan error, 1)
	bus.Subscribe(events.EventSessionKicked, "test", func(ctx context.Context, e events.Event) error {
		<-requestDone
		handlerErr <- ctx.Err()
		return nil
	})

	if _, err := env.registry.TryLogin(session.Session{AccountID: 2000000, UserID: "test"}, &recordingKicker{}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/test", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	cancel()
	close(requestDone)

	if w.Code != http.StatusOK {
		t.Fatalf("kick = %d", w.Code)
	}
	select {
	case err := <-handlerErr:
		if err != nil {
			t.Errorf("handler context = %v after the request ended", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("kick event not delivered")
	}
}

func TestGetConfigHidesSecrets(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/config", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("config = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), testToken) {
		t.Error("config response leaks the API token")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/metrics", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "urd_connections_active") {
		t.Error("metrics output lacks urd_connections_active")
	}
	if w := env.do(t, http.MethodGet, "/metrics", "", false); w.Code != http.StatusUnauthorized {
		t.Errorf("metrics without token = %d, want 401", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()

	if !rl.allow("a", now) || !rl.allow("a", now) {
		t.Fatal("burst of two refused")
	}
	if rl.allow("a", now) {
		t.Error("third request in the same instant allowed")
	}
	if !rl.allow("b", now) {
		t.Error("other client limited")
	}
	if !rl.allow("a", now.Add(time.Second)) {
		t.Error("bucket did not refill")
	}
}
