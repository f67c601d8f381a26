package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sessions":[{"id":1,"account_id":2000000,"userid":"test","remote":"127.0.0.1:5000","login_at":"2026-03-10T12:00:00Z"}],"total":1}`))
	}))
	defer srv.Close()

	sessions, err := fetchSessions(context.Background(), srv.URL, "secret")
	if err != nil {
		t.Fatalf("fetchSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].UserID != "test" || sessions[0].AccountID != 2000000 {
		t.Errorf("sessions = %+v", sessions)
	}

	if _, err := fetchSessions(context.Background(), srv.URL, "wrong"); err == nil {
		t.Error("unauthorized response accepted")
	}
}
