package network

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/urd-project/urd/internal/account"
	"github.com/urd-project/urd/internal/login"
	"github.com/urd-project/urd/internal/protocol"
	"github.com/urd-project/urd/internal/session"
)

func TestListenerAdmissionAndShutdown(t *testing.T) {
	reg := session.NewRegistry(0)
	handler := login.NewHandler(login.Options{
		Store:    account.NewOpenStore(1, protocol.Male),
		Registry: reg,
	})

	l := NewListener(ListenerOptions{
		Addr:            "127.0.0.1:0",
		MaxConnections:  1,
		ShutdownTimeout: 2 * time.Second,
		Conn: ConnOptions{
			Dispatcher:   handler,
			Registry:     reg,
			WriteTimeout: time.Second,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Listen(ctx); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()

	first, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	if _, err := first.Write(loginRequest("test", "pass", 55)); err != nil {
		t.Fatal(err)
	}
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp := make([]byte, protocol.LoginAcceptedHeaderSize)
	if _, err := io.ReadFull(first, resp); err != nil {
		t.Fatalf("read LoginAccepted: %v", err)
	}
	if got := protocol.Int16At(resp, 0); got != protocol.TypeLoginAccepted {
		t.Fatalf("response tag = 0x%X", got)
	}
	if n := l.ActiveConnections(); n != 1 {
		t.Errorf("ActiveConnections = %d, want 1", n)
	}

	second, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if n, err := second.Read(make([]byte, 8)); err == nil {
		t.Errorf("connection over the cap read %d bytes, want close", n)
	}

	cancel()

	ban := make([]byte, protocol.BanNotificationSize)
	if _, err := io.ReadFull(first, ban); err != nil {
		t.Fatalf("read BanNotification: %v", err)
	}
	if !bytes.Equal(ban, []byte{0x81, 0x00, 0x01}) {
		t.Errorf("ban notification = % x", ban)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("listener did not stop")
	}
	if reg.Count() != 0 {
		t.Errorf("sessions after shutdown = %d, want 0", reg.Count())
	}
}

func TestServeWithoutListen(t *testing.T) {
	l := NewListener(ListenerOptions{Addr: "127.0.0.1:0"})
	if err := l.Serve(context.Background()); err == nil {
		t.Error("Serve on unbound listener succeeded")
	}
	if l.Addr() != nil {
		t.Error("Addr before Listen is not nil")
	}
}
