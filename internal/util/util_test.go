package util

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestInitLoggerCreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	if err := InitLogger(LogConfig{Level: "debug", Directory: dir}); err != nil {
		t.Fatalf("InitLogger: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("log files = %d, want 1", len(entries))
	}
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"urd_2026-01-01.log",
		"urd_2026-01-03.log",
		"urd_2026-01-02.log",
		"urd_2026-01-04.log",
		"other.log",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	if removed := cleanOldLogs(dir, 2); removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	for _, n := range []string{"urd_2026-01-03.log", "urd_2026-01-04.log", "other.log"} {
		if _, err := os.Stat(filepath.Join(dir, n)); err != nil {
			t.Errorf("%s removed: %v", n, err)
		}
	}
	for _, n := range []string{"urd_2026-01-01.log", "urd_2026-01-02.log"} {
		if _, err := os.Stat(filepath.Join(dir, n)); !os.IsNotExist(err) {
			t.Errorf("%s kept", n)
		}
	}
}

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo()
	if info.Platform != runtime.GOOS || info.CPUCores < 1 {
		t.Errorf("SystemInfo = %+v", info)
	}
	if again := GetSystemInfo(); again != info {
		t.Errorf("GetSystemInfo not stable: %+v vs %+v", again, info)
	}
}

func TestEnsureCertificateGenerates(t *testing.T) {
	dir := t.TempDir()

	certFile, keyFile, err := EnsureCertificate(dir, "", "")
	if err != nil {
		t.Fatalf("EnsureCertificate: %v", err)
	}
	if _, err := tls.LoadX509KeyPair(certFile, keyFile); err != nil {
		t.Fatalf("generated pair does not load: %v", err)
	}

	info, err := os.Stat(certFile)
	if err != nil {
		t.Fatal(err)
	}
	again, _, err := EnsureCertificate(dir, "", "")
	if err != nil {
		t.Fatalf("second EnsureCertificate: %v", err)
	}
	info2, _ := os.Stat(again)
	if !info2.ModTime().Equal(info.ModTime()) {
		t.Error("existing certificate was regenerated")
	}
}

func TestEnsureCertificateExplicit(t *testing.T) {
	cert, key, err := EnsureCertificate(t.TempDir(), "a.crt", "a.key")
	if err != nil || cert != "a.crt" || key != "a.key" {
		t.Errorf("EnsureCertificate = %q, %q, %v", cert, key, err)
	}
	if _, _, err := EnsureCertificate(t.TempDir(), "a.crt", ""); err == nil {
		t.Error("cert without key accepted")
	}
}
