package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunSetupWizard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), DefaultConfigFile))

	// bind address, port, max connections, max sessions, charset, then
	// the char server name; everything after EOF keeps its default.
	input := strings.Join([]string{"", "7000", "", "50", "", "Valhalla"}, "\n") + "\n"
	var out bytes.Buffer
	if err := RunSetupWizard(cfg, strings.NewReader(input), &out); err != nil {
		t.Fatalf("RunSetupWizard: %v\n%s", err, out.String())
	}

	loaded, err := Load(filepath.Dir(cfg.Path()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	login := loaded.GetLogin()
	if login.Port != 7000 || login.MaxSessions != 50 || login.BindAddress != "0.0.0.0" {
		t.Errorf("login = %+v", login)
	}
	if login.CharServers[0].Name != "Valhalla" {
		t.Errorf("char server name = %q", login.CharServers[0].Name)
	}
	if cfg.Accounts.Mode != AccountsOpen {
		t.Errorf("accounts mode = %q", cfg.Accounts.Mode)
	}
}

func TestRunSetupWizardInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), DefaultConfigFile))

	var out bytes.Buffer
	err := RunSetupWizard(cfg, strings.NewReader("\n70000\n"), &out)
	if err == nil {
		t.Fatal("invalid port accepted")
	}
	if !strings.Contains(out.String(), "login.port") {
		t.Errorf("output does not name the bad field:\n%s", out.String())
	}
}
