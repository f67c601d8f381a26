package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RunSetupWizard asks for the main settings on in, writes prompts to out
// and saves cfg once it validates.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	p := &prompter{reader: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "urd first run setup")
	fmt.Fprintln(out)

	for {
		askSettings(p, cfg)

		result := Validate(cfg)
		for _, w := range result.Warnings {
			fmt.Fprintf(out, "  warning [%s] %s\n", w.Field, w.Message)
		}
		if result.IsValid() {
			break
		}

		fmt.Fprintln(out, "\nConfiguration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if p.eof || !p.askBool("Try again?", true) {
			return errors.New("configuration validation failed")
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(out, "\nConfiguration saved to %s\n", cfg.Path())
	return nil
}

func askSettings(p *prompter, cfg *Config) {
	login := cfg.GetLogin()
	appData := cfg.GetApplicationData()

	p.section("Login listener")
	login.BindAddress = p.askString("Bind address", login.BindAddress)
	login.Port = p.askInt("Port", login.Port)
	login.MaxConnections = p.askInt("Max connections", login.MaxConnections)
	login.MaxSessions = p.askInt("Max sessions (0 unlimited)", login.MaxSessions)
	login.ClientCharset = p.askString("Client charset", login.ClientCharset)

	if len(login.CharServers) > 0 {
		p.section("Char server")
		cs := login.CharServers[0]
		cs.Name = p.askString("Name", cs.Name)
		cs.IP = p.askString("IPv4 address", cs.IP)
		cs.Port = p.askInt("Port", cs.Port)
		login.CharServers = append([]CharServerConfig{cs}, login.CharServers[1:]...)
	}

	p.section("Accounts")
	cfg.Accounts.Mode = p.askString("Mode (open or database)", cfg.Accounts.Mode)
	if cfg.Accounts.Mode == AccountsDatabase {
		cfg.Database.Path = p.askString("Database path", cfg.Database.Path)
	}

	p.section("Admin API")
	appData.API.Enabled = p.askBool("Enable admin API", appData.API.Enabled)
	if appData.API.Enabled {
		appData.API.BindAddress = p.askString("Bind address", appData.API.BindAddress)
		appData.API.Port = p.askInt("Port", appData.API.Port)
		appData.API.Token = p.askString("Bearer token (blank for none)", appData.API.Token)
	}

	p.section("MQTT telemetry")
	appData.MQTT.Enabled = p.askBool("Enable MQTT telemetry", appData.MQTT.Enabled)
	if appData.MQTT.Enabled {
		appData.MQTT.BrokerURL = p.askString("Broker host", appData.MQTT.BrokerURL)
		appData.MQTT.Port = p.askInt("Broker port", appData.MQTT.Port)
	}

	cfg.SetLogin(login)
	cfg.SetApplicationData(appData)
}

type prompter struct {
	reader *bufio.Reader
	out    io.Writer
	eof    bool
}

func (p *prompter) section(name string) {
	fmt.Fprintf(p.out, "\n-- %s --\n", name)
}

func (p *prompter) readLine() string {
	if p.eof {
		return ""
	}
	input, err := p.reader.ReadString('\n')
	if err != nil {
		p.eof = true
	}
	return strings.TrimSpace(input)
}

func (p *prompter) askString(prompt, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(p.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(p.out, "  %s: ", prompt)
	}

	input := p.readLine()
	if input == "" {
		return defaultVal
	}
	return input
}

func (p *prompter) askInt(prompt string, defaultVal int) int {
	fmt.Fprintf(p.out, "  %s [%d]: ", prompt, defaultVal)

	input := p.readLine()
	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(p.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (p *prompter) askBool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(p.out, "  %s [%s]: ", prompt, defaultStr)

	input := strings.ToLower(p.readLine())
	if input == "" {
		return defaultVal
	}
	return input == "yes" || input == "y" || input == "true" || input == "1"
}
