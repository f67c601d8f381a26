package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/urd-project/urd/internal/cli"
	"github.com/urd-project/urd/internal/config"
	"github.com/urd-project/urd/internal/db"
	"github.com/urd-project/urd/internal/session"
)

func loginLogCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "loginlog",
		Short: "Show recent login attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDatabase()
			if err != nil {
				return err
			}
			defer database.Close()

			entries, err := db.NewLoginLog(database).Recent(context.Background(), count)
			if err != nil {
				return err
			}
			cli.PrintLoginLog(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 20, "Number of entries")

	return cmd
}

func sessionsCmd() *cobra.Command {
	var (
		apiURL string
		token  string
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions of a running gateway",
		Long: `List the sessions of a running gateway through its admin API.

The API address and token default to the values in the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" || token == "" {
				cfg, err := config.Load(configDir)
				if err != nil {
					return err
				}
				apiCfg := cfg.GetApplicationData().API
				if apiURL == "" {
					apiURL = fmt.Sprintf("http://%s:%d", apiCfg.BindAddress, apiCfg.Port)
				}
				if token == "" {
					token = apiCfg.Token
				}
			}

			sessions, err := fetchSessions(cmd.Context(), apiURL, token)
			if err != nil {
				return err
			}
			cli.PrintSessions(cmd.OutOrStdout(), sessions, time.Now())
			return nil
		},
	}

	cmd.Flags().StringVar(&apiURL, "api", "", "Admin API base URL")
	cmd.Flags().StringVar(&token, "token", "", "Admin API bearer token")

	return cmd
}

func fetchSessions(ctx context.Context, apiURL, token string) ([]session.Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/api/sessions", nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach admin API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("admin API returned %s", resp.Status)
	}

	var body struct {
		Sessions []session.Session `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return body.Sessions, nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config [command]",
		Short: "Inspect and validate the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the configuration interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}
			return config.RunSetupWizard(cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}

			result := config.Validate(cfg)
			out := cmd.OutOrStdout()
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "warning: %s: %s\n", w.Field, w.Message)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(out, "error: %s: %s\n", e.Field, e.Message)
			}
			if err := result.Err(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s is valid\n", cfg.Path())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration without secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}
			appData := cfg.GetApplicationData()
			appData.API.Token = ""
			appData.MQTT.Password = ""

			data, err := json.MarshalIndent(map[string]interface{}{
				"login":            cfg.GetLogin(),
				"accounts":         cfg.Accounts,
				"database":         cfg.Database,
				"application_data": appData,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	return cmd
}
