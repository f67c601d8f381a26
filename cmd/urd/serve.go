package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/urd-project/urd/internal/account"
	"github.com/urd-project/urd/internal/api"
	"github.com/urd-project/urd/internal/config"
	"github.com/urd-project/urd/internal/db"
	"github.com/urd-project/urd/internal/events"
	"github.com/urd-project/urd/internal/health"
	"github.com/urd-project/urd/internal/login"
	"github.com/urd-project/urd/internal/metrics"
	"github.com/urd-project/urd/internal/network"
	"github.com/urd-project/urd/internal/protocol"
	"github.com/urd-project/urd/internal/scheduler"
	"github.com/urd-project/urd/internal/session"
	"github.com/urd-project/urd/internal/telemetry"
	"github.com/urd-project/urd/internal/util"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the login gateway",
		Long: `Run the login gateway until SIGINT or SIGTERM.

The login listener, the admin API, MQTT telemetry, the scheduler and the
char-server health checks run together. A failure of the listener or the
API stops the gateway.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

// loadConfig loads and validates the configuration and reconfigures the
// logger from it.
func loadConfig() (*config.Config, error) {
	if err := util.InitLogger(util.LogConfig{Level: "info", Console: true}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}

	logging := cfg.GetApplicationData().Logging
	logCfg := util.DefaultLogConfig()
	logCfg.Level = logging.Level
	logCfg.Directory = logging.Directory
	logCfg.Console = logging.Console
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	for _, e := range validation.Errors {
		log.Error().Str("field", e.Field).Msg(e.Message)
	}
	if err := validation.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	loginCfg := cfg.GetLogin()
	appData := cfg.GetApplicationData()
	accountsCfg := cfg.Accounts
	dbCfg := cfg.Database

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("version", version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Str("hostname", sysInfo.Hostname).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("starting urd")

	bus := events.NewEventBus()

	var m *metrics.Metrics
	if appData.Metrics.Enabled {
		m = metrics.New()
	}

	var (
		database *db.Database
		loginLog *db.LoginLog
		accounts *db.AccountsDatabase
		store    account.Store
	)
	if dbCfg.Path != "" {
		database, err = db.NewDatabase(dbCfg.Path)
		if err != nil {
			return err
		}
		defer database.Close()

		loginLog = db.NewLoginLog(database)
		loginLog.Subscribe(bus)
	}

	switch accountsCfg.Mode {
	case config.AccountsDatabase:
		if database == nil {
			return errors.New("accounts mode database requires database.path")
		}
		accounts = db.NewAccountsDatabase(database)
		store = accounts
	default:
		log.Warn().Msg("accounts mode open: every user id is accepted with any password")
		store = account.NewOpenStore(accountsCfg.DefaultLevel, protocol.ParseSex(accountsCfg.DefaultSex))
	}

	codec, err := protocol.NewCodec(loginCfg.ClientCharset)
	if err != nil {
		return err
	}
	servers, err := loginCfg.ServerDescriptors()
	if err != nil {
		return err
	}

	registry := session.NewRegistry(loginCfg.MaxSessions)
	handler := login.NewHandler(login.Options{
		Store:            store,
		Registry:         registry,
		Servers:          servers,
		MinClientVersion: loginCfg.MinClientVersion,
		Bus:              bus,
		Metrics:          m,
	})

	listener := network.NewListener(network.ListenerOptions{
		Addr:            loginCfg.ListenAddr(),
		MaxConnections:  loginCfg.MaxConnections,
		ShutdownTimeout: loginCfg.ShutdownTimeout(),
		KeepAlive:       loginCfg.KeepAlive(),
		Conn: network.ConnOptions{
			Codec:          codec,
			Dispatcher:     handler,
			Registry:       registry,
			Bus:            bus,
			Metrics:        m,
			ReadChunkSize:  loginCfg.ReadChunkSize,
			EmptyReadLimit: loginCfg.EmptyReadLimit,
			IdleTimeout:    loginCfg.IdleTimeout(),
			WriteTimeout:   loginCfg.WriteTimeout(),
		},
	})

	var mqttHandler *telemetry.MQTTHandler
	if appData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(appData.MQTT, bus, version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var pruner scheduler.Pruner
	if loginLog != nil {
		pruner = loginLog
	}
	sched := scheduler.NewScheduler(dbCfg, pruner, registry)
	healthMgr := health.NewManager(appData.Health, handler, bus)

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(runCtx)

	if err := listener.Listen(ctx); err != nil {
		return err
	}

	g.Go(func() error {
		if err := listener.Serve(ctx); err != nil {
			return fmt.Errorf("login listener: %w", err)
		}
		return nil
	})

	if appData.API.Enabled {
		apiDeps := api.Deps{
			Config:      cfg,
			Bus:         bus,
			Registry:    registry,
			Servers:     handler,
			Metrics:     m,
			Connections: listener.ActiveConnections,
			Version:     version,
		}
		if loginLog != nil {
			apiDeps.LoginLog = loginLog
		}
		if accounts != nil {
			apiDeps.Accounts = accounts
		}
		apiServer := api.NewServer(apiDeps)
		g.Go(func() error {
			if err := apiServer.Start(ctx); err != nil {
				return fmt.Errorf("admin API: %w", err)
			}
			return nil
		})
	}

	if mqttHandler != nil {
		g.Go(func() error {
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
			return nil
		})
	}

	g.Go(func() error {
		sched.Start(ctx)
		return nil
	})

	g.Go(func() error {
		healthMgr.Start(ctx)
		return nil
	})

	bus.Emit(ctx, events.Event{
		Type:   events.EventStartup,
		Source: "main",
		Payload: events.SystemPayload{
			Version: version,
			Listen:  listener.Addr().String(),
			Time:    time.Now(),
		},
	})

	g.Go(func() error {
		select {
		case <-sigCtx.Done():
			log.Info().Msg("received shutdown signal")
		case <-ctx.Done():
			log.Error().Msg("component failed, initiating shutdown")
		}

		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := bus.EmitSync(shutdownCtx, events.Event{
			Type:    events.EventShutdown,
			Source:  "main",
			Payload: events.SystemPayload{Version: version, Time: time.Now()},
		}); err != nil {
			log.Warn().Err(err).Msg("shutdown handlers failed")
		}

		cancel()
		return nil
	})

	err = g.Wait()
	bus.Stop()

	if err != nil {
		log.Error().Err(err).Msg("urd stopped with error")
		return err
	}
	log.Info().Msg("urd stopped")
	return nil
}
