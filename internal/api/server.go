package api

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/urd-project/urd/internal/account"
	"github.com/urd-project/urd/internal/config"
	"github.com/urd-project/urd/internal/db"
	"github.com/urd-project/urd/internal/events"
	"github.com/urd-project/urd/internal/health"
	"github.com/urd-project/urd/internal/metrics"
	intnet "github.com/urd-project/urd/internal/network"
	"github.com/urd-project/urd/internal/protocol"
	"github.com/urd-project/urd/internal/session"
	"github.com/urd-project/urd/internal/util"
)

// LoginLogReader returns recent login attempts.
type LoginLogReader interface {
	Recent(ctx context.Context, count int) ([]db.LoginLogEntry, error)
}

// AccountAdmin manages stored accounts.
type AccountAdmin interface {
	List(ctx context.Context) ([]account.Account, error)
	SetState(ctx context.Context, userID string, state account.State) error
	SetBan(ctx context.Context, userID string, until time.Time) error
}

// ServerList is the live char-server list of the login handler.
type ServerList interface {
	SetServers(servers []protocol.ServerDescriptor)
	Servers() []protocol.ServerDescriptor
}

// HealthReporter returns the last char-server check results.
type HealthReporter interface {
	Statuses() []health.Status
}

// Deps are the components the API reads and controls. LoginLog,
// Accounts, Health, Metrics and Connections may be nil.
type Deps struct {
	Config      *config.Config
	Bus         *events.EventBus
	Registry    *session.Registry
	Servers     ServerList
	LoginLog    LoginLogReader
	Accounts    AccountAdmin
	Health      HealthReporter
	Metrics     *metrics.Metrics
	Connections func() int
	Version     string
}

// Server is the admin HTTP API of the gateway.
type Server struct {
	Deps

	startedAt  time.Time
	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server and builds its router.
func NewServer(deps Deps) *Server {
	if deps.Config.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		Deps:      deps,
		startedAt: time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.Config.GetApplicationData().API
	addr := fmt.Sprintf("%s:%d", apiCfg.BindAddress, apiCfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := intnet.ReuseAddrListenConfig(0)
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	var certFile, keyFile string
	if apiCfg.UseTLS {
		certFile, keyFile, err = util.EnsureCertificate(filepath.Dir(s.Config.Path()), apiCfg.CertFile, apiCfg.KeyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("API TLS setup failed: %w", err)
		}
	}

	log.Info().Str("addr", addr).Bool("tls", apiCfg.UseTLS).Msg("admin API starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if apiCfg.UseTLS {
		err = s.httpServer.ServeTLS(ln, certFile, keyFile)
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.Config.GetApplicationData().API
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(apiCfg.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/status", s.handleStatus)
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(apiCfg.Token))
	{
		protected.GET("/sessions", s.handleListSessions)
		protected.DELETE("/sessions/:userid", s.handleKickSession)

		protected.GET("/login_log", s.handleLoginLog)
		protected.GET("/accounts", s.handleListAccounts)
		protected.POST("/accounts/:userid/block", s.handleBlockAccount)
		protected.POST("/accounts/:userid/unblock", s.handleUnblockAccount)
		protected.POST("/accounts/:userid/ban", s.handleBanAccount)

		protected.GET("/config", s.handleGetConfig)
		protected.PUT("/config/char_servers", s.handleSetCharServers)
	}

	if s.Metrics != nil && s.Config.GetApplicationData().Metrics.Enabled {
		router.GET("/metrics", RequireToken(apiCfg.Token),
			gin.WrapH(promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}
