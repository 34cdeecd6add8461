package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/npezzotti/go-dirchat/internal/api"
	"github.com/npezzotti/go-dirchat/internal/auth"
	"github.com/npezzotti/go-dirchat/internal/config"
	"github.com/npezzotti/go-dirchat/internal/database"
	"github.com/npezzotti/go-dirchat/internal/files"
	"github.com/npezzotti/go-dirchat/internal/server"
	"github.com/npezzotti/go-dirchat/internal/stats"
	"github.com/rs/zerolog"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, config.SplitList(value, ",")...)
	return nil
}

var (
	configPath     string
	dev            bool
	migrateOnly    bool
	addr           string
	dsn            string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")
	flag.BoolVar(&dev, "dev", false, "start an embedded PostgreSQL instead of connecting to one")
	flag.BoolVar(&migrateOnly, "migrate", false, "apply database migrations and exit")
	flag.StringVar(&addr, "addr", "", "server address")
	flag.StringVar(&dsn, "dsn", "", "database connection string")
	flag.StringVar(&signingKey, "signing-key", "", "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "go-dirchat:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	applyFlags(cfg)

	logger := newLogger(cfg)

	if dev {
		pg, err := startEmbeddedPostgres(cfg, logger)
		if err != nil {
			return fmt.Errorf("embedded postgres: %w", err)
		}
		defer func() {
			logger.Info().Msg("stopping embedded postgres")
			if err := pg.Stop(); err != nil {
				logger.Error().Err(err).Msg("embedded postgres stop")
			}
		}()
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := database.Migrate(cfg.Database.Driver, cfg.Database.DSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("migrations applied")
	if migrateOnly {
		return nil
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := database.NewSQLChatRepository(connectCtx, cfg.Database.Driver, cfg.Database.DSN)
	cancelConnect()
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	store, err := files.NewDiskStore(cfg.Uploads.Dir)
	if err != nil {
		return err
	}

	statsUpdater := stats.NewStatsUpdater()

	chatServer, err := server.NewChatServer(
		logger.With().Str("component", "chat").Logger(),
		db,
		statsUpdater,
		server.WithSendBuffer(cfg.Websocket.SendBuffer),
		server.WithMaxMessageSize(cfg.Websocket.MaxMessageSize),
	)
	if err != nil {
		return fmt.Errorf("new chat server: %w", err)
	}

	authn, dir := newAuthenticator(cfg, logger)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	go auth.NewDirectorySync(dir, db, cfg.LDAP.SyncInterval, logger).Run(bgCtx)
	go files.NewSweeper(db, store, cfg.Uploads.Retention, cfg.Uploads.SweepInterval, logger).Run(bgCtx)

	app := api.NewGoChatApp(logger, chatServer, db, authn, store, statsUpdater.Handler(), cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("received signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server")
		}
	}

	stopBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}

	logger.Info().Msg("shutting down chat server")
	if err := chatServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("chat server shutdown: %w", err)
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

// applyFlags lets explicitly set flags override the file and environment.
func applyFlags(cfg *config.Config) {
	if addr != "" {
		cfg.ServerAddr = addr
	}
	if dsn != "" {
		cfg.Database.DSN = dsn
	}
	if signingKey != "" {
		cfg.SigningSecret = signingKey
	}
	if len(allowedOrigins) > 0 {
		cfg.AllowedOrigins = allowedOrigins
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}

	return logger.Level(level).With().Timestamp().Str("service", "go-dirchat").Logger()
}

// newAuthenticator prefers the directory when one is configured.
func newAuthenticator(cfg *config.Config, logger zerolog.Logger) (auth.Authenticator, auth.Directory) {
	if cfg.LDAP.URL != "" {
		la := auth.NewLDAPAuthenticator(cfg.LDAP, logger.With().Str("component", "ldap").Logger())
		logger.Info().Str("url", cfg.LDAP.URL).Msg("using ldap authenticator")
		return la, la
	}

	logger.Warn().Int("users", len(cfg.StaticUsers)).Msg("no directory configured, using static users")
	sa := auth.NewStaticAuthenticator(cfg.StaticUsers)
	return sa, sa
}

func startEmbeddedPostgres(cfg *config.Config, logger zerolog.Logger) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5433
		user     = "dirchat"
		password = "dirchat"
		dbName   = "dirchat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	pg := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(dbName).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "dirchat-pg-runtime")),
	)

	logger.Info().Msg("starting embedded postgres")
	if err := pg.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.Driver = database.DriverPostgres
	cfg.Database.DSN = fmt.Sprintf(
		"host=localhost port=%d user=%s password=%s dbname=%s sslmode=disable",
		port, user, password, dbName,
	)
	logger.Info().Int("port", port).Msg("embedded postgres running")
	return pg, nil
}
