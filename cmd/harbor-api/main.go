package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/harborlabs/harbor/backend/internal/auth"
	"github.com/harborlabs/harbor/backend/internal/chat"
	"github.com/harborlabs/harbor/backend/internal/config"
	"github.com/harborlabs/harbor/backend/internal/conversations"
	"github.com/harborlabs/harbor/backend/internal/database"
	"github.com/harborlabs/harbor/backend/internal/logging"
	"github.com/harborlabs/harbor/backend/internal/presence"
	"github.com/harborlabs/harbor/backend/internal/realtime"
	"github.com/harborlabs/harbor/backend/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "harbor-api",
		Short: "Harbor peer support backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("redis-url", defaults.GetString("redis.url"), "Redis URL for shared presence (empty keeps presence in memory)")
	cmd.PersistentFlags().String("nats-url", defaults.GetString("nats.url"), "NATS URL for the realtime plane (empty keeps events in process)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "nats.url", "nats-url")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "harbor-id",
		CookieName:    "harbor_session",
	})
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "harbor-auth",
		Audience:      "harbor-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	presenceStore, closeStore, err := buildPresenceStore(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	tracker, err := presence.NewTracker(presence.TrackerConfig{
		Store:            presenceStore,
		OfflineThreshold: appConfig.PresenceOfflineThreshold,
		CleanupInterval:  appConfig.PresenceCleanupInterval,
		CacheMaxAge:      appConfig.PresenceCacheMaxAge,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	stream, publisher, closeStream, err := buildRealtimePlane(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStream()

	sender, err := chat.NewSender(publisher, appConfig.RealtimeChannel, nil)
	if err != nil {
		return err
	}

	conversationService, err := conversations.NewService(conversations.ServiceConfig{
		Database:  db,
		Announcer: sender,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:      sessionValidator,
		TokenManager:  tokenManager,
		Presence:      tracker,
		Messages:      sender,
		Conversations: conversationService,
		Stream:        stream,
		Channel:       appConfig.RealtimeChannel,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildPresenceStore keeps heartbeats in memory for single instances and in
// Redis when a shared store is configured.
func buildPresenceStore(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (presence.Store, func(), error) {
	if appConfig.RedisURL == "" {
		return presence.NewMemoryStore(), func() {}, nil
	}
	store, err := presence.NewRedisStore(ctx, appConfig.RedisURL, appConfig.PresenceOfflineThreshold)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("presence store using redis", zap.String("url", appConfig.RedisURL))
	return store, func() { _ = store.Close() }, nil
}

// buildRealtimePlane wires the event stream: an in-process broker by
// default, or NATS when a URL is configured.
func buildRealtimePlane(appConfig config.AppConfig, logger *zap.Logger) (realtime.Subscriber, realtime.Publisher, func(), error) {
	if appConfig.NATSURL == "" {
		broker := realtime.NewBroker()
		return broker, broker, func() {}, nil
	}
	conn, err := nats.Connect(appConfig.NATSURL)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("realtime plane using nats", zap.String("url", appConfig.NATSURL))
	stream := realtime.NewNATSStream(conn, "harbor")
	return stream, stream, func() { conn.Close() }, nil
}
