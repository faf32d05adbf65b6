package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minimartlab/minimart/backend/internal/auth"
	"github.com/minimartlab/minimart/backend/internal/cache"
	"github.com/minimartlab/minimart/backend/internal/config"
	"github.com/minimartlab/minimart/backend/internal/identity"
	"github.com/minimartlab/minimart/backend/internal/logging"
	"github.com/minimartlab/minimart/backend/internal/platform"
	"github.com/minimartlab/minimart/backend/internal/remote"
	"github.com/minimartlab/minimart/backend/internal/server"
	"github.com/minimartlab/minimart/backend/internal/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "minimart-api",
		Short: "Minimart storefront identity service",
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
	cmd.PersistentFlags().String("bridge-base-url", defaults.GetString("bridge.base_url"), "Host platform bridge base URL")
	cmd.PersistentFlags().String("bridge-app-id", defaults.GetString("bridge.app_id"), "Mini-app identifier issued by the host platform")
	cmd.PersistentFlags().String("data-base-url", defaults.GetString("data.base_url"), "Backend data service base URL")
	cmd.PersistentFlags().String("cache-path", defaults.GetString("cache.path"), "SQLite profile cache path")
	cmd.PersistentFlags().Int("session-token-ttl-minutes", defaults.GetInt("session.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("session-signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "bridge.base_url", "bridge-base-url")
	bindFlag(cmd, "bridge.app_id", "bridge-app-id")
	bindFlag(cmd, "data.base_url", "data-base-url")
	bindFlag(cmd, "cache.path", "cache-path")
	bindFlag(cmd, "session.token_ttl_minutes", "session-token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "session-signing-secret")
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

	cacheStore, err := cache.Open(appConfig.CachePath, logger)
	if err != nil {
		return err
	}

	gateway, err := platform.NewBridgeGateway(platform.BridgeConfig{
		BaseURL: appConfig.BridgeBaseURL,
		AppID:   appConfig.BridgeAppID,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	remoteStore, err := remote.NewClient(remote.ClientConfig{
		BaseURL: appConfig.DataServiceURL,
		APIKey:  appConfig.DataServiceKey,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	reconciler, err := identity.NewService(identity.ServiceConfig{
		Gateway: gateway,
		Remote:  remoteStore,
		Cache:   cacheStore,
		Phones:  identity.NewPlaceholderResolver(),
		Clock:   time.Now,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	authSession, err := session.New(session.Config{
		Reconciler: reconciler,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	authSession.Bootstrap(ctx)

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SessionSecret),
		Issuer:        "minimart-auth",
		Audience:      "minimart-api",
		TokenTTL:      appConfig.SessionTokenTTL,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Session: authSession,
		Tokens:  tokenIssuer,
		Logger:  logger,
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
