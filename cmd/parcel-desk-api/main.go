package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/config"
	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/database"
	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/parcels"
	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/server"
	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/whatsapp"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "parcel-desk-api",
		Short: "Dormitory parcel desk backend service",
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
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres connection string (overrides env)")
	cmd.PersistentFlags().String("whatsapp-driver", defaults.GetString("whatsapp.driver"), "WhatsApp client (gateway, console)")
	cmd.PersistentFlags().String("whatsapp-gateway-url", defaults.GetString("whatsapp.gateway_url"), "WhatsApp gateway base URL")
	cmd.PersistentFlags().String("whatsapp-session-id", defaults.GetString("whatsapp.session_id"), "WhatsApp gateway session identifier")
	cmd.PersistentFlags().String("timezone", defaults.GetString("notify.timezone"), "Time zone used in messages and reports")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "whatsapp.driver", "whatsapp-driver")
	bindFlag(cmd, "whatsapp.gateway_url", "whatsapp-gateway-url")
	bindFlag(cmd, "whatsapp.session_id", "whatsapp-session-id")
	bindFlag(cmd, "notify.timezone", "timezone")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

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

	location, err := appConfig.Notify.Location()
	if err != nil {
		return err
	}

	db, err := database.Open(database.Options{
		Driver: appConfig.Database.Driver,
		Path:   appConfig.Database.Path,
		DSN:    appConfig.Database.DSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store := parcels.NewGormStore(db)
	idProvider := parcels.NewUUIDProvider()

	client, err := newWhatsAppClient(appConfig.WhatsApp, logger)
	if err != nil {
		return err
	}
	session, err := whatsapp.NewSession(whatsapp.SessionConfig{
		Client:            client,
		Logger:            logger.Named("whatsapp"),
		ReconnectDelay:    appConfig.WhatsApp.ReconnectDelay,
		MaxReconnectDelay: appConfig.WhatsApp.MaxReconnectDelay,
		RestartDelay:      appConfig.WhatsApp.RestartDelay,
		AuthFailurePolicy: whatsapp.AuthFailurePolicy(appConfig.WhatsApp.AuthFailurePolicy),
	})
	if err != nil {
		return err
	}

	dispatcher, err := notify.NewDispatcher(notify.DispatcherConfig{
		Channel:     session,
		Journal:     store,
		IDProvider:  idProvider,
		Logger:      logger.Named("notify"),
		CountryCode: appConfig.Notify.CountryCode,
		MinDigits:   appConfig.Notify.MinDigits,
		HistorySize: appConfig.Notify.HistorySize,
		SendTimeout: appConfig.WhatsApp.SendTimeout,
		Location:    location,
	})
	if err != nil {
		return err
	}
	if appConfig.Notify.ResetHistoryOnRestart {
		session.OnRestart(dispatcher.ResetHistory)
	}

	parcelService, err := parcels.NewService(parcels.ServiceConfig{
		Store:            store,
		Notifier:         dispatcher,
		Clock:            time.Now,
		IDProvider:       idProvider,
		Logger:           logger.Named("parcels"),
		OperationTimeout: appConfig.Database.Timeout,
		Location:         location,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Parcels: parcelService,
		Session: session,
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

	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		if err := session.Run(signalCtx); err != nil {
			logger.Error("whatsapp session stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.Database.Driver),
			zap.String("whatsapp_driver", appConfig.WhatsApp.Driver))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		<-sessionDone
		return err
	case err := <-errCh:
		stop()
		<-sessionDone
		return err
	}
}

func newWhatsAppClient(cfg config.WhatsAppConfig, logger *zap.Logger) (whatsapp.Client, error) {
	switch cfg.Driver {
	case "console":
		return whatsapp.NewConsoleClient(logger.Named("whatsapp.console")), nil
	default:
		return whatsapp.NewGatewayClient(whatsapp.GatewayConfig{
			BaseURL:   cfg.GatewayURL,
			SessionID: cfg.SessionID,
			Logger:    logger.Named("whatsapp.gateway"),
		})
	}
}
