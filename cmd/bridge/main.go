package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rmendes/anycubic-cloud-bridge/internal/auth"
	"github.com/rmendes/anycubic-cloud-bridge/internal/bridge"
	"github.com/rmendes/anycubic-cloud-bridge/internal/config"
	"github.com/rmendes/anycubic-cloud-bridge/internal/registry"
	"github.com/rmendes/anycubic-cloud-bridge/internal/routing"
	"github.com/rmendes/anycubic-cloud-bridge/internal/services"
	"github.com/rmendes/anycubic-cloud-bridge/pkg/anycubic"
	"github.com/rmendes/anycubic-cloud-bridge/pkg/file"
	"github.com/rmendes/anycubic-cloud-bridge/pkg/identity"
	pkgmqtt "github.com/rmendes/anycubic-cloud-bridge/pkg/mqtt"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	// Set up structured logging with JSON output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	fileClient := file.NewFileService()

	cfg, err := config.LoadConfig(*configPath, fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		logger = logger.Level(level)
	}

	// Configuration errors are the only process-fatal class; fail before
	// attempting any connection.
	if err := cfg.Validate(fileClient); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	mode, err := cfg.AuthMode()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid authentication mode")
	}
	token := cfg.Token(mode)

	deviceInfo := identity.NewDeviceInfo(cfg.Auth.DeviceID, cfg.Auth.DeviceFile, fileClient)
	if err := deviceInfo.LoadDeviceInfo(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load device information")
	}

	api := anycubic.NewAPI(cfg.Auth.SSLCertDir, logger)
	session := auth.NewSessionManager(mode, token, deviceInfo, api, logger)

	// Printer metadata backs publish-by-key routing and HA discovery. A
	// failed load is not fatal; affected commands are rejected instead.
	printerRegistry := registry.NewPrinterRegistry(logger)
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	if err := printerRegistry.LoadFromCloud(loadCtx, api, token); err != nil {
		logger.Warn().Err(err).Msg("Failed to load printers, publish-by-key commands will be rejected")
	}
	cancelLoad()

	router := routing.NewRouter(cfg.LocalMQTT.BaseTopic, cfg.Cloud.AllowPublishPrefix, printerRegistry)

	ca, cert, key := anycubic.CertPaths(cfg.Auth.SSLCertDir)
	tlsConfig, err := pkgmqtt.NewTLSConfig(fileClient, ca, cert, key)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build cloud TLS configuration")
	}

	connectTimeout := cfg.Connection.ConnectTimeout * time.Second
	backoffFloor := cfg.Connection.BackoffFloor * time.Second
	backoffCeiling := cfg.Connection.BackoffCeiling * time.Second
	stabilityThreshold := cfg.Connection.StabilityThreshold * time.Second

	cloudLink := pkgmqtt.NewLink(pkgmqtt.Options{
		Role: "cloud",
		Credentials: func(ctx context.Context) (pkgmqtt.Credentials, error) {
			creds, err := session.Resolve(ctx)
			if err != nil {
				return pkgmqtt.Credentials{}, err
			}
			return pkgmqtt.Credentials{
				BrokerURL: creds.BrokerURL,
				ClientID:  creds.ClientID,
				Username:  creds.Username,
				Password:  creds.Password,
				TLS:       tlsConfig,
			}, nil
		},
		// Everything the vendor broker routes to this session.
		Subscriptions:      []pkgmqtt.Subscription{{Topic: "#", QOS: 1}},
		ConnectTimeout:     connectTimeout,
		BackoffFloor:       backoffFloor,
		BackoffCeiling:     backoffCeiling,
		StabilityThreshold: stabilityThreshold,
	}, pkgmqtt.NewPahoTransport, logger)

	cloudLink.OnAuthFailure(func(err error) {
		logger.Warn().Err(err).Msg("Cloud broker rejected credentials, forcing re-authentication")
		session.Invalidate()
	})

	// Generate a unique local client ID by appending a UUID
	localClientID := cfg.LocalMQTT.ClientID + "-" + uuid.New().String()
	localBrokerURL := fmt.Sprintf("tcp://%s:%d", cfg.LocalMQTT.Host, cfg.LocalMQTT.Port)
	localCredentials := pkgmqtt.Credentials{
		BrokerURL: localBrokerURL,
		ClientID:  localClientID,
		Username:  cfg.LocalMQTT.Username,
		Password:  cfg.LocalMQTT.Password,
	}

	localLink := pkgmqtt.NewLink(pkgmqtt.Options{
		Role: "local",
		Credentials: func(_ context.Context) (pkgmqtt.Credentials, error) {
			return localCredentials, nil
		},
		Subscriptions: []pkgmqtt.Subscription{
			{Topic: router.RawCommandTopic(), QOS: 1},
			{Topic: router.PublishCommandFilter(), QOS: 1},
		},
		ConnectTimeout:     connectTimeout,
		BackoffFloor:       backoffFloor,
		BackoffCeiling:     backoffCeiling,
		StabilityThreshold: stabilityThreshold,
	}, pkgmqtt.NewPahoTransport, logger)

	bridgeCore := bridge.New(cloudLink, localLink, router, logger)
	if err := bridgeCore.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start bridge")
	}

	serviceRegistry := services.NewRegistry(logger)
	if cfg.Services.Discovery.Enabled {
		serviceRegistry.Register("discovery", services.NewDiscoveryService(
			cfg.LocalMQTT.BaseTopic,
			cfg.Services.Discovery.Interval*time.Second,
			printerRegistry,
			localLink,
			logger,
		))
	}
	if cfg.Services.Telemetry.Enabled {
		serviceRegistry.Register("telemetry", services.NewTelemetryService(
			cfg.LocalMQTT.BaseTopic+"/"+cfg.Services.Telemetry.TopicSuffix,
			cfg.Services.Telemetry.Interval*time.Second,
			localLink,
			func() map[string]string {
				return map[string]string{
					"cloud": cloudLink.State().String(),
					"local": localLink.State().String(),
				}
			},
			logger,
		))
	}
	if err := serviceRegistry.StartAll(); err != nil {
		logger.Error().Err(err).Msg("Failed to start auxiliary services")
	}

	logger.Info().Msg("Bridge running, forwarding between cloud and local brokers")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopAll(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop auxiliary services cleanly")
	}
	bridgeCore.Stop()
}
