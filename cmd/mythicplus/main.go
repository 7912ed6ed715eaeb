package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/adaxion/LibMythicPlus/internal/api"
	"github.com/adaxion/LibMythicPlus/internal/client"
	"github.com/adaxion/LibMythicPlus/internal/config"
	"github.com/adaxion/LibMythicPlus/internal/retry"
	"github.com/adaxion/LibMythicPlus/internal/store"
	"github.com/adaxion/LibMythicPlus/internal/transport/ws"
	"github.com/adaxion/LibMythicPlus/service"
	"github.com/sirupsen/logrus"
)

func main() {
	// Configure the logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Error loading config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logger.WithError(err).Warn("Unknown LOG_LEVEL, keeping info")
	} else {
		logger.SetLevel(level)
	}

	logger.Info("Starting Mythic+ run tracker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := store.NewRedisClient(cfg.RedisAddrs, cfg.RedisPass, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("Error initializing Redis client: %v", err)
	}

	opts := service.Options{
		Store: redisClient,
		Retry: retry.Policy{
			MaxAttempts: cfg.RetryCeiling,
			NewBackOff:  retry.JitteredDelay(cfg.RetryDelay, cfg.RetryJitter),
		},
		Channel:              cfg.PeerChannel,
		ZoneDebounce:         cfg.ZoneDebounce,
		InspectTimeout:       cfg.InspectTimeout,
		InstanceResetPattern: cfg.InstanceResetPattern,
	}

	if cfg.MinioEndpoint != "" {
		minioClient, err := store.NewMinioClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logger.Fatalf("Error initializing MinIO client: %v", err)
		}
		if err := minioClient.EnsureBucket(ctx); err != nil {
			logger.Fatalf("Error preparing MinIO bucket: %v", err)
		}
		opts.Archiver = minioClient
	}

	var peerClient *ws.Client
	if cfg.PeerRelayURL != "" {
		peerClient, err = ws.NewClient(cfg.PeerRelayURL, ws.Groups{Party: cfg.PartyID, Guild: cfg.GuildID}, logger)
		if err != nil {
			logger.Fatalf("Error initializing peer relay client: %v", err)
		}
		opts.Transport = peerClient
	}

	hostClient := client.NewHostClient(cfg, logger)
	tracker, err := service.NewTracker(hostClient, opts, logger)
	if err != nil {
		logger.Fatalf("Error initializing tracker: %v", err)
	}
	defer tracker.Close()

	if err := tracker.Start(ctx); err != nil {
		logger.Fatalf("Error starting tracker: %v", err)
	}

	if peerClient != nil {
		go func() {
			if err := peerClient.Run(ctx, tracker.Peers.Channel(), tracker.Peers.Receive); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("Peer relay connection given up")
			}
		}()
	}

	var relay http.Handler
	if cfg.RelayEnabled {
		relay = ws.NewHub(logger)
	}

	server := api.NewServer(redisClient, tracker, relay, logger)

	// Start the server
	if err := server.Run(":" + cfg.AppPort); err != nil {
		logger.Fatalf("Error running server: %v", err)
	}
}
