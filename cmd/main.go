package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shuklatul1021/Waveline/internal/config"
	"github.com/shuklatul1021/Waveline/internal/handler"
	"github.com/shuklatul1021/Waveline/internal/hub"
	"github.com/shuklatul1021/Waveline/internal/media"
	"github.com/shuklatul1021/Waveline/internal/meetings"
	"github.com/shuklatul1021/Waveline/internal/service"
	pkglog "github.com/shuklatul1021/Waveline/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "waveline-signal"})
	logger := pkglog.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting waveline-signal")

	// Initialize media engine
	engine, err := media.NewEngine(cfg.Media)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize media engine")
	}
	logger.Info().
		Uint16("udp_port_min", cfg.Media.UDPPortMin).
		Uint16("udp_port_max", cfg.Media.UDPPortMax).
		Msg("media engine ready")

	// Initialize meetings directory client
	var meetingsClient *meetings.Client
	if cfg.Meetings.Enabled {
		meetingsClient = meetings.NewClient(cfg.Meetings.HTTPAddress, cfg.Meetings.CacheTTL)
		logger.Info().Str("address", cfg.Meetings.HTTPAddress).Msg("meetings directory client configured")
	}

	// Initialize hub
	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run()

	// Initialize registry and service
	registry := service.NewRegistry(engine)
	signalSvc := service.NewSignalService(registry)

	// Initialize handler
	wsHandler := handler.NewWSHandler(wsHub, signalSvc, meetingsClient)

	// Setup HTTP server
	mux := http.NewServeMux()
	wsHandler.RegisterRoutes(mux)

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      pkglog.HTTPMiddleware(logger)(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("waveline-signal listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down waveline-signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := registry.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("registry shutdown failed")
	}

	logger.Info().Msg("waveline-signal stopped")
}
