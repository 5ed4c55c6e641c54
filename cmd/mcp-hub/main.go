// main implements the CLI for the MCP hub.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/kagenti/mcp-hub/internal/hub"
)

func main() {
	_ = godotenv.Load()

	var (
		addr         string
		settingsPath string
		signingKey   string
		sessionCache string
		loglevel     int
		logFormat    string
		hubName      string
	)

	flag.StringVar(&addr, "address", "0.0.0.0:8080", "the public address for the MCP hub")
	flag.StringVar(&settingsPath, "settings", "./config/mcp-hub/settings.json", "where to locate the hub settings document")
	flag.StringVar(&signingKey, "session-signing-key", os.Getenv("MCP_HUB_SESSION_SIGNING_KEY"), "key used to sign downstream session ids")
	flag.StringVar(&sessionCache, "session-cache-url", os.Getenv("MCP_HUB_SESSION_CACHE_URL"), "redis connection string; empty uses an in-memory session cache")
	flag.IntVar(&loglevel, "log-level", int(slog.LevelInfo), "set the log level 0=info, 4=warn, 8=error, -4=debug")
	flag.StringVar(&logFormat, "log-format", "txt", "switch to json logs with --log-format=json")
	flag.StringVar(&hubName, "hub-name", "mcp-hub", "display name advertised by the global MCP endpoint")
	flag.Parse()

	slog.SetLogLoggerLevel(slog.Level(loglevel))
	handlerOpts := &slog.HandlerOptions{Level: slog.Level(loglevel)}
	logger := slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
	if logFormat == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	}

	if signingKey == "" {
		signingKey = randomSigningKey()
		logger.Warn("no session signing key configured, generated an ephemeral one; sessions will not survive a restart")
	}

	ctx := context.Background()
	h, err := hub.New(ctx, hub.Config{
		HubName:           hubName,
		SettingsPath:      settingsPath,
		SessionSigningKey: signingKey,
		SessionCacheURL:   sessionCache,
	}, logger)
	if err != nil {
		log.Fatalf("failed to initialize hub: %v", err)
	}

	if err := h.Start(ctx); err != nil {
		log.Fatalf("failed to start hub: %v", err)
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           h.Router.Mux(h.JWTManager),
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	go func() {
		logger.Info("starting MCP hub", "listening", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-stop
	logger.Info("shutting down MCP hub")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v; ignoring", err)
	}
	h.Stop()
}

func randomSigningKey() string {
	return fmt.Sprintf("ephemeral-%d", time.Now().UnixNano())
}
