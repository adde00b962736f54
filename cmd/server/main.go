package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"openchamber-relay/internal/api"
	"openchamber-relay/internal/auth"
	"openchamber-relay/internal/config"
	"openchamber-relay/internal/relay"
	"openchamber-relay/internal/term"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	// First run: materialize runtime.json so there is a file to edit.
	if _, err := os.Stat(config.ConfigPath()); os.IsNotExist(err) {
		if err := config.Save(cfg); err != nil {
			logger.Warn("write default config", "error", err)
		}
	}

	password := auth.InitPassword(cfg.Password)
	authSvc, err := auth.NewService(password, 0)
	if err != nil {
		logger.Error("init auth", "error", err)
		os.Exit(1)
	}
	if authSvc.Enabled() {
		logger.Info("password protection enabled")
	} else {
		logger.Warn("password protection disabled, all clients are trusted")
	}

	sessions := term.NewManager(term.Config{
		Shell:      cfg.Shell,
		DefaultDir: cfg.DefaultDir,
		IdleTTL:    cfg.IdleTTL(),
	}, logger)

	router := relay.NewRouter(relay.ResolverFunc(func(id string) (relay.InputSink, bool) {
		s := sessions.Get(id)
		if s == nil || s.Closed() {
			return nil, false
		}
		return s, true
	}))

	wsHandler := relay.NewHandler(router, authSvc, relay.Options{
		MalformedFrameLimit:  cfg.Protocol.FrameLimit(),
		MalformedFrameWindow: cfg.Protocol.MalformedWindow(),
	}, logger)

	apiHandler := api.NewHandler(sessions, authSvc, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", apiHandler.HandleLogin)
	mux.HandleFunc("/api/auth/validate", api.AuthMiddleware(authSvc, apiHandler.HandleValidate))
	mux.HandleFunc("/api/sessions", api.AuthMiddleware(authSvc, apiHandler.HandleSessions))
	mux.HandleFunc("/api/sessions/", api.AuthMiddleware(authSvc, apiHandler.HandleSessionByID))
	mux.HandleFunc("/api/terminal/input-ws", wsHandler.ServeWS)
	mux.HandleFunc("/api/terminal/", api.AuthMiddleware(authSvc, apiHandler.HandleTerminal))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
