package main

import (
	"context"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"chat-notify/internal/auth"
	"chat-notify/internal/cipher"
	"chat-notify/internal/config"
	"chat-notify/internal/database"
	"chat-notify/internal/handlers"
	"chat-notify/internal/services"
	"chat-notify/internal/telemetry"
	"chat-notify/internal/websocket"
	"chat-notify/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	log := logger.GlobalLogger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry: %v", err)
	}

	// The cipher key is loaded once and shared by reference
	msgCipher, err := cipher.New(cfg.Crypto.Key)
	if err != nil {
		logger.Fatal("Failed to initialize cipher: %v", err)
	}

	// Initialize database
	db, err := database.NewPostgresDB(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize services
	authService := auth.NewService(db, cfg.JWT.Secret)
	presence := services.NewPresenceTracker(db, log)
	registry := websocket.NewRegistry(log)

	// Sessions outlive individual requests and end when sessionCtx is cancelled
	sessionCtx, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()

	// Initialize handlers
	wsHandlers := handlers.NewWebSocketHandlers(sessionCtx, authService, db, msgCipher, registry, presence, websocket.SessionConfig{
		PollInterval: cfg.Notify.PollInterval,
		PongWait:     cfg.Notify.PongWait,
		ReadLimit:    cfg.Notify.ReadLimit,
	}, cfg.Notify.WriteWait, log)
	adminHandlers := handlers.NewAdminHandlers(registry, cfg.Admin.Token, log)

	// Setup routes
	mux := http.NewServeMux()
	setupRoutes(mux, wsHandlers, adminHandlers, db)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("🚀 Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("📡 Notification endpoint: ws://localhost%s/notification?token=...", cfg.Server.Port)
	printAPIEndpoints(cfg.Admin.Token != "")

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	<-ctx.Done()
	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error: %v", err)
	}
	cancelSessions()
	if err := wsHandlers.Wait(shutdownCtx); err != nil {
		logger.Error("Sessions did not finish cleanup in time: %v", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error("Telemetry shutdown error: %v", err)
	}
	logger.Info("Server stopped")
}

func setupRoutes(mux *http.ServeMux, wsHandlers *handlers.WebSocketHandlers, adminHandlers *handlers.AdminHandlers, db handlers.Pinger) {
	// WebSocket route
	mux.HandleFunc("/notification", wsHandlers.HandleNotifications)

	mux.HandleFunc("/healthz", handlers.Health(db))

	// Admin routes
	mux.HandleFunc("/notifications/online", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		adminHandlers.Online(w, r)
	})

	mux.HandleFunc("/notifications/broadcast", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		adminHandlers.Broadcast(w, r)
	})

	// /notifications/users/{id}
	mux.HandleFunc("/notifications/users/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[2] == "" {
			http.Error(w, "endpoint not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		adminHandlers.PushToUser(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Token")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func printAPIEndpoints(admin bool) {
	logger.Info("🔗 API endpoints:")
	logger.Info("   GET  /notification (websocket)")
	logger.Info("   GET  /healthz")
	if !admin {
		logger.Info("   admin endpoints disabled (ADMIN_TOKEN not set)")
		return
	}
	logger.Info("   GET  /notifications/online")
	logger.Info("   POST /notifications/broadcast")
	logger.Info("   POST /notifications/users/{id}")
}
