package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/pflag"

	"organimate/internal/broker"
	"organimate/internal/chat"
	"organimate/internal/config"
	"organimate/internal/db"
	"organimate/internal/directory"
	myMiddleware "organimate/internal/middleware"
	"organimate/internal/notify"
	"organimate/internal/user"
	"organimate/internal/validator"
)

func main() {
	configPath := pflag.String("config", "", "path to a YAML config file")
	addr := pflag.String("addr", "", "http service address (overrides config)")
	migrate := pflag.Bool("migrate", true, "apply the database schema on startup")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *migrate, logger); err != nil {
		logger.Error("Server stopped", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, migrate bool, logger *slog.Logger) error {
	database, err := db.NewDatabase(ctx, cfg.DSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer database.Close()
	logger.Info("Connected to PostgreSQL")

	if migrate {
		if err := database.AutoMigrate(ctx); err != nil {
			return err
		}
		logger.Info("Database schema initialized")
	}

	var events chat.Broker
	switch cfg.Broker {
	case "memory":
		events = broker.NewMemory()
		logger.Warn("Using in-memory broker; live updates reach this instance only")
	default:
		redisBroker, err := broker.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer redisBroker.Close()
		events = redisBroker
		logger.Info("Connected to Redis", "addr", cfg.RedisAddr)
	}

	val := validator.New()

	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService, val, logger)

	hub := chat.NewHub(events, logger.With("component", "hub"))
	hubErr := make(chan error, 1)
	go func() { hubErr <- hub.Run(ctx) }()

	chatRepo := chat.NewRepository(database.Conn)
	chatService := chat.NewService(chatRepo, hub, logger.With("component", "chat"),
		chat.WithAggregateLimit(cfg.AggregateLimit))
	chatHandler := chat.NewHandler(chatService, directory.New(database.Conn), notify.New(), logger)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.With(myMiddleware.RequireRole(user.RoleAdmin, user.RoleCompany)).
			Get("/api/users/search", userHandler.SearchUsers)
		chatHandler.Routes(r)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "addr", cfg.Addr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-hubErr:
		if err != nil {
			logger.Error("Hub stopped", "error", err.Error())
		}
	case err := <-srvErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown; they end
	// when the hub closes their subscriptions.
	return srv.Shutdown(shutdownCtx)
}
