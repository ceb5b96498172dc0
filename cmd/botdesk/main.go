package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/whatsapp-automation/botdesk/internal/api"
	"github.com/whatsapp-automation/botdesk/internal/config"
	"github.com/whatsapp-automation/botdesk/internal/convlog"
	"github.com/whatsapp-automation/botdesk/internal/logging"
	"github.com/whatsapp-automation/botdesk/internal/logic"
	"github.com/whatsapp-automation/botdesk/internal/logic/builtin"
	"github.com/whatsapp-automation/botdesk/internal/notify"
	"github.com/whatsapp-automation/botdesk/internal/realtime"
	"github.com/whatsapp-automation/botdesk/internal/router"
	"github.com/whatsapp-automation/botdesk/internal/session"
	"github.com/whatsapp-automation/botdesk/internal/telegram"
	"github.com/whatsapp-automation/botdesk/internal/whatsapp"
)

const version = "1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := hashPassword(os.Args[2:], os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg := config.Load()

	logger, err := logging.Init(logging.Options{
		Mode:     cfg.LogMode,
		Level:    cfg.LogLevel,
		Filename: cfg.LogFile,
	})
	if err != nil {
		log.Fatalf("Failed to initialise logging: %v", err)
	}
	defer logger.Sync()

	logger.Info("=== BotDesk starting ===",
		zap.String("version", version),
		zap.String("port", cfg.Port),
		zap.String("work_dir", cfg.WorkDir),
		zap.Stringer("proxy", cfg.Proxy),
	)

	provider, err := whatsapp.NewProvider(whatsapp.ProviderOptions{
		SessionsDir: cfg.SessionsDir,
		QRCodeDir:   cfg.QRCodeDir,
		OSName:      cfg.DeviceOSName,
		Proxy:       cfg.Proxy,
	})
	if err != nil {
		logger.Fatal("failed to prepare credential store", zap.Error(err))
	}

	bus := notify.NewBus()
	transcripts := convlog.New(cfg.ConversationLogsDir, cfg.Location())

	registry := logic.NewRegistry(cfg.LogicsDir, transcripts, bus)
	builtin.RegisterAll(registry)
	registry.LoadAll()

	dispatcher, err := router.New(registry, router.Options{
		PoolSize:       cfg.DispatchPoolSize,
		HandlerTimeout: cfg.HandlerTimeout,
	})
	if err != nil {
		logger.Fatal("failed to create router", zap.Error(err))
	}

	manager := session.NewManager(provider, dispatcher, bus, session.Options{
		RestartDelay:   cfg.RestartDelay,
		HardResetDelay: cfg.HardResetDelay,
		RouteGroups:    cfg.RouteGroups,
	})

	users, err := realtime.LoadUsers(cfg.UsersFile, cfg.DefaultAdminUser, cfg.DefaultAdminPassword)
	if err != nil {
		logger.Fatal("failed to load dashboard users", zap.Error(err))
	}

	hub := realtime.NewHub(realtime.Options{
		Devices:        manager,
		Logics:         registry,
		Transcripts:    transcripts,
		Auth:           users,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	hub.Attach(bus)

	if alerts := telegram.New(cfg.Telegram); alerts != nil {
		if err := alerts.Watch(bus); err != nil {
			logger.Warn("telegram alerts disabled", zap.Error(err))
		} else {
			logger.Info("telegram alerts enabled")
		}
	}

	stats := session.NewAggregator(manager, bus, cfg.StatsInterval)
	if cfg.StatsDailyReset {
		if err := stats.EnableDailyReset(cfg.Location()); err != nil {
			logger.Warn("daily stats reset disabled", zap.Error(err))
		}
	}
	stats.Start()

	if cfg.AutoRestore {
		restore(provider, manager)
	}

	server := api.NewServer(api.Options{
		Devices:   manager,
		Logics:    registry,
		Auth:      users,
		Realtime:  hub,
		PublicDir: cfg.PublicDir,
		Version:   version,
	})

	r := mux.NewRouter()
	r.Use(api.LoggingMiddleware)
	server.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	stats.Stop()
	hub.Close()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	manager.Close()
	dispatcher.Close()
	logger.Info("bye")
}

// restore starts every device that has stored credentials.
func restore(provider *whatsapp.Provider, manager *session.Manager) {
	ids, err := provider.StoredDevices()
	if err != nil {
		zap.S().Errorf("[startup] failed to list stored sessions: %v", err)
		return
	}
	for _, id := range ids {
		if _, err := manager.Add(id); err != nil {
			zap.S().Errorf("[startup] failed to restore %s: %v", id, err)
		}
	}
	zap.S().Infof("[startup] %d sessions restored", len(ids))
}
