package main

//	@title			Homewatch API
//	@version		0.1.0
//	@description	Home presence and camera monitoring daemon API.
//	@BasePath		/api/v1

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	_ "github.com/HerbHall/homewatch/api/swagger"
	"github.com/HerbHall/homewatch/internal/camera"
	"github.com/HerbHall/homewatch/internal/config"
	"github.com/HerbHall/homewatch/internal/event"
	"github.com/HerbHall/homewatch/internal/mqtt"
	"github.com/HerbHall/homewatch/internal/registry"
	"github.com/HerbHall/homewatch/internal/router"
	"github.com/HerbHall/homewatch/internal/server"
	"github.com/HerbHall/homewatch/internal/version"
	"github.com/HerbHall/homewatch/internal/webhook"
	"github.com/HerbHall/homewatch/internal/ws"
	"github.com/HerbHall/homewatch/pkg/plugin"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(version.Info())
		return
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(viperCfg)

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("homewatch starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	bus := event.NewBus(logger.Named("event"))
	reg := registry.New(logger.Named("registry"))

	// Register all plugins (compile-time composition)
	modules := []plugin.Plugin{
		router.New(),
		camera.New(),
		mqtt.New(),
		webhook.New(),
	}
	for _, m := range modules {
		if err := reg.Register(m); err != nil {
			logger.Fatal("failed to register plugin", zap.Error(err))
		}
		name := m.Info().Name
		key := "plugins." + name + ".enabled"
		if viperCfg.IsSet(key) && !viperCfg.GetBool(key) {
			reg.Disable(name)
			logger.Info("plugin disabled by configuration", zap.String("plugin", name))
		}
	}

	if err := reg.Validate(); err != nil {
		logger.Fatal("plugin validation failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config:  cfg.Sub("plugins." + name),
			Logger:  logger.Named(name),
			Bus:     bus,
			Plugins: reg,
		}
	}); err != nil {
		logger.Fatal("failed to initialize plugins", zap.Error(err))
	}

	// The WebSocket feed subscribes before any plugin starts publishing.
	wsHandler := ws.NewHandler(bus, logger.Named("ws"))

	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("failed to start plugins", zap.Error(err))
	}

	// Filter rules and other hot-reloadable settings are re-read by the
	// plugins that subscribe to the reload topic.
	config.Watch(viperCfg, logger.Named("config"), func(e fsnotify.Event) {
		bus.PublishAsync(ctx, plugin.Event{
			Topic:     config.TopicReloaded,
			Source:    "core",
			Timestamp: time.Now(),
			Payload:   cfg,
		})
	})

	var started atomic.Bool
	started.Store(true)
	readyCheck := server.ReadinessChecker(func(context.Context) error {
		if !started.Load() {
			return errors.New("shutting down")
		}
		return nil
	})

	srvCfg := server.ConfigFrom(viperCfg)
	logger.Info("HTTP server configured",
		zap.String("component", "server"),
		zap.String("addr", srvCfg.Addr()),
		zap.Bool("dev_mode", srvCfg.DevMode),
	)
	srv := server.New(srvCfg, reg, logger, readyCheck, wsHandler)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("homewatch ready", zap.String("addr", srvCfg.Addr()))
	fmt.Fprintf(os.Stderr, "\n  Homewatch %s is ready on http://localhost:%d\n\n", version.Short(), srvCfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	started.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	wsHandler.Close()
	reg.StopAll(shutdownCtx)
	reg.Unsubscribe()
	if err := bus.Drain(shutdownCtx); err != nil {
		logger.Warn("event handlers still running at exit", zap.Error(err))
	}

	logger.Info("homewatch stopped")
}
