package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/scidb-shim/shimgate/internal/api"
	"github.com/scidb-shim/shimgate/internal/config"
	"github.com/scidb-shim/shimgate/internal/drain"
	"github.com/scidb-shim/shimgate/internal/engine"
	"github.com/scidb-shim/shimgate/internal/executor"
	"github.com/scidb-shim/shimgate/internal/health"
	"github.com/scidb-shim/shimgate/internal/metrics"
	"github.com/scidb-shim/shimgate/internal/session"
)

func main() {
	configPath := flag.String("config", "configs/shimgate.yaml", "path to configuration file")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("shimgate starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Configuration loaded from %s (engine %s:%d, max_sessions %d)",
		*configPath, cfg.Engine.Host, cfg.Engine.Port, cfg.Pool.MaxSessions)

	pidLock, err := acquirePidFile(cfg.PidFile)
	if err != nil {
		log.Fatalf("Failed to acquire pidfile %s: %v", cfg.PidFile, err)
	}
	defer pidLock.Unlock()

	m := metrics.New()

	engineAddr := engine.Addr(cfg.Engine.Host, cfg.Engine.Port)
	dial := func(ctx context.Context, user, password string) (*engine.Client, error) {
		return engine.Dial(ctx, engineAddr, user, password)
	}
	pool := session.NewPool(cfg.Pool.MaxSessions, cfg.Pool.Timeout, cfg.Staging.TempDir, dial)

	ex := executor.New(pool, executor.Config{
		SaveInstance: cfg.Engine.SaveInstance,
		UseAIO:       cfg.Engine.UseAIO,
	})
	dr := drain.New(pool)

	hc := health.New(engineAddr, cfg.Staging.TempDir, cfg.Health.Interval, cfg.Health.DialTimeout, cfg.Health.FailureThreshold, m)
	hc.Start()

	server := api.NewServer(pool, ex, dr, hc, m, cfg.Listen, cfg.Engine.LogPath)
	if err := server.Start(cfg.Listen.Port); err != nil {
		log.Fatalf("Failed to start HTTP server: %v", err)
	}
	if cfg.Listen.TLSEnabled() {
		log.Printf("TLS certificate present; configure a terminator or extend Start to serve %d directly", cfg.Listen.TLSPort)
	}

	statsStop := startPoolStatsLoop(pool, m, 5*time.Second)

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		log.Printf("configuration changed; restart shimgate to apply pool/listen changes")
	})
	if err != nil {
		log.Printf("Warning: config hot-reload not available: %v", err)
	}

	log.Printf("shimgate ready on port %d (engine %s)", cfg.Listen.Port, engineAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %s, shutting down...", sig)

	close(statsStop)
	if configWatcher != nil {
		configWatcher.Stop()
	}
	server.Stop()
	hc.Stop()
	pool.ShutdownCleanup()

	log.Printf("shimgate stopped")
}

// acquirePidFile writes the current pid to path under an advisory lock,
// refusing to start if another instance already holds it (§6 persisted
// state).
func acquirePidFile(path string) (*flock.Flock, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking pidfile: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another instance already holds %s", path)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("writing pidfile: %w", err)
	}
	return fl, nil
}

// startPoolStatsLoop periodically pushes pool occupancy into the
// metrics collector; returns a channel that stops the loop when closed.
func startPoolStatsLoop(pool *session.Pool, m *metrics.Collector, interval time.Duration) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				st := pool.Stats()
				m.SetPoolStats(st.Available, st.Unavailable, st.Total)
			case <-stop:
				return
			}
		}
	}()
	return stop
}
