// Package config loads and hot-reloads the gateway's YAML configuration.
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Engine   EngineConfig   `yaml:"engine"`
	Pool     PoolConfig     `yaml:"pool"`
	Staging  StagingConfig  `yaml:"staging"`
	Health   HealthConfig   `yaml:"health"`
	PidFile  string         `yaml:"pid_file"`
}

// ListenConfig defines the ports and static content the gateway serves.
type ListenConfig struct {
	Port         int    `yaml:"port"`
	TLSPort      int    `yaml:"tls_port"`
	TLSCert      string `yaml:"tls_cert"`
	TLSKey       string `yaml:"tls_key"`
	DocumentRoot string `yaml:"document_root"`
}

// EngineConfig describes how to reach the analytic engine.
type EngineConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	SaveInstance int    `yaml:"save_instance"`
	UseAIO       bool   `yaml:"accelerated_save"`
	LogPath      string `yaml:"log_path"`
}

// PoolConfig bounds the session pool.
type PoolConfig struct {
	MaxSessions int           `yaml:"max_sessions"`
	Timeout     time.Duration `yaml:"timeout"`
}

// StagingConfig configures the staging buffer manager.
type StagingConfig struct {
	TempDir string `yaml:"temp_dir"`
}

// HealthConfig configures the ambient engine-connectivity checker.
type HealthConfig struct {
	Interval         time.Duration `yaml:"interval"`
	FailureThreshold int           `yaml:"failure_threshold"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
}

const (
	hardMaxSessions = 100
	minTimeout      = 60 * time.Second
)

// TLSEnabled reports whether TLS is configured AND the certificate files
// are present on disk. A missing cert makes TLS count as disabled at
// startup rather than failing at TLS-handshake time, mirroring the
// source's startup-time SSL cert probe.
func (lc ListenConfig) TLSEnabled() bool {
	if lc.TLSCert == "" || lc.TLSKey == "" {
		return false
	}
	if _, err := os.Stat(lc.TLSCert); err != nil {
		return false
	}
	if _, err := os.Stat(lc.TLSKey); err != nil {
		return false
	}
	return true
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.Port == 0 {
		cfg.Listen.Port = 8080
	}
	if cfg.Listen.TLSPort == 0 {
		cfg.Listen.TLSPort = 8083
	}
	if cfg.Engine.Host == "" {
		cfg.Engine.Host = "localhost"
	}
	if cfg.Engine.Port == 0 {
		cfg.Engine.Port = 1239
	}
	if cfg.Pool.MaxSessions == 0 {
		cfg.Pool.MaxSessions = 50
	}
	if cfg.Pool.Timeout == 0 {
		cfg.Pool.Timeout = 60 * time.Second
	}
	if cfg.Staging.TempDir == "" {
		cfg.Staging.TempDir = os.TempDir()
	}
	if cfg.PidFile == "" {
		cfg.PidFile = "/tmp/shimgate.pid"
	}
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = 15 * time.Second
	}
	if cfg.Health.FailureThreshold == 0 {
		cfg.Health.FailureThreshold = 3
	}
	if cfg.Health.DialTimeout == 0 {
		cfg.Health.DialTimeout = 2 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Pool.MaxSessions > hardMaxSessions {
		return fmt.Errorf("pool.max_sessions %d exceeds hard cap %d", cfg.Pool.MaxSessions, hardMaxSessions)
	}
	if cfg.Pool.Timeout < minTimeout {
		return fmt.Errorf("pool.timeout %s is below the minimum %s", cfg.Pool.Timeout, minTimeout)
	}
	if cfg.Engine.Host == "" {
		return fmt.Errorf("engine.host is required")
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
