package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"analyzehub/internal/analyzer"
	"analyzehub/internal/config"
	"analyzehub/internal/gate"
	"analyzehub/internal/logger"
	"analyzehub/internal/retry"
	"analyzehub/internal/state"
	"analyzehub/internal/statsdb"
	"analyzehub/internal/storage"
)

// ConfigKeyPort is the appConfig key holding the view server port.
const ConfigKeyPort = "port"

type globalOptions struct {
	configPath string
	backendURL string
	logLevel   string
	logDir     string
	noHistory  bool
}

// app holds the wired components shared by the commands.
type app struct {
	loader   *config.ConfigLoader
	cfg      *config.AppConfig
	store    *storage.ConfigFileStore
	hub      *state.Hub
	client   *analyzer.Client
	stats    *statsdb.SQLiteAnalysisStatsStore
	gate     *gate.Gate
	closers  []func() error
	observer gate.Observers
}

func initLogging(opts *globalOptions) error {
	level, err := logger.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	if err := logger.InitDefault("analyzehub", level, strings.TrimSpace(opts.logDir)); err != nil {
		return err
	}
	logger.SetDefaultLevel(level)
	return nil
}

// newApp loads configuration and wires storage, state, client and gate.
// extra observers receive attempt loop events.
func newApp(opts *globalOptions, extra ...gate.Observer) (*app, error) {
	path := strings.TrimSpace(opts.configPath)
	if path == "" {
		path = config.FindOrCreateConfigPath()
	}
	loader := config.NewConfigLoader(path)

	store, err := storage.NewConfigFileStore(loader)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	a := &app{loader: loader, store: store, observer: extra}
	a.closers = append(a.closers, store.Close)

	cfg, errs := loader.LoadAndValidate()
	if cfg == nil {
		a.Close()
		return nil, errors.Join(errs...)
	}
	if url := resolveBackendURL(opts.backendURL, cfg.Analyzer.BackendURL); url != "" {
		cfg.Analyzer.BackendURL = url
		errs = config.ValidateAnalyzer(&cfg.Analyzer)
	}
	if len(errs) > 0 {
		a.Close()
		return nil, fmt.Errorf("invalid configuration %s: %w", loader.GetPath(), errors.Join(errs...))
	}
	a.cfg = cfg
	logger.Info("config: %s, backend: %s", loader.GetPath(), cfg.Analyzer.BackendURL)

	a.client, err = analyzer.New(analyzer.Config{
		BaseURL: cfg.Analyzer.BackendURL,
		Timeout: cfg.Analyzer.Timeout(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	if !opts.noHistory {
		dbPath := filepath.Join(filepath.Dir(loader.GetPath()), config.DefaultHistoryDatabaseName)
		if db, err := statsdb.OpenSQLiteAnalysisStatsStore(dbPath); err != nil {
			logger.Warn("failed to open history db (%s), history disabled: %v", dbPath, err)
		} else {
			a.stats = db
			a.closers = append(a.closers, db.Close)
			logger.Info("history db: %s", dbPath)
		}
	}

	a.hub = state.NewHub()
	gateOpts := gate.Options{
		Analyzer: a.client,
		Hub:      a.hub,
		Recent:   storage.NewRecentTargets(store, config.DefaultRecentTargetsCapacity),
		Policy: retry.NewPolicy(retry.Config{
			MaxAttempts:     cfg.Analyzer.MaxAttempts,
			BaseDelay:       cfg.Analyzer.BaseDelay(),
			DefaultCooldown: cfg.Analyzer.DefaultCooldownSeconds,
		}),
		Debounce: cfg.Analyzer.Debounce(),
		Observer: a.observer,
	}
	if a.stats != nil {
		gateOpts.Stats = a.stats
	}
	a.gate, err = gate.New(gateOpts)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// resolveBackendURL picks the flag or ANALYZEHUB_BACKEND_URL value, then the
// plain BACKEND_URL variable, then the config file value.
func resolveBackendURL(flagValue, fileValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(config.EnvBackendURL)); v != "" {
		return v
	}
	return strings.TrimSpace(fileValue)
}

// resolvePort picks the flag value, then PORT, then appConfig.port, then the
// default.
func (a *app) resolvePort(flagValue int) (int, error) {
	port := flagValue
	if port == 0 {
		port = config.GetPortFromEnv()
	}
	if port == 0 {
		if saved, err := a.store.GetConfig(ConfigKeyPort); err == nil && saved != "" {
			if p, err := strconv.Atoi(saved); err == nil {
				port = p
			}
		}
	}
	if port == 0 {
		port = config.DefaultPort
	}
	if err := config.ValidatePort(port); err != nil {
		return 0, err
	}
	return port, nil
}

// Close stops the gate and releases storage in reverse order.
func (a *app) Close() {
	if a.gate != nil {
		a.gate.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close: %v", err)
		}
	}
	a.closers = nil
}
