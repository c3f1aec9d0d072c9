package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/groupsummary/internal/config"
	"github.com/t77yq/groupsummary/internal/directory"
	"github.com/t77yq/groupsummary/internal/events"
	"github.com/t77yq/groupsummary/internal/evolution"
	"github.com/t77yq/groupsummary/internal/scheduler"
	"github.com/t77yq/groupsummary/internal/service"
	"github.com/t77yq/groupsummary/internal/storage"
	"github.com/t77yq/groupsummary/internal/summary"
)

const (
	appName           = "groupsummary"
	summarizeAttempts = 3
)

// app builds components on first use from the loaded configuration
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	registrar *scheduler.NativeRegistrar
	store     *storage.CSVGroupConfigStore
	history   storage.RegistrationHistory
	publisher events.Publisher
	nc        *nats.Conn
	dir       *directory.Directory
	evo       *evolution.Client
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if strings.EqualFold(cfg.Format, "json") {
		zc = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc.Level = level
	}
	return zc.Build()
}

// close releases the history database and the NATS connection; safe to call twice
func (a *app) close() {
	if a.logger == nil {
		return
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("Failed to close history", zap.Error(err))
		}
		a.history = nil
	}
	if a.nc != nil {
		a.nc.Close()
		a.nc = nil
	}
	a.logger.Sync()
}

// executableDir is the directory of this binary, symlinks resolved
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

// scriptPath is what scheduled jobs run: the configured script or this executable
func (a *app) scriptPath() (string, error) {
	if a.cfg.Scheduler.ScriptPath != "" {
		return filepath.Abs(a.cfg.Scheduler.ScriptPath)
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	return filepath.EvalSymlinks(exe)
}

func (a *app) platform() (scheduler.Platform, error) {
	return scheduler.DetectPlatform(runtime.GOOS)
}

func (a *app) nativeRegistrar() (*scheduler.NativeRegistrar, error) {
	if a.registrar != nil {
		return a.registrar, nil
	}
	platform, err := a.platform()
	if err != nil {
		return nil, err
	}
	r, err := scheduler.New(platform, scheduler.Options{
		Interpreter:       a.cfg.Scheduler.Interpreter,
		LaunchAgentsDir:   a.cfg.Scheduler.LaunchAgentsDir,
		LaunchdLogDir:     a.cfg.Scheduler.LaunchdLogDir,
		WindowsDateLayout: a.cfg.Scheduler.WindowsDateLayout,
		UID:               os.Getuid(),
	}, scheduler.NewExecRunner(a.logger), a.logger)
	if err != nil {
		return nil, err
	}
	a.registrar = r
	return r, nil
}

func (a *app) configStore() *storage.CSVGroupConfigStore {
	if a.store == nil {
		a.store = storage.NewCSVGroupConfigStore(a.cfg.Paths.ConfigCSV, a.logger)
	}
	return a.store
}

// registrationHistory opens the history database; failures disable history
func (a *app) registrationHistory() storage.RegistrationHistory {
	if a.history != nil || a.cfg.Paths.HistoryDB == "" {
		return a.history
	}
	h, err := storage.NewSQLiteRegistrationHistory(a.logger, a.cfg.Paths.HistoryDB)
	if err != nil {
		a.logger.Warn("Registration history disabled", zap.Error(err))
		return nil
	}
	a.history = h
	return h
}

// eventPublisher connects to NATS when a URL is configured
func (a *app) eventPublisher() events.Publisher {
	if a.publisher != nil {
		return a.publisher
	}
	a.publisher = events.NopPublisher{}
	if a.cfg.NATS.URL == "" {
		return a.publisher
	}

	nc, js, err := events.Connect(a.cfg.NATS.URL, appName, a.logger)
	if err != nil {
		a.logger.Warn("Schedule events disabled", zap.Error(err))
		return a.publisher
	}
	p, err := events.NewJetStreamPublisher(js, a.cfg.NATS.Stream, a.logger)
	if err != nil {
		nc.Close()
		a.logger.Warn("Schedule events disabled", zap.Error(err))
		return a.publisher
	}
	a.nc = nc
	a.publisher = p
	return p
}

func (a *app) scheduleService() (*service.ScheduleService, error) {
	registrar, err := a.nativeRegistrar()
	if err != nil {
		return nil, err
	}
	script, err := a.scriptPath()
	if err != nil {
		return nil, err
	}
	opts := service.Options{
		JobPrefix:  a.cfg.Scheduler.JobPrefix,
		ScriptPath: script,
		Publisher:  a.eventPublisher(),
	}
	if h := a.registrationHistory(); h != nil {
		opts.History = h
	}
	return service.NewScheduleService(a.configStore(), registrar, opts, a.logger), nil
}

func (a *app) evolutionClient() (*evolution.Client, error) {
	if a.evo != nil {
		return a.evo, nil
	}
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	a.evo = evolution.NewClient(a.cfg.Evolution, a.logger)
	return a.evo, nil
}

func (a *app) groupDirectory() (*directory.Directory, error) {
	if a.dir != nil {
		return a.dir, nil
	}
	client, err := a.evolutionClient()
	if err != nil {
		return nil, err
	}
	a.dir = directory.New(client, a.configStore(), a.cfg.Paths.CacheFile, a.logger)
	return a.dir, nil
}

func (a *app) summaryRunner() (*summary.Runner, error) {
	client, err := a.evolutionClient()
	if err != nil {
		return nil, err
	}
	dir, err := a.groupDirectory()
	if err != nil {
		return nil, err
	}
	summarizer, err := summary.NewOpenAISummarizer(a.cfg.LLM, a.logger)
	if err != nil {
		return nil, err
	}
	script, err := a.scriptPath()
	if err != nil {
		return nil, err
	}
	return summary.NewRunner(a.configStore(), dir, client, summarizer, summary.RunnerOptions{
		LogPath:    a.cfg.Paths.SummaryLog,
		ScriptPath: script,
		Publisher:  a.eventPublisher(),
		Retry: &summary.RetryPolicy{
			Strategy:    summary.DefaultBackoff,
			MaxAttempts: summarizeAttempts,
			Retryable:   summary.IsTransient,
		},
	}, a.logger), nil
}
