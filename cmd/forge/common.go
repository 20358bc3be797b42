package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/metalagman/forge/internal/access"
	"github.com/metalagman/forge/internal/config"
	"github.com/metalagman/forge/internal/db"
	"github.com/metalagman/forge/internal/engine"
	"github.com/metalagman/forge/internal/fslock"
	"github.com/metalagman/forge/internal/generation"
	"github.com/metalagman/forge/internal/intent"
	"github.com/metalagman/forge/internal/logging"
	"github.com/metalagman/forge/internal/memory"
	"github.com/metalagman/forge/internal/plugin"
	"github.com/metalagman/forge/internal/quality"
	"github.com/metalagman/forge/internal/sandbox"
	"github.com/metalagman/forge/internal/task"
	"github.com/rs/zerolog/log"
)

// app is the wired set of components one command works with.
type app struct {
	root     string
	cfg      config.Config
	db       *sql.DB
	tasks    *task.Store
	gate     *quality.Gate
	table    *plugin.Table
	registry *plugin.Registry
	sandbox  *sandbox.Orchestrator
	memory   *memory.Store
	access   *access.Gate

	lock    *fslock.Lock
	closers []func() error
}

func openDB(cfg config.Config) (*sql.DB, error) {
	return db.Open(filepath.Join(cfg.Paths.Data, db.FileName))
}

// openApp loads config, opens the database and builds everything except the
// model gateway. Installed plugins are loaded so route conflicts surface.
func openApp() (*app, error) {
	root, err := workDir()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	storeDB, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		root:    root,
		cfg:     cfg,
		db:      storeDB,
		tasks:   task.NewStore(storeDB),
		gate:    quality.NewGate(cfg.Quality, quality.Probe()),
		table:   plugin.NewTable(),
		memory:  memory.NewStore(storeDB),
		access:  access.NewGate(cfg),
		closers: []func() error{storeDB.Close},
	}
	a.registry = plugin.NewRegistry(a.table, cfg.Paths.Plugins, plugin.Conventions{
		EntryPoint:       cfg.Quality.EntryPoint,
		HandlerDecorator: cfg.Quality.HandlerDecorator,
	})
	if err := a.registry.LoadAll(); err != nil {
		log.Warn().Err(err).Msg("some plugins failed to load")
	}
	a.sandbox = sandbox.New(sandbox.Config{
		SandboxRoot: cfg.Paths.Sandbox,
		PluginsRoot: cfg.Paths.Plugins,
		WorkDir:     root,
	}, a.tasks, a.gate, a.registry)
	return a, nil
}

// lockWorkspace takes the workspace lock for the rest of the command. It
// fails fast when another forge process holds it.
func (a *app) lockWorkspace() error {
	l, err := fslock.TryAcquire(a.cfg.Paths.Data, fslock.Name)
	if err != nil {
		return err
	}
	a.lock = l
	return nil
}

// newEngine builds the model gateway and the message engine.
func (a *app) newEngine(ctx context.Context) (*engine.Engine, error) {
	completer, err := generation.NewCompleter(ctx, a.cfg.Generation)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", a.cfg.Generation.Provider, err)
	}
	var opts []generation.GatewayOption
	if a.cfg.Generation.ActivityLog != "" {
		activity, closeActivity, err := logging.NewFileLogger(a.cfg.Generation.ActivityLog, logging.FileOptions{
			MaxSizeMB:  10,
			MaxBackups: 3,
		})
		if err != nil {
			return nil, fmt.Errorf("open activity log: %w", err)
		}
		a.closers = append(a.closers, closeActivity)
		opts = append(opts, generation.WithActivityLog(activity))
	}

	return engine.New(engine.Deps{
		Roles:      a.access,
		Classifier: intent.NewClassifier(a.tasks),
		Generator:  generation.NewGateway(completer, opts...),
		Sandbox:    a.sandbox,
		Memory:     a.memory,
		Plugins:    a.registry,
	}, engine.Options{
		MaxAttempts:  a.cfg.Generation.MaxAttempts,
		MemoryWindow: a.cfg.Memory.Window,
	}), nil
}

// Close releases the lock and closes what openApp and newEngine opened.
func (a *app) Close() error {
	var errs []error
	if a.lock != nil {
		errs = append(errs, a.lock.Release())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// defaultUser is the sender id for local commands: the owner when set.
func (a *app) defaultUser(flag int64) int64 {
	if flag != 0 {
		return flag
	}
	return a.cfg.OwnerID
}
