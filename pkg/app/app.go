// Package app builds the application graph in dependency order and runs its
// long-lived components.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/api"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/artifacts"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/bus"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/ceremony"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/config"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/coordinator"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/database"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/events"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/feature"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/gates"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/models"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/planner"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/services"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/sessionlock"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/vcs"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/workflow"
)

// Options selects what the factory builds. Analyzer, Executor, and
// CeremonyRunner are the agent runtime boundaries; any of them may be nil
// when the corresponding surface is unused.
type Options struct {
	ProjectRoot    string
	Interface      sessionlock.Interface
	Mode           sessionlock.Mode
	Analyzer       planner.Analyzer
	Executor       coordinator.Executor
	CeremonyRunner ceremony.Runner
	Version        string
}

// App is the assembled application.
type App struct {
	Config      *config.Config
	Bus         *bus.Bus
	DB          *database.Client
	Lock        *sessionlock.Lock
	Registry    *workflow.Registry
	Planner     *planner.Planner
	Coordinator *coordinator.Coordinator
	Ceremonies  *ceremony.Orchestrator
	Hub         *api.Hub
	Server      *api.Server
	Watcher     *artifacts.Watcher

	Features  *services.FeatureService
	Epics     *services.EpicService
	Stories   *services.StoryService
	Threads   *services.ThreadService
	Workflows *services.WorkflowService

	projectRoot string
}

// New builds the application in dependency order: config, bus, store, lock,
// registry, resolvers, gates, artifacts, ceremonies, coordinator, API.
// Stale session locks left by dead processes are reclaimed before acquiring.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.Load(opts.ProjectRoot)
	if err != nil {
		return nil, err
	}

	b := bus.New()

	db, err := database.NewClient(ctx, database.DefaultConfig(opts.ProjectRoot))
	if err != nil {
		return nil, err
	}

	lock := sessionlock.New(opts.ProjectRoot)
	lock.ReclaimStale()
	if opts.Mode != sessionlock.ModeNone {
		if err := lock.Acquire(opts.Interface, opts.Mode); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	registry, err := workflow.LoadRegistry(filepath.Join(opts.ProjectRoot, cfg.Workflow.InstallDir))
	if err != nil {
		slog.Warn("No installed workflows found", "error", err)
		registry = workflow.NewRegistry()
	}

	featureSvc := services.NewFeatureService(db.DB())
	epicSvc := services.NewEpicService(db.DB())
	storySvc := services.NewStoryService(db.DB())
	workflowSvc := services.NewWorkflowService(db.DB())
	ceremonySvc := services.NewCeremonyService(db.DB())
	artifactSvc := services.NewArtifactService(db.DB())
	threadSvc := services.NewThreadService(db.DB())

	featureResolver := feature.NewResolver(featureSvc, opts.ProjectRoot)
	resolver := workflow.NewResolver(
		map[string]string{"project_root": opts.ProjectRoot},
		cfg.Variables,
		featureResolver,
	)

	gate := gates.New(opts.ProjectRoot, nil, b)

	manager := artifacts.NewManager(opts.ProjectRoot, cfg.TrackedDirs, artifactSvc)
	if err := manager.EnsureTrackedDirs(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tracked directories: %w", err)
	}
	watcher, err := artifacts.NewWatcher(opts.ProjectRoot, cfg.TrackedDirs, b)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	git := vcs.New(opts.ProjectRoot)
	breaker := ceremony.NewCircuitBreaker()
	failures := ceremony.NewFailureHandler(breaker)
	triggers := ceremony.NewTriggerEngine(ceremonySvc)
	if len(cfg.StandupCadence) > 0 {
		overrides := make(map[models.ScaleLevel]int, len(cfg.StandupCadence))
		for level, k := range cfg.StandupCadence {
			overrides[models.ScaleLevel(level)] = k
		}
		triggers.OverrideStandupCadence(overrides)
	}

	var orch *ceremony.Orchestrator
	var ceremonyRunner coordinator.CeremonyRunner
	var triggerEval coordinator.TriggerEvaluator
	if opts.CeremonyRunner != nil {
		orch = ceremony.NewOrchestrator(opts.CeremonyRunner, ceremonySvc, storySvc,
			git, b, breaker, opts.ProjectRoot, !cfg.DisableAutoCommit)
		ceremonyRunner = orch
		triggerEval = triggers
	}

	maxRetries := -1
	if cfg.Workflow.MaxRetries != nil {
		maxRetries = *cfg.Workflow.MaxRetries
	}
	coord := coordinator.New(registry, resolver, opts.Executor, gate, manager,
		workflowSvc, storySvc, epicSvc, triggerEval, ceremonyRunner, failures, b,
		coordinator.Config{MaxRetries: maxRetries, StoryCap: cfg.Workflow.StoryCap})

	token, err := api.LoadOrCreateToken(opts.ProjectRoot)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	replay := events.NewReplayBuffer(cfg.Events.ReplayCapacity, cfg.Events.ReplayTTL)
	hub := api.NewHub(replay, cfg.Server.MaxConnections)
	b.SubscribeAll(hub.HandleEvent)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	server := api.NewServer(addr, hub, lock, threadSvc, b, token, opts.Version)

	return &App{
		Config:      cfg,
		Bus:         b,
		DB:          db,
		Lock:        lock,
		Registry:    registry,
		Planner:     planner.New(opts.Analyzer, registry),
		Coordinator: coord,
		Ceremonies:  orch,
		Hub:         hub,
		Server:      server,
		Watcher:     watcher,
		Features:    featureSvc,
		Epics:       epicSvc,
		Stories:     storySvc,
		Threads:     threadSvc,
		Workflows:   workflowSvc,
		projectRoot: opts.ProjectRoot,
	}, nil
}

// Run serves the observability surface until ctx is cancelled: HTTP server,
// heartbeat loop, and the tracked-directory file watcher.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := a.Watcher.Start(ctx); err != nil {
		return err
	}
	g.Go(func() error { return a.Server.Run(ctx) })
	g.Go(func() error { return a.Hub.Run(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close tears the application down in reverse dependency order: watcher,
// session lock, then the state store.
func (a *App) Close() error {
	var firstErr error
	if err := a.Watcher.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.Lock.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.DB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ProjectRoot returns the root the app was built for.
func (a *App) ProjectRoot() string {
	return a.projectRoot
}

// ResolveRoot turns an optional --project flag into an absolute project root,
// defaulting to the working directory.
func ResolveRoot(flag string) (string, error) {
	if flag == "" {
		return os.Getwd()
	}
	return filepath.Abs(flag)
}
