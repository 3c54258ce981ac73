// Package daemon assembles and runs the Vellum assistant runtime: the
// application state store, the tool dispatcher, the session lifecycle
// manager, the orchestrator, and the gateway the editor frontend talks to.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/inkwell/vellum/internal/config"
	"github.com/inkwell/vellum/internal/logger"
	"github.com/inkwell/vellum/internal/observability"
	"github.com/inkwell/vellum/internal/tracing"
	"github.com/inkwell/vellum/pkg/appstate"
	"github.com/inkwell/vellum/pkg/assembler"
	"github.com/inkwell/vellum/pkg/commandqueue"
	"github.com/inkwell/vellum/pkg/coretools"
	"github.com/inkwell/vellum/pkg/eventbus"
	"github.com/inkwell/vellum/pkg/eventstream"
	"github.com/inkwell/vellum/pkg/gateway"
	"github.com/inkwell/vellum/pkg/history"
	"github.com/inkwell/vellum/pkg/llmsession"
	"github.com/inkwell/vellum/pkg/maintenance"
	"github.com/inkwell/vellum/pkg/memory"
	"github.com/inkwell/vellum/pkg/orchestrator"
	"github.com/inkwell/vellum/pkg/tooldispatch"
)

// Daemon owns every runtime component and their startup/shutdown order.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	bus         *eventbus.Bus
	state       *appstate.Store
	saveWatcher *appstate.SaveWatcher
	queue       *commandqueue.CommandQueue

	historyStore *history.Store
	memoryStore  *memory.Store

	dispatcher *tooldispatch.Dispatcher
	deps       *tooldispatch.Dependencies
	streamer   *eventstream.Streamer
	sessions   *llmsession.Manager
	assembler  *assembler.Assembler
	orch       *orchestrator.Orchestrator

	gatewayServer *gateway.Server
	maintenance   *maintenance.Scheduler
	eventLoop     *EventLoop

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a daemon instance with all components wired but not started.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("vellum-daemon"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: true,
	}

	if err := d.initializeCore(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		cancel()
		d.closeStores()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.eventLoop = NewEventLoop(d.bus, d.orch, log.GetZerolog())

	return d, nil
}

// initializeCore builds the state, storage, and orchestration components in
// dependency order.
func (d *Daemon) initializeCore() error {
	zl := d.logger.GetZerolog()

	d.bus = eventbus.New(zl)
	d.state = appstate.NewStore(d.bus)
	d.queue = commandqueue.New()
	d.logger.Info().Msg("Event bus and command queue initialized")

	if d.config.DataDir != "" {
		if err := os.MkdirAll(d.config.DataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	historyPath := d.config.History.Path
	if historyPath == "" {
		historyPath = filepath.Join(d.config.DataDir, "history.db")
	}
	historyStore, err := history.New(history.Config{
		Path:   historyPath,
		Limit:  d.config.History.Limit,
		Logger: zl,
	})
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	d.historyStore = historyStore
	d.logger.Info().Str("path", historyPath).Msg("History store initialized")

	memoryStore, err := memory.New(memory.Config{
		Path:   filepath.Join(d.config.DataDir, "memory.db"),
		Logger: zl,
	})
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	d.memoryStore = memoryStore
	d.logger.Info().Msg("Memory store initialized")

	d.dispatcher = tooldispatch.New(d.historyStore, d.bus, d.queue, zl)
	if err := coretools.RegisterAll(d.dispatcher); err != nil {
		return fmt.Errorf("failed to register core tools: %w", err)
	}
	d.deps = newToolDependencies(d.state, d.memoryStore, d.bus, zl)
	d.logger.Info().Int("tools", len(d.dispatcher.ListTools())).Msg("Tool dispatcher initialized")

	streamer, err := eventstream.New(eventstream.Config{
		Bus:      d.bus,
		MaxQueue: d.config.Events.MaxQueue,
		Logger:   zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create event streamer: %w", err)
	}
	d.streamer = streamer

	provider, err := llmsession.NewProvider(d.config.Models)
	if err != nil {
		return fmt.Errorf("failed to create model provider: %w", err)
	}

	sessions, err := llmsession.NewManager(llmsession.ManagerConfig{
		Provider: provider,
		Models:   d.config.Models,
		Tools:    toolSpecs(d.dispatcher),
		Logger:   zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	d.sessions = sessions
	d.logger.Info().Str("provider", d.config.Models.Provider).Str("model", d.config.Models.Model).Msg("Session manager initialized")

	asm, err := assembler.New(assembler.Config{
		TokenBudget: d.config.Context.TokenBudget,
		Proportions: d.config.Context.Proportions,
		Memory:      d.memoryStore,
		History:     d.historyStore,
		Logger:      zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create context assembler: %w", err)
	}
	d.assembler = asm

	persona := config.PersonaConfig{Name: "Editor", Role: "editor"}
	if len(d.config.Personas) > 0 {
		persona = d.config.Personas[0]
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Sessions:      d.sessions,
		Assembler:     d.assembler,
		Dispatcher:    d.dispatcher,
		AppState:      d.state,
		Events:        d.streamer,
		Bus:           d.bus,
		Deps:          d.deps,
		Persona:       persona,
		MessageLimit:  d.config.Orchestrator.MessageLimit,
		MaxToolRounds: d.config.Orchestrator.MaxToolRounds,
		AutoReinit:    d.config.Orchestrator.AutoReinit,
		MaxPatches:    d.config.Events.MaxPatches,
		Logger:        zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	d.orch = orch
	d.logger.Info().Msg("Orchestrator initialized")

	return nil
}

// initializeServices builds the gateway and maintenance scheduler.
func (d *Daemon) initializeServices() error {
	zl := d.logger.GetZerolog()

	if d.config.Gateway.Enabled {
		gatewayServer, err := gateway.NewServer(gateway.Config{
			Host:         d.config.Gateway.Host,
			Port:         d.config.Gateway.Port,
			SharedSecret: d.config.Gateway.SharedSecret,
			Chat:         newQueuedChat(d.orch, d.queue),
			Memories:     d.memoryStore,
			Audit:        d.historyStore,
			Bus:          d.bus,
			Logger:       zl,
		})
		if err != nil {
			return fmt.Errorf("failed to create gateway server: %w", err)
		}
		d.gatewayServer = gatewayServer
		d.registerStateMethods()
		d.logger.Info().Int("port", d.config.Gateway.Port).Msg("Gateway server initialized")
	}

	if d.config.Maintenance.Enabled {
		sched, err := maintenance.New(maintenance.Config{
			Maintenance: d.config.Maintenance,
			History:     d.historyStore,
			Drift:       d.orch,
			Logger:      zl,
		})
		if err != nil {
			return fmt.Errorf("failed to create maintenance scheduler: %w", err)
		}
		d.maintenance = sched
		d.logger.Info().Int("jobs", sched.JobCount()).Msg("Maintenance scheduler initialized")
	}

	return nil
}

// Start starts all services and runs the first session initialization.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	d.logger.Info().Msg("Starting Vellum daemon")

	if err := d.streamer.Start(); err != nil {
		return fmt.Errorf("failed to start event streamer: %w", err)
	}

	if d.config.DataDir != "" {
		watcher, err := appstate.NewSaveWatcher(d.bus, d.logger.GetZerolog())
		if err != nil {
			d.logger.Warn().Err(err).Msg("Failed to create save watcher")
		} else if err := watcher.Watch(d.config.DataDir); err != nil {
			d.logger.Warn().Err(err).Str("path", d.config.DataDir).Msg("Failed to watch data directory")
			_ = watcher.Stop()
		} else {
			d.saveWatcher = watcher
			d.logger.Info().Str("path", d.config.DataDir).Msg("Save watcher started")
		}
	}

	if d.gatewayServer != nil {
		if err := d.gatewayServer.Start(); err != nil {
			return fmt.Errorf("failed to start gateway server: %w", err)
		}
		d.logger.Info().Msg("Gateway server started")
	}

	if d.maintenance != nil {
		d.maintenance.Start()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	// First session. Failures leave the orchestrator in the error state; a
	// later reset can recover without restarting the daemon.
	if err := d.orch.Initialize(d.ctx); err != nil {
		d.logger.Warn().Err(err).Msg("Initial session creation failed")
	}

	d.logger.Info().Msg("Daemon started")
	return nil
}

// Stop stops all services gracefully.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping Vellum daemon")

	d.orch.Abort()

	if d.maintenance != nil {
		d.maintenance.Stop()
	}

	if d.gatewayServer != nil {
		if err := d.gatewayServer.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to stop gateway server")
		}
	}

	if d.saveWatcher != nil {
		if err := d.saveWatcher.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to stop save watcher")
		}
	}

	d.streamer.Stop()

	if err := d.queue.Close(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to close command queue")
	}

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		d.logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	d.closeStores()

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	d.logger.Info().Msg("Daemon stopped")
	return nil
}

func (d *Daemon) closeStores() {
	if d.memoryStore != nil {
		if err := d.memoryStore.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close memory store")
		}
	}
	if d.historyStore != nil {
		if err := d.historyStore.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close history store")
		}
	}
}

// registerStateMethods adds the editor state-sync RPC methods.
func (d *Daemon) registerStateMethods() {
	_ = d.gatewayServer.RegisterMethod("state.update", func(params map[string]interface{}) (interface{}, error) {
		snap, err := decodeSnapshot(params)
		if err != nil {
			return nil, err
		}
		d.state.Update(snap)
		return map[string]interface{}{"project_id": snap.ProjectID}, nil
	})

	_ = d.gatewayServer.RegisterMethod("state.selection", func(params map[string]interface{}) (interface{}, error) {
		sel, err := decodeSelection(params)
		if err != nil {
			return nil, err
		}
		d.state.SetSelection(sel)
		return map[string]interface{}{"length": len(sel.Text)}, nil
	})
}

// Status reports whether the daemon is running and for how long.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	return status
}

// Status represents daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// Orchestrator returns the orchestrator.
func (d *Daemon) Orchestrator() *orchestrator.Orchestrator {
	return d.orch
}

// State returns the application state store.
func (d *Daemon) State() *appstate.Store {
	return d.state
}

// GatewayServer returns the gateway server, or nil when disabled.
func (d *Daemon) GatewayServer() *gateway.Server {
	return d.gatewayServer
}

// toolSpecs converts registered tool definitions to provider declarations.
func toolSpecs(d *tooldispatch.Dispatcher) []llmsession.ToolSpec {
	defs := d.Definitions()
	specs := make([]llmsession.ToolSpec, len(defs))
	for i, def := range defs {
		specs[i] = llmsession.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchemaMap(),
		}
	}
	return specs
}
