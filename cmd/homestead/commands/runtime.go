package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/homesteadops/homestead/pkg/config"
	"github.com/homesteadops/homestead/pkg/engine"
	"github.com/homesteadops/homestead/pkg/providers/dev"
	"github.com/homesteadops/homestead/pkg/registry"
	"github.com/homesteadops/homestead/pkg/secrets"
	"github.com/homesteadops/homestead/pkg/state"
	"github.com/homesteadops/homestead/pkg/telemetry"
	"github.com/homesteadops/homestead/pkg/transports/ssh"
)

const settingKeyProvider = "provider"

// runtime wires the full control plane together for one command invocation.
type runtime struct {
	cfg          *config.Config
	logger       *telemetry.Logger
	metrics      *telemetry.Metrics
	tracer       *telemetry.Tracer
	store        *state.SQLiteStore
	settings     *config.Settings
	catalog      *registry.Loader
	manager      *engine.Manager
	orchestrator *engine.Orchestrator
}

// newRuntime loads configuration and constructs the store, providers,
// executors, job manager, and orchestrator.
func newRuntime(ctx context.Context) (*runtime, error) {
	path := configPath
	if path == "" {
		path = "/etc/homestead/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Telemetry.Logging.Format = "json"
	}

	logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return nil, err
	}

	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return nil, err
	}

	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing,
		cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Telemetry.Environment)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := state.NewSQLiteStore(state.Config{Path: filepath.Join(cfg.DataDir, "homestead.db")})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}

	settings, err := config.OpenSettings(filepath.Join(cfg.DataDir, "settings.yaml"))
	if err != nil {
		return nil, err
	}

	vault, err := secrets.NewFileVault(filepath.Join(cfg.DataDir, "vault"))
	if err != nil {
		return nil, err
	}

	catalog := registry.NewLoader(cfg.CatalogPath, logger)
	if err := catalog.Load(); err != nil {
		return nil, err
	}

	cloud, dnsProv, prov, gateway := buildProviders(cfg, settings, metrics)

	manager := engine.NewManager(
		engine.ManagerConfig{
			Workers:    cfg.Jobs.Workers,
			QueueSize:  cfg.Jobs.QueueSize,
			JobTimeout: cfg.Jobs.JobTimeout,
		},
		store, logger, metrics, tracer,
		engine.NewServerExecutor(store, cloud, dnsProv, prov, gateway),
		engine.NewAppExecutor(store, dnsProv, prov, vault, gateway),
		engine.NewInfraExecutor(store, prov),
	)
	if err := manager.Recover(ctx); err != nil {
		manager.Close()
		_ = store.Close()
		return nil, err
	}

	orchestrator := engine.NewOrchestrator(store, manager, catalog, logger, tracer)

	return &runtime{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		tracer:       tracer,
		store:        store,
		settings:     settings,
		catalog:      catalog,
		manager:      manager,
		orchestrator: orchestrator,
	}, nil
}

// buildProviders selects the provider set. The dev provider simulates the
// cloud; real hosts still go through the SSH gateway when configured.
func buildProviders(cfg *config.Config, settings *config.Settings, metrics *telemetry.Metrics) (engine.CloudProvider, engine.DNSProvider, engine.Provisioner, engine.HostGateway) {
	provider := cfg.Provider
	if v, ok := settings.Get(settingKeyProvider); ok && v != "" {
		provider = v
	}

	var gateway engine.HostGateway
	if cfg.SSH.KeyPath != "" {
		gw := ssh.NewGateway(cfg.SSH.User, cfg.SSH.KeyPath)
		gw.ConnectTimeout = cfg.SSH.ConnectTimeout
		gateway = gw
	} else {
		gateway = dev.NewHostGateway()
	}

	// Only the simulated provider ships in-tree for now; the provider
	// setting selects among future cloud integrations.
	cloud := engine.InstrumentCloudProvider(provider, dev.NewCloudProvider(), metrics)
	dnsProv := engine.InstrumentDNSProvider(provider, dev.NewDNSProvider(), metrics)
	return cloud, dnsProv, dev.NewProvisioner(), gateway
}

// close releases runtime resources.
func (r *runtime) close(ctx context.Context) {
	r.manager.Close()
	_ = r.tracer.Shutdown(ctx)
	if err := r.store.Close(); err != nil {
		r.logger.Error().Err(err).Msg("failed to close state store")
	}
}

// printResult renders a value as JSON when --json is set, otherwise with the
// provided plain-text formatter.
func printResult(v interface{}, plain func()) error {
	if jsonOutput {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	plain()
	return nil
}

// awaitJob blocks until the job resolves and reports its terminal state.
func awaitJob(ctx context.Context, r *runtime, jobID string) error {
	job, err := r.manager.Await(ctx, jobID)
	if err != nil {
		return err
	}
	return printResult(job, func() {
		fmt.Printf("job %s finished: %s\n", job.ID, job.Status)
		if job.Error != nil {
			fmt.Printf("  error: %s\n", job.Error.Error())
		}
	})
}
