package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/cuemby/terrapool/pkg/api"
	"github.com/cuemby/terrapool/pkg/config"
	"github.com/cuemby/terrapool/pkg/events"
	"github.com/cuemby/terrapool/pkg/launcher"
	"github.com/cuemby/terrapool/pkg/log"
	"github.com/cuemby/terrapool/pkg/metrics"
	"github.com/cuemby/terrapool/pkg/provision"
	"github.com/cuemby/terrapool/pkg/reconciler"
	"github.com/cuemby/terrapool/pkg/registry"
	"github.com/cuemby/terrapool/pkg/scheduler"
	"github.com/cuemby/terrapool/pkg/security"
	"github.com/cuemby/terrapool/pkg/storage"
	"github.com/cuemby/terrapool/pkg/types"
	"github.com/cuemby/terrapool/pkg/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the terrapool daemon",
	Long: `Run the terrapool daemon: the HTTP API, the pool scheduler and the
retention reconciler.

Agents recorded by a previous run are recovered first. Agents that were
connected come back offline until they report again; agents whose
provisioning or termination was interrupted are destroyed.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "/etc/terrapool/terrapool.yaml", "Configuration file (.yaml, .yml or .toml)")
	serveCmd.Flags().String("listen", "", "Override server.listen")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}
	if !cmd.Flags().Changed("log-level") {
		jsonOutput, _ := cmd.Flags().GetBool("log-json")
		initLogging(cfg.Log.Level, jsonOutput || cfg.Log.JSON)
	}

	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)

	if err := os.MkdirAll(cfg.Server.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// One daemon per data directory.
	fileLock := flock.New(filepath.Join(cfg.Server.DataDir, "terrapool.lock"))
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("terrapool already running on %s (lock held by another process)", cfg.Server.DataDir)
	}
	defer func() { _ = fileLock.Unlock() }()

	keys, err := loadKeys(cfg)
	if err != nil {
		return err
	}
	sm, err := security.NewSecretsManager(keys.Credentials)
	if err != nil {
		return err
	}
	agentSecrets := security.NewAgentSecrets(keys.AgentSecret)

	store, err := storage.NewBoltStore(cfg.Server.DataDir)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentStorage, false, err.Error())
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()
	metrics.UpdateComponent(metrics.ComponentStorage, true, "")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	vault := security.NewVault(store, sm)
	coordinator := provision.NewCoordinator(provision.Config{
		RootDir:       cfg.Server.RootDir,
		CallbackURL:   cfg.Server.CallbackURL,
		Installations: cfg.InstallationSet(),
		Credentials:   vault,
		Secrets:       agentSecrets,
		Broker:        broker,
	})

	pools := cfg.RuntimePools()
	reg := registry.New(registry.Options{
		Store:  store,
		Broker: broker,
		Lock:   &scheduler.ProvisionLock,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := reg.Recover(ctx, reattacher(coordinator, cfg.Server.RootDir, pools)); err != nil {
		return fmt.Errorf("failed to recover agents: %w", err)
	}

	sched := scheduler.NewScheduler(scheduler.Config{
		Pools:       pools,
		Provisioner: coordinator,
		Connector:   launcher.New(reg),
		Registry:    reg,
		Lock:        &scheduler.ProvisionLock,
	})
	metrics.UpdateComponent(metrics.ComponentScheduler, true, "")

	recon := reconciler.NewReconciler(reconciler.Options{
		Registry:          reg,
		HeartbeatInterval: time.Duration(cfg.Server.HeartbeatSeconds) * time.Second,
	})
	recon.Start()

	collector := metrics.NewCollector(broker, reg)
	collector.Start()

	server := api.NewServer(api.Options{
		Provisioner: sched,
		Agents:      reg,
		Secrets:     agentSecrets,
		Credentials: vault,
		Store:       store,
	})
	addr, err := server.Start(cfg.Server.Listen)
	if err != nil {
		sched.Shutdown()
		recon.Stop()
		collector.Stop()
		return err
	}

	logger.Info().
		Str("addr", addr.String()).
		Int("pools", len(pools)).
		Str("version", Version).
		Msg("Terrapool is running")

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("API server did not stop cleanly")
	}

	// Attempts stop between steps; a failed apply is still destroyed.
	sched.Shutdown()
	recon.Stop()
	collector.Stop()

	logger.Info().Msg("Shutdown complete")
	return nil
}

// loadKeys derives the daemon keys from the master key in the environment or
// the key file, creating the file on first start
func loadKeys(cfg *config.Config) (*security.Keys, error) {
	var (
		master []byte
		err    error
	)
	if cfg.SecretKey != "" {
		master, err = security.ParseMasterKey(cfg.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.SecretKeyEnv, err)
		}
	} else {
		master, err = security.LoadOrCreateMasterKey(cfg.Server.SecretKeyFile)
		if err != nil {
			return nil, err
		}
	}
	return security.DeriveKeys(master)
}

// reattacher rebuilds recovered agents from the configured pools. Agents of
// pools or templates that no longer exist cannot be reattached.
func reattacher(coordinator *provision.Coordinator, rootDir string, pools []*types.Pool) registry.ReattachFunc {
	byName := make(map[string]*types.Pool, len(pools))
	for _, p := range pools {
		byName[p.Name] = p
	}

	return func(ctx context.Context, rec *types.Agent) (*provision.Agent, error) {
		pool, ok := byName[rec.Pool]
		if !ok {
			return nil, fmt.Errorf("%w: %s", scheduler.ErrUnknownPool, rec.Pool)
		}
		tmpl := pool.Template(rec.Template)
		if tmpl == nil {
			return nil, fmt.Errorf("unknown template %s in pool %s", rec.Template, rec.Pool)
		}

		dir := rec.WorkspaceDir
		if dir == "" {
			dir = workspace.Path(rootDir, rec.Name)
		}
		return coordinator.Reattach(ctx, pool, tmpl, rec.Name, dir)
	}
}
