package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/panfm/panfm/pkg/alerting"
	"github.com/panfm/panfm/pkg/api"
	"github.com/panfm/panfm/pkg/collector"
	"github.com/panfm/panfm/pkg/config"
	"github.com/panfm/panfm/pkg/dns"
	"github.com/panfm/panfm/pkg/log"
	"github.com/panfm/panfm/pkg/notify"
	"github.com/panfm/panfm/pkg/registry"
	"github.com/panfm/panfm/pkg/scheduler"
	"github.com/panfm/panfm/pkg/security"
	"github.com/panfm/panfm/pkg/store"
	"github.com/panfm/panfm/pkg/store/migrate"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	startupTimeout = 30 * time.Second
	reloadTimeout  = 10 * time.Second

	// schedulerDrain matches the scheduler's own drain window; apiDrain only
	// needs to cover in-flight HTTP requests.
	schedulerDrain = 30 * time.Second
	apiDrain       = 10 * time.Second
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "panfm",
	Short: "PANfm - PAN-OS firewall fleet monitoring",
	Long: `PANfm polls a fleet of PAN-OS firewall appliances over their XML
management API, stores metrics and logs in TimescaleDB, evaluates alert
thresholds and serves aggregated JSON views to the dashboard.

The scheduler and the API server run as separate processes sharing one
database and one data directory.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"PANfm version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit JSON logs instead of console output")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (default /var/lib/panfm, or PANFM_DATA_DIR)")
	rootCmd.PersistentFlags().String("config", "", "Optional YAML config file overriding environment defaults")

	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(apiServerCmd)
}

// loadConfig builds the process configuration from the environment, the
// optional config file and the flags, then initializes logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Load()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}

	level, _ := cmd.Flags().GetString("log-level")
	jsonOut, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
	return cfg, nil
}

// openRegistry loads the encryption key and opens the shared device registry.
func openRegistry(cfg *config.Config) (*registry.Registry, error) {
	key, err := security.LoadOrCreateKey(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load encryption key: %v", err)
	}
	cipher, err := security.NewCipher(key)
	if err != nil {
		return nil, err
	}
	reg, err := registry.Open(cfg.DataDir, cipher, cfg.MaxEnabledDevices())
	if err != nil {
		return nil, fmt.Errorf("failed to open device registry: %v", err)
	}
	return reg, nil
}

// reloadChannels overlays database-managed notification channels on the
// environment defaults. A failure here is not fatal: the database may still
// be warming up, and the dispatcher keeps its environment channels.
func reloadChannels(ctx context.Context, dispatcher *notify.Dispatcher) {
	reloadCtx, cancel := context.WithTimeout(ctx, reloadTimeout)
	defer cancel()
	if err := dispatcher.Reload(reloadCtx); err != nil {
		logger := log.WithComponent("main")
		logger.Warn().Err(err).
			Msg("notification channels not loaded, using environment channels")
	}
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the collection scheduler process",
	Long: `Run the scheduler process.

Applies schema migrations, then polls every enabled firewall on its
configured cadence, evaluates alert thresholds and dispatches
notifications until interrupted. SIGTERM or SIGINT stops dispatch and
waits up to 30 seconds for in-flight jobs to finish.`,
	RunE: runScheduler,
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("Starting PANfm scheduler...")
	fmt.Printf("  Database: %s:%d/%s\n", cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
	fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
	fmt.Println()

	db, err := migrate.Open(cfg.DB)
	if err != nil {
		return err
	}
	err = migrate.Up(db)
	db.Close()
	if err != nil {
		return err
	}
	fmt.Println("✓ Schema migrations applied")

	openCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	st, err := store.Open(openCtx, cfg.DB)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}
	defer st.Close()
	fmt.Println("✓ Database connected")

	rt, err := config.NewRuntime(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to load settings: %v", err)
	}

	reg, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	fmt.Println("✓ Device registry opened")

	dispatcher := notify.New(st, cfg)
	reloadChannels(ctx, dispatcher)

	engine := alerting.New(st, dispatcher, rt.Current)
	sched := scheduler.New()
	coll := collector.New(st, reg, engine, sched, rt, collector.Config{
		ReloadChannels: dispatcher.Reload,
		Resolver:       dns.NewResolver(nil),
	})
	for _, job := range coll.Jobs() {
		if err := sched.Add(job); err != nil {
			return err
		}
	}

	// Jobs run on a background context, not the signal context: a SIGTERM
	// must let the in-flight tick finish inside the drain window rather than
	// cancel it mid-write.
	if err := sched.Start(context.Background()); err != nil {
		return err
	}
	fmt.Println("✓ Scheduler started")
	fmt.Println()
	fmt.Println("Scheduler is running. Press Ctrl+C to stop.")

	<-ctx.Done()
	stop()
	fmt.Println("\nShutting down...")

	drainCtx, cancel := context.WithTimeout(context.Background(), schedulerDrain)
	defer cancel()
	if err := sched.Stop(drainCtx); err != nil {
		return fmt.Errorf("shutdown failed: %v", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}

var apiServerCmd = &cobra.Command{
	Use:   "api-server",
	Short: "Run the HTTP API server process",
	Long: `Run the API server process.

Serves the dashboard JSON API on PORT (default 8080). The server starts
even while the database is still initializing; /health reports 503 with a
retry hint until the first successful ping.`,
	RunE: runAPIServer,
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("Starting PANfm API server...")
	fmt.Printf("  Port: %d\n", cfg.Port)
	fmt.Printf("  Database: %s:%d/%s\n", cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
	fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
	fmt.Println()

	st, err := store.OpenLazy(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open database pool: %v", err)
	}
	defer st.Close()

	rt, err := config.NewRuntime(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to load settings: %v", err)
	}

	reg, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	fmt.Println("✓ Device registry opened")

	dispatcher := notify.New(st, cfg)
	reloadChannels(ctx, dispatcher)

	srv := api.New(st, reg, rt, dispatcher, api.Config{
		Port:    cfg.Port,
		Version: Version,
		Token:   cfg.APIToken,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("API server error: %v", err)
		}
	}()
	fmt.Println("✓ API server started")
	fmt.Println()
	fmt.Println("API server is running. Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
		stop()
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		return err
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), apiDrain)
	defer cancel()
	if err := srv.Stop(drainCtx); err != nil {
		return fmt.Errorf("shutdown failed: %v", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}
