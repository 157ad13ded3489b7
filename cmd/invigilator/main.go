package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maidsafe/vault-mgr/pkg/chunkstore"
	"github.com/maidsafe/vault-mgr/pkg/log"
	"github.com/maidsafe/vault-mgr/pkg/manager"
	"github.com/maidsafe/vault-mgr/pkg/metrics"
	"github.com/maidsafe/vault-mgr/pkg/security"
	"github.com/maidsafe/vault-mgr/pkg/storage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "invigilator",
	Short:   "Invigilator - vault worker process manager",
	Long:    `Invigilator spawns, supervises and authenticates vault worker processes for a single machine.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"invigilator version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.AddCommand(runCmd)
}

// fileConfig is the YAML shape accepted by --config; flags override it.
type fileConfig struct {
	MinPort        int      `yaml:"minPort"`
	MaxPort        int      `yaml:"maxPort"`
	VaultBinary    string   `yaml:"vaultBinary"`
	BootstrapNodes []string `yaml:"bootstrapNodes"`
	DataDir        string   `yaml:"dataDir"`
	ChunkDir       string   `yaml:"chunkDir"`
	ChunkCapacity  uint64   `yaml:"chunkCapacity"`
	ManagerID      string   `yaml:"managerID"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Invigilator",
	RunE:  runInvigilator,
}

func init() {
	runCmd.Flags().String("config", "", "YAML config file")
	runCmd.Flags().Int("min-port", 9000, "Lowest loopback port to bind")
	runCmd.Flags().Int("max-port", 9100, "Highest loopback port to bind")
	runCmd.Flags().String("vault-binary", "", "Path to the vault worker executable (required)")
	runCmd.Flags().String("data-dir", "./invigilator-data", "Directory for persisted state")
	runCmd.Flags().Uint64("chunk-capacity", 1<<30, "Chunk store capacity in bytes")
	runCmd.Flags().String("log-level", "info", "Log level: debug, info, warn, error")
	runCmd.Flags().String("manager-id", "", "Stable identifier this manager derives its at-rest encryption key from (defaults to the hostname)")
	runCmd.Flags().String("health-addr", ":9090", "Address to serve /health, /ready, /live and /metrics on")
}

func runInvigilator(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg := fileConfig{}
	if cfgPath != "" {
		data, err := os.ReadFile(cfgPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}

	minPort, _ := cmd.Flags().GetInt("min-port")
	maxPort, _ := cmd.Flags().GetInt("max-port")
	vaultBinary, _ := cmd.Flags().GetString("vault-binary")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	chunkCapacity, _ := cmd.Flags().GetUint64("chunk-capacity")
	logLevel, _ := cmd.Flags().GetString("log-level")
	managerID, _ := cmd.Flags().GetString("manager-id")
	healthAddr, _ := cmd.Flags().GetString("health-addr")

	if cfg.MinPort != 0 {
		minPort = cfg.MinPort
	}
	if cfg.MaxPort != 0 {
		maxPort = cfg.MaxPort
	}
	if cfg.VaultBinary != "" {
		vaultBinary = cfg.VaultBinary
	}
	if cfg.DataDir != "" {
		dataDir = cfg.DataDir
	}
	if cfg.ChunkCapacity != 0 {
		chunkCapacity = cfg.ChunkCapacity
	}
	if cfg.ManagerID != "" {
		managerID = cfg.ManagerID
	}
	if vaultBinary == "" {
		return fmt.Errorf("--vault-binary is required")
	}
	if managerID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("determine manager id: %w", err)
		}
		managerID = hostname
	}

	log.Init(log.Config{Level: log.Level(logLevel)})

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := storage.NewBoltStore(dataDir, security.DeriveKeyFromManagerID(managerID))
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("storage", true, "")

	chunkDir := cfg.ChunkDir
	if chunkDir == "" {
		chunkDir = dataDir + "/chunks"
	}
	chunks, err := chunkstore.NewFileChunkStore(chunkDir, chunkCapacity)
	if err != nil {
		return fmt.Errorf("open chunk store: %w", err)
	}

	inv, err := manager.NewInvigilator(manager.Config{
		MinPort:        minPort,
		MaxPort:        maxPort,
		VaultBinary:    vaultBinary,
		BootstrapNodes: cfg.BootstrapNodes,
		DataDir:        dataDir,
	}, store)
	if err != nil {
		return fmt.Errorf("start invigilator: %w", err)
	}
	inv.Start()
	metrics.RegisterComponent("invigilator", true, "")

	collector := metrics.NewCollector(func() metrics.VaultStats {
		s := inv.Stats()
		return metrics.VaultStats{
			Pending:          s.Pending,
			Running:          s.Running,
			JoinConfirmed:    s.JoinConfirmed,
			ValidatedClients: s.ValidatedClients,
			TotalRestarts:    s.TotalRestarts,
		}
	}, chunks)
	collector.Start()

	healthSrv := metrics.NewServer(healthAddr)
	go func() {
		if err := healthSrv.Start(); err != nil {
			logger := log.WithComponent("invigilator")
			logger.Error().Err(err).Msg("health server stopped unexpectedly")
		}
	}()

	fmt.Printf("Invigilator listening on port %d\n", inv.Port())
	fmt.Printf("Health/metrics listening on %s (/health, /ready, /live, /metrics)\n", healthAddr)
	fmt.Println("Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger := log.WithComponent("invigilator")
		logger.Error().Err(err).Msg("health server shutdown error")
	}
	collector.Stop()
	inv.Shutdown()
	return nil
}
