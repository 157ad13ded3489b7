package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/maidsafe/vault-mgr/pkg/chunkstore"
	"github.com/maidsafe/vault-mgr/pkg/vaultcontroller"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
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
	Use:     "vault",
	Short:   "Vault worker process",
	Long:    `Vault is the worker process an Invigilator spawns; it stores chunks and reports its lifecycle back over the invigilator_identifier channel.`,
	Version: Version,
	RunE:    runVault,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"vault version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.Flags().String("invigilator_identifier", "", "port:process_index of the spawning Invigilator (required)")
	rootCmd.Flags().String("chunk-dir", "./vault-data", "Directory this vault stores chunks under")
	rootCmd.Flags().Uint64("chunk-capacity", 512<<20, "Chunk store capacity in bytes")
	_ = rootCmd.MarkFlagRequired("invigilator_identifier")
}

func runVault(cmd *cobra.Command, args []string) error {
	identifier, _ := cmd.Flags().GetString("invigilator_identifier")
	chunkDir, _ := cmd.Flags().GetString("chunk-dir")
	chunkCapacity, _ := cmd.Flags().GetUint64("chunk-capacity")

	controller, err := vaultcontroller.New(identifier)
	if err != nil {
		return fmt.Errorf("parse invigilator identifier: %w", err)
	}
	defer controller.Close()

	stopped := make(chan struct{})
	stopOnce := make(chan struct{})
	if err := controller.Start(func() {
		select {
		case <-stopOnce:
		default:
			close(stopOnce)
			close(stopped)
		}
	}); err != nil {
		return fmt.Errorf("handshake with invigilator: %w", err)
	}

	_, accountName, err := controller.GetIdentity()
	if err != nil {
		return fmt.Errorf("get identity: %w", err)
	}
	fmt.Printf("vault %s identified\n", accountName)

	storeDir := filepath.Join(chunkDir, accountName)
	if err := os.MkdirAll(storeDir, 0o700); err != nil {
		return fmt.Errorf("create chunk dir: %w", err)
	}
	chunks, err := chunkstore.NewFileChunkStore(storeDir, chunkCapacity)
	if err != nil {
		return fmt.Errorf("open chunk store: %w", err)
	}
	_ = chunks

	if err := controller.ConfirmJoin(true); err != nil {
		return fmt.Errorf("confirm join: %w", err)
	}
	fmt.Println("joined network, storing chunks under", storeDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("shutting down")
	case <-stopped:
		fmt.Println("shutdown requested by invigilator")
	}
	return nil
}
