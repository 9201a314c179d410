package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/janekolszak/warp/config"
)

var (
	initDir      string
	initGateway  string
	initBackend  string
	initPolicy   string
	initOverride bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration",
	Long: `Write a default configuration file and create the cache directory.

Example:
  warp init --gateway https://arweave.net --cache badgerdb`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", ".", "directory for configuration and data")
	initCmd.Flags().StringVar(&initGateway, "gateway", "https://arweave.net", "gateway URL")
	initCmd.Flags().StringVar(&initBackend, "cache", "leveldb", "cache backend (memory, leveldb, badgerdb, redis)")
	initCmd.Flags().StringVar(&initPolicy, "unsafe-client", "throw", "unsafe client policy (throw, skip, allow)")
	initCmd.Flags().BoolVar(&initOverride, "force", false, "override existing configuration")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := initDir
	if dir == "" {
		dir = "."
	}

	configPath := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(configPath); err == nil && !initOverride {
		return fmt.Errorf("config.toml already exists; use --force to override")
	}

	cfg := config.DefaultConfig()
	cfg.Gateway.URL = initGateway
	cfg.Cache.Backend = initBackend
	cfg.Cache.Path = filepath.Join(dir, "data", "cache")
	cfg.Evaluation.UnsafeClient = config.UnsafeClientPolicy(initPolicy)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDataDirs(); err != nil {
		return err
	}
	if err := config.WriteConfigFile(configPath, cfg); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized warp client\n")
	fmt.Fprintf(out, "  Gateway:     %s\n", cfg.Gateway.URL)
	fmt.Fprintf(out, "  Cache:       %s\n", cfg.Cache.Backend)
	fmt.Fprintf(out, "  Policy:      %s\n", cfg.Evaluation.UnsafeClient)
	fmt.Fprintf(out, "  Config:      %s\n", configPath)

	return nil
}
