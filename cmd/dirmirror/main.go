package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/schaermu/dirmirror/internal/config"
	"github.com/schaermu/dirmirror/internal/logging"
	"github.com/schaermu/dirmirror/internal/runner"
	"github.com/schaermu/dirmirror/internal/sync"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	logFile   string

	// Pass flags
	dryRun        bool
	hashName      string
	quickCheck    bool
	createReplica bool

	// Daemon flags
	interval int
	watch    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dirmirror",
	Short: "Mirror a source directory tree onto a replica",
	Long: `dirmirror keeps a replica directory identical to a source directory.

Each pass copies files that are missing from the replica or whose content hash
differs, then removes replica entries that no longer exist in the source. It can
run a single pass or keep mirroring on an interval.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync [source replica]",
	Short: "Run a single mirroring pass",
	Long: `Sync walks the source tree, copies new and changed files to the replica and
prunes replica entries that have no source counterpart.

Source and replica come from the positional arguments or from the config file.`,
	Args: pathArgs,
	RunE: runSync,
}

var runCmd = &cobra.Command{
	Use:   "run [source replica]",
	Short: "Mirror continuously on an interval",
	Long: `Run performs a pass immediately and then one pass per interval until it
receives SIGINT or SIGTERM. With --watch, changes in the source also trigger a
pass after a short debounce.

A failed pass is logged and retried on the next interval.`,
	Args: pathArgs,
	RunE: runRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dirmirror %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/dirmirror/config.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", config.DefaultLogFormat, "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also append log events to this file")

	for _, cmd := range []*cobra.Command{syncCmd, runCmd} {
		cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
		cmd.Flags().StringVar(&hashName, "hash", "", "content hash (sha256, md5, xxhash)")
		cmd.Flags().BoolVar(&quickCheck, "quick-check", false, "copy files whose sizes differ without hashing them")
		cmd.Flags().BoolVar(&createReplica, "create-replica", false, "create the replica directory if it does not exist")
	}

	// Run command flags
	runCmd.Flags().IntVar(&interval, "interval", config.DefaultIntervalSeconds, "seconds between passes")
	runCmd.Flags().BoolVar(&watch, "watch", false, "also run a pass when the source changes")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sink, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = sink.Close()
	}()
	logger := sink.Logger

	rec, err := newReconciler(cfg, logger)
	if err != nil {
		return err
	}

	out, err := runner.New(rec, cfg, logger).RunOnce(ctx)
	if err != nil {
		return err
	}

	if out.Errors > 0 {
		logger.Warn("pass finished with errors", "errors", out.Errors)
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sink, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = sink.Close()
	}()
	logger := sink.Logger

	rec, err := newReconciler(cfg, logger)
	if err != nil {
		return err
	}

	if err := runner.New(rec, cfg, logger).Run(ctx); err != nil {
		logger.Error("runner failed", "error", err)
		return err
	}
	return nil
}

// pathArgs accepts either no positional arguments or both roots
func pathArgs(cmd *cobra.Command, args []string) error {
	if len(args) != 0 && len(args) != 2 {
		return fmt.Errorf("expected <source> <replica>, got %d argument(s)", len(args))
	}
	return nil
}

func newReconciler(cfg *config.Config, logger *slog.Logger) (*sync.Reconciler, error) {
	return sync.NewReconciler(logger, sync.Options{
		Hash:          cfg.HashAlgorithm(),
		DryRun:        cfg.Sync.DryRun,
		QuickCheck:    cfg.Sync.QuickCheck,
		CreateReplica: cfg.Sync.CreateReplica,
	})
}

func setupLogger(cfg *config.Config) (*logging.Sink, error) {
	sink, err := logging.Open(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, err
	}

	sink.Logger.Debug("configuration loaded",
		"source", cfg.Paths.Source,
		"replica", cfg.Paths.Replica,
		"lock_file", cfg.LockFilePath(),
		"hash", cfg.Sync.Hash,
		"dry_run", cfg.Sync.DryRun)

	return sink, nil
}

// loadConfig reads the config file, if any, and lets positional arguments and
// explicitly set flags override it
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	if len(args) == 2 {
		if cfg.Paths.Source, err = filepath.Abs(args[0]); err != nil {
			return nil, fmt.Errorf("failed to resolve source: %w", err)
		}
		if cfg.Paths.Replica, err = filepath.Abs(args[1]); err != nil {
			return nil, fmt.Errorf("failed to resolve replica: %w", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if flags.Changed("log-file") {
		cfg.Log.File = logFile
	}
	if flags.Changed("dry-run") {
		cfg.Sync.DryRun = dryRun
	}
	if flags.Changed("hash") {
		cfg.Sync.Hash = hashName
	}
	if flags.Changed("quick-check") {
		cfg.Sync.QuickCheck = quickCheck
	}
	if flags.Changed("create-replica") {
		cfg.Sync.CreateReplica = createReplica
	}
	if flags.Changed("interval") {
		cfg.Sync.IntervalSeconds = interval
	}
	if flags.Changed("watch") {
		cfg.Watch.Enabled = watch
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// readConfig reads the explicit config file, or the default one when present
func readConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.Read(cfgFile)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return config.Default(), nil
	}

	path := filepath.Join(home, ".config", "dirmirror", "config.yaml")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Read(path)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
