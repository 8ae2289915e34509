package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/slush-dev/agentpush/config"
	"github.com/slush-dev/agentpush/fcm"
	"github.com/slush-dev/agentpush/store"
	"github.com/slush-dev/agentpush/tokensync"
)

var (
	configPath string
	sessionDir string
	verbose    bool
	useYAML    bool
)

func defaultSessionDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agentpush")
}

var rootCmd = &cobra.Command{
	Use:   "agentpush",
	Short: "Agent push token sync and incoming call handling",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <session-dir>/"+config.FileName+")")
	rootCmd.PersistentFlags().StringVar(&sessionDir, "session-dir", defaultSessionDir(), "Directory for push credentials and config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&useYAML, "yaml", false, "Print output in YAML format instead of text")

	// Allow env override
	if envDir := os.Getenv(config.EnvPrefix + "SESSION_DIR"); envDir != "" {
		sessionDir = envDir
	}
}

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger returns a stderr logger honouring --verbose.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the config file and applies the --session-dir flag.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(sessionDir, config.FileName)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if cfg.SessionDir == "" || rootCmd.PersistentFlags().Changed("session-dir") {
		cfg.SessionDir = sessionDir
	}
	return cfg, nil
}

// services bundles what most commands need: config, the agent store, the
// push client and the token synchronizer built on both.
type services struct {
	cfg    config.Config
	docs   store.DocumentStore
	push   *fcm.Client
	sync   *tokensync.Synchronizer
	logger *slog.Logger
}

func openServices(ctx context.Context) (*services, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger()
	warnEphemeralStore(cfg, os.Stderr)

	docs, err := store.Open(ctx, cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}

	push := fcm.NewClient(cfg.SessionDir,
		fcm.WithLogger(logger),
		fcm.WithApp(cfg.App()),
		fcm.WithDevice(cfg.AndroidDevice()),
	)
	syncer := tokensync.New(docs, push, cfg.DeviceName(),
		tokensync.WithLogger(logger),
		tokensync.WithCollection(cfg.Store.Collection),
	)
	return &services{cfg: cfg, docs: docs, push: push, sync: syncer, logger: logger}, nil
}

// warnEphemeralStore tells the user that agent records written by this
// process will not be visible to the next one.
func warnEphemeralStore(cfg config.Config, w io.Writer) {
	if store.Backend(cfg.Store.Backend) != store.BackendMemory {
		return
	}
	fmt.Fprintln(w, "Warning: store.backend is memory; agent records are lost when this process exits.")
	fmt.Fprintln(w, "Set store.backend to firestore or redis in "+config.FileName+" to keep them.")
}

func (s *services) Close() error {
	return s.docs.Close()
}

// resolveUser prefers the --user flag over the configured user_id.
func resolveUser(flagValue string, cfg config.Config) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if cfg.UserID != "" {
		return cfg.UserID, nil
	}
	return "", errors.New("no user: pass --user or set user_id in the config")
}
