package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shre-db/linked-squad/go/assistant/internal/agents"
	"github.com/shre-db/linked-squad/go/assistant/internal/config"
	"github.com/shre-db/linked-squad/go/assistant/internal/llm"
	"github.com/shre-db/linked-squad/go/assistant/internal/orchestrator"
	"github.com/shre-db/linked-squad/go/assistant/internal/profiles"
	"github.com/shre-db/linked-squad/go/assistant/internal/session"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "LinkedIn profile assistant",
	Long: `Chat with the LinkedIn profile assistant from the terminal.

With no subcommand, starts an interactive session. Paste a profile URL to
begin, then ask for an analysis, a rewrite, a job-fit evaluation or
career guidance.`,
	SilenceUsage: true,
	RunE:         runChat,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file or directory (defaults to CONFIG_PATH or ./config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr")
	rootCmd.Flags().StringVar(&sessionID, "session", "", "Resume an existing session id")

	rootCmd.AddCommand(profilesCmd)
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func openCatalog(cfg *config.Config, logger *zap.Logger) (*profiles.Catalog, error) {
	dir := cfg.Profiles.Dir
	if dir != "" {
		if _, err := os.Stat(dir); err != nil {
			dir = ""
		}
	}
	return profiles.NewCatalog(dir, logger)
}

// chatRuntime bundles what a chat session needs and how to release it.
type chatRuntime struct {
	orch    *orchestrator.Orchestrator
	catalog *profiles.Catalog
	store   session.Backend
}

func (r *chatRuntime) Close() {
	r.catalog.Close()
	r.store.Close()
}

func buildRuntime(cfg *config.Config, logger *zap.Logger) (*chatRuntime, error) {
	generator, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("configure generator: %w", err)
	}
	catalog, err := openCatalog(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	store, err := session.New(cfg.Session, logger)
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}
	orch := orchestrator.New(
		store,
		agents.NewSet(generator, cfg.Agents, logger),
		agents.NewRouter(generator, cfg.Agents, logger),
		catalog,
		logger,
	)
	return &chatRuntime{orch: orch, catalog: catalog, store: store}, nil
}
