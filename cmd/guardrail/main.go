// Package main implements the guardrail CLI: scan a tree of Python sources
// for the fixed deterministic rule catalog, optionally patch what it finds,
// or serve the same two operations over HTTP.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"guardrail/internal/config"
	"guardrail/internal/logging"
)

var (
	verbose    bool
	workspace  string
	apiKey     string
	configPath string

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "guardrail",
	Short: "guardrail - deterministic static analysis and self-healing patches for Python services",
	Long: `guardrail scans Python source for a fixed catalog of production-risk patterns
(race conditions, missing awaits, unbounded HTTP calls, missing exception
boundaries, and more), scores the result, and can generate minimal patches
for what it finds - via an LLM completion service when one is configured,
falling back to deterministic templates otherwise. Every proposed patch is
re-validated and re-scanned before it's accepted; anything that makes things
worse is rolled back automatically.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}
		if err := logging.Initialize(ws); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}

		path := configPath
		if path == "" {
			path = filepath.Join(ws, ".guardrail", "config.yaml")
		}
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if apiKey != "" {
			loaded.Completion.APIKey = apiKey
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = loaded

		if cfg.Audit.Path != "" {
			auditPath := cfg.Audit.Path
			if !filepath.IsAbs(auditPath) {
				auditPath = filepath.Join(ws, auditPath)
			}
			if err := logging.InitAudit(auditPath); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to initialize audit sink: %v\n", err)
			}
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAudit()
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "completion service API key (or set GROQ_API_KEY/OPENAI_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: <workspace>/.guardrail/config.yaml)")

	rootCmd.AddCommand(scanCmd, patchCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
