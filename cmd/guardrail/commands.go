package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"guardrail/internal/ast"
	"guardrail/internal/cache"
	"guardrail/internal/callgraph"
	"guardrail/internal/httpapi"
	"guardrail/internal/logging"
	"guardrail/internal/orchestrator"
	"guardrail/internal/patch"
	"guardrail/internal/risk"
	"guardrail/internal/rules"
)

var (
	outputJSON    bool
	targetRules   []string
	useFallback   bool
	patchMaxRetry int
)

var scanCmd = &cobra.Command{
	Use:   "scan [paths...]",
	Short: "scan Python sources for the deterministic rule catalog",
	Long:  "Parses every .py file under the given paths, runs the full rule catalog, and reports a risk-scored breakdown.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runScanCmd,
}

var patchCmd = &cobra.Command{
	Use:   "patch [paths...]",
	Short: "scan and attempt to patch every violation found",
	Long:  "Runs the same scan as 'guardrail scan', then attempts a bounded-retry generate/validate/rescan loop for each violation, rolling back anything that makes things worse.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPatchCmd,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the scan and patch operations over HTTP",
	RunE:  runServeCmd,
}

func init() {
	scanCmd.Flags().BoolVar(&outputJSON, "json", false, "emit the full report as JSON")

	patchCmd.Flags().BoolVar(&outputJSON, "json", false, "emit the full patch response as JSON")
	patchCmd.Flags().StringSliceVar(&targetRules, "rule", nil, "only patch violations of this rule ID (repeatable)")
	patchCmd.Flags().BoolVar(&useFallback, "fallback-only", false, "never call the completion service, use deterministic templates only")
	patchCmd.Flags().IntVar(&patchMaxRetry, "max-retries", -1, "override the configured max retry count")
}

// loadPythonFiles collects the given paths: a directory is walked for every
// file whose extension the parser supports; a path naming a file is taken as
// given, whatever its extension.
func loadPythonFiles(paths []string) ([]orchestrator.FileInput, error) {
	extensions := map[string]bool{}
	for _, ext := range ast.NewPythonParser().SupportedExtensions() {
		extensions[ext] = true
	}

	var inputs []orchestrator.FileInput
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("cannot stat %s: %w", root, err)
		}
		if !info.IsDir() {
			content, err := os.ReadFile(root)
			if err != nil {
				return nil, fmt.Errorf("cannot read %s: %w", root, err)
			}
			inputs = append(inputs, orchestrator.FileInput{Path: root, Content: string(content)})
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if !extensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			content, readErr := os.ReadFile(path)
			if readErr != nil {
				logging.BootWarn("skipping %s: %v", path, readErr)
				return nil
			}
			inputs = append(inputs, orchestrator.FileInput{Path: path, Content: string(content)})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return inputs, nil
}

func newCompletionClient() patch.CompletionClient {
	if cfg.Completion.APIKey == "" {
		logging.Boot("no completion API key configured, using offline fallback-only client")
		return patch.NewOfflineClient()
	}
	return patch.NewHTTPClient(
		cfg.Completion.BaseURL,
		cfg.Completion.APIKey,
		cfg.Completion.Model,
		cfg.Completion.Temperature,
		cfg.Completion.MaxTokens,
		cfg.Completion.MaxRetries,
		cfg.CompletionTimeout(),
	)
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	files, err := loadPythonFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no source files found under %v", args)
	}

	parser := ast.NewPythonParser()
	c := cache.New(cfg.CacheTTL())

	modules := make(map[string]*ast.ModuleAST, len(files))
	for _, f := range files {
		content := []byte(f.Content)
		hash := cache.ContentHash(content)
		if entry, ok := c.Get(f.Path, hash); ok {
			modules[f.Path] = entry.ModuleAST
			continue
		}
		mod := parser.Parse(f.Path, content)
		if mod == nil {
			continue
		}
		modules[f.Path] = mod
		c.Put(f.Path, hash, mod, nil)
	}

	engine := rules.NewEngine(nil)
	graph := callgraph.Build(modules)
	result := engine.Run(modules, graph)
	breakdown := risk.Compute(result, graph, nil)

	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(struct {
			Violations []rules.Violation `json:"violations"`
			Risk       risk.Breakdown     `json:"risk"`
		}{result.Violations, breakdown})
	}

	fmt.Printf("scanned %d files: %d violations, risk score %d/100\n", len(modules), len(result.Violations), breakdown.TotalScore)
	for _, v := range result.Violations {
		fmt.Printf("  [%s] %s:%d %s (%s)\n", v.Severity, v.File, v.Line, v.Title, v.RuleID)
	}
	fmt.Println(breakdown.Summary)
	return nil
}

func runPatchCmd(cmd *cobra.Command, args []string) error {
	files, err := loadPythonFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no source files found under %v", args)
	}

	maxRetries := cfg.Pipeline.MaxRetries
	if patchMaxRetry >= 0 {
		maxRetries = patchMaxRetry
	}

	completion := newCompletionClient()
	engine := rules.NewEngine(nil)
	orch := orchestrator.New(engine, completion, maxRetries, cfg.Pipeline.ReviewEnabled)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	resp := orch.Run(ctx, files, targetRules, useFallback)

	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(resp)
	}

	fmt.Printf("patch run: %d violations targeted, %d applied, %d rejected, %d rolled back\n",
		resp.TotalViolations, resp.PatchesApplied, resp.PatchesRejected, resp.PatchesRolledBack)
	fmt.Printf("risk score %d -> %d\n", resp.RiskScoreBefore, resp.RiskScoreAfter)
	for _, r := range resp.Results {
		fmt.Printf("  [%s] %s on %s in %s\n", r.Status, r.RuleID, r.TargetFunction, r.FilePath)
		if len(r.ValidationErrors) > 0 {
			fmt.Printf("    %s\n", strings.Join(r.ValidationErrors, "; "))
		}
	}
	return nil
}

func runServeCmd(cmd *cobra.Command, args []string) error {
	completion := newCompletionClient()
	engine := rules.NewEngine(nil)
	c := cache.New(cfg.CacheTTL())

	server := httpapi.NewServer(cfg, engine, completion, c)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logging.Server("listening on %s", addr)
	fmt.Printf("guardrail serving on %s\n", addr)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	return httpServer.ListenAndServe()
}
