package httpapi

import (
	"time"

	"guardrail/internal/ast"
	"guardrail/internal/cache"
	"guardrail/internal/callgraph"
	"guardrail/internal/logging"
	"guardrail/internal/patch"
	"guardrail/internal/risk"
)

// runScan parses every file (through the content-addressed cache when one is
// configured), runs the full rule engine across the whole set, and scores
// the result. Using the cache only ever accelerates parsing: the rule engine
// still runs over every module and the complete call graph, so the reported
// violations are identical whether or not a cache is present.
func (s *Server) runScan(scanID string, files []fileDTO) scanReportDTO {
	start := time.Now()
	parser := ast.NewPythonParser()

	modules := make(map[string]*ast.ModuleAST, len(files))
	for _, f := range files {
		content := []byte(f.Content)
		if s.cache != nil {
			hash := cache.ContentHash(content)
			if entry, ok := s.cache.Get(f.Path, hash); ok {
				modules[f.Path] = entry.ModuleAST
				continue
			}
			mod := parser.Parse(f.Path, content)
			if mod == nil {
				continue
			}
			modules[f.Path] = mod
			singleResult := s.engine.Run(map[string]*ast.ModuleAST{f.Path: mod}, nil)
			s.cache.Put(f.Path, hash, mod, singleResult.Violations)
			continue
		}
		if mod := parser.Parse(f.Path, content); mod != nil {
			modules[f.Path] = mod
		}
	}

	graph := callgraph.Build(modules)
	result := s.engine.Run(modules, graph)
	breakdown := risk.Compute(result, graph, nil)

	durationMs := time.Since(start).Milliseconds()

	var completionClientUsed bool
	if _, isOffline := s.completion.(*patch.OfflineClient); s.completion != nil && !isOffline {
		completionClientUsed = breakdown.TotalScore >= s.riskThreshold
	}
	deterministicOnly := !completionClientUsed

	issues := make([]violationDTO, 0, len(result.Violations))
	for _, v := range result.Violations {
		issues = append(issues, violationToDTO(v))
	}

	audit := s.auditFor(scanID)
	audit.ScanStart(len(files))
	for _, v := range result.Violations {
		audit.ViolationDetected(v.File, v.RuleID, string(v.Severity))
	}
	audit.ScanComplete(len(result.Violations), breakdown.TotalScore, durationMs)

	logging.Server("scan %s complete: %d files, %d violations, risk %d, %dms",
		scanID, len(modules), len(result.Violations), breakdown.TotalScore, durationMs)

	return scanReportDTO{
		Issues:            issues,
		RiskScore:         breakdown.TotalScore,
		RiskBreakdown:     breakdown,
		Summary:           breakdown.Summary,
		LLMUsed:           completionClientUsed,
		DeterministicOnly: deterministicOnly,
		Audit: auditSummaryDTO{
			ScanID:            scanID,
			FilesScanned:      len(modules),
			ViolationsFound:   len(result.Violations),
			RiskScore:         breakdown.TotalScore,
			LLMInvoked:        completionClientUsed,
			LLMTokensUsed:     0,
			DurationMs:        durationMs,
			DeterministicOnly: deterministicOnly,
		},
	}
}
