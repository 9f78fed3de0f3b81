package httpapi

import (
	"guardrail/internal/orchestrator"
	"guardrail/internal/risk"
	"guardrail/internal/rules"
)

// fileDTO is one source file as it crosses the wire.
type fileDTO struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// scanRequest is the decoded body of POST /scan.
type scanRequest struct {
	Files    []fileDTO `json:"files"`
	ScanMode string    `json:"scan_mode"`
	Combined string    `json:"combined"`
}

// violationDTO mirrors rules.Violation for the wire.
type violationDTO struct {
	RuleID           string                 `json:"rule_id"`
	Severity         string                 `json:"severity"`
	File             string                 `json:"file"`
	Line             int                    `json:"line"`
	EndLine          int                    `json:"end_line"`
	Title            string                 `json:"title"`
	Description      string                 `json:"description"`
	Evidence         []string               `json:"evidence"`
	AffectedFunction string                 `json:"affected_function"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

func violationToDTO(v rules.Violation) violationDTO {
	return violationDTO{
		RuleID:           v.RuleID,
		Severity:         string(v.Severity),
		File:             v.File,
		Line:             v.Line,
		EndLine:          v.EndLine,
		Title:            v.Title,
		Description:      v.Description,
		Evidence:         v.Evidence,
		AffectedFunction: v.AffectedFunction,
		Metadata:         v.Metadata,
	}
}

// auditSummaryDTO is the `audit` object embedded in a scan report.
type auditSummaryDTO struct {
	ScanID            string `json:"scan_id"`
	FilesScanned      int    `json:"files_scanned"`
	ViolationsFound   int    `json:"violations_found"`
	RiskScore         int    `json:"risk_score"`
	LLMInvoked        bool   `json:"llm_invoked"`
	LLMTokensUsed     int    `json:"llm_tokens_used"`
	DurationMs        int64  `json:"duration_ms"`
	DeterministicOnly bool   `json:"deterministic_only"`
}

// scanReportDTO is the `report` object of a scan response.
type scanReportDTO struct {
	Issues            []violationDTO `json:"issues"`
	RiskScore         int            `json:"riskScore"`
	RiskBreakdown     risk.Breakdown `json:"risk_breakdown"`
	Summary           string         `json:"summary"`
	LLMUsed           bool           `json:"llm_used"`
	DeterministicOnly bool           `json:"deterministic_only"`
	Audit             auditSummaryDTO `json:"audit"`
}

// scanResponse is the encoded body of a synchronous POST /scan reply.
type scanResponse struct {
	Message string         `json:"message"`
	ScanID  string         `json:"scan_id"`
	Report  *scanReportDTO `json:"report"`
}

// patchRequest is the decoded body of POST /patch.
type patchRequest struct {
	Files         []fileDTO `json:"files"`
	TargetRuleIDs []string  `json:"target_rule_ids"`
	MaxRetries    *int      `json:"max_retries"`
	UseFallback   bool      `json:"use_fallback"`
}

// patchResultDTO mirrors orchestrator.PatchResult for the wire.
type patchResultDTO struct {
	RuleID           string   `json:"rule_id"`
	TargetFunction   string   `json:"target_function"`
	FilePath         string   `json:"file_path"`
	Status           string   `json:"status"`
	Explanation      string   `json:"explanation"`
	OriginalCode     string   `json:"original_code"`
	PatchedCode      string   `json:"patched_code"`
	ValidationErrors []string `json:"validation_errors"`
	RiskScoreBefore  int      `json:"risk_score_before"`
	RiskScoreAfter   int      `json:"risk_score_after"`
	LLMAttempts      int      `json:"llm_attempts"`
	UsedFallback     bool     `json:"used_fallback"`
}

func patchResultToDTO(r orchestrator.PatchResult) patchResultDTO {
	return patchResultDTO{
		RuleID:           r.RuleID,
		TargetFunction:   r.TargetFunction,
		FilePath:         r.FilePath,
		Status:           r.Status,
		Explanation:      r.Explanation,
		OriginalCode:     r.OriginalCode,
		PatchedCode:      r.PatchedCode,
		ValidationErrors: r.ValidationErrors,
		RiskScoreBefore:  r.RiskScoreBefore,
		RiskScoreAfter:   r.RiskScoreAfter,
		LLMAttempts:      r.LLMAttempts,
		UsedFallback:     r.UsedFallback,
	}
}

// patchResponse is the encoded body of a synchronous POST /patch reply.
type patchResponse struct {
	Message           string            `json:"message"`
	Results           []patchResultDTO  `json:"results"`
	TotalViolations   int               `json:"total_violations"`
	PatchesApplied    int               `json:"patches_applied"`
	PatchesRejected   int               `json:"patches_rejected"`
	PatchesRolledBack int               `json:"patches_rolled_back"`
	RiskScoreBefore   int               `json:"risk_score_before"`
	RiskScoreAfter    int               `json:"risk_score_after"`
	PatchedSources    map[string]string `json:"patched_sources"`
}

func patchResponseToDTO(r orchestrator.PatchResponse) patchResponse {
	results := make([]patchResultDTO, 0, len(r.Results))
	for _, res := range r.Results {
		results = append(results, patchResultToDTO(res))
	}
	return patchResponse{
		Message:           r.Message,
		Results:           results,
		TotalViolations:   r.TotalViolations,
		PatchesApplied:    r.PatchesApplied,
		PatchesRejected:   r.PatchesRejected,
		PatchesRolledBack: r.PatchesRolledBack,
		RiskScoreBefore:   r.RiskScoreBefore,
		RiskScoreAfter:    r.RiskScoreAfter,
		PatchedSources:    r.PatchedSources,
	}
}

// errorResponse is the shape of any error-kind reply.
type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// jobResponse is the body of GET /jobs/{poll_id}.
type jobResponse struct {
	PollID string      `json:"poll_id"`
	Status string      `json:"status"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}
