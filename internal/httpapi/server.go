// Package httpapi exposes the orchestrator and rule engine over a thin JSON
// HTTP surface: POST /scan, POST /patch, and GET /jobs/{poll_id} for request
// sets too large to process inline. No authentication, no rate limiting —
// this surface exists to exercise the core through a real wire boundary.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"guardrail/internal/cache"
	"guardrail/internal/config"
	"guardrail/internal/logging"
	"guardrail/internal/orchestrator"
	"guardrail/internal/patch"
	"guardrail/internal/rules"
)

// Server wires the rule engine, completion client, and content-addressed
// cache into a stdlib net/http handler. A value constructed once per
// process, never a package-level global.
type Server struct {
	engine      *rules.Engine
	completion  patch.CompletionClient
	cache       *cache.Cache
	jobs        *jobStore
	maxRetries  int
	review      bool

	maxFileSizeBytes        int
	backgroundFileThreshold int
	riskThreshold           int
	corsOrigins             []string
}

// NewServer builds the HTTP surface from a loaded configuration. completion
// may be nil, in which case every patch run falls through to the
// deterministic template path.
func NewServer(cfg *config.Config, engine *rules.Engine, completion patch.CompletionClient, c *cache.Cache) *Server {
	if engine == nil {
		engine = rules.NewEngine(nil)
	}
	return &Server{
		engine:                  engine,
		completion:              completion,
		cache:                   c,
		jobs:                    newJobStore(),
		maxRetries:              cfg.Pipeline.MaxRetries,
		review:                  cfg.Pipeline.ReviewEnabled,
		maxFileSizeBytes:        cfg.Pipeline.MaxFileSizeBytes,
		backgroundFileThreshold: cfg.Server.BackgroundFileThreshold,
		riskThreshold:           cfg.Pipeline.RiskThreshold,
		corsOrigins:             cfg.Server.CORSOrigins,
	}
}

// Handler returns the routed stdlib http.Handler for this server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/scan", s.withCORS(s.handleScan))
	mux.HandleFunc("/patch", s.withCORS(s.handlePatch))
	mux.HandleFunc("/jobs/", s.withCORS(s.handleJob))
	return mux
}

func (s *Server) auditFor(scanID string) *logging.AuditLogger {
	return logging.AuditForScan(scanID)
}

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.corsOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.ServerError("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	logging.ServerError("request failed: %s", msg)
	writeJSON(w, status, errorResponse{Message: "error", Error: msg})
}

// filterOversizedFiles drops any file whose content exceeds maxBytes,
// logging one warning per dropped file.
func (s *Server) filterOversizedFiles(files []fileDTO) []fileDTO {
	if s.maxFileSizeBytes <= 0 {
		return files
	}
	kept := make([]fileDTO, 0, len(files))
	for _, f := range files {
		if len(f.Content) > s.maxFileSizeBytes {
			logging.ServerError("dropping %s: %d bytes exceeds max_file_size_bytes %d", f.Path, len(f.Content), s.maxFileSizeBytes)
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

func normalizeScanFiles(req scanRequest) []fileDTO {
	if len(req.Files) > 0 {
		return req.Files
	}
	if req.Combined != "" {
		return []fileDTO{{Path: "unknown", Content: req.Combined}}
	}
	return nil
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "scan requires POST")
		return
	}

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed scan request: "+err.Error())
		return
	}

	files := s.filterOversizedFiles(normalizeScanFiles(req))
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files to scan after size filtering")
		return
	}

	scanID := newPollID()

	if len(files) > s.backgroundFileThreshold && s.backgroundFileThreshold > 0 {
		pollID := s.jobs.create()
		go func() {
			report := s.runScan(scanID, files)
			s.jobs.complete(pollID, scanResponse{Message: "scan_complete", ScanID: scanID, Report: &report})
		}()
		writeJSON(w, http.StatusAccepted, jobResponse{PollID: pollID, Status: string(jobPending)})
		return
	}

	report := s.runScan(scanID, files)
	writeJSON(w, http.StatusOK, scanResponse{Message: "scan_complete", ScanID: scanID, Report: &report})
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "patch requires POST")
		return
	}

	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed patch request: "+err.Error())
		return
	}

	files := s.filterOversizedFiles(req.Files)
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files to patch after size filtering")
		return
	}

	maxRetries := s.maxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	orch := orchestrator.New(s.engine, s.completion, maxRetries, s.review)

	inputs := make([]orchestrator.FileInput, 0, len(files))
	for _, f := range files {
		inputs = append(inputs, orchestrator.FileInput{Path: f.Path, Content: f.Content})
	}

	run := func(ctx context.Context) patchResponse {
		return patchResponseToDTO(orch.Run(ctx, inputs, req.TargetRuleIDs, req.UseFallback))
	}

	if len(files) > s.backgroundFileThreshold && s.backgroundFileThreshold > 0 {
		pollID := s.jobs.create()
		go func() {
			resp := run(context.Background())
			s.jobs.complete(pollID, resp)
		}()
		writeJSON(w, http.StatusAccepted, jobResponse{PollID: pollID, Status: string(jobPending)})
		return
	}

	writeJSON(w, http.StatusOK, run(r.Context()))
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	pollID := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if pollID == "" {
		writeError(w, http.StatusBadRequest, "missing poll_id")
		return
	}

	j, ok := s.jobs.get(pollID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown poll_id")
		return
	}

	resp := jobResponse{PollID: pollID, Status: string(j.status)}
	switch j.status {
	case jobDone:
		resp.Result = j.result
	case jobFailed:
		resp.Error = j.err
	}
	writeJSON(w, http.StatusOK, resp)
}
