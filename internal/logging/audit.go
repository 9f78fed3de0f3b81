// Package logging also provides an append-only audit sink: one JSON line per
// pipeline event (scan, violation, patch attempt, completion-service call, rollback).
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType identifies the kind of pipeline event being recorded.
type AuditEventType string

const (
	AuditScanStart         AuditEventType = "scan_start"
	AuditScanComplete      AuditEventType = "scan_complete"
	AuditViolationDetected AuditEventType = "violation_detected"
	AuditPatchAttempt      AuditEventType = "patch_attempt"
	AuditPatchApplied      AuditEventType = "patch_applied"
	AuditPatchRejected     AuditEventType = "patch_rejected"
	AuditPatchRollback     AuditEventType = "patch_rollback"
	AuditCompletionRequest AuditEventType = "completion_request"
	AuditCompletionReply   AuditEventType = "completion_response"
	AuditCompletionError   AuditEventType = "completion_error"
	AuditRescanResult      AuditEventType = "rescan_result"
	AuditCacheHit          AuditEventType = "cache_hit"
	AuditCacheMiss         AuditEventType = "cache_miss"
)

// AuditEvent is one line of the append-only audit log.
type AuditEvent struct {
	Timestamp  string                 `json:"timestamp"`
	EventType  AuditEventType         `json:"event"`
	ScanID     string                 `json:"scan_id,omitempty"`
	File       string                 `json:"file,omitempty"`
	RuleID     string                 `json:"rule_id,omitempty"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger

	initOnce    sync.Once
	initErr     error
	initialized bool
)

// AuditLogger writes AuditEvents to a configured append-only file, scoped by scan ID.
type AuditLogger struct {
	scanID string
	path   string
}

// InitAudit opens the audit sink at the given path (created if absent). Safe to call
// more than once; subsequent calls are no-ops once a file is open.
func InitAudit(path string) error {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}
	if path == "" {
		path = filepath.Join(workspace, ".guardrail", "audit.jsonl")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	auditFile = file
	initialized = true
	return nil
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
	initialized = false
}

// Audit returns the process-wide audit logger, constructing it lazily.
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditForScan returns an audit logger scoped to one scan_id.
func AuditForScan(scanID string) *AuditLogger {
	return &AuditLogger{scanID: scanID}
}

// Log appends one audit event. A no-op if the sink has not been initialized.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.ScanID == "" {
		event.ScanID = a.scanID
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	auditFile.Write(data)
	auditFile.Write([]byte("\n"))
}

// ScanStart records the beginning of a scan over a set of files.
func (a *AuditLogger) ScanStart(fileCount int) {
	a.Log(AuditEvent{EventType: AuditScanStart, Success: true, Fields: map[string]interface{}{"files": fileCount}})
}

// ScanComplete records the end of a scan with aggregate results.
func (a *AuditLogger) ScanComplete(violations int, riskScore int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditScanComplete,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"violations": violations, "risk_score": riskScore},
	})
}

// ViolationDetected records one violation surfaced by the rule engine.
func (a *AuditLogger) ViolationDetected(file, ruleID, severity string) {
	a.Log(AuditEvent{
		EventType: AuditViolationDetected,
		File:      file,
		RuleID:    ruleID,
		Success:   true,
		Fields:    map[string]interface{}{"severity": severity},
	})
}

// PatchAttempt records one generation attempt for a violation.
func (a *AuditLogger) PatchAttempt(file, ruleID string, attempt int, usedFallback bool) {
	a.Log(AuditEvent{
		EventType: AuditPatchAttempt,
		File:      file,
		RuleID:    ruleID,
		Success:   true,
		Fields:    map[string]interface{}{"attempt": attempt, "fallback": usedFallback},
	})
}

// PatchApplied records a successfully applied and rescanned patch.
func (a *AuditLogger) PatchApplied(file, ruleID string, riskBefore, riskAfter int) {
	a.Log(AuditEvent{
		EventType: AuditPatchApplied,
		File:      file,
		RuleID:    ruleID,
		Success:   true,
		Fields:    map[string]interface{}{"risk_before": riskBefore, "risk_after": riskAfter},
	})
}

// PatchRejected records a patch that failed validation or rescan after exhausting retries.
func (a *AuditLogger) PatchRejected(file, ruleID, reason string) {
	a.Log(AuditEvent{EventType: AuditPatchRejected, File: file, RuleID: ruleID, Success: false, Error: reason})
}

// PatchRollback records a patch rolled back because risk increased.
func (a *AuditLogger) PatchRollback(file, ruleID string) {
	a.Log(AuditEvent{EventType: AuditPatchRollback, File: file, RuleID: ruleID, Success: false})
}

// CompletionRequest records an outbound call to the completion service.
func (a *AuditLogger) CompletionRequest(model string) {
	a.Log(AuditEvent{EventType: AuditCompletionRequest, Success: true, Fields: map[string]interface{}{"model": model}})
}

// CompletionReply records a completion-service reply.
func (a *AuditLogger) CompletionReply(model string, tokens int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditCompletionReply,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"model": model, "tokens": tokens},
	})
}

// CompletionError records a failed completion-service call.
func (a *AuditLogger) CompletionError(model, errMsg string) {
	a.Log(AuditEvent{EventType: AuditCompletionError, Success: false, Error: errMsg, Fields: map[string]interface{}{"model": model}})
}

// RescanResult records the outcome of a post-patch rescan.
func (a *AuditLogger) RescanResult(file, ruleID string, passed, riskIncreased bool) {
	a.Log(AuditEvent{
		EventType: AuditRescanResult,
		File:      file,
		RuleID:    ruleID,
		Success:   passed,
		Fields:    map[string]interface{}{"risk_increased": riskIncreased},
	})
}
