package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func BenchmarkAuditLog(b *testing.B) {
	dir := b.TempDir()
	if err := InitAudit(filepath.Join(dir, "audit.jsonl")); err != nil {
		b.Fatalf("init audit: %v", err)
	}
	defer CloseAudit()

	logger := AuditForScan("bench-scan")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.ViolationDetected("app/main.py", "dangerous_eval", "critical")
	}
}

func BenchmarkAuditLogDisabled(b *testing.B) {
	auditMu.Lock()
	auditFile = nil
	auditMu.Unlock()

	logger := AuditForScan("bench-scan")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.ViolationDetected("app/main.py", "dangerous_eval", "critical")
	}
	_ = os.Getenv("unused")
}
