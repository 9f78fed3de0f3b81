package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func resetLoggingState() {
	CloseAll()
	CloseAudit()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	workspace = ""
	configLoaded = false
	config = loggingConfig{}
	initOnce = sync.Once{}
	initErr = nil
	initialized = false
	auditLogger = nil
}

func TestAllCategoriesLog(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "logging_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configDir := filepath.Join(tempDir, ".guardrail")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	configContent := `{
		"logging": {
			"level": "debug",
			"debug_mode": true,
			"categories": {
				"boot": true,
				"parser": true,
				"callgraph": true,
				"rules": true,
				"risk": true,
				"patch": true,
				"validator": true,
				"applier": true,
				"rescan": true,
				"orchestrator": true,
				"cache": true,
				"server": true
			}
		}
	}`
	configPath := filepath.Join(configDir, "config.json")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	resetLoggingState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("failed to initialize logging: %v", err)
	}
	if !IsDebugMode() {
		t.Error("expected debug mode to be enabled")
	}

	categories := []Category{
		CategoryBoot, CategoryParser, CategoryCallGraph, CategoryRules, CategoryRisk,
		CategoryPatch, CategoryValidator, CategoryApplier, CategoryRescan,
		CategoryOrchestrator, CategoryCache, CategoryServer,
	}

	for _, cat := range categories {
		if !IsCategoryEnabled(cat) {
			t.Errorf("category %s should be enabled", cat)
		}
		logger := Get(cat)
		logger.Info("test info message for %s", cat)
		logger.Debug("test debug message for %s", cat)
		logger.Warn("test warn message for %s", cat)
		logger.Error("test error message for %s", cat)
	}

	Boot("convenience boot log")
	Parser("convenience parser log")
	CallGraph("convenience callgraph log")
	Rules("convenience rules log")
	Risk("convenience risk log")
	Patch("convenience patch log")
	Validator("convenience validator log")
	Applier("convenience applier log")
	Rescan("convenience rescan log")
	Orchestrator("convenience orchestrator log")
	Cache("convenience cache log")
	Server("convenience server log")

	CloseAll()
	CloseAudit()

	logsPath := filepath.Join(tempDir, ".guardrail", "logs")
	entries, err := os.ReadDir(logsPath)
	if err != nil {
		t.Fatalf("failed to read logs dir: %v", err)
	}
	t.Logf("created %d log files in %s", len(entries), logsPath)

	for _, cat := range categories {
		found := false
		for _, entry := range entries {
			if strings.Contains(entry.Name(), string(cat)+".log") {
				found = true
				content, err := os.ReadFile(filepath.Join(logsPath, entry.Name()))
				if err != nil {
					t.Errorf("failed to read log file for %s: %v", cat, err)
					continue
				}
				if len(content) == 0 {
					t.Errorf("log file for %s is empty", cat)
				}
				break
			}
		}
		if !found {
			t.Errorf("no log file found for category: %s", cat)
		}
	}
}

func TestDebugModeDisabled(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "logging_test_disabled")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configDir := filepath.Join(tempDir, ".guardrail")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	configContent := `{
		"logging": {
			"level": "debug",
			"debug_mode": false,
			"categories": {"boot": true, "parser": true}
		}
	}`
	configPath := filepath.Join(configDir, "config.json")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	resetLoggingState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("failed to initialize logging: %v", err)
	}
	if IsDebugMode() {
		t.Error("expected debug mode to be disabled (production mode)")
	}

	for _, cat := range []Category{CategoryBoot, CategoryParser, CategoryRules} {
		if IsCategoryEnabled(cat) {
			t.Errorf("category %s should be disabled when debug_mode=false", cat)
		}
	}

	Boot("this should not be logged")
	Parser("this should not be logged")

	logger := Get(CategoryBoot)
	logger.Info("this should not be logged")
	logger.Debug("this should not be logged")
	logger.Error("this should not be logged")

	CloseAll()
	CloseAudit()

	logsPath := filepath.Join(tempDir, ".guardrail", "logs")
	if _, err := os.Stat(logsPath); err == nil {
		entries, _ := os.ReadDir(logsPath)
		if len(entries) > 0 {
			t.Errorf("expected no log files in production mode, found %d", len(entries))
		}
	} else if !os.IsNotExist(err) {
		t.Fatalf("unexpected stat error: %v", err)
	}
}

func TestCategoryToggle(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "logging_test_category")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configDir := filepath.Join(tempDir, ".guardrail")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	configContent := `{
		"logging": {
			"level": "debug",
			"debug_mode": true,
			"categories": {"boot": true, "rules": true, "patch": false, "cache": false}
		}
	}`
	configPath := filepath.Join(configDir, "config.json")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	resetLoggingState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	if !IsCategoryEnabled(CategoryBoot) {
		t.Error("boot should be enabled")
	}
	if !IsCategoryEnabled(CategoryRules) {
		t.Error("rules should be enabled")
	}
	if IsCategoryEnabled(CategoryPatch) {
		t.Error("patch should be disabled")
	}
	if IsCategoryEnabled(CategoryCache) {
		t.Error("cache should be disabled")
	}
	if !IsCategoryEnabled(CategoryValidator) {
		t.Error("validator (not in config) should default to enabled")
	}

	Boot("this should be logged")
	Rules("this should be logged")
	Patch("this should not be logged")
	Cache("this should not be logged")
	Validator("this should be logged (default enabled)")

	CloseAll()
	CloseAudit()

	logsPath := filepath.Join(tempDir, ".guardrail", "logs")
	entries, _ := os.ReadDir(logsPath)

	var hasBoot, hasRules, hasPatch, hasCache bool
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.Contains(name, "boot"):
			hasBoot = true
		case strings.Contains(name, "rules"):
			hasRules = true
		case strings.Contains(name, "patch"):
			hasPatch = true
		case strings.Contains(name, "cache"):
			hasCache = true
		}
	}

	if !hasBoot {
		t.Error("expected boot log file")
	}
	if !hasRules {
		t.Error("expected rules log file")
	}
	if hasPatch {
		t.Error("should not have patch log file (disabled)")
	}
	if hasCache {
		t.Error("should not have cache log file (disabled)")
	}
}

func TestTimerLogging(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "logging_test_timer")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configDir := filepath.Join(tempDir, ".guardrail")
	os.MkdirAll(configDir, 0755)
	os.WriteFile(filepath.Join(configDir, "config.json"), []byte(`{"logging": {"level": "debug", "debug_mode": true}}`), 0644)

	resetLoggingState()
	Initialize(tempDir)

	timer := StartTimer(CategoryRisk, "test_operation")
	time.Sleep(time.Millisecond)
	elapsed := timer.Stop()
	if elapsed <= 0 {
		t.Error("timer should have recorded non-zero duration")
	}

	CloseAll()
	CloseAudit()
}
