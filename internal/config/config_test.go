package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fpang/text-extract-pipeline/internal/category"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(envMap(nil))
	if err != nil {
		t.Fatalf("load() error: %v", err)
	}
	if cfg.SourcePrefix != "uploads" || cfg.OutputPrefix != "text" {
		t.Errorf("prefixes = %q/%q", cfg.SourcePrefix, cfg.OutputPrefix)
	}
	if cfg.Archive.MaxDepth != 2 || cfg.Archive.MaxEntries != 100 {
		t.Errorf("archive limits = %+v", cfg.Archive)
	}
	if cfg.Retry.Attempts != 3 || cfg.Retry.Delay != 2*time.Second {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if cfg.ChunkSize != 8*mb {
		t.Errorf("chunk size = %d", cfg.ChunkSize)
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(envMap(map[string]string{
		"EXTRACT_ARCHIVE_MAX_ENTRIES": "5",
		"EXTRACT_ARCHIVE_MAX_DEPTH":   "3",
		"EXTRACT_ARCHIVE_BOMB_RATIO":  "50.5",
		"EXTRACT_RETRY_DELAY":         "10ms",
		"EXTRACT_MAX_FILE_SIZE_MB":    "7",
		"EXTRACT_OUTPUT_BUCKET":       "out-bucket",
		"STATUS_URL":                  "https://backend.example.com/",
	}))
	if err != nil {
		t.Fatalf("load() error: %v", err)
	}
	if cfg.Archive.MaxEntries != 5 || cfg.Archive.MaxDepth != 3 || cfg.Archive.BombRatio != 50.5 {
		t.Errorf("archive = %+v", cfg.Archive)
	}
	if cfg.Retry.Delay != 10*time.Millisecond {
		t.Errorf("retry delay = %v", cfg.Retry.Delay)
	}
	if cfg.MaxSourceBytes != 7*mb {
		t.Errorf("max source = %d", cfg.MaxSourceBytes)
	}
	if cfg.OutputBucket != "out-bucket" {
		t.Errorf("output bucket = %q", cfg.OutputBucket)
	}
	if cfg.Status.URL != "https://backend.example.com" {
		t.Errorf("status url = %q", cfg.Status.URL)
	}
}

func TestLoad_ParseError(t *testing.T) {
	_, err := load(envMap(map[string]string{"EXTRACT_RETRY_ATTEMPTS": "three"}))
	if err == nil || !strings.Contains(err.Error(), "EXTRACT_RETRY_ATTEMPTS") {
		t.Errorf("expected parse error naming the variable, got %v", err)
	}
}

func TestLoad_ValidationError(t *testing.T) {
	tests := map[string]string{
		"EXTRACT_ARCHIVE_MAX_DEPTH": "0",
		"EXTRACT_CHUNK_SIZE_MB":     "1",
		"EXTRACT_OUTPUT_PREFIX":     "uploads",
		"EXTRACT_CONCURRENCY":       "0",
	}
	for k, v := range tests {
		t.Run(k, func(t *testing.T) {
			if _, err := load(envMap(map[string]string{k: v})); err == nil {
				t.Errorf("%s=%s: expected validation error", k, v)
			}
		})
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `rules:
  - pattern: application/pdf
    category: document
  - pattern: "text/"
    category: text
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(envMap(map[string]string{"EXTRACT_CATEGORY_RULES_FILE": path}))
	if err != nil {
		t.Fatalf("load() error: %v", err)
	}
	if len(cfg.CategoryRules) != 2 {
		t.Fatalf("rules = %+v", cfg.CategoryRules)
	}
	if cfg.CategoryRules[0].Category != category.Document {
		t.Errorf("first rule = %+v", cfg.CategoryRules[0])
	}
}

func TestLoadRules_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("rules:\n  - pattern: x/\n    category: video\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRules(path); err == nil {
		t.Error("expected unknown category to be rejected")
	}
	if _, err := LoadRules(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected missing file error")
	}
}
