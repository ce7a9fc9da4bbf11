// Package config loads the immutable pipeline configuration from the process
// environment at start-up.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fpang/text-extract-pipeline/internal/category"
)

const mb = 1 << 20

// ArchiveLimits bounds a single archive.
type ArchiveLimits struct {
	MaxEntries    int
	MaxEntryBytes int64
	MaxTotalBytes int64
	// MaxDepth is the number of archive levels unpacked: an archive found at
	// nesting depth MaxDepth or deeper is rejected.
	MaxDepth      int
	BombRatio     float64
}

// RetryPolicy bounds local retries of one outbound call.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// Timeouts are per-call ceilings for every suspension point.
type Timeouts struct {
	Download   time.Duration
	Upload     time.Duration
	Transcribe time.Duration
	Notify     time.Duration
}

// StatusTargets names the optional downstream status collaborators.
type StatusTargets struct {
	URL         string
	EventBus    string
	TableName   string
	FunctionARN string
}

// Config is loaded once and passed by value into constructors.
type Config struct {
	SourcePrefix   string
	OutputPrefix   string
	OutputBucket   string
	MaxSourceBytes int64
	MaxUnits       int
	MaxOutputBytes int64
	Archive        ArchiveLimits
	Retry          RetryPolicy
	Timeouts       Timeouts
	Concurrency    int
	ChunkSize      int
	LegacyEncoding string
	WorkDir        string
	CategoryRules  []category.Rule
	TranscribeLang string
	GeminiModel    string
	Status         StatusTargets
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		SourcePrefix:   "uploads",
		OutputPrefix:   "text",
		MaxSourceBytes: 100 * mb,
		MaxUnits:       1000,
		MaxOutputBytes: 256 * mb,
		Archive: ArchiveLimits{
			MaxEntries:    100,
			MaxEntryBytes: 50 * mb,
			MaxTotalBytes: 500 * mb,
			MaxDepth:      2,
			BombRatio:     100,
		},
		Retry: RetryPolicy{Attempts: 3, Delay: 2 * time.Second},
		Timeouts: Timeouts{
			Download:   2 * time.Minute,
			Upload:     2 * time.Minute,
			Transcribe: 5 * time.Minute,
			Notify:     5 * time.Second,
		},
		Concurrency:    4,
		ChunkSize:      8 * mb,
		LegacyEncoding: "iso-8859-1",
		WorkDir:        os.TempDir(),
		CategoryRules:  category.DefaultRules,
		TranscribeLang: "en-US",
		GeminiModel:    "gemini-2.5-flash",
	}
}

// Load builds a Config from EXTRACT_* and STATUS_* environment variables on
// top of Default, then validates it.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Default()
	e := &envReader{getenv: getenv}

	cfg.SourcePrefix = e.str("EXTRACT_SOURCE_PREFIX", cfg.SourcePrefix)
	cfg.OutputPrefix = e.str("EXTRACT_OUTPUT_PREFIX", cfg.OutputPrefix)
	cfg.OutputBucket = e.str("EXTRACT_OUTPUT_BUCKET", cfg.OutputBucket)
	cfg.MaxSourceBytes = e.megabytes("EXTRACT_MAX_FILE_SIZE_MB", cfg.MaxSourceBytes)
	cfg.MaxUnits = e.int("EXTRACT_MAX_UNITS", cfg.MaxUnits)
	cfg.MaxOutputBytes = e.megabytes("EXTRACT_MAX_OUTPUT_MB", cfg.MaxOutputBytes)

	cfg.Archive.MaxEntries = e.int("EXTRACT_ARCHIVE_MAX_ENTRIES", cfg.Archive.MaxEntries)
	cfg.Archive.MaxEntryBytes = e.megabytes("EXTRACT_ARCHIVE_MAX_ENTRY_MB", cfg.Archive.MaxEntryBytes)
	cfg.Archive.MaxTotalBytes = e.megabytes("EXTRACT_ARCHIVE_MAX_TOTAL_MB", cfg.Archive.MaxTotalBytes)
	cfg.Archive.MaxDepth = e.int("EXTRACT_ARCHIVE_MAX_DEPTH", cfg.Archive.MaxDepth)
	cfg.Archive.BombRatio = e.float("EXTRACT_ARCHIVE_BOMB_RATIO", cfg.Archive.BombRatio)

	cfg.Retry.Attempts = e.int("EXTRACT_RETRY_ATTEMPTS", cfg.Retry.Attempts)
	cfg.Retry.Delay = e.duration("EXTRACT_RETRY_DELAY", cfg.Retry.Delay)

	cfg.Timeouts.Download = e.duration("EXTRACT_DOWNLOAD_TIMEOUT", cfg.Timeouts.Download)
	cfg.Timeouts.Upload = e.duration("EXTRACT_UPLOAD_TIMEOUT", cfg.Timeouts.Upload)
	cfg.Timeouts.Transcribe = e.duration("EXTRACT_TRANSCRIBE_TIMEOUT", cfg.Timeouts.Transcribe)
	cfg.Timeouts.Notify = e.duration("EXTRACT_NOTIFY_TIMEOUT", cfg.Timeouts.Notify)

	cfg.Concurrency = e.int("EXTRACT_CONCURRENCY", cfg.Concurrency)
	cfg.ChunkSize = int(e.megabytes("EXTRACT_CHUNK_SIZE_MB", int64(cfg.ChunkSize)))
	cfg.LegacyEncoding = e.str("EXTRACT_LEGACY_ENCODING", cfg.LegacyEncoding)
	cfg.WorkDir = e.str("EXTRACT_WORK_DIR", cfg.WorkDir)
	cfg.TranscribeLang = e.str("EXTRACT_TRANSCRIBE_LANGUAGE", cfg.TranscribeLang)
	cfg.GeminiModel = e.str("GEMINI_MODEL", cfg.GeminiModel)

	cfg.Status = StatusTargets{
		URL:         strings.TrimRight(getenv("STATUS_URL"), "/"),
		EventBus:    getenv("STATUS_EVENT_BUS"),
		TableName:   getenv("STATUS_TABLE_NAME"),
		FunctionARN: getenv("STATUS_FUNCTION_ARN"),
	}

	if e.err != nil {
		return Config{}, e.err
	}

	if path := getenv("EXTRACT_CATEGORY_RULES_FILE"); path != "" {
		rules, err := LoadRules(path)
		if err != nil {
			return Config{}, err
		}
		cfg.CategoryRules = rules
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// rulesFile is the YAML shape of EXTRACT_CATEGORY_RULES_FILE.
type rulesFile struct {
	Rules []category.Rule `yaml:"rules"`
}

// LoadRules reads an ordered category rule table from a YAML file.
func LoadRules(path string) ([]category.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read category rules: %w", err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse category rules %s: %w", path, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("category rules %s: no rules defined", path)
	}
	if _, err := category.New(f.Rules); err != nil {
		return nil, fmt.Errorf("category rules %s: %w", path, err)
	}
	return f.Rules, nil
}

// Validate rejects limits that would make the pipeline unusable.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}
	check(c.SourcePrefix != "" && !strings.Contains(c.SourcePrefix, "/"), "source prefix must be a single path segment")
	check(c.OutputPrefix != "", "output prefix must not be empty")
	check(c.OutputPrefix != c.SourcePrefix, "output prefix must differ from source prefix")
	check(c.MaxSourceBytes > 0, "max file size must be positive")
	check(c.MaxUnits > 0, "max units must be positive")
	check(c.MaxOutputBytes > 0, "max output size must be positive")
	check(c.Archive.MaxEntries > 0, "archive max entries must be positive")
	check(c.Archive.MaxEntryBytes > 0, "archive max entry size must be positive")
	check(c.Archive.MaxTotalBytes >= c.Archive.MaxEntryBytes, "archive max total must be at least the max entry size")
	check(c.Archive.MaxDepth >= 1, "archive max depth must be at least 1")
	check(c.Archive.BombRatio > 1, "archive bomb ratio must exceed 1")
	check(c.Retry.Attempts >= 1, "retry attempts must be at least 1")
	check(c.Retry.Delay >= 0, "retry delay must not be negative")
	check(c.Timeouts.Download > 0 && c.Timeouts.Upload > 0 && c.Timeouts.Transcribe > 0 && c.Timeouts.Notify > 0, "timeouts must be positive")
	check(c.Concurrency >= 1, "concurrency must be at least 1")
	check(c.ChunkSize >= 5*mb, "chunk size must be at least 5 MB")
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// envReader accumulates the first parse error so Load can report it once.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *envReader) float(key string, def float64) float64 {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return f
}

func (e *envReader) megabytes(key string, def int64) int64 {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n * mb
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
}
