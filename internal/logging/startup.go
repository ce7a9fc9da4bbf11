package logging

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects process identity, resources, limits and feature
// flags, then emits a single structured event describing the cold-start state.
// Secret values are never recorded, only where they were loaded from.
type StartupLogger struct {
	name         string
	commitHash   string
	initDuration time.Duration

	buckets   map[string]string
	tables    map[string]string
	params    map[string]string
	notifiers map[string]string
	limits    map[string]int64
	features  map[string]bool
	config    map[string]string
}

// NewStartupLogger creates a StartupLogger for the named binary
// (e.g. "extract-lambda", "extract-cli").
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:      name,
		buckets:   make(map[string]string),
		tables:    make(map[string]string),
		params:    make(map[string]string),
		notifiers: make(map[string]string),
		limits:    make(map[string]int64),
		features:  make(map[string]bool),
		config:    make(map[string]string),
	}
}

// CommitHash sets the git commit hash baked into the binary at build time.
func (s *StartupLogger) CommitHash(hash string) *StartupLogger {
	s.commitHash = hash
	return s
}

// S3Bucket registers an object storage bucket.
func (s *StartupLogger) S3Bucket(label, name string) *StartupLogger {
	if name != "" {
		s.buckets[label] = name
	}
	return s
}

// DynamoTable registers a DynamoDB table.
func (s *StartupLogger) DynamoTable(label, name string) *StartupLogger {
	if name != "" {
		s.tables[label] = name
	}
	return s
}

// SSMParam registers an SSM parameter path. Only the path is logged.
func (s *StartupLogger) SSMParam(label, path string) *StartupLogger {
	if path != "" {
		s.params[label] = path
	}
	return s
}

// Notifier registers a downstream status target.
func (s *StartupLogger) Notifier(kind, target string) *StartupLogger {
	if target != "" {
		s.notifiers[kind] = target
	}
	return s
}

// Limit registers a numeric safety limit.
func (s *StartupLogger) Limit(name string, v int64) *StartupLogger {
	s.limits[name] = v
	return s
}

// Feature registers a boolean feature flag.
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config registers a non-sensitive configuration key-value pair.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

// InitDuration records how long start-up took.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

// EnvOrDefault returns the value of the named environment variable, or
// defaultVal if the variable is empty or unset.
func EnvOrDefault(envVar, defaultVal string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultVal
}

// Log emits the collected information as one INFO event.
func (s *StartupLogger) Log() {
	evt := log.Info()

	proc := zerolog.Dict().
		Str("name", s.name).
		Str("functionName", os.Getenv("AWS_LAMBDA_FUNCTION_NAME")).
		Str("region", os.Getenv("AWS_REGION")).
		Str("memoryMB", os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE")).
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH).
		Str("logLevel", os.Getenv(LevelEnv))
	if s.commitHash != "" {
		proc = proc.Str("commitHash", s.commitHash)
	}
	evt = evt.Dict("process", proc)

	resources := zerolog.Dict()
	hasResources := false
	for label, m := range map[string]map[string]string{
		"s3Buckets":    s.buckets,
		"dynamoTables": s.tables,
		"ssmParams":    s.params,
		"notifiers":    s.notifiers,
	} {
		if len(m) > 0 {
			resources = resources.Dict(label, dictFromMap(m))
			hasResources = true
		}
	}
	if hasResources {
		evt = evt.Dict("resources", resources)
	}

	if len(s.limits) > 0 {
		d := zerolog.Dict()
		for k, v := range s.limits {
			d = d.Int64(k, v)
		}
		evt = evt.Dict("limits", d)
	}
	if len(s.features) > 0 {
		d := zerolog.Dict()
		for k, v := range s.features {
			d = d.Bool(k, v)
		}
		evt = evt.Dict("features", d)
	}
	if len(s.config) > 0 {
		evt = evt.Dict("config", dictFromMap(s.config))
	}
	if s.initDuration > 0 {
		evt = evt.Dur("initDuration", s.initDuration)
	}

	evt.Msg("Cold start complete")
}

func dictFromMap(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range m {
		d = d.Str(k, v)
	}
	return d
}
