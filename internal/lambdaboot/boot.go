// Package lambdaboot provides the shared Lambda cold-start bootstrap.
//
// Both extraction Lambdas need AWS config, the S3 source and sink, the
// configured status notifiers, an optional Gemini transcriber and a startup
// log line. Each main's init() is a short composition of these helpers.
package lambdaboot

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/text-extract-pipeline/internal/config"
	"github.com/fpang/text-extract-pipeline/internal/extract/audio"
	"github.com/fpang/text-extract-pipeline/internal/logging"
	"github.com/fpang/text-extract-pipeline/internal/notify"
	"github.com/fpang/text-extract-pipeline/internal/pipeline"
	"github.com/fpang/text-extract-pipeline/internal/sink"
	"github.com/fpang/text-extract-pipeline/internal/source"
	"github.com/fpang/text-extract-pipeline/internal/store"
)

// DefaultGeminiKeyParam is the SSM parameter read when SSM_API_KEY_PARAM is unset.
const DefaultGeminiKeyParam = "/text-extract/prod/gemini-api-key"

// AWSClients holds the core AWS SDK clients used across Lambdas.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitConfig loads the pipeline configuration. Fatals when it is invalid.
func InitConfig() config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid pipeline configuration")
	}
	return cfg
}

// InitNotifier builds the status notifier for every configured target.
// With none configured a Nop notifier is returned.
func InitNotifier(awsCfg aws.Config, targets config.StatusTargets) notify.Notifier {
	var ns notify.Multi
	if targets.URL != "" {
		ns = append(ns, notify.NewHTTPNotifier(&http.Client{}, targets.URL))
	}
	if targets.EventBus != "" {
		ns = append(ns, notify.NewEventBridgeNotifier(eventbridge.NewFromConfig(awsCfg), targets.EventBus))
	}
	if targets.TableName != "" {
		ns = append(ns, store.NewStatusStore(dynamodb.NewFromConfig(awsCfg), targets.TableName))
	}
	if targets.FunctionARN != "" {
		ns = append(ns, notify.NewLambdaNotifier(lambda.NewFromConfig(awsCfg), targets.FunctionARN))
	}
	if len(ns) == 0 {
		log.Warn().Msg("No status target configured, status reports disabled")
		return notify.Nop{}
	}
	return ns
}

// InitTranscriber returns a Gemini transcriber when an API key is available,
// or nil when audio transcription is disabled.
func InitTranscriber(cfg config.Config) audio.Transcriber {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		log.Warn().Msg("GEMINI_API_KEY not set, audio transcription disabled")
		return nil
	}
	client, err := audio.NewGeminiClient(context.Background(), key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	return audio.NewGeminiTranscriber(client, cfg.GeminiModel)
}

// InitService wires the S3-backed pipeline service.
func InitService(clients AWSClients, cfg config.Config) *pipeline.Service {
	dispatcher, err := pipeline.NewDispatcher(cfg, InitTranscriber(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build extraction dispatcher")
	}
	s3Client := s3.NewFromConfig(clients.Config)
	return pipeline.New(cfg, pipeline.Deps{
		Source:     source.NewS3Source(s3Client),
		Sink:       sink.NewS3Sink(s3Client, cfg.ChunkSize),
		Dispatcher: dispatcher,
		Notifier:   InitNotifier(clients.Config, cfg.Status),
	})
}

// LoadGeminiKey fetches the Gemini API key from SSM Parameter Store if not
// already set via GEMINI_API_KEY. A missing parameter only disables audio.
func LoadGeminiKey(ssmClient *ssm.Client) {
	if os.Getenv("GEMINI_API_KEY") != "" {
		return
	}
	paramName := logging.EnvOrDefault("SSM_API_KEY_PARAM", DefaultGeminiKeyParam)
	ssmStart := time.Now()
	result, err := ssmClient.GetParameter(context.Background(), &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		log.Warn().Err(err).Str("param", paramName).Msg("Gemini API key not found in SSM")
		return
	}
	os.Setenv("GEMINI_API_KEY", *result.Parameter.Value)
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Gemini API key loaded from SSM")
}

// StartupLog records the configuration of a freshly initialised Lambda.
func StartupLog(name string, cfg config.Config, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).
		InitDuration(time.Since(initStart)).
		S3Bucket("output", cfg.OutputBucket).
		DynamoTable("status", cfg.Status.TableName).
		SSMParam("geminiKey", logging.EnvOrDefault("SSM_API_KEY_PARAM", DefaultGeminiKeyParam)).
		Notifier("http", cfg.Status.URL).
		Notifier("eventbridge", cfg.Status.EventBus).
		Notifier("lambda", cfg.Status.FunctionARN).
		Limit("maxSourceBytes", cfg.MaxSourceBytes).
		Limit("maxUnits", int64(cfg.MaxUnits)).
		Limit("archiveMaxEntries", int64(cfg.Archive.MaxEntries)).
		Limit("archiveMaxDepth", int64(cfg.Archive.MaxDepth)).
		Limit("concurrency", int64(cfg.Concurrency)).
		Feature("audio", os.Getenv("GEMINI_API_KEY") != "").
		Config("sourcePrefix", cfg.SourcePrefix).
		Config("outputPrefix", cfg.OutputPrefix).
		Config("geminiModel", cfg.GeminiModel)
}
