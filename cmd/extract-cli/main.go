// Package main provides extract-cli, which runs the extraction pipeline
// against a local directory tree laid out like the object store and exposes
// the classifier, the path parser and the extractor on the command line and
// as MCP tools.
//
// Configuration comes from the same EXTRACT_* variables the Lambdas read. A
// .env file in the working directory is loaded first when present.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/text-extract-pipeline/internal/category"
	"github.com/fpang/text-extract-pipeline/internal/config"
	"github.com/fpang/text-extract-pipeline/internal/extract"
	"github.com/fpang/text-extract-pipeline/internal/identity"
	"github.com/fpang/text-extract-pipeline/internal/lambdaboot"
	"github.com/fpang/text-extract-pipeline/internal/logging"
	"github.com/fpang/text-extract-pipeline/internal/mcptools"
	"github.com/fpang/text-extract-pipeline/internal/pipeline"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// CLI flags
var (
	rootFlag        string
	bucketFlag      string
	outFlag         string
	contentTypeFlag string
	rulesFlag       bool
	noAudioFlag     bool
)

var rootCmd = &cobra.Command{
	Use:   "extract-cli",
	Short: "Classify uploaded files and extract their text",
	Long: `extract-cli runs the text extraction pipeline locally.

The --root directory stands in for the object store: each subdirectory is a
bucket and object keys are paths below it. Outputs are written below --out
using the same layout.

Examples:
  extract-cli process --root ./data --bucket in uploads/r1/f1_report.pdf
  extract-cli classify --content-type application/octet-stream notes.tar.zst
  extract-cli parse uploads/r1/f1_report.pdf
  extract-cli mcp`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env is not an error.
		_ = godotenv.Load()
		logging.Init()
	},
}

var processCmd = &cobra.Command{
	Use:   "process <object-key>...",
	Short: "Run the full pipeline for objects stored below --root",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runProcess,
}

var classifyCmd = &cobra.Command{
	Use:   "classify [name]",
	Short: "Print the resolved content type and category of a file name, or the active rule table",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClassify,
}

var parseCmd = &cobra.Command{
	Use:   "parse <object-key>",
	Short: "Parse an upload object path into its identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runParse,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the classify, parse and extract tools over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func init() {
	processCmd.Flags().StringVar(&rootFlag, "root", ".", "Directory holding one subdirectory per bucket")
	processCmd.Flags().StringVarP(&bucketFlag, "bucket", "b", "in", "Bucket (subdirectory of --root) holding the objects")
	processCmd.Flags().StringVarP(&outFlag, "out", "o", "", "Output root (default: --root)")
	processCmd.Flags().StringVarP(&contentTypeFlag, "content-type", "t", "", "Declared content type of the objects")
	processCmd.Flags().BoolVar(&noAudioFlag, "no-audio", false, "Disable audio transcription even when GEMINI_API_KEY is set")

	classifyCmd.Flags().StringVarP(&contentTypeFlag, "content-type", "t", "", "Declared content type")
	classifyCmd.Flags().BoolVar(&rulesFlag, "rules", false, "Print the ordered category rule table in effect")

	mcpCmd.Flags().BoolVar(&noAudioFlag, "no-audio", false, "Disable audio transcription even when GEMINI_API_KEY is set")

	rootCmd.AddCommand(processCmd, classifyCmd, parseCmd, mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func dispatcher(cfg config.Config) (*extract.Dispatcher, error) {
	if noAudioFlag {
		return pipeline.NewDispatcher(cfg, nil)
	}
	return pipeline.NewDispatcher(cfg, lambdaboot.InitTranscriber(cfg))
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if rulesFlag {
		c, err := category.New(cfg.CategoryRules)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), c.Rules())
	}
	if len(args) == 0 {
		return fmt.Errorf("classify: a file name is required unless --rules is set")
	}
	d, err := pipeline.NewDispatcher(cfg, nil)
	if err != nil {
		return err
	}
	p := d.Classify(extract.Payload{Name: args[0], ContentType: contentTypeFlag})
	return printJSON(cmd.OutOrStdout(), mcptools.ClassifyResult{ContentType: p.ContentType, Category: p.Category})
}

func runParse(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	id, err := identity.NewParser(cfg.SourcePrefix).Parse(args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), id)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	d, err := dispatcher(cfg)
	if err != nil {
		return err
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: "extract-cli", Version: version}, nil)
	mcptools.New(identity.NewParser(cfg.SourcePrefix), d).Register(srv)

	log.Info().Str("version", version).Msg("Serving MCP tools on stdio")
	return srv.Run(cmd.Context(), &mcp.StdioTransport{})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
