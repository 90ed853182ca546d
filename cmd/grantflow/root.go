package main

import (
	"io"
	"os"

	"grantflow/internal/config"
	"grantflow/internal/logger"

	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "grantflow",
		Short: "Normalize and validate research grant award records",
		Long: `grantflow turns raw award fields extracted from funder websites into
canonical award records. It reassembles records from recorded extraction
traces, derives identifiers, dates and USD amounts, validates each batch
against every consistency rule and writes the records as NDJSON with a
signed manifest.

Example Usage:
  grantflow ingest --input raw.jsonl                 # one raw record per line
  grantflow ingest --input trace.jsonl --mode trace  # replay an extraction trace
  grantflow validate --input out/awards.jsonl        # check an emitted file`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "configs/grantflow.yaml",
		"Path to the pipeline configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"Override logging.level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "",
		"Override logging.format (text, json)")

	root.AddCommand(
		newIngestCmd(opts),
		newValidateCmd(opts),
		newVersionCmd(),
	)

	return root
}

// loadConfig reads the configuration and applies flag overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}

	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}

	return cfg, cfg.Validate()
}

// newLogger writes to stderr so stdout stays free for reports.
func (o *globalOptions) newLogger(cfg *config.Config) *logger.Logger {
	level, format := "info", "text"
	if cfg != nil {
		level, format = cfg.Logging.Level, cfg.Logging.Format
	}

	if o.logLevel != "" {
		level = o.logLevel
	}

	if o.logFormat != "" {
		format = o.logFormat
	}

	return logger.NewLoggerWithWriter(os.Stderr, level, format)
}

// openInput opens path, or stdin for "-".
func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}

	return os.Open(path)
}
