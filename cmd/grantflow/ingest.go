package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"grantflow/internal/metrics"
	"grantflow/internal/pipeline"
	"grantflow/internal/report"

	"github.com/spf13/cobra"
)

type ingestOptions struct {
	input  string
	mode   string
	strict bool
}

func newIngestCmd(g *globalOptions) *cobra.Command {
	opts := &ingestOptions{}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Normalize, validate and emit a batch of raw records",
		Long: `Read raw award fields, normalize them into award records, validate the
batch and write new or changed records to output.path.

With validation.fail_on_violation set (the default), a batch with any
violation is not written; the violation report is printed instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd, g, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "-", "Input file, or - for stdin")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", string(pipeline.ModeFlat),
		"Input format: flat (one raw record per line) or trace (extraction trace)")
	cmd.Flags().BoolVar(&opts.strict, "strict", false,
		"Drop records that lost a branch during assembly (trace mode)")

	return cmd
}

func runIngest(cmd *cobra.Command, g *globalOptions, opts *ingestOptions) error {
	mode, err := pipeline.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}

	log := g.newLogger(cfg)
	m := metrics.New()

	defer func() {
		if cfg.Metrics.Textfile == "" {
			return
		}

		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.Error("Failed to write metrics", "path", cfg.Metrics.Textfile, "error", err)
		}
	}()

	in, err := openInput(cmd, opts.input)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.New(cfg,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(m),
		pipeline.WithDropIncomplete(opts.strict),
	)
	if err != nil {
		return err
	}
	defer p.Close()

	log.Info("Starting ingest", "config", cfg.String(), "mode", string(mode))

	res, err := p.Ingest(ctx, in, mode)

	switch {
	case errors.Is(err, pipeline.ErrEmissionSuppressed):
		if rerr := report.Render(cmd.OutOrStdout(), res.Report, res.Maps, report.Options{}); rerr != nil {
			return rerr
		}

		return fmt.Errorf("%d violation(s), nothing written", len(res.Report.Violations))
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("ingest interrupted: %w", err)
	case err != nil:
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Records:    %d (%d field error(s), %d incomplete, %d dropped)\n",
		len(res.Records), res.FieldErrors, res.Incomplete, res.Dropped)
	fmt.Fprintf(out, "Written:    %d new, %d changed -> %s\n",
		res.Emitted.New, res.Emitted.Changed, cfg.Output.Path)
	fmt.Fprintf(out, "Skipped:    %d unchanged, %d duplicate\n",
		res.Emitted.Unchanged, res.Emitted.Duplicates)

	if !res.Report.Valid() {
		fmt.Fprintf(out, "Violations: %d (emitted anyway, fail_on_violation is off)\n", len(res.Report.Violations))
	}

	if res.Manifest != nil {
		fmt.Fprintf(out, "Manifest:   %s (run %s)\n", cfg.ManifestPath(), res.Manifest.RunID)
	}

	return nil
}
