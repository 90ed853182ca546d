package main

import (
	"fmt"
	"time"

	"grantflow/internal/emit"
	"grantflow/internal/report"
	"grantflow/internal/validator"

	"github.com/spf13/cobra"
)

type validateOptions struct {
	input        string
	manifest     string
	require      []string
	minYear      int
	messageWidth int
}

func newValidateCmd(_ *globalOptions) *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a file of normalized award records",
		Long: `Run every batch rule over an NDJSON file of award records and print the
violation report. Exits non-zero when any rule is violated or, with
--manifest, when the file does not match its manifest.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "-", "NDJSON file of records, or - for stdin")
	cmd.Flags().StringVar(&opts.manifest, "manifest", "", "Verify the input against this manifest first")
	cmd.Flags().StringArrayVar(&opts.require, "require", nil, "Additional required field (repeatable)")
	cmd.Flags().IntVar(&opts.minYear, "min-year", validator.DefaultMinYear, "Earliest accepted grant_year")
	cmd.Flags().IntVar(&opts.messageWidth, "message-width", report.DefaultMessageWidth,
		"Truncate messages to this many columns (-1 disables)")

	return cmd
}

func runValidate(cmd *cobra.Command, opts *validateOptions) error {
	if opts.manifest != "" {
		if opts.input == "-" {
			return fmt.Errorf("--manifest needs --input to name a file")
		}

		if err := emit.VerifyManifest(opts.input, opts.manifest); err != nil {
			return fmt.Errorf("manifest check failed: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Manifest OK: %s\n", opts.manifest)
	}

	in, err := openInput(cmd, opts.input)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	records, err := validator.DecodeRecords(in)
	if err != nil {
		return err
	}

	rep, err := validator.Check(cmd.Context(), records, validator.Options{
		Now:                time.Now(),
		AdditionalRequired: opts.require,
		MinYear:            opts.minYear,
	})
	if err != nil {
		return err
	}

	if err := report.Render(cmd.OutOrStdout(), rep, records, report.Options{MessageWidth: opts.messageWidth}); err != nil {
		return err
	}

	if !rep.Valid() {
		return fmt.Errorf("%d violation(s) in %d record(s)", len(rep.Violations), rep.InvalidRecords())
	}

	return nil
}
