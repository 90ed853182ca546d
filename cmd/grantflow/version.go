package main

import (
	"fmt"
	"runtime"

	"grantflow/internal/models"

	"github.com/spf13/cobra"
)

// Set at build time:
//
//	go build -ldflags "-X 'main.Version=1.2.0' -X 'main.BuildDate=2026-01-01'"
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display the application version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "grantflow")
			fmt.Fprintf(out, "Version:        %s\n", Version)
			fmt.Fprintf(out, "Build Date:     %s\n", BuildDate)
			fmt.Fprintf(out, "Schema Version: %s\n", models.SchemaVersion)
			fmt.Fprintf(out, "Go Version:     %s\n", runtime.Version())
		},
	}
}
