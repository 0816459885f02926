package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-era/internal/x12/era835"
)

// Set at build time with -ldflags "-X main.Version=... -X main.BuildDate=..."
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "era835 %s\n", Version)
			fmt.Fprintf(out, "Build Date:     %s\n", BuildDate)
			fmt.Fprintf(out, "Implementation: %s\n", era835.ImplementationVersion)
			fmt.Fprintf(out, "Go Version:     %s\n", runtime.Version())
		},
	}
}
