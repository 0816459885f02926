package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-era/internal/config"
)

// globalOptions are the persistent flags shared by every subcommand
type globalOptions struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "era835",
		Short: "Encode remittance documents as X12 835 files",
		Long: `era835 converts remittance JSON documents into ASC X12 005010X221A1 (835)
Health Care Claim Payment/Advice files.

Examples:
  era835 encode --input remit.json --output ./out
  cat remit.json | era835 encode --stdout
  era835 filename --input remit.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.configFile, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(newEncodeCmd(g), newFilenameCmd(), newVersionCmd())
	return root
}

// setup loads the configuration and builds the logger
func (g *globalOptions) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(g.configFile)
	if err != nil {
		return nil, nil, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
