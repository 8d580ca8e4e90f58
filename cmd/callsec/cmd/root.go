package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tsarna/callsec/pkg/realtime/config"
	"go.uber.org/zap"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var (
	verbose     bool
	debug       bool
	logLevel    string
	envFiles    []string
	configPaths []string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "callsec",
	Short: "Real-time call, message and appointment events",
	Long: `callsec connects to the dashboard's real-time endpoint and prints the
call, message, appointment and system events it delivers.

It also runs a development server that speaks the same protocol, so
clients can be exercised without the production backend.

Settings can come from HCL files (--config); flags override them.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadEnvFiles(envFiles...)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug output")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringArrayVar(&envFiles, "env-file", nil, "load environment variables from a dotenv file (repeatable)")
	rootCmd.PersistentFlags().StringArrayVarP(&configPaths, "config", "c", nil, "HCL config file or directory (repeatable)")
}

func setupLogger() (*zap.Logger, error) {
	level := logLevel

	if debug {
		level = "debug"
	} else if verbose && level == "info" {
		level = "debug"
	}

	var zapLevel zap.AtomicLevel
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn", "warning":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zapLevel
	cfg.Development = debug

	return cfg.Build()
}

// loadConfig builds the --config sources. It returns an empty config when
// none were given.
func loadConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, diags := config.NewConfig().
		WithLogger(logger).
		WithSources(stringSliceToAnySlice(configPaths)...).
		Build()
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to load config: %w", diags)
	}
	return cfg, nil
}

func stringSliceToAnySlice(strs []string) []any {
	anys := make([]any, len(strs))
	for i, s := range strs {
		anys[i] = s
	}
	return anys
}

// pick returns the flag value when the flag was set on the command line,
// otherwise the configured value if there is one.
func pick(cmd *cobra.Command, flag, flagValue, configured string) string {
	if cmd.Flags().Changed(flag) || configured == "" {
		return flagValue
	}
	return configured
}
