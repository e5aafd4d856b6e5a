package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/cmtbridge/pkg/cli"
)

const appName = "cmtbridge"

var (
	// Global flags
	cfgFile     string
	contextName string
	outputFile  string
	outputJSON  bool
	verbose     bool

	// Global configuration
	globalConfig *cli.Config
)

var rootCmd = &cobra.Command{
	Use:   "cmtbridge",
	Short: "Modem speech audio bridge",
	Long: `cmtbridge - bridges a cellular modem's speech data endpoint to a host
audio graph.

The bridge reads modem control events, announces stream lifecycle changes
to the host graph, moves downlink frames to RTP and uplink RTP back into the
modem, and tears the endpoint down when the call server says no call is in
progress.

Configuration is stored in ~/.giztoy/cmtbridge/ and supports multiple
contexts, similar to kubectl's context management.

Examples:
  # Set up a context
  cmtbridge config add-context lab --signaling 127.0.0.1:7070 \
    --set rtp_downlink=127.0.0.1:5004 --set rtp_uplink=127.0.0.1:5006

  # Run the bridge
  cmtbridge -c lab run

  # Tell it a call is in progress
  cmtbridge -c lab signal server-status true

  # Play a scripted call and print the report as JSON
  cmtbridge simulate -f call.yaml --json`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.giztoy/cmtbridge/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context name to use")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "output file (default: stdout); a .json file gets JSON")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON (for piping)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(journalCmd)
}

func initConfig() {
	var err error
	globalConfig, err = cli.LoadConfigWithPath(appName, cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing config: %v\n", err)
		os.Exit(1)
	}
}

func getConfig() *cli.Config {
	return globalConfig
}

// getContext returns the selected context. Without -c and without a current
// context the bridge runs on defaults, so an empty context is returned.
func getContext() (*cli.Context, error) {
	cfg := getConfig()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	if contextName == "" && cfg.CurrentContext == "" {
		return &cli.Context{}, nil
	}
	return cfg.ResolveContext(contextName)
}

func outputResult(result any) error {
	var format cli.OutputFormat
	if outputJSON {
		format = cli.FormatJSON
	}
	return cli.Output(result, cli.OutputOptions{
		Format: format,
		File:   outputFile,
	})
}

func printVerbose(format string, args ...any) {
	cli.PrintVerbose(verbose, format, args...)
}
