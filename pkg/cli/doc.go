// Package cli provides the command-line plumbing shared by cmtbridge
// commands.
//
// This package includes:
//   - Configuration management (contexts)
//   - Output formatting (JSON, YAML)
//   - Request file loading (YAML/JSON), used for scenario files
//
// Configuration is stored in ~/.giztoy/<app>/ directory, supporting
// multiple contexts similar to kubectl. A context names one bridge setup
// (modem, host graph addresses, signalling endpoint); settings specific to
// a command live in Context.Extra.
//
// Example usage:
//
//	cfg, err := cli.LoadConfig("cmtbridge")
//
//	// Get the context selected with --context, or the current one
//	ctx, err := cfg.ResolveContext(name)
//
//	// Output result
//	cli.Output(status, cli.OutputOptions{
//	    Format: cli.FormatJSON,
//	})
package cli
