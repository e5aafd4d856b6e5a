package commands

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haivivi/cmtbridge/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long: `Manage CLI configuration and contexts.

A context names one bridge setup: the signalling endpoint, its token and
bridge settings (see 'cmtbridge run --help' for the keys).

Configuration is stored in ~/.giztoy/cmtbridge/config.yaml`,
}

var configAddContextCmd = &cobra.Command{
	Use:   "add-context <name>",
	Short: "Add a new context",
	Long: `Add a new context with the specified name.

Example:
  cmtbridge config add-context lab --signaling 127.0.0.1:7070 --token s3cret \
    --set rtp_downlink=127.0.0.1:5004 --set watchdog_timeout=3s`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		signalingAddr, err := cmd.Flags().GetString("signaling")
		if err != nil {
			return fmt.Errorf("failed to read 'signaling' flag: %w", err)
		}
		token, err := cmd.Flags().GetString("token")
		if err != nil {
			return fmt.Errorf("failed to read 'token' flag: %w", err)
		}
		sets, err := cmd.Flags().GetStringArray("set")
		if err != nil {
			return fmt.Errorf("failed to read 'set' flag: %w", err)
		}

		ctx := &cli.Context{Signaling: signalingAddr, Token: token}
		for _, kv := range sets {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return fmt.Errorf("invalid --set %q, want key=value", kv)
			}
			ctx.SetExtra(k, v)
		}
		if _, err := LoadBridgeConfig(ctx); err != nil {
			return err
		}

		if err := getConfig().AddContext(name, ctx); err != nil {
			return err
		}
		cli.PrintSuccess("Context %q added successfully", name)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <context> <key> <value>",
	Short: "Set a bridge setting of a context",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		ctx, err := cfg.GetContext(args[0])
		if err != nil {
			return err
		}
		switch args[1] {
		case "signaling":
			ctx.Signaling = args[2]
		case "token":
			ctx.Token = args[2]
		default:
			ctx.SetExtra(args[1], args[2])
		}
		if _, err := LoadBridgeConfig(ctx); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		cli.PrintSuccess("%s.%s set", args[0], args[1])
		return nil
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getConfig().DeleteContext(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("Context %q deleted", args[0])
		return nil
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Set the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getConfig().UseContext(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("Switched to context %q", args[0])
		return nil
	},
}

var configGetContextCmd = &cobra.Command{
	Use:   "get-context",
	Short: "Display the current context",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		if cfg.CurrentContext == "" {
			fmt.Println("No current context set")
			return nil
		}
		fmt.Println(cfg.CurrentContext)
		return nil
	},
}

var configListContextsCmd = &cobra.Command{
	Use:     "list-contexts",
	Aliases: []string{"get-contexts"},
	Short:   "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		names := cfg.ListContexts()
		if len(names) == 0 {
			fmt.Println("No contexts configured")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tSIGNALING\tRTP_DOWNLINK\tRTP_UPLINK")
		for _, name := range names {
			ctx := cfg.Contexts[name]
			current := ""
			if name == cfg.CurrentContext {
				current = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", current, name, ctx.Signaling,
				ctx.GetExtra(extraRTPDownlink), ctx.GetExtra(extraRTPUplink))
		}
		return w.Flush()
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()

		fmt.Printf("Config file: %s\n", cfg.Path())
		fmt.Printf("Current context: %s\n", cfg.CurrentContext)
		fmt.Printf("Contexts: %d\n", len(cfg.Contexts))

		for _, name := range cfg.ListContexts() {
			ctx := cfg.Contexts[name]
			fmt.Printf("\n  %s:\n", name)
			if ctx.Signaling != "" {
				fmt.Printf("    Signaling: %s\n", ctx.Signaling)
			}
			if ctx.Token != "" {
				fmt.Printf("    Token: %s\n", cli.MaskToken(ctx.Token))
			}
			keys := make([]string, 0, len(ctx.Extra))
			for k := range ctx.Extra {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				fmt.Printf("    %s: %s\n", k, ctx.Extra[k])
			}
		}
		return nil
	},
}

func init() {
	configAddContextCmd.Flags().String("signaling", "", "signalling address (listen address for run, URL or host:port for signal)")
	configAddContextCmd.Flags().String("token", "", "signalling token")
	configAddContextCmd.Flags().StringArray("set", nil, "bridge setting as key=value (repeatable)")

	configCmd.AddCommand(configAddContextCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configDeleteContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configGetContextCmd)
	configCmd.AddCommand(configListContextsCmd)
	configCmd.AddCommand(configViewCmd)
}
