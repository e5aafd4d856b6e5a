package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/haivivi/cmtbridge/pkg/cli"
	"github.com/haivivi/cmtbridge/pkg/cmtspeech"
	"github.com/haivivi/cmtbridge/pkg/signaling"
)

var signalFlags struct {
	url       string
	token     string
	binary    bool
	ul        bool
	dl        bool
	emergency bool
}

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Send a control signal to a running bridge",
	Long: `Send a control signal to a running bridge.

The bridge address comes from the context's signaling setting or --url.

Examples:
  cmtbridge -c lab signal call-connect --ul --dl
  cmtbridge -c lab signal server-status true
  cmtbridge signal --url ws://10.0.0.2:7070/signal call-state active
  cmtbridge -c lab signal modem-state online --binary`,
}

var signalCallConnectCmd = &cobra.Command{
	Use:   "call-connect",
	Short: "Announce the call connect intent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendSignal(cmd, cmtspeech.CallConnect(signalFlags.ul, signalFlags.dl, signalFlags.emergency))
	},
}

var signalServerStatusCmd = &cobra.Command{
	Use:   "server-status <true|false>",
	Short: "Report whether the call server has a call in progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		active, err := strconv.ParseBool(args[0])
		if err != nil {
			return fmt.Errorf("invalid status %q: %w", args[0], err)
		}
		return sendSignal(cmd, cmtspeech.ServerStatus(active))
	},
}

var signalCallStateCmd = &cobra.Command{
	Use:   "call-state <state>",
	Short: "Report a voice call state (active, alerting, held, waiting, incoming, dialing, disconnected)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		state := cmtspeech.CallState(args[0])
		if _, ok := state.InProgress(); !ok {
			return fmt.Errorf("unknown call state %q", args[0])
		}
		return sendSignal(cmd, cmtspeech.VoiceCallState(state))
	},
}

var signalModemStateCmd = &cobra.Command{
	Use:   "modem-state <state>",
	Short: "Report a modem state (logged by the bridge)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendSignal(cmd, cmtspeech.ModemState(args[0]))
	},
}

func sendSignal(cmd *cobra.Command, sig cmtspeech.Signal) error {
	ctx, err := getContext()
	if err != nil {
		return err
	}
	addr := ctx.Signaling
	if signalFlags.url != "" {
		addr = signalFlags.url
	}
	url, err := signalURL(addr)
	if err != nil {
		return err
	}
	token := ctx.Token
	if signalFlags.token != "" {
		token = signalFlags.token
	}

	printVerbose("dialing %s", url)
	c, err := signaling.Dial(cmd.Context(), url, &signaling.DialOptions{Token: token, Binary: signalFlags.binary})
	if err != nil {
		return err
	}
	defer c.Close()

	env, err := c.Send(cmd.Context(), sig)
	if err != nil {
		return err
	}
	cli.PrintSuccess("%v delivered (%s)", sig, env.ID)
	return nil
}

func init() {
	signalCmd.PersistentFlags().StringVar(&signalFlags.url, "url", "", "bridge signalling URL or host:port (overrides context)")
	signalCmd.PersistentFlags().StringVar(&signalFlags.token, "token", "", "signalling token (overrides context)")
	signalCmd.PersistentFlags().BoolVar(&signalFlags.binary, "binary", false, "send msgpack binary frames instead of JSON")

	signalCallConnectCmd.Flags().BoolVar(&signalFlags.ul, "ul", false, "uplink requested")
	signalCallConnectCmd.Flags().BoolVar(&signalFlags.dl, "dl", false, "downlink requested")
	signalCallConnectCmd.Flags().BoolVar(&signalFlags.emergency, "emergency", false, "emergency call")

	signalCmd.AddCommand(signalCallConnectCmd)
	signalCmd.AddCommand(signalServerStatusCmd)
	signalCmd.AddCommand(signalCallStateCmd)
	signalCmd.AddCommand(signalModemStateCmd)
}
