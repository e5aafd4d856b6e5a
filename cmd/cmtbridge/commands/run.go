package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haivivi/cmtbridge/pkg/modemsim"
)

var runFlags struct {
	scenario string
	listen   string
	dlAddr   string
	ulAddr   string
	journal  string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge until interrupted",
	Long: `Run the bridge until interrupted.

The modem side is the built-in modem simulator. Drive it with a scenario
file (--scenario) or leave it idle and steer the connection through the
signalling endpoint.

Context settings (cmtbridge config set <context> <key> <value>):
  open_retry        delay between failed endpoint opens (default 60s)
  watchdog_timeout  idle endpoint timeout without a call (default 5s)
  queue_size        downlink frame queue capacity (default 4)
  sample_rate       8000 or 16000 (default 8000)
  rtp_downlink      UDP peer for downlink RTP
  rtp_uplink        local UDP address for uplink RTP
  journal           journal directory, "memory" or "off"

Examples:
  cmtbridge -c lab run
  cmtbridge run --listen 127.0.0.1:7070 --rtp-downlink 127.0.0.1:5004
  cmtbridge run --scenario call.yaml --journal memory`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bc, err := runConfig()
		if err != nil {
			return err
		}
		var sc *modemsim.Scenario
		if runFlags.scenario != "" {
			sc = &modemsim.Scenario{}
			if err := loadScenario(runFlags.scenario, sc); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		b, err := newBridge(ctx, bc, "run")
		if err != nil {
			return err
		}
		defer b.close()
		if err := b.start(ctx); err != nil {
			return err
		}
		printVerbose("bridge started, config: %+v", bc)

		var runErr error
		if sc != nil {
			go func() {
				if _, err := b.sim.Run(ctx, sc, b.conn); err != nil && ctx.Err() == nil {
					b.fail(fmt.Errorf("scenario: %w", err))
				}
			}()
		}
		select {
		case <-ctx.Done():
		case runErr = <-b.errs:
		}
		b.stop()

		if err := outputResult(b.report()); err != nil {
			return err
		}
		return runErr
	},
}

func runConfig() (BridgeConfig, error) {
	ctx, err := getContext()
	if err != nil {
		return BridgeConfig{}, err
	}
	bc, err := LoadBridgeConfig(ctx)
	if err != nil {
		return bc, err
	}
	if runFlags.listen != "" {
		bc.SignalListen = runFlags.listen
	}
	if runFlags.dlAddr != "" {
		bc.RTPDownlink = runFlags.dlAddr
	}
	if runFlags.ulAddr != "" {
		bc.RTPUplink = runFlags.ulAddr
	}
	if runFlags.journal != "" {
		bc.Journal = runFlags.journal
	}
	return bc, nil
}

func init() {
	runCmd.Flags().StringVar(&runFlags.scenario, "scenario", "", "scenario file to play against the modem simulator")
	runCmd.Flags().StringVar(&runFlags.listen, "listen", "", "signalling listen address (overrides context)")
	runCmd.Flags().StringVar(&runFlags.dlAddr, "rtp-downlink", "", "UDP peer for downlink RTP (overrides context)")
	runCmd.Flags().StringVar(&runFlags.ulAddr, "rtp-uplink", "", "local UDP address for uplink RTP (overrides context)")
	runCmd.Flags().StringVar(&runFlags.journal, "journal", "", `journal directory, "memory" or "off" (overrides context)`)
}
