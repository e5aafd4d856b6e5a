package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/cmtbridge/pkg/cli"
	"github.com/haivivi/cmtbridge/pkg/modemsim"
)

var simulateFlags struct {
	file    string
	settle  time.Duration
	journal string
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Play a scenario file against the bridge and report",
	Long: `Play a scenario file against the bridge and report.

A scenario is a list of steps. Each step waits 'after', then delivers a
signal, injects a fault, queues a modem event, queues downlink frames and
sends uplink frames.

Example scenario (YAML):

  name: basic-call
  steps:
    - signal: {kind: call_connect, ul: true, dl: true}
    - signal: {kind: server_status, active: true}
    - event: {to: connected, msg: ssi_config_resp}
    - event: {to: active_dl, msg: speech_config_req, speech: {sample_rate: 8000}}
    - after: 20ms
      downlink: 5
    - event: {to: active_dlul, msg: ul_data_ready}
      uplink: 3
    - event: {to: connected, msg: speech_config_req}
    - event: {to: disconnected, msg: reset_conn_resp}

Examples:
  cmtbridge simulate -f call.yaml
  cmtbridge simulate -f call.yaml --json -o report.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateFlags.file == "" {
			return fmt.Errorf("scenario file is required, use -f flag")
		}
		var sc modemsim.Scenario
		if err := loadScenario(simulateFlags.file, &sc); err != nil {
			return err
		}
		ctx, err := getContext()
		if err != nil {
			return err
		}
		bc, err := LoadBridgeConfig(ctx)
		if err != nil {
			return err
		}
		bc.Journal = simulateFlags.journal
		bc.SignalListen = ""

		r, err := simulate(cmd.Context(), bc, &sc, simulateFlags.settle)
		if err != nil {
			return err
		}
		return outputResult(r)
	},
}

// loadScenario reads a scenario file. A bare name is looked up in
// ~/.giztoy/cmtbridge/scenarios.
func loadScenario(name string, sc *modemsim.Scenario) error {
	paths, err := cli.NewPaths(appName)
	if err != nil {
		return err
	}
	return cli.LoadRequest(paths.ResolveScenario(name), sc)
}

// simulate runs sc against a fresh bridge and reports once the bridge has
// settled.
func simulate(ctx context.Context, bc BridgeConfig, sc *modemsim.Scenario, settle time.Duration) (report, error) {
	if err := sc.Validate(); err != nil {
		return report{}, err
	}
	b, err := newBridge(ctx, bc, "simulate:"+sc.Name)
	if err != nil {
		return report{}, err
	}
	defer b.close()
	if err := b.start(ctx); err != nil {
		return report{}, err
	}

	ready := time.Now().Add(5 * time.Second)
	for !b.sim.IsOpen() && time.Now().Before(ready) {
		time.Sleep(5 * time.Millisecond)
	}
	res, runErr := b.sim.Run(ctx, sc, b.conn)
	b.settle(settle)
	b.stop()

	r := b.report()
	r.Scenario = sc.Name
	r.Result = &res
	return r, runErr
}

func init() {
	simulateCmd.Flags().StringVarP(&simulateFlags.file, "file", "f", "", "scenario file (YAML or JSON), or a name under ~/.giztoy/cmtbridge/scenarios")
	simulateCmd.Flags().DurationVar(&simulateFlags.settle, "settle", time.Second, "how long to wait for frames in flight after the last step")
	simulateCmd.Flags().StringVar(&simulateFlags.journal, "journal", "memory", `journal directory, "memory" or "off"`)
}
