package commands

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haivivi/cmtbridge/pkg/cli"
	"github.com/haivivi/cmtbridge/pkg/cmtspeech"
	"github.com/haivivi/cmtbridge/pkg/journal"
	"github.com/haivivi/cmtbridge/pkg/modemsim"
)

func TestLoadBridgeConfigDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	bc, err := LoadBridgeConfig(&cli.Context{Signaling: ":7070", Token: "tok"})
	if err != nil {
		t.Fatal(err)
	}
	if bc.OpenRetry != cmtspeech.DefaultOpenRetryInterval {
		t.Errorf("OpenRetry=%v", bc.OpenRetry)
	}
	if bc.Watchdog != cmtspeech.DefaultWatchdogTimeout {
		t.Errorf("Watchdog=%v", bc.Watchdog)
	}
	if bc.QueueSize != cmtspeech.DefaultQueueSize {
		t.Errorf("QueueSize=%d", bc.QueueSize)
	}
	if bc.SampleRate != 8000 {
		t.Errorf("SampleRate=%d", bc.SampleRate)
	}
	if bc.SignalListen != ":7070" || bc.Token != "tok" {
		t.Errorf("signaling=%q token=%q", bc.SignalListen, bc.Token)
	}
	if want := filepath.Join(home, ".giztoy", appName, "data", "journal"); bc.Journal != want {
		t.Errorf("Journal=%q, want %q", bc.Journal, want)
	}
}

func TestLoadBridgeConfigOverrides(t *testing.T) {
	ctx := &cli.Context{}
	ctx.SetExtra(extraOpenRetry, "250ms")
	ctx.SetExtra(extraWatchdog, "3s")
	ctx.SetExtra(extraQueueSize, "8")
	ctx.SetExtra(extraSampleRate, "16000")
	ctx.SetExtra(extraRTPDownlink, "127.0.0.1:5004")
	ctx.SetExtra(extraRTPUplink, "127.0.0.1:5006")
	ctx.SetExtra(extraJournal, journalOff)

	bc, err := LoadBridgeConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := BridgeConfig{
		OpenRetry:   250 * time.Millisecond,
		Watchdog:    3 * time.Second,
		QueueSize:   8,
		SampleRate:  16000,
		RTPDownlink: "127.0.0.1:5004",
		RTPUplink:   "127.0.0.1:5006",
		Journal:     journalOff,
	}
	if bc != want {
		t.Errorf("got=%+v, want=%+v", bc, want)
	}
}

func TestLoadBridgeConfigErrors(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{extraOpenRetry, "soon"},
		{extraWatchdog, "0s"},
		{extraWatchdog, "-1s"},
		{extraQueueSize, "many"},
		{extraQueueSize, "0"},
		{extraSampleRate, "44100"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			ctx := &cli.Context{}
			ctx.SetExtra(extraJournal, journalMemory)
			ctx.SetExtra(tt.key, tt.value)
			_, err := LoadBridgeConfig(ctx)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.HasPrefix(err.Error(), tt.key+":") {
				t.Errorf("err=%v, want %s prefix", err, tt.key)
			}
		})
	}
}

func TestSignalURL(t *testing.T) {
	tests := []struct {
		addr    string
		want    string
		wantErr bool
	}{
		{addr: "127.0.0.1:7070", want: "ws://127.0.0.1:7070/signal"},
		{addr: "ws://modem.local:7070", want: "ws://modem.local:7070/signal"},
		{addr: "wss://modem.local/custom", want: "wss://modem.local/custom"},
		{addr: "", wantErr: true},
		{addr: "ws://bad host", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got, err := signalURL(tt.addr)
			if tt.wantErr {
				if err == nil {
					t.Errorf("got=%q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got=%q, want=%q", got, tt.want)
			}
		})
	}
}

func TestOpenStore(t *testing.T) {
	s, err := openStore(journalOff)
	if err != nil || s != nil {
		t.Errorf("off: store=%v err=%v", s, err)
	}

	s, err = openStore(journalMemory)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*journal.Memory); !ok {
		t.Errorf("memory: got %T", s)
	}
	s.Close()

	dir := t.TempDir()
	s, err = openStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*journal.Badger); !ok {
		t.Errorf("dir: got %T", s)
	}
	if err := s.Close(); err != nil {
		t.Error(err)
	}
}

func TestSimulate(t *testing.T) {
	bc := BridgeConfig{
		OpenRetry:  10 * time.Millisecond,
		Watchdog:   cmtspeech.DefaultWatchdogTimeout,
		QueueSize:  cmtspeech.DefaultQueueSize,
		SampleRate: 8000,
		Journal:    journalMemory,
	}
	sc := &modemsim.Scenario{
		Name: "short-call",
		Steps: []modemsim.Step{
			{Signal: &cmtspeech.Signal{Kind: cmtspeech.SignalCallConnect, UL: true, DL: true}},
			{Event: &modemsim.EventStep{To: cmtspeech.StateConnected, Msg: cmtspeech.MsgSSIConfigResp}},
			{Event: &modemsim.EventStep{To: cmtspeech.StateActiveDL, Msg: cmtspeech.MsgSpeechConfigReq}},
			{Downlink: 2},
			{Event: &modemsim.EventStep{To: cmtspeech.StateConnected, Msg: cmtspeech.MsgSpeechConfigReq}},
			{Event: &modemsim.EventStep{To: cmtspeech.StateDisconnected, Msg: cmtspeech.MsgResetConnResp}},
		},
	}

	r, err := simulate(t.Context(), bc, sc, 500*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if r.Scenario != "short-call" {
		t.Errorf("Scenario=%q", r.Scenario)
	}
	if r.Result == nil || r.Result.Steps != 6 || r.Result.Events != 4 || r.Result.Downlink != 2 {
		t.Errorf("Result=%+v", r.Result)
	}
	if r.Session == "" {
		t.Error("no journal session")
	}
	if r.Signals != nil {
		t.Errorf("Signals=%+v without a listener", r.Signals)
	}
	if n := r.Modem.Outstanding(); n != 0 {
		t.Errorf("outstanding buffers=%d", n)
	}
}

func TestSimulateInvalidScenario(t *testing.T) {
	sc := &modemsim.Scenario{Steps: []modemsim.Step{{Fault: "meteor"}}}
	if _, err := simulate(t.Context(), BridgeConfig{SampleRate: 8000, Journal: journalOff}, sc, 0); err == nil {
		t.Error("expected error")
	}
}
