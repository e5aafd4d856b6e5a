package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestLoadConfigWithPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := LoadConfigWithPath("cmtbridge", path)
	if err != nil {
		t.Fatalf("LoadConfigWithPath: %v", err)
	}
	if cfg.Path() != path {
		t.Errorf("Path=%q, want %q", cfg.Path(), path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not created: %v", err)
	}
	if len(cfg.Contexts) != 0 {
		t.Errorf("contexts=%v", cfg.Contexts)
	}
}

func TestContextLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := LoadConfigWithPath("cmtbridge", path)
	if err != nil {
		t.Fatal(err)
	}

	lab := &Context{Signaling: "127.0.0.1:7070", Token: "secret-token-1234"}
	lab.SetExtra("watchdog_timeout", "3s")
	if err := cfg.AddContext("lab", lab); err != nil {
		t.Fatalf("AddContext: %v", err)
	}
	if err := cfg.AddContext("bench", &Context{}); err != nil {
		t.Fatalf("AddContext: %v", err)
	}
	if err := cfg.UseContext("lab"); err != nil {
		t.Fatalf("UseContext: %v", err)
	}
	if err := cfg.UseContext("missing"); err == nil {
		t.Error("UseContext(missing) succeeded")
	}

	reloaded, err := LoadConfigWithPath("cmtbridge", path)
	if err != nil {
		t.Fatal(err)
	}
	if got := reloaded.ListContexts(); !slices.Equal(got, []string{"bench", "lab"}) {
		t.Errorf("ListContexts=%v", got)
	}
	cur, err := reloaded.ResolveContext("")
	if err != nil {
		t.Fatalf("ResolveContext: %v", err)
	}
	if cur.Name != "lab" || cur.Signaling != "127.0.0.1:7070" {
		t.Errorf("current=%+v", cur)
	}
	if got := cur.GetExtra("watchdog_timeout"); got != "3s" {
		t.Errorf("extra=%q", got)
	}
	if got := cur.GetExtra("missing"); got != "" {
		t.Errorf("missing extra=%q", got)
	}

	if err := reloaded.DeleteContext("lab"); err != nil {
		t.Fatalf("DeleteContext: %v", err)
	}
	if reloaded.CurrentContext != "" {
		t.Errorf("current context=%q after delete", reloaded.CurrentContext)
	}
	if _, err := reloaded.GetCurrentContext(); err == nil {
		t.Error("GetCurrentContext succeeded without a current context")
	}
	if err := reloaded.DeleteContext("lab"); err == nil {
		t.Error("second DeleteContext succeeded")
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "*****"},
		{"secret-token-1234", "secr*********1234"},
	}
	for _, tt := range tests {
		if got := MaskToken(tt.in); got != tt.want {
			t.Errorf("MaskToken(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOutput(t *testing.T) {
	v := map[string]int{"dl_queued": 3}

	var buf bytes.Buffer
	if err := Output(v, OutputOptions{Format: FormatJSON, Writer: &buf}); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); !strings.Contains(got, `"dl_queued": 3`) {
		t.Errorf("json=%q", got)
	}

	buf.Reset()
	if err := Output(v, OutputOptions{Writer: &buf}); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); !strings.Contains(got, "dl_queued: 3") {
		t.Errorf("yaml=%q", got)
	}

	if err := Output(v, OutputOptions{Format: "xml", Writer: &buf}); err == nil {
		t.Error("unsupported format accepted")
	}
}

func TestOutputFile(t *testing.T) {
	v := map[string]int{"dl_queued": 3}
	dir := t.TempDir()

	path := filepath.Join(dir, "report.json")
	if err := Output(v, OutputOptions{File: path}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "{\n  \"dl_queued\": 3\n}\n" {
		t.Errorf("json file=%q", got)
	}

	path = filepath.Join(dir, "report.yaml")
	if err := Output(v, OutputOptions{File: path}); err != nil {
		t.Fatal(err)
	}
	if data, _ := os.ReadFile(path); !strings.Contains(string(data), "dl_queued: 3") {
		t.Errorf("yaml file=%q", data)
	}

	if err := Output(make(chan int), OutputOptions{File: path, Format: FormatJSON}); err == nil {
		t.Fatal("channel encoded")
	}
	if data, _ := os.ReadFile(path); !strings.Contains(string(data), "dl_queued: 3") {
		t.Errorf("file overwritten on encoding error: %q", data)
	}
}

func TestParseRequest(t *testing.T) {
	type req struct {
		Name  string `json:"name" yaml:"name"`
		Count int    `json:"count" yaml:"count"`
	}
	tests := []struct {
		name     string
		data     string
		filename string
		want     req
		wantErr  bool
	}{
		{"yaml", "name: call\ncount: 2\n", "a.yaml", req{"call", 2}, false},
		{"json", `{"name":"call","count":2}`, "a.json", req{"call", 2}, false},
		{"sniffed", `{"name":"call","count":2}`, "-", req{"call", 2}, false},
		{"bad json", `{`, "a.json", req{}, true},
		{"unknown yaml key", "name: call\ncuont: 2\n", "a.yaml", req{}, true},
		{"unknown json key", `{"name":"call","cuont":2}`, "a.json", req{}, true},
		{"empty yaml", "", "a.yaml", req{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got req
			err := ParseRequest([]byte(tt.data), tt.filename, &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v", err)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got=%+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yml")
	if err := os.WriteFile(path, []byte("name: x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	var v struct {
		Name string `yaml:"name"`
	}
	if err := LoadRequest(path, &v); err != nil || v.Name != "x" {
		t.Errorf("LoadRequest: %v, %+v", err, v)
	}
	if err := LoadRequest(filepath.Join(t.TempDir(), "none.yaml"), &v); err == nil {
		t.Error("missing file accepted")
	}
}

func TestPaths(t *testing.T) {
	p := &Paths{AppName: "cmtbridge", HomeDir: "/home/u"}
	if got := p.ConfigFile(); got != "/home/u/.giztoy/cmtbridge/config.yaml" {
		t.Errorf("ConfigFile=%q", got)
	}
	if got := p.JournalDir(); got != "/home/u/.giztoy/cmtbridge/data/journal" {
		t.Errorf("JournalDir=%q", got)
	}
}

func TestResolveScenario(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "call")
	if err := os.WriteFile(existing, nil, 0644); err != nil {
		t.Fatal(err)
	}
	p := &Paths{AppName: "cmtbridge", HomeDir: "/home/u"}
	tests := []struct {
		name string
		want string
	}{
		{"basic-call", "/home/u/.giztoy/cmtbridge/scenarios/basic-call.yaml"},
		{"call.json", "call.json"},
		{"./missing", "./missing"},
		{existing, existing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ResolveScenario(tt.name); got != tt.want {
				t.Errorf("got=%q, want=%q", got, tt.want)
			}
		})
	}
}
