package cmtspeech

import (
	"encoding/json"
	"testing"
)

func TestRequestQueue(t *testing.T) {
	q := NewRequestQueue()
	posted := []HostRequest{
		{Kind: RequestCreateStreams},
		{Kind: RequestDownlinkConnect},
		{Kind: RequestUplinkDeadline, DeadlineUs: 42},
		{Kind: RequestUnload, Reason: "watchdog"},
	}
	for _, r := range posted {
		q.Post(r)
	}
	if n := len(q.Pending()); n != len(posted) {
		t.Fatalf("pending=%d", n)
	}
	q.Close()
	q.Post(HostRequest{Kind: RequestFlushDownlink})

	var got []HostRequest
	for r := range q.Requests() {
		got = append(got, r)
	}
	if len(got) != len(posted) {
		t.Fatalf("got=%v", got)
	}
	for i := range posted {
		if got[i] != posted[i] {
			t.Errorf("request %d: got=%v, want=%v", i, got[i], posted[i])
		}
	}
	if _, ok := q.TryNext(); ok {
		t.Error("TryNext after drain")
	}
}

func TestRequestQueueLinks(t *testing.T) {
	q := NewRequestQueue()
	if q.DownlinkLinked() || q.UplinkLinked() {
		t.Fatal("linked before set")
	}
	q.SetDownlinkLinked(true)
	q.SetUplinkLinked(true)
	if !q.DownlinkLinked() || !q.UplinkLinked() {
		t.Error("links not set")
	}
	q.SetDownlinkLinked(false)
	if q.DownlinkLinked() {
		t.Error("downlink still linked")
	}
}

func TestHostRequestString(t *testing.T) {
	tests := []struct {
		req  HostRequest
		want string
	}{
		{HostRequest{Kind: RequestFlushDownlink}, "flush_dl"},
		{HostRequest{Kind: RequestUplinkDeadline, DeadlineUs: 7}, "ul_deadline(7)"},
		{HostRequest{Kind: RequestUnload, Reason: "modem reset"}, "unload(modem reset)"},
		{HostRequest{Kind: HostRequestKind(99)}, "request(99)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.req.String(); got != tt.want {
				t.Errorf("got=%q, want=%q", got, tt.want)
			}
		})
	}
}

func TestHostRequestJSON(t *testing.T) {
	data, err := json.Marshal(HostRequest{Kind: RequestUplinkDeadline, DeadlineUs: 100017500})
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"kind":"ul_deadline","deadline_us":100017500}`; string(data) != want {
		t.Errorf("got=%s, want=%s", data, want)
	}
	var r HostRequest
	if err := json.Unmarshal([]byte(`{"kind":"bogus"}`), &r); err == nil {
		t.Error("expected error for unknown kind")
	}
}
