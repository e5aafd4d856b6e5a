// Package cmtspeech bridges a cellular modem's speech data endpoint to a host
// audio graph.
//
// A Connection owns one endpoint, opened through an Opener, and runs a
// dedicated event loop that polls the endpoint descriptor, an internal wake
// signal and a timer. Control events from the modem drive the transition
// table (see Transition), which produces HostRequest values for the host
// graph: stream creation and deletion, downlink and uplink connect and
// disconnect, uplink deadlines and flushes.
//
// Downlink frames are lent by the modem. The loop pushes them into a bounded
// queue (Connection.Downlink) and the audio consumer must call
// Frame.Release exactly once per frame. Uplink frames are sent synchronously
// with Connection.SendUplink.
//
// Control-plane notifications (call connect intent, call server status, voice
// call state, modem state) arrive as a single Signal type through
// Connection.HandleSignal. When the call server reports the call over while
// the modem still has an active session, an idle watchdog forces cleanup
// after Config.WatchdogTimeout.
//
// Faults that invalidate the endpoint (I/O errors, modem reset, poll
// failures) go through Connection.CloseOnError, after which the loop reopens
// the endpoint, retrying every Config.OpenRetryInterval on failure.
//
// Example usage:
//
//	host := cmtspeech.NewRequestQueue()
//	conn := cmtspeech.New(opener, host, nil)
//	if err := conn.Start(); err != nil {
//	    return err
//	}
//	defer conn.Stop()
//
//	for {
//	    f, err := conn.Downlink().Next()
//	    if err != nil {
//	        break
//	    }
//	    play(f.Payload())
//	    f.Release()
//	}
package cmtspeech
