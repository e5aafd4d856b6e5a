// Package pcm describes the linear PCM formats the modem speaks and carries
// audio frames between the bridge and its sinks.
//
// The modem exchanges 20 ms frames of 16-bit mono audio at 8 kHz
// (narrowband) or 16 kHz (wideband). Format computes frame sizes and
// durations for both, and FormatForSampleRate maps the sample rate from a
// speech config event to a Format.
//
// Example usage:
//
//	format, err := pcm.FormatForSampleRate(8000)
//	if err != nil {
//	    return err
//	}
//
//	// 320 bytes for one 20 ms narrowband frame
//	n := format.FrameBytes()
//
//	// Write a frame to a file sink
//	w := pcm.ChunkWriter(file)
//	err = w.Write(format.DataChunk(payload))
package pcm
