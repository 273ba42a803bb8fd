// ABOUTME: Streaming PCM producer sessions
// ABOUTME: Owns one playback stream and fills its buffers from a callback
// Package stream runs a single playback stream on an audio service and
// fills each buffer the service hands out with interleaved S16LE samples
// from a user callback.
//
// Setup negotiates the format and connects the stream, Run drives fill
// cycles on a dedicated loop goroutine until Quit or context
// cancellation, and Close tears everything down. Services that pull from
// their own thread use PullStream; sinks with no device clock use Pacer.
//
// Example:
//
//	fill := func(dst []byte, t *tone) { t.render(dst) }
//	s, err := stream.Setup(svc, stream.Config{SampleRate: 48000, Channels: 2}, fill, t)
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	err = s.Run(ctx)
package stream
