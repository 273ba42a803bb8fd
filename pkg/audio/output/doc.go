// ABOUTME: Audio output package for playing producer sessions
// ABOUTME: Provides device and file services selectable by name
// Package output provides audio services that sessions play on.
//
// Pulse, Oto, Malgo and PortAudio (build with -tags portaudio) open a
// device whose callback pulls one session cycle at a time. WAVFile renders
// to disk on a pacer clock.
//
// Example:
//
//	svc, err := output.New("pulse", output.Options{AppName: "pcmstream"})
//	s, err := stream.Setup(svc, cfg, fill, userContext)
package output
