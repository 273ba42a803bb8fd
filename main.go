// ABOUTME: Entry point for the pcmstream producer
// ABOUTME: Parses CLI flags, builds a source and an audio service, and runs one session
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Sendspin/pcmstream/internal/ui"
	"github.com/Sendspin/pcmstream/internal/version"
	"github.com/Sendspin/pcmstream/pkg/audio"
	"github.com/Sendspin/pcmstream/pkg/audio/output"
	"github.com/Sendspin/pcmstream/pkg/audio/source"
	"github.com/Sendspin/pcmstream/pkg/broadcast"
	"github.com/Sendspin/pcmstream/pkg/stream"
)

const backendBroadcast = "broadcast"

var (
	backend  = flag.String("backend", getenv("PCMSTREAM_BACKEND", output.NameOto), "Audio backend ("+strings.Join(append(output.Names(), backendBroadcast), "|")+")")
	name     = flag.String("name", getenv("PCMSTREAM_NAME", ""), "Stream name (default: hostname-pcmstream)")
	rate     = flag.Int("rate", getenvInt("PCMSTREAM_RATE", 48000), "Sample rate in Hz")
	channels = flag.Int("channels", getenvInt("PCMSTREAM_CHANNELS", 2), "Channel count")
	target   = flag.String("target", "", "Target sink (default sink when empty)")
	srcName  = flag.String("source", "sweep", "Sample source: tone, sweep, chord or an audio file path")
	freq     = flag.Float64("freq", 440, "Tone frequency, chord root")
	volume   = flag.Int("volume", 80, "Volume (0-100)")
	out      = flag.String("out", "pcmstream.wav", "Output file for the wav backend")
	port     = flag.Int("port", 8927, "Listen port for the broadcast backend")
	codec    = flag.String("codec", "pcm", "Broadcast codec (pcm|opus)")
	mdns     = flag.Bool("mdns", true, "Advertise the broadcast backend via mDNS")
	buffered = flag.Bool("buffered", false, "Decouple the source from the audio thread with a ring buffer")
	logFile  = flag.String("log-file", "pcmstream.log", "Log file path")
	noTUI    = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	showVer  = flag.Bool("version", false, "Print version and exit")
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	return v
}

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version.String())
		return
	}

	useTUI := !*noTUI

	// Set up logging
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	streamName := *name
	if streamName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		streamName = fmt.Sprintf("%s-pcmstream", hostname)
	}

	format := audio.S16(*rate, *channels)
	if !format.Valid() {
		log.Fatalf("Invalid format: %s", format)
	}

	src, description, err := openSource(*srcName, format)
	if err != nil {
		log.Fatalf("Failed to open source: %v", err)
	}
	var underruns func() uint64
	if *buffered {
		b := source.NewBuffered(src, source.DefaultBufferDuration)
		underruns = b.Underruns
		src = b
	}
	vol := source.NewVolume(src, *volume)
	filler := source.NewFiller(vol)
	defer vol.Close()

	svc, err := newService(*backend, streamName)
	if err != nil {
		log.Fatalf("Failed to create backend: %v", err)
	}

	session, err := stream.Setup(svc, stream.Config{
		Name:       streamName,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		Target:     *target,
		Properties: stream.Properties{
			stream.PropAppName:    version.Product,
			"application.version": version.Version,
			"media.title":         description,
		},
	}, source.Fill, filler)
	if err != nil {
		log.Fatalf("Failed to set up stream: %v", err)
	}
	log.Printf("%s streaming %s as %q on %s", version.String(), description, streamName, svc.Name())

	// TUI setup
	var tuiProg *tea.Program
	var controls *ui.Controls
	if useTUI {
		controls = ui.NewControls()
		tuiProg, err = ui.Run(controls, *volume)
		if err != nil {
			log.Fatalf("Failed to start TUI: %v", err)
		}
		go tuiProg.Run()
		go handleControls(vol, controls)
	} else {
		log.Printf("TUI disabled - streaming logs")
	}

	updateTUI := func(msg ui.StatusMsg) {
		if tuiProg != nil {
			tuiProg.Send(msg)
		}
	}
	updateTUI(ui.StatusMsg{
		Name:       streamName,
		Backend:    svc.Name(),
		Source:     description,
		State:      "running",
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	statsCtx, stopStats := context.WithCancel(ctx)
	go statsUpdateLoop(statsCtx, session, svc, underruns, updateTUI)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var quit <-chan ui.QuitMsg
	if controls != nil {
		quit = controls.Quit
	}

	var sessionErr error
	select {
	case <-quit:
		log.Printf("Received quit signal from TUI")
	case <-sigChan:
		log.Printf("Shutdown signal received")
	case <-filler.Done():
		if err := filler.Err(); err != nil {
			log.Printf("Source failed: %v", err)
		} else {
			log.Printf("Source finished")
		}
	case sessionErr = <-runErr:
		runErr = nil
	}

	stopStats()
	if runErr != nil {
		cancel()
		sessionErr = <-runErr
	}
	if sessionErr != nil && !errors.Is(sessionErr, context.Canceled) {
		log.Printf("Session error: %v", sessionErr)
	}

	stats := session.Stats()
	if err := session.Close(); err != nil {
		log.Printf("Error closing session: %v", err)
	}
	log.Printf("Stream stopped: %d cycles, %d frames, %d skipped", stats.Cycles, stats.Frames, stats.Skipped)

	if tuiProg != nil {
		tuiProg.Quit()
	}
}

// openSource builds the named generator or opens an audio file converted
// to format.
func openSource(choice string, format audio.Format) (source.Source, string, error) {
	switch choice {
	case "tone":
		return source.NewTone(format, *freq, 0.5), fmt.Sprintf("sine %gHz", *freq), nil
	case "sweep":
		return source.NewSweep(format, 200, 2000, 0.5), "sweep 200-2000Hz", nil
	case "chord":
		return source.NewChord(format, 0.5, source.MajorChord(*freq)...), fmt.Sprintf("major chord on %gHz", *freq), nil
	}

	src, err := source.Open(choice)
	if err != nil {
		return nil, "", err
	}
	if src.Format() != format {
		log.Printf("Converting %s to %s", src.Format(), format)
	}
	return source.Convert(src, format), choice, nil
}

func newService(backendName, streamName string) (stream.Service, error) {
	if backendName == backendBroadcast {
		c, err := broadcast.ParseCodec(*codec)
		if err != nil {
			return nil, err
		}
		return broadcast.New(broadcast.Config{
			Addr:       fmt.Sprintf(":%d", *port),
			Name:       streamName,
			Codec:      c,
			EnableMDNS: *mdns,
			Realtime:   true,
		}), nil
	}

	return output.New(backendName, output.Options{
		AppName:  version.Product,
		Path:     *out,
		Realtime: true,
	})
}

// handleControls applies volume changes from the TUI
func handleControls(vol *source.Volume, controls *ui.Controls) {
	for change := range controls.Changes {
		log.Printf("Volume change: %d%%, muted=%v", change.Volume, change.Muted)
		vol.SetVolume(change.Volume)
		vol.SetMuted(change.Muted)
	}
}

// statsUpdateLoop periodically updates the TUI with session statistics
func statsUpdateLoop(ctx context.Context, session *stream.Session[*source.Filler], svc stream.Service, underruns func() uint64, updateTUI func(ui.StatusMsg)) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	// Runtime stats are collected less often
	runtimeStatsTicker := time.NewTicker(2 * time.Second)
	defer runtimeStatsTicker.Stop()

	var lastGoroutines int
	var lastMemAlloc uint64

	for {
		select {
		case <-ctx.Done():
			updateTUI(ui.StatusMsg{State: "stopped"})
			return

		case <-runtimeStatsTicker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			lastGoroutines = runtime.NumGoroutine()
			lastMemAlloc = m.Alloc

		case <-ticker.C:
			stats := session.Stats()
			msg := ui.StatusMsg{
				Stats:      &stats,
				Goroutines: lastGoroutines,
				MemAlloc:   lastMemAlloc,
			}
			if srv, ok := svc.(*broadcast.Server); ok {
				listeners := srv.Listeners()
				msg.Listeners = &listeners
				msg.Dropped = srv.Dropped()
			}
			if underruns != nil {
				msg.Underruns = underruns()
			}
			updateTUI(msg)
		}
	}
}
