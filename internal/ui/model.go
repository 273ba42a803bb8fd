// ABOUTME: Bubbletea model for the producer TUI
// ABOUTME: Holds session status and turns key presses into control messages
package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Sendspin/pcmstream/pkg/stream"
)

// Model represents the TUI state
type Model struct {
	// Session
	name    string
	backend string
	source  string
	state   string

	// Format
	sampleRate int
	channels   int

	// Source controls
	volume int
	muted  bool

	// Stats
	stats     stream.Stats
	listeners int
	dropped   uint64
	underruns uint64

	// Debug
	showDebug  bool
	goroutines int
	memAlloc   uint64

	// Dimensions
	width  int
	height int

	controls *Controls
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderStreamInfo()
	s += m.renderControls()
	s += m.renderStats()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

func (m Model) renderHeader() string {
	return fmt.Sprintf(`┌─ PCM Stream ─────────────────────────────────────────┐
│ Stream:  %-44s │
│ Backend: %-44s │
├──────────────────────────────────────────────────────┤
`, truncate(m.name, 44), truncate(fmt.Sprintf("%s (%s)", m.backend, m.state), 44))
}

func (m Model) renderStreamInfo() string {
	if m.sampleRate == 0 {
		return "│ No stream                                            │\n"
	}

	s := fmt.Sprintf("│ Source: %-45s │\n", truncate(m.source, 45))
	s += fmt.Sprintf("│ Format: %-45s │\n",
		fmt.Sprintf("s16le %dHz %s", m.sampleRate, channelName(m.channels)))
	return s
}

func (m Model) renderControls() string {
	muteIcon := ""
	if m.muted {
		muteIcon = " (muted)"
	}

	volumeBar := renderBar(m.volume, 100, 10)

	return fmt.Sprintf("│                                                      │\n"+
		"│ Volume: [%s] %-32s │\n",
		volumeBar, fmt.Sprintf("%d%%%s", m.volume, muteIcon))
}

func (m Model) renderStats() string {
	s := fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ Cycles: %-12d Frames: %-24d │
│ Skipped: %-11d Empty: %-25d │
`, m.stats.Cycles, m.stats.Frames, m.stats.Skipped, m.stats.Empty)
	if m.listeners > 0 || m.dropped > 0 {
		s += fmt.Sprintf("│ Listeners: %-9d Dropped: %-23d │\n", m.listeners, m.dropped)
	}
	if m.underruns > 0 {
		s += fmt.Sprintf("│ Underruns: %-42d │\n", m.underruns)
	}
	return s
}

func (m Model) renderHelp() string {
	return `│ ↑/↓:Volume  m:Mute  d:Debug  q:Quit                  │
└──────────────────────────────────────────────────────┘
`
}

func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Goroutines: %-38d │
│   Heap: %-44s │
`, m.goroutines, fmt.Sprintf("%.1f MiB", float64(m.memAlloc)/(1<<20)))
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.controls.quit()
		return m, tea.Quit
	case "up":
		if m.volume < 100 {
			m.volume = min(m.volume+5, 100)
			m.controls.change(m.volume, m.muted)
		}
	case "down":
		if m.volume > 0 {
			m.volume = max(m.volume-5, 0)
			m.controls.change(m.volume, m.muted)
		}
	case "m":
		m.muted = !m.muted
		m.controls.change(m.volume, m.muted)
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Name != "" {
		m.name = msg.Name
	}
	if msg.Backend != "" {
		m.backend = msg.Backend
	}
	if msg.Source != "" {
		m.source = msg.Source
	}
	if msg.State != "" {
		m.state = msg.State
	}
	if msg.SampleRate != 0 {
		m.sampleRate = msg.SampleRate
		m.channels = msg.Channels
	}
	if msg.Stats != nil {
		m.stats = *msg.Stats
	}
	if msg.Listeners != nil {
		m.listeners = *msg.Listeners
	}
	if msg.Dropped != 0 {
		m.dropped = msg.Dropped
	}
	if msg.Underruns != 0 {
		m.underruns = msg.Underruns
	}
	if msg.Goroutines != 0 {
		m.goroutines = msg.Goroutines
		m.memAlloc = msg.MemAlloc
	}
}

// StatusMsg updates TUI state. Zero fields are left unchanged.
type StatusMsg struct {
	Name       string
	Backend    string
	Source     string
	State      string
	SampleRate int
	Channels   int
	Stats      *stream.Stats
	Listeners  *int
	Dropped    uint64
	Underruns  uint64
	Goroutines int
	MemAlloc   uint64
}

func renderBar(value, max, width int) string {
	filled := (value * width) / max
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func channelName(channels int) string {
	switch channels {
	case 1:
		return "Mono"
	case 2:
		return "Stereo"
	default:
		return fmt.Sprintf("%dch", channels)
	}
}
