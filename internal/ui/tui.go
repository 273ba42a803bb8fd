// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and its control channels
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// VolumeChangeMsg carries a volume or mute change from the keyboard
type VolumeChangeMsg struct {
	Volume int
	Muted  bool
}

// QuitMsg is sent when the user asks to quit
type QuitMsg struct{}

// Controls holds channels for communication from the TUI to the producer
type Controls struct {
	Changes chan VolumeChangeMsg
	Quit    chan QuitMsg
}

// NewControls creates a new control handler
func NewControls() *Controls {
	return &Controls{
		Changes: make(chan VolumeChangeMsg, 10),
		Quit:    make(chan QuitMsg, 1),
	}
}

// change drops the message when the consumer lags; the next key press
// carries the full state again.
func (c *Controls) change(volume int, muted bool) {
	if c == nil {
		return
	}
	select {
	case c.Changes <- VolumeChangeMsg{Volume: volume, Muted: muted}:
	default:
	}
}

func (c *Controls) quit() {
	if c == nil {
		return
	}
	select {
	case c.Quit <- QuitMsg{}:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(controls *Controls, volume int) Model {
	return Model{
		volume:   volume,
		state:    "idle",
		controls: controls,
	}
}

// Run creates the TUI program. The caller starts it with Run on the
// returned program.
func Run(controls *Controls, volume int) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(controls, volume), tea.WithAltScreen())
	return p, nil
}
