// ABOUTME: Clock for sinks that have no device clock of their own
// ABOUTME: Pulls one quantum per period and hands queued chunks to a writer
package stream

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultQuantum is the number of frames pulled per paced cycle
const DefaultQuantum = 1024

// Pacer drives a PullStream from a ticker. It is used by file and network
// sinks, which accept data as fast as it is produced.
type Pacer struct {
	pull     *PullStream
	quantum  int
	realtime bool
	write    func(chunk []byte) error

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewPacer creates a pacer that pulls quantum frames per cycle. With
// realtime set, cycles are spaced by the quantum's playback duration;
// otherwise they run back to back while the session loop is running.
func NewPacer(pull *PullStream, quantum int, realtime bool, write func(chunk []byte) error) *Pacer {
	if quantum <= 0 {
		quantum = DefaultQuantum
	}
	return &Pacer{
		pull:     pull,
		quantum:  quantum,
		realtime: realtime,
		write:    write,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Period returns the playback duration of one quantum
func (p *Pacer) Period() time.Duration {
	return p.pull.Format().Duration(p.quantum)
}

// Start begins pacing on a new goroutine
func (p *Pacer) Start() {
	go p.run()
}

// Stop ends pacing and waits for the goroutine to exit
func (p *Pacer) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Pacer) run() {
	defer close(p.done)

	buf := make([]byte, p.quantum*p.pull.Format().Stride())

	period := p.Period()
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		if p.realtime {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
			}
		} else {
			select {
			case <-p.stop:
				return
			default:
			}
		}

		n, queued := p.pull.cycle(buf, 0, false)
		if !queued {
			if !p.realtime {
				// Loop idle, wait a tick before retrying
				select {
				case <-p.stop:
					return
				case <-ticker.C:
				}
			}
			continue
		}

		if err := p.write(buf[:n]); err != nil {
			log.Printf("Paced sink write failed: %v", err)
			p.pull.Fail(fmt.Errorf("sink write: %w", err))
			// Stay idle until stopped
			<-p.stop
			return
		}
	}
}
