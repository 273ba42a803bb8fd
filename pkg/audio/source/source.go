// ABOUTME: Source interface and the adapter that feeds sessions from it
// ABOUTME: Short reads and decode errors become silence
package source

import (
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/Sendspin/pcmstream/pkg/audio"
)

// Source produces interleaved S16 samples
type Source interface {
	// Format returns the sample rate and channel layout of Read's output
	Format() audio.Format

	// Read fills samples with whole frames and returns the number of
	// samples written. io.EOF marks the end of a finite source.
	Read(samples []int16) (int, error)

	// Close releases the source
	Close() error
}

// Filler is the user context that lets a Source drive a session
type Filler struct {
	src     Source
	scratch []int16

	done     atomic.Bool
	doneOnce sync.Once
	doneCh   chan struct{}

	errMu sync.Mutex
	err   error
}

// NewFiller wraps src for use with Fill
func NewFiller(src Source) *Filler {
	return &Filler{src: src, doneCh: make(chan struct{})}
}

// Fill writes the next samples of f's source into dst. Pass it to
// stream.Setup together with a *Filler user context.
func Fill(dst []byte, f *Filler) {
	n := len(dst) / audio.BytesPerSample
	if cap(f.scratch) < n {
		f.scratch = make([]int16, n)
	}
	samples := f.scratch[:n]

	got := 0
	for !f.done.Load() && got < n {
		k, err := f.src.Read(samples[got:])
		got += k
		if err != nil {
			f.finish(err)
			break
		}
		if k == 0 {
			break
		}
	}

	clear(samples[got:])
	written := audio.PutInt16s(dst, samples)
	clear(dst[written*audio.BytesPerSample:])
}

func (f *Filler) finish(err error) {
	f.doneOnce.Do(func() {
		if !errors.Is(err, io.EOF) {
			log.Printf("Source error: %v", err)
			f.errMu.Lock()
			f.err = err
			f.errMu.Unlock()
		}
		f.done.Store(true)
		close(f.doneCh)
	})
}

// Done is closed once the source is exhausted or failed
func (f *Filler) Done() <-chan struct{} {
	return f.doneCh
}

// Err returns the error that ended the source, nil for a clean end
func (f *Filler) Err() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.err
}

// Source returns the wrapped source
func (f *Filler) Source() Source {
	return f.src
}
