package orchestrator

import (
	"fmt"
	"io"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// spinner shows progress on the terminal while the initial build runs.
// Disabled when the output is not a TTY so logs and CI output stay clean.
type spinner struct {
	out      io.Writer
	enabled  bool
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

func newSpinner(out io.Writer, enabled bool) *spinner {
	return &spinner{out: out, enabled: enabled, interval: 100 * time.Millisecond}
}

// Start begins animating the message. No-op when disabled or already
// running.
func (s *spinner) Start(message string) {
	if !s.enabled || s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		frame := 0
		fmt.Fprintf(s.out, "\r%s %s", spinnerFrames[frame], message)
		for {
			select {
			case <-s.stop:
				// Erase the line so the first real output starts clean.
				fmt.Fprint(s.out, "\r\x1b[K")
				return
			case <-ticker.C:
				frame++
				fmt.Fprintf(s.out, "\r%s %s", spinnerFrames[frame%len(spinnerFrames)], message)
			}
		}
	}()
}

// Stop halts the animation and clears the line. Safe to call when not
// running.
func (s *spinner) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	s.done = nil
}
