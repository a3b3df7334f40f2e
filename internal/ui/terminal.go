package ui

import (
	"context"
	"fmt"
	"io"
	"time"

	"hotmic/internal/domain"
)

// PollInterval matches the refresh cadence of the overlay it stands in for.
const PollInterval = 50 * time.Millisecond

// Terminal renders UI events as status lines.
type Terminal struct {
	out     io.Writer
	visible bool
	last    string
}

func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out}
}

// Run polls the queue until an exit event is rendered or ctx is done.
func (t *Terminal) Run(ctx context.Context, queue *Queue, interval time.Duration) {
	if interval <= 0 {
		interval = PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for {
			event, ok := queue.Poll()
			if !ok {
				break
			}
			if !t.Render(event) {
				return
			}
		}
		select {
		case <-ctx.Done():
			for _, event := range queue.Drain() {
				if !t.Render(event) {
					return
				}
			}
			return
		case <-ticker.C:
		}
	}
}

// Render writes one event and reports whether rendering should continue.
// The controller publishes the finished transcript as the last update before
// Hide, so Hide prints whatever text is current as the final line.
func (t *Terminal) Render(event domain.UIEvent) bool {
	switch event.Kind {
	case domain.UIEventShow:
		t.visible = true
		t.last = ""
		fmt.Fprintln(t.out, "● recording")
	case domain.UIEventUpdateText:
		if event.Text == t.last {
			return true
		}
		t.last = event.Text
		fmt.Fprintf(t.out, "  %s\n", event.Text)
	case domain.UIEventHide:
		if t.visible && t.last != "" {
			fmt.Fprintf(t.out, "✓ final: %s\n", t.last)
		}
		t.visible = false
		t.last = ""
		fmt.Fprintln(t.out, "○ idle")
	case domain.UIEventExit:
		fmt.Fprintln(t.out, "bye")
		return false
	}
	return true
}
