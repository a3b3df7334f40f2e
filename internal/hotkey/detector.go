package hotkey

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"hotmic/internal/domain"
)

// KeyEvent is an immutable key notification handed over from the OS listener.
type KeyEvent struct {
	Key  string
	Down bool
}

// Validate rejects events whose key has no canonical name.
func (ev KeyEvent) Validate() error {
	if Normalize(ev.Key) == "" {
		return fmt.Errorf("%w: %q", domain.ErrKeyEvent, ev.Key)
	}
	return nil
}

// Detector tracks pressed keys and raises edge-triggered toggle and quit
// signals. The pressed set is only touched from the goroutine running Run
// (or, in tests, the caller of KeyDown/KeyUp); combinations and the
// listening flag may be changed from anywhere.
type Detector struct {
	toggle    atomic.Pointer[Combination]
	quit      atomic.Pointer[Combination]
	listening atomic.Bool

	pressed       map[string]struct{}
	toggleMatched bool
	quitMatched   bool
}

func NewDetector(toggle Combination, quit Combination) *Detector {
	d := &Detector{pressed: make(map[string]struct{})}
	d.toggle.Store(&toggle)
	d.quit.Store(&quit)
	d.listening.Store(true)
	return d
}

// Reconfigure swaps the toggle combination. It applies from the next key event.
func (d *Detector) Reconfigure(toggle Combination) {
	d.toggle.Store(&toggle)
	slog.Info("toggle hotkey reconfigured", "hotkey", toggle.String())
}

// Toggle returns the active toggle combination.
func (d *Detector) Toggle() Combination {
	return *d.toggle.Load()
}

// SetListening pauses or resumes detection. Pausing forgets pressed keys.
func (d *Detector) SetListening(on bool) {
	d.listening.Store(on)
}

// Reset clears the pressed set and match state.
func (d *Detector) Reset() {
	clear(d.pressed)
	d.toggleMatched = false
	d.quitMatched = false
}

// KeyDown records a press and returns a signal when a combination becomes
// exactly satisfied. Presses of keys already down never retrigger.
func (d *Detector) KeyDown(key string) (domain.Signal, bool) {
	if !d.ready() {
		return 0, false
	}
	key = Normalize(key)
	if key == "" {
		return 0, false
	}
	if _, down := d.pressed[key]; down {
		return 0, false
	}
	d.pressed[key] = struct{}{}
	return d.evaluate()
}

// KeyUp records a release. Releases never raise signals.
func (d *Detector) KeyUp(key string) {
	if !d.ready() {
		return
	}
	key = Normalize(key)
	if key == "" {
		return
	}
	if _, down := d.pressed[key]; !down {
		return
	}
	delete(d.pressed, key)
	d.evaluate()
}

// Pressed returns the number of keys currently held.
func (d *Detector) Pressed() int {
	return len(d.pressed)
}

func (d *Detector) ready() bool {
	if d.listening.Load() {
		return true
	}
	if len(d.pressed) > 0 {
		d.Reset()
	}
	return false
}

func (d *Detector) evaluate() (domain.Signal, bool) {
	toggle := d.toggle.Load()
	quit := d.quit.Load()

	quitNow := quit.Matches(d.pressed)
	quitEdge := quitNow && !d.quitMatched
	d.quitMatched = quitNow

	toggleNow := toggle.Matches(d.pressed)
	toggleEdge := toggleNow && !d.toggleMatched
	d.toggleMatched = toggleNow

	switch {
	case quitEdge:
		return domain.SignalQuit, true
	case toggleEdge:
		return domain.SignalToggle, true
	default:
		return 0, false
	}
}

// Run consumes key events until ctx is done or keys is closed, forwarding
// signals to out. It owns the pressed set for its whole lifetime.
func (d *Detector) Run(ctx context.Context, keys <-chan KeyEvent, out chan<- domain.Signal) {
	defer d.Reset()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-keys:
			if !ok {
				return
			}
			if err := ev.Validate(); err != nil {
				slog.Debug("ignoring key event", "error", err)
				continue
			}
			if !ev.Down {
				d.KeyUp(ev.Key)
				continue
			}
			signal, fired := d.KeyDown(ev.Key)
			if !fired {
				continue
			}
			slog.Debug("hotkey signal", "signal", signal.String())
			select {
			case out <- signal:
			case <-ctx.Done():
				return
			}
		}
	}
}
