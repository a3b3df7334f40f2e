package hotkey

import (
	"context"
	"log/slog"
	"unicode"

	hook "github.com/robotn/gohook"
)

const charUndefined = 0xFFFF

// HookListener forwards global keyboard events from gohook as KeyEvents.
type HookListener struct{}

func NewHookListener() *HookListener {
	return &HookListener{}
}

// Listen blocks until ctx is done. Presses that cannot be forwarded
// immediately are dropped so the OS hook thread never stalls; releases are
// always delivered so no key stays stuck in the detector's pressed set.
func (l *HookListener) Listen(ctx context.Context, out chan<- KeyEvent) {
	events := hook.Start()
	defer hook.End()

	slog.Info("global key listener started")
	defer slog.Info("global key listener stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			key, valid := translate(ev)
			if !valid {
				continue
			}
			if !forward(ctx, out, key) {
				return
			}
		}
	}
}

// forward hands key to out and reports false once ctx is done.
func forward(ctx context.Context, out chan<- KeyEvent, key KeyEvent) bool {
	if key.Down {
		select {
		case out <- key:
		default:
			slog.Debug("key press dropped, detector busy", "key", key.Key)
		}
		return true
	}
	select {
	case out <- key:
		return true
	case <-ctx.Done():
		return false
	}
}

// translate maps a gohook event to a KeyEvent. Mouse and unnamed key
// events are reported as invalid.
func translate(ev hook.Event) (KeyEvent, bool) {
	var down bool
	switch ev.Kind {
	case hook.KeyHold, hook.KeyDown:
		down = true
	case hook.KeyUp:
		down = false
	default:
		return KeyEvent{}, false
	}

	name := Normalize(hook.RawcodetoKeychar(ev.Rawcode))
	if name == "" && ev.Keychar != 0 && ev.Keychar != charUndefined && unicode.IsPrint(ev.Keychar) {
		name = Normalize(string(unicode.ToLower(ev.Keychar)))
	}
	if name == "" {
		return KeyEvent{}, false
	}
	return KeyEvent{Key: name, Down: down}, true
}
