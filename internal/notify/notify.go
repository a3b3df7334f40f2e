package notify

import (
	"log/slog"
	"unicode/utf8"

	"github.com/gen2brain/beeep"
)

const maxMessageRunes = 120

// Desktop shows desktop notifications through beeep.
type Desktop struct {
	enabled bool
	send    func(title, message, icon string) error
}

func NewDesktop(enabled bool) *Desktop {
	return &Desktop{enabled: enabled, send: func(title, message, icon string) error {
		return beeep.Notify(title, message, icon)
	}}
}

// Notify is a no-op when disabled. Long messages are shortened.
func (d *Desktop) Notify(title string, message string) error {
	if !d.enabled {
		return nil
	}
	if err := d.send(title, shorten(message), ""); err != nil {
		slog.Debug("desktop notification failed", "error", err)
		return err
	}
	return nil
}

func shorten(message string) string {
	if utf8.RuneCountInString(message) <= maxMessageRunes {
		return message
	}
	runes := []rune(message)
	return string(runes[:maxMessageRunes-1]) + "…"
}
