package clipboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/atotto/clipboard"
)

var ErrUnsupported = errors.New("no clipboard utility available")

// System writes to the OS clipboard through atotto/clipboard.
type System struct {
	write       func(string) error
	unsupported bool
}

func NewSystem() *System {
	return &System{write: clipboard.WriteAll, unsupported: clipboard.Unsupported}
}

// SetText writes text, giving up when ctx is done. The helper process
// started by the clipboard library may outlive a cancelled call.
func (s *System) SetText(ctx context.Context, text string) error {
	if s.unsupported {
		return ErrUnsupported
	}

	done := make(chan error, 1)
	go func() {
		done <- s.write(text)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("clipboard write failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
