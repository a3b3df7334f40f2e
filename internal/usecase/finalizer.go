package usecase

import (
	"context"
	"log/slog"
	"strings"

	"hotmic/internal/domain"
	"hotmic/internal/metrics"
	"hotmic/internal/ports"
)

type transcriptFinalizer struct {
	rules     ports.RulesEngine
	clipboard ports.Clipboard
}

func newTranscriptFinalizer(rules ports.RulesEngine, clipboard ports.Clipboard) transcriptFinalizer {
	return transcriptFinalizer{rules: rules, clipboard: clipboard}
}

// Finalize rewrites raw with the rules engine and copies the result. A rules
// failure falls back to the raw transcript; a clipboard failure is reported
// through Copied and the returned outcome.
func (f transcriptFinalizer) Finalize(ctx context.Context, sessionID string, raw string) (domain.StopResult, string) {
	result := domain.StopResult{SessionID: sessionID, RawTranscript: raw, FinalTranscript: raw}

	if f.rules != nil {
		transformed, err := f.rules.Apply(raw)
		switch {
		case err != nil:
			slog.Warn("transcript rules failed, copying raw transcript", "session_id", sessionID, "error", err)
		case strings.TrimSpace(transformed) == "":
			slog.Warn("transcript rules removed all text, copying raw transcript", "session_id", sessionID)
		default:
			result.FinalTranscript = transformed
		}
	}

	if err := f.clipboard.SetText(ctx, result.FinalTranscript); err != nil {
		slog.Error("clipboard write failed", "session_id", sessionID, "error", err)
		return result, metrics.OutcomeClipboardFailed
	}
	result.Copied = true
	return result, metrics.OutcomeCopied
}
