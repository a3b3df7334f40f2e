package recognition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// result is the JSON shape returned by recognizers. Either field may be absent.
type result struct {
	Text    string `json:"text"`
	Partial string `json:"partial"`
}

// parseResult decodes an engine result. Empty payloads and "{}" carry no text.
func parseResult(raw []byte) (result, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return result{}, nil
	}
	var r result
	if err := json.Unmarshal(raw, &r); err != nil {
		return result{}, fmt.Errorf("decode result: %w", err)
	}
	r.Text = strings.TrimSpace(r.Text)
	r.Partial = strings.TrimSpace(r.Partial)
	return r, nil
}
