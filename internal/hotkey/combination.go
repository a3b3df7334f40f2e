package hotkey

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

var aliases = map[string]string{
	"control":  "ctrl",
	"ctl":      "ctrl",
	"lctrl":    "ctrl",
	"rctrl":    "ctrl",
	"lshift":   "shift",
	"rshift":   "shift",
	"option":   "alt",
	"opt":      "alt",
	"lalt":     "alt",
	"ralt":     "alt",
	"altgr":    "alt",
	"command":  "cmd",
	"lcmd":     "cmd",
	"rcmd":     "cmd",
	"super":    "cmd",
	"win":      "cmd",
	"meta":     "cmd",
	"escape":   "esc",
	"return":   "enter",
	"spacebar": "space",
	" ":        "space",
}

// Normalize maps a key name or character to its canonical lowercase form.
// It returns "" for identifiers that cannot name a key.
func Normalize(key string) string {
	if key == " " {
		return "space"
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return ""
	}
	if canonical, ok := aliases[key]; ok {
		return canonical
	}
	if utf8.RuneCountInString(key) == 1 {
		r, _ := utf8.DecodeRuneInString(key)
		if !unicode.IsPrint(r) {
			return ""
		}
		return key
	}
	for _, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return ""
		}
	}
	return key
}

// Combination is an exact set of normalized keys.
type Combination struct {
	keys map[string]struct{}
}

// ParseCombination parses "ctrl+shift+s" style specs.
func ParseCombination(spec string) (Combination, error) {
	parts := strings.Split(spec, "+")
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return Combination{}, fmt.Errorf("invalid hotkey %q: empty key", spec)
		}
		key := Normalize(part)
		if key == "" {
			return Combination{}, fmt.Errorf("invalid hotkey %q: unknown key %q", spec, strings.TrimSpace(part))
		}
		keys = append(keys, key)
	}
	return NewCombination(keys...), nil
}

// NewCombination builds a combination from already normalized keys.
func NewCombination(keys ...string) Combination {
	c := Combination{keys: make(map[string]struct{}, len(keys))}
	for _, key := range keys {
		if key != "" {
			c.keys[key] = struct{}{}
		}
	}
	return c
}

func (c Combination) Empty() bool {
	return len(c.keys) == 0
}

// Matches reports whether pressed is exactly this combination.
func (c Combination) Matches(pressed map[string]struct{}) bool {
	if len(c.keys) == 0 || len(pressed) != len(c.keys) {
		return false
	}
	for key := range c.keys {
		if _, ok := pressed[key]; !ok {
			return false
		}
	}
	return true
}

// Equal reports whether both combinations hold the same keys.
func (c Combination) Equal(other Combination) bool {
	return c.Matches(other.keys)
}

// Keys returns the keys in sorted order.
func (c Combination) Keys() []string {
	out := make([]string, 0, len(c.keys))
	for key := range c.keys {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func (c Combination) String() string {
	return strings.Join(c.Keys(), "+")
}
