// Package rules rewrites finished transcripts before they reach the clipboard.
//
// A rules file holds one rule per line:
//
//	pull request => PR
//	s/\bgo lang\b/Go/g
//
// Literal rules replace whole words case-insensitively. Regex rules use sed
// syntax with any non-alphanumeric delimiter and the flags i (case
// insensitive, the default), c (case sensitive) and g (all matches).
// Blank lines and lines starting with # are skipped.
package rules

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// ErrUnstable is returned when rules keep rewriting each other past the iteration limit.
var ErrUnstable = errors.New("rules did not converge")

const defaultIterationLimit = 30

var spaces = regexp.MustCompile(`\s+`)

type rule interface {
	apply(text string) string
}

// Engine applies an ordered rule list until the text stops changing.
type Engine struct {
	rules []rule
	limit int
}

// Load reads a rules file. An empty path or a missing file yields an engine
// that returns text unchanged.
func Load(path string, iterationLimit int) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return newEngine(nil, iterationLimit), nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("rules file not found, transcripts are copied unchanged", "path", path)
			return newEngine(nil, iterationLimit), nil
		}
		return nil, fmt.Errorf("failed to open rules file %q: %w", path, err)
	}
	defer f.Close()

	engine, err := Parse(f, iterationLimit)
	if err != nil {
		return nil, fmt.Errorf("rules file %q: %w", path, err)
	}
	slog.Info("rules loaded", "path", path, "count", len(engine.rules))
	return engine, nil
}

// Parse compiles rules from r.
func Parse(r io.Reader, iterationLimit int) (*Engine, error) {
	var compiled []rule
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		next, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		compiled = append(compiled, next)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return newEngine(compiled, iterationLimit), nil
}

func newEngine(compiled []rule, iterationLimit int) *Engine {
	if iterationLimit <= 0 {
		iterationLimit = defaultIterationLimit
	}
	return &Engine{rules: compiled, limit: iterationLimit}
}

// Len returns the number of compiled rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Apply runs every rule in order, repeating the pass until nothing changes.
// Whitespace is collapsed after each pass. On ErrUnstable the last text is
// returned alongside the error.
func (e *Engine) Apply(text string) (string, error) {
	if len(e.rules) == 0 {
		return text, nil
	}
	current := text
	for pass := 0; pass < e.limit; pass++ {
		next := current
		for _, r := range e.rules {
			next = r.apply(next)
		}
		next = strings.TrimSpace(spaces.ReplaceAllString(next, " "))
		if next == current {
			return current, nil
		}
		current = next
	}
	return current, fmt.Errorf("%w after %d passes", ErrUnstable, e.limit)
}

func parseLine(line string) (rule, error) {
	// "s-class => S class" looks like s-delimited until the delimiter fails to close.
	if isRegexRule(line) && (!strings.Contains(line, "=>") || closesDelimited(line)) {
		return parseRegex(line)
	}
	if strings.Contains(line, "=>") {
		return parseLiteral(line)
	}
	return nil, fmt.Errorf("unsupported rule %q", line)
}
