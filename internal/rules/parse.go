package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

type wordRule struct {
	re          *regexp.Regexp
	replacement string
}

func parseLiteral(line string) (rule, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("literal rule needs a phrase before =>")
	}

	pattern := regexp.QuoteMeta(from)
	words := strings.Fields(from)
	if startsWithWordChar(words[0]) {
		pattern = `\b` + pattern
	}
	if endsWithWordChar(words[len(words)-1]) {
		pattern += `\b`
	}
	// any run of whitespace between words
	pattern = strings.Join(strings.Fields(pattern), `\s+`)

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid phrase %q: %w", from, err)
	}
	return wordRule{re: re, replacement: to}, nil
}

func (r wordRule) apply(text string) string {
	return r.re.ReplaceAllLiteralString(text, r.replacement)
}

type regexRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func parseRegex(line string) (rule, error) {
	delim := rune(line[1])
	fields, err := splitDelimited(line[2:], delim)
	if err != nil {
		return nil, err
	}
	pattern, replacement, flags := fields[0], fields[1], strings.TrimSpace(fields[2])

	ignoreCase, global := true, false
	for _, flag := range flags {
		switch flag {
		case 'i':
			ignoreCase = true
		case 'c':
			ignoreCase = false
		case 'g':
			global = true
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}
	if ignoreCase {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return regexRule{re: re, replacement: replacement, global: global}, nil
}

func (r regexRule) apply(text string) string {
	if r.global {
		return r.re.ReplaceAllString(text, r.replacement)
	}
	match := r.re.FindStringSubmatchIndex(text)
	if match == nil {
		return text
	}
	expanded := r.re.ExpandString(nil, r.replacement, text, match)
	return text[:match[0]] + string(expanded) + text[match[1]:]
}

// splitDelimited splits "pat/rep/flags" on unescaped delimiters. Escaped
// delimiters lose their backslash; other escapes are kept for the regex engine.
func splitDelimited(body string, delim rune) ([3]string, error) {
	var out [3]string
	var b strings.Builder
	field := 0
	escaped := false
	for _, r := range body {
		switch {
		case escaped:
			if r != delim {
				b.WriteRune('\\')
			}
			b.WriteRune(r)
			escaped = false
		case r == '\\' && field < 2:
			escaped = true
		case r == delim && field < 2:
			out[field] = b.String()
			b.Reset()
			field++
		default:
			b.WriteRune(r)
		}
	}
	if field < 2 {
		return out, errors.New("unterminated regex rule")
	}
	out[2] = b.String()
	return out, nil
}

func closesDelimited(line string) bool {
	_, err := splitDelimited(line[2:], rune(line[1]))
	return err == nil
}

func isRegexRule(line string) bool {
	if len(line) < 4 || line[0] != 's' {
		return false
	}
	d := rune(line[1])
	return d < unicode.MaxASCII && !unicode.IsLetter(d) && !unicode.IsDigit(d) && !unicode.IsSpace(d)
}

func startsWithWordChar(s string) bool {
	r := []rune(s)
	return len(r) > 0 && isWordRune(r[0])
}

func endsWithWordChar(s string) bool {
	r := []rune(s)
	return len(r) > 0 && isWordRune(r[len(r)-1])
}

func isWordRune(r rune) bool {
	return r == '_' || (r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)))
}
