// Package rules normalizes transcribed text with user-defined substitution
// rules, fixing the technical terms speech models routinely mangle
// ("big o" -> "Big-O", "jay son" -> "JSON") before classification and
// broadcast.
package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

const defaultIterationLimit = 30

// rule is one compiled substitution. Literal rules replace every match;
// sed-style rules without the g flag replace the first match only.
type rule struct {
	re          *regexp.Regexp
	replacement string
	firstOnly   bool
}

// Normalizer applies deterministic substitutions loaded from a rules file.
// An empty rule set passes text through unchanged.
type Normalizer struct {
	rules []rule
	limit int
}

// NewNormalizer loads and compiles the rules file. A blank path or a
// missing file yields a pass-through normalizer; a malformed file is an
// error.
func NewNormalizer(path string, iterationLimit int) (*Normalizer, error) {
	if iterationLimit <= 0 {
		iterationLimit = defaultIterationLimit
	}
	if strings.TrimSpace(path) == "" {
		return &Normalizer{limit: iterationLimit}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Normalizer{limit: iterationLimit}, nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	rules, err := parseRules(string(contents))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	return &Normalizer{rules: rules, limit: iterationLimit}, nil
}

// Normalize rewrites text until no rule changes it. The iteration limit
// bounds mutually-feeding rules.
func (n *Normalizer) Normalize(text string) string {
	if len(n.rules) == 0 {
		return text
	}

	result := text
	for i := 0; i < n.limit; i++ {
		changed := false
		for _, r := range n.rules {
			next, applied := r.apply(result)
			if applied {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result
}

func (r rule) apply(input string) (string, bool) {
	if r.firstOnly {
		loc := r.re.FindStringIndex(input)
		if loc == nil {
			return input, false
		}
		segment := input[loc[0]:loc[1]]
		output := input[:loc[0]] + r.re.ReplaceAllString(segment, r.replacement) + input[loc[1]:]
		return output, output != input
	}

	output := r.re.ReplaceAllString(input, r.replacement)
	return output, output != input
}

func parseRules(contents string) ([]rule, error) {
	lines := strings.Split(contents, "\n")
	rules := make([]rule, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var (
			parsed rule
			err    error
		)
		switch {
		case looksLikeRegexRule(line):
			parsed, err = parseRegexRule(line)
		case strings.Contains(line, "=>"):
			parsed, err = parseLiteralRule(line)
		default:
			err = errors.New("unsupported rule format")
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		rules = append(rules, parsed)
	}
	return rules, nil
}

// parseLiteralRule compiles "from => to" into a case-insensitive
// replacement of every occurrence.
func parseLiteralRule(line string) (rule, error) {
	parts := strings.SplitN(line, "=>", 2)
	from := strings.TrimSpace(parts[0])
	to := strings.TrimSpace(parts[1])
	if from == "" {
		return rule{}, errors.New("substitution source cannot be empty")
	}

	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return rule{}, fmt.Errorf("invalid substitution source: %w", err)
	}
	return rule{re: re, replacement: to}, nil
}

// parseRegexRule compiles a sed-style "s/pattern/replacement/flags" line.
// Matching is case-insensitive by default; supported flags are g (replace
// all matches), m and s.
func parseRegexRule(line string) (rule, error) {
	delim := line[1]

	pattern, pos, err := parseDelimited(line, 2, delim)
	if err != nil {
		return rule{}, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := parseDelimited(line, pos, delim)
	if err != nil {
		return rule{}, fmt.Errorf("invalid regex replacement: %w", err)
	}

	global := false
	modifiers := "i"
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i', ' ':
		case 'g':
			global = true
		case 'm':
			modifiers += "m"
		case 's':
			modifiers += "s"
		default:
			return rule{}, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + modifiers + ")" + pattern)
	if err != nil {
		return rule{}, fmt.Errorf("invalid regex: %w", err)
	}
	return rule{re: re, replacement: replacement, firstOnly: !global}, nil
}

// parseDelimited scans up to the next unescaped delimiter, keeping
// backslash escapes intact for the regex compiler.
func parseDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var builder strings.Builder
	escaped := false
	for index := start; index < len(line); index++ {
		char := line[index]
		if escaped {
			builder.WriteByte(char)
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			builder.WriteByte(char)
			continue
		}
		if char == delim {
			return builder.String(), index + 1, nil
		}
		builder.WriteByte(char)
	}
	return "", 0, errors.New("unterminated expression")
}

func isAlphaNumericOrSpace(char byte) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == ' ' || char == '\t'
}

// looksLikeRegexRule distinguishes "s/.../.../" from literal rules that
// merely start with the letter s.
func looksLikeRegexRule(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isAlphaNumericOrSpace(line[1])
}
