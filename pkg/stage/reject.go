package stage

import (
	"errors"
	"fmt"
	"strings"
)

// RejectRule inspects stage output and returns a non-nil error when the
// model signalled that it refuses the input.
type RejectRule func(output string) error

// Rule names accepted by RuleByName.
const (
	RuleNone            = "none"
	RuleErrorMarker     = "error_marker"
	RuleErrorSubstring  = "error_substring"
	RuleVulnerabilities = "vulnerabilities"
)

// RejectNone accepts every output.
func RejectNone(string) error { return nil }

// RejectErrorMarker rejects output with a line such as "Error: ..." or
// "ERROR - ...", which is how verification prompts ask the model to refuse.
// Identifiers like errorBars or error(...) do not count.
func RejectErrorMarker(output string) error {
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if isErrorMarker(trimmed) {
			return errors.New(trimmed)
		}
	}
	return nil
}

func isErrorMarker(line string) bool {
	if len(line) < 5 || !strings.EqualFold(line[:5], "error") {
		return false
	}
	rest := line[5:]
	if rest == "" {
		return true
	}
	switch rest[0] {
	case ':', '-', '!':
		return true
	case ' ':
		return !strings.HasPrefix(strings.TrimSpace(rest), "=")
	}
	return false
}

// RejectErrorSubstring rejects output mentioning "error" anywhere. It is
// coarse and flags legitimate code such as console.error.
func RejectErrorSubstring(output string) error {
	return rejectMention("error")(output)
}

// RejectVulnerabilities rejects sanitizer output that reports vulnerabilities
// instead of returning code.
func RejectVulnerabilities(output string) error {
	return rejectMention("vulnerabilities")(output)
}

func rejectMention(word string) RejectRule {
	return func(output string) error {
		lower := strings.ToLower(output)
		idx := strings.Index(lower, word)
		if idx < 0 {
			return nil
		}
		return fmt.Errorf("output mentions %q: %s", word, excerpt(output, idx))
	}
}

// AnyOf rejects when any of rules rejects.
func AnyOf(rules ...RejectRule) RejectRule {
	return func(output string) error {
		for _, rule := range rules {
			if rule == nil {
				continue
			}
			if err := rule(output); err != nil {
				return err
			}
		}
		return nil
	}
}

// RuleByName resolves a comma-separated list of rule names.
func RuleByName(names string) (RejectRule, error) {
	var rules []RejectRule
	for _, name := range strings.Split(names, ",") {
		switch strings.TrimSpace(name) {
		case "", RuleNone:
		case RuleErrorMarker:
			rules = append(rules, RejectErrorMarker)
		case RuleErrorSubstring:
			rules = append(rules, RejectErrorSubstring)
		case RuleVulnerabilities:
			rules = append(rules, RejectVulnerabilities)
		default:
			return nil, fmt.Errorf("unknown reject rule %q", name)
		}
	}
	if len(rules) == 0 {
		return RejectNone, nil
	}
	if len(rules) == 1 {
		return rules[0], nil
	}
	return AnyOf(rules...), nil
}

func excerpt(s string, idx int) string {
	if idx > len(s) {
		idx = len(s)
	}
	start := strings.LastIndexByte(s[:idx], '\n') + 1
	end := strings.IndexByte(s[idx:], '\n')
	if end < 0 {
		end = len(s)
	} else {
		end += idx
	}
	line := strings.TrimSpace(s[start:end])
	if len(line) > 160 {
		line = line[:160] + "..."
	}
	return line
}
