// Package redflag filters sampled outputs before they are tallied by the
// voting engine. Evaluation is pure: rules in, reason codes out.
package redflag

import (
	"encoding/json"
	"regexp"
	"strings"
)

// DefaultMaxChars is applied only when no caller rule constrains length.
const DefaultMaxChars = 4000

// Rule is one screening rule. Zero fields are inactive; a caller rule that
// sets a dimension overrides the built-in default for that dimension.
type Rule struct {
	// MaxChars rejects outputs longer than this many characters.
	MaxChars int `json:"max_chars,omitempty"`
	// MaxTokens rejects outputs with more whitespace-delimited tokens.
	MaxTokens int `json:"max_tokens,omitempty"`
	// RequiredRegex rejects outputs that do not match this pattern.
	RequiredRegex string `json:"required_regex,omitempty"`
	// RequireJSON rejects outputs that do not parse as JSON.
	RequireJSON bool `json:"require_json,omitempty"`
}

// Reason codes returned by Evaluate.
const (
	ReasonTooLong           = "too-long"
	ReasonTooManyTokens     = "too-many-tokens"
	ReasonMissingPattern    = "missing-required-pattern"
	ReasonNotJSON           = "not-json"
	ReasonShellInstructions = "looks-like-shell-instructions"
	ReasonListInstructions  = "looks-like-instruction-list"
	ReasonTimeout           = "timeout"
	ReasonProviderError     = "provider-error"
	ReasonEmpty             = "empty-output"
)

// shellLeaders are command words that mark an output as shell instructions
// when a step expected file content.
var shellLeaders = map[string]bool{
	"mkdir": true, "touch": true, "cd": true, "ls": true, "git": true,
	"rm": true, "cp": true, "mv": true, "npm": true, "npx": true,
	"yarn": true, "pip": true, "cargo": true, "chmod": true,
}

// instructionLine matches ordered-list "instructions" like
// "1. create the file" that models emit instead of content.
var instructionLine = regexp.MustCompile(`(?mi)^\s*\d+\.\s+(create|add|open|install|run|start|build|make|write)\b`)

// Evaluate applies the ordered rules plus the built-in rejections to output
// and returns every violated reason code. An empty result means accept.
// expectContent enables the shell/instruction heuristics, used when the step
// expects file content rather than structured actions.
func Evaluate(output string, rules []Rule, expectContent bool) []string {
	var reasons []string

	if strings.TrimSpace(output) == "" {
		return []string{ReasonEmpty}
	}

	lengthRuled := false
	for _, r := range rules {
		if r.MaxChars > 0 {
			lengthRuled = true
			if len(output) > r.MaxChars {
				reasons = append(reasons, ReasonTooLong)
			}
		}
		if r.MaxTokens > 0 {
			if len(strings.Fields(output)) > r.MaxTokens {
				reasons = append(reasons, ReasonTooManyTokens)
			}
		}
		if r.RequiredRegex != "" {
			re, err := regexp.Compile(r.RequiredRegex)
			if err != nil || !re.MatchString(output) {
				reasons = append(reasons, ReasonMissingPattern)
			}
		}
		if r.RequireJSON {
			if !json.Valid([]byte(strings.TrimSpace(output))) {
				reasons = append(reasons, ReasonNotJSON)
			}
		}
	}

	if !lengthRuled && len(output) > DefaultMaxChars {
		reasons = append(reasons, ReasonTooLong)
	}

	if expectContent {
		if looksLikeShell(output) {
			reasons = append(reasons, ReasonShellInstructions)
		}
		if instructionLine.MatchString(output) {
			reasons = append(reasons, ReasonListInstructions)
		}
	}

	return reasons
}

// looksLikeShell reports whether the output opens with shell command words
// on its leading lines.
func looksLikeShell(output string) bool {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	checked := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "$ "))
		if len(fields) == 0 {
			continue
		}
		if !shellLeaders[fields[0]] && fields[0] != "sudo" {
			return false
		}
		checked++
		if checked >= 2 {
			return true
		}
	}
	// A single-line output that is one shell command still counts.
	return checked == 1 && len(lines) == 1
}
