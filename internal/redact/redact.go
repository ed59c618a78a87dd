package redact

import (
	"github.com/raphaelgruber/opsight-go/internal/models"
)

// maxPasses bounds the fixed-point loop. A third pass that would still
// find new matches gives up rather than looping; strict-mode validation
// exists to flag that residue.
const maxPasses = 3

// Config controls redaction behavior.
type Config struct {
	// MultiPass re-runs the pattern set against already-redacted output
	// until a pass finds nothing new, up to maxPasses total.
	MultiPass bool
	// StrictMode runs the broader validator set against the final
	// output and reports warnings for anything that still looks
	// sensitive.
	StrictMode bool
}

// DefaultConfig enables both multi-pass and strict validation.
func DefaultConfig() Config {
	return Config{MultiPass: true, StrictMode: true}
}

// Redact applies the pattern table to text and returns the redacted
// output with exact per-category replacement counts. It is a pure
// function of (text, config): no I/O, no hidden state, and it never
// fails on malformed input.
func Redact(text string, cfg Config) models.RedactionResult {
	result := models.RedactionResult{
		RedactedText:     text,
		Replacements:     make(map[string]int),
		ValidationPassed: true,
	}

	passes := 1
	if cfg.MultiPass {
		passes = maxPasses
	}

	for pass := 0; pass < passes; pass++ {
		redacted, counts := runPass(result.RedactedText)
		result.RedactedText = redacted
		result.PassesExecuted = pass + 1

		found := 0
		for category, n := range counts {
			result.Replacements[category] += n
			found += n
		}
		if found == 0 {
			break
		}
	}

	if cfg.StrictMode {
		result.ValidationWarnings = validate(result.RedactedText)
		result.ValidationPassed = len(result.ValidationWarnings) == 0
	}

	return result
}

// runPass applies every pattern once, in table order, against the
// running text. Returns the new text and the per-category match counts
// for this pass only.
func runPass(text string) (string, map[string]int) {
	counts := make(map[string]int)
	for _, p := range patterns {
		matches := p.Matcher.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		counts[string(p.Category)] += len(matches)
		text = p.Matcher.ReplaceAllString(text, p.Placeholder)
	}
	return text, counts
}

// validate runs the over-matching detector set against redacted text.
// Each distinct validator contributes at most one warning.
func validate(text string) []string {
	var warnings []string
	for _, v := range validators {
		if v.Matcher.MatchString(text) {
			warnings = append(warnings, v.Warning)
		}
	}
	return warnings
}
