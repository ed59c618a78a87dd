// Package platform scores free text and filenames against per-platform
// signatures to classify the origin of an operational artifact.
package platform

import (
	_ "embed"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed signatures.yaml
var signaturesYAML []byte

// signatureFile mirrors the YAML registry layout.
type signatureFile struct {
	Platforms []signatureSpec `yaml:"platforms"`
}

type signatureSpec struct {
	Name             string          `yaml:"name"`
	Threshold        float64         `yaml:"threshold"`
	FilenameBonus    float64         `yaml:"filename_bonus"`
	Indicators       []indicatorSpec `yaml:"indicators"`
	FilenamePatterns []string        `yaml:"filename_patterns"`
}

type indicatorSpec struct {
	Pattern string  `yaml:"pattern"`
	Regex   string  `yaml:"regex"`
	Weight  float64 `yaml:"weight"`
}

// Indicator is one weighted textual marker. Exactly one of Literal or
// Matcher is set; regex indicators may carry named capture groups that
// become extracted entities.
type Indicator struct {
	Literal string
	Matcher *regexp.Regexp
	Weight  float64
}

// Signature is the compiled detection profile for a single platform.
type Signature struct {
	Name             string
	Threshold        float64
	FilenameBonus    float64
	Indicators       []Indicator
	FilenamePatterns []*regexp.Regexp
	maxScore         float64
}

// loadSignatures compiles the embedded YAML registry into typed
// signatures. Called once at package init; a malformed registry is a
// programming error.
func loadSignatures() []Signature {
	var file signatureFile
	if err := yaml.Unmarshal(signaturesYAML, &file); err != nil {
		panic(fmt.Sprintf("platform: invalid signature registry: %v", err))
	}

	sigs := make([]Signature, 0, len(file.Platforms))
	for _, spec := range file.Platforms {
		sig := Signature{
			Name:          spec.Name,
			Threshold:     spec.Threshold,
			FilenameBonus: spec.FilenameBonus,
		}
		for _, ind := range spec.Indicators {
			compiled := Indicator{Weight: ind.Weight}
			if ind.Regex != "" {
				compiled.Matcher = regexp.MustCompile(ind.Regex)
			} else {
				compiled.Literal = ind.Pattern
			}
			sig.Indicators = append(sig.Indicators, compiled)
			sig.maxScore += ind.Weight
		}
		for _, fp := range spec.FilenamePatterns {
			sig.FilenamePatterns = append(sig.FilenamePatterns, regexp.MustCompile(fp))
		}
		if len(sig.FilenamePatterns) > 0 {
			sig.maxScore += sig.FilenameBonus
		}
		sigs = append(sigs, sig)
	}
	return sigs
}

var signatures = loadSignatures()

// Registered returns the names of all registered platforms in
// declaration order.
func Registered() []string {
	names := make([]string, len(signatures))
	for i, s := range signatures {
		names[i] = s.Name
	}
	return names
}
