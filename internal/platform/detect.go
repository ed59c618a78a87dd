package platform

import (
	"strings"

	"github.com/raphaelgruber/opsight-go/internal/models"
)

// Detect scores content and filename against every registered
// signature and returns the best match above its threshold. It is a
// pure function and never fails; no match is a valid outcome with
// platform nil and confidence 0.
//
// Ties are broken by declaration order: the earliest-registered
// platform wins, deterministically.
func Detect(content string, filename string) models.PlatformDetectionResult {
	var (
		best         *Signature
		bestScore    float64
		bestContent  float64
		bestFilename float64
	)

	for i := range signatures {
		sig := &signatures[i]
		contentScore := scoreContent(sig, content)
		filenameScore := scoreFilename(sig, filename)
		total := contentScore + filenameScore

		// Strict > keeps the earliest signature on equal scores.
		if total > bestScore {
			best = sig
			bestScore = total
			bestContent = contentScore
			bestFilename = filenameScore
		}
	}

	if best == nil || bestScore < best.Threshold {
		return models.PlatformDetectionResult{
			Platform:        nil,
			Confidence:      0,
			DetectionMethod: models.DetectionByContent,
		}
	}

	name := best.Name
	result := models.PlatformDetectionResult{
		Platform:          &name,
		Confidence:        normalize(bestScore, best.maxScore),
		DetectionMethod:   method(bestContent, bestFilename),
		ExtractedEntities: extractEntities(best, content),
	}
	return result
}

func scoreContent(sig *Signature, content string) float64 {
	var score float64
	for _, ind := range sig.Indicators {
		if ind.Matcher != nil {
			if ind.Matcher.MatchString(content) {
				score += ind.Weight
			}
		} else if strings.Contains(content, ind.Literal) {
			score += ind.Weight
		}
	}
	return score
}

func scoreFilename(sig *Signature, filename string) float64 {
	if filename == "" {
		return 0
	}
	for _, fp := range sig.FilenamePatterns {
		if fp.MatchString(filename) {
			return sig.FilenameBonus
		}
	}
	return 0
}

func normalize(score, max float64) float64 {
	if max <= 0 {
		return 0
	}
	c := score / max
	if c > 1 {
		c = 1
	}
	return c
}

func method(contentScore, filenameScore float64) models.DetectionMethod {
	switch {
	case contentScore > 0 && filenameScore > 0:
		return models.DetectionCombined
	case filenameScore > 0:
		return models.DetectionByFilename
	default:
		return models.DetectionByContent
	}
}

// extractEntities collects named captures from the winning signature's
// regex indicators. The first match per capture name wins.
func extractEntities(sig *Signature, content string) []models.ExtractedEntity {
	var entities []models.ExtractedEntity
	seen := make(map[string]bool)

	for _, ind := range sig.Indicators {
		if ind.Matcher == nil {
			continue
		}
		names := ind.Matcher.SubexpNames()
		match := ind.Matcher.FindStringSubmatch(content)
		if match == nil {
			continue
		}
		for i, name := range names {
			if name == "" || i >= len(match) || match[i] == "" || seen[name] {
				continue
			}
			seen[name] = true
			entities = append(entities, models.ExtractedEntity{Key: name, Value: match[i]})
		}
	}
	return entities
}
