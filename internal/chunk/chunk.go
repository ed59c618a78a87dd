// Package chunk splits artifact text into overlapping pieces sized for
// embedding. Boundaries prefer blank lines, then line breaks, then
// sentence ends, so a chunk rarely cuts a log record in half.
package chunk

import (
	"strings"
	"unicode"
)

// Chunk is one embeddable piece of a larger text.
type Chunk struct {
	Content string
	Index   int
}

// Config defines chunking parameters.
type Config struct {
	// Threshold: only chunk if content exceeds this length.
	Threshold int
	// TargetSize: ideal chunk size.
	TargetSize int
	// MinSize: minimum chunk size, smaller tails merge backward.
	MinSize int
	// MaxSize: maximum chunk size, larger blocks split further.
	MaxSize int
	// Overlap: character overlap carried from the previous chunk.
	Overlap int
}

// DefaultConfig returns sensible defaults for log-style artifacts.
func DefaultConfig() Config {
	return Config{
		Threshold:  1500,
		TargetSize: 750,
		MinSize:    200,
		MaxSize:    1000,
		Overlap:    100,
	}
}

// Split breaks content into chunks. Content at or below the threshold
// comes back as a single chunk.
func Split(content string, config Config) []Chunk {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) <= config.Threshold {
		return []Chunk{{Content: trimmed, Index: 0}}
	}

	blocks := splitBlocks(trimmed, config)
	chunks := packBlocks(blocks, config)
	return applyOverlap(chunks, config.Overlap)
}

// splitBlocks cuts content into boundary-respecting units no larger
// than MaxSize.
func splitBlocks(content string, config Config) []string {
	var blocks []string
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= config.MaxSize {
			blocks = append(blocks, para)
			continue
		}
		// Log files often have no blank lines at all. Regroup an
		// oversized block by individual lines before resorting to
		// sentence splitting.
		if strings.Contains(para, "\n") {
			blocks = append(blocks, splitLines(para, config)...)
			continue
		}
		blocks = append(blocks, splitSentenceGroups(para, config)...)
	}
	return blocks
}

func splitLines(block string, config Config) []string {
	var (
		out     []string
		current strings.Builder
	)
	for _, line := range strings.Split(block, "\n") {
		if current.Len()+len(line) > config.MaxSize && current.Len() > 0 {
			out = append(out, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if len(line) > config.MaxSize {
			out = append(out, splitSentenceGroups(line, config)...)
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		out = append(out, strings.TrimSpace(current.String()))
	}
	return out
}

func splitSentenceGroups(text string, config Config) []string {
	sentences := splitSentences(text)

	var (
		out     []string
		current strings.Builder
	)
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if current.Len()+len(sentence) > config.TargetSize && current.Len() > 0 {
			out = append(out, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if len(sentence) > config.MaxSize {
			// A single unbroken run longer than MaxSize gets hard cut.
			for len(sentence) > config.MaxSize {
				out = append(out, sentence[:config.MaxSize])
				sentence = sentence[config.MaxSize:]
			}
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		out = append(out, strings.TrimSpace(current.String()))
	}
	return out
}

// splitSentences splits text at sentence-ending punctuation followed by
// whitespace, skipping likely abbreviations.
func splitSentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
	)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				if i > 1 && unicode.IsUpper(runes[i-1]) {
					continue
				}
				sentences = append(sentences, current.String())
				current.Reset()
			}
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}

// packBlocks greedily packs blocks up to TargetSize, merging an
// undersized tail into its predecessor.
func packBlocks(blocks []string, config Config) []Chunk {
	var (
		chunks  []Chunk
		current strings.Builder
	)
	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Content: strings.TrimSpace(current.String()),
			Index:   len(chunks),
		})
		current.Reset()
	}

	for _, block := range blocks {
		if current.Len()+len(block) > config.TargetSize && current.Len() > 0 {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(block)
	}
	flush()

	// Merge a tiny tail backward so no chunk ends up below MinSize.
	if n := len(chunks); n > 1 && len(chunks[n-1].Content) < config.MinSize {
		chunks[n-2].Content += "\n\n" + chunks[n-1].Content
		chunks = chunks[:n-1]
	}
	return chunks
}

// applyOverlap prefixes each chunk with the word-aligned tail of its
// predecessor.
func applyOverlap(chunks []Chunk, overlap int) []Chunk {
	if overlap <= 0 || len(chunks) <= 1 {
		return chunks
	}
	result := make([]Chunk, len(chunks))
	copy(result, chunks)

	for i := 1; i < len(result); i++ {
		prev := chunks[i-1].Content
		if len(prev) <= overlap {
			continue
		}
		tail := prev[len(prev)-overlap:]
		if idx := strings.LastIndex(tail, " "); idx > 0 {
			tail = tail[idx+1:]
		}
		result[i].Content = tail + " " + result[i].Content
	}
	return result
}
