package chunk

import (
	"strings"
	"testing"
)

func TestSplitShortContent(t *testing.T) {
	chunks := Split("short log line", DefaultConfig())

	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Content != "short log line" {
		t.Errorf("content = %q", chunks[0].Content)
	}
	if chunks[0].Index != 0 {
		t.Errorf("index = %d, want 0", chunks[0].Index)
	}
}

func TestSplitEmptyContent(t *testing.T) {
	if chunks := Split("   \n\n  ", DefaultConfig()); chunks != nil {
		t.Errorf("got %d chunks for blank input, want none", len(chunks))
	}
}

func TestSplitParagraphs(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 10; i++ {
		sb.WriteString(strings.Repeat("paragraph text with several words in it. ", 10))
		sb.WriteString("\n\n")
	}
	chunks := Split(sb.String(), DefaultConfig())

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for _, c := range chunks {
		if len(c.Content) > DefaultConfig().MaxSize+DefaultConfig().Overlap+1 {
			t.Errorf("chunk %d is %d chars, exceeds max", c.Index, len(c.Content))
		}
	}
}

func TestSplitIndexesSequential(t *testing.T) {
	content := strings.Repeat("a line of log output that repeats.\n", 200)
	chunks := Split(content, DefaultConfig())

	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk at position %d has index %d", i, c.Index)
		}
	}
}

func TestSplitLogLinesNoBlankLines(t *testing.T) {
	// Typical log file: thousands of newline-separated records with no
	// paragraph breaks.
	content := strings.Repeat("2024-01-01T00:00:00Z INFO worker step completed id=42\n", 100)
	chunks := Split(content, DefaultConfig())

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for _, c := range chunks {
		if !strings.Contains(c.Content, "worker step completed") {
			t.Errorf("chunk %d lost line content", c.Index)
		}
	}
}

func TestSplitOverlapCarriesTail(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("sentence number ends here. ")
		sb.WriteString(strings.Repeat("filler words ", 5))
		sb.WriteString("\n\n")
	}
	cfg := DefaultConfig()
	chunks := Split(sb.String(), cfg)

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	first := chunks[0].Content
	tail := first[len(first)-20:]
	words := strings.Fields(tail)
	if len(words) == 0 {
		t.Fatal("no words in first chunk tail")
	}
	if !strings.Contains(chunks[1].Content, words[len(words)-1]) {
		t.Errorf("second chunk does not carry overlap from first")
	}
}

func TestSplitHardCutsUnbrokenRun(t *testing.T) {
	content := strings.Repeat("x", 5000)
	chunks := Split(content, DefaultConfig())

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	var total int
	for _, c := range chunks {
		total += len(c.Content)
	}
	if total < 5000 {
		t.Errorf("chunks cover %d chars, want at least 5000", total)
	}
}
