package retrieval

import (
	"strings"
	"testing"
)

func TestChunkTextShortInput(t *testing.T) {
	chunks := ChunkText("  a short note  ", 100, 10)
	if len(chunks) != 1 || chunks[0] != "a short note" {
		t.Errorf("ChunkText = %v, want single trimmed chunk", chunks)
	}
	if ChunkText("   ", 100, 10) != nil {
		t.Error("blank input should yield nil")
	}
}

func TestChunkTextSplitsOnWordBoundaries(t *testing.T) {
	text := strings.Repeat("breathing slowly helps calm the nervous system ", 40)
	chunks := ChunkText(text, 200, 20)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 200 {
			t.Errorf("chunk %d exceeds size: %d runes", i, len([]rune(c)))
		}
		if strings.HasPrefix(c, " ") || strings.HasSuffix(c, " ") {
			t.Errorf("chunk %d not trimmed: %q", i, c)
		}
	}
}

func TestChunkTextOverlapCarriesContext(t *testing.T) {
	text := strings.Repeat("word ", 300)
	chunks := ChunkText(text, 100, 30)
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	// With overlap, the tail of one chunk reappears at the head of the next.
	tail := chunks[0][len(chunks[0])-10:]
	if !strings.Contains(chunks[1], strings.TrimSpace(tail)) {
		t.Errorf("chunk 1 does not carry overlap from chunk 0")
	}
}

func TestChunkTextDefaults(t *testing.T) {
	text := strings.Repeat("x", 2500)
	chunks := ChunkText(text, 0, -5)
	if len(chunks) != 3 {
		t.Errorf("default chunking of 2500 runes: got %d chunks, want 3", len(chunks))
	}
}
