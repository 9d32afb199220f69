package pipeline

import (
	"strings"
	"testing"
)

func pauseOnly() ChunkerOptions {
	return ChunkerOptions{PauseMarker: "•"}
}

func withSentences() ChunkerOptions {
	return ChunkerOptions{PauseMarker: "•", SplitOnSentences: true}
}

func speakables(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Speakable("•")
	}
	return out
}

func TestChunker_PauseMarkersAcrossFragments(t *testing.T) {
	c := NewChunker(3, pauseOnly())

	var chunks []Chunk
	chunks = append(chunks, c.Feed("Hello there •")...)
	chunks = append(chunks, c.Feed(" how are you •")...)
	if got := c.Feed(" today?"); len(got) != 0 {
		t.Errorf("Expected no chunk before flush, got %v", got)
	}
	last, ok := c.Flush()
	if !ok {
		t.Fatal("Expected a final chunk on flush")
	}
	chunks = append(chunks, last)

	expected := []string{"Hello there", "how are you", "today?"}
	got := speakables(chunks)
	if len(got) != len(expected) {
		t.Fatalf("Expected %d chunks, got %d: %v", len(expected), len(got), got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("chunk %d: Expected '%s', got '%s'", i, expected[i], got[i])
		}
		if chunks[i].ChunkIndex != i {
			t.Errorf("chunk %d: Expected index %d, got %d", i, i, chunks[i].ChunkIndex)
		}
		if chunks[i].TurnIndex != 3 {
			t.Errorf("chunk %d: Expected turn 3, got %d", i, chunks[i].TurnIndex)
		}
	}
}

func TestChunker_MultipleBoundariesInOneFragment(t *testing.T) {
	c := NewChunker(0, pauseOnly())

	chunks := c.Feed("One two • three four • five")
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks from one feed, got %d", len(chunks))
	}
	if chunks[0].ChunkIndex != 0 || chunks[1].ChunkIndex != 1 {
		t.Errorf("Expected indices 0,1, got %d,%d", chunks[0].ChunkIndex, chunks[1].ChunkIndex)
	}
	last, ok := c.Flush()
	if !ok || last.ChunkIndex != 2 || last.Speakable("•") != "five" {
		t.Errorf("Expected final chunk 2 'five', got %+v (ok=%v)", last, ok)
	}
}

func TestChunker_NoBoundaryYieldsSingleChunkOnFlush(t *testing.T) {
	c := NewChunker(0, withSentences())

	if got := c.Feed("this reply has no pause marker at all"); len(got) != 0 {
		t.Fatalf("Expected no chunks before flush, got %d", len(got))
	}
	chunk, ok := c.Flush()
	if !ok {
		t.Fatal("Expected one chunk on flush")
	}
	if chunk.ChunkIndex != 0 {
		t.Errorf("Expected index 0, got %d", chunk.ChunkIndex)
	}
	if chunk.Text != "this reply has no pause marker at all" {
		t.Errorf("Expected the entire text, got '%s'", chunk.Text)
	}
}

func TestChunker_EmptyRemaindersProduceNothing(t *testing.T) {
	c := NewChunker(0, pauseOnly())

	chunks := c.Feed("•")
	chunks = append(chunks, c.Feed("  • Hi •   ")...)
	if len(chunks) != 1 || chunks[0].Speakable("•") != "Hi" {
		t.Fatalf("Expected only 'Hi', got %v", speakables(chunks))
	}
	if chunks[0].ChunkIndex != 0 {
		t.Errorf("Expected empty slices not to consume an index, got %d", chunks[0].ChunkIndex)
	}
	if _, ok := c.Flush(); ok {
		t.Error("Expected whitespace-only remainder to produce no chunk")
	}
	if _, ok := c.Flush(); ok {
		t.Error("Expected second flush to produce nothing")
	}
}

func TestChunker_SentenceTerminators(t *testing.T) {
	tests := []struct {
		name     string
		opts     ChunkerOptions
		input    string
		expected []string
	}{
		{"sentences", withSentences(), "Sure. I can help! Anything else?", []string{"Sure.", "I can help!", "Anything else?"}},
		{"decimal", withSentences(), "It costs 3.5 dollars. Okay", []string{"It costs 3.5 dollars.", "Okay"}},
		{"abbreviation", withSentences(), "Dr. Smith will call. Bye", []string{"Dr. Smith will call.", "Bye"}},
		{"initials", withSentences(), "Ask J. R. Tolkien. Done", []string{"Ask J. R. Tolkien.", "Done"}},
		{"closing quote", withSentences(), `She said "yes." Then left`, []string{`She said "yes."`, "Then left"}},
		{"marker after terminator", withSentences(), "Great. • Next part", []string{"Great.", "Next part"}},
		{"disabled", pauseOnly(), "One. Two. Three", []string{"One. Two. Three"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChunker(0, tt.opts)
			chunks := c.Feed(tt.input)
			if last, ok := c.Flush(); ok {
				chunks = append(chunks, last)
			}
			got := speakables(chunks)
			if strings.Join(got, "|") != strings.Join(tt.expected, "|") {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestChunker_TerminatorWaitsForFollowingText(t *testing.T) {
	c := NewChunker(0, withSentences())

	if got := c.Feed("Hello."); len(got) != 0 {
		t.Fatalf("Expected no split until whitespace arrives, got %v", speakables(got))
	}
	got := c.Feed(" World")
	if len(got) != 1 || got[0].Text != "Hello." {
		t.Fatalf("Expected 'Hello.' once whitespace arrived, got %v", speakables(got))
	}
}

func TestChunker_CoverageForAnyFragmentation(t *testing.T) {
	text := "Hi Sam • thanks for calling. We have three programs • in Canada and the U.K. Which one • interests you?"

	for a := 1; a < len(text); a += 3 {
		for b := a; b < len(text); b += 7 {
			c := NewChunker(0, withSentences())
			var chunks []Chunk
			for _, fragment := range []string{text[:a], text[a:b], text[b:]} {
				chunks = append(chunks, c.Feed(fragment)...)
			}
			if last, ok := c.Flush(); ok {
				chunks = append(chunks, last)
			}

			var joined strings.Builder
			for i, chunk := range chunks {
				if chunk.ChunkIndex != i {
					t.Fatalf("split %d/%d: chunk %d has index %d", a, b, i, chunk.ChunkIndex)
				}
				joined.WriteString(chunk.Text)
			}
			if joined.String() != text {
				t.Fatalf("split %d/%d: Expected chunks to cover the text, got %q", a, b, joined.String())
			}
		}
	}
}
