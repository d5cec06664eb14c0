package ingest

import "testing"

func TestSplitChunksNoMarkers(t *testing.T) {
	text := "01/02/2024  COFFEE SHOP  -3.50\n02/02/2024  SALARY  +2000.00"

	chunks := SplitChunks(text)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Content != text {
		t.Errorf("single chunk should carry the full text")
	}
	if chunks[0].PageRange != "1" || chunks[0].SequenceNumber != 1 {
		t.Errorf("got page range %q seq %d, want \"1\" and 1", chunks[0].PageRange, chunks[0].SequenceNumber)
	}
}

func TestSplitChunksWithMarkers(t *testing.T) {
	text := "=== PDF PAGE(S) 1-2 ===\nfirst chunk body\n" +
		"=== PDF PAGE(S) 3-4 ===\nsecond chunk body\n" +
		"=== PDF PAGE(S) 5 ===\nthird chunk body"

	chunks := SplitChunks(text)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	wantRanges := []string{"1-2", "3-4", "5"}
	wantBodies := []string{"first chunk body", "second chunk body", "third chunk body"}
	for i, chunk := range chunks {
		if chunk.PageRange != wantRanges[i] {
			t.Errorf("chunk %d: page range %q, want %q", i, chunk.PageRange, wantRanges[i])
		}
		if chunk.Content != wantBodies[i] {
			t.Errorf("chunk %d: content %q, want %q", i, chunk.Content, wantBodies[i])
		}
		if chunk.SequenceNumber != i+1 {
			t.Errorf("chunk %d: sequence %d, want %d", i, chunk.SequenceNumber, i+1)
		}
	}
}

func TestSplitChunksSkipsEmptySegments(t *testing.T) {
	text := "=== PDF PAGE(S) 1 ===\n\n\n" +
		"=== PDF PAGE(S) 2 ===\nreal content"

	chunks := SplitChunks(text)
	if len(chunks) != 1 {
		t.Fatalf("expected the empty segment to be dropped, got %d chunks", len(chunks))
	}
	if chunks[0].PageRange != "2" {
		t.Errorf("surviving chunk page range %q, want \"2\"", chunks[0].PageRange)
	}
	// Sequence numbers stay consecutive after dropping empties.
	if chunks[0].SequenceNumber != 1 {
		t.Errorf("surviving chunk sequence %d, want 1", chunks[0].SequenceNumber)
	}
}

func TestSplitChunksMarkersOnly(t *testing.T) {
	text := "=== PDF PAGE(S) 1 ===\n=== PDF PAGE(S) 2 ==="

	chunks := SplitChunks(text)
	if len(chunks) != 1 {
		t.Fatalf("expected fallback single chunk, got %d", len(chunks))
	}
	if chunks[0].Content != text {
		t.Errorf("fallback chunk should carry the original text")
	}
}
