package compaction

import "testing"

func TestCompressWithDictionaryRoundTrips(t *testing.T) {
	text := "connection refused on host db-primary-01.internal\n" +
		"connection refused on host db-primary-01.internal\n" +
		"connection refused on host db-primary-01.internal\n" +
		"all retries exhausted"
	compressed, codebook := CompressWithDictionary(text)
	if len(compressed) >= len(text) {
		t.Fatalf("expected compression to shrink text: %d >= %d", len(compressed), len(text))
	}
	if len(codebook) == 0 {
		t.Fatal("expected a non-empty codebook")
	}
	expanded := ExpandDictionary(compressed, codebook)
	if expanded != text {
		t.Fatalf("round-trip mismatch:\nwant %q\ngot  %q", text, expanded)
	}
}

func TestCompressWithDictionaryNoRepeats(t *testing.T) {
	text := "a short unique sentence with no repetition at all"
	compressed, codebook := CompressWithDictionary(text)
	if compressed != text {
		t.Fatalf("expected no change for non-repeating text, got %q", compressed)
	}
	if len(codebook) != 0 {
		t.Fatalf("expected empty codebook, got %v", codebook)
	}
}
