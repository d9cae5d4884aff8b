package chunker

import "testing"

func TestIsSentenceEnd(t *testing.T) {
	cases := []struct {
		text string
		pos  int
		want bool
	}{
		{"It works. Next one.", 8, true},
		{"Ask Mr. Jones today.", 6, false},
		{"Pi is 3.14 exactly.", 7, false},
		{"Wait... Not yet.", 4, false},
		{"Really?! Yes.", 6, true},
		{"He said \"stop.\" Then left.", 13, true},
		{"e.g. some example", 3, false},
		{"The end.", 7, true},
		{"J. Smith wrote it.", 1, false},
		{"version 2.0 shipped", 9, false},
	}
	for _, tc := range cases {
		runes := []rune(tc.text)
		if got := isSentenceEnd(runes, tc.pos); got != tc.want {
			t.Fatalf("isSentenceEnd(%q, %d) = %v, want %v", tc.text, tc.pos, got, tc.want)
		}
	}
}

func TestSentenceEndsCoverWholeInput(t *testing.T) {
	text := "First one. Second one! Third?"
	runes := []rune(text)
	cuts := sentenceEnds(runes)
	if len(cuts) != 3 {
		t.Fatalf("cuts = %v, want 3 entries", cuts)
	}
	if cuts[len(cuts)-1] != len(runes) {
		t.Fatalf("final cut = %d, want %d", cuts[len(cuts)-1], len(runes))
	}
	prev := 0
	for _, c := range cuts {
		if c <= prev {
			t.Fatalf("cuts not strictly increasing: %v", cuts)
		}
		prev = c
	}
}

func TestPhraseEndsSkipUnspacedMarks(t *testing.T) {
	text := "Pay 3,14 now, or wait."
	cuts := phraseEnds([]rune(text))
	// Only the comma before "or" and the terminal period qualify.
	if len(cuts) != 2 {
		t.Fatalf("cuts = %v, want 2 entries", cuts)
	}
}
