package chunker

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func reconstruct(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
	}
	return b.String()
}

func TestSplitLosslessReconstructionAllStrategies(t *testing.T) {
	text := "Dr. Smith arrived at 3.14 on Jan. 5th. He said, \"Let's begin!\" " +
		"The trial, which had been delayed twice, finally opened; the room " +
		"was full. Everyone waited.然后他们开始了工作, 大家都很认真. What " +
		"happened next surprised nobody who knew the case well."
	for _, s := range []Strategy{StrategySentence, StrategyPhrase, StrategyFixed, StrategyAdaptive} {
		chunks, err := Split(text, Options{Strategy: s, TargetSize: 80, MaxSize: 160, MinTextLength: 10, Overlap: 20})
		if err != nil {
			t.Fatalf("Split(%s): %v", s, err)
		}
		if got := reconstruct(chunks); got != text {
			t.Fatalf("strategy %s reconstruction mismatch:\n got %q\nwant %q", s, got, text)
		}
		for i, c := range chunks {
			if c.Index != i {
				t.Fatalf("strategy %s chunk %d has Index %d", s, i, c.Index)
			}
		}
	}
}

func TestSplitShortInputSingleChunk(t *testing.T) {
	chunks, err := Split("Hi there. Bye now.", Options{Strategy: StrategySentence, MinTextLength: 50})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0].Overlap != "" {
		t.Fatalf("single chunk overlap = %q, want empty", chunks[0].Overlap)
	}
}

func TestSplitEmptyInput(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t  \n"} {
		chunks, err := Split(in, Options{})
		if err != nil {
			t.Fatalf("Split(%q): %v", in, err)
		}
		if len(chunks) != 0 {
			t.Fatalf("Split(%q) chunks = %d, want 0", in, len(chunks))
		}
	}
}

func TestSplitSentenceStrategyRespectsAbbreviations(t *testing.T) {
	text := "Mr. Jones met Dr. Lee at the corner. They discussed the U.S. budget at length. Then they left."
	chunks, err := Split(text, Options{Strategy: StrategySentence, TargetSize: 45, MaxSize: 200, MinTextLength: 10})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	for _, c := range chunks {
		body := strings.TrimSpace(c.Text)
		if strings.HasSuffix(body, "Mr.") || strings.HasSuffix(body, "Dr.") || strings.HasSuffix(body, "U.S.") {
			t.Fatalf("chunk ends at abbreviation: %q", body)
		}
	}
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want sentence splits", len(chunks))
	}
}

func TestSplitFixedSizeStaysNearTarget(t *testing.T) {
	words := strings.Repeat("alpha beta gamma delta ", 40)
	chunks, err := Split(words, Options{Strategy: StrategyFixed, TargetSize: 100, MaxSize: 200, MinTextLength: 10})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	for i, c := range chunks[:len(chunks)-1] {
		n := utf8.RuneCountInString(c.Text)
		if n > 100 {
			t.Fatalf("chunk %d length = %d runes, want <= 100", i, n)
		}
		if n == 0 {
			t.Fatalf("chunk %d is empty", i)
		}
	}
	if got := reconstruct(chunks); got != words {
		t.Fatal("fixed size reconstruction mismatch")
	}
}

func TestSplitNeverBreaksRunes(t *testing.T) {
	text := strings.Repeat("héllo wörld ünïcode tèxt ", 30)
	chunks, err := Split(text, Options{Strategy: StrategyFixed, TargetSize: 40, MaxSize: 80, MinTextLength: 10})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	for i, c := range chunks {
		if !utf8.ValidString(c.Text) {
			t.Fatalf("chunk %d is not valid UTF-8", i)
		}
	}
}

func TestSplitLongUnbrokenWord(t *testing.T) {
	text := strings.Repeat("a", 600)
	chunks, err := Split(text, Options{Strategy: StrategySentence, TargetSize: 200, MaxSize: 250, MinTextLength: 10})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want hard split of unbroken word", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c.Text); n > 250 {
			t.Fatalf("chunk %d length = %d, want <= max 250", i, n)
		}
	}
	if got := reconstruct(chunks); got != text {
		t.Fatal("reconstruction mismatch")
	}
}

func TestSplitOverlapCarriesPreviousTail(t *testing.T) {
	text := "The first sentence sets the scene for everyone. The second sentence continues the thought carefully. The third wraps it all up nicely."
	chunks, err := Split(text, Options{Strategy: StrategySentence, TargetSize: 60, MaxSize: 200, MinTextLength: 10, Overlap: 18})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want at least 2", len(chunks))
	}
	if chunks[0].Overlap != "" {
		t.Fatalf("chunk 0 overlap = %q, want empty", chunks[0].Overlap)
	}
	for i := 1; i < len(chunks); i++ {
		ov := chunks[i].Overlap
		if ov == "" {
			t.Fatalf("chunk %d overlap empty", i)
		}
		if !strings.HasSuffix(strings.TrimSpace(chunks[i-1].Text), ov) {
			t.Fatalf("chunk %d overlap %q is not a suffix of previous chunk %q", i, ov, chunks[i-1].Text)
		}
		if n := utf8.RuneCountInString(ov); n > 18 {
			t.Fatalf("chunk %d overlap length = %d, want <= 18", i, n)
		}
	}
}

func TestEngineTextIncludesOverlap(t *testing.T) {
	c := Chunk{Index: 1, Text: " continues here.", Overlap: "the story"}
	if got := c.EngineText(); got != "the story continues here." {
		t.Fatalf("EngineText = %q", got)
	}
	frac := c.OverlapFraction()
	if frac <= 0 || frac >= 1 {
		t.Fatalf("OverlapFraction = %v, want in (0, 1)", frac)
	}
	bare := Chunk{Index: 0, Text: "Hello."}
	if got := bare.EngineText(); got != "Hello." {
		t.Fatalf("EngineText = %q", got)
	}
	if frac := bare.OverlapFraction(); frac != 0 {
		t.Fatalf("OverlapFraction = %v, want 0", frac)
	}
}

func TestSplitAdaptivePicksByLength(t *testing.T) {
	short := "A quick note."
	chunks, err := Split(short, Options{Strategy: StrategyAdaptive, MinTextLength: 5})
	if err != nil {
		t.Fatalf("Split(short): %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("short input chunks = %d, want 1", len(chunks))
	}

	long := strings.Repeat("The committee reviewed the proposal, raised several concerns, and moved on. ", 12)
	chunks, err = Split(long, Options{Strategy: StrategyAdaptive, TargetSize: 120, MaxSize: 480, MinTextLength: 5})
	if err != nil {
		t.Fatalf("Split(long): %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("long input chunks = %d, want several", len(chunks))
	}
	if got := reconstruct(chunks); got != long {
		t.Fatal("adaptive reconstruction mismatch")
	}
}

func TestSplitRejectsBadOptions(t *testing.T) {
	if _, err := Split("text", Options{Strategy: "paragraph"}); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("err = %v, want ErrUnknownStrategy", err)
	}
	if _, err := Split("text", Options{TargetSize: 500, MaxSize: 100}); err == nil {
		t.Fatal("expected error for target > max")
	}
	if _, err := Split("text", Options{TargetSize: 100, MaxSize: 200, Overlap: 100}); err == nil {
		t.Fatal("expected error for overlap >= target")
	}
	if _, err := Split("text", Options{Overlap: -1}); err == nil {
		t.Fatal("expected error for negative overlap")
	}
}

func TestParseStrategy(t *testing.T) {
	cases := []struct {
		in   string
		want Strategy
		ok   bool
	}{
		{"sentence", StrategySentence, true},
		{"PHRASE", StrategyPhrase, true},
		{" fixed_size ", StrategyFixed, true},
		{"adaptive", StrategyAdaptive, true},
		{"", StrategyAdaptive, true},
		{"wordwise", "", false},
	}
	for _, tc := range cases {
		got, err := ParseStrategy(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("ParseStrategy(%q): %v", tc.in, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ParseStrategy(%q) accepted, want error", tc.in)
		}
		if got != tc.want {
			t.Fatalf("ParseStrategy(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
