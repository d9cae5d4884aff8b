// Package chunker splits synthesis text into ordered chunks whose
// concatenation reproduces the input byte for byte.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Strategy selects how input text is divided.
type Strategy string

const (
	StrategySentence Strategy = "sentence"
	StrategyPhrase   Strategy = "phrase"
	StrategyFixed    Strategy = "fixed_size"
	StrategyAdaptive Strategy = "adaptive"
)

var ErrUnknownStrategy = errors.New("chunker: unknown strategy")

// ParseStrategy validates a wire-format strategy name.
func ParseStrategy(raw string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StrategySentence, StrategyPhrase, StrategyFixed, StrategyAdaptive:
		return s, nil
	case "":
		return StrategyAdaptive, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownStrategy, raw)
}

const (
	defaultTargetSize    = 240
	defaultMaxSize       = 480
	defaultMinTextLength = 50

	adaptiveSingleMax   = 120
	adaptiveSentenceMax = 400
)

// Options control chunk sizing. Sizes and overlap count runes, not bytes.
type Options struct {
	Strategy      Strategy
	TargetSize    int // preferred chunk length
	MaxSize       int // hard cap per chunk
	MinTextLength int // inputs shorter than this stay one chunk
	Overlap       int // trailing runes of the previous chunk carried as context
}

func (o Options) withDefaults() Options {
	if o.Strategy == "" {
		o.Strategy = StrategyAdaptive
	}
	if o.TargetSize == 0 {
		o.TargetSize = defaultTargetSize
	}
	if o.MaxSize == 0 {
		o.MaxSize = defaultMaxSize
	}
	if o.MinTextLength == 0 {
		o.MinTextLength = defaultMinTextLength
	}
	return o
}

func (o Options) validate() error {
	switch o.Strategy {
	case StrategySentence, StrategyPhrase, StrategyFixed, StrategyAdaptive:
	default:
		return fmt.Errorf("%w %q", ErrUnknownStrategy, o.Strategy)
	}
	if o.TargetSize < 0 || o.MaxSize < 0 || o.MinTextLength < 0 || o.Overlap < 0 {
		return errors.New("chunker: sizes must not be negative")
	}
	if o.TargetSize > o.MaxSize {
		return fmt.Errorf("chunker: target size %d exceeds max size %d", o.TargetSize, o.MaxSize)
	}
	if o.Overlap >= o.TargetSize {
		return fmt.Errorf("chunker: overlap %d must be smaller than target size %d", o.Overlap, o.TargetSize)
	}
	return nil
}

// Chunk is one synthesis unit. Text is an exact slice of the input;
// Overlap is prior context for the engine and never part of Text.
type Chunk struct {
	Index   int
	Text    string
	Overlap string
	Start   int // byte offset into the input
	End     int
}

// EngineText is what the synthesis engine receives: overlap context, if any,
// followed by the chunk body.
func (c Chunk) EngineText() string {
	body := strings.TrimSpace(c.Text)
	if c.Overlap == "" {
		return body
	}
	return c.Overlap + " " + body
}

// OverlapFraction is the share of EngineText runes occupied by overlap
// context, used to estimate how much leading audio to discard.
func (c Chunk) OverlapFraction() float64 {
	if c.Overlap == "" {
		return 0
	}
	total := utf8.RuneCountInString(c.EngineText())
	if total == 0 {
		return 0
	}
	return float64(utf8.RuneCountInString(c.Overlap)+1) / float64(total)
}

// Split divides text into ordered chunks. Whitespace-only input yields no
// chunks. Inputs shorter than MinTextLength come back as a single chunk
// regardless of strategy.
func Split(text string, opts Options) ([]Chunk, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	var cuts []int
	if len(runes) < opts.MinTextLength {
		cuts = []int{len(runes)}
	} else {
		switch opts.Strategy {
		case StrategySentence:
			cuts = packCuts(runes, sentenceEnds(runes), opts.TargetSize, opts.MaxSize)
		case StrategyPhrase:
			cuts = packCuts(runes, phraseEnds(runes), opts.TargetSize, opts.MaxSize)
		case StrategyFixed:
			cuts = fixedCuts(runes, opts.TargetSize)
		case StrategyAdaptive:
			cuts = adaptiveCuts(runes, opts)
		}
	}

	chunks := make([]Chunk, 0, len(cuts))
	startRune := 0
	startByte := 0
	for _, cut := range cuts {
		body := string(runes[startRune:cut])
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  body,
			Start: startByte,
			End:   startByte + len(body),
		})
		startRune = cut
		startByte += len(body)
	}

	if opts.Overlap > 0 {
		for i := 1; i < len(chunks); i++ {
			chunks[i].Overlap = overlapTail(chunks[i-1].Text, opts.Overlap)
		}
	}
	return chunks, nil
}

// packCuts merges adjacent units so each packed chunk stays at or under
// target runes. A single unit longer than max is sub-split at whitespace.
func packCuts(runes []rune, cuts []int, target, max int) []int {
	var packed []int
	chunkStart := 0
	prevCut := 0
	flush := func(at int) {
		if at > chunkStart {
			packed = append(packed, at)
			chunkStart = at
		}
	}
	for i, cut := range cuts {
		if cut-chunkStart > target {
			flush(prevCut)
			for cut-chunkStart > max {
				flush(whitespaceCut(runes, chunkStart, chunkStart+max))
			}
			if cut-chunkStart > target {
				flush(cut)
			}
		}
		prevCut = cut
		if i == len(cuts)-1 {
			flush(cut)
		}
	}
	return packed
}

// fixedCuts slices at target-sized steps, preferring the last whitespace at
// or before each step.
func fixedCuts(runes []rune, target int) []int {
	var cuts []int
	start := 0
	for len(runes)-start > target {
		cut := whitespaceCut(runes, start, start+target)
		cuts = append(cuts, cut)
		start = cut
	}
	return append(cuts, len(runes))
}

// adaptiveCuts picks a strategy from the input length: short inputs stay
// whole, medium ones split on sentences, long ones on phrases with a target
// that grows with the input.
func adaptiveCuts(runes []rune, opts Options) []int {
	n := len(runes)
	switch {
	case n <= adaptiveSingleMax:
		return []int{n}
	case n <= adaptiveSentenceMax:
		return packCuts(runes, sentenceEnds(runes), opts.TargetSize, opts.MaxSize)
	default:
		target := opts.TargetSize + n/20
		if target > opts.MaxSize {
			target = opts.MaxSize
		}
		return packCuts(runes, phraseEnds(runes), target, opts.MaxSize)
	}
}

// whitespaceCut returns a cut in (start, limit] placed just after the
// rightmost whitespace rune, or limit when the span has none.
func whitespaceCut(runes []rune, start, limit int) int {
	if limit >= len(runes) {
		return len(runes)
	}
	for i := limit; i > start+1; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return limit
}

// overlapTail takes up to n trailing runes of prev, dropping a leading
// partial word when a later word boundary exists.
func overlapTail(prev string, n int) string {
	runes := []rune(strings.TrimSpace(prev))
	if len(runes) == 0 || n <= 0 {
		return ""
	}
	if n > len(runes) {
		n = len(runes)
	}
	tail := runes[len(runes)-n:]
	if n < len(runes) && !unicode.IsSpace(runes[len(runes)-n-1]) && !unicode.IsSpace(tail[0]) {
		for i, r := range tail {
			if unicode.IsSpace(r) {
				return strings.TrimSpace(string(tail[i:]))
			}
		}
	}
	return strings.TrimSpace(string(tail))
}
