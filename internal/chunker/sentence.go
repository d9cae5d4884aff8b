package chunker

import (
	"strings"
	"unicode"
)

// abbreviations lists tokens whose trailing period does not end a sentence.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"sr": true, "jr": true, "st": true, "rd": true, "ave": true,
	"blvd": true, "dept": true, "inc": true, "ltd": true, "co": true,
	"corp": true, "etc": true, "vs": true, "cf": true, "al": true,
	"approx": true, "no": true, "vol": true, "fig": true,
	"i.e": true, "e.g": true, "ph.d": true, "m.d": true, "b.a": true,
	"m.a": true, "b.s": true, "u.s": true, "u.k": true, "u.n": true,
	"e.u": true,
	"jan": true, "feb": true, "mar": true, "apr": true, "jun": true,
	"jul": true, "aug": true, "sep": true, "sept": true, "oct": true,
	"nov": true, "dec": true,
	"mon": true, "tue": true, "wed": true, "thu": true, "fri": true,
	"sat": true, "sun": true,
	"ft": true, "lbs": true, "oz": true, "kg": true, "km": true,
	"cm": true, "mm": true, "mi": true, "yd": true,
	"hr": true, "hrs": true, "min": true, "mins": true, "sec": true,
	"secs": true,
}

func isClosingMark(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’':
		return true
	}
	return false
}

func isEndPunct(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// isSentenceEnd reports whether the punctuation at pos terminates a sentence,
// ruling out abbreviations, initials, decimals and ellipses.
func isSentenceEnd(runes []rune, pos int) bool {
	if pos < 0 || pos >= len(runes) {
		return false
	}
	punct := runes[pos]
	if !isEndPunct(punct) {
		return false
	}

	if punct == '.' {
		if isAbbreviationAt(runes, pos) {
			return false
		}
		if pos+2 < len(runes) && runes[pos+1] == '.' && runes[pos+2] == '.' {
			return false
		}
		if pos > 0 && pos+1 < len(runes) && unicode.IsDigit(runes[pos-1]) && unicode.IsDigit(runes[pos+1]) {
			return false
		}
	}

	next := pos + 1
	for next < len(runes) && (isEndPunct(runes[next]) || isClosingMark(runes[next])) {
		next++
	}
	if next >= len(runes) {
		return true
	}
	if !unicode.IsSpace(runes[next]) {
		return false
	}
	for next < len(runes) && unicode.IsSpace(runes[next]) {
		next++
	}
	if next >= len(runes) {
		return true
	}
	if unicode.IsUpper(runes[next]) || unicode.IsDigit(runes[next]) {
		return true
	}
	return punct == '!' || punct == '?'
}

// isAbbreviationAt checks the token ending at the period at pos.
func isAbbreviationAt(runes []rune, pos int) bool {
	start := pos - 1
	for start >= 0 && !unicode.IsSpace(runes[start]) {
		start--
	}
	word := strings.ToLower(string(runes[start+1 : pos+1]))
	trimmed := strings.TrimSuffix(word, ".")
	if abbreviations[trimmed] || abbreviations[word] {
		return true
	}
	// Multi-dot tokens such as U.S. or Ph.D. read on.
	if strings.Count(word, ".") > 1 {
		return true
	}
	// A single capital initial, as in "J. Smith".
	if pos >= 1 && len([]rune(trimmed)) == 1 && unicode.IsUpper(runes[pos-1]) {
		return true
	}
	return false
}

// sentenceEnds returns exclusive rune cuts after each sentence end, trailing
// whitespace attached to the sentence before it. The final cut is always
// len(runes).
func sentenceEnds(runes []rune) []int {
	var cuts []int
	for i := 0; i < len(runes); i++ {
		if !isEndPunct(runes[i]) || !isSentenceEnd(runes, i) {
			continue
		}
		end := i + 1
		for end < len(runes) && (isEndPunct(runes[end]) || isClosingMark(runes[end])) {
			end++
		}
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		cuts = append(cuts, end)
		i = end - 1
	}
	if len(cuts) == 0 || cuts[len(cuts)-1] != len(runes) {
		cuts = append(cuts, len(runes))
	}
	return cuts
}

// phraseEnds cuts at clause punctuation as well as sentence ends. A clause
// mark only counts when whitespace or end of text follows, so decimals like
// "3,14" stay whole.
func phraseEnds(runes []rune) []int {
	var cuts []int
	for i := 0; i < len(runes); i++ {
		boundary := false
		switch runes[i] {
		case ',', ';', ':', '\n', '—':
			boundary = true
		case '.', '!', '?':
			boundary = isSentenceEnd(runes, i)
		}
		if !boundary {
			continue
		}
		punctEnd := i + 1
		for punctEnd < len(runes) && (isEndPunct(runes[punctEnd]) || isClosingMark(runes[punctEnd])) {
			punctEnd++
		}
		end := punctEnd
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		if end == punctEnd && end < len(runes) {
			continue
		}
		cuts = append(cuts, end)
		i = end - 1
	}
	if len(cuts) == 0 || cuts[len(cuts)-1] != len(runes) {
		cuts = append(cuts, len(runes))
	}
	return cuts
}
