// Package transcription maps between text strings and the integer label
// sequences consumed by the CTC loss and produced by the decoder.
package transcription

import (
	"fmt"
	"strings"
)

// BlankClass is the label id reserved for the CTC blank symbol.
// Alphabet runes occupy ids 1..AlphabetSize()-1.
const BlankClass = 0

// Encoder maps runes of a fixed alphabet to integer class ids and back,
// and normalizes raw transcriptions into alphabet-representable text.
type Encoder struct {
	runes []rune       // id-1 -> rune
	index map[rune]int // rune -> id
}

// replacement folds one source string into its alphabet equivalent.
// Multi-rune sources (ligatures, typographic quotes) must come before any
// single-rune entry they overlap with; Replace applies entries in order.
var replacements = []struct {
	from, to string
}{
	{"ß", "ss"}, // ß
	{"æ", "ae"},
	{"œ", "oe"},
	{"ﬀ", "ff"},
	{"ﬁ", "fi"},
	{"ﬂ", "fl"},
	{"‘", "'"},
	{"’", "'"},
	{"“", "\""},
	{"”", "\""},
	{"„", "\""},
	{"–", "-"},
	{"—", "-"},
	{" ", " "},
}

// NewEncoder builds an Encoder over the given alphabet string.
// Duplicate runes are an error; the blank id is implicit and must not be
// part of the alphabet.
func NewEncoder(alphabet string) (*Encoder, error) {
	if alphabet == "" {
		return nil, fmt.Errorf("empty alphabet")
	}
	e := &Encoder{index: make(map[rune]int)}
	for _, r := range alphabet {
		if _, ok := e.index[r]; ok {
			return nil, fmt.Errorf("duplicate alphabet rune %q", r)
		}
		e.runes = append(e.runes, r)
		e.index[r] = len(e.runes) // ids start at 1; 0 is the blank
	}
	return e, nil
}

// AlphabetSize returns the number of output classes including the blank.
func (e *Encoder) AlphabetSize() int {
	return len(e.runes) + 1
}

// Encode maps normalized text to a label id sequence. Runes outside the
// alphabet are an error; callers normalize with Replace first.
func (e *Encoder) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	for _, r := range text {
		id, ok := e.index[r]
		if !ok {
			return nil, fmt.Errorf("rune %q not in alphabet", r)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Decode maps a label id sequence back to text. Blank ids are skipped;
// ids outside the alphabet are dropped.
func (e *Encoder) Decode(ids []int) string {
	var b strings.Builder
	for _, id := range ids {
		if id <= BlankClass || id > len(e.runes) {
			continue
		}
		b.WriteRune(e.runes[id-1])
	}
	return b.String()
}

// Replace normalizes raw transcription text into its alphabet-representable
// form: folds the replacement table, collapses whitespace runs into single
// spaces, and drops runes the alphabet cannot express.
func (e *Encoder) Replace(text string) string {
	for _, rep := range replacements {
		text = strings.ReplaceAll(text, rep.from, rep.to)
	}
	text = strings.Join(strings.Fields(text), " ")

	var b strings.Builder
	for _, r := range text {
		if _, ok := e.index[r]; ok {
			b.WriteRune(r)
		}
	}
	return b.String()
}
