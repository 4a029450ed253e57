package core

import (
	"math"
	"strconv"
	"strings"
)

// SplitLines tokenizes a raw G-code blob into sendable lines: trailing
// whitespace is trimmed from each line and blank lines are dropped. This is
// the minimal line-framing step both sender protocols need from the
// (externally owned) G-code tokenizer; full semantic tokenization of each
// line is out of scope here.
func SplitLines(blob string) []string {
	raw := strings.Split(strings.ReplaceAll(blob, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		trimmed := strings.TrimRight(l, " \t")
		if trimmed == "" {
			continue
		}
		lines = append(lines, trimmed)
	}
	return lines
}

// Words splits a single G-code line into whitespace-separated address
// words (e.g. "G1 X10 Y20" -> ["G1", "X10", "Y20"]). Used to classify a
// line by its whole G-codes rather than by substring search (see
// DESIGN.md's resolution of the sender-mode classification open question).
func Words(line string) []string {
	return strings.Fields(line)
}

// Letter returns the uppercase address letter of a word (e.g. "x10" -> 'X')
// and whether the word is a well-formed address word (a single letter
// followed by a numeric value).
func Letter(word string) (byte, bool) {
	if len(word) < 2 {
		return 0, false
	}
	c := word[0]
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	if c < 'A' || c > 'Z' {
		return 0, false
	}
	if _, ok := CodeValue(word); !ok {
		return 0, false
	}
	return c, true
}

// CodeValue parses the numeric portion of an address word (everything
// after the leading letter) and truncates it to an int, matching how
// G-code addresses like "G4", "G90.1" are compared against whole codes.
func CodeValue(word string) (int, bool) {
	if len(word) < 2 {
		return 0, false
	}
	val, err := strconv.ParseFloat(word[1:], 64)
	if err != nil {
		return 0, false
	}
	return int(math.Trunc(val)), true
}
