package tinyg2

import "github.com/cncbridge/gctrl/internal/core"

// SenderMode tags how the controller should gate advancement for the line
// currently in flight, decided once at send time by classifyLine.
type SenderMode uint8

const (
	// ModeRun is a single planner entry: a qr report with headroom is
	// sufficient to advance.
	ModeRun SenderMode = iota
	// ModeWait is an arc: the line may enqueue more than one planner
	// entry, so advancement waits for a qr report showing the arc has
	// been committed.
	ModeWait
	// ModeNoQr is a non-motion line (dwell, unsynced codes): the
	// controller must force an explicit queue-report poll after sending.
	ModeNoQr
)

func (m SenderMode) String() string {
	switch m {
	case ModeWait:
		return "Wait"
	case ModeNoQr:
		return "NoQr"
	default:
		return "Run"
	}
}

// arcLetters are the address letters that only ever appear on arc moves.
var arcLetters = map[byte]bool{'I': true, 'J': true, 'K': true}

// motionLetters are the address letters present on any single-entry linear
// move.
var motionLetters = map[byte]bool{'X': true, 'Y': true, 'Z': true}

// noQrCodes are the whole G-codes (truncated, so G4 matches G4, G4.1, ...)
// that generate no planner motion and therefore no queue report of their
// own, requiring an explicit poll.
var noQrCodes = map[int]bool{4: true, 5: true, 6: true, 9: true}

// classifyLine decides a line's SenderMode by its whole G-code words, not by
// substring search: "X94.5" must never be mistaken for a G94 code, and a
// G90.1 or G5.1 word is compared by its truncated numeric value, not its
// literal text. Arc letters are checked before motion letters so an arc
// move carrying both (e.g. "G2 X10 Y10 I5 J0") classifies as Wait, matching
// the controller's gating for multi-entry planner moves.
func classifyLine(line string) SenderMode {
	hasArcLetter := false
	hasMotionLetter := false
	hasNoQrCode := false

	for _, word := range core.Words(line) {
		letter, ok := core.Letter(word)
		if !ok {
			continue
		}

		if arcLetters[letter] {
			hasArcLetter = true
		}
		if motionLetters[letter] {
			hasMotionLetter = true
		}
		if letter == 'G' {
			if code, ok := core.CodeValue(word); ok && noQrCodes[code] {
				hasNoQrCode = true
			}
		}
	}

	switch {
	case hasArcLetter:
		return ModeWait
	case hasNoQrCode:
		return ModeNoQr
	case hasMotionLetter:
		return ModeRun
	default:
		return ModeRun
	}
}
