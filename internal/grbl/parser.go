package grbl

import (
	"strings"
	"sync"

	"github.com/cncbridge/gctrl/internal/core"
)

// FirmwareTag distinguishes the two members of the Grbl family that share
// this controller.
type FirmwareTag uint8

const (
	// TagGrbl is the default assumption; Grbl itself never replies to the
	// startup "version" probe, so the tag only changes away from this on
	// a recognised Smoothieware reply.
	TagGrbl FirmwareTag = iota
	// TagSmoothie is set once a Smoothieware-shaped version reply is seen.
	TagSmoothie
)

// String returns the human-readable firmware name, used as the
// "<Firmware>:state" event prefix.
func (t FirmwareTag) String() string {
	if t == TagSmoothie {
		return "Smoothie"
	}
	return "Grbl"
}

// State is the parser's public snapshot, compared by identity by the
// controller to decide whether a "<Firmware>:state" update is due.
type State struct {
	Firmware FirmwareTag
	Raw      string
}

// Parser decodes raw Grbl/Smoothie lines into core.Event values.
type Parser struct {
	mu    sync.Mutex
	state *State
}

// NewParser returns a Parser defaulted to TagGrbl.
func NewParser() *Parser {
	return &Parser{state: &State{Firmware: TagGrbl}}
}

// State returns the current snapshot. Part of core.Parser.
func (p *Parser) State() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Parser) replaceState(mutate func(s State) State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := mutate(*p.state)
	p.state = &next
}

// Feed decodes one raw line. Part of core.Parser.
func (p *Parser) Feed(line string) (core.Event, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return core.Event{}, false
	}

	switch {
	case trimmed == "ok":
		return core.Event{Kind: core.EventOk, Raw: trimmed}, true

	case strings.HasPrefix(trimmed, "error:"):
		return core.Event{Kind: core.EventError, Raw: trimmed, Message: strings.TrimPrefix(trimmed, "error:")}, true

	case strings.HasPrefix(trimmed, "ALARM:"):
		return core.Event{Kind: core.EventAlarm, Raw: trimmed, Message: strings.TrimPrefix(trimmed, "ALARM:")}, true

	case strings.HasPrefix(trimmed, "<") && strings.HasSuffix(trimmed, ">"):
		p.replaceState(func(s State) State {
			s.Raw = trimmed
			return s
		})
		return core.Event{Kind: core.EventStatus, Raw: trimmed}, true

	case strings.HasPrefix(trimmed, "[GC:"):
		p.replaceState(func(s State) State {
			s.Raw = trimmed
			return s
		})
		return core.Event{Kind: core.EventParserState, Raw: trimmed}, true

	case strings.HasPrefix(trimmed, "[G5") || strings.HasPrefix(trimmed, "[G28") || strings.HasPrefix(trimmed, "[G30") || strings.HasPrefix(trimmed, "[TLO"):
		return core.Event{Kind: core.EventParameters, Raw: trimmed}, true

	case strings.HasPrefix(trimmed, "["):
		return core.Event{Kind: core.EventFeedback, Raw: trimmed}, true

	case strings.HasPrefix(trimmed, "$") && strings.Contains(trimmed, "="):
		return core.Event{Kind: core.EventSettings, Raw: trimmed}, true

	case strings.HasPrefix(trimmed, "Grbl "):
		p.replaceState(func(s State) State {
			s.Firmware = TagGrbl
			s.Raw = trimmed
			return s
		})
		return core.Event{Kind: core.EventStartup, Raw: trimmed}, true

	case strings.HasPrefix(trimmed, "Smoothieboard"):
		p.replaceState(func(s State) State {
			s.Firmware = TagSmoothie
			s.Raw = trimmed
			return s
		})
		return core.Event{Kind: core.EventOthers, Raw: trimmed}, true

	default:
		return core.Event{Kind: core.EventOthers, Raw: trimmed}, true
	}
}
