package tinyg2

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/cncbridge/gctrl/internal/core"
)

// State is the parser's public snapshot: the most recent feedback or
// hardware-platform report, compared by identity by the controller to
// decide whether a "TinyG2:state" update is due (mirrors the grbl
// package's firmware-state tracking for the Grbl family).
type State struct {
	Raw string
}

// envelope is the union of every line-framed JSON shape g2core emits: an
// ack footer, a status report, a queue report, or free-form
// feedback/hardware-platform reports. Only the fields present on the wire
// are populated; the rest stay nil/zero.
type envelope struct {
	R  *ackFooter    `json:"r"`
	F  []int         `json:"f"`
	SR *statusReport `json:"sr"`
	QR *int          `json:"qr"`
	QI *int          `json:"qi"`
	QO *int          `json:"qo"`
	FB any           `json:"fb"`
	HP any           `json:"hp"`
}

type ackFooter struct {
	N *int `json:"n"`
}

type statusReport struct {
	Line *int `json:"line"`
}

// Parser decodes g2core's line-framed JSON into core.Event values.
type Parser struct {
	mu    sync.Mutex
	state *State
}

// NewParser returns an empty-state Parser.
func NewParser() *Parser {
	return &Parser{state: &State{}}
}

// State returns the current snapshot. Part of core.Parser.
func (p *Parser) State() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Parser) setRaw(raw string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = &State{Raw: raw}
}

// Feed decodes one raw line. Part of core.Parser.
func (p *Parser) Feed(line string) (core.Event, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return core.Event{}, false
	}

	var env envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return core.Event{Kind: core.EventOthers, Raw: trimmed}, true
	}

	switch {
	case env.QR != nil:
		q := core.QueueReport{QR: *env.QR}
		if env.QI != nil {
			q.QI = *env.QI
		}
		if env.QO != nil {
			q.QO = *env.QO
		}
		return core.Event{Kind: core.EventQueueReport, Raw: trimmed, Queue: q}, true

	case env.SR != nil:
		lineNum := 0
		if env.SR.Line != nil {
			lineNum = *env.SR.Line
		}
		return core.Event{Kind: core.EventStatusReport, Raw: trimmed, LineNum: lineNum}, true

	case env.R != nil:
		lineNum := 0
		if env.R.N != nil {
			lineNum = *env.R.N
		}
		if code, msg, bad := footerError(env.F); bad {
			return core.Event{Kind: core.EventFooterError, Raw: trimmed, LineNum: lineNum, StatusCode: code, Message: msg}, true
		}
		return core.Event{Kind: core.EventAck, Raw: trimmed, LineNum: lineNum}, true

	case env.FB != nil:
		p.setRaw(trimmed)
		return core.Event{Kind: core.EventFeedback, Raw: trimmed}, true

	case env.HP != nil:
		p.setRaw(trimmed)
		return core.Event{Kind: core.EventOthers, Raw: trimmed}, true

	default:
		return core.Event{Kind: core.EventOthers, Raw: trimmed}, true
	}
}

// footerError reports the non-zero status code of a g2core footer array
// ([footer-version, status-code, message, checksum] in practice), if any.
func footerError(f []int) (code int, msg string, bad bool) {
	if len(f) < 2 {
		return 0, "", false
	}
	if f[1] == 0 {
		return 0, "", false
	}
	return f[1], "", true
}
