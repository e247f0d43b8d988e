// Package narration turns a dispatch event into the text a radio announcer
// would read. The text generation itself is delegated to an LLM provider;
// this package owns the fixed instruction sets and the model input format.
package narration

import (
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/prealert/internal/dispatch"
	"github.com/linnemanlabs/prealert/internal/faults"
)

// Mode selects what the model is given to narrate.
type Mode string

const (
	// ModeEvent sends the parsed event as JSON with EventInstructions.
	ModeEvent Mode = "event"

	// ModeSource sends the raw dispatch text with SourceInstructions.
	ModeSource Mode = "source"
)

// ParseMode validates a mode name from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeEvent, ModeSource:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown narration mode %q (want %q or %q)", s, ModeEvent, ModeSource)
}

// Instructions returns the system instructions for m.
func (m Mode) Instructions() string {
	if m == ModeSource {
		return SourceInstructions
	}
	return EventInstructions
}

// Request is a single narration call.
type Request struct {
	Instructions string
	Input        string
}

// eventInput is the subset of the event the model sees. Coordinates are
// deliberately left out; they are not spoken.
type eventInput struct {
	Nature  string `json:"nature"`
	Address string `json:"address"`
	City    string `json:"city"`
}

// NewRequest builds the model request for ev (or, in ModeSource, the raw
// dispatch text).
func NewRequest(m Mode, ev *dispatch.Event, source string) (*Request, error) {
	if m == ModeSource {
		if source == "" {
			return nil, faults.Validation("source", "empty dispatch text")
		}
		return &Request{Instructions: SourceInstructions, Input: source}, nil
	}

	if ev == nil {
		return nil, faults.Validation("event", "missing dispatch event")
	}
	b, err := json.Marshal(eventInput{Nature: ev.Nature, Address: ev.Address, City: ev.City})
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return &Request{Instructions: EventInstructions, Input: string(b)}, nil
}
