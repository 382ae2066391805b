package describe

import (
	"fmt"
	"time"
)

// Phase is the tag of a State.
type Phase int

// The four phases. PhaseIdle is the zero value.
const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseSuccess
	PhaseError
)

var phaseNames = [...]string{
	PhaseIdle:    "idle",
	PhaseLoading: "loading",
	PhaseSuccess: "success",
	PhaseError:   "error",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	if p < 0 || int(p) >= len(phaseNames) {
		return nil, fmt.Errorf("describe: invalid phase %d", int(p))
	}
	return []byte(phaseNames[p]), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	for i, name := range phaseNames {
		if string(text) == name {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("describe: unknown phase %q", text)
}

// State is one published inference status. Text is only meaningful in
// PhaseSuccess and Message only in PhaseError. A published State is never
// modified.
type State struct {
	Phase   Phase  `json:"phase"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`

	RequestID string    `json:"request_id,omitempty"`
	FrameSeq  uint64    `json:"frame_seq,omitempty"`
	Model     string    `json:"model,omitempty"`
	LatencyMs int64     `json:"latency_ms,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Idle is the initial state, also reached by Reset.
func Idle() State {
	return State{Phase: PhaseIdle, UpdatedAt: time.Now()}
}

// Loading marks a request in flight for the given frame.
func Loading(requestID string, frameSeq uint64) State {
	return State{
		Phase:     PhaseLoading,
		RequestID: requestID,
		FrameSeq:  frameSeq,
		UpdatedAt: time.Now(),
	}
}

// Success carries the model's description.
func Success(text string) State {
	return State{Phase: PhaseSuccess, Text: text, UpdatedAt: time.Now()}
}

// Failure carries a human-readable error message, possibly empty.
func Failure(message string) State {
	return State{Phase: PhaseError, Message: message, UpdatedAt: time.Now()}
}

// Busy reports whether a request is in flight.
func (s State) Busy() bool {
	return s.Phase == PhaseLoading
}

// Payload returns the success text or the error message, depending on phase.
func (s State) Payload() string {
	switch s.Phase {
	case PhaseSuccess:
		return s.Text
	case PhaseError:
		return s.Message
	default:
		return ""
	}
}

func (s State) String() string {
	switch s.Phase {
	case PhaseSuccess, PhaseError:
		return fmt.Sprintf("%s(%q)", s.Phase, s.Payload())
	default:
		return s.Phase.String()
	}
}
