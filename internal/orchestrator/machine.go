package orchestrator

import (
	"errors"
	"fmt"
)

// Phase is a state of the turn machine.
type Phase int

const (
	// PhaseTurnComplete is both the idle state between turns and the final
	// state of a turn.
	PhaseTurnComplete Phase = iota
	PhaseAwaitingModel
	PhaseExecutingTools
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingModel:
		return "AwaitingModel"
	case PhaseExecutingTools:
		return "ExecutingTools"
	case PhaseTurnComplete:
		return "TurnComplete"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// SignalKind names an input of the turn machine.
type SignalKind int

const (
	// SignalTurnStarted starts a turn from the idle state.
	SignalTurnStarted SignalKind = iota
	// SignalModelResponded reports a finished model response.
	SignalModelResponded
	// SignalToolsFolded reports that a tool batch was executed and merged.
	SignalToolsFolded
)

// Signal is one input of the turn machine.
type Signal struct {
	Kind SignalKind
	// ToolCalls is the number of tool invocations in a model response.
	ToolCalls int
}

// ErrInvalidTransition is returned for a signal the current phase does not
// accept.
var ErrInvalidTransition = errors.New("orchestrator: invalid transition")

// Next is the transition function of the turn machine.
func Next(p Phase, s Signal) (Phase, error) {
	switch {
	case p == PhaseTurnComplete && s.Kind == SignalTurnStarted:
		return PhaseAwaitingModel, nil
	case p == PhaseAwaitingModel && s.Kind == SignalModelResponded:
		if s.ToolCalls > 0 {
			return PhaseExecutingTools, nil
		}
		return PhaseTurnComplete, nil
	case p == PhaseExecutingTools && s.Kind == SignalToolsFolded:
		return PhaseAwaitingModel, nil
	}
	return p, fmt.Errorf("%w: %s on signal %d", ErrInvalidTransition, p, s.Kind)
}
