package engine

// State is one node of the orchestration pipeline.
type State int

const (
	StateGenerate State = iota
	StateValidateFunctions
	StateValidateSyntax
	StateExecute
	StateFix
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateGenerate:
		return "generate"
	case StateValidateFunctions:
		return "validate_functions"
	case StateValidateSyntax:
		return "validate_syntax"
	case StateExecute:
		return "execute"
	case StateFix:
		return "fix"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is an observed outcome that drives a state change.
type Event int

const (
	EventGenerated Event = iota
	EventFunctionsValidated
	EventSyntaxValidated
	EventExecuted
	EventExecFailed
	EventRepaired
	EventFatal
	EventOracleFailed
)

func (e Event) String() string {
	switch e {
	case EventGenerated:
		return "generated"
	case EventFunctionsValidated:
		return "functions_validated"
	case EventSyntaxValidated:
		return "syntax_validated"
	case EventExecuted:
		return "executed"
	case EventExecFailed:
		return "exec_failed"
	case EventRepaired:
		return "repaired"
	case EventFatal:
		return "fatal"
	case EventOracleFailed:
		return "oracle_failed"
	default:
		return "unknown"
	}
}

// Transition is the pure routing function of the pipeline. An execution
// failure routes to repair only while retryCount < maxRetries; the repair
// path re-executes without revisiting the validation states. Fatal and
// oracle failures terminate from any state.
func Transition(state State, event Event, retryCount, maxRetries int) State {
	if event == EventFatal || event == EventOracleFailed {
		return StateFailed
	}

	switch state {
	case StateGenerate:
		if event == EventGenerated {
			return StateValidateFunctions
		}
	case StateValidateFunctions:
		if event == EventFunctionsValidated {
			return StateValidateSyntax
		}
	case StateValidateSyntax:
		if event == EventSyntaxValidated {
			return StateExecute
		}
	case StateExecute:
		switch event {
		case EventExecuted:
			return StateDone
		case EventExecFailed:
			if retryCount < maxRetries {
				return StateFix
			}

			return StateFailed
		}
	case StateFix:
		if event == EventRepaired {
			return StateExecute
		}
	}

	return StateFailed
}
