// Package orchestrator drives the coding pipeline across the four agent
// endpoints. It owns the workflow state machine, spawns one subprocess per
// role, and sequences tool calls over their stdio transports.
package orchestrator

import (
	"time"

	"github.com/fyrsmithlabs/forged/internal/agent"
)

// State is the pipeline's position in the workflow.
type State string

const (
	// StateStart is the initial state before any endpoint is contacted.
	StateStart State = "start"

	// StateArchitecting is the requirements-to-plan stage.
	StateArchitecting State = "architecting"

	// StateCoding is the plan-to-code stage.
	StateCoding State = "coding"

	// StateTesting is the test generation and execution stage.
	StateTesting State = "testing"

	// StateDebugging is the single bounded fix stage, entered only after a
	// failing test run.
	StateDebugging State = "debugging"

	// StateDone is the terminal success state.
	StateDone State = "done"

	// StateFailed is the terminal failure state.
	StateFailed State = "failed"
)

// AllStates returns the workflow states in execution order.
func AllStates() []State {
	return []State{StateStart, StateArchitecting, StateCoding, StateTesting, StateDebugging, StateDone, StateFailed}
}

// Terminal reports whether the state ends the workflow.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Result is what a pipeline run produces. On StateDone, Package holds code
// whose tests passed. On StateFailed, Package holds the best code the run
// produced, with no guarantee beyond that, and Err says what stopped it.
type Result struct {
	State    State              `json:"state"`
	Plan     *agent.Plan        `json:"plan,omitempty"`
	Package  *agent.CodePackage `json:"code_package,omitempty"`
	TestFile string             `json:"test_file,omitempty"`
	Outcome  *agent.TestOutcome `json:"test_outcome,omitempty"`
	Report   *agent.DebugReport `json:"debug_report,omitempty"`
	Duration time.Duration      `json:"duration"`
	Err      string             `json:"error,omitempty"`
}

// Succeeded reports whether the run ended with passing tests.
func (r *Result) Succeeded() bool {
	return r.State == StateDone
}
