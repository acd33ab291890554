// Package agent implements the four pipeline agents (architect, coder,
// tester, debugger) and the data model that flows between them.
//
// Each agent delegates its real work to the LLM backend and interprets the
// response; the debugger additionally runs a bounded iterative refinement
// loop that re-verifies each proposed fix against the execution collaborator.
package agent

import (
	"sort"
	"time"
)

// Agent role names. Each role runs as its own endpoint process.
const (
	RoleArchitect = "architect"
	RoleCoder     = "coder"
	RoleTester    = "tester"
	RoleDebugger  = "debugger"
)

// Roles returns all roles in pipeline order.
func Roles() []string {
	return []string{RoleArchitect, RoleCoder, RoleTester, RoleDebugger}
}

// Plan is the architecture the architect produces and the coder consumes.
// It is immutable once produced; later stages never modify it.
type Plan struct {
	Components          []string          `json:"components"`
	Dependencies        []string          `json:"dependencies,omitempty"`
	ArchitectureType    string            `json:"architecture_type,omitempty"`
	Complexity          string            `json:"complexity,omitempty"`
	Summary             string            `json:"summary,omitempty"`
	FilePlan            map[string]string `json:"file_plan"`
	ImplementationOrder []string          `json:"implementation_order,omitempty"`
	Notes               string            `json:"notes,omitempty"`

	// Fallback marks a plan substituted after the backend's response could
	// not be parsed into the required shape.
	Fallback bool `json:"fallback,omitempty"`
}

// CodePackage is a complete set of generated source files. Stages that need
// to change a package build a new value via Clone rather than mutating the
// one they received, so no two stages ever alias the same files map.
type CodePackage struct {
	Files       map[string]string `json:"files"`
	WorkspaceID string            `json:"workspace_id"`
	EntryPoint  string            `json:"entry_point"`
	Plan        *Plan             `json:"plan,omitempty"` // back-reference, not owned
}

// Clone returns a deep copy of the package with its own files map. The plan
// back-reference is shared; plans are immutable.
func (p *CodePackage) Clone() *CodePackage {
	files := make(map[string]string, len(p.Files))
	for name, content := range p.Files {
		files[name] = content
	}
	return &CodePackage{
		Files:       files,
		WorkspaceID: p.WorkspaceID,
		EntryPoint:  p.EntryPoint,
		Plan:        p.Plan,
	}
}

// FileNames returns the package's filenames, sorted.
func (p *CodePackage) FileNames() []string {
	names := make([]string, 0, len(p.Files))
	for name := range p.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TestOutcome is the result of one verification run. It lives only as long
// as the decision it feeds, except when captured inside an Attempt.
type TestOutcome struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Passed   bool          `json:"passed"`
	Duration time.Duration `json:"duration,omitempty"`
	Report   string        `json:"report,omitempty"`
}

// CombinedOutput is stdout followed by stderr, for prompt context.
func (o *TestOutcome) CombinedOutput() string {
	if o.Stderr == "" {
		return o.Stdout
	}
	if o.Stdout == "" {
		return o.Stderr
	}
	return o.Stdout + "\n" + o.Stderr
}

// Attempt records one cycle of the refinement engine. The ordered sequence
// of attempts is the engine's memory: each later prompt renders all of them
// so the backend can't re-propose an approach that already failed.
type Attempt struct {
	Number       int          `json:"attempt"`
	FilesTouched []string     `json:"files_touched,omitempty"`
	Outcome      *TestOutcome `json:"outcome,omitempty"`
	Analysis     string       `json:"analysis,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// FixRequest is the debugger tool's input: the failing package, the outcome
// that failed it, and where the verification artifact lives.
type FixRequest struct {
	Package        *CodePackage `json:"code_package"`
	Outcome        *TestOutcome `json:"test_outcome"`
	TestFile       string       `json:"test_file"`
	FailureSummary string       `json:"failure_summary,omitempty"`
}

// DebugReport is the debugger tool's output: what happened, attempt by
// attempt. On success Package carries the corrected code and Outcome the
// passing verification; on exhaustion they carry the best-available (last)
// state with no guarantee of correctness.
type DebugReport struct {
	Success  bool         `json:"success"`
	Attempts []Attempt    `json:"attempts"`
	Package  *CodePackage `json:"code_package,omitempty"`
	Outcome  *TestOutcome `json:"test_outcome,omitempty"`
}

// TestArtifact is the tester's generate_tests output: the package augmented
// with the verification artifact, plus the artifact's filename.
type TestArtifact struct {
	Package  *CodePackage `json:"code_package"`
	TestFile string       `json:"test_file"`
}
