package agent

import (
	"fmt"
	"sort"
	"strings"
)

// Prompt construction for each agent. The output format instructions here
// are load-bearing: they match the waterfall in parse.go, with the explicit
// marker format first so well-behaved backends never hit a heuristic.

func architectPrompt(requirements string) string {
	var b strings.Builder
	b.WriteString("You are a software architect. Design a small Python application for the requirements below.\n\n")
	b.WriteString("Requirements:\n")
	b.WriteString(requirements)
	b.WriteString("\n\nRespond with a single JSON object and nothing else, with these fields:\n")
	b.WriteString(`{
  "components": ["..."],
  "dependencies": ["..."],
  "architecture_type": "monolithic|layered|modular",
  "complexity": "low|medium|high",
  "summary": "...",
  "file_plan": {"main.py": "what this file does", "...": "..."},
  "implementation_order": ["first file", "..."],
  "notes": "..."
}`)
	b.WriteString("\n\nKeep the design to at most five files with main.py as the entry point.\n")
	return b.String()
}

func coderPrompt(plan *Plan) string {
	var b strings.Builder
	b.WriteString("You are a software engineer. Implement the following architecture in Python.\n\n")
	fmt.Fprintf(&b, "Summary: %s\n", plan.Summary)
	fmt.Fprintf(&b, "Components: %s\n", strings.Join(plan.Components, ", "))
	b.WriteString("Files to produce:\n")
	for _, name := range plan.orderedFiles() {
		fmt.Fprintf(&b, "  - %s: %s\n", name, plan.FilePlan[name])
	}
	if plan.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", plan.Notes)
	}
	b.WriteString("\nOutput every file, complete, in this exact format:\n\n")
	b.WriteString("FILE_START: filename.py\n<entire file content>\nFILE_END\n\n")
	b.WriteString("Do not abbreviate file contents or use placeholders.\n")
	return b.String()
}

func testerPrompt(pkg *CodePackage) string {
	var b strings.Builder
	b.WriteString("You are a QA engineer. Write pytest test cases for the following code.\n\n")
	writeFiles(&b, pkg)
	b.WriteString("\nProduce one test file exercising the public behavior, in this exact format:\n\n")
	b.WriteString("FILE_START: test_main.py\n<entire file content>\nFILE_END\n\n")
	b.WriteString("Tests must be self-contained: import only from the files above and pytest.\n")
	return b.String()
}

func debuggerPrompt(req *FixRequest, current *CodePackage, latest *TestOutcome, history []Attempt, tailChars int) string {
	var b strings.Builder
	b.WriteString("You are a debugger. The following code fails its tests; produce a fix.\n\n")
	if req.FailureSummary != "" {
		fmt.Fprintf(&b, "Failure summary: %s\n\n", req.FailureSummary)
	}
	writeFiles(&b, current)
	fmt.Fprintf(&b, "\nVerification artifact: %s\n", req.TestFile)
	fmt.Fprintf(&b, "Verification exit code: %d\n", latest.ExitCode)
	b.WriteString("Verification output (tail):\n")
	b.WriteString(tail(latest.CombinedOutput(), tailChars))
	b.WriteString("\n")

	if len(history) > 0 {
		b.WriteString("\nPrevious attempts, oldest first. Every one of these FAILED.\n")
		b.WriteString("Do NOT repeat an approach listed here; try something different.\n\n")
		b.WriteString(renderHistory(history))
	}

	b.WriteString("\nRespond with your analysis between markers, then every changed file, complete:\n\n")
	b.WriteString("ANALYSIS_START\n<what is wrong and what you changed>\nANALYSIS_END\n")
	b.WriteString("FILE_START: filename.py\n<entire file content>\nFILE_END\n\n")
	b.WriteString("Only include files you changed. Never modify the test file.\n")
	return b.String()
}

// renderHistory serializes the attempt sequence for the prompt. Each entry
// is self-contained (files, pass/fail, truncated error and analysis) so a
// later attempt can't lose sight of what an earlier one already tried.
func renderHistory(attempts []Attempt) string {
	var b strings.Builder
	for _, a := range attempts {
		fmt.Fprintf(&b, "--- Attempt %d ---\n", a.Number)
		if len(a.FilesTouched) > 0 {
			fmt.Fprintf(&b, "Files changed: %s\n", strings.Join(a.FilesTouched, ", "))
		}
		switch {
		case a.Error != "":
			fmt.Fprintf(&b, "Result: attempt unusable (%s)\n", truncate(a.Error, 300))
		case a.Outcome != nil && a.Outcome.Passed:
			b.WriteString("Result: tests passed\n")
		case a.Outcome != nil:
			fmt.Fprintf(&b, "Result: tests FAILED (exit %d)\n", a.Outcome.ExitCode)
			fmt.Fprintf(&b, "Failure output: %s\n", truncate(a.Outcome.CombinedOutput(), 500))
		}
		if a.Analysis != "" {
			fmt.Fprintf(&b, "Its analysis was: %s\n", truncate(a.Analysis, 300))
		}
	}
	return b.String()
}

func writeFiles(b *strings.Builder, pkg *CodePackage) {
	fmt.Fprintf(b, "Entry point: %s\n\nCurrent files:\n", pkg.EntryPoint)
	for _, name := range pkg.FileNames() {
		fmt.Fprintf(b, "\nFILE_START: %s\n%s\nFILE_END\n", name, pkg.Files[name])
	}
}

// orderedFiles lists the plan's files in implementation order, with any file
// the order omits appended alphabetically.
func (p *Plan) orderedFiles() []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range p.ImplementationOrder {
		if _, ok := p.FilePlan[name]; ok && !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range p.FilePlan {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// tail returns the last n characters of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// truncate returns the first n characters of s, marking the cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
