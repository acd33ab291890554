package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoFiles indicates a backend response from which no file contents could
// be extracted by any strategy.
var ErrNoFiles = errors.New("no files found in response")

// fileMarkerRe matches the explicit FILE_START/FILE_END framing the prompts
// ask for. Responses that honor it parse without any heuristics.
var fileMarkerRe = regexp.MustCompile(`(?s)FILE_START:[ \t]*([^\n]+)\n(.*?)FILE_END`)

// analysisMarkerRe matches the explicit analysis framing.
var analysisMarkerRe = regexp.MustCompile(`(?s)ANALYSIS_START\s*(.*?)\s*ANALYSIS_END`)

// fenceRe matches the start of a fenced code block, capturing the info
// string (language or language plus filename).
var fenceRe = regexp.MustCompile("^\\s*```(\\S*)[ \t]*(.*)$")

// filenameRe matches a plausible source filename.
var filenameRe = regexp.MustCompile(`^[\w./-]+\.[A-Za-z][\w]*$`)

// ParsePlan parses an architecture plan from the backend's response. The
// response must contain a JSON object with the required fields; anything
// less is a parse failure and the caller substitutes the fallback plan.
func ParsePlan(text string) (*Plan, error) {
	blob := extractJSONObject(text)
	if blob == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var plan Plan
	if err := json.Unmarshal([]byte(blob), &plan); err != nil {
		return nil, fmt.Errorf("parsing plan JSON: %w", err)
	}

	if len(plan.Components) == 0 {
		return nil, fmt.Errorf("plan missing required field: components")
	}
	if len(plan.FilePlan) == 0 {
		return nil, fmt.Errorf("plan missing required field: file_plan")
	}

	if plan.Dependencies == nil {
		plan.Dependencies = []string{}
	}
	if len(plan.ImplementationOrder) == 0 {
		for name := range plan.FilePlan {
			plan.ImplementationOrder = append(plan.ImplementationOrder, name)
		}
	}
	if plan.ArchitectureType == "" {
		plan.ArchitectureType = "monolithic"
	}
	if plan.Complexity == "" {
		plan.Complexity = "medium"
	}
	return &plan, nil
}

// FallbackPlan is the deterministic plan substituted when the architect's
// backend response cannot be parsed: three generic components and the
// canonical three-file layout. The pipeline depends on the architect stage
// succeeding, so a parse failure here must recover, not fail the call.
func FallbackPlan() *Plan {
	return &Plan{
		Components:       []string{"application entry point", "utility functions", "test data"},
		Dependencies:     []string{},
		ArchitectureType: "monolithic",
		Complexity:       "low",
		Summary:          "Minimal fallback architecture: entry point, utilities, and test data.",
		FilePlan: map[string]string{
			"main.py":      "Application entry point and top-level flow",
			"utils.py":     "Supporting functions used by main.py",
			"test_data.py": "Static data used by the application and its tests",
		},
		ImplementationOrder: []string{"utils.py", "test_data.py", "main.py"},
		Fallback:            true,
	}
}

// extractJSONObject returns the outermost JSON object in text, tolerating
// markdown fences and prose around it.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// ParseFiles extracts filename → content from a backend response. Strategies
// are tried in order of reliability:
//
//  1. explicit FILE_START/FILE_END markers
//  2. fenced code blocks with a filename on a header line, on the fence
//     line, or as the first comment inside the block
//  3. last resort: unlabeled code blocks named by what they look like
func ParseFiles(text string) (map[string]string, error) {
	if files := parseFileMarkers(text); len(files) > 0 {
		return files, nil
	}

	named, anonymous := parseFencedBlocks(text)
	if len(named) > 0 {
		return named, nil
	}
	if files := nameAnonymousBlocks(anonymous); len(files) > 0 {
		return files, nil
	}
	return nil, ErrNoFiles
}

// ParseAnalysis extracts the analysis text accompanying a fix. Explicit
// markers win; otherwise the prose before the first code block is taken.
func ParseAnalysis(text string) string {
	if m := analysisMarkerRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if fenceRe.MatchString(line) || strings.HasPrefix(strings.TrimSpace(line), "FILE_START:") {
			break
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
		if len(lines) >= 10 {
			break
		}
	}
	return strings.Join(lines, "\n")
}

func parseFileMarkers(text string) map[string]string {
	files := map[string]string{}
	for _, m := range fileMarkerRe.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		content := stripFences(strings.TrimSpace(m[2]))
		if validFilename(name) && content != "" {
			files[name] = content
		}
	}
	return files
}

// parseFencedBlocks walks the response line by line collecting fenced code
// blocks, resolving each block's filename from the surrounding context.
func parseFencedBlocks(text string) (named map[string]string, anonymous []string) {
	named = map[string]string{}

	var (
		inBlock     bool
		pendingName string
		blockName   string
		content     []string
	)

	flush := func() {
		body := strings.TrimSpace(strings.Join(content, "\n"))
		if body == "" {
			return
		}
		if blockName != "" {
			named[blockName] = body
		} else {
			anonymous = append(anonymous, body)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if !inBlock {
			if m := fenceRe.FindStringSubmatch(line); m != nil {
				inBlock = true
				content = content[:0]
				// Filename may ride on the fence line after the language,
				// or stand in place of it.
				blockName = extractFilename(m[2])
				if blockName == "" && validFilename(m[1]) {
					blockName = m[1]
				}
				if blockName == "" {
					blockName = pendingName
				}
				pendingName = ""
				continue
			}
			// A bare filename line (optionally decorated with #, *, =, -,
			// [], or backticks) names the next block.
			if name := extractFilename(line); name != "" {
				pendingName = name
			} else if strings.TrimSpace(line) != "" {
				pendingName = ""
			}
			continue
		}

		if strings.TrimSpace(line) == "```" || strings.TrimSpace(line) == "```END" {
			inBlock = false
			flush()
			blockName = ""
			continue
		}

		// First comment line inside the block can carry the filename.
		if len(content) == 0 && blockName == "" {
			if name := extractFilename(strings.TrimLeft(strings.TrimSpace(line), "#/ ")); name != "" {
				blockName = name
				continue
			}
		}
		content = append(content, line)
	}
	if inBlock {
		flush() // unterminated final block
	}
	return named, anonymous
}

// nameAnonymousBlocks assigns names to unlabeled code by what it contains:
// test-looking code becomes the canonical test artifact, main-looking code
// the entry point, and the rest get positional names.
func nameAnonymousBlocks(blocks []string) map[string]string {
	files := map[string]string{}
	for i, body := range blocks {
		var name string
		switch {
		case strings.Contains(body, "import pytest") || strings.Contains(body, "def test_"):
			name = "test_main.py"
		case strings.Contains(body, "__name__") || strings.Contains(body, "def main("):
			name = "main.py"
		case i == 0:
			name = "main.py"
		default:
			name = fmt.Sprintf("file_%d.py", i)
		}
		if _, taken := files[name]; taken {
			name = fmt.Sprintf("file_%d.py", i)
		}
		files[name] = body
	}
	return files
}

// extractFilename pulls a filename out of a decorated header line such as
// "### main.py", "**utils.py**", "[main.py]", "`main.py`:" or "# main.py".
func extractFilename(line string) string {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.Trim(trimmed, "#*=-[]` \t")
	trimmed = strings.TrimSuffix(trimmed, ":")
	trimmed = strings.TrimSpace(trimmed)
	if fields := strings.Fields(trimmed); len(fields) == 1 && validFilename(fields[0]) {
		return fields[0]
	}
	return ""
}

func validFilename(name string) bool {
	if !filenameRe.MatchString(name) {
		return false
	}
	// Reject things that merely look dotted, like "e.g" or version numbers.
	ext := name[strings.LastIndex(name, ".")+1:]
	switch strings.ToLower(ext) {
	case "py", "txt", "json", "csv", "md", "cfg", "ini", "toml", "yaml", "yml", "sh":
		return true
	default:
		return false
	}
}

// stripFences removes a leading and trailing markdown fence from content
// that arrived wrapped inside explicit file markers.
func stripFences(content string) string {
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && fenceRe.MatchString(lines[0]) {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
