package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlanFromProseWrappedJSON(t *testing.T) {
	response := "Here is the architecture you asked for:\n\n```json\n" +
		`{
  "components": ["cli", "store"],
  "dependencies": ["click"],
  "architecture_type": "layered",
  "complexity": "medium",
  "summary": "A small CLI with a storage layer.",
  "file_plan": {"main.py": "entry point", "store.py": "storage"},
  "implementation_order": ["store.py", "main.py"]
}` + "\n```\n\nLet me know if you want changes."

	plan, err := ParsePlan(response)
	require.NoError(t, err)
	assert.Equal(t, []string{"cli", "store"}, plan.Components)
	assert.Equal(t, "layered", plan.ArchitectureType)
	assert.Equal(t, []string{"store.py", "main.py"}, plan.ImplementationOrder)
	assert.False(t, plan.Fallback)
}

func TestParsePlanDefaultsMissingOptionalFields(t *testing.T) {
	plan, err := ParsePlan(`{"components":["core"],"file_plan":{"main.py":"everything"}}`)
	require.NoError(t, err)
	assert.Equal(t, "monolithic", plan.ArchitectureType)
	assert.Equal(t, "medium", plan.Complexity)
	assert.Equal(t, []string{"main.py"}, plan.ImplementationOrder)
	// A plan lacking dependencies carries an empty list, never null.
	assert.Equal(t, []string{}, plan.Dependencies)
}

func TestParsePlanRejectsMissingRequiredFields(t *testing.T) {
	_, err := ParsePlan(`{"components":["core"]}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file_plan")

	_, err = ParsePlan(`{"file_plan":{"main.py":"x"}}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "components")

	_, err = ParsePlan("no json here at all")
	require.Error(t, err)
}

func TestFallbackPlanShape(t *testing.T) {
	plan := FallbackPlan()
	assert.True(t, plan.Fallback)
	assert.Len(t, plan.Components, 3)
	require.Len(t, plan.FilePlan, 3)
	for _, name := range []string{"main.py", "utils.py", "test_data.py"} {
		assert.Contains(t, plan.FilePlan, name)
	}
}

func TestParseFilesExplicitMarkers(t *testing.T) {
	response := `Some preamble.

FILE_START: main.py
print("hello")
FILE_END

FILE_START: utils.py
def helper():
    return 42
FILE_END`

	files, err := ParseFiles(response)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, `print("hello")`, files["main.py"])
	assert.Contains(t, files["utils.py"], "def helper()")
}

func TestParseFilesMarkersWithNestedFences(t *testing.T) {
	response := "FILE_START: main.py\n```python\nprint(\"hi\")\n```\nFILE_END"

	files, err := ParseFiles(response)
	require.NoError(t, err)
	assert.Equal(t, `print("hi")`, files["main.py"])
}

func TestParseFilesHeaderLineBeforeFence(t *testing.T) {
	response := "### main.py\n```python\nx = 1\n```\n\n**utils.py**\n```python\ny = 2\n```"

	files, err := ParseFiles(response)
	require.NoError(t, err)
	assert.Equal(t, "x = 1", files["main.py"])
	assert.Equal(t, "y = 2", files["utils.py"])
}

func TestParseFilesFilenameOnFenceLine(t *testing.T) {
	files, err := ParseFiles("```main.py\nx = 1\n```")
	require.NoError(t, err)
	assert.Equal(t, "x = 1", files["main.py"])

	files, err = ParseFiles("```python main.py\nx = 2\n```")
	require.NoError(t, err)
	assert.Equal(t, "x = 2", files["main.py"])
}

func TestParseFilesFilenameInFirstComment(t *testing.T) {
	files, err := ParseFiles("```python\n# utils.py\ndef f():\n    pass\n```")
	require.NoError(t, err)
	require.Contains(t, files, "utils.py")
	assert.NotContains(t, files["utils.py"], "utils.py")
}

func TestParseFilesAnonymousBlockHeuristics(t *testing.T) {
	response := "```python\nimport pytest\n\ndef test_thing():\n    assert True\n```"
	files, err := ParseFiles(response)
	require.NoError(t, err)
	require.Contains(t, files, "test_main.py")

	response = "```python\nif __name__ == \"__main__\":\n    run()\n```"
	files, err = ParseFiles(response)
	require.NoError(t, err)
	require.Contains(t, files, "main.py")
}

func TestParseFilesUnterminatedFinalBlock(t *testing.T) {
	files, err := ParseFiles("### main.py\n```python\nx = 1")
	require.NoError(t, err)
	assert.Equal(t, "x = 1", files["main.py"])
}

func TestParseFilesNothingUsable(t *testing.T) {
	_, err := ParseFiles("I could not produce any code for this request.")
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestParseFilesRejectsImplausibleNames(t *testing.T) {
	// "e.g" looks dotted but is not a filename; the block falls through to
	// the anonymous heuristics instead.
	files, err := ParseFiles("e.g\n```python\ndef main():\n    pass\n```")
	require.NoError(t, err)
	assert.Contains(t, files, "main.py")
}

func TestParseAnalysisMarkers(t *testing.T) {
	text := "ANALYSIS_START\nThe loop was off by one.\nANALYSIS_END\n\nFILE_START: main.py\nx = 1\nFILE_END"
	assert.Equal(t, "The loop was off by one.", ParseAnalysis(text))
}

func TestParseAnalysisFallsBackToLeadingProse(t *testing.T) {
	text := "The bug is a missing import.\n\n```python\nimport os\n```"
	assert.Equal(t, "The bug is a missing import.", ParseAnalysis(text))
}
