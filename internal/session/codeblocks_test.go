package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFences(t *testing.T) {
	content := "Intro text.\n" +
		"```python\nprint('a')\nprint('b')\n```\n" +
		"Between blocks.\n" +
		"```\nplain block\n```\n" +
		"   ```Go doctest\nfmt.Println()\n```\n" +
		"Trailing prose."

	fences := extractFences(content)
	require.Len(t, fences, 3)

	assert.Equal(t, "python", fences[0].Language)
	assert.Equal(t, "print('a')\nprint('b')", fences[0].Code)

	assert.Equal(t, "text", fences[1].Language, "missing info string defaults to text")
	assert.Equal(t, "plain block", fences[1].Code)

	assert.Equal(t, "go", fences[2].Language, "info string is lowercased and cut at the first word")
}

func TestExtractFencesUnterminated(t *testing.T) {
	fences := extractFences("before\n```python\nno closing fence")
	assert.Empty(t, fences)
}

func TestExtractFencesNone(t *testing.T) {
	assert.Empty(t, extractFences("just prose, no code at all"))
	assert.Empty(t, extractFences(""))
}

func TestExtractFencesDeepIndentIsProse(t *testing.T) {
	// Four or more leading spaces is an indented code block in markdown,
	// not a fence opener.
	fences := extractFences("    ```python\n    x\n    ```")
	assert.Empty(t, fences)
}

func TestEndStatus(t *testing.T) {
	assert.Equal(t, "ended", string(endStatus("work_complete")))
	assert.Equal(t, "ended", string(endStatus("")))
	assert.Equal(t, "crashed", string(endStatus("process CRASHED unexpectedly")))
	assert.Equal(t, "crashed", string(endStatus("panic: nil deref")))
	assert.Equal(t, "crashed", string(endStatus("killed by signal")))
}
