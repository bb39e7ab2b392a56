package turn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarkdown_HeadingsAndBold(t *testing.T) {
	outline := ParseMarkdown("# Problem statement\n\nText with **Risks** inline.\n\n## Timeline\n")
	assert.Equal(t, []string{"Problem statement", "Timeline"}, outline.Headings)
	assert.Equal(t, []string{"Risks"}, outline.Bold)
}

func TestParseMarkdown_Table(t *testing.T) {
	src := "| Phase | Step | Task | Guard |\n|---|---|---|---|\n| PLAN | 1 | write rfc | G-RFC |\n| BUILD | 2 | code | – |\n"
	outline := ParseMarkdown(src)
	require.Len(t, outline.Tables, 1)

	table := outline.Tables[0]
	assert.Equal(t, []string{"Phase", "Step", "Task", "Guard"}, table.Header)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "G-RFC", table.Rows[0][3])
	assert.Equal(t, "–", table.Rows[1][3])
	assert.Equal(t, 3, table.Column("guard"))
	assert.Equal(t, -1, table.Column("owner"))
}

func TestParseMarkdown_FencedCode(t *testing.T) {
	outline := ParseMarkdown("```JS\nconsole.log(1)\n```\n\n```\nplain\n```\n")
	require.Len(t, outline.CodeBlocks, 2)
	assert.Equal(t, "js", outline.CodeBlocks[0].Language)
	assert.Equal(t, "", outline.CodeBlocks[1].Language)
	assert.Equal(t, "plain\n", outline.CodeBlocks[1].Code)
}

func TestParseMarkdown_Empty(t *testing.T) {
	assert.Equal(t, Outline{}, ParseMarkdown("   \n"))
}
