package cli

import (
	"bufio"
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/gamemaster/agent"
	"github.com/richinex/gamemaster/game"
	"github.com/richinex/gamemaster/internal/dsa"
	"github.com/richinex/gamemaster/memory"
	"github.com/richinex/gamemaster/storage"
	"github.com/richinex/gamemaster/tools"
)

func TestListToolsGroupsEveryRegistry(t *testing.T) {
	var buf bytes.Buffer
	ListTools(&buf, false)
	out := buf.String()

	assert.Contains(t, out, "Narrator tools:")
	assert.Contains(t, out, "Session zero tools:")
	assert.Contains(t, out, "Memory reranker tools:")
	assert.Contains(t, out, tools.AddNPCName)
	assert.Contains(t, out, tools.FinalizeCharacterName)
	assert.Contains(t, out, tools.SelectMemoriesName)
	assert.NotContains(t, out, "Parameters:")
}

func TestListToolsVerboseShowsParameters(t *testing.T) {
	var buf bytes.Buffer
	ListTools(&buf, true)
	out := buf.String()

	assert.Contains(t, out, "Parameters:")
	assert.Contains(t, out, "memory_indices (array)")
	assert.Contains(t, out, "[terminal]")
}

func TestPromptSkipsBlankLinesAndStopsOnExit(t *testing.T) {
	scanner := bufio.NewScanner(strings.NewReader("\n   \nlook around\nquit\nnever read\n"))

	input, ok := prompt(scanner)
	require.True(t, ok)
	assert.Equal(t, "look around", input)

	_, ok = prompt(scanner)
	assert.False(t, ok)
}

func TestPromptEndOfInput(t *testing.T) {
	_, ok := prompt(bufio.NewScanner(strings.NewReader("")))
	assert.False(t, ok)
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "abc...", truncateString("abcdef", 3))
	assert.Equal(t, "ééé...", truncateString("éééééé", 3))
}

func TestPrintHelpers(t *testing.T) {
	var buf bytes.Buffer

	printMemories(&buf, nil)
	assert.Contains(t, buf.String(), "No memories found.")

	buf.Reset()
	printMemories(&buf, []memory.MemoryChunk{{Seq: 4, Text: "the bridge fell"}})
	assert.Equal(t, "[1] #4 the bridge fell\n", buf.String())

	buf.Reset()
	printCampaigns(&buf, []storage.Campaign{{
		ID: "c1", Genre: "noir", Tone: "grim",
		CreatedAt: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
	}})
	assert.Equal(t, "c1  2024-05-01 09:30  noir / grim\n", buf.String())

	buf.Reset()
	printTurns(&buf, []storage.Turn{{Number: 0, Narration: "Rain."}, {Number: 1, PlayerInput: "wait", Narration: "More rain."}})
	assert.Equal(t, "--- Turn 0 ---\nRain.\n\n--- Turn 1 ---\n> wait\nMore rain.\n\n", buf.String())

	buf.Reset()
	printToolCalls(&buf, game.TurnResult{})
	assert.Empty(t, buf.String())

	buf.Reset()
	printToolCalls(&buf, game.TurnResult{Passes: []game.PassResult{
		{Name: "simulation", ToolCalls: []agent.ToolCall{{Name: tools.SetWorldFlagName, Success: true, DurationMs: 2}}},
		{Name: "progression-judge", Err: errors.New("boom")},
	}})
	assert.Equal(t, "--- Pass simulation ---\n  set_world_flag (ok, 2ms)\n--- Pass progression-judge (failed: boom) ---\nTokens: 0 in, 0 out\n\n", buf.String())
}

func TestLoadSettingsAppliesFlagOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("GAMEMASTER_DB", "")
	db := filepath.Join(t.TempDir(), "game.db")

	settings, err := loadSettings(Options{Provider: "openai", MaxIter: 7, DBPath: db})
	require.NoError(t, err)
	assert.Equal(t, "openai", settings.LLM.Provider)
	assert.Equal(t, 7, settings.Agent.MaxIterations)
	assert.Equal(t, db, settings.Storage.DBPath)
}

func TestLoadSettingsRejectsUnknownProvider(t *testing.T) {
	_, err := loadSettings(Options{Provider: "nope"})
	assert.Error(t, err)
}

func TestMatchCampaignAcceptsShortIDs(t *testing.T) {
	campaigns := []storage.Campaign{{ID: "3f2a91-aa"}, {ID: "3f7c00-bb"}, {ID: "a1b2c3-cc"}}

	id, err := matchCampaign(campaigns, " a1 ")
	require.NoError(t, err)
	assert.Equal(t, "a1b2c3-cc", id)

	id, err = matchCampaign(campaigns, "3f7c00-bb")
	require.NoError(t, err)
	assert.Equal(t, "3f7c00-bb", id)

	_, err = matchCampaign(campaigns, "3f")
	assert.ErrorIs(t, err, dsa.ErrAmbiguous)

	_, err = matchCampaign(nil, "3f")
	assert.ErrorIs(t, err, dsa.ErrNoMatch)
}
