package game

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/richinex/gamemaster/agent"
	"github.com/richinex/gamemaster/embedding"
	"github.com/richinex/gamemaster/llm/llmtest"
	"github.com/richinex/gamemaster/memory"
	"github.com/richinex/gamemaster/storage"
	"github.com/richinex/gamemaster/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *storage.SqliteStorage
	index    *memory.IndexRegistry
	provider *llmtest.Scripted
	engine   *Engine
}

func newFixture(t *testing.T, replies ...llmtest.Reply) *fixture {
	t.Helper()
	return newFixtureWith(t, Options{MaxIterations: 4}, replies...)
}

func newFixtureWith(t *testing.T, opts Options, replies ...llmtest.Reply) *fixture {
	t.Helper()
	store, err := storage.NewSqliteInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	index := memory.NewIndexRegistry(embedding.NewHashing(128), memory.WithSnapshots(store))
	pipeline, err := memory.NewPipeline(index, nil, 20, 4, 5, 3)
	require.NoError(t, err)

	p := llmtest.New(replies...)
	e, err := New(p, store, pipeline, opts)
	require.NoError(t, err)
	return &fixture{store: store, index: index, provider: p, engine: e}
}

func (f *fixture) campaign(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	var id string
	require.NoError(t, f.store.WithTx(ctx, func(tx storage.WorldTx) error {
		c, err := tx.CreateCampaign(ctx, storage.Campaign{Genre: "fantasy", Tone: "grim", WorldIntro: "A drowned kingdom."})
		if err != nil {
			return err
		}
		id = c.ID
		return tx.SavePlayer(ctx, storage.PlayerState{
			CampaignID: id, Name: "Wren", Race: "human", Class: "scout",
			Attributes: map[string]int{"dexterity": 14}, Inventory: []string{"rope"},
		})
	}))
	return id
}

func TestPlayTurnUpdatesWorldAndMemory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		llmtest.Calls(llmtest.Call("c1", tools.AddNPCName, map[string]any{"name": "Mara", "role": "smith"})),
		llmtest.Text("Mara looks up from the anvil and nods."),
	)
	id := f.campaign(t)

	res, err := f.engine.PlayTurn(ctx, id, "  I greet the smith  ")
	require.NoError(t, err)
	assert.Equal(t, "Mara looks up from the anvil and nods.", res.Narration())
	assert.Equal(t, 1, res.Turn.Number)
	assert.Equal(t, "I greet the smith", res.Turn.PlayerInput)
	require.Len(t, res.ToolCalls, 1)
	assert.True(t, res.ToolCalls[0].Success)

	require.NoError(t, f.store.WithTx(ctx, func(tx storage.WorldTx) error {
		npc, err := tx.NPCByName(ctx, id, "mara")
		require.NoError(t, err)
		assert.Equal(t, "smith", npc.Role)
		return nil
	}))

	assert.Positive(t, f.index.Len(id))
	got, err := f.engine.Recall(ctx, id, "smith anvil")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Contains(t, got[0].Text, "Player: I greet the smith")
}

func TestPlayTurnPromptSections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, llmtest.Text("The rain keeps falling."))
	id := f.campaign(t)
	require.NoError(t, f.store.WithTx(ctx, func(tx storage.WorldTx) error {
		if _, err := tx.AddNPC(ctx, storage.NPC{CampaignID: id, Name: "Oren", Role: "ferryman", Status: "wary"}); err != nil {
			return err
		}
		if _, err := tx.AddQuest(ctx, storage.Quest{CampaignID: id, Name: "Cross the River", Status: storage.QuestActive}); err != nil {
			return err
		}
		if err := tx.SetFlag(ctx, id, "bridge_down", "true"); err != nil {
			return err
		}
		return tx.SaveDialogueContext(ctx, storage.DialogueContext{CampaignID: id, NPCName: "Oren", Topic: "fare", Summary: "Two silver, no less."})
	}))

	_, err := f.engine.PlayTurn(ctx, id, "I look around")
	require.NoError(t, err)

	reqs := f.provider.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, NarratorInstruction, reqs[0].SystemInstruction)
	assert.Len(t, reqs[0].Tools, len(tools.WorldTools()))

	prompt := reqs[0].Messages[0].Content
	for _, want := range []string{
		"[Player Input]\nI look around",
		"[Recent Dialogue]",
		"[Relevant Memory]",
		"Oren: Last topic was 'fare'.",
		"Oren (ferryman) - wary",
		"Cross the River: active",
		"bridge_down = true",
		"Name: Wren",
		"Genre: fantasy\nTone: grim",
	} {
		assert.Contains(t, prompt, want)
	}
	assert.Less(t, strings.Index(prompt, "[Player Input]"), strings.Index(prompt, "[Session Config]"))
}

func TestPlayTurnIncludesRecentDialogueAndMemory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, llmtest.Text("The lighthouse keeper waves you in."))
	id := f.campaign(t)

	_, err := f.engine.PlayTurn(ctx, id, "I walk to the lighthouse")
	require.NoError(t, err)
	_, err = f.engine.PlayTurn(ctx, id, "I ask the keeper about the lighthouse")
	require.NoError(t, err)

	second := f.provider.Requests()[1].Messages[0].Content
	assert.Contains(t, second, "Player: I walk to the lighthouse\nGM: The lighthouse keeper waves you in.")
	memorySection := second[strings.Index(second, "[Relevant Memory]"):strings.Index(second, "[NPC Dialogue Contexts]")]
	assert.Contains(t, memorySection, "lighthouse")
}

func TestPlayTurnFailedToolRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		llmtest.Calls(llmtest.Call("c1", tools.UpdateNPCStatusName, map[string]any{"npc_name": "Ghost", "new_status": "hostile"})),
		llmtest.Text("Nobody answers."),
	)
	id := f.campaign(t)

	res, err := f.engine.PlayTurn(ctx, id, "I shout for Ghost")
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.False(t, res.ToolCalls[0].Success)

	msgs := f.provider.Requests()[1].Messages
	assert.True(t, msgs[len(msgs)-1].IsError)
	assert.Contains(t, msgs[len(msgs)-1].Content, "not found")
}

func TestPlayTurnErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, llmtest.Fail(errors.New("502")))
	id := f.campaign(t)

	_, err := f.engine.PlayTurn(ctx, id, "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = f.engine.PlayTurn(ctx, "no-such-campaign", "hello")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.engine.PlayTurn(ctx, id, "hello")
	assert.ErrorIs(t, err, ErrTurnFailed)
	assert.ErrorIs(t, err, agent.ErrModelTransport)

	turns, err := f.engine.History(ctx, id, 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestPlayTurnIterationCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, llmtest.Calls(llmtest.Call("c", tools.SetWorldFlagName, map[string]any{"key": "k", "value": "v"})))
	id := f.campaign(t)

	_, err := f.engine.PlayTurn(ctx, id, "loop forever")
	assert.ErrorIs(t, err, agent.ErrIterationCapExceeded)
	assert.Equal(t, 4, f.provider.Rounds())
}

func TestOpeningScene(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, llmtest.Text("Salt wind. A bell tolls beneath the waves."))
	id := f.campaign(t)

	res, ok, err := f.engine.OpeningScene(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, res.Turn.Number)
	assert.Empty(t, res.Turn.PlayerInput)
	assert.Contains(t, f.provider.Requests()[0].Messages[0].Content, "A drowned kingdom.")

	_, ok, err = f.engine.OpeningScene(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, f.provider.Rounds())
}

func TestSessionZeroConversationThenFinalize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		llmtest.Text("A grim fantasy it is. Who is your character?"),
		llmtest.Calls(llmtest.Call("fin", tools.FinalizeCharacterName, map[string]any{
			"genre": "fantasy", "tone": "grim", "world_intro": "Ash everywhere.",
			"player_name": "Kest", "backstory": "A deserter.",
			"attributes": map[string]any{"strength": 14}, "skills": []any{"survival"},
		})),
	)

	draft, greeting, err := f.engine.NewDraft(ctx)
	require.NoError(t, err)
	assert.Equal(t, Greeting, greeting)

	res, err := f.engine.SessionZeroTurn(ctx, draft, "grim fantasy please")
	require.NoError(t, err)
	assert.Nil(t, res.Campaign)
	assert.Equal(t, "A grim fantasy it is. Who is your character?", res.Reply)

	res, err = f.engine.SessionZeroTurn(ctx, draft, "Kest, a deserter. Let's go.")
	require.NoError(t, err)
	require.NotNil(t, res.Campaign)
	assert.Equal(t, "Kest", res.Campaign.PlayerName)

	second := f.provider.Requests()[1]
	assert.Equal(t, GuideInstruction, second.SystemInstruction)
	require.Len(t, second.Messages, 4)
	assert.Equal(t, Greeting, second.Messages[0].Content)

	campaigns, err := f.engine.Campaigns(ctx)
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	assert.Equal(t, res.Campaign.CampaignID, campaigns[0].ID)

	drafts, err := f.engine.Drafts(ctx)
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestDeleteAndRestartCampaign(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, llmtest.Text("Fog rolls in."))
	id := f.campaign(t)

	_, err := f.engine.PlayTurn(ctx, id, "I wait")
	require.NoError(t, err)
	n, err := f.engine.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Positive(t, n)

	require.NoError(t, f.engine.RestartCampaign(ctx, id))
	assert.False(t, f.index.Has(id))
	turns, err := f.engine.History(ctx, id, 5)
	require.NoError(t, err)
	assert.Empty(t, turns)

	require.NoError(t, f.engine.DeleteCampaign(ctx, id))
	_, err = f.engine.Recall(ctx, id, "fog")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOpenRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, llmtest.Text("The tide turns."))
	id := f.campaign(t)
	_, err := f.engine.PlayTurn(ctx, id, "I watch the tide")
	require.NoError(t, err)
	_, err = f.engine.Snapshot(ctx, id)
	require.NoError(t, err)
	want := f.index.Len(id)

	f.index.Drop(id)
	require.NoError(t, f.engine.Open(ctx, id))
	assert.Equal(t, want, f.index.Len(id))
}

func TestParseNarration(t *testing.T) {
	text, simulate := parseNarration("  plain ")
	assert.Equal(t, "plain", text)
	assert.False(t, simulate)

	text, simulate = parseNarration("```json\n{\"narration\": \"The door opens.\", \"run_simulation\": false}\n```")
	assert.Equal(t, "The door opens.", text)
	assert.False(t, simulate)

	text, simulate = parseNarration(`{"narration": "Weeks pass.", "run_simulation": true}`)
	assert.Equal(t, "Weeks pass.", text)
	assert.True(t, simulate)

	text, simulate = parseNarration(`{"narration": "", "run_simulation": true}`)
	assert.Equal(t, `{"narration": "", "run_simulation": true}`, text)
	assert.False(t, simulate)
}

func passNames(passes []PassResult) []string {
	names := make([]string, len(passes))
	for i, p := range passes {
		names[i] = p.Name
	}
	return names
}

func TestWorldPassesRunOnCadence(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWith(t, Options{MaxIterations: 4, SimulationEvery: 2},
		llmtest.Text("The tide turns."),
		llmtest.Text("Gulls circle."),
		llmtest.Calls(llmtest.Call("s1", tools.SetWorldFlagName, map[string]any{"key": "season", "value": "winter"})),
		llmtest.Text("Winter settles on the coast."),
		llmtest.Text("No progression."),
		llmtest.Text("Snow falls."),
	)
	id := f.campaign(t)

	res, err := f.engine.PlayTurn(ctx, id, "I wait")
	require.NoError(t, err)
	assert.Empty(t, res.Passes)

	res, err = f.engine.PlayTurn(ctx, id, "I wait longer")
	require.NoError(t, err)
	assert.Equal(t, "Gulls circle.", res.Narration())
	require.Equal(t, []string{"simulation", "progression-judge"}, passNames(res.Passes))
	assert.NoError(t, res.Passes[0].Err)
	require.Len(t, res.Passes[0].ToolCalls, 1)
	assert.True(t, res.Passes[0].ToolCalls[0].Success)
	assert.Equal(t, "No progression.", res.Passes[1].Text)

	reqs := f.provider.Requests()
	require.Len(t, reqs, 5)
	assert.Equal(t, SimulationInstruction, reqs[2].SystemInstruction)
	assert.Contains(t, reqs[2].Messages[0].Content, "I wait longer")
	assert.Equal(t, ProgressionInstruction, reqs[4].SystemInstruction)
	assert.Contains(t, reqs[4].Messages[0].Content, "Wren")

	require.NoError(t, f.store.WithTx(ctx, func(tx storage.WorldTx) error {
		flags, err := tx.Flags(ctx, id)
		require.NoError(t, err)
		require.Len(t, flags, 1)
		assert.Equal(t, "season", flags[0].Key)
		assert.Equal(t, "winter", flags[0].Value)
		return nil
	}))

	res, err = f.engine.PlayTurn(ctx, id, "I build a fire")
	require.NoError(t, err)
	assert.Equal(t, "Snow falls.", res.Narration())
	assert.Empty(t, res.Passes)
	assert.Len(t, f.provider.Requests(), 6)
}

func TestFlaggedTurnRunsProgression(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWith(t, Options{MaxIterations: 4, SimulationEvery: -1},
		llmtest.Text(`{"narration": "Days pass in the thieves' den.", "run_simulation": true}`),
		llmtest.Text("The city sleeps."),
		llmtest.Text("Wren practised on every lock in the den and should improve."),
		llmtest.Calls(llmtest.Call("p1", tools.UpdatePlayerCharacterName, map[string]any{"skill_updates": map[string]any{"lockpicking": 11}})),
		llmtest.Text("Lockpicking raised."),
	)
	id := f.campaign(t)

	res, err := f.engine.PlayTurn(ctx, id, "I train for a week")
	require.NoError(t, err)
	assert.Equal(t, "Days pass in the thieves' den.", res.Narration())
	assert.True(t, res.SimulationRequested)
	require.Equal(t, []string{"simulation", "progression-judge", "progression"}, passNames(res.Passes))
	require.Len(t, res.Passes[2].ToolCalls, 1)
	assert.True(t, res.Passes[2].ToolCalls[0].Success)

	reqs := f.provider.Requests()
	require.Len(t, reqs, 5)
	assert.Len(t, reqs[1].Tools, len(tools.SimulationTools()))
	assert.Empty(t, reqs[2].Tools)
	require.Len(t, reqs[3].Tools, 1)
	assert.Equal(t, tools.UpdatePlayerCharacterName, reqs[3].Tools[0].Name)
	assert.Contains(t, reqs[3].Messages[0].Content, "should improve")

	require.NoError(t, f.store.WithTx(ctx, func(tx storage.WorldTx) error {
		p, err := tx.Player(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 11, p.Skills["lockpicking"])
		assert.Equal(t, 14, p.Attributes["dexterity"])
		return nil
	}))
}

func TestNegativeCadenceWaitsForRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWith(t, Options{MaxIterations: 4, SimulationEvery: -1}, llmtest.Text("Quiet."))
	id := f.campaign(t)

	for i := 0; i < DefaultSimulationEvery+1; i++ {
		res, err := f.engine.PlayTurn(ctx, id, "I wait")
		require.NoError(t, err)
		assert.Empty(t, res.Passes)
	}
	assert.Len(t, f.provider.Requests(), DefaultSimulationEvery+1)
}
