// Package game runs the narrative: session zero, narrative turns and
// campaign lifecycle on top of the dispatch loop, the world store and
// semantic memory.
package game

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/richinex/gamemaster/agent"
	ijson "github.com/richinex/gamemaster/internal/json"
	"github.com/richinex/gamemaster/llm"
	"github.com/richinex/gamemaster/memory"
	"github.com/richinex/gamemaster/storage"
	"github.com/richinex/gamemaster/tools"
)

var (
	// ErrEmptyInput is returned for blank player input.
	ErrEmptyInput = errors.New("empty player input")
	// ErrTurnFailed wraps a narrative loop that ended without narration.
	ErrTurnFailed = errors.New("turn failed")
)

// Store is the persistence the engine needs: world state plus the
// explicit memory snapshots.
type Store interface {
	storage.WorldStore
	storage.SnapshotStorage
}

// DefaultSimulationEvery is how many turns may pass before the world
// simulation and progression passes run unasked.
const DefaultSimulationEvery = 5

// simulationWindow is how many recent turns the passes look at.
const simulationWindow = 5

// Options tunes an Engine. Zero values select defaults.
type Options struct {
	MaxIterations int
	RecentTurns   int
	// SimulationEvery runs the world passes after this many turns without
	// one. Negative runs them only when the narrator asks.
	SimulationEvery int
	// Drafts keeps unfinished session-zero transcripts. Defaults to an
	// in-memory store.
	Drafts storage.ConversationStorage
	Logger *slog.Logger
}

// Engine plays campaigns. It is safe for concurrent use across campaigns.
type Engine struct {
	store    Store
	memory   *memory.Pipeline
	narrator *agent.Loop
	guide    *agent.Loop
	drafts   storage.ConversationStorage
	recent   int
	logger   *slog.Logger

	simulator *agent.Loop
	judge     *agent.Loop
	trainer   *agent.Loop
	every     int

	mu       sync.Mutex
	sinceSim map[string]int
}

// New creates an engine. The pipeline's index must be backed by the same
// store for snapshots to line up with DeleteCampaign.
func New(provider llm.Provider, store Store, pipeline *memory.Pipeline, opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Drafts == nil {
		opts.Drafts = storage.NewInMemoryStorage()
	}
	if opts.RecentTurns <= 0 {
		opts.RecentTurns = 3
	}
	if opts.SimulationEvery == 0 {
		opts.SimulationEvery = DefaultSimulationEvery
	}

	narrator, err := agent.NewBuilder(provider).
		Name("narrator").
		Tools(tools.WorldTools()...).
		Store(store).
		SystemInstruction(NarratorInstruction).
		MaxIterations(opts.MaxIterations).
		Logger(opts.Logger).
		Build()
	if err != nil {
		return nil, err
	}
	guide, err := agent.NewBuilder(provider).
		Name("session-zero").
		Tools(tools.SessionZeroTools()...).
		Store(store).
		SystemInstruction(GuideInstruction).
		MaxIterations(opts.MaxIterations).
		Logger(opts.Logger).
		Build()
	if err != nil {
		return nil, err
	}

	simulator, err := agent.NewBuilder(provider).
		Name("simulation").
		Tools(tools.SimulationTools()...).
		Store(store).
		SystemInstruction(SimulationInstruction).
		MaxIterations(opts.MaxIterations).
		Logger(opts.Logger).
		Build()
	if err != nil {
		return nil, err
	}
	judge, err := agent.NewBuilder(provider).
		Name("progression-judge").
		SystemInstruction(ProgressionInstruction).
		MaxIterations(1).
		Logger(opts.Logger).
		Build()
	if err != nil {
		return nil, err
	}
	trainer, err := agent.NewBuilder(provider).
		Name("progression").
		Tools(tools.ProgressionTools()...).
		Store(store).
		MaxIterations(opts.MaxIterations).
		Logger(opts.Logger).
		Build()
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:     store,
		memory:    pipeline,
		narrator:  narrator,
		guide:     guide,
		drafts:    opts.Drafts,
		recent:    opts.RecentTurns,
		logger:    opts.Logger,
		simulator: simulator,
		judge:     judge,
		trainer:   trainer,
		every:     opts.SimulationEvery,
		sinceSim:  make(map[string]int),
	}, nil
}

// TurnResult describes one completed narrative turn.
type TurnResult struct {
	Turn      storage.Turn
	Memories  []memory.MemoryChunk
	ToolCalls []agent.ToolCall
	// Usage covers the narrator and any passes.
	Usage llm.TokenUsage
	// SimulationRequested is set when the narrator asked for the world to
	// move on off-screen.
	SimulationRequested bool
	// Passes are the follow-up passes run after the turn, in order.
	Passes []PassResult
}

// PassResult describes one follow-up loop run after a turn.
type PassResult struct {
	Name      string
	Text      string
	ToolCalls []agent.ToolCall
	Usage     llm.TokenUsage
	Err       error
}

// Narration is the narrator's text for the turn.
func (r TurnResult) Narration() string {
	return r.Turn.Narration
}

// PlayTurn runs one narrative turn: recall relevant memory, build the
// prompt from world state, let the narrator update the world and narrate,
// then record the turn and remember the exchange. When the narrator asks,
// or enough turns have passed, the world simulation and progression
// passes follow.
//
// When the turn is recorded but cannot be remembered the populated result
// is returned together with the error. Pass failures are reported in
// TurnResult.Passes, not as an error.
func (e *Engine) PlayTurn(ctx context.Context, campaignID, input string) (TurnResult, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return TurnResult{}, ErrEmptyInput
	}
	if err := e.Open(ctx, campaignID); err != nil {
		return TurnResult{}, err
	}

	memories, err := e.memory.Recall(ctx, campaignID, input)
	if err != nil {
		return TurnResult{}, err
	}
	state, err := e.state(ctx, campaignID)
	if err != nil {
		return TurnResult{}, err
	}
	prompt := buildPrompt(input, state, memories)

	res, err := e.narrate(ctx, campaignID, input, prompt)
	res.Memories = memories
	if res.Turn.ID == 0 {
		return res, err
	}
	if e.due(campaignID, res.SimulationRequested) {
		res.Passes = e.worldPasses(ctx, campaignID)
		for i := range res.Passes {
			res.Usage.Add(&res.Passes[i].Usage)
		}
	}
	return res, err
}

// due counts a played turn and reports whether the passes should run,
// resetting the count when they do.
func (e *Engine) due(campaignID string, requested bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinceSim[campaignID]++
	if requested || (e.every > 0 && e.sinceSim[campaignID] >= e.every) {
		delete(e.sinceSim, campaignID)
		return true
	}
	return false
}

func (e *Engine) forget(campaignID string) {
	e.mu.Lock()
	delete(e.sinceSim, campaignID)
	e.mu.Unlock()
}

// worldPasses runs the off-screen simulation, then judges and applies
// player progression.
func (e *Engine) worldPasses(ctx context.Context, campaignID string) []PassResult {
	state, err := e.load(ctx, campaignID, simulationWindow)
	if err != nil {
		return []PassResult{{Name: e.simulator.Name(), Err: err}}
	}
	passes := []PassResult{e.pass(ctx, e.simulator, campaignID, simulationPrompt(state))}
	if state.Player == nil {
		return passes
	}

	judged := e.pass(ctx, e.judge, campaignID, progressionPrompt(state))
	passes = append(passes, judged)
	if judged.Err != nil || judged.Text == "" || strings.Contains(strings.ToLower(judged.Text), noProgression) {
		return passes
	}
	return append(passes, e.pass(ctx, e.trainer, campaignID, progressionToolPrompt(judged.Text, state.Player)))
}

func (e *Engine) pass(ctx context.Context, loop *agent.Loop, campaignID, prompt string) PassResult {
	out := loop.Run(ctx, agent.Session{
		History: []llm.ChatMessage{llm.UserMessage(prompt)},
		ScopeID: campaignID,
	})
	p := PassResult{
		Name:      loop.Name(),
		Text:      strings.TrimSpace(out.Text),
		ToolCalls: out.ToolCalls(),
		Usage:     out.Usage,
	}
	if out.Failed() {
		p.Err = out.Err
		e.logger.Warn("pass failed", "pass", p.Name, "campaign", campaignID, "error", out.Err)
		return p
	}
	e.logger.Debug("pass finished", "pass", p.Name, "campaign", campaignID, "tool_calls", len(p.ToolCalls))
	return p
}

// OpeningScene narrates the start of a campaign that has no turns yet and
// records it as the first turn. For a campaign already under way it
// returns ok=false and does nothing.
func (e *Engine) OpeningScene(ctx context.Context, campaignID string) (res TurnResult, ok bool, err error) {
	if err := e.Open(ctx, campaignID); err != nil {
		return TurnResult{}, false, err
	}
	state, err := e.state(ctx, campaignID)
	if err != nil {
		return TurnResult{}, false, err
	}
	if state.Turns > 0 {
		return TurnResult{}, false, nil
	}
	res, err = e.narrate(ctx, campaignID, "", openingPrompt(state))
	return res, err == nil || res.Turn.ID != 0, err
}

func (e *Engine) narrate(ctx context.Context, campaignID, input, prompt string) (TurnResult, error) {
	out := e.narrator.Run(ctx, agent.Session{
		History: []llm.ChatMessage{llm.UserMessage(prompt)},
		ScopeID: campaignID,
	})
	res := TurnResult{ToolCalls: out.ToolCalls(), Usage: out.Usage}
	if out.Failed() {
		return res, fmt.Errorf("%w: %w", ErrTurnFailed, out.Err)
	}
	narration, simulate := parseNarration(out.Text)
	res.SimulationRequested = simulate
	if narration == "" {
		return res, fmt.Errorf("%w: narrator returned no text", ErrTurnFailed)
	}

	err := e.store.WithTx(ctx, func(tx storage.WorldTx) error {
		t, err := tx.AppendTurn(ctx, storage.Turn{
			CampaignID:  campaignID,
			PlayerInput: input,
			Narration:   narration,
			Prompt:      prompt,
		})
		res.Turn = t
		return err
	})
	if err != nil {
		return res, fmt.Errorf("record turn: %w", err)
	}
	e.logger.Info("turn recorded", "campaign", campaignID, "turn", res.Turn.Number,
		"tool_calls", len(res.ToolCalls), "rounds", out.Rounds)

	exchange := "GM: " + narration
	if input != "" {
		exchange = "Player: " + input + "\n" + exchange
	}
	if _, err := e.memory.Ingest(ctx, campaignID, exchange); err != nil {
		e.logger.Warn("turn not remembered", "campaign", campaignID, "turn", res.Turn.Number, "error", err)
		return res, fmt.Errorf("turn %d recorded but not remembered: %w", res.Turn.Number, err)
	}
	return res, nil
}

// parseNarration trims the reply and unwraps the
// {"narration": "...", "run_simulation": bool} envelope, reporting whether
// the narrator asked for the world to move on. Plain text never asks.
func parseNarration(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.Contains(text, `"narration"`) {
		return text, false
	}
	env, err := ijson.Decode[struct {
		Narration     string `json:"narration"`
		RunSimulation bool   `json:"run_simulation"`
	}](text)
	if err != nil || strings.TrimSpace(env.Narration) == "" {
		return text, false
	}
	return strings.TrimSpace(env.Narration), env.RunSimulation
}

func (e *Engine) state(ctx context.Context, campaignID string) (worldState, error) {
	return e.load(ctx, campaignID, e.recent)
}

func (e *Engine) load(ctx context.Context, campaignID string, recent int) (worldState, error) {
	var s worldState
	err := e.store.WithTx(ctx, func(tx storage.WorldTx) error {
		var err error
		s, err = loadState(ctx, tx, campaignID, recent)
		return err
	})
	return s, err
}

// SessionZeroResult is the outcome of one session-zero exchange.
type SessionZeroResult struct {
	// Reply is the guide's answer, or a confirmation once the campaign exists.
	Reply string
	// Campaign is set when the guide finalized the character and world.
	Campaign *tools.Finalized
}

// NewDraft starts a session-zero transcript and returns its ID and the
// guide's greeting.
func (e *Engine) NewDraft(ctx context.Context) (string, string, error) {
	id := uuid.NewString()
	if err := e.drafts.Save(ctx, id, []llm.ChatMessage{llm.AssistantMessage(Greeting)}); err != nil {
		return "", "", fmt.Errorf("save draft: %w", err)
	}
	return id, Greeting, nil
}

// SessionZeroTurn continues the draft transcript with the player's input.
// Once the guide finalizes, the campaign exists and the draft is removed.
func (e *Engine) SessionZeroTurn(ctx context.Context, draftID, input string) (SessionZeroResult, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return SessionZeroResult{}, ErrEmptyInput
	}
	transcript, err := e.drafts.Load(ctx, draftID)
	if err != nil {
		return SessionZeroResult{}, fmt.Errorf("load draft: %w", err)
	}
	transcript = append(transcript, llm.UserMessage(input))

	out := e.guide.Run(ctx, agent.Session{History: transcript})
	switch out.Kind {
	case agent.OutcomeFailed:
		return SessionZeroResult{}, fmt.Errorf("session zero: %w", out.Err)
	case agent.OutcomeTerminal:
		fin, ok := out.Payload.(tools.Finalized)
		if !ok {
			return SessionZeroResult{}, fmt.Errorf("session zero: unexpected payload %T", out.Payload)
		}
		if err := e.drafts.Delete(ctx, draftID); err != nil {
			e.logger.Warn("draft not removed", "draft", draftID, "error", err)
		}
		e.logger.Info("campaign created", "campaign", fin.CampaignID, "player", fin.PlayerName)
		return SessionZeroResult{
			Reply:    fmt.Sprintf("Success: world and character created for %s. Your adventure is ready.", fin.PlayerName),
			Campaign: &fin,
		}, nil
	}

	reply := strings.TrimSpace(out.Text)
	if err := e.drafts.Save(ctx, draftID, append(transcript, llm.AssistantMessage(reply))); err != nil {
		return SessionZeroResult{}, fmt.Errorf("save draft: %w", err)
	}
	return SessionZeroResult{Reply: reply}, nil
}

// Drafts lists unfinished session-zero transcripts.
func (e *Engine) Drafts(ctx context.Context) ([]string, error) {
	return e.drafts.ListSessions(ctx)
}

// Recall runs the memory query path for a campaign.
func (e *Engine) Recall(ctx context.Context, campaignID, query string) ([]memory.MemoryChunk, error) {
	if err := e.Open(ctx, campaignID); err != nil {
		return nil, err
	}
	return e.memory.Recall(ctx, campaignID, query)
}

// Open checks that the campaign exists and loads its memory snapshot if
// its index is not live yet.
func (e *Engine) Open(ctx context.Context, campaignID string) error {
	err := e.store.WithTx(ctx, func(tx storage.WorldTx) error {
		_, err := tx.Campaign(ctx, campaignID)
		return err
	})
	if err != nil {
		return err
	}
	if e.memory.Index.Has(campaignID) {
		return nil
	}
	n, err := e.memory.Index.Restore(ctx, campaignID)
	switch {
	case errors.Is(err, memory.ErrNoSnapshotStore):
		return nil
	case err != nil:
		return err
	}
	if n > 0 {
		e.logger.Debug("memory restored", "campaign", campaignID, "chunks", n)
	}
	return nil
}

// Snapshot persists the campaign's memory index.
func (e *Engine) Snapshot(ctx context.Context, campaignID string) (int, error) {
	return e.memory.Index.Snapshot(ctx, campaignID)
}

// Campaigns lists campaigns, newest first.
func (e *Engine) Campaigns(ctx context.Context) ([]storage.Campaign, error) {
	return e.store.Campaigns(ctx)
}

// History returns the campaign's most recent turns in order.
func (e *Engine) History(ctx context.Context, campaignID string, limit int) ([]storage.Turn, error) {
	var turns []storage.Turn
	err := e.store.WithTx(ctx, func(tx storage.WorldTx) error {
		var err error
		turns, err = tx.RecentTurns(ctx, campaignID, limit)
		return err
	})
	return turns, err
}

// DeleteCampaign removes the campaign's rows, snapshot and live index.
func (e *Engine) DeleteCampaign(ctx context.Context, campaignID string) error {
	if err := e.store.DeleteCampaign(ctx, campaignID); err != nil {
		return err
	}
	e.memory.Index.Drop(campaignID)
	e.forget(campaignID)
	e.logger.Info("campaign deleted", "campaign", campaignID)
	return nil
}

// RestartCampaign clears world state, turns and memory but keeps the
// campaign and its player character.
func (e *Engine) RestartCampaign(ctx context.Context, campaignID string) error {
	if err := e.store.ResetCampaign(ctx, campaignID); err != nil {
		return err
	}
	e.memory.Index.Drop(campaignID)
	e.forget(campaignID)
	e.logger.Info("campaign restarted", "campaign", campaignID)
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
