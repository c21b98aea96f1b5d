// Command execution for CLI commands.
//
// Information Hiding:
// - Provider, embedder, store and memory wiring hidden
// - Interactive prompt loops hidden
// - Output formatting hidden

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/richinex/gamemaster/agent"
	"github.com/richinex/gamemaster/config"
	"github.com/richinex/gamemaster/embedding"
	"github.com/richinex/gamemaster/game"
	"github.com/richinex/gamemaster/internal/dsa"
	"github.com/richinex/gamemaster/llm"
	"github.com/richinex/gamemaster/memory"
	"github.com/richinex/gamemaster/storage"
	"github.com/richinex/gamemaster/tools"
)

// Options holds CLI execution options. Zero values defer to the loaded
// settings.
type Options struct {
	Provider   string
	MaxIter    int
	DBPath     string
	ConfigPath string
	Verbose    bool
}

// DefaultOptions returns default CLI options.
func DefaultOptions() Options {
	return Options{
		DBPath: config.DefaultDBPath,
	}
}

// gameSession is everything a command needs, opened together and closed
// together.
type gameSession struct {
	engine *game.Engine
	index  *memory.IndexRegistry
	store  *storage.SqliteStorage
	logger *slog.Logger
}

func (s *gameSession) Close() error {
	return errors.Join(s.index.Close(), s.store.Close())
}

// resolveCampaign expands an abbreviated campaign ID to the full one.
func (s *gameSession) resolveCampaign(ctx context.Context, arg string) (string, error) {
	campaigns, err := s.engine.Campaigns(ctx)
	if err != nil {
		return "", err
	}
	return matchCampaign(campaigns, arg)
}

func matchCampaign(campaigns []storage.Campaign, arg string) (string, error) {
	ids := dsa.NewPrefixIndex[storage.Campaign]()
	for _, c := range campaigns {
		ids.Insert(c.ID, c)
	}
	id, _, err := ids.Resolve(strings.TrimSpace(arg))
	if err != nil {
		return "", fmt.Errorf("campaign: %w", err)
	}
	return id, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadSettings(opts Options) (config.Settings, error) {
	settings, err := config.Load(opts.Provider, opts.ConfigPath)
	if err != nil {
		return config.Settings{}, err
	}
	if opts.MaxIter > 0 {
		settings.Agent.MaxIterations = opts.MaxIter
	}
	if opts.DBPath != "" {
		settings.Storage.DBPath = opts.DBPath
	}
	return settings, nil
}

func openSession(opts Options) (*gameSession, error) {
	logger := newLogger(opts.Verbose)

	settings, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}

	provider, err := createProvider(settings, settings.LLM.Model)
	if err != nil {
		return nil, err
	}
	judge := provider
	if settings.LLM.RerankModel != "" {
		if judge, err = createProvider(settings, settings.LLM.RerankModel); err != nil {
			return nil, err
		}
	}

	embedCfg, err := settings.EmbedderConfig()
	if err != nil {
		return nil, err
	}
	embedder, err := embedding.New(embedCfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.OpenSqlite(settings.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	index := memory.NewIndexRegistry(embedder,
		memory.WithSnapshots(store),
		memory.WithIndexLogger(logger))
	reranker, err := memory.NewReranker(judge,
		memory.WithRerankIterations(settings.Agent.RerankIterations),
		memory.WithRerankLogger(logger))
	if err != nil {
		store.Close()
		return nil, err
	}
	pipeline, err := memory.NewPipeline(index, reranker,
		settings.Memory.ChunkSize, settings.Memory.ChunkOverlap,
		settings.Memory.SearchK, settings.Memory.RerankTopN)
	if err != nil {
		store.Close()
		return nil, err
	}

	engine, err := game.New(provider, store, pipeline, game.Options{
		MaxIterations: settings.Agent.MaxIterations,
		RecentTurns:   settings.Memory.RecentTurns,
		Drafts:        store,
		Logger:        logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	logger.Debug("session opened",
		"provider", provider.Name(), "model", provider.Model(),
		"embedder", embedder.Name(), "db", settings.Storage.DBPath)

	return &gameSession{
		engine: engine,
		index:  index,
		store:  store,
		logger: logger,
	}, nil
}

func createProvider(settings config.Settings, model string) (llm.Provider, error) {
	providerType, err := llm.ParseProviderType(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}

	apiKey, err := config.APIKeyFor(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}

	return providerType.
		Model(model).
		MaxTokens(settings.LLM.MaxTokens).
		Temperature(float32(settings.LLM.Temperature)).
		APIKey(apiKey)
}

// NewGame runs session zero interactively. When play is set and the
// campaign gets created, play continues straight into the opening scene.
func NewGame(ctx context.Context, play, persist bool, opts Options) error {
	s, err := openSession(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	draftID, greeting, err := s.engine.NewDraft(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n\nType 'exit' to leave; the draft is kept as %s.\n\n", greeting, draftID)

	scanner := bufio.NewScanner(os.Stdin)
	var campaignID string
	for campaignID == "" {
		input, ok := prompt(scanner)
		if !ok {
			return scanner.Err()
		}

		res, err := s.engine.SessionZeroTurn(ctx, draftID, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
			continue
		}
		fmt.Printf("\n%s\n\n", res.Reply)
		if res.Campaign != nil {
			campaignID = res.Campaign.CampaignID
			fmt.Printf("Campaign: %s (%s, %s)\n\n", campaignID, res.Campaign.Genre, res.Campaign.Tone)
		}
	}

	if !play {
		return nil
	}
	return playLoop(ctx, s, scanner, campaignID, persist)
}

// Play resumes a campaign at its console.
func Play(ctx context.Context, campaignID string, persist bool, opts Options) error {
	s, err := openSession(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	if campaignID, err = s.resolveCampaign(ctx, campaignID); err != nil {
		return err
	}
	return playLoop(ctx, s, bufio.NewScanner(os.Stdin), campaignID, persist)
}

func playLoop(ctx context.Context, s *gameSession, scanner *bufio.Scanner, campaignID string, persist bool) error {
	if err := s.engine.Open(ctx, campaignID); err != nil {
		return fmt.Errorf("open campaign %s: %w", campaignID, err)
	}
	if persist {
		defer func() {
			n, err := s.engine.Snapshot(context.WithoutCancel(ctx), campaignID)
			switch {
			case errors.Is(err, memory.ErrUnknownScope):
			case err != nil:
				fmt.Fprintf(os.Stderr, "Warning: failed to save memory: %v\n", err)
			default:
				s.logger.Info("memory saved", "campaign", campaignID, "chunks", n)
			}
		}()
	}

	opening, ok, err := s.engine.OpeningScene(ctx, campaignID)
	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
	case ok:
		fmt.Printf("\n%s\n\n", opening.Narration())
	default:
		recent, err := s.engine.History(ctx, campaignID, 1)
		if err == nil && len(recent) > 0 {
			fmt.Printf("\n%s\n\n", recent[0].Narration)
		}
	}

	fmt.Println("Type '/save' to save memory, 'exit' to quit.")
	fmt.Println()

	for {
		input, ok := prompt(scanner)
		if !ok {
			return scanner.Err()
		}

		if input == "/save" {
			n, err := s.engine.Snapshot(ctx, campaignID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
				continue
			}
			fmt.Printf("\nSaved %d memory chunks.\n\n", n)
			continue
		}

		res, err := s.engine.PlayTurn(ctx, campaignID, input)
		if res.Turn.Narration != "" {
			fmt.Printf("\n%s\n\n", res.Narration())
			if s.logger.Enabled(ctx, slog.LevelDebug) {
				printToolCalls(os.Stderr, res)
			}
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
		}
	}
}

// prompt reads the next non-empty line. It reports false at end of input
// or when the player asks to leave.
func prompt(scanner *bufio.Scanner) (string, bool) {
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return "", false
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return "", false
		}
		return input, true
	}
}

// Recall prints the memories the query path returns for a campaign.
func Recall(ctx context.Context, campaignID, query string, opts Options) error {
	s, err := openSession(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	if campaignID, err = s.resolveCampaign(ctx, campaignID); err != nil {
		return err
	}
	chunks, err := s.engine.Recall(ctx, campaignID, query)
	if err != nil {
		return err
	}
	printMemories(os.Stdout, chunks)
	return nil
}

// Snapshot persists a campaign's memory index. The index is restored from
// any previous snapshot first, so this never shrinks a saved index.
func Snapshot(ctx context.Context, campaignID string, opts Options) error {
	s, err := openSession(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	if campaignID, err = s.resolveCampaign(ctx, campaignID); err != nil {
		return err
	}
	if err := s.engine.Open(ctx, campaignID); err != nil {
		return err
	}
	n, err := s.engine.Snapshot(ctx, campaignID)
	if err != nil {
		return err
	}
	fmt.Printf("Saved %d memory chunks for %s\n", n, campaignID)
	return nil
}

// ListCampaigns prints every campaign, newest first.
func ListCampaigns(ctx context.Context, opts Options) error {
	s, err := openSession(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	campaigns, err := s.engine.Campaigns(ctx)
	if err != nil {
		return err
	}
	printCampaigns(os.Stdout, campaigns)

	drafts, err := s.engine.Drafts(ctx)
	if err != nil {
		return err
	}
	if len(drafts) > 0 {
		fmt.Printf("\n%d unfinished session-zero draft(s)\n", len(drafts))
	}
	return nil
}

// History prints a campaign's most recent turns.
func History(ctx context.Context, campaignID string, limit int, opts Options) error {
	s, err := openSession(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	if campaignID, err = s.resolveCampaign(ctx, campaignID); err != nil {
		return err
	}
	turns, err := s.engine.History(ctx, campaignID, limit)
	if err != nil {
		return err
	}
	printTurns(os.Stdout, turns)
	return nil
}

// DeleteCampaign removes a campaign and everything it owns.
func DeleteCampaign(ctx context.Context, campaignID string, opts Options) error {
	s, err := openSession(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	if campaignID, err = s.resolveCampaign(ctx, campaignID); err != nil {
		return err
	}
	if err := s.engine.DeleteCampaign(ctx, campaignID); err != nil {
		return err
	}
	fmt.Printf("Deleted campaign %s\n", campaignID)
	return nil
}

// RestartCampaign wipes a campaign's world and memory but keeps its
// character.
func RestartCampaign(ctx context.Context, campaignID string, opts Options) error {
	s, err := openSession(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	if campaignID, err = s.resolveCampaign(ctx, campaignID); err != nil {
		return err
	}
	if err := s.engine.RestartCampaign(ctx, campaignID); err != nil {
		return err
	}
	fmt.Printf("Restarted campaign %s\n", campaignID)
	return nil
}

// ListTools prints the tools available to the narrator, the session-zero
// guide and the memory reranker.
func ListTools(w io.Writer, verbose bool) {
	groups := []struct {
		title    string
		handlers []tools.Handler
	}{
		{"Narrator", tools.WorldTools()},
		{"Session zero", tools.SessionZeroTools()},
		{"Memory reranker", []tools.Handler{tools.SelectMemories()}},
	}

	for _, g := range groups {
		registry := tools.MustRegistry(g.handlers...)
		fmt.Fprintf(w, "%s tools:\n\n", g.title)
		if verbose {
			fmt.Fprintln(w, registry.Description())
			fmt.Fprintln(w)
			continue
		}
		for _, spec := range registry.Specs() {
			fmt.Fprintf(w, "  %s\n    %s\n\n", spec.Name, spec.Description)
		}
	}
}

const (
	maxMemoryLen    = 200
	maxNarrationLen = 400
)

func printMemories(w io.Writer, chunks []memory.MemoryChunk) {
	if len(chunks) == 0 {
		fmt.Fprintln(w, "No memories found.")
		return
	}
	for i, c := range chunks {
		fmt.Fprintf(w, "[%d] #%d %s\n", i+1, c.Seq, truncateString(c.Text, maxMemoryLen))
	}
}

func printCampaigns(w io.Writer, campaigns []storage.Campaign) {
	if len(campaigns) == 0 {
		fmt.Fprintln(w, "No campaigns yet. Start one with 'gamemaster new'.")
		return
	}
	for _, c := range campaigns {
		fmt.Fprintf(w, "%s  %s  %s / %s\n", c.ID, c.CreatedAt.Format("2006-01-02 15:04"), c.Genre, c.Tone)
	}
}

func printTurns(w io.Writer, turns []storage.Turn) {
	if len(turns) == 0 {
		fmt.Fprintln(w, "No turns played yet.")
		return
	}
	for _, t := range turns {
		fmt.Fprintf(w, "--- Turn %d ---\n", t.Number)
		if t.PlayerInput != "" {
			fmt.Fprintf(w, "> %s\n", t.PlayerInput)
		}
		fmt.Fprintf(w, "%s\n\n", truncateString(t.Narration, maxNarrationLen))
	}
}

func printToolCalls(w io.Writer, res game.TurnResult) {
	if len(res.ToolCalls) == 0 && len(res.Passes) == 0 {
		return
	}
	if len(res.ToolCalls) > 0 {
		fmt.Fprintln(w, "--- Tool calls ---")
		printCalls(w, res.ToolCalls)
	}
	for _, p := range res.Passes {
		if p.Err != nil {
			fmt.Fprintf(w, "--- Pass %s (failed: %v) ---\n", p.Name, p.Err)
		} else {
			fmt.Fprintf(w, "--- Pass %s ---\n", p.Name)
		}
		printCalls(w, p.ToolCalls)
	}
	fmt.Fprintf(w, "Tokens: %d in, %d out\n\n", res.Usage.PromptTokens, res.Usage.CompletionTokens)
}

func printCalls(w io.Writer, calls []agent.ToolCall) {
	for _, c := range calls {
		status := "ok"
		if !c.Success {
			status = "failed"
		}
		fmt.Fprintf(w, "  %s (%s, %dms)\n", c.Name, status, c.DurationMs)
	}
}

func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
