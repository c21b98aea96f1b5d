package memory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/richinex/gamemaster/agent"
	"github.com/richinex/gamemaster/llm"
	"github.com/richinex/gamemaster/tools"
)

// DefaultRerankIterations bounds the reranker's inner loop.
const DefaultRerankIterations = 3

const rerankInstruction = "You are an intelligent memory assistant. " +
	"Identify which pieces of prior memory are most relevant to the current player input. " +
	"Answer only by calling " + tools.SelectMemoriesName + "."

// Reranker narrows search candidates by asking a model which ones matter.
// It runs its own bounded loop whose registry holds only the memory
// selection tool, so narrative tools are never reachable from it.
type Reranker struct {
	loop   *agent.Loop
	logger *slog.Logger
}

// RerankerOption configures a Reranker.
type RerankerOption func(*rerankerConfig)

type rerankerConfig struct {
	registry      *tools.Registry
	maxIterations int
	logger        *slog.Logger
}

// WithRerankRegistry supplies the inner registry. It must contain exactly
// the memory selection tool.
func WithRerankRegistry(r *tools.Registry) RerankerOption {
	return func(c *rerankerConfig) { c.registry = r }
}

// WithRerankIterations overrides DefaultRerankIterations.
func WithRerankIterations(n int) RerankerOption {
	return func(c *rerankerConfig) { c.maxIterations = n }
}

// WithRerankLogger sets the reranker's logger.
func WithRerankLogger(l *slog.Logger) RerankerOption {
	return func(c *rerankerConfig) { c.logger = l }
}

// NewReranker creates a reranker over provider. It rejects an inner
// registry holding anything besides the memory selection tool.
func NewReranker(provider llm.Provider, opts ...RerankerOption) (*Reranker, error) {
	cfg := rerankerConfig{maxIterations: DefaultRerankIterations}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.registry == nil {
		cfg.registry = tools.MustRegistry(tools.SelectMemories())
	}
	if names := cfg.registry.Names(); !slices.Equal(names, []string{tools.SelectMemoriesName}) {
		return nil, fmt.Errorf("%w: reranker registry must hold only %s, got %v",
			tools.ErrInvalidRegistry, tools.SelectMemoriesName, names)
	}

	loop, err := agent.NewBuilder(provider).
		Name("reranker").
		Registry(cfg.registry).
		SystemInstruction(rerankInstruction).
		MaxIterations(cfg.maxIterations).
		Logger(cfg.logger).
		Build()
	if err != nil {
		return nil, err
	}
	return &Reranker{loop: loop, logger: cfg.logger}, nil
}

// Rerank returns at most topN candidates the model judged relevant to
// query, in the model's order. Whenever the model's answer is unusable it
// falls back to the first topN candidates in their original order. A topN
// of zero or less means all candidates. Rerank never fails.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []MemoryChunk, topN int) []MemoryChunk {
	if len(candidates) == 0 {
		return []MemoryChunk{}
	}
	if topN <= 0 || topN > len(candidates) {
		topN = len(candidates)
	}
	fallback := func(reason string, args ...any) []MemoryChunk {
		r.logger.Debug("rerank fallback", append([]any{"reason", reason}, args...)...)
		return slices.Clone(candidates[:topN])
	}

	out := r.loop.Run(ctx, agent.Session{
		History: []llm.ChatMessage{llm.UserMessage(listing(query, candidates, topN))},
	})
	switch out.Kind {
	case agent.OutcomeFailed:
		return fallback("loop failed", "error", out.Err)
	case agent.OutcomeText:
		return fallback("model answered in text")
	}

	picks := Selection(out.Payload, len(candidates))
	// An all-invalid selection falls back rather than recalling nothing.
	if len(picks) == 0 {
		return fallback("no valid selection", "payload", out.Payload)
	}
	if len(picks) > topN {
		picks = picks[:topN]
	}
	selected := make([]MemoryChunk, len(picks))
	for i, p := range picks {
		selected[i] = candidates[p-1]
	}
	return selected
}

// Selection extracts the valid 1-based positions from a selection
// payload. Numeric strings count as integers. Other non-integers,
// entries outside [1, n] and repeats are dropped; the remaining order is
// preserved. A payload that is not a list yields nothing.
func Selection(payload any, n int) []int {
	list, ok := payload.([]any)
	if !ok {
		return nil
	}
	seen := make(map[int]bool, len(list))
	var picks []int
	for _, v := range list {
		p, ok := position(v)
		if !ok || p < 1 || p > n || seen[p] {
			continue
		}
		seen[p] = true
		picks = append(picks, p)
	}
	return picks
}

func position(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.Abs(x) > math.MaxInt32 {
			return 0, false
		}
		return int(x), true
	case int:
		return x, true
	case int64:
		return int(x), true
	case string:
		p, err := strconv.Atoi(strings.TrimSpace(x))
		return p, err == nil
	default:
		return 0, false
	}
}

func listing(query string, candidates []MemoryChunk, topN int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From the numbered list below, select the %d most relevant memory snippets.\n", topN)
	fmt.Fprintf(&b, "Call %s with the corresponding numbers as a list of integers.\n\n", tools.SelectMemoriesName)
	fmt.Fprintf(&b, "Current player input: %q\n\nPrior memory:\n", strings.TrimSpace(query))
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(c.Text))
	}
	return b.String()
}
