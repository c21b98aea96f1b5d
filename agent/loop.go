// Tool dispatch loop.
//
// All tool-calling turns go through this module: narrative turns, session
// zero and the memory reranker.
//
// Information Hiding:
// - Round bookkeeping hidden
// - Model communication hidden
// - Tool execution coordination hidden

package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/richinex/gamemaster/llm"
	"github.com/richinex/gamemaster/tools"
)

// Loop alternates between the model and the tools of one registry until
// the model answers in prose, a terminal tool succeeds, or the round cap
// is reached. A Loop holds no per-run state and may be shared.
type Loop struct {
	config   Config
	provider llm.Provider
	executor *tools.Executor
	logger   *slog.Logger
}

// New creates a loop. A nil logger discards output.
func New(config Config, provider llm.Provider, executor *tools.Executor, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	config = config.withDefaults()
	return &Loop{
		config:   config,
		provider: provider,
		executor: executor,
		logger:   logger.With("loop", config.Name),
	}
}

// Name returns the loop's name.
func (l *Loop) Name() string {
	return l.config.Name
}

// MaxIterations returns the round cap.
func (l *Loop) MaxIterations() int {
	return l.config.MaxIterations
}

// Registry returns the tools the loop offers to the model.
func (l *Loop) Registry() *tools.Registry {
	return l.executor.Registry()
}

// Run drives one session to completion. It never returns an error
// directly; failures are reported as an OutcomeFailed outcome.
func (l *Loop) Run(ctx context.Context, s Session) Outcome {
	r := &run{
		loop:    l,
		session: s,
		history: append([]llm.ChatMessage(nil), s.History...),
		start:   time.Now(),
	}
	return r.drive(ctx)
}

type run struct {
	loop    *Loop
	session Session
	history []llm.ChatMessage
	out     Outcome
	start   time.Time
}

func (r *run) drive(ctx context.Context) Outcome {
	l := r.loop
	system := r.session.SystemInstruction
	if system == "" {
		system = l.config.SystemInstruction
	}
	defs := l.executor.Registry().Definitions()

	for round := 1; round <= l.config.MaxIterations; round++ {
		if err := ctx.Err(); err != nil {
			return r.timeout(err)
		}

		resp, err := l.provider.Send(ctx, llm.Request{
			SystemInstruction: system,
			Messages:          r.history,
			Tools:             defs,
		})
		r.out.Rounds = round
		if cerr := ctx.Err(); cerr != nil {
			return r.timeout(cerr)
		}
		if err != nil {
			return r.fail(fmt.Errorf("%w: %s: %w", ErrModelTransport, l.provider.Name(), err))
		}
		r.out.Usage.Add(resp.Usage)

		if !resp.HasToolCalls() {
			r.history = append(r.history, llm.AssistantMessage(resp.Content))
			r.out.Kind = OutcomeText
			r.out.Text = resp.Content
			return r.finish()
		}

		l.logger.Debug("model requested tools", "round", round, "calls", len(resp.ToolCalls))
		r.history = append(r.history, llm.AssistantToolCallMessage(resp.Content, resp.ToolCalls))
		r.out.Steps = append(r.out.Steps, Step{Round: round, Text: resp.Content})

		if done, out := r.dispatch(ctx, resp.ToolCalls); done {
			return out
		}
	}

	l.logger.Warn("iteration cap reached", "max_iterations", l.config.MaxIterations)
	return r.fail(fmt.Errorf("%w: %d rounds", ErrIterationCapExceeded, l.config.MaxIterations))
}

// dispatch runs one batch of tool calls in emitted order.
func (r *run) dispatch(ctx context.Context, calls []llm.ToolCall) (bool, Outcome) {
	step := &r.out.Steps[len(r.out.Steps)-1]
	for _, tc := range calls {
		if err := ctx.Err(); err != nil {
			return true, r.timeout(err)
		}

		start := time.Now()
		res := r.loop.executor.Execute(ctx, tc, r.session.ScopeID)
		msg := res.Message()
		step.Calls = append(step.Calls, ToolCall{
			Name:       tc.Name,
			CallID:     tc.ID,
			InputSize:  len(tc.Arguments),
			OutputSize: len(msg.Content),
			DurationMs: uint64(time.Since(start).Milliseconds()),
			Success:    res.Success(),
			Terminal:   res.Terminal,
		})
		r.history = append(r.history, msg)

		if err := ctx.Err(); err != nil {
			return true, r.timeout(err)
		}
		if res.Terminal && res.Success() {
			if skipped := len(calls) - len(step.Calls); skipped > 0 {
				r.loop.logger.Debug("terminal tool ended the batch", "tool", res.Name, "skipped", skipped)
			}
			r.out.Kind = OutcomeTerminal
			r.out.Tool = res.Name
			r.out.Payload = res.Value
			return true, r.finish()
		}
	}
	return false, Outcome{}
}

func (r *run) timeout(err error) Outcome {
	r.loop.logger.Warn("context expired", "rounds", r.out.Rounds, "error", err)
	return r.fail(fmt.Errorf("%w: %w", ErrTimeout, err))
}

func (r *run) fail(err error) Outcome {
	r.out.Kind = OutcomeFailed
	r.out.Err = err
	return r.finish()
}

func (r *run) finish() Outcome {
	r.out.History = r.history
	r.loop.logger.Debug("loop finished",
		"kind", r.out.Kind.String(),
		"rounds", r.out.Rounds,
		"duration", time.Since(r.start))
	return r.out
}
