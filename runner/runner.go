package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
	"github.com/hupe1980/sessionmesh/model"
)

// ErrorCodeModel marks response events recording a failed model call.
const ErrorCodeModel = "model_error"

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Author is recorded on model response events.
	Author string
	// Instructions are sent as system instructions on every turn.
	Instructions string
	// OutputKey, when set, receives the final response text through the
	// response event's state delta.
	OutputKey string
	// NumRecentEvents bounds the history sent to the model (0 = all).
	NumRecentEvents int
	// EnableStreaming requests partial responses from the model; they are
	// forwarded to the store, which does not persist them.
	EnableStreaming bool
	// MaxConcurrentInvocations limits concurrent turns (0 = unlimited).
	MaxConcurrentInvocations int
	// Tools offered to the model.
	Tools []model.ToolDefinition
	// Logger receives turn diagnostics.
	Logger logging.Logger
}

// Runner drives conversation turns against a session store: every turn
// appends the user event, asks the model using the stored history and
// appends the model's answer. Public methods are safe for concurrent use.
type Runner struct {
	store core.SessionStore
	model model.Model
	opts  Options
	slots chan struct{}
}

// New constructs a Runner with optional overrides.
func New(store core.SessionStore, m model.Model, optFns ...func(o *Options)) *Runner {
	opts := Options{
		Author: "assistant",
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	r := &Runner{store: store, model: m, opts: opts}
	if opts.MaxConcurrentInvocations > 0 {
		r.slots = make(chan struct{}, opts.MaxConcurrentInvocations)
	}

	return r
}

// Run executes one turn for the session at key and returns the session
// after the response event was appended. A failed model call is recorded
// as an error event before the error is returned.
func (r *Runner) Run(ctx context.Context, key core.SessionKey, userContent core.Content) (*core.Session, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	invocationID := core.NewID()
	start := time.Now()

	userEvent := core.NewUserContentEvent(invocationID, &userContent)
	if _, err := r.store.AppendEvent(ctx, key, userEvent); err != nil {
		return nil, fmt.Errorf("failed to append user event: %w", err)
	}

	sess, err := r.store.Get(ctx, core.GetRequest{
		AppName:         key.AppName,
		UserID:          key.UserID,
		SessionID:       key.SessionID,
		NumRecentEvents: r.opts.NumRecentEvents,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	req := model.Request{
		Instructions: r.opts.Instructions,
		Contents:     sess.ConversationHistory(),
		Tools:        r.opts.Tools,
		Stream:       r.opts.EnableStreaming,
	}

	final, genErr := r.generate(ctx, key, invocationID, req)
	if genErr != nil {
		ev := core.NewEvent(invocationID, r.opts.Author)
		ev.ErrorCode = ErrorCodeModel
		ev.ErrorMessage = genErr.Error()
		ev.TurnComplete = true
		if _, err := r.store.AppendEvent(ctx, key, ev); err != nil {
			r.opts.Logger.Warn("failed to record model error", "session", key.String(), "error", err)
		}
		return nil, fmt.Errorf("model generation failed: %w", genErr)
	}

	ev := core.NewEvent(invocationID, r.opts.Author)
	content := final.Content.Clone()
	if content.Role == "" {
		content.Role = "assistant"
	}
	ev.Content = &content
	ev.TurnComplete = true
	if r.opts.OutputKey != "" {
		ev.Actions.StateDelta = core.StateMap{r.opts.OutputKey: core.String(content.Text())}
	}

	sess, err = r.store.AppendEvent(ctx, key, ev)
	if err != nil {
		return nil, fmt.Errorf("failed to append response event: %w", err)
	}

	r.opts.Logger.Debug("turn completed",
		"session", key.String(),
		"invocation_id", invocationID,
		"model", r.model.Info().Name,
		"finish_reason", final.FinishReason,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return sess, nil
}

// generate drains the model channels and returns the final response.
// Partial responses are forwarded to the store as partial events.
func (r *Runner) generate(ctx context.Context, key core.SessionKey, invocationID string, req model.Request) (model.Response, error) {
	out, errs := r.model.Generate(ctx, req)

	var final *model.Response
	for resp := range out {
		if resp.Partial {
			ev := core.NewEvent(invocationID, r.opts.Author)
			c := resp.Content.Clone()
			ev.Content = &c
			ev.Partial = true
			if _, err := r.store.AppendEvent(ctx, key, ev); err != nil {
				r.opts.Logger.Debug("partial event rejected", "session", key.String(), "error", err)
			}
			continue
		}
		final = &resp
	}

	for err := range errs {
		if err != nil {
			return model.Response{}, err
		}
	}

	if final == nil {
		return model.Response{}, fmt.Errorf("model %s returned no final response", r.model.Info().Name)
	}

	return *final, nil
}

func (r *Runner) acquire(ctx context.Context) error {
	if r.slots == nil {
		return ctx.Err()
	}
	select {
	case r.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) release() {
	if r.slots != nil {
		<-r.slots
	}
}
