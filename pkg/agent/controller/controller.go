// Package controller implements the Reason/Act loop that drives every
// agent: prompt bootstrap, streamed model turns, structured-output parsing
// with layered recovery, tool dispatch, and checkpointed state.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/argus-audit/argus/pkg/agent"
	"github.com/argus-audit/argus/pkg/bus"
	"github.com/argus-audit/argus/pkg/checkpoint"
	"github.com/argus-audit/argus/pkg/events"
	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/findings"
	"github.com/argus-audit/argus/pkg/llm"
	"github.com/argus-audit/argus/pkg/masking"
	"github.com/argus-audit/argus/pkg/models"
	"github.com/argus-audit/argus/pkg/tools"
)

// Dispatcher runs a named sub-agent on behalf of the orchestrator and
// returns the observation text to feed back (without the "Observation: "
// prefix). A non-nil error is reported to the model as an error
// observation; cancellation raised during a child run is caught by the
// loop's own stop check.
type Dispatcher interface {
	Dispatch(ctx context.Context, name, task string, extra map[string]any) (string, error)
	// Summary describes the dispatch rounds so far and the aggregate
	// findings.
	Summary() string
}

// Config tunes the loop.
type Config struct {
	// IterationTimeout bounds one model call or tool execution.
	IterationTimeout time.Duration
	// CheckpointEvery saves a checkpoint every N iterations; 0 disables
	// periodic checkpoints (the terminal checkpoint is always written).
	CheckpointEvery int
	Temperature     float32
	MaxTokens       int
	// EmptyRetryBackoff is the base delay before retrying after an empty
	// model response; it doubles per consecutive empty, capped at 5s.
	EmptyRetryBackoff time.Duration
}

func (c *Config) setDefaults() {
	if c.IterationTimeout <= 0 {
		c.IterationTimeout = 5 * time.Minute
	}
	if c.EmptyRetryBackoff <= 0 {
		c.EmptyRetryBackoff = 200 * time.Millisecond
	}
}

// Deps are the collaborators a controller drives. LLM and Registry are
// required; everything else degrades gracefully when nil.
type Deps struct {
	LLM         llm.Client
	Registry    *tools.Registry
	Emitter     *events.Emitter
	Masker      *masking.Service
	Checkpoints checkpoint.Store
	Dispatcher  Dispatcher
	Mailbox     *bus.Bus
	Logger      *slog.Logger
	// SubAgents lists dispatchable agents as "name: description" entries,
	// rendered into the orchestrator's system prompt.
	SubAgents []string
}

// Controller owns one agent's loop. It is stateless across runs; all
// per-run state lives in the agent.State it is handed.
type Controller struct {
	deps Deps
	cfg  Config
	log  *slog.Logger
}

func New(deps Deps, cfg Config) *Controller {
	cfg.setDefaults()
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{deps: deps, cfg: cfg, log: log.With("component", "controller")}
}

// Run drives st to a terminal status and returns the outcome. The returned
// Result is non-nil even on failure so callers can harvest partial
// findings. Resuming from a checkpoint works by handing Run a restored
// state: a non-empty conversation skips the prompt bootstrap.
func (c *Controller) Run(ctx context.Context, st *agent.State, in *agent.RunInput) (*agent.Result, error) {
	start := time.Now()
	ec := agent.FromContext(ctx)
	if ec == nil {
		ec = agent.NewExecutionContext("", st.AgentID(), st.Name())
		ctx = agent.IntoContext(ctx, ec)
	}
	log := c.log.With("agent_id", st.AgentID(), "agent", st.Name())

	if st.Status() == models.StatusCreated {
		if err := st.Transition(models.StatusRunning); err != nil {
			return agent.FailedResult(err), err
		}
	}

	if len(st.Conversation()) == 0 {
		sys := SystemPrompt(st.Role(), c.deps.Registry.Describe(), c.deps.SubAgents)
		st.AppendMessage(agent.NewMessage(agent.RoleSystem, sys))
		st.AppendMessage(agent.NewMessage(agent.RoleUser, InitialUserMessage(in)))
		log.Info("conversation bootstrapped", "role", st.Role().String(), "tools", c.deps.Registry.Len())
	} else {
		log.Info("resuming existing conversation", "messages", len(st.Conversation()), "iteration", st.Iteration())
	}

	iter := agent.NewIterationState(st.MaxIterations())
	iter.CurrentIteration = st.Iteration()

	for !st.ShouldStop() {
		if cause := c.stopCause(ctx, st); cause != nil {
			return c.finishInterrupted(ctx, st, ec, start, cause)
		}
		if iter.ShouldAbortOnTimeouts() {
			cause := faults.Newf(faults.LLMTimeout, "%d consecutive model timeouts", iter.ConsecutiveTimeoutFailures)
			return c.finishFailed(ctx, st, ec, start, cause)
		}
		if st.OverTokenBudget() {
			c.emit(ec, st, events.New(events.TypeWarning, "token budget exhausted, forcing conclusion"))
			return c.forceConclusion(ctx, st, ec, iter, start, "You have exhausted your token budget.")
		}

		n := st.BeginIteration()
		iter.CurrentIteration = n
		ec = ec.WithIteration(n)
		ctx = agent.IntoContext(ctx, ec)

		c.deliverMail(st, ec)

		c.emit(ec, st, events.New(events.TypeLLMStart, fmt.Sprintf("iteration %d: calling model", n)))

		resp, err := c.turn(ctx, st)
		if err != nil {
			if cause := c.stopCause(ctx, st); cause != nil {
				return c.finishInterrupted(ctx, st, ec, start, cause)
			}
			ferr := faults.ClassifyLLM(err)
			if faults.StrategyOf(ferr) == faults.StrategyAbort {
				// Auth and quota failures will not heal on the next turn.
				return c.finishFailed(ctx, st, ec, start, ferr)
			}
			iter.RecordFailure(ferr.Error(), faults.IsKind(ferr, faults.LLMTimeout))
			st.RecordError(ferr.Error())
			c.emit(ec, st, events.New(events.TypeError, c.maskErr(ferr)))
			log.Warn("model call failed", "iteration", n, "error", err)
			st.AppendMessage(agent.NewMessage(agent.RoleUser, c.maskText(FormatErrorObservation(ferr))))
			continue
		}
		st.AddUsage(resp.Usage)

		text := strings.TrimSpace(resp.Content)
		if text == "" {
			if iter.RecordEmpty() {
				cause := faults.Newf(faults.LLMInvalidResponse, "%d consecutive empty model responses", agent.MaxEmptyResponses)
				return c.finishFailed(ctx, st, ec, start, cause)
			}
			c.emit(ec, st, events.New(events.TypeWarning, fmt.Sprintf("empty model response (%d in a row)", iter.EmptyResponses)))
			st.AppendMessage(agent.NewMessage(agent.RoleUser, "Your previous response was empty.\n\n"+FormatReminder()))
			if err := c.emptyBackoff(ctx, iter.EmptyResponses); err != nil {
				return c.finishStopped(ctx, st, ec, start, faults.Wrap(faults.AgentCancelled, "run cancelled", err))
			}
			continue
		}
		iter.ResetEmpty()
		iter.RecordSuccess()

		st.AppendMessage(agent.NewMessage(agent.RoleAssistant, text))

		p := Parse(text)
		if p.Thought != "" {
			c.emit(ec, st, events.New(events.TypeLLMThought, c.maskText(p.Thought)))
		}

		if p.Malformed {
			if iter.RecordParseFailure() {
				cause := faults.Newf(faults.LLMInvalidResponse, "%d consecutive unparseable responses", agent.MaxParseFailures)
				return c.finishFailed(ctx, st, ec, start, cause)
			}
			c.emit(ec, st, events.New(events.TypeWarning, "response did not parse, sending format feedback"))
			st.AppendMessage(agent.NewMessage(agent.RoleUser, FormatErrorFeedback(p)))
			continue
		}

		if p.IsFinal {
			c.emit(ec, st, events.New(events.TypeLLMDecision, "final answer"))
			return c.finishCompleted(ctx, st, ec, start, p.Answer, p.AnswerText, p.AnswerMalformed)
		}

		if p.InputMalformed {
			if iter.RecordParseFailure() {
				cause := faults.Newf(faults.LLMInvalidResponse, "%d consecutive unparseable responses", agent.MaxParseFailures)
				return c.finishFailed(ctx, st, ec, start, cause)
			}
			c.emit(ec, st, events.New(events.TypeWarning, "action input was not valid JSON"))
			obs := fmt.Sprintf("Observation: Error - the Action Input for %q was not valid JSON. "+
				"Resend the action with a well-formed JSON object. Your input was:\n%s", p.Action, p.RawInput)
			st.AppendMessage(agent.NewMessage(agent.RoleUser, obs))
			continue
		}
		iter.ResetParseFailures()

		aev := events.New(events.TypeLLMAction, fmt.Sprintf("action: %s", p.Action))
		aev.ToolName = p.Action
		aev.ToolInput = p.ActionInput
		c.emit(ec, st, aev)

		var observation string
		var finished map[string]any
		switch p.Action {
		case "dispatch_agent":
			if !st.Role().CanDispatch() || c.deps.Dispatcher == nil {
				observation = "Observation: Error - dispatch_agent is not available to this agent. Use your own tools or conclude with Final Answer."
			} else {
				observation = c.runDispatch(ctx, st, ec, iter, p)
			}
		case "summarize":
			if !st.Role().CanDispatch() || c.deps.Dispatcher == nil {
				observation = "Observation: Error - summarize is not available to this agent. Conclude with Final Answer instead."
			} else {
				observation = "Observation: " + c.deps.Dispatcher.Summary()
			}
		case "finish":
			if !st.Role().CanDispatch() {
				observation = "Observation: Error - finish is not available to this agent. Conclude with Final Answer instead."
			} else {
				summary, ok := tools.StringArg(p.ActionInput, "summary")
				if !ok {
					// Models drift between the two names.
					summary, _ = tools.StringArg(p.ActionInput, "conclusion")
				}
				c.emit(ec, st, events.New(events.TypeLLMDecision, "finish requested"))
				return c.finishCompleted(ctx, st, ec, start, map[string]any{"summary": summary}, summary, false)
			}
		default:
			observation, finished = c.execTool(ctx, st, ec, iter, p)
		}

		observation = tools.TruncateOutput(c.maskText(observation))
		st.RecordObservation(observation)
		st.AppendMessage(agent.NewMessage(agent.RoleUser, observation))
		c.emit(ec, st, events.New(events.TypeLLMObservation, observation))

		c.maybeCheckpoint(ctx, st, n)

		if finished != nil {
			summary, _ := finished["summary"].(string)
			c.emit(ec, st, events.New(events.TypeLLMDecision, "finish tool invoked"))
			return c.finishCompleted(ctx, st, ec, start, finished, summary, false)
		}
	}

	if cause := c.stopCause(ctx, st); cause != nil {
		return c.finishInterrupted(ctx, st, ec, start, cause)
	}
	c.emit(ec, st, events.New(events.TypeWarning, fmt.Sprintf("iteration limit reached (%d), forcing conclusion", st.MaxIterations())))
	reason := fmt.Sprintf("You have reached the iteration limit (%d iterations).", st.MaxIterations())
	return c.forceConclusion(ctx, st, ec, iter, start, reason)
}

// stopCause returns the cancellation cause when the run must stop, nil
// otherwise. A context deadline is the agent's wall-clock budget, not a
// cooperative stop, and is classified separately.
func (c *Controller) stopCause(ctx context.Context, st *agent.State) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return faults.Wrap(faults.AgentTimeout, "wall-clock budget exhausted", err)
		}
		return faults.Wrap(faults.AgentCancelled, "run cancelled", err)
	}
	if st.StopRequested() {
		return faults.New(faults.AgentCancelled, "stop requested")
	}
	return nil
}

// turn sends the current conversation to the model and collects the
// streamed response under the iteration timeout.
func (c *Controller) turn(ctx context.Context, st *agent.State) (*llm.Response, error) {
	tctx := ctx
	if c.cfg.IterationTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, c.cfg.IterationTimeout)
		defer cancel()
	}
	conv := st.Conversation()
	msgs := make([]llm.Message, 0, len(conv))
	for _, m := range conv {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	req := &llm.Request{Messages: msgs, Temperature: c.cfg.Temperature, MaxTokens: c.cfg.MaxTokens}
	chunks, errs := c.deps.LLM.Stream(tctx, req)
	return llm.Collect(tctx, chunks, errs)
}

// emptyBackoff sleeps before the next attempt after an empty response,
// doubling per consecutive empty and honoring cancellation.
func (c *Controller) emptyBackoff(ctx context.Context, attempt int) error {
	d := c.cfg.EmptyRetryBackoff << (attempt - 1)
	if max := 5 * time.Second; d > max {
		d = max
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// deliverMail drains unread bus messages into the conversation so the
// model sees them on its next turn. Blocking waits are the
// wait_for_message tool's job, not the loop's.
func (c *Controller) deliverMail(st *agent.State, ec *agent.ExecutionContext) {
	if c.deps.Mailbox == nil {
		return
	}
	msgs := c.deps.Mailbox.Receive(st.AgentID(), true, true)
	if len(msgs) == 0 {
		return
	}
	obs := c.maskText(FormatIncomingMessages(msgs))
	st.AppendMessage(agent.NewMessage(agent.RoleUser, obs))
	c.emit(ec, st, events.New(events.TypeInfo, fmt.Sprintf("delivered %d queued messages", len(msgs))))
}

// runDispatch executes the orchestrator's dispatch_agent action.
func (c *Controller) runDispatch(ctx context.Context, st *agent.State, ec *agent.ExecutionContext, iter *agent.IterationState, p *Parsed) string {
	name, ok := tools.FirstStringArg(p.ActionInput, "agent", "name", "agent_name")
	if !ok {
		return `Observation: Error - dispatch_agent requires an "agent" argument naming the sub-agent to run.`
	}
	task, ok := tools.FirstStringArg(p.ActionInput, "task", "instruction")
	if !ok {
		return `Observation: Error - dispatch_agent requires a "task" argument describing what the sub-agent should do.`
	}
	extra, _ := tools.MapArg(p.ActionInput, "context")

	st.RecordAction(agent.ActionRecord{
		Iteration: iter.CurrentIteration,
		Action:    p.Action,
		Input:     p.ActionInput,
		Timestamp: time.Now(),
	})

	ev := events.New(events.TypeDispatch, fmt.Sprintf("dispatching %s", name))
	ev.Metadata = map[string]any{"agent": name, "task": task}
	c.emit(ec, st, ev)

	obs, err := c.deps.Dispatcher.Dispatch(ctx, name, task, extra)

	done := events.New(events.TypeDispatchComplete, fmt.Sprintf("dispatch of %s finished", name))
	done.Metadata = map[string]any{"agent": name}
	if err != nil {
		done.Metadata["error"] = c.maskErr(err)
	}
	c.emit(ec, st, done)

	if err != nil {
		return fmt.Sprintf("Observation: Error - dispatching %q failed: %s", name, c.maskErr(err))
	}
	return "Observation: " + obs
}

// execTool resolves and runs a registry tool. The second return is non-nil
// when the tool was a control tool asking the loop to wrap up; it carries
// the tool's result data.
func (c *Controller) execTool(ctx context.Context, st *agent.State, ec *agent.ExecutionContext, iter *agent.IterationState, p *Parsed) (string, map[string]any) {
	if _, ok := c.deps.Registry.Get(p.Action); !ok {
		return FormatUnknownToolObservation(p.Action, c.deps.Registry.List()), nil
	}

	ev := events.New(events.TypeToolCall, fmt.Sprintf("calling %s", p.Action))
	ev.ToolName = p.Action
	ev.ToolInput = p.ActionInput
	c.emit(ec, st, ev)

	st.RecordAction(agent.ActionRecord{
		Iteration: iter.CurrentIteration,
		Action:    p.Action,
		Input:     p.ActionInput,
		Timestamp: time.Now(),
	})
	st.CountToolCall()

	tctx := ctx
	if c.cfg.IterationTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, c.cfg.IterationTimeout)
		defer cancel()
	}
	started := time.Now()
	// The registry caps panics and normalizes nil results, so res always
	// arrives; its Error field carries any failure.
	res, _ := c.deps.Registry.Execute(tctx, p.Action, p.ActionInput)

	rev := events.New(events.TypeToolResult, fmt.Sprintf("%s finished", p.Action))
	rev.ToolName = p.Action
	rev.ToolDurationMS = time.Since(started).Milliseconds()
	if res != nil && !res.Success {
		rev.Metadata = map[string]any{"error": c.maskText(res.Error)}
	}
	c.emit(ec, st, rev)

	if res == nil || !res.Success {
		if iter.RecordToolFailure(p.Action) {
			return FormatRepeatFailureObservation(p.Action, agent.MaxToolRepeatFailures), nil
		}
		return FormatObservation(res), nil
	}
	iter.RecordToolSuccess(p.Action)

	obs := FormatObservation(res)
	if res.Metadata != nil {
		if _, control := res.Metadata[tools.MetaControl]; control {
			finished, _ := res.Data.(map[string]any)
			if finished == nil {
				finished = map[string]any{}
			}
			return obs, finished
		}
	}
	return obs, nil
}

// forceConclusion asks the model to wrap up with what it has. Used when
// the iteration or token budget is exhausted.
func (c *Controller) forceConclusion(ctx context.Context, st *agent.State, ec *agent.ExecutionContext, iter *agent.IterationState, start time.Time, reason string) (*agent.Result, error) {
	if iter.LastInteractionFailed {
		cause := faults.Newf(faults.AgentIterationLimit,
			"iteration limit reached after failed interaction: %s", iter.LastErrorMessage)
		return c.finishFailed(ctx, st, ec, start, cause)
	}

	st.AppendMessage(agent.NewMessage(agent.RoleUser, ForcedConclusionPrompt(reason)))
	resp, err := c.turn(ctx, st)
	if err != nil {
		cause := faults.Wrap(faults.AgentIterationLimit, "conclusion call failed at iteration limit", err)
		return c.finishFailed(ctx, st, ec, start, cause)
	}
	st.AddUsage(resp.Usage)
	text := strings.TrimSpace(resp.Content)
	st.AppendMessage(agent.NewMessage(agent.RoleAssistant, text))

	p := Parse(text)
	if p.IsFinal && !p.AnswerMalformed {
		return c.finishCompleted(ctx, st, ec, start, p.Answer, p.AnswerText, false)
	}
	answer := ExtractForcedAnswer(p)
	if answer == "" {
		answer = text
	}
	return c.finishCompleted(ctx, st, ec, start, nil, answer, true)
}

// finishCompleted harvests findings from the final answer, transitions to
// completed, and builds the success result. When the answer was not
// decodable JSON the raw text becomes the summary.
func (c *Controller) finishCompleted(ctx context.Context, st *agent.State, ec *agent.ExecutionContext, start time.Time, answer map[string]any, answerText string, malformed bool) (*agent.Result, error) {
	data := answer
	if malformed || data == nil {
		data = map[string]any{"summary": answerText}
	}

	fs := findings.ExtractFromData(data)
	if len(fs) > 0 {
		st.AddFindings(fs...)
		for _, f := range fs {
			fev := events.New(events.TypeFinding, c.maskText(f.Title))
			fev.Metadata = map[string]any{
				"severity":           string(f.Severity),
				"vulnerability_type": f.VulnerabilityType,
				"file_path":          f.FilePath,
			}
			c.emit(ec, st, fev)
		}
	}

	if err := st.Transition(models.StatusCompleted); err != nil {
		c.log.Warn("completed transition rejected", "agent_id", st.AgentID(), "status", st.Status().String(), "error", err)
	}
	c.terminalCheckpoint(ctx, st)

	handoff, _ := data["handoff"].(string)
	res := &agent.Result{
		Success:    true,
		Data:       data,
		Findings:   st.Findings(),
		Iterations: st.Iteration(),
		ToolCalls:  st.ToolCallCount(),
		TokensUsed: st.TokensUsed(),
		DurationMS: time.Since(start).Milliseconds(),
		Handoff:    handoff,
	}

	cev := events.New(events.TypeLLMComplete, "agent completed")
	cev.TokensUsed = res.TokensUsed.TotalTokens
	c.emit(ec, st, cev)
	return res, nil
}

// finishFailed transitions to failed and builds a result that still
// carries partial findings and counters.
func (c *Controller) finishFailed(ctx context.Context, st *agent.State, ec *agent.ExecutionContext, start time.Time, cause error) (*agent.Result, error) {
	if err := st.Transition(models.StatusFailed); err != nil {
		c.log.Warn("failed transition rejected", "agent_id", st.AgentID(), "status", st.Status().String(), "error", err)
	}
	c.terminalCheckpoint(ctx, st)
	c.emit(ec, st, events.New(events.TypeError, c.maskErr(cause)))

	res := agent.FailedResult(cause)
	res.Findings = st.Findings()
	res.Iterations = st.Iteration()
	res.ToolCalls = st.ToolCallCount()
	res.TokensUsed = st.TokensUsed()
	res.DurationMS = time.Since(start).Milliseconds()
	return res, cause
}

// finishInterrupted routes an externally raised stop to its terminal
// state. Wall-clock exhaustion is a budget failure; cooperative stops and
// plain cancellation land in stopped.
func (c *Controller) finishInterrupted(ctx context.Context, st *agent.State, ec *agent.ExecutionContext, start time.Time, cause error) (*agent.Result, error) {
	if faults.IsKind(cause, faults.AgentTimeout) {
		return c.finishFailed(ctx, st, ec, start, cause)
	}
	return c.finishStopped(ctx, st, ec, start, cause)
}

// finishStopped walks the state through stopping to stopped and returns a
// cancellation result with whatever was gathered.
func (c *Controller) finishStopped(ctx context.Context, st *agent.State, ec *agent.ExecutionContext, start time.Time, cause error) (*agent.Result, error) {
	if !st.Status().IsTerminal() {
		if st.Status() != models.StatusStopping {
			if err := st.Transition(models.StatusStopping); err != nil {
				c.log.Warn("stopping transition rejected", "agent_id", st.AgentID(), "status", st.Status().String(), "error", err)
			}
		}
		if st.Status() == models.StatusStopping {
			if err := st.Transition(models.StatusStopped); err != nil {
				c.log.Warn("stopped transition rejected", "agent_id", st.AgentID(), "status", st.Status().String(), "error", err)
			}
		}
	}
	c.terminalCheckpoint(ctx, st)
	c.emit(ec, st, events.New(events.TypeInfo, "agent stopped: "+c.maskErr(cause)))

	res := agent.FailedResult(cause)
	res.Findings = st.Findings()
	res.Iterations = st.Iteration()
	res.ToolCalls = st.ToolCallCount()
	res.TokensUsed = st.TokensUsed()
	res.DurationMS = time.Since(start).Milliseconds()
	return res, cause
}

// maybeCheckpoint saves a periodic checkpoint when configured.
func (c *Controller) maybeCheckpoint(ctx context.Context, st *agent.State, iteration int) {
	if c.deps.Checkpoints == nil || c.cfg.CheckpointEvery <= 0 || iteration%c.cfg.CheckpointEvery != 0 {
		return
	}
	if err := c.deps.Checkpoints.Save(ctx, checkpoint.Capture(st, "")); err != nil {
		c.log.Warn("checkpoint save failed", "agent_id", st.AgentID(), "iteration", iteration, "error", err)
	}
}

// terminalCheckpoint persists the final state. It survives context
// cancellation so a stopped agent can still be inspected or resumed.
func (c *Controller) terminalCheckpoint(ctx context.Context, st *agent.State) {
	if c.deps.Checkpoints == nil {
		return
	}
	sctx := context.WithoutCancel(ctx)
	name := "terminal-" + st.Status().String()
	if err := c.deps.Checkpoints.Save(sctx, checkpoint.Capture(st, name)); err != nil {
		c.log.Warn("terminal checkpoint save failed", "agent_id", st.AgentID(), "error", err)
	}
}

func (c *Controller) emit(ec *agent.ExecutionContext, st *agent.State, ev events.Event) {
	if c.deps.Emitter == nil {
		return
	}
	ev.CorrelationID = ec.CorrelationID
	ev.TaskID = ec.TaskID
	ev.AgentID = st.AgentID()
	ev.AgentName = st.Name()
	if ev.Iteration == 0 {
		ev.Iteration = ec.Iteration
	}
	c.deps.Emitter.Emit(ev)
}

func (c *Controller) maskText(s string) string {
	if c.deps.Masker == nil {
		return s
	}
	return c.deps.Masker.MaskText(s)
}

func (c *Controller) maskErr(err error) string {
	if err == nil {
		return ""
	}
	if c.deps.Masker == nil {
		return err.Error()
	}
	return c.deps.Masker.MaskError(err)
}
