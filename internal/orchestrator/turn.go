package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shre-db/linked-squad/go/assistant/internal/agents"
	"github.com/shre-db/linked-squad/go/assistant/internal/metrics"
	"github.com/shre-db/linked-squad/go/assistant/internal/parser"
	"github.com/shre-db/linked-squad/go/assistant/internal/profiles"
	"github.com/shre-db/linked-squad/go/assistant/internal/state"
	"github.com/shre-db/linked-squad/go/assistant/internal/util"
)

// Routing sources reported in metrics.
const (
	sourceOracle    = "oracle"
	sourceHeuristic = "heuristic"
	sourceProfile   = "profile"
	sourceLocal     = "local"
)

// turn carries the working data of one HandleTurn call. All state changes go
// through apply.
type turn struct {
	o      *Orchestrator
	st     *state.ConversationState
	id     string
	input  string
	logger *zap.Logger

	conversation string
	decision     *agents.Decision

	routed     state.Action
	action     state.Action
	capability state.Capability
	reply      string
	fallback   bool
	errMsg     string
	diff       state.Diff
	finished   bool
}

func newTurn(o *Orchestrator, st *state.ConversationState, id, input string) *turn {
	return &turn{
		o:     o,
		st:    st,
		id:    id,
		input: input,
		logger: o.logger.With(
			zap.String("session_id", st.SessionID),
			zap.String("turn_id", id),
		),
	}
}

// run executes the turn. A panic anywhere below is converted into the internal
// error reply so the caller always gets a persisted state.
func (t *turn) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Turn panicked", zap.Any("panic", r), zap.Stack("stack"))
			t.apply(state.Update{ClearHandOff: true})
			t.fail(state.ActionRespondDirectly, replyInternalError, fmt.Sprintf("Internal error: %v", r))
			t.finish()
		}
	}()
	t.route(ctx)
	t.finish()
}

func (t *turn) apply(u state.Update) {
	d, err := state.Apply(t.st, u)
	if err != nil {
		// only reachable through a programming error; run recovers it
		panic(fmt.Errorf("rejected state update: %w", err))
	}
	for _, f := range d {
		if !containsString(t.diff, f) {
			t.diff = append(t.diff, f)
		}
	}
}

func (t *turn) respond(a state.Action, reply string) {
	t.action = a
	t.reply = reply
}

func (t *turn) fail(a state.Action, reply, errMsg string) {
	t.respond(a, reply)
	t.errMsg = errMsg
	t.apply(state.Update{ErrorMessage: &errMsg})
}

func (t *turn) route(ctx context.Context) {
	input := strings.TrimSpace(t.input)
	t.apply(state.Update{UserInput: &input})

	if input == "" {
		if t.st.IsFresh() {
			t.respond(state.ActionInitialWelcome, replyWelcome)
		} else {
			t.respond(state.ActionInvalidInput, replyInvalidInput)
		}
		t.routed = t.action
		metrics.RoutingDecisions.WithLabelValues(string(t.action), sourceLocal).Inc()
		return
	}

	t.apply(state.Update{Append: []state.Message{{Role: state.RoleUser, Content: input}}})
	t.conversation = t.st.RecentContext(contextMessages, contextChars)

	fetched := false
	if url, ok := profiles.ExtractURL(input); ok && !t.st.HasProfile() {
		if !t.loadProfile(ctx, url) {
			return
		}
		fetched = true
	}

	action, source := t.preselect(input, fetched)
	if action == "" {
		d, err := t.o.oracle.Decide(ctx, t.st.Snapshot(), transcriptSummary(t.st), input)
		if err != nil {
			metrics.RoutingErrors.Inc()
			t.logger.Warn("Routing decision failed", zap.Error(err))
			t.routed = state.ActionRespondDirectly
			t.fail(state.ActionRespondDirectly, replyRoutingError, "Routing error: "+err.Error())
			return
		}
		t.decision = d
		action, source = d.Action, sourceOracle
		if !d.KnownAction {
			metrics.UnknownRoutingActions.Inc()
			t.logger.Warn("Substituted unknown routing action",
				zap.Error(fmt.Errorf("%w: %q", state.ErrUnknownAction, d.RawAction)),
				zap.String("substitute", string(action)),
			)
		}
		if !t.applyDecision(ctx, d) {
			return
		}
		if action == state.ActionCallJobFit && t.st.JobDescription == "" && LooksLikeJobDescription(input) {
			t.recordJobDescription(input)
		}
	}
	// a routed turn supersedes the last error; later steps may set a new one
	t.apply(state.Update{ClearError: true})
	t.routed = action
	metrics.RoutingDecisions.WithLabelValues(string(action), source).Inc()
	t.logger.Debug("Routing decision",
		zap.String("action", string(action)),
		zap.String("source", source),
	)

	t.execute(ctx, t.enforce(action))
}

// preselect picks an action locally when the input makes the choice obvious.
func (t *turn) preselect(input string, fetched bool) (state.Action, string) {
	switch {
	case fetched && !t.st.HasAnalysis():
		return state.ActionCallAnalyze, sourceProfile
	case expectingJobDescription(t.st) && LooksLikeJobDescription(input):
		t.recordJobDescription(input)
		return state.ActionCallJobFit, sourceHeuristic
	}
	return "", ""
}

func (t *turn) recordJobDescription(input string) {
	t.apply(state.Update{JobDescription: &input})
	t.logger.Info("Auto-detected job description",
		zap.Int("keyword_count", util.CountKeywordMatches(input, jobDescriptionKeywords)),
		zap.Int("length", len(input)),
	)
}

// loadProfile fetches and stores the subject profile. It returns false after
// setting an AWAIT_URL reply when the profile cannot be used.
func (t *turn) loadProfile(ctx context.Context, identifier string) bool {
	p, err := t.o.profiles.Fetch(ctx, identifier)
	if err != nil {
		t.routed = state.ActionAwaitURL
		var nf *profiles.NotFoundError
		switch {
		case errors.As(err, &nf):
			t.fail(state.ActionAwaitURL,
				fmt.Sprintf("I couldn't load the profile at %s: %s", identifier, nf.Hint()),
				"Profile error: "+err.Error())
		case errors.Is(err, profiles.ErrProfileNotFound):
			t.fail(state.ActionAwaitURL,
				fmt.Sprintf("I couldn't load the profile at %s: not found", identifier),
				"Profile error: "+err.Error())
		default:
			t.logger.Warn("Profile fetch failed", zap.String("identifier", identifier), zap.Error(err))
			t.fail(state.ActionAwaitURL, replyProfileUnavailable, "Profile error: "+err.Error())
		}
		return false
	}

	data := p.Data
	if data == nil {
		data = map[string]any{}
	}
	url := p.URL
	if url == "" {
		url = identifier
	}
	t.apply(state.Update{ProfileURL: &url, Profile: data})
	t.logger.Info("Loaded profile", zap.String("profile_id", p.ID), zap.Bool("empty", p.Empty()))
	return true
}

// applyDecision copies the oracle's bookkeeping fields into the state. It returns
// false when a profile URL reported by the oracle could not be loaded.
func (t *turn) applyDecision(ctx context.Context, d *agents.Decision) bool {
	if d.ProfileURL != "" && !t.st.HasProfile() {
		if !t.loadProfile(ctx, d.ProfileURL) {
			return false
		}
	}
	u := state.Update{
		AwaitingConfirmation:   d.AwaitingConfirmation,
		AwaitingJobDescription: d.AwaitingJobDescription,
		UserRequestedUpdate:    d.UserRequestedUpdate,
		ProposedNextAction:     d.ProposedNextAction,
		LastAgentCalled:        d.LastAgentCalled,
	}
	if d.JobDescription != "" {
		u.JobDescription = &d.JobDescription
	}
	if d.TargetRole != "" {
		u.TargetRole = &d.TargetRole
	}
	t.apply(u)
	return true
}

// enforce downgrades a dispatch whose prerequisites are missing. The oracle
// never overrides these checks.
func (t *turn) enforce(a state.Action) state.Action {
	if !a.IsDispatch() {
		return a
	}
	to, reason := a, ""
	switch {
	case !t.st.HasProfile():
		if a == state.ActionCallAnalyze {
			to = state.ActionAwaitURL
		} else {
			to = state.ActionRequestMissingInput
		}
		reason = "profile required"
	case a != state.ActionCallAnalyze && !t.st.HasAnalysis():
		to, reason = state.ActionCallAnalyze, "analysis required"
	case a == state.ActionCallJobFit && strings.TrimSpace(t.st.JobDescription) == "":
		to, reason = state.ActionRequestMissingInput, "job description required"
	}
	if to == a {
		return a
	}

	metrics.PrerequisiteDowngrades.WithLabelValues(string(a), string(to)).Inc()
	t.logger.Info("Downgraded dispatch",
		zap.String("from", string(a)),
		zap.String("to", string(to)),
		zap.String("reason", reason),
	)
	if to == state.ActionCallAnalyze {
		// the analysis runs now and the original request is offered next
		t.apply(state.Update{ProposedNextAction: &a})
		return to
	}

	msg := fmt.Sprintf("%v: %s before %s", ErrPrerequisiteUnmet, reason, a)
	t.errMsg = msg
	u := state.Update{ErrorMessage: &msg}
	if a == state.ActionCallJobFit && t.st.HasProfile() {
		u.AwaitingJobDescription = state.Ptr(true)
		u.ProposedNextAction = &a
	}
	t.apply(u)
	return to
}

// execute resolves the effective action into a reply.
func (t *turn) execute(ctx context.Context, a state.Action) {
	if c, ok := a.Capability(); ok {
		t.dispatch(ctx, c)
		return
	}

	switch a {
	case state.ActionInitialWelcome:
		t.respond(a, t.oracleReply(replyWelcome))
	case state.ActionAwaitURL:
		if t.routed != a {
			// downgraded locally, so the oracle's text describes the wrong action
			t.respond(a, replyAwaitURL)
		} else {
			t.respond(a, t.oracleReply(replyAwaitURL))
		}
	case state.ActionRequestMissingInput:
		t.respond(a, t.missingInputReply())
	case state.ActionAwaitConfirmation:
		if !t.st.AwaitingConfirmation {
			t.apply(state.Update{AwaitingConfirmation: state.Ptr(true)})
		}
		t.respond(a, t.oracleReply(replyConfirm))
	case state.ActionProcessOutput:
		if t.st.NeedsPostProcessing {
			t.render(ctx, t.st.PendingCapability, t.st.PendingInstructions)
			return
		}
		t.respond(state.ActionRespondDirectly, t.oracleReply(replyNothingToProcess))
	case state.ActionInvalidInput:
		t.respond(a, t.oracleReply(replyInvalidInput))
	default:
		t.respond(state.ActionRespondDirectly, t.oracleReply(replyRespond))
	}
}

func (t *turn) oracleReply(fallback string) string {
	if t.decision != nil && strings.TrimSpace(t.decision.BotResponse) != "" {
		return t.decision.BotResponse
	}
	return fallback
}

func (t *turn) missingInputReply() string {
	if t.routed != state.ActionRequestMissingInput {
		if !t.st.HasProfile() {
			return replyNeedProfile
		}
		return replyNeedJobDescription
	}
	if !t.st.HasProfile() {
		return t.oracleReply(replyNeedProfile)
	}
	return t.oracleReply(replyNeedJobDescription)
}

// inputs assembles the agent arguments for c from the state.
func (t *turn) inputs(c state.Capability) map[string]any {
	switch c {
	case state.CapabilityAnalyze:
		return map[string]any{agents.InputProfile: t.st.Profile}
	case state.CapabilityRewrite:
		return map[string]any{
			agents.InputCurrentContent: t.st.Profile,
			agents.InputAnalysisReport: t.st.Analysis.Result,
			agents.InputTargetRole:     t.st.TargetRole,
		}
	case state.CapabilityJobFit:
		return map[string]any{
			agents.InputAnalysisReport: t.st.Analysis.Result,
			agents.InputJobDescription: t.st.JobDescription,
		}
	case state.CapabilityGuide:
		analysis := t.st.Analysis.Result
		if analysis == nil {
			analysis = map[string]any{}
		}
		return map[string]any{
			agents.InputUserQuery:      t.st.UserInput,
			agents.InputAnalysisReport: analysis,
			agents.InputTargetRole:     t.st.TargetRole,
		}
	}
	return nil
}

// wantsInstructions reports whether the current input should be mined for
// preferences. Locally routed turns have no oracle flags, so a keyword hit
// decides.
func (t *turn) wantsInstructions() bool {
	d := t.decision
	if d == nil {
		return agents.KeywordInstructions(t.st.UserInput) != nil
	}
	return d.HasSpecificInstructions || (d.UserRequestedUpdate != nil && *d.UserRequestedUpdate)
}

// dispatch invokes the agent for c and hands a verified result to rendering.
func (t *turn) dispatch(ctx context.Context, c state.Capability) {
	t.capability = c
	agent, ok := t.o.agents[c]
	if !ok {
		t.fail(state.ActionRespondDirectly, errorReplies[c], fmt.Sprintf("%s: no agent registered", errorLabels[c]))
		return
	}

	if t.wantsInstructions() {
		if instr := t.o.oracle.ExtractInstructions(ctx, t.st.UserInput, t.conversation, string(c)); instr != nil {
			t.apply(state.Update{Instructions: instr})
		}
	}
	instr := t.st.PendingInstructions

	res, err := agent.Invoke(ctx, agents.Request{
		Inputs:       t.inputs(c),
		Instructions: instr,
		Context:      t.conversation,
	})
	if err != nil {
		t.dispatchFailed(c, err)
		return
	}

	value := res.Value()
	u := state.Update{
		Result:              &state.ResultWrite{Capability: c, Result: value},
		HandOff:             &state.HandOff{Output: value, Capability: c},
		LastAgentCalled:     &c,
		TaskStatus:          state.Ptr(taskStatus[c]),
		ClearInstructions:   true,
		UserRequestedUpdate: state.Ptr(false),
	}
	if c == state.CapabilityJobFit {
		u.AwaitingJobDescription = state.Ptr(false)
	}
	if t.st.ProposedNextAction == c.Action() {
		u.ProposedNextAction = state.Ptr(state.Action(""))
	}
	if res.Fallback {
		t.fallback = true
		msg := fmt.Sprintf("%s: fallback result after %d attempts", errorLabels[c], res.Attempts)
		if notes, ok := res.Structured["analysis_notes"].(string); ok && notes != "" {
			msg = errorLabels[c] + ": " + notes
		}
		t.errMsg = msg
		u.ErrorMessage = &msg
	}
	t.apply(u)

	t.logger.Info("Agent completed",
		zap.String("capability", string(c)),
		zap.Int("attempts", res.Attempts),
		zap.Bool("fallback", res.Fallback),
	)
	t.render(ctx, c, instr)
}

func (t *turn) dispatchFailed(c state.Capability, err error) {
	t.logger.Warn("Agent failed", zap.String("capability", string(c)), zap.Error(err))
	reply := errorReplies[c]
	if errors.Is(err, agents.ErrInvalidInput) || errors.Is(err, parser.ErrParse) {
		reply = issueReplies[c]
	}
	t.fail(state.ActionRespondDirectly, reply, errorLabels[c]+": "+err.Error())
}

// render turns the pending hand-off into the reply. The hand-off is cleared on
// every path.
func (t *turn) render(ctx context.Context, c state.Capability, instr *state.Instructions) {
	t.capability = c
	defer t.apply(state.Update{ClearHandOff: true})

	reply, err := t.o.oracle.RenderOutput(ctx, c, t.st.PendingOutput, t.conversation, instr)
	if err != nil || strings.TrimSpace(reply) == "" {
		if err == nil {
			err = errors.New("empty rendering")
		}
		t.logger.Warn("Output rendering failed, using fallback reply", zap.String("capability", string(c)), zap.Error(err))
		msg := "Output processing error: " + err.Error()
		t.errMsg = msg
		t.apply(state.Update{ErrorMessage: &msg})
		reply = agents.FallbackReply(c)
	}
	t.respond(state.ActionProcessOutput, reply)
}

// finish appends the reply and closes the turn. It runs once.
func (t *turn) finish() {
	if t.finished {
		return
	}
	t.finished = true
	if t.action == "" {
		t.action = state.ActionRespondDirectly
	}
	if t.routed == "" {
		t.routed = t.action
	}
	u := state.Update{RoutingAction: &t.action, CompleteTurn: true}
	if t.reply != "" {
		u.Append = []state.Message{{Role: state.RoleAssistant, Content: t.reply}}
	}
	t.apply(u)
}

func (t *turn) event(elapsed time.Duration) state.TurnEvent {
	return state.TurnEvent{
		TurnID:       t.id,
		SessionID:    t.st.SessionID,
		TurnNumber:   t.st.TurnCount,
		UserInput:    t.st.UserInput,
		RoutedAction: t.routed,
		Action:       t.action,
		Capability:   t.capability,
		Reply:        t.reply,
		Diff:         t.diff,
		Fallback:     t.fallback,
		Error:        t.errMsg,
		DurationMs:   elapsed.Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
