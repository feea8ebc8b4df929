package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shre-db/linked-squad/go/assistant/internal/agents"
	"github.com/shre-db/linked-squad/go/assistant/internal/llm"
	"github.com/shre-db/linked-squad/go/assistant/internal/parser"
	"github.com/shre-db/linked-squad/go/assistant/internal/profiles"
	"github.com/shre-db/linked-squad/go/assistant/internal/session"
	"github.com/shre-db/linked-squad/go/assistant/internal/state"
)

type fakeAgent struct {
	c      state.Capability
	mu     sync.Mutex
	reqs   []agents.Request
	result *agents.Result
	err    error
}

func (f *fakeAgent) Capability() state.Capability { return f.c }

func (f *fakeAgent) Invoke(_ context.Context, req agents.Request) (*agents.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	if f.c == state.CapabilityAnalyze || f.c == state.CapabilityRewrite {
		return &agents.Result{Capability: f.c, Structured: map[string]any{"overall_score": 72.0}, Attempts: 1}, nil
	}
	return &agents.Result{Capability: f.c, Text: string(f.c) + " report", Attempts: 1}, nil
}

func (f *fakeAgent) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeOracle struct {
	mu           sync.Mutex
	decide       func(input string) (*agents.Decision, error)
	decideCalls  int
	instructions *state.Instructions
	extractCalls int
	render       func(c state.Capability, output any) (string, error)
	rendered     []state.Capability
}

func (f *fakeOracle) Decide(_ context.Context, _, _, input string) (*agents.Decision, error) {
	f.mu.Lock()
	f.decideCalls++
	decide := f.decide
	f.mu.Unlock()
	if decide == nil {
		return &agents.Decision{Action: state.ActionRespondDirectly, KnownAction: true, BotResponse: "Sure."}, nil
	}
	return decide(input)
}

func (f *fakeOracle) ExtractInstructions(context.Context, string, string, string) *state.Instructions {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extractCalls++
	return f.instructions
}

func (f *fakeOracle) RenderOutput(_ context.Context, c state.Capability, output any, _ string, _ *state.Instructions) (string, error) {
	f.mu.Lock()
	f.rendered = append(f.rendered, c)
	render := f.render
	f.mu.Unlock()
	if render != nil {
		return render(c, output)
	}
	return "Here is your " + string(c) + " result.", nil
}

func (f *fakeOracle) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decideCalls
}

func decision(a state.Action, reply string) *agents.Decision {
	return &agents.Decision{Action: a, RawAction: string(a), KnownAction: true, BotResponse: reply}
}

type harness struct {
	orch   *Orchestrator
	store  *session.MemoryStore
	oracle *fakeOracle
	agents map[state.Capability]*fakeAgent
	events []state.TurnEvent
	mu     sync.Mutex
}

func knownProfiles(_ context.Context, identifier string) (*profiles.Profile, error) {
	switch profiles.Slug(identifier) {
	case "known-user":
		return &profiles.Profile{ID: "known-user", URL: "https://service/in/known-user", Data: map[string]any{"name": "Known User"}}, nil
	case "blank":
		return &profiles.Profile{ID: "blank", URL: "https://service/in/blank"}, nil
	}
	return nil, &profiles.NotFoundError{Identifier: identifier, Suggestions: []string{"https://service/in/known-user"}}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  session.NewMemoryStore(time.Hour, 100),
		oracle: &fakeOracle{},
		agents: map[state.Capability]*fakeAgent{},
	}
	set := map[state.Capability]agents.TaskAgent{}
	for _, c := range state.Capabilities {
		a := &fakeAgent{c: c}
		h.agents[c] = a
		set[c] = a
	}
	h.orch = New(h.store, set, h.oracle, profiles.ProviderFunc(knownProfiles), zaptest.NewLogger(t))
	h.orch.AddTurnSink(TurnSinkFunc(func(_ context.Context, ev state.TurnEvent) error {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
		return nil
	}))
	return h
}

// seed persists a session that already has a profile and, optionally, an analysis.
func (h *harness) seed(t *testing.T, id string, analyzed bool, extra state.Update) {
	t.Helper()
	st := state.New(id)
	_, err := state.Apply(st, state.Update{
		ProfileURL:   state.Ptr("https://service/in/known-user"),
		Profile:      map[string]any{"name": "Known User"},
		Append:       []state.Message{{Role: state.RoleUser, Content: "hi"}, {Role: state.RoleAssistant, Content: "hello"}},
		CompleteTurn: true,
	})
	require.NoError(t, err)
	if analyzed {
		_, err = state.Apply(st, state.Update{Result: &state.ResultWrite{
			Capability: state.CapabilityAnalyze,
			Result:     map[string]any{"overall_score": 64.0},
		}})
		require.NoError(t, err)
	}
	_, err = state.Apply(st, extra)
	require.NoError(t, err)
	require.NoError(t, h.store.Save(context.Background(), st))
}

func (h *harness) lastEvent(t *testing.T) state.TurnEvent {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.events)
	return h.events[len(h.events)-1]
}

func TestHandleTurn_ProfileURLRunsAnalysis(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.orch.HandleTurn(ctx, "", "https://service/in/known-user")
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, state.ActionCallAnalyze, res.RoutedAction)
	assert.Equal(t, state.ActionProcessOutput, res.Action)
	assert.Equal(t, "Here is your analyze result.", res.Reply)
	assert.Equal(t, 0, h.oracle.calls())
	assert.Equal(t, 1, h.agents[state.CapabilityAnalyze].calls())

	st, err := h.store.Load(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Known User", st.Profile["name"])
	assert.Equal(t, "https://service/in/known-user", st.ProfileURL)
	assert.True(t, st.Analysis.Completed)
	assert.Equal(t, 72.0, st.Analysis.Result.(map[string]any)["overall_score"])
	assert.False(t, st.NeedsPostProcessing)
	assert.Nil(t, st.PendingOutput)
	assert.Equal(t, state.CapabilityAnalyze, st.LastAgentCalled)
	assert.Equal(t, state.ActionProcessOutput, st.RoutingAction)
	assert.Equal(t, 1, st.TurnCount)
	require.Len(t, st.Transcript, 2)
	assert.Equal(t, state.RoleAssistant, st.Transcript[1].Role)

	ev := h.lastEvent(t)
	assert.Equal(t, res.TurnID, ev.TurnID)
	assert.Equal(t, state.CapabilityAnalyze, ev.Capability)
	assert.Contains(t, ev.Diff, "analyze")
	assert.Contains(t, ev.Diff, "hand_off")
	assert.Empty(t, ev.Error)
}

func TestHandleTurn_JobFitWithoutDescriptionRequestsIt(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "s", true, state.Update{})
	h.oracle.decide = func(string) (*agents.Decision, error) {
		return decision(state.ActionCallJobFit, "Deploying the job fit evaluator."), nil
	}

	res, err := h.orch.HandleTurn(context.Background(), "s", "evaluate my fit")
	require.NoError(t, err)
	assert.Equal(t, state.ActionCallJobFit, res.RoutedAction)
	assert.Equal(t, state.ActionRequestMissingInput, res.Action)
	assert.Equal(t, replyNeedJobDescription, res.Reply)
	assert.True(t, res.State.AwaitingJobDescription)
	assert.Equal(t, state.ActionCallJobFit, res.State.ProposedNextAction)
	assert.Equal(t, 0, h.agents[state.CapabilityJobFit].calls())
	assert.Contains(t, res.State.ErrorMessage, ErrPrerequisiteUnmet.Error())
}

func TestHandleTurn_LongInputBecomesJobDescription(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "s", true, state.Update{AwaitingJobDescription: state.Ptr(true)})

	jd := "Senior Data Engineer. Responsibilities include building batch and streaming pipelines " +
		"on cloud platforms. Qualifications: 5+ years of experience with Python and SQL, strong " +
		"skills in distributed systems, a degree in computer science. Competitive salary and benefits."
	require.Greater(t, len(jd), 200)

	res, err := h.orch.HandleTurn(context.Background(), "s", jd)
	require.NoError(t, err)
	assert.Equal(t, 0, h.oracle.calls())
	assert.Equal(t, state.ActionCallJobFit, res.RoutedAction)
	assert.Equal(t, state.ActionProcessOutput, res.Action)
	assert.Equal(t, jd, res.State.JobDescription)
	assert.True(t, res.State.JobFit.Completed)
	assert.False(t, res.State.AwaitingJobDescription)

	evaluator := h.agents[state.CapabilityJobFit]
	require.Equal(t, 1, evaluator.calls())
	assert.Equal(t, jd, evaluator.reqs[0].Inputs[agents.InputJobDescription])
}

func TestHandleTurn_OracleJobFitPicksUpInlineDescription(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "s", true, state.Update{})
	h.oracle.decide = func(string) (*agents.Decision, error) {
		return decision(state.ActionCallJobFit, ""), nil
	}
	input := "Evaluate me for this role: requirements include 3 years experience and cloud skills"

	res, err := h.orch.HandleTurn(context.Background(), "s", input)
	require.NoError(t, err)
	assert.Equal(t, state.ActionProcessOutput, res.Action)
	assert.Equal(t, input, res.State.JobDescription)
}

func TestHandleTurn_PrerequisitesDowngradeDispatch(t *testing.T) {
	t.Run("job fit without analysis runs analysis", func(t *testing.T) {
		h := newHarness(t)
		h.seed(t, "s", false, state.Update{JobDescription: state.Ptr("Backend engineer")})
		h.oracle.decide = func(string) (*agents.Decision, error) { return decision(state.ActionCallJobFit, ""), nil }

		res, err := h.orch.HandleTurn(context.Background(), "s", "how do I fit this job?")
		require.NoError(t, err)
		assert.Equal(t, state.ActionProcessOutput, res.Action)
		assert.Equal(t, 1, h.agents[state.CapabilityAnalyze].calls())
		assert.Equal(t, 0, h.agents[state.CapabilityJobFit].calls())
		assert.Equal(t, state.ActionCallJobFit, res.State.ProposedNextAction)
		assert.True(t, res.State.Analysis.Completed)
		assert.False(t, res.State.JobFit.Completed)
	})

	t.Run("rewrite and guide without analysis run analysis", func(t *testing.T) {
		for _, a := range []state.Action{state.ActionCallRewrite, state.ActionCallGuide} {
			h := newHarness(t)
			h.seed(t, "s", false, state.Update{})
			a := a
			h.oracle.decide = func(string) (*agents.Decision, error) { return decision(a, ""), nil }

			res, err := h.orch.HandleTurn(context.Background(), "s", "go")
			require.NoError(t, err)
			assert.Equal(t, 1, h.agents[state.CapabilityAnalyze].calls(), a)
			c, _ := a.Capability()
			assert.Equal(t, 0, h.agents[c].calls(), a)
			assert.Equal(t, a, res.State.ProposedNextAction)
		}
	})

	t.Run("no profile", func(t *testing.T) {
		cases := map[state.Action]state.Action{
			state.ActionCallAnalyze: state.ActionAwaitURL,
			state.ActionCallRewrite: state.ActionRequestMissingInput,
			state.ActionCallJobFit:  state.ActionRequestMissingInput,
			state.ActionCallGuide:   state.ActionRequestMissingInput,
		}
		for proposed, want := range cases {
			h := newHarness(t)
			proposed := proposed
			h.oracle.decide = func(string) (*agents.Decision, error) { return decision(proposed, "On it!"), nil }

			res, err := h.orch.HandleTurn(context.Background(), "fresh", "please help with my profile")
			require.NoError(t, err)
			assert.Equal(t, want, res.Action, proposed)
			assert.NotEqual(t, "On it!", res.Reply, proposed)
			assert.False(t, res.State.AwaitingJobDescription, proposed)
			for _, a := range h.agents {
				assert.Equal(t, 0, a.calls(), proposed)
			}
		}
	})
}

func TestHandleTurn_UnknownActionIsRespondDirectly(t *testing.T) {
	gen := llm.GeneratorFunc(func(context.Context, string, float64) (string, error) {
		return `{"current_router_action": "LAUNCH_ROCKET", "current_bot_response": "Let me think about that."}`, nil
	})
	h := newHarness(t)
	set := map[state.Capability]agents.TaskAgent{}
	for c, a := range h.agents {
		set[c] = a
	}
	orch := New(h.store, set, agents.NewRouter(gen, agents.DefaultConfig(), zaptest.NewLogger(t)),
		profiles.ProviderFunc(knownProfiles), zaptest.NewLogger(t))

	res, err := orch.HandleTurn(context.Background(), "s", "do a barrel roll")
	require.NoError(t, err)
	assert.Equal(t, state.ActionRespondDirectly, res.Action)
	assert.Equal(t, state.ActionRespondDirectly, res.RoutedAction)
	assert.Equal(t, "Let me think about that.", res.Reply)
	for _, a := range h.agents {
		assert.Equal(t, 0, a.calls())
	}
}

func TestHandleTurn_RoutingErrorBecomesApology(t *testing.T) {
	h := newHarness(t)
	h.oracle.decide = func(string) (*agents.Decision, error) {
		return nil, &parser.ParseError{Kind: parser.KindMalformed, Cause: errors.New("bad json")}
	}

	res, err := h.orch.HandleTurn(context.Background(), "s", "hello there")
	require.NoError(t, err)
	assert.Equal(t, state.ActionRespondDirectly, res.Action)
	assert.Equal(t, replyRoutingError, res.Reply)
	assert.True(t, strings.HasPrefix(res.State.ErrorMessage, "Routing error: "))
	assert.Equal(t, 1, res.State.TurnCount)
}

func TestHandleTurn_PanicIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.oracle.decide = func(string) (*agents.Decision, error) { panic("oracle exploded") }

	res, err := h.orch.HandleTurn(context.Background(), "s", "hello")
	require.NoError(t, err)
	assert.Equal(t, state.ActionRespondDirectly, res.Action)
	assert.Equal(t, replyInternalError, res.Reply)
	assert.Contains(t, res.State.ErrorMessage, "oracle exploded")

	st, err := h.store.Load(context.Background(), "s")
	require.NoError(t, err)
	last, _ := st.LastMessage()
	assert.Equal(t, replyInternalError, last.Content)
}

func TestHandleTurn_AgentFailureLeavesSlotIncomplete(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "s", true, state.Update{})
	h.agents[state.CapabilityRewrite].err = &parser.ParseError{Kind: parser.KindTruncated, Cause: errors.New("eof")}
	h.oracle.decide = func(string) (*agents.Decision, error) { return decision(state.ActionCallRewrite, ""), nil }

	res, err := h.orch.HandleTurn(context.Background(), "s", "rewrite my headline")
	require.NoError(t, err)
	assert.Equal(t, state.ActionRespondDirectly, res.Action)
	assert.Equal(t, issueReplies[state.CapabilityRewrite], res.Reply)
	assert.False(t, res.State.Rewrite.Completed)
	assert.True(t, strings.HasPrefix(res.State.ErrorMessage, "Rewriting error: "))
	assert.False(t, res.State.NeedsPostProcessing)

	h.agents[state.CapabilityGuide].err = &agents.GenerationError{Capability: state.CapabilityGuide, Attempt: 1, Cause: llm.ErrTimeout}
	h.oracle.decide = func(string) (*agents.Decision, error) { return decision(state.ActionCallGuide, ""), nil }
	res, err = h.orch.HandleTurn(context.Background(), "s", "what should I learn next?")
	require.NoError(t, err)
	assert.Equal(t, errorReplies[state.CapabilityGuide], res.Reply)
	assert.False(t, res.State.Guide.Completed)
}

func TestHandleTurn_SuccessClearsPreviousError(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "s", true, state.Update{ErrorMessage: state.Ptr("Routing error: earlier")})
	h.oracle.decide = func(string) (*agents.Decision, error) { return decision(state.ActionCallGuide, ""), nil }

	res, err := h.orch.HandleTurn(context.Background(), "s", "how do I become a staff engineer?")
	require.NoError(t, err)
	assert.Empty(t, res.State.ErrorMessage)
	assert.True(t, res.State.Guide.Completed)
	assert.Equal(t, "guide report", res.State.Guide.Result)
	assert.Equal(t, "how do I become a staff engineer?", h.agents[state.CapabilityGuide].reqs[0].Inputs[agents.InputUserQuery])
}

func TestHandleTurn_RoutedTurnClearsEarlierRoutingError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.oracle.decide = func(string) (*agents.Decision, error) { return nil, errors.New("oracle down") }

	res, err := h.orch.HandleTurn(ctx, "s", "hello")
	require.NoError(t, err)
	require.Equal(t, "Routing error: oracle down", res.State.ErrorMessage)

	h.oracle.decide = func(string) (*agents.Decision, error) {
		return decision(state.ActionRespondDirectly, "Happy to help."), nil
	}
	res, err = h.orch.HandleTurn(ctx, "s", "what can you do?")
	require.NoError(t, err)
	assert.Equal(t, "Happy to help.", res.Reply)
	assert.Empty(t, res.State.ErrorMessage)
	assert.Contains(t, h.lastEvent(t).Diff, "error_message")
	assert.Empty(t, h.lastEvent(t).Error)
}

func TestHandleTurn_NonDispatchTurnsClearError(t *testing.T) {
	for _, a := range []state.Action{state.ActionAwaitURL, state.ActionInitialWelcome, state.ActionAwaitConfirmation} {
		h := newHarness(t)
		h.seed(t, "s", false, state.Update{ErrorMessage: state.Ptr("Routing error: earlier")})
		a := a
		h.oracle.decide = func(string) (*agents.Decision, error) { return decision(a, "ok"), nil }

		res, err := h.orch.HandleTurn(context.Background(), "s", "next")
		require.NoError(t, err)
		assert.Equal(t, a, res.Action, a)
		assert.Empty(t, res.State.ErrorMessage, a)
	}
}

func TestHandleTurn_DowngradeReplacesEarlierError(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "s", true, state.Update{ErrorMessage: state.Ptr("Routing error: earlier")})
	h.oracle.decide = func(string) (*agents.Decision, error) { return decision(state.ActionCallJobFit, ""), nil }

	res, err := h.orch.HandleTurn(context.Background(), "s", "evaluate my fit")
	require.NoError(t, err)
	assert.Equal(t, state.ActionRequestMissingInput, res.Action)
	assert.NotContains(t, res.State.ErrorMessage, "earlier")
	assert.Contains(t, res.State.ErrorMessage, ErrPrerequisiteUnmet.Error())
}

func TestHandleTurn_LocallyRoutedJobFitExtractsInstructions(t *testing.T) {
	jd := "Staff Platform Engineer. Responsibilities include owning the deployment platform. " +
		"Qualifications: 8+ years of experience, strong skills in Go and Kubernetes. " +
		"Please focus on my infrastructure work when you compare me against this posting."

	t.Run("keyword hit", func(t *testing.T) {
		h := newHarness(t)
		h.seed(t, "s", true, state.Update{AwaitingJobDescription: state.Ptr(true)})
		instr := &state.Instructions{HasSpecificInstructions: true, ContentFocus: "infrastructure", Summary: "Focus: infrastructure"}
		h.oracle.instructions = instr

		res, err := h.orch.HandleTurn(context.Background(), "s", jd)
		require.NoError(t, err)
		assert.Equal(t, 0, h.oracle.calls())
		assert.Equal(t, 1, h.oracle.extractCalls)
		evaluator := h.agents[state.CapabilityJobFit]
		require.Equal(t, 1, evaluator.calls())
		assert.Equal(t, instr, evaluator.reqs[0].Instructions)
		assert.Nil(t, res.State.PendingInstructions)
	})

	t.Run("no keywords", func(t *testing.T) {
		h := newHarness(t)
		h.seed(t, "s", true, state.Update{AwaitingJobDescription: state.Ptr(true)})
		h.oracle.instructions = &state.Instructions{HasSpecificInstructions: true, Summary: "unused"}
		plain := "Data Analyst. Requirements: 2 years of experience, SQL skills, a degree in statistics. Salary and benefits included."

		_, err := h.orch.HandleTurn(context.Background(), "s", plain)
		require.NoError(t, err)
		assert.Equal(t, 0, h.oracle.extractCalls)
		require.Equal(t, 1, h.agents[state.CapabilityJobFit].calls())
		assert.Nil(t, h.agents[state.CapabilityJobFit].reqs[0].Instructions)
	})
}

func TestHandleTurn_AnalyzerFallbackIsStored(t *testing.T) {
	h := newHarness(t)
	h.agents[state.CapabilityAnalyze].result = &agents.Result{
		Capability: state.CapabilityAnalyze,
		Structured: agents.FallbackAnalysis(errors.New("malformed")),
		Attempts:   3,
		Fallback:   true,
	}

	res, err := h.orch.HandleTurn(context.Background(), "", "https://service/in/known-user")
	require.NoError(t, err)
	assert.Equal(t, state.ActionProcessOutput, res.Action)
	assert.True(t, res.State.Analysis.Completed)
	assert.Contains(t, res.State.ErrorMessage, "Analysis error")
	assert.True(t, h.lastEvent(t).Fallback)
}

func TestHandleTurn_RenderFailureUsesFallbackReply(t *testing.T) {
	h := newHarness(t)
	h.oracle.render = func(state.Capability, any) (string, error) { return "", llm.ErrUnavailable }

	res, err := h.orch.HandleTurn(context.Background(), "", "https://service/in/known-user")
	require.NoError(t, err)
	assert.Equal(t, state.ActionProcessOutput, res.Action)
	assert.Equal(t, agents.FallbackReply(state.CapabilityAnalyze), res.Reply)
	assert.False(t, res.State.NeedsPostProcessing)
	assert.Nil(t, res.State.PendingOutput)
	assert.True(t, strings.HasPrefix(res.State.ErrorMessage, "Output processing error: "))
	assert.True(t, res.State.Analysis.Completed)
}

func TestHandleTurn_InstructionsAreForwardedAndConsumed(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "s", true, state.Update{})
	instr := &state.Instructions{HasSpecificInstructions: true, ToneAdjustments: "confident", Summary: "Tone: confident"}
	h.oracle.instructions = instr
	h.oracle.decide = func(string) (*agents.Decision, error) {
		d := decision(state.ActionCallRewrite, "")
		d.HasSpecificInstructions = true
		d.UserRequestedUpdate = state.Ptr(true)
		return d, nil
	}

	res, err := h.orch.HandleTurn(context.Background(), "s", "rewrite it, sound more confident")
	require.NoError(t, err)
	rewriter := h.agents[state.CapabilityRewrite]
	require.Equal(t, 1, rewriter.calls())
	assert.Equal(t, instr, rewriter.reqs[0].Instructions)
	assert.Nil(t, res.State.PendingInstructions)
	assert.False(t, res.State.UserRequestedUpdate)
	assert.True(t, res.State.Rewrite.Completed)
}

func TestHandleTurn_EmptyInput(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.HandleTurn(context.Background(), "s", "   ")
	require.NoError(t, err)
	assert.Equal(t, state.ActionInitialWelcome, res.Action)
	assert.Equal(t, replyWelcome, res.Reply)

	res, err = h.orch.HandleTurn(context.Background(), "s", "")
	require.NoError(t, err)
	assert.Equal(t, state.ActionInvalidInput, res.Action)
	assert.Equal(t, 0, h.oracle.calls())
	require.Len(t, res.State.Transcript, 2)
	assert.Equal(t, state.RoleAssistant, res.State.Transcript[0].Role)
}

func TestHandleTurn_UnknownProfileAsksAgain(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.HandleTurn(context.Background(), "s", "here it is https://service/in/nobody")
	require.NoError(t, err)
	assert.Equal(t, state.ActionAwaitURL, res.Action)
	assert.Contains(t, res.Reply, "not found, try one of: https://service/in/known-user")
	assert.False(t, res.State.HasProfile())
	assert.Equal(t, 0, h.oracle.calls())
}

func TestHandleTurn_EmptyProfileIsLoadedButNotAnalyzable(t *testing.T) {
	h := newHarness(t)
	h.agents[state.CapabilityAnalyze].err = &agents.InvalidInputError{Capability: state.CapabilityAnalyze, Field: agents.InputProfile, Reason: "empty"}

	res, err := h.orch.HandleTurn(context.Background(), "s", "https://service/in/blank")
	require.NoError(t, err)
	assert.True(t, res.State.HasProfile())
	assert.Equal(t, state.ActionRespondDirectly, res.Action)
	assert.Equal(t, issueReplies[state.CapabilityAnalyze], res.Reply)
}

func TestHandleTurn_ResumesPersistedState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.orch.HandleTurn(ctx, "", "https://service/in/known-user")
	require.NoError(t, err)

	h.oracle.decide = func(string) (*agents.Decision, error) { return decision(state.ActionCallGuide, ""), nil }
	second, err := h.orch.HandleTurn(ctx, first.SessionID, "how do I grow into a lead role?")
	require.NoError(t, err)
	assert.Equal(t, state.ActionProcessOutput, second.Action)
	assert.Equal(t, 2, second.State.TurnCount)
	assert.Len(t, second.State.Transcript, 4)
	assert.Equal(t, 1, h.agents[state.CapabilityAnalyze].calls())
}

func TestHandleTurn_RejectsConcurrentTurnForSameSession(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	h.oracle.decide = func(input string) (*agents.Decision, error) {
		if input == "slow" {
			close(entered)
			<-release
		}
		return decision(state.ActionRespondDirectly, "done"), nil
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := h.orch.HandleTurn(context.Background(), "s", "slow")
		errCh <- err
	}()
	<-entered

	_, err := h.orch.HandleTurn(context.Background(), "s", "fast")
	assert.ErrorIs(t, err, ErrTurnInFlight)
	assert.ErrorIs(t, h.orch.Reset(context.Background(), "s"), ErrTurnInFlight)

	// other sessions are unaffected
	_, err = h.orch.HandleTurn(context.Background(), "other", "fast")
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-errCh)
}

func TestReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "s", true, state.Update{})

	require.NoError(t, h.orch.Reset(ctx, "s"))
	_, err := h.orch.Session(ctx, "s")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

type failingStore struct{ session.Store }

func (failingStore) Load(context.Context, string) (*state.ConversationState, error) {
	return nil, errors.New("redis down")
}

func TestHandleTurn_StoreFailureIsReturned(t *testing.T) {
	h := newHarness(t)
	orch := New(failingStore{}, nil, h.oracle, profiles.ProviderFunc(knownProfiles), nil)
	_, err := orch.HandleTurn(context.Background(), "s", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

func TestLooksLikeJobDescription(t *testing.T) {
	assert.False(t, LooksLikeJobDescription("evaluate my fit"))
	assert.True(t, LooksLikeJobDescription("skills, experience and education"))
	assert.False(t, LooksLikeJobDescription("skills and experience"))
	assert.True(t, LooksLikeJobDescription(strings.Repeat("a", 201)))
}

func TestTranscriptSummary(t *testing.T) {
	st := state.New("s")
	for i := 0; i < transcriptWindow+5; i++ {
		state.AppendMessage(st, state.Message{Role: state.RoleUser, Content: strings.Repeat("x", i+1)})
	}
	lines := strings.Split(transcriptSummary(st), "\n")
	assert.Len(t, lines, transcriptWindow)
	assert.True(t, strings.HasPrefix(lines[0], "User: "))
}
