package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tripcrew/tripcrew/runtime/planner/agent"
	archiveinmem "github.com/tripcrew/tripcrew/runtime/planner/archive/inmem"
	"github.com/tripcrew/tripcrew/runtime/planner/hooks"
	"github.com/tripcrew/tripcrew/runtime/planner/session"
	"github.com/tripcrew/tripcrew/runtime/planner/session/inmem"
	"github.com/tripcrew/tripcrew/runtime/planner/tools"
	"github.com/tripcrew/tripcrew/runtime/planner/trip"
)

const mirissaSetup = `{"location": "Mirissa, Sri Lanka", "interests": "villa with pool", "budget": "32000 LKR", "num_people": "4", "travel_dates": "flexible", "preferred_currency": "LKR"}`

type fixedRates map[string]float64

func (r fixedRates) Rate(_ context.Context, from, to string) (float64, error) {
	if v, ok := r[from+"/"+to]; ok {
		return v, nil
	}
	return 0, tools.ErrRateUnavailable
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scripted plays every stage. setup runs the setup stage; the research
// stages return canned text unless overridden.
type scripted struct {
	mu     sync.Mutex
	calls  []string
	setup  func(ctx context.Context, task agent.Task) (string, error)
	stages map[string]func(ctx context.Context, task agent.Task, in []agent.Output) (string, error)
}

func (s *scripted) Run(ctx context.Context, task agent.Task, in []agent.Output) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, task.Name)
	s.mu.Unlock()
	if task.Name == trip.StageSetup {
		if s.setup != nil {
			return s.setup(ctx, task)
		}
		return mirissaSetup, nil
	}
	if fn, ok := s.stages[task.Name]; ok {
		return fn(ctx, task, in)
	}
	switch task.Name {
	case trip.StageResearch:
		return `{"items": [{"type": "accommodation", "name": "Pool Villa", "cost_usd": 90, "link": "https://example.com"}], "total_estimated_cost_usd": 90}`, nil
	case trip.StageBudgetCheck:
		return "GO: 90 USD is within 96 USD", nil
	case trip.StageReport:
		return "```markdown\n# Mirissa plan\nTotal: 27,000.00 LKR\n```", nil
	}
	return "local data: 1 USD = 300 LKR", nil
}

func (s *scripted) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type recorder struct {
	mu     sync.Mutex
	events []hooks.Event
}

func (r *recorder) HandleEvent(_ context.Context, ev hooks.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Types() []hooks.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]hooks.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	o       *Orchestrator
	store   *inmem.Store
	archive *archiveinmem.Store
	events  *recorder
	agent   *scripted
	clock   *clock
}

func newHarness(t *testing.T, a *scripted, mod func(*Options)) *harness {
	t.Helper()
	h := &harness{
		store:   inmem.New(),
		archive: archiveinmem.New(),
		events:  &recorder{},
		agent:   a,
		clock:   &clock{now: time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)},
	}
	bus := hooks.NewBus()
	_, err := bus.Register(h.events)
	require.NoError(t, err)
	opts := Options{
		Store:        h.store,
		Agent:        a,
		Capabilities: trip.Capabilities{Rates: fixedRates{"LKR/USD": 0.003, "USD/LKR": 300}},
		Bus:          bus,
		Archive:      h.archive,
		Clock:        h.clock.Now,
	}
	if mod != nil {
		mod(&opts)
	}
	h.o, err = New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, h.o.Close(ctx))
	})
	return h
}

func (h *harness) wait(t *testing.T, id string, want session.Status) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		s, err := h.o.GetStatus(context.Background(), id)
		if err != nil {
			return false
		}
		snap = s
		return s.Status == want && (!h.o.Running(id)) == want.Terminal()
	}, 5*time.Second, 2*time.Millisecond, "session %s never reached %s", id, want)
	return snap
}

func askingSetup(question string) func(ctx context.Context, task agent.Task) (string, error) {
	return func(ctx context.Context, task agent.Task) (string, error) {
		tool, ok := task.Tool(trip.ToolAskHuman)
		if !ok {
			return "", errors.New("no human tool")
		}
		answer, err := tool.Run(ctx, question)
		if err != nil {
			return "", err
		}
		return `{"location": "Mirissa, Sri Lanka", "interests": "beach", "budget": "` + answer + `", "num_people": 2, "travel_dates": "flexible"}`, nil
	}
}

func TestTurnWithoutClarification(t *testing.T) {
	h := newHarness(t, &scripted{}, nil)
	ctx := context.Background()

	res, err := h.o.StartTurn(ctx, "", "Mirissa, 4 people, budget 32000 LKR, no preferred dates, villa with pool")
	require.NoError(t, err)
	require.Equal(t, session.StatusInProgress, res.Status)
	require.True(t, res.Created)
	require.NotEmpty(t, res.SessionID)
	require.Equal(t, 1, res.Turn)

	snap := h.wait(t, res.SessionID, session.StatusCompleted)
	require.Equal(t, "# Mirissa plan\nTotal: 27,000.00 LKR", snap.Report)
	require.Empty(t, snap.Question)
	require.Empty(t, snap.Error)
	require.Equal(t, "LKR", snap.Params.SettlementCurrency())
	require.NotContains(t, snap.Report, "USD")

	require.Equal(t, []string{trip.StageSetup, trip.StageLocalData, trip.StageResearch, trip.StageBudgetCheck, trip.StageReport}, h.agent.Calls())
	require.Equal(t, []hooks.EventType{
		hooks.TurnStarted, hooks.SetupCompleted,
		hooks.StageCompleted, hooks.StageCompleted, hooks.StageCompleted, hooks.StageCompleted,
		hooks.TurnCompleted,
	}, h.events.Types())

	page, err := h.o.Turns(ctx, res.SessionID, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Turns, 1)
	require.Equal(t, session.StatusCompleted, page.Turns[0].Status)
	require.Equal(t, "Mirissa, Sri Lanka", page.Turns[0].Params.Location)
}

func TestSuspendAndAnswer(t *testing.T) {
	h := newHarness(t, &scripted{setup: askingSetup("What is your budget?")}, nil)
	ctx := context.Background()

	res, err := h.o.StartTurn(ctx, "s1", "Mirissa for two, beach time")
	require.NoError(t, err)

	snap := h.wait(t, "s1", session.StatusAwaitingInput)
	require.Equal(t, "What is your budget?", snap.Question)
	require.Empty(t, snap.Report)

	require.NoError(t, h.o.SubmitAnswer(ctx, res.SessionID, "50000 LKR"))
	snap = h.wait(t, "s1", session.StatusCompleted)
	require.Equal(t, "50000 LKR", snap.Params.Budget)

	sess, err := h.store.LoadSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sess.History, 1)
	require.Equal(t, "What is your budget?", sess.History[0].Question)
	require.Equal(t, "50000 LKR", sess.History[0].Answer)

	types := h.events.Types()
	require.Contains(t, types, hooks.InputRequested)
	require.Contains(t, types, hooks.InputProvided)
}

func TestSubmitAnswerRejected(t *testing.T) {
	h := newHarness(t, &scripted{}, nil)
	ctx := context.Background()

	require.ErrorIs(t, h.o.SubmitAnswer(ctx, "nope", "hi"), ErrNotFound)

	_, err := h.o.StartTurn(ctx, "s1", "Mirissa trip")
	require.NoError(t, err)
	before := h.wait(t, "s1", session.StatusCompleted)

	require.ErrorIs(t, h.o.SubmitAnswer(ctx, "s1", "late answer"), ErrAnswerRejected)
	after, err := h.o.GetStatus(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, before, after)
	sess, err := h.store.LoadSession(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, sess.History)
}

func TestSuspensionTimeout(t *testing.T) {
	h := newHarness(t, &scripted{setup: askingSetup("When do you travel?")}, func(o *Options) {
		o.AnswerTimeout = 20 * time.Millisecond
	})
	ctx := context.Background()

	_, err := h.o.StartTurn(ctx, "s1", "Mirissa")
	require.NoError(t, err)
	snap := h.wait(t, "s1", session.StatusError)
	require.Equal(t, "timed out waiting for input after 20ms", snap.Error)
	require.Empty(t, snap.Question)

	require.ErrorIs(t, h.o.SubmitAnswer(ctx, "s1", "tomorrow"), ErrAnswerRejected)
	require.Contains(t, h.events.Types(), hooks.TurnFailed)
}

func TestOverlappingTurnRejected(t *testing.T) {
	release := make(chan struct{})
	a := &scripted{setup: func(ctx context.Context, _ agent.Task) (string, error) {
		select {
		case <-release:
			return mirissaSetup, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
	h := newHarness(t, a, nil)
	ctx := context.Background()

	_, err := h.o.StartTurn(ctx, "s1", "Mirissa")
	require.NoError(t, err)
	_, err = h.o.StartTurn(ctx, "s1", "Mirissa again")
	require.ErrorIs(t, err, ErrTurnInProgress)

	close(release)
	h.wait(t, "s1", session.StatusCompleted)
	require.Equal(t, 1, strings.Count(strings.Join(a.Calls(), ","), trip.StageSetup))
}

func TestFollowUpTurnKeepsArtifact(t *testing.T) {
	h := newHarness(t, &scripted{}, nil)
	ctx := context.Background()

	_, err := h.o.StartTurn(ctx, "s1", "Mirissa, 4 people, 32000 LKR")
	require.NoError(t, err)
	h.wait(t, "s1", session.StatusCompleted)

	res, err := h.o.StartTurn(ctx, "s1", "now add whale watching")
	require.NoError(t, err)
	require.False(t, res.Created)
	require.Equal(t, 2, res.Turn)
	snap := h.wait(t, "s1", session.StatusCompleted)
	require.Equal(t, "now add whale watching", snap.Params.Interests)
	require.Equal(t, "32000 LKR", snap.Params.Budget)
	require.Equal(t, 2, snap.Turn)

	require.Equal(t, 1, strings.Count(strings.Join(h.agent.Calls(), ","), trip.StageSetup))
	page, err := h.o.Turns(ctx, "s1", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Turns, 2)
}

func TestStageFailureAndPanic(t *testing.T) {
	a := &scripted{stages: map[string]func(context.Context, agent.Task, []agent.Output) (string, error){
		trip.StageResearch: func(context.Context, agent.Task, []agent.Output) (string, error) {
			return "", errors.New("model unavailable")
		},
	}}
	h := newHarness(t, a, nil)
	ctx := context.Background()

	_, err := h.o.StartTurn(ctx, "fail", "Mirissa")
	require.NoError(t, err)
	snap := h.wait(t, "fail", session.StatusError)
	require.Contains(t, snap.Error, "stage research")
	require.Contains(t, snap.Error, "model unavailable")
	require.NotContains(t, a.Calls(), trip.StageBudgetCheck)

	delete(a.stages, trip.StageResearch)
	a.setup = func(context.Context, agent.Task) (string, error) { panic("boom") }
	_, err = h.o.StartTurn(ctx, "panic", "Galle")
	require.NoError(t, err)
	snap = h.wait(t, "panic", session.StatusError)
	require.Equal(t, "turn panicked: boom", snap.Error)
}

func TestMalformedResearchStillReports(t *testing.T) {
	var reportInputs []agent.Output
	a := &scripted{stages: map[string]func(context.Context, agent.Task, []agent.Output) (string, error){
		trip.StageResearch: func(context.Context, agent.Task, []agent.Output) (string, error) {
			return "I found a nice villa for about 90 dollars", nil
		},
		trip.StageReport: func(_ context.Context, _ agent.Task, in []agent.Output) (string, error) {
			reportInputs = in
			return "# Plan", nil
		},
	}}
	h := newHarness(t, a, nil)
	_, err := h.o.StartTurn(context.Background(), "s1", "Mirissa")
	require.NoError(t, err)
	snap := h.wait(t, "s1", session.StatusCompleted)
	require.Equal(t, "# Plan", snap.Report)
	require.Len(t, reportInputs, 3)
	require.Equal(t, trip.StageResearch, reportInputs[2].Stage)
	require.Contains(t, reportInputs[2].Text, "90 dollars")
}

func TestGetStatusNotFound(t *testing.T) {
	h := newHarness(t, &scripted{}, nil)
	_, err := h.o.GetStatus(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = h.o.StartTurn(context.Background(), "x", "   ")
	require.ErrorIs(t, err, ErrEmptyPrompt)
}

// Keyword recovery is a heuristic: these cases pin its observable rules, not
// its accuracy.
func TestKeywordRecovery(t *testing.T) {
	h := newHarness(t, &scripted{}, func(o *Options) { o.RecoverByKeyword = true })
	ctx := context.Background()

	_, err := h.o.StartTurn(ctx, "mirissa", "Trip to Mirissa with friends")
	require.NoError(t, err)
	h.wait(t, "mirissa", session.StatusCompleted)
	_, err = h.o.StartTurn(ctx, "kandy", "Cultural tour of Kandy temples")
	require.NoError(t, err)
	h.wait(t, "kandy", session.StatusCompleted)

	res, err := h.o.StartTurn(ctx, "", "more about mirissa please")
	require.NoError(t, err)
	require.True(t, res.Recovered)
	require.Equal(t, "mirissa", res.SessionID)
	h.wait(t, "mirissa", session.StatusCompleted)

	res, err = h.o.StartTurn(ctx, "", "go to a spa")
	require.NoError(t, err)
	require.False(t, res.Recovered)
	require.True(t, res.Created)
	h.wait(t, res.SessionID, session.StatusCompleted)
}

func TestRecoverySkipsRunningSessions(t *testing.T) {
	release := make(chan struct{})
	a := &scripted{setup: func(ctx context.Context, task agent.Task) (string, error) {
		if strings.Contains(task.Description, "pool for four") {
			select {
			case <-release:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return mirissaSetup, nil
	}}
	h := newHarness(t, a, func(o *Options) { o.RecoverByKeyword = true })
	ctx := context.Background()

	_, err := h.o.StartTurn(ctx, "alice", "Mirissa villa with pool for four")
	require.NoError(t, err)
	require.True(t, h.o.Running("alice"))

	res, err := h.o.StartTurn(ctx, "", "Mirissa surfing lessons, budget 200 USD")
	require.NoError(t, err)
	require.True(t, res.Created)
	require.False(t, res.Recovered)
	require.NotEqual(t, "alice", res.SessionID)
	h.wait(t, res.SessionID, session.StatusCompleted)

	close(release)
	snap := h.wait(t, "alice", session.StatusCompleted)
	require.Equal(t, 1, snap.Turn)
}

func TestNoRecoveryWhenDisabled(t *testing.T) {
	h := newHarness(t, &scripted{}, nil)
	ctx := context.Background()
	_, err := h.o.StartTurn(ctx, "mirissa", "Trip to Mirissa")
	require.NoError(t, err)
	h.wait(t, "mirissa", session.StatusCompleted)

	res, err := h.o.StartTurn(ctx, "", "Trip to Mirissa")
	require.NoError(t, err)
	require.NotEqual(t, "mirissa", res.SessionID)
	h.wait(t, res.SessionID, session.StatusCompleted)
}

func TestReapEvictsIdleSessions(t *testing.T) {
	release := make(chan struct{})
	a := &scripted{setup: func(ctx context.Context, task agent.Task) (string, error) {
		if strings.Contains(task.Description, "Galle") {
			<-release
		}
		return mirissaSetup, nil
	}}
	h := newHarness(t, a, func(o *Options) {
		o.SessionTTL = time.Hour
		o.ReapInterval = time.Hour
	})
	ctx := context.Background()

	_, err := h.o.StartTurn(ctx, "idle", "Mirissa")
	require.NoError(t, err)
	h.wait(t, "idle", session.StatusCompleted)
	_, err = h.o.StartTurn(ctx, "busy", "Galle")
	require.NoError(t, err)

	h.clock.Advance(30 * time.Minute)
	n, err := h.o.Reap(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	h.clock.Advance(2 * time.Hour)
	n, err = h.o.Reap(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = h.o.GetStatus(ctx, "idle")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = h.o.GetStatus(ctx, "busy")
	require.NoError(t, err)
	require.Contains(t, h.events.Types(), hooks.SessionEvicted)

	close(release)
	h.wait(t, "busy", session.StatusCompleted)
}

// touchAfterList refreshes a session right after the listing, as a turn
// finishing between the listing and the eviction would.
type touchAfterList struct {
	*inmem.Store
	id  string
	now func() time.Time
}

func (s *touchAfterList) ListSessions(ctx context.Context) ([]session.Session, error) {
	all, err := s.Store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	_, err = s.Store.UpdateSession(ctx, s.id, func(sess *session.Session) error {
		sess.Touch(s.now())
		return nil
	})
	return all, err
}

func TestReapKeepsSessionRefreshedAfterListing(t *testing.T) {
	h := newHarness(t, &scripted{}, func(o *Options) {
		o.SessionTTL = time.Hour
		o.ReapInterval = time.Hour
		o.Store = &touchAfterList{Store: o.Store.(*inmem.Store), id: "s1", now: o.Clock}
	})
	ctx := context.Background()

	_, err := h.o.StartTurn(ctx, "s1", "Mirissa")
	require.NoError(t, err)
	h.wait(t, "s1", session.StatusCompleted)

	h.clock.Advance(2 * time.Hour)
	n, err := h.o.Reap(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	_, err = h.o.GetStatus(ctx, "s1")
	require.NoError(t, err)
	require.NotContains(t, h.events.Types(), hooks.SessionEvicted)
}

func TestCloseCancelsRunningTurns(t *testing.T) {
	a := &scripted{setup: func(ctx context.Context, _ agent.Task) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	h := newHarness(t, a, nil)
	ctx := context.Background()

	_, err := h.o.StartTurn(ctx, "s1", "Mirissa")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(a.Calls()) == 1 }, time.Second, time.Millisecond)

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.o.Close(cctx))

	snap, err := h.o.GetStatus(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, session.StatusError, snap.Status)
	require.Contains(t, snap.Error, context.Canceled.Error())

	_, err = h.o.StartTurn(ctx, "s2", "Galle")
	require.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentSessionsIsolated(t *testing.T) {
	h := newHarness(t, &scripted{setup: askingSetup("Budget?")}, nil)
	ctx := context.Background()
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		_, err := h.o.StartTurn(ctx, id, "Mirissa "+id)
		require.NoError(t, err)
	}
	for _, id := range ids {
		h.wait(t, id, session.StatusAwaitingInput)
	}
	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.o.SubmitAnswer(ctx, id, strings.Repeat("1", i+3)+" USD")
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	for i, id := range ids {
		snap := h.wait(t, id, session.StatusCompleted)
		require.Equal(t, strings.Repeat("1", i+3)+" USD", snap.Params.Budget)
	}
}
