// Package orchestrator runs planning turns for sessions.
//
// A turn is started by StartTurn and executes in its own goroutine, detached
// from the request that started it: the setup stage when the session has no
// trip artifact yet, then the research pipeline. Stages that need the user
// suspend on the session's input channel until SubmitAnswer delivers an
// answer or the wait times out. GetStatus is a pure read of the session.
//
// At most one turn runs per session. Every turn ends in completed or error,
// including turns whose stages panic.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/tripcrew/tripcrew/runtime/planner/agent"
	"github.com/tripcrew/tripcrew/runtime/planner/archive"
	"github.com/tripcrew/tripcrew/runtime/planner/hooks"
	"github.com/tripcrew/tripcrew/runtime/planner/interrupt"
	"github.com/tripcrew/tripcrew/runtime/planner/session"
	"github.com/tripcrew/tripcrew/runtime/planner/telemetry"
	"github.com/tripcrew/tripcrew/runtime/planner/trip"
)

const (
	// DefaultSessionTTL is how long an idle session is kept.
	DefaultSessionTTL = 24 * time.Hour
	// DefaultReapInterval is how often idle sessions are looked for.
	DefaultReapInterval = 10 * time.Minute
	// DefaultYear resolves dates given without a year.
	DefaultYear = 2025
)

type (
	// Options configures an Orchestrator. Store and Agent are required.
	Options struct {
		// Store holds the sessions.
		Store session.Store
		// Agent executes the setup and research stages.
		Agent agent.Agent
		// Capabilities are the fetchers handed to the research stages.
		Capabilities trip.Capabilities
		// Telemetry defaults to Noop.
		Telemetry telemetry.Set
		// Bus receives lifecycle events when set.
		Bus hooks.Bus
		// Archive records finished turns when set.
		Archive archive.Store
		// AnswerTimeout bounds each wait for user input. Defaults to
		// interrupt.DefaultTimeout.
		AnswerTimeout time.Duration
		// SessionTTL evicts sessions idle for longer. Zero disables eviction.
		SessionTTL time.Duration
		// ReapInterval is the eviction period. Defaults to
		// DefaultReapInterval when SessionTTL is set.
		ReapInterval time.Duration
		// RecoverByKeyword lets StartTurn without a session ID resume the
		// session whose initial prompt shares the most keywords.
		RecoverByKeyword bool
		// DefaultYear resolves dates given without a year.
		DefaultYear int
		// Clock defaults to time.Now.
		Clock func() time.Time
	}

	// Orchestrator schedules turns and serves session reads and answers.
	Orchestrator struct {
		store    session.Store
		agent    agent.Agent
		caps     trip.Capabilities
		tel      telemetry.Set
		bus      hooks.Bus
		archive  archive.Store
		timeout  time.Duration
		ttl      time.Duration
		keywords bool
		year     int
		now      func() time.Time
		baseCtx  context.Context
		cancel   context.CancelFunc
		wg       sync.WaitGroup
		stopReap chan struct{}
		reapDone chan struct{}

		mu      sync.Mutex
		running map[string]*turn
		closed  bool
	}

	// StartResult is returned by StartTurn.
	StartResult struct {
		// SessionID identifies the session the turn runs on.
		SessionID string
		// Status is in_progress.
		Status session.Status
		// Created reports whether a new session was created.
		Created bool
		// Recovered reports whether the session was matched by keyword.
		Recovered bool
		// Turn is the turn number.
		Turn int
	}

	// Snapshot is the externally visible state of a session. Question,
	// Report and Error are set only in awaiting_input, completed and error
	// respectively.
	Snapshot struct {
		SessionID string
		Status    session.Status
		Turn      int
		Question  string
		Report    string
		Error     string
		Params    *trip.Params
		UpdatedAt time.Time
	}

	turn struct {
		number  int
		started time.Time
		input   *interrupt.Channel
	}
)

var (
	// ErrNotFound indicates the session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrAnswerRejected indicates no question is pending for the session.
	ErrAnswerRejected = errors.New("no input is pending for this session")
	// ErrTurnInProgress indicates the session already runs a turn.
	ErrTurnInProgress = errors.New("a turn is already running for this session")
	// ErrEmptyPrompt indicates StartTurn was called without a prompt.
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrClosed indicates the orchestrator no longer accepts turns.
	ErrClosed = errors.New("orchestrator is closed")
	// ErrNoArchive indicates no archive is configured.
	ErrNoArchive = errors.New("no turn archive configured")
	// ErrEmptyReport indicates the report stage produced no text.
	ErrEmptyReport = errors.New("report stage produced no output")
)

// New builds an orchestrator and starts its reaper when SessionTTL is set.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("session store is required")
	}
	if opts.Agent == nil {
		return nil, errors.New("agent is required")
	}
	o := &Orchestrator{
		store:    opts.Store,
		agent:    opts.Agent,
		caps:     opts.Capabilities,
		tel:      opts.Telemetry.WithDefaults(),
		bus:      opts.Bus,
		archive:  opts.Archive,
		timeout:  opts.AnswerTimeout,
		ttl:      opts.SessionTTL,
		keywords: opts.RecoverByKeyword,
		year:     opts.DefaultYear,
		now:      opts.Clock,
		running:  make(map[string]*turn),
	}
	if o.timeout <= 0 {
		o.timeout = interrupt.DefaultTimeout
	}
	if o.year == 0 {
		o.year = DefaultYear
	}
	if o.now == nil {
		o.now = time.Now
	}
	o.baseCtx, o.cancel = context.WithCancel(context.Background())
	if o.ttl > 0 {
		interval := opts.ReapInterval
		if interval <= 0 {
			interval = DefaultReapInterval
		}
		o.stopReap = make(chan struct{})
		o.reapDone = make(chan struct{})
		go o.reapLoop(interval)
	}
	return o, nil
}

// StartTurn starts a turn for prompt on sessionID and returns without
// waiting for it. An empty sessionID resumes a session recovered by keyword
// when enabled, else creates a new one.
func (o *Orchestrator) StartTurn(ctx context.Context, sessionID, prompt string) (StartResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return StartResult{}, ErrEmptyPrompt
	}
	var recovered bool
	if sessionID == "" {
		if o.keywords {
			id, err := o.recoverSession(ctx, prompt)
			if err != nil {
				return StartResult{}, err
			}
			sessionID, recovered = id, id != ""
		}
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
	}

	t := &turn{started: o.now()}
	t.input = interrupt.NewChannel(sessionID,
		interrupt.WithTimeout(o.timeout),
		interrupt.WithClock(o.now),
		interrupt.WithNotify(o.notifyQuestion(t)))
	if err := o.reserve(sessionID, t); err != nil {
		return StartResult{}, err
	}

	_, created, err := o.store.CreateSession(ctx, sessionID, prompt, t.started)
	if err != nil {
		o.release(sessionID, t)
		return StartResult{}, fmt.Errorf("create session: %w", err)
	}
	sess, err := o.store.UpdateSession(ctx, sessionID, func(s *session.Session) error {
		return s.BeginTurn(prompt, o.now())
	})
	if err != nil {
		o.release(sessionID, t)
		return StartResult{}, fmt.Errorf("begin turn: %w", err)
	}
	t.number = sess.Turn

	o.tel.Metrics.IncCounter(telemetry.MetricTurnStarted, 1, "created", fmt.Sprint(created))
	o.tel.Logger.Info(ctx, "turn started", "session_id", sessionID, "turn", sess.Turn, "created", created, "recovered", recovered)
	o.publish(ctx, hooks.Event{Type: hooks.TurnStarted, SessionID: sessionID, Turn: sess.Turn, Status: string(sess.Status), Message: prompt})

	o.wg.Add(1)
	go o.runTurn(sessionID, t)

	return StartResult{SessionID: sessionID, Status: sess.Status, Created: created, Recovered: recovered, Turn: sess.Turn}, nil
}

// SubmitAnswer delivers answer to the question the session is waiting on.
// It fails with ErrAnswerRejected, leaving the session untouched, when no
// question is pending.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, sessionID, answer string) error {
	o.mu.Lock()
	t := o.running[sessionID]
	o.mu.Unlock()

	var question string
	sess, err := o.store.UpdateSession(ctx, sessionID, func(s *session.Session) error {
		if s.Status != session.StatusAwaitingInput || t == nil {
			return ErrAnswerRejected
		}
		if _, err := t.input.Provide(answer); err != nil {
			return fmt.Errorf("%w: %w", ErrAnswerRejected, err)
		}
		question = s.Question
		return s.Answer(answer, o.now())
	})
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrNotFound
		}
		return err
	}
	o.tel.Logger.Info(ctx, "input provided", "session_id", sessionID, "question", question)
	o.publish(ctx, hooks.Event{Type: hooks.InputProvided, SessionID: sessionID, Turn: sess.Turn, Status: string(sess.Status), Message: answer})
	return nil
}

// GetStatus returns the session snapshot. It never changes the session.
func (o *Orchestrator) GetStatus(ctx context.Context, sessionID string) (Snapshot, error) {
	s, err := o.store.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, err
	}
	snap := Snapshot{SessionID: s.ID, Status: s.Status, Turn: s.Turn, Params: s.Params, UpdatedAt: s.UpdatedAt}
	switch s.Status {
	case session.StatusAwaitingInput:
		snap.Question = s.Question
	case session.StatusCompleted:
		snap.Report = s.Report
	case session.StatusError:
		snap.Error = s.Error
	}
	return snap, nil
}

// Turns lists the archived turns of a session.
func (o *Orchestrator) Turns(ctx context.Context, sessionID, cursor string, limit int) (archive.Page, error) {
	if o.archive == nil {
		return archive.Page{}, ErrNoArchive
	}
	return o.archive.List(ctx, sessionID, cursor, limit)
}

// Running reports whether a turn is executing for the session.
func (o *Orchestrator) Running(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[sessionID]
	return ok
}

// Close stops accepting turns, stops the reaper, cancels running turns and
// waits for them to record their outcome or for ctx to be done.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	if o.stopReap != nil {
		close(o.stopReap)
		<-o.reapDone
	}
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) reserve(sessionID string, t *turn) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if _, busy := o.running[sessionID]; busy {
		return ErrTurnInProgress
	}
	o.running[sessionID] = t
	o.tel.Metrics.RecordGauge(telemetry.MetricActiveTurns, float64(len(o.running)))
	return nil
}

func (o *Orchestrator) release(sessionID string, t *turn) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[sessionID] == t {
		delete(o.running, sessionID)
	}
	o.tel.Metrics.RecordGauge(telemetry.MetricActiveTurns, float64(len(o.running)))
}

// notifyQuestion moves the session to awaiting_input when a stage asks.
func (o *Orchestrator) notifyQuestion(t *turn) interrupt.NotifyFunc {
	return func(ctx context.Context, req interrupt.Request) error {
		sess, err := o.store.UpdateSession(ctx, req.SessionID, func(s *session.Session) error {
			return s.Await(req.Question, req.CreatedAt)
		})
		if err != nil {
			return err
		}
		o.tel.Logger.Info(ctx, "input requested", "session_id", req.SessionID, "turn", t.number, "question", req.Question)
		o.publish(ctx, hooks.Event{Type: hooks.InputRequested, SessionID: req.SessionID, Turn: sess.Turn, Status: string(sess.Status), Message: req.Question})
		return nil
	}
}

func (o *Orchestrator) publish(ctx context.Context, ev hooks.Event) {
	if o.bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = o.now()
	}
	if err := o.bus.Publish(ctx, ev); err != nil {
		o.tel.Logger.Warn(ctx, "publish event failed", "session_id", ev.SessionID, "event", string(ev.Type), "err", err)
	}
}

// recoverSession returns the session whose initial prompt shares the most
// keywords (words longer than three letters) with prompt, or "" when none
// shares any. Sessions with a running turn are never picked. Ties go to the
// most recently active session.
func (o *Orchestrator) recoverSession(ctx context.Context, prompt string) (string, error) {
	words := keywords(prompt)
	if len(words) == 0 {
		return "", nil
	}
	all, err := o.store.ListSessions(ctx)
	if err != nil {
		return "", fmt.Errorf("list sessions: %w", err)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	o.mu.Lock()
	idle := all[:0]
	for _, s := range all {
		if _, busy := o.running[s.ID]; !busy {
			idle = append(idle, s)
		}
	}
	o.mu.Unlock()
	var best string
	var bestScore int
	for _, s := range idle {
		score := 0
		for w := range keywords(s.Prompt) {
			if _, ok := words[w]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = s.ID, score
		}
	}
	return best, nil
}

func keywords(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) > 3 {
			out[w] = struct{}{}
		}
	}
	return out
}
