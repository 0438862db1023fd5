package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/tripcrew/tripcrew/runtime/planner/archive"
	"github.com/tripcrew/tripcrew/runtime/planner/extract"
	"github.com/tripcrew/tripcrew/runtime/planner/hooks"
	"github.com/tripcrew/tripcrew/runtime/planner/interrupt"
	"github.com/tripcrew/tripcrew/runtime/planner/pipeline"
	"github.com/tripcrew/tripcrew/runtime/planner/session"
	"github.com/tripcrew/tripcrew/runtime/planner/telemetry"
	"github.com/tripcrew/tripcrew/runtime/planner/trip"
)

// PanicError reports a panic recovered inside a turn.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("turn panicked: %v", e.Value) }

// runTurn executes one turn and records its outcome. It runs detached from
// the request context.
func (o *Orchestrator) runTurn(sessionID string, t *turn) {
	defer o.wg.Done()
	defer o.release(sessionID, t)

	ctx, span := o.tel.Tracer.Start(o.baseCtx, "orchestrator.turn")
	defer span.End()
	span.AddEvent("turn.start", "session_id", sessionID, "turn", t.number)

	report, err := o.execute(ctx, sessionID, t)
	o.finish(ctx, sessionID, t, report, err)
	if err != nil {
		span.RecordError(err)
	}
}

func (o *Orchestrator) execute(ctx context.Context, sessionID string, t *turn) (report string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	sess, err := o.store.LoadSession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}

	var params trip.Params
	if sess.Params == nil {
		task := trip.SetupTask(sess.TurnPrompt, o.now(), o.year, t.input)
		out, err := o.agent.Run(ctx, task, nil)
		if err != nil {
			return "", fmt.Errorf("setup: %w", err)
		}
		if params, err = trip.ParseSetup(out, o.year); err != nil {
			return "", fmt.Errorf("setup: %w", err)
		}
	} else {
		params = sess.Params.WithInterests(sess.TurnPrompt)
	}

	sess, err = o.store.UpdateSession(ctx, sessionID, func(s *session.Session) error {
		return s.CompleteSetup(params, o.now())
	})
	if err != nil {
		return "", fmt.Errorf("store trip parameters: %w", err)
	}
	o.tel.Logger.Info(ctx, "setup complete", "session_id", sessionID, "turn", t.number,
		"location", params.Location, "budget", params.Budget, "dates", params.TravelDates, "currency", params.SettlementCurrency())
	o.publish(ctx, hooks.Event{Type: hooks.SetupCompleted, SessionID: sessionID, Turn: t.number, Status: string(sess.Status)})

	if _, err := o.store.UpdateSession(ctx, sessionID, func(s *session.Session) error {
		return s.StartResearch(o.now())
	}); err != nil {
		return "", fmt.Errorf("start research: %w", err)
	}

	brief := trip.NewBrief(ctx, params, o.caps.Rates)
	def := trip.ResearchPipeline(brief, o.caps)
	res, err := def.Run(ctx, o.agent,
		pipeline.WithTelemetry(o.tel),
		pipeline.WithObserver(func(ctx context.Context, rec pipeline.Record) {
			s, err := o.store.UpdateSession(ctx, sessionID, func(s *session.Session) error {
				s.Touch(o.now())
				return nil
			})
			if err != nil {
				o.tel.Logger.Warn(ctx, "touch session failed", "session_id", sessionID, "err", err)
				return
			}
			o.tel.Logger.Debug(ctx, "stage completed", "session_id", sessionID, "stage", rec.Stage, "duration", rec.Duration)
			o.publish(ctx, hooks.Event{Type: hooks.StageCompleted, SessionID: sessionID, Turn: t.number, Status: string(s.Status), Stage: rec.Stage})
		}))
	if err != nil {
		return "", err
	}

	report = extract.StripFences(res.Final())
	if report == "" {
		return "", ErrEmptyReport
	}
	return report, nil
}

// finish stores the outcome of the turn, archives it and emits the terminal
// event.
func (o *Orchestrator) finish(ctx context.Context, sessionID string, t *turn, report string, runErr error) {
	// The turn context may be canceled by Close; the outcome must still land.
	ctx = context.WithoutCancel(ctx)
	elapsed := o.now().Sub(t.started)
	o.tel.Metrics.RecordTimer(telemetry.MetricTurnDuration, elapsed)

	var (
		sess session.Session
		err  error
		ev   hooks.Event
	)
	if runErr == nil {
		sess, err = o.store.UpdateSession(ctx, sessionID, func(s *session.Session) error {
			return s.Complete(report, o.now())
		})
		if err == nil {
			o.tel.Metrics.IncCounter(telemetry.MetricTurnCompleted, 1)
			o.tel.Logger.Info(ctx, "turn completed", "session_id", sessionID, "turn", t.number, "duration", elapsed)
			ev = hooks.Event{Type: hooks.TurnCompleted, SessionID: sessionID, Turn: t.number, Status: string(sess.Status), Message: report}
		} else {
			runErr = fmt.Errorf("store report: %w", err)
		}
	}
	if runErr != nil {
		msg := failureMessage(runErr)
		sess, err = o.store.UpdateSession(ctx, sessionID, func(s *session.Session) error {
			return s.Fail(msg, o.now())
		})
		if err != nil {
			o.tel.Logger.Error(ctx, "record turn failure", "session_id", sessionID, "turn", t.number, "cause", runErr.Error(), "err", err)
			return
		}
		if interrupt.IsTimeout(runErr) {
			o.tel.Metrics.IncCounter(telemetry.MetricSuspensionTimeout, 1)
		}
		o.tel.Metrics.IncCounter(telemetry.MetricTurnFailed, 1)
		kv := []any{"session_id", sessionID, "turn", t.number, "duration", elapsed, "err", runErr}
		var pe *PanicError
		if errors.As(runErr, &pe) {
			kv = append(kv, "stack", string(pe.Stack))
		}
		var se *pipeline.StageError
		if errors.As(runErr, &se) {
			kv = append(kv, "stage", se.Stage)
		}
		o.tel.Logger.Error(ctx, "turn failed", kv...)
		ev = hooks.Event{Type: hooks.TurnFailed, SessionID: sessionID, Turn: t.number, Status: string(sess.Status), Message: msg}
	}

	if o.archive != nil {
		if err := o.archive.Record(ctx, archive.NewTurn(sess, t.started)); err != nil {
			o.tel.Logger.Warn(ctx, "archive turn failed", "session_id", sessionID, "turn", t.number, "err", err)
		}
	}
	o.publish(ctx, ev)
}

// failureMessage is the error text shown to the user. Suspension timeouts
// are reported as is so the message names the wait that expired.
func failureMessage(err error) string {
	var te *interrupt.TimeoutError
	if errors.As(err, &te) {
		return te.Error()
	}
	return err.Error()
}

func (o *Orchestrator) reapLoop(interval time.Duration) {
	defer close(o.reapDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopReap:
			return
		case <-ticker.C:
			if _, err := o.Reap(o.baseCtx); err != nil {
				o.tel.Logger.Warn(o.baseCtx, "reap sessions failed", "err", err)
			}
		}
	}
}

// Reap deletes sessions idle for longer than the session TTL. Sessions with
// a running turn are kept regardless of age. It returns the number of
// sessions removed.
func (o *Orchestrator) Reap(ctx context.Context) (int, error) {
	if o.ttl <= 0 {
		return 0, nil
	}
	all, err := o.store.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	cutoff := o.now().Add(-o.ttl)
	var evicted []session.Session
	o.mu.Lock()
	for _, candidate := range all {
		if !candidate.UpdatedAt.Before(cutoff) {
			continue
		}
		if _, busy := o.running[candidate.ID]; busy {
			continue
		}
		// The listing is a snapshot; a turn may have finished since.
		s, err := o.store.LoadSession(ctx, candidate.ID)
		if errors.Is(err, session.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			o.mu.Unlock()
			return len(evicted), fmt.Errorf("load session %s: %w", candidate.ID, err)
		}
		if !s.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := o.store.DeleteSession(ctx, s.ID); err != nil {
			o.mu.Unlock()
			return len(evicted), fmt.Errorf("delete session %s: %w", s.ID, err)
		}
		evicted = append(evicted, s)
	}
	o.mu.Unlock()

	for _, s := range evicted {
		o.tel.Logger.Info(ctx, "session evicted", "session_id", s.ID, "idle", o.now().Sub(s.UpdatedAt))
		o.publish(ctx, hooks.Event{Type: hooks.SessionEvicted, SessionID: s.ID, Turn: s.Turn, Status: string(s.Status)})
	}
	if len(evicted) > 0 {
		o.tel.Metrics.IncCounter(telemetry.MetricSessionsEvicted, float64(len(evicted)))
	}
	return len(evicted), nil
}
