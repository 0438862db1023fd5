package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tripcrew/tripcrew/runtime/planner/orchestrator"
	"github.com/tripcrew/tripcrew/runtime/planner/session"
)

var planCmd = &cobra.Command{
	Use:   "plan [prompt]",
	Short: "Plan a trip interactively in the terminal",
	Long: `Plan a trip interactively. Questions from the planner are answered on
stdin. After a plan is printed, type a follow-up to refine it or "exit" to
quit.`,
	RunE: runPlan,
}

const pollInterval = 500 * time.Millisecond

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	ctx := logContext(cfg.Debug)
	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	return converse(ctx, a.orch, strings.Join(args, " "), cmd.InOrStdin(), cmd.OutOrStdout(), pollInterval)
}

// planner is the orchestrator surface used by the terminal conversation.
type planner interface {
	StartTurn(ctx context.Context, sessionID, prompt string) (orchestrator.StartResult, error)
	SubmitAnswer(ctx context.Context, sessionID, answer string) error
	GetStatus(ctx context.Context, sessionID string) (orchestrator.Snapshot, error)
}

// converse runs turns until the input ends or the user types exit.
func converse(ctx context.Context, p planner, prompt string, in io.Reader, out io.Writer, every time.Duration) error {
	lines := bufio.NewScanner(in)
	readLine := func(label string) (string, bool) {
		fmt.Fprint(out, label)
		if !lines.Scan() {
			return "", false
		}
		return strings.TrimSpace(lines.Text()), true
	}

	fmt.Fprintln(out, "Hi! Tell me about the trip you have in mind.")
	var sessionID string
	for {
		if prompt == "" {
			var ok bool
			if prompt, ok = readLine("> "); !ok {
				return nil
			}
		}
		if strings.EqualFold(prompt, "exit") || strings.EqualFold(prompt, "quit") {
			return nil
		}
		if prompt == "" {
			continue
		}
		res, err := p.StartTurn(ctx, sessionID, prompt)
		if err != nil {
			return err
		}
		sessionID = res.SessionID
		prompt = ""

		snap, err := waitTurn(ctx, p, sessionID, every, func(question string) (string, bool) {
			fmt.Fprintf(out, "\n%s\n", question)
			return readLine("> ")
		})
		if err != nil {
			return err
		}
		switch snap.Status {
		case session.StatusCompleted:
			fmt.Fprintf(out, "\n%s\n\n", snap.Report)
			fmt.Fprintln(out, `Anything to change? Type a follow-up or "exit".`)
		case session.StatusError:
			fmt.Fprintf(out, "\nSorry, planning failed: %s\n", snap.Error)
		}
	}
}

// waitTurn polls the session until the turn ends, relaying questions to ask.
// It returns early when ask reports the input is closed.
func waitTurn(ctx context.Context, p planner, sessionID string, every time.Duration, ask func(string) (string, bool)) (orchestrator.Snapshot, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		snap, err := p.GetStatus(ctx, sessionID)
		if err != nil {
			return orchestrator.Snapshot{}, err
		}
		switch snap.Status {
		case session.StatusCompleted, session.StatusError:
			return snap, nil
		case session.StatusAwaitingInput:
			answer, ok := ask(snap.Question)
			if !ok {
				return snap, io.EOF
			}
			if err := p.SubmitAnswer(ctx, sessionID, answer); err != nil {
				return orchestrator.Snapshot{}, err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return orchestrator.Snapshot{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
