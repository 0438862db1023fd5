package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tripcrew/tripcrew/runtime/planner/archive"
	"github.com/tripcrew/tripcrew/runtime/planner/session"
	"github.com/tripcrew/tripcrew/runtime/planner/trip"
)

func TestRecordAndList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Record(ctx, &archive.Turn{SessionID: "a", Turn: i, Status: session.StatusCompleted}))
	}
	require.NoError(t, s.Record(ctx, &archive.Turn{SessionID: "b", Turn: 1, Status: session.StatusError}))

	page, err := s.List(ctx, "a", "", 2)
	require.NoError(t, err)
	require.Len(t, page.Turns, 2)
	require.Equal(t, 1, page.Turns[0].Turn)
	require.NotEmpty(t, page.NextCursor)

	page, err = s.List(ctx, "a", page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page.Turns, 1)
	require.Equal(t, 3, page.Turns[0].Turn)
	require.Empty(t, page.NextCursor)

	page, err = s.List(ctx, "b", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Turns, 1)
}

func TestValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	require.Error(t, s.Record(ctx, nil))
	require.Error(t, s.Record(ctx, &archive.Turn{}))
	_, err := s.List(ctx, "", "", 1)
	require.Error(t, err)
	_, err = s.List(ctx, "a", "", 0)
	require.Error(t, err)
	_, err = s.List(ctx, "a", "nope", 1)
	require.Error(t, err)
}

func TestNewTurnCopies(t *testing.T) {
	t.Parallel()
	started := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := trip.Params{Location: "Galle, Sri Lanka"}
	sess := session.Session{
		ID: "s", Turn: 2, TurnPrompt: "more beaches", Status: session.StatusCompleted,
		Report: "# Plan", Params: &p, UpdatedAt: started.Add(time.Minute),
		History: []session.Exchange{{Question: "q", Answer: "a"}},
	}
	turn := archive.NewTurn(sess, started)
	p.Location = "changed"
	sess.History[0].Answer = "changed"
	require.Equal(t, "Galle, Sri Lanka", turn.Params.Location)
	require.Equal(t, "a", turn.History[0].Answer)
	require.Equal(t, "more beaches", turn.Prompt)
	require.Equal(t, time.Minute, turn.FinishedAt.Sub(turn.StartedAt))
}
