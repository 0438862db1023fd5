package pulse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"

	"github.com/tripcrew/tripcrew/runtime/planner/hooks"
)

func TestSubscribeEmitsEvents(t *testing.T) {
	ctx := context.Background()
	cli := newFakeClient()
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	require.NoError(t, sink.HandleEvent(ctx, hooks.Event{Type: hooks.StageCompleted, SessionID: "s-1", Turn: 2, Status: "in_progress", Stage: "research"}))

	sub, err := NewSubscriber(SubscriberOptions{Client: cli, Buffer: 2})
	require.NoError(t, err)
	events, errs, cancel, err := sub.Subscribe(ctx, StreamName("s-1"))
	require.NoError(t, err)
	defer cancel()

	str := cli.stream(StreamName("s-1"))
	require.Equal(t, "tripcrew_watch", str.sink.name)
	str.sink.ch <- &streaming.Event{ID: "1-0", EventName: str.added[0].event, Payload: str.added[0].payload}
	close(str.sink.ch)

	select {
	case ev := <-events:
		require.Equal(t, hooks.StageCompleted, ev.Type)
		require.Equal(t, "research", ev.Stage)
		require.Equal(t, 2, ev.Turn)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	_, open := <-events
	require.False(t, open)
	require.NoError(t, <-errs)
	require.Equal(t, []string{"1-0"}, str.sink.acked)
}

func TestSubscribeDecoderError(t *testing.T) {
	cli := newFakeClient()
	sub, err := NewSubscriber(SubscriberOptions{
		Client: cli,
		Decoder: func([]byte) (hooks.Event, error) {
			return hooks.Event{}, errors.New("decode error")
		},
	})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(context.Background(), "session/s-1")
	require.NoError(t, err)
	defer cancel()
	str := cli.stream("session/s-1")
	str.sink.ch <- &streaming.Event{Payload: []byte("{}")}

	require.EqualError(t, <-errs, "pulse decode payload: decode error")
	_, open := <-events
	require.False(t, open)
}

func TestSubscribeSinkError(t *testing.T) {
	cli := newFakeClient()
	cli.stream("session/s-2").sinkErr = errors.New("no group")
	sub, err := NewSubscriber(SubscriberOptions{Client: cli})
	require.NoError(t, err)
	_, _, _, err = sub.Subscribe(context.Background(), "session/s-2")
	require.ErrorContains(t, err, "no group")
}
