package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/tripcrew/tripcrew/features/stream/pulse/clients/pulse"
	"github.com/tripcrew/tripcrew/runtime/planner/hooks"
)

type (
	// EnvelopeDecoder converts raw payloads read from Pulse into session
	// events.
	EnvelopeDecoder func([]byte) (hooks.Event, error)

	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client clientspulse.Client
		// SinkName identifies the Pulse consumer group. Defaults to "tripcrew_watch".
		SinkName string
		// Buffer specifies the event channel capacity. Defaults to 64.
		Buffer int
		// Decoder deserializes event payloads. Defaults to the built-in JSON decoder.
		Decoder EnvelopeDecoder
	}

	// Subscriber consumes session streams and emits the decoded events.
	Subscriber struct {
		client clientspulse.Client
		buffer int
		name   string
		decode EnvelopeDecoder
	}
)

// NewSubscriber constructs a Pulse-backed subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "tripcrew_watch"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = decodeEnvelope
	}
	return &Subscriber{client: opts.Client, buffer: buffer, name: name, decode: decoder}, nil
}

// Subscribe opens a Pulse sink on the given stream and returns channels for
// events and errors. The returned cancel function stops consumption, closes
// the sink, and closes both channels.
//
//	events, errs, cancel, err := sub.Subscribe(ctx, pulse.StreamName(id))
//	defer cancel()
//	for ev := range events {
//	    // process event
//	}
func (s *Subscriber) Subscribe(
	ctx context.Context,
	streamID string,
	opts ...streamopts.Sink,
) (<-chan hooks.Event, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(streamID)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	events := make(chan hooks.Event, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, events, errs)
	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return events, errs, cancelFunc, nil
}

// consume reads events from the Pulse sink, decodes them, emits them on out
// and acks each one after emission.
func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- hooks.Event, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			decoded, err := s.decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if ackErr := sink.Ack(ctx, evt); ackErr != nil {
				errs <- fmt.Errorf("pulse ack: %w", ackErr)
				return
			}
		}
	}
}

func decodeEnvelope(payload []byte) (hooks.Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return hooks.Event{}, err
	}
	return hooks.Event{
		Type:      hooks.EventType(env.Type),
		SessionID: env.SessionID,
		Turn:      env.Turn,
		Status:    env.Status,
		Stage:     env.Stage,
		Message:   env.Message,
		At:        env.Timestamp,
	}, nil
}
