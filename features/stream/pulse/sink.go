// Package pulse publishes session lifecycle events to goa.design/pulse
// streams so that other processes can follow a session's status. Services
// build a Redis client, pass it to the Pulse client, and register the
// resulting sink on the hooks bus.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tripcrew/tripcrew/features/stream/pulse/clients/pulse"
	"github.com/tripcrew/tripcrew/runtime/planner/hooks"
)

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client pulse.Client
		// StreamID derives the target Pulse stream from an event. Defaults to
		// StreamName(event.SessionID).
		StreamID func(hooks.Event) (string, error)
		// MarshalEnvelope allows overriding the envelope serialization (primarily for tests).
		MarshalEnvelope func(envelope) ([]byte, error)
	}

	// Sink publishes session events into Pulse streams. It implements
	// hooks.Subscriber and is safe for concurrent use.
	Sink struct {
		client pulse.Client
		opts   sinkOptions
	}

	sinkOptions struct {
		streamID        func(hooks.Event) (string, error)
		marshalEnvelope func(envelope) ([]byte, error)
	}

	// envelope wraps session events for transmission over Pulse streams.
	envelope struct {
		Type      string    `json:"type"`
		SessionID string    `json:"session_id"`
		Turn      int       `json:"turn"`
		Status    string    `json:"status"`
		Stage     string    `json:"stage,omitempty"`
		Message   string    `json:"message,omitempty"`
		Timestamp time.Time `json:"timestamp"`
	}
)

var _ hooks.Subscriber = (*Sink)(nil)

// StreamName returns the Pulse stream carrying the events of a session.
func StreamName(sessionID string) string {
	return fmt.Sprintf("session/%s", sessionID)
}

// NewSink constructs a Pulse-backed status sink.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	cfg := sinkOptions{
		streamID:        defaultStreamID,
		marshalEnvelope: defaultMarshal,
	}
	if opts.StreamID != nil {
		cfg.streamID = opts.StreamID
	}
	if opts.MarshalEnvelope != nil {
		cfg.marshalEnvelope = opts.MarshalEnvelope
	}
	return &Sink{client: opts.Client, opts: cfg}, nil
}

// HandleEvent publishes the event to the session stream.
func (s *Sink) HandleEvent(ctx context.Context, event hooks.Event) error {
	streamID, err := s.opts.streamID(event)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(streamID)
	if err != nil {
		return err
	}
	ts := event.At
	if ts.IsZero() {
		ts = time.Now()
	}
	env := envelope{
		Type:      string(event.Type),
		SessionID: event.SessionID,
		Turn:      event.Turn,
		Status:    event.Status,
		Stage:     event.Stage,
		Message:   event.Message,
		Timestamp: ts.UTC(),
	}
	payload, err := s.opts.marshalEnvelope(env)
	if err != nil {
		return err
	}
	if _, err := handle.Add(ctx, env.Type, payload); err != nil {
		return err
	}
	return nil
}

// Close releases resources owned by the sink.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func defaultStreamID(event hooks.Event) (string, error) {
	if event.SessionID == "" {
		return "", errors.New("session event missing session id")
	}
	return StreamName(event.SessionID), nil
}

func defaultMarshal(env envelope) ([]byte, error) {
	return json.Marshal(env)
}
