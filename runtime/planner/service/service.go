// Package service exposes the session orchestrator over HTTP.
//
// Handlers are mounted on a goa muxer and use the goa request decoder and
// response encoder so content negotiation matches the rest of the stack.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	goahttp "goa.design/goa/v3/http"

	"github.com/tripcrew/tripcrew/runtime/planner/archive"
	"github.com/tripcrew/tripcrew/runtime/planner/orchestrator"
	"github.com/tripcrew/tripcrew/runtime/planner/session"
)

type (
	// Planner is the orchestrator surface used by the transport.
	Planner interface {
		StartTurn(ctx context.Context, sessionID, prompt string) (orchestrator.StartResult, error)
		SubmitAnswer(ctx context.Context, sessionID, answer string) error
		GetStatus(ctx context.Context, sessionID string) (orchestrator.Snapshot, error)
		Turns(ctx context.Context, sessionID, cursor string, limit int) (archive.Page, error)
	}

	// Server lists the chatbot endpoints.
	Server struct {
		Mounts []*MountPoint

		planner Planner
		dec     func(*http.Request) goahttp.Decoder
		enc     func(context.Context, http.ResponseWriter) goahttp.Encoder
		eh      func(context.Context, http.ResponseWriter, error)
	}

	// MountPoint holds information about the mounted endpoints.
	MountPoint struct {
		Method  string
		Verb    string
		Pattern string
	}

	// StartRequest is the body of POST /chatbot/start.
	StartRequest struct {
		Prompt    string `json:"prompt"`
		SessionID string `json:"session_id,omitempty"`
	}

	// InputRequest is the body of POST /chatbot/input.
	InputRequest struct {
		SessionID string `json:"session_id"`
		Response  string `json:"response"`
	}

	// ChatbotResponse is returned by all chatbot endpoints.
	ChatbotResponse struct {
		SessionID     string         `json:"session_id"`
		Status        string         `json:"status"`
		Message       string         `json:"message"`
		Data          map[string]any `json:"data,omitempty"`
		RequiresInput bool           `json:"requires_input"`
		InputQuestion *string        `json:"input_question"`
	}

	// HistoryResponse is returned by GET /chatbot/history/{session_id}.
	HistoryResponse struct {
		SessionID  string        `json:"session_id"`
		Turns      []TurnSummary `json:"turns"`
		NextCursor string        `json:"next_cursor,omitempty"`
	}

	// TurnSummary describes one archived turn.
	TurnSummary struct {
		ID         string `json:"id"`
		Turn       int    `json:"turn"`
		Prompt     string `json:"prompt"`
		Status     string `json:"status"`
		Report     string `json:"report,omitempty"`
		Error      string `json:"error,omitempty"`
		StartedAt  string `json:"started_at"`
		FinishedAt string `json:"finished_at"`
	}

	// ErrorResponse is the body of non-2xx responses.
	ErrorResponse struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// New instantiates the chatbot server. eh is called with errors that do not
// map to a client error; it must write the response.
func New(
	p Planner,
	mux goahttp.Muxer,
	decoder func(*http.Request) goahttp.Decoder,
	encoder func(context.Context, http.ResponseWriter) goahttp.Encoder,
	errhandler func(context.Context, http.ResponseWriter, error),
) *Server {
	return &Server{
		Mounts: []*MountPoint{
			{"Start", "POST", "/chatbot/start"},
			{"Input", "POST", "/chatbot/input"},
			{"Status", "GET", "/chatbot/status/{session_id}"},
			{"History", "GET", "/chatbot/history/{session_id}"},
		},
		planner: p,
		dec:     decoder,
		enc:     encoder,
		eh:      errhandler,
	}
}

// Mount configures the mux to serve the chatbot endpoints.
func Mount(mux goahttp.Muxer, s *Server) {
	mux.Handle("POST", "/chatbot/start", s.start)
	mux.Handle("POST", "/chatbot/input", s.input)
	mux.Handle("GET", "/chatbot/status/{session_id}", func(w http.ResponseWriter, r *http.Request) {
		s.status(w, r, mux.Vars(r)["session_id"])
	})
	mux.Handle("GET", "/chatbot/history/{session_id}", func(w http.ResponseWriter, r *http.Request) {
		s.history(w, r, mux.Vars(r)["session_id"])
	})
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body StartRequest
	if err := s.decode(r, &body); err != nil {
		s.fail(ctx, w, err)
		return
	}
	res, err := s.planner.StartTurn(ctx, body.SessionID, body.Prompt)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	s.write(ctx, w, http.StatusOK, ChatbotResponse{
		SessionID: res.SessionID,
		Status:    string(session.StatusInProgress),
		Message:   "Chatbot processing started.",
	})
}

func (s *Server) input(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body InputRequest
	if err := s.decode(r, &body); err != nil {
		s.fail(ctx, w, err)
		return
	}
	if body.SessionID == "" {
		s.fail(ctx, w, badRequest("session_id is required"))
		return
	}
	if err := s.planner.SubmitAnswer(ctx, body.SessionID, body.Response); err != nil {
		s.fail(ctx, w, err)
		return
	}
	s.write(ctx, w, http.StatusOK, ChatbotResponse{
		SessionID: body.SessionID,
		Status:    string(session.StatusInProgress),
		Message:   "Input received.",
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	snap, err := s.planner.GetStatus(ctx, id)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	s.write(ctx, w, http.StatusOK, statusResponse(snap))
}

func (s *Server) history(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.fail(ctx, w, badRequest("limit must be a positive integer"))
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	// Archived turns outlive evicted sessions, so the session need not exist.
	page, err := s.planner.Turns(ctx, id, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	res := HistoryResponse{SessionID: id, Turns: make([]TurnSummary, 0, len(page.Turns)), NextCursor: page.NextCursor}
	for _, t := range page.Turns {
		res.Turns = append(res.Turns, TurnSummary{
			ID:         t.ID,
			Turn:       t.Turn,
			Prompt:     t.Prompt,
			Status:     string(t.Status),
			Report:     t.Report,
			Error:      t.Error,
			StartedAt:  t.StartedAt.UTC().Format(time.RFC3339),
			FinishedAt: t.FinishedAt.UTC().Format(time.RFC3339),
		})
	}
	s.write(ctx, w, http.StatusOK, res)
}

// statusResponse renders a snapshot. Only the fields relevant to the status
// are set.
func statusResponse(snap orchestrator.Snapshot) ChatbotResponse {
	res := ChatbotResponse{
		SessionID: snap.SessionID,
		Status:    string(snap.Status),
		Message:   fmt.Sprintf("Session status: %s", snap.Status),
	}
	switch snap.Status {
	case session.StatusAwaitingInput:
		q := snap.Question
		res.RequiresInput = true
		res.InputQuestion = &q
	case session.StatusCompleted:
		res.Data = map[string]any{"result": snap.Report}
	case session.StatusError:
		res.Data = map[string]any{"error": snap.Error}
	}
	return res
}

func (s *Server) decode(r *http.Request, v any) error {
	if err := s.dec(r).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("missing request body")
		}
		return badRequest(fmt.Sprintf("invalid request body: %s", err))
	}
	return nil
}

func (s *Server) write(ctx context.Context, w http.ResponseWriter, code int, v any) {
	enc := s.enc(ctx, w)
	w.WriteHeader(code)
	if err := enc.Encode(v); err != nil {
		s.eh(ctx, w, err)
	}
}

// fail maps err to a status code. Errors without a mapping go to the error
// handler.
func (s *Server) fail(ctx context.Context, w http.ResponseWriter, err error) {
	code, name := StatusCode(err)
	if code == http.StatusInternalServerError {
		s.eh(ctx, w, err)
		return
	}
	s.write(ctx, w, code, ErrorResponse{Name: name, Message: err.Error()})
}

// StatusCode returns the HTTP status and error name for err.
func StatusCode(err error) (int, string) {
	var br *requestError
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, orchestrator.ErrEmptyPrompt):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, orchestrator.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, orchestrator.ErrAnswerRejected):
		return http.StatusPreconditionFailed, "rejected"
	case errors.Is(err, orchestrator.ErrTurnInProgress):
		return http.StatusConflict, "turn_in_progress"
	case errors.Is(err, orchestrator.ErrNoArchive):
		return http.StatusNotImplemented, "no_archive"
	case errors.Is(err, orchestrator.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{msg: msg} }
