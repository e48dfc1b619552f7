package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/otherjamesbrown/meetwise/pkg/assistant"
	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
	"github.com/otherjamesbrown/meetwise/pkg/logging"
	"github.com/otherjamesbrown/meetwise/pkg/meeting"
	"github.com/otherjamesbrown/meetwise/pkg/orchestrator"
)

// SignatureHeader carries the provider's webhook signature.
const SignatureHeader = "X-Signature"

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
		return
	}

	if s.cfg.WebhookSecret != "" {
		if err := VerifySignature(s.cfg.WebhookSecret, body, r.Header.Get(SignatureHeader)); err != nil {
			s.logger.Warn("Webhook signature rejected", logging.Err(err), logging.F("remote_addr", r.RemoteAddr))
			writeError(w, http.StatusUnauthorized, "invalid_signature", "webhook signature is missing or invalid")
			return
		}
	}

	var e orchestrator.Event
	if err := json.Unmarshal(body, &e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed event JSON")
		return
	}

	res, err := s.deps.Events.HandleEvent(r.Context(), e)
	if err != nil {
		// Non-2xx makes the provider redeliver.
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// MeetingView is the operator representation of a meeting.
type MeetingView struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	AgentID         string         `json:"agent_id"`
	Status          meeting.Status `json:"status"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	EndedAt         *time.Time     `json:"ended_at,omitempty"`
	DurationSeconds *int64         `json:"duration_seconds,omitempty"`

	HasRecording  bool `json:"has_recording"`
	HasTranscript bool `json:"has_transcript"`
	HasSummary    bool `json:"has_summary"`

	RecordingURL string `json:"recording_url,omitempty"`
	Summary      string `json:"summary,omitempty"`
	Transcript   string `json:"transcript,omitempty"`

	// ProcessingError is the error flag left by a failed pipeline job.
	ProcessingError string    `json:"processing_error,omitempty"`
	Version         int64     `json:"version"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewMeetingView builds the view. The transcript is only included on request.
func NewMeetingView(m *meeting.Meeting, withTranscript bool) MeetingView {
	v := MeetingView{
		ID:              m.ID,
		Name:            m.Name,
		AgentID:         m.AgentID,
		Status:          m.Status,
		StartedAt:       m.StartedAt,
		EndedAt:         m.EndedAt,
		DurationSeconds: m.DurationSeconds,
		HasRecording:    m.Artifacts.Has(meeting.ArtifactRecording),
		HasTranscript:   m.Artifacts.Has(meeting.ArtifactTranscript),
		HasSummary:      m.Artifacts.Has(meeting.ArtifactSummary),
		RecordingURL:    m.Artifacts.Value(meeting.ArtifactRecording),
		Summary:         m.Artifacts.Value(meeting.ArtifactSummary),
		ProcessingError: m.ProcessingError,
		Version:         m.Version,
		UpdatedAt:       m.UpdatedAt,
	}
	if withTranscript {
		v.Transcript = m.Artifacts.Value(meeting.ArtifactTranscript)
	}
	return v
}

func (s *Server) handleGetMeeting(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Meetings.Get(r.Context(), chi.URLParam(r, "meetingID"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewMeetingView(m, r.URL.Query().Get("include") == "transcript"))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Events.Cancel(r.Context(), chi.URLParam(r, "meetingID"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewMeetingView(m, false))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Pipeline.Job(r.Context(), chi.URLParam(r, "meetingID"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRedrive(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Pipeline.Redrive(r.Context(), chi.URLParam(r, "meetingID"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// AskRequest is the body of POST /meetings/{id}/ask.
type AskRequest struct {
	Question string           `json:"question"`
	History  []assistant.Turn `json:"history,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed ask JSON")
		return
	}

	ans, err := s.deps.Assistant.Ask(r.Context(), chi.URLParam(r, "meetingID"), req.Question, req.History)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, mwerrors.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, mwerrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, mwerrors.ErrNotReady):
		return http.StatusConflict, "not_ready"
	case errors.Is(err, mwerrors.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, mwerrors.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, mwerrors.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, mwerrors.ErrTransientFailure):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", logging.Err(err))
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
