package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/jpalmerr/pulsefeed/internal/channel"
	"github.com/jpalmerr/pulsefeed/internal/integration"
	"github.com/jpalmerr/pulsefeed/internal/jobs"
	"github.com/jpalmerr/pulsefeed/internal/jobstatus"
	"github.com/jpalmerr/pulsefeed/internal/poller"
	"github.com/jpalmerr/pulsefeed/internal/scheduler"
)

const maxRequestBody = 4 << 10

// JobView is one row of GET /api/jobs.
type JobView struct {
	scheduler.EntryInfo
	Status  jobstatus.Status `json:"status"`
	LastRun *jobstatus.Run   `json:"lastRun,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, errorResponse{Error: msg})
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	runs := lo.KeyBy(s.cfg.Statuses.All(), func(r jobstatus.Run) string { return r.JobName })

	views := lo.Map(s.cfg.Jobs.Entries(), func(e scheduler.EntryInfo, _ int) JobView {
		view := JobView{EntryInfo: e, Status: jobstatus.StatusIdle}
		if run, ok := runs[e.Name]; ok {
			view.LastRun = &run
			view.Status = run.Status
		}
		if e.Running {
			view.Status = jobstatus.StatusRunning
		}
		return view
	})

	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	err := s.cfg.Jobs.Trigger(r.Context(), name)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "accepted"})
	case errors.Is(err, scheduler.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrManualTriggerRejected):
		s.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, scheduler.ErrJobRunning):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scheduler.ErrNotStarted):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("manual trigger failed", "job", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "trigger failed")
	}
}

// itemChannel resolves the channel addressed by the request path. Raw JSON
// values are passed through untouched.
func (s *Server) itemChannel(w http.ResponseWriter, r *http.Request) (*channel.Channel[json.RawMessage], bool) {
	kind := chi.URLParam(r, "kind")
	id := chi.URLParam(r, "integrationID")
	if kind == "" || id == "" || strings.Contains(kind, ":") || strings.Contains(id, ":") {
		s.writeError(w, http.StatusBadRequest, "invalid channel address")
		return nil, false
	}
	return channel.ItemAndIntegration[json.RawMessage](s.cfg.Broker, kind, id), true
}

// pingChannel resolves the probe result channel of the url query parameter.
func (s *Server) pingChannel(w http.ResponseWriter, r *http.Request) (*channel.Channel[json.RawMessage], bool) {
	target := r.URL.Query().Get("url")
	if err := poller.ValidateURL(target); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return channel.Named[json.RawMessage](s.cfg.Broker, jobs.PingTopic(target)), true
}

func (s *Server) handleLastState(w http.ResponseWriter, r *http.Request) {
	if ch, ok := s.itemChannel(w, r); ok {
		s.writeLastState(w, r, ch)
	}
}

func (s *Server) handlePingLastState(w http.ResponseWriter, r *http.Request) {
	if ch, ok := s.pingChannel(w, r); ok {
		s.writeLastState(w, r, ch)
	}
}

func (s *Server) writeLastState(w http.ResponseWriter, r *http.Request, ch *channel.Channel[json.RawMessage]) {
	last, ok, err := ch.LastState(r.Context())
	if err != nil {
		s.logger.Error("failed to read last state", "topic", ch.Topic(), "error", err)
		s.writeError(w, http.StatusBadGateway, "last state unavailable")
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, last)
}

type pingURLRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleRegisterPingURL(w http.ResponseWriter, r *http.Request) {
	var req pingURLRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := poller.ValidateURL(req.URL); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cfg.Pipeline.RegisterPingURL(r.Context(), req.URL); err != nil {
		s.logger.Error("failed to register ping url", "url", req.URL, "error", err)
		s.writeError(w, http.StatusBadGateway, "registration failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "integrationID")

	events, err := s.cfg.Pipeline.Calendar(r.Context(), id)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, events)
	case errors.Is(err, jobs.ErrIntegrationNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, integration.ErrUnsupportedCapability):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("calendar fetch failed", "integration_id", id, "error", err)
		s.writeError(w, http.StatusBadGateway, jobstatus.Summarize(err))
	}
}
