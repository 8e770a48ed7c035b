package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/classmesh/bus"
	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/logging"
	"github.com/hupe1980/classmesh/scenario"
)

const maxBodyBytes = 1 << 20

// Handler serves the simulation routes.
type Handler struct {
	sim    Simulation
	logger logging.Logger
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeErr maps the simulation error taxonomy onto HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	var (
		ce *core.ConfigError
		ve *core.ValidationError
	)
	switch {
	case errors.As(err, &ce):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: ce.Field})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: ve.Field})
	case errors.Is(err, core.ErrUnknownAgent):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrDuplicateAgent),
		errors.Is(err, core.ErrAlreadyRunning),
		errors.Is(err, core.ErrNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func queryInt(r *http.Request, key string) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, core.NewValidationError(key, v, "must be an integer")
	}
	return n, nil
}

// Status handles GET /api/status
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sim.Status())
}

// Start handles POST /api/start?ticks=N
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	ticks, err := queryInt(r, "ticks")
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := h.sim.Start(ticks); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.sim.Status())
}

// Stop handles POST /api/stop
func (h *Handler) Stop(w http.ResponseWriter, _ *http.Request) {
	h.control(w, h.sim.Stop)
}

// Pause handles POST /api/pause
func (h *Handler) Pause(w http.ResponseWriter, _ *http.Request) {
	h.control(w, h.sim.Pause)
}

// Resume handles POST /api/resume
func (h *Handler) Resume(w http.ResponseWriter, _ *http.Request) {
	h.control(w, h.sim.Resume)
}

func (h *Handler) control(w http.ResponseWriter, fn func() error) {
	if err := fn(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sim.Status())
}

// Reload handles POST /api/reload with a YAML scenario body. The roster of
// the body is ignored.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "scenario body is required")
		return
	}
	sc, err := scenario.Parse(data)
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(sc.Agents) == 0 {
		for _, p := range h.sim.Agents() {
			sc.Agents = append(sc.Agents, scenario.AgentSpec{AgentProfile: p})
		}
	}
	if err := h.sim.Reload(sc); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sim.Status())
}

// ListAgents handles GET /api/agents
func (h *Handler) ListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sim.Agents())
}

// GetAgent handles GET /api/agents/{id}
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	p, ok := h.sim.Agent(chi.URLParam(r, "id"))
	if !ok {
		writeErr(w, core.ErrUnknownAgent)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func decodeProfile(r *http.Request) (core.AgentProfile, error) {
	var p core.AgentProfile
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&p); err != nil {
		return p, core.NewValidationError("body", "", "must be a JSON agent profile")
	}
	if p.Persona.Engagement == 0 && p.Persona.Confidence == 0 && p.Persona.Collaboration == 0 {
		d := core.DefaultPersona()
		p.Persona.Engagement, p.Persona.Confidence, p.Persona.Collaboration = d.Engagement, d.Confidence, d.Collaboration
	}
	return p, nil
}

// AddAgent handles POST /api/agents
func (h *Handler) AddAgent(w http.ResponseWriter, r *http.Request) {
	p, err := decodeProfile(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := h.sim.AddAgent(r.Context(), p); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdateAgent handles PUT /api/agents/{id}
func (h *Handler) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	p, err := decodeProfile(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	p.ID = chi.URLParam(r, "id")
	if err := h.sim.UpdateAgent(p); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// RemoveAgent handles DELETE /api/agents/{id}
func (h *Handler) RemoveAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.sim.RemoveAgent(chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Timetable handles GET /api/timetable?group=
func (h *Handler) Timetable(w http.ResponseWriter, r *http.Request) {
	entries := h.sim.Timetable(r.URL.Query().Get("group"))
	if entries == nil {
		entries = []core.TimetableEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Messages handles GET /api/messages?agent_id&direction&since&until&limit
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := bus.LogFilter{
		AgentID:    q.Get("agent_id"),
		Direction:  bus.Direction(q.Get("direction")),
		Visibility: core.Visibility(q.Get("visibility")),
	}
	switch f.Direction {
	case bus.DirectionAny, bus.DirectionIn, bus.DirectionOut:
	default:
		writeErr(w, core.NewValidationError("direction", string(f.Direction), "must be in or out"))
		return
	}
	var err error
	if f.Since, err = queryInt(r, "since"); err != nil {
		writeErr(w, err)
		return
	}
	if f.Until, err = queryInt(r, "until"); err != nil {
		writeErr(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeErr(w, err)
		return
	}
	f.Limit = int(limit)

	events := h.sim.Messages(f)
	if events == nil {
		events = []core.WorldEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// Knowledge handles GET /api/knowledge/{id}
func (h *Handler) Knowledge(w http.ResponseWriter, r *http.Request) {
	scores, err := h.sim.Knowledge(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scores)
}

// Curriculum handles GET /api/curriculum
func (h *Handler) Curriculum(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sim.Curriculum())
}

// Semester handles GET /api/semester
func (h *Handler) Semester(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sim.Semester())
}
