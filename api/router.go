// Package api exposes a running simulation over HTTP.
//
// The surface is read-mostly: status, roster, timetable, messages, knowledge,
// curriculum and semester queries, plus run control and roster edits. GET /ws
// streams the global event log as JSON frames. There is no authentication;
// bind the server to a trusted interface.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/classmesh"
	"github.com/hupe1980/classmesh/bus"
	"github.com/hupe1980/classmesh/clock"
	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/engine"
	"github.com/hupe1980/classmesh/logging"
	"github.com/hupe1980/classmesh/scenario"
)

var _ Simulation = (*classmesh.Simulation)(nil)

// Simulation is the part of classmesh.Simulation the API serves.
type Simulation interface {
	Status() engine.Status
	Start(ticks int64) error
	Stop() error
	Pause() error
	Resume() error
	Reload(sc *scenario.Scenario) error

	Agents() []core.AgentProfile
	Agent(id string) (core.AgentProfile, bool)
	AddAgent(ctx context.Context, p core.AgentProfile) error
	UpdateAgent(p core.AgentProfile) error
	RemoveAgent(id string) error

	Timetable(group string) []core.TimetableEntry
	Messages(f bus.LogFilter) []core.WorldEvent
	Knowledge(agentID string) (map[string]float64, error)
	Curriculum() classmesh.CurriculumView
	Semester() []clock.WeekSummary
	Subscribe(buffer int) (<-chan core.WorldEvent, func())
}

// NewRouter creates the chi router with all routes and middleware.
func NewRouter(sim Simulation, logger logging.Logger) *chi.Mux {
	logger = logging.OrNoOp(logger)
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	h := &Handler{sim: sim, logger: logger}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Post("/start", h.Start)
		r.Post("/stop", h.Stop)
		r.Post("/pause", h.Pause)
		r.Post("/resume", h.Resume)
		r.Post("/reload", h.Reload)

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.AddAgent)
			r.Get("/{id}", h.GetAgent)
			r.Put("/{id}", h.UpdateAgent)
			r.Delete("/{id}", h.RemoveAgent)
		})

		r.Get("/timetable", h.Timetable)
		r.Get("/messages", h.Messages)
		r.Get("/knowledge/{id}", h.Knowledge)
		r.Get("/curriculum", h.Curriculum)
		r.Get("/semester", h.Semester)
	})
	r.Get("/ws", h.Stream)

	return r
}
