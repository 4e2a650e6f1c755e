package api

import (
	"net/http"
)

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projects.List(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	p, err := s.projects.Create(r.Context(), identityFrom(r.Context()), req.Name, req.Description)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) board(w http.ResponseWriter, r *http.Request) {
	b, err := s.reports.Board(r.Context(), r.URL.Query().Get("project"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) dashboardStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.reports.Stats(r.Context(), identityFrom(r.Context()))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) dashboardRecent(w http.ResponseWriter, r *http.Request) {
	bugs, err := s.reports.Recent(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recent_bugs": bugs})
}

func (s *Server) dashboardCharts(w http.ResponseWriter, r *http.Request) {
	c, err := s.reports.Charts(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
