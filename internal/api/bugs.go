package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/joescharf/bugsage/internal/apperr"
	"github.com/joescharf/bugsage/internal/lifecycle"
	"github.com/joescharf/bugsage/internal/models"
	"github.com/joescharf/bugsage/internal/store"
)

// bugPage is one page of the bug list.
type bugPage struct {
	Bugs       []*models.Bug `json:"bugs"`
	Page       int           `json:"page"`
	TotalPages int           `json:"total_pages"`
	TotalBugs  int           `json:"total_bugs"`
}

// bugFilter reads list filters from the query string.
func bugFilter(r *http.Request) (store.BugListFilter, error) {
	q := r.URL.Query()
	f := store.BugListFilter{
		ProjectID:  q.Get("project"),
		AssigneeID: q.Get("assignee"),
		ReporterID: q.Get("reporter"),
	}
	if v := q.Get("status"); v != "" {
		f.Status = models.BugStatus(v)
		if !f.Status.Valid() {
			return f, apperr.Validation("invalid status %q", v)
		}
	}
	if v := q.Get("priority"); v != "" {
		f.Priority = models.BugPriority(v)
		if !f.Priority.Valid() {
			return f, apperr.Validation("invalid priority %q", v)
		}
	}
	return f, nil
}

func (s *Server) listBugs(w http.ResponseWriter, r *http.Request) {
	filter, err := bugFilter(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		page, err = strconv.Atoi(v)
		if err != nil || page < 1 {
			s.writeErr(w, r, apperr.Validation("invalid page %q", v))
			return
		}
	}

	total, err := s.store.CountBugs(r.Context(), filter)
	if err != nil {
		s.writeErr(w, r, fmt.Errorf("count bugs: %w", err))
		return
	}
	filter.Limit = s.pageSize
	filter.Offset = (page - 1) * s.pageSize
	bugs, err := s.store.ListBugs(r.Context(), filter)
	if err != nil {
		s.writeErr(w, r, fmt.Errorf("list bugs: %w", err))
		return
	}
	if bugs == nil {
		bugs = []*models.Bug{}
	}

	writeJSON(w, http.StatusOK, bugPage{
		Bugs:       bugs,
		Page:       page,
		TotalPages: (total + s.pageSize - 1) / s.pageSize,
		TotalBugs:  total,
	})
}

func (s *Server) createBug(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	res, err := s.engine.CreateBug(r.Context(), identityFrom(r.Context()), req)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if res.NeedsConfirmation() {
		writeJSON(w, http.StatusOK, map[string]any{
			"warning":    "Potential duplicates found",
			"duplicates": res.Duplicates,
		})
		return
	}
	s.logger.Info("bug created", "bug_id", res.Bug.ID, "reporter", res.Bug.ReporterID)
	writeJSON(w, http.StatusCreated, res.Bug)
}

func (s *Server) searchBugs(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.writeErr(w, r, apperr.Validation("search query is required"))
		return
	}
	hits, err := s.store.SearchBugs(r.Context(), q, SearchLimit)
	if err != nil {
		s.writeErr(w, r, fmt.Errorf("search bugs: %w", err))
		return
	}
	if hits == nil {
		hits = []models.SearchHit{}
	}
	writeJSON(w, http.StatusOK, hits)
}

type triageRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Server) triageBug(w http.ResponseWriter, r *http.Request) {
	if s.triager == nil {
		writeError(w, http.StatusServiceUnavailable, "LLM not configured (set ANTHROPIC_API_KEY)")
		return
	}
	var req triageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		s.writeErr(w, r, apperr.Validation("title is required"))
		return
	}

	projects, err := s.projects.List(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	names := make([]string, len(projects))
	for i, p := range projects {
		names[i] = p.Name
	}

	t, err := s.triager.TriageBug(r.Context(), req.Title, req.Description, names)
	if err != nil {
		s.logger.Warn("triage failed", "error", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("LLM triage failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) getBug(w http.ResponseWriter, r *http.Request) {
	detail, err := s.engine.GetBugWithHistory(r.Context(), pathID(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) updateBug(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := decodeJSON(r, &raw); err != nil {
		s.writeErr(w, r, err)
		return
	}
	changes, err := lifecycle.ParseChanges(raw)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	res, err := s.engine.UpdateBug(r.Context(), identityFrom(r.Context()), pathID(r), changes)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) deleteBug(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteBug(r.Context(), identityFrom(r.Context()), pathID(r)); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Status models.BugStatus `json:"status"`
}

func (s *Server) transitionStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	res, err := s.engine.TransitionStatus(r.Context(), identityFrom(r.Context()), pathID(r), req.Status)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	msg := "Status updated"
	if !res.Changed() {
		msg = "Status unchanged"
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": msg, "bug": res.Bug})
}

type commentRequest struct {
	Text string `json:"text"`
}

func (s *Server) addComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	c, err := s.engine.AddComment(r.Context(), identityFrom(r.Context()), pathID(r), req.Text)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) bugHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.engine.History(r.Context(), pathID(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// multipartOverhead is the allowance for form framing on top of the file.
const multipartOverhead = 1 << 20

func (s *Server) uploadAttachment(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		writeError(w, http.StatusServiceUnavailable, "attachments are not configured")
		return
	}
	id := pathID(r)
	if _, err := s.engine.GetBugWithHistory(r.Context(), id); err != nil {
		s.writeErr(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.files.Policy().MaxSize+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErr(w, r, apperr.Validation("file exceeds %d bytes", s.files.Policy().MaxSize))
			return
		}
		s.writeErr(w, r, apperr.Validation("file is required"))
		return
	}
	defer func() { _ = file.Close() }()

	path, err := s.files.Save(id, header.Filename, file)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	a, err := s.engine.AddAttachment(r.Context(), identityFrom(r.Context()), id, path, header.Filename)
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			s.logger.Warn("remove orphaned attachment", "path", path, "error", rmErr)
		}
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}
