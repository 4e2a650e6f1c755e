// Package report aggregates bugs into dashboard statistics, chart series and
// the kanban board.
package report

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/joescharf/bugsage/internal/apperr"
	"github.com/joescharf/bugsage/internal/models"
	"github.com/joescharf/bugsage/internal/store"
)

const (
	// RecentWindow is the period counted as recent activity.
	RecentWindow = 7 * 24 * time.Hour
	// ChartDays is the span of the bugs-over-time series.
	ChartDays = 30
	// RecentLimit is the number of bugs on the recent list.
	RecentLimit = 10
)

// StatusCount is the number of bugs in one status.
type StatusCount struct {
	Status models.BugStatus `json:"status"`
	Count  int              `json:"count"`
}

// PriorityCount is the number of bugs at one priority.
type PriorityCount struct {
	Priority models.BugPriority `json:"priority"`
	Count    int                `json:"count"`
}

// Stats is the dashboard summary.
type Stats struct {
	TotalBugs      int             `json:"total_bugs"`
	MyBugs         int             `json:"my_bugs"`
	RecentBugs     int             `json:"recent_bugs"`
	StatusCounts   []StatusCount   `json:"status_counts"`
	PriorityCounts []PriorityCount `json:"priority_counts"`
}

// DayCount is the number of bugs reported on one day (YYYY-MM-DD).
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// ResolutionTime is the mean age in days of resolved bugs of one priority.
type ResolutionTime struct {
	Priority          models.BugPriority `json:"priority"`
	AvgResolutionDays float64            `json:"avg_resolution_days"`
	Bugs              int                `json:"bugs"`
}

// Charts holds the dashboard time series.
type Charts struct {
	BugsOverTime    []DayCount       `json:"bugs_over_time"`
	ResolutionTimes []ResolutionTime `json:"resolution_times"`
}

// Column is one status lane of the board.
type Column struct {
	Status models.BugStatus `json:"status"`
	Bugs   []*models.Bug    `json:"bugs"`
}

// Board groups bugs by status in fixed column order.
type Board struct {
	Columns []Column `json:"columns"`
}

// ComputeStats summarizes bugs for the user with userID. Status and priority
// counts list every value, including those with no bugs.
func ComputeStats(bugs []*models.Bug, userID string, now time.Time) Stats {
	st := Stats{TotalBugs: len(bugs)}
	byStatus := make(map[models.BugStatus]int)
	byPriority := make(map[models.BugPriority]int)
	since := now.Add(-RecentWindow)

	for _, b := range bugs {
		byStatus[b.Status]++
		byPriority[b.Priority]++
		if userID != "" && b.AssigneeID == userID {
			st.MyBugs++
		}
		if !b.CreatedAt.Before(since) {
			st.RecentBugs++
		}
	}

	for _, s := range models.BugStatuses {
		st.StatusCounts = append(st.StatusCounts, StatusCount{Status: s, Count: byStatus[s]})
	}
	for _, p := range models.BugPriorities {
		st.PriorityCounts = append(st.PriorityCounts, PriorityCount{Priority: p, Count: byPriority[p]})
	}
	return st
}

// ComputeCharts builds the bugs-per-day series for the last ChartDays days
// and the average resolution time per priority. Days without bugs are
// omitted, as are priorities without resolved bugs.
func ComputeCharts(bugs []*models.Bug, now time.Time) Charts {
	now = now.UTC()
	since := now.AddDate(0, 0, -ChartDays)
	perDay := make(map[string]int)

	type acc struct{ days, n int }
	resolution := make(map[models.BugPriority]*acc)

	for _, b := range bugs {
		created := b.CreatedAt.UTC()
		if !created.Before(since) {
			perDay[created.Format(time.DateOnly)]++
		}
		if b.Status == models.BugStatusResolved {
			a := resolution[b.Priority]
			if a == nil {
				a = &acc{}
				resolution[b.Priority] = a
			}
			a.days += daysBetween(created, b.UpdatedAt.UTC())
			a.n++
		}
	}

	c := Charts{BugsOverTime: []DayCount{}, ResolutionTimes: []ResolutionTime{}}
	for day, n := range perDay {
		c.BugsOverTime = append(c.BugsOverTime, DayCount{Date: day, Count: n})
	}
	sort.Slice(c.BugsOverTime, func(i, j int) bool {
		return c.BugsOverTime[i].Date < c.BugsOverTime[j].Date
	})

	for _, p := range models.BugPriorities {
		a := resolution[p]
		if a == nil {
			continue
		}
		avg := float64(a.days) / float64(a.n)
		c.ResolutionTimes = append(c.ResolutionTimes, ResolutionTime{
			Priority:          p,
			AvgResolutionDays: math.Round(avg*100) / 100,
			Bugs:              a.n,
		})
	}
	return c
}

// daysBetween counts calendar days from a to b.
func daysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// BuildBoard places each bug in its status column, keeping input order.
func BuildBoard(bugs []*models.Bug) Board {
	idx := make(map[models.BugStatus]int, len(models.BugStatuses))
	board := Board{Columns: make([]Column, len(models.BugStatuses))}
	for i, s := range models.BugStatuses {
		idx[s] = i
		board.Columns[i] = Column{Status: s, Bugs: []*models.Bug{}}
	}
	for _, b := range bugs {
		i, ok := idx[b.Status]
		if !ok {
			continue
		}
		board.Columns[i].Bugs = append(board.Columns[i].Bugs, b)
	}
	return board
}

// Service loads bugs from the store and aggregates them.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService returns a report Service.
func NewService(s store.Store) *Service {
	return &Service{store: s, now: time.Now}
}

func (s *Service) bugs(ctx context.Context, filter store.BugListFilter) ([]*models.Bug, error) {
	bugs, err := s.store.ListBugs(ctx, filter)
	if err != nil {
		return nil, apperr.Persistence("list bugs", err)
	}
	return bugs, nil
}

// Stats returns the dashboard summary for actor.
func (s *Service) Stats(ctx context.Context, actor models.Identity) (Stats, error) {
	bugs, err := s.bugs(ctx, store.BugListFilter{})
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(bugs, actor.UserID, s.now()), nil
}

// Recent returns the most recently reported bugs.
func (s *Service) Recent(ctx context.Context) ([]*models.Bug, error) {
	bugs, err := s.bugs(ctx, store.BugListFilter{Limit: RecentLimit})
	if err != nil {
		return nil, err
	}
	if bugs == nil {
		bugs = []*models.Bug{}
	}
	return bugs, nil
}

// Charts returns the dashboard chart series.
func (s *Service) Charts(ctx context.Context) (Charts, error) {
	bugs, err := s.bugs(ctx, store.BugListFilter{})
	if err != nil {
		return Charts{}, err
	}
	return ComputeCharts(bugs, s.now()), nil
}

// Board returns the kanban board, optionally limited to one project.
func (s *Service) Board(ctx context.Context, projectID string) (Board, error) {
	bugs, err := s.bugs(ctx, store.BugListFilter{ProjectID: projectID})
	if err != nil {
		return Board{}, err
	}
	return BuildBoard(bugs), nil
}
