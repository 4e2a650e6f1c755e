// Package duplicate screens proposed bugs against existing ones by text
// relevance.
package duplicate

import (
	"context"
	"fmt"
	"strings"

	"github.com/joescharf/bugsage/internal/models"
)

const (
	// DefaultThreshold is the relevance a match must exceed to be reported.
	DefaultThreshold = 0.5
	// DefaultLimit caps the number of candidates returned.
	DefaultLimit = 5
)

// Searcher ranks existing bugs by relevance to free text, best match first.
type Searcher interface {
	SearchBugs(ctx context.Context, text string, limit int) ([]models.SearchHit, error)
}

// Candidate is an existing bug that looks like the one being reported.
type Candidate struct {
	BugID     string           `json:"id"`
	Title     string           `json:"title"`
	Status    models.BugStatus `json:"status"`
	Relevance float64          `json:"relevance"`
}

// Detector finds likely duplicates of a proposed bug.
type Detector struct {
	searcher  Searcher
	threshold float64
	limit     int
}

// NewDetector returns a Detector backed by s. Non-positive threshold or limit
// fall back to the defaults.
func NewDetector(s Searcher, threshold float64, limit int) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Detector{searcher: s, threshold: threshold, limit: limit}
}

// FindDuplicates returns existing bugs whose relevance to title and
// description exceeds the threshold, most relevant first.
func (d *Detector) FindDuplicates(ctx context.Context, title, description string) ([]Candidate, error) {
	query := strings.TrimSpace(title + " " + description)
	if query == "" {
		return nil, nil
	}

	hits, err := d.searcher.SearchBugs(ctx, query, d.limit)
	if err != nil {
		return nil, fmt.Errorf("search duplicates: %w", err)
	}

	var candidates []Candidate
	for _, h := range hits {
		if h.Relevance <= d.threshold {
			continue
		}
		candidates = append(candidates, Candidate{
			BugID:     h.Bug.ID,
			Title:     h.Bug.Title,
			Status:    h.Bug.Status,
			Relevance: h.Relevance,
		})
		if len(candidates) == d.limit {
			break
		}
	}
	return candidates, nil
}
