package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bugsage/internal/apperr"
	"github.com/joescharf/bugsage/internal/models"
)

func TestParseChanges_KnownFields(t *testing.T) {
	c, err := ParseChanges(map[string]any{
		"title":       "  New title ",
		"description": "details",
		"priority":    "Critical",
		"status":      "Resolved",
		"assignee_id": "u1",
		"reporter_id": "ignored",
		"created_at":  "ignored",
	})
	require.NoError(t, err)
	require.NotNil(t, c.Title)
	assert.Equal(t, "New title", *c.Title)
	assert.Equal(t, "details", *c.Description)
	assert.Equal(t, models.BugPriorityCritical, *c.Priority)
	assert.Equal(t, models.BugStatusResolved, *c.Status)
	assert.Equal(t, "u1", *c.AssigneeID)
}

func TestParseChanges_NullAssigneeUnassigns(t *testing.T) {
	c, err := ParseChanges(map[string]any{"assignee_id": nil})
	require.NoError(t, err)
	require.NotNil(t, c.AssigneeID)
	assert.Equal(t, "", *c.AssigneeID)
}

func TestParseChanges_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"empty", map[string]any{}},
		{"nil", nil},
		{"only unknown keys", map[string]any{"severity": "High"}},
		{"non-string title", map[string]any{"title": 42}},
		{"null title", map[string]any{"title": nil}},
		{"bad status", map[string]any{"status": "Reopened"}},
		{"lowercase status", map[string]any{"status": "new"}},
		{"bad priority", map[string]any{"priority": "Urgent"}},
		{"blank description", map[string]any{"description": "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChanges(tt.raw)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestParseStringChanges(t *testing.T) {
	c, err := ParseStringChanges(map[string]string{"status": "In Progress"})
	require.NoError(t, err)
	assert.Equal(t, models.BugStatusInProgress, *c.Status)
	assert.Nil(t, c.Title)
}

func TestChangesetDiff(t *testing.T) {
	bug := &models.Bug{
		Title:       "same",
		Description: "old",
		Priority:    models.BugPriorityLow,
		Status:      models.BugStatusNew,
	}
	title, desc, assignee := "same", "new", "u1"
	prio := models.BugPriorityLow
	status := models.BugStatusClosed
	c := Changeset{Title: &title, Description: &desc, Priority: &prio, Status: &status, AssigneeID: &assignee}

	diffs := c.diff(bug)
	require.Len(t, diffs, 3)
	assert.Equal(t, fieldChange{FieldDescription, "old", "new"}, diffs[0])
	assert.Equal(t, fieldChange{FieldStatus, "New", "Closed"}, diffs[1])
	assert.Equal(t, fieldChange{FieldAssignee, "", "u1"}, diffs[2])
}

func TestCanTransition_AllEdges(t *testing.T) {
	for _, from := range models.BugStatuses {
		for _, to := range models.BugStatuses {
			assert.True(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, CanTransition(models.BugStatusNew, "Done"))
}
