package lifecycle

import (
	"strings"

	"github.com/joescharf/bugsage/internal/apperr"
	"github.com/joescharf/bugsage/internal/models"
)

// Field names a bug field that updates may change. The values double as the
// history field names and the accepted JSON keys.
type Field string

const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldPriority    Field = "priority"
	FieldStatus      Field = "status"
	FieldAssignee    Field = "assignee_id"
)

// Fields lists every updatable field in the order changes are applied and
// recorded.
var Fields = []Field{FieldTitle, FieldDescription, FieldPriority, FieldStatus, FieldAssignee}

// Changeset is a typed partial update. Nil fields are not part of the update.
// An empty AssigneeID unassigns the bug.
type Changeset struct {
	Title       *string
	Description *string
	Priority    *models.BugPriority
	Status      *models.BugStatus
	AssigneeID  *string
}

// Empty reports whether no field is set.
func (c Changeset) Empty() bool {
	return c.Title == nil && c.Description == nil && c.Priority == nil && c.Status == nil && c.AssigneeID == nil
}

// Validate normalizes and checks every set field.
func (c *Changeset) Validate() error {
	if c.Empty() {
		return apperr.Validation("no fields to update")
	}
	if c.Title != nil {
		t := strings.TrimSpace(*c.Title)
		if t == "" {
			return apperr.Validation("title cannot be empty")
		}
		c.Title = &t
	}
	if c.Description != nil {
		d := strings.TrimSpace(*c.Description)
		if d == "" {
			return apperr.Validation("description cannot be empty")
		}
		c.Description = &d
	}
	if c.Priority != nil && !c.Priority.Valid() {
		return apperr.Validation("invalid priority %q", *c.Priority)
	}
	if c.Status != nil && !c.Status.Valid() {
		return apperr.Validation("invalid status %q", *c.Status)
	}
	if c.AssigneeID != nil {
		a := strings.TrimSpace(*c.AssigneeID)
		c.AssigneeID = &a
	}
	return nil
}

// ParseChanges builds a validated Changeset from decoded JSON. Unknown keys
// are ignored. A null assignee_id unassigns the bug.
func ParseChanges(raw map[string]any) (Changeset, error) {
	var c Changeset
	for _, f := range Fields {
		v, ok := raw[string(f)]
		if !ok {
			continue
		}
		if f == FieldAssignee && v == nil {
			empty := ""
			c.AssigneeID = &empty
			continue
		}
		s, ok := v.(string)
		if !ok {
			return Changeset{}, apperr.Validation("%s must be a string", f)
		}
		switch f {
		case FieldTitle:
			c.Title = &s
		case FieldDescription:
			c.Description = &s
		case FieldPriority:
			p := models.BugPriority(s)
			c.Priority = &p
		case FieldStatus:
			st := models.BugStatus(s)
			c.Status = &st
		case FieldAssignee:
			c.AssigneeID = &s
		}
	}
	if err := c.Validate(); err != nil {
		return Changeset{}, err
	}
	return c, nil
}

// ParseStringChanges is ParseChanges for flag-style input where every value
// is text.
func ParseStringChanges(raw map[string]string) (Changeset, error) {
	m := make(map[string]any, len(raw))
	for k, v := range raw {
		m[k] = v
	}
	return ParseChanges(m)
}

// fieldChange is one field whose proposed value differs from the current one.
type fieldChange struct {
	field    Field
	oldValue string
	newValue string
}

// diff returns the fields of c whose values differ from bug, in Fields order.
func (c Changeset) diff(bug *models.Bug) []fieldChange {
	var changes []fieldChange
	add := func(f Field, oldValue, newValue string) {
		if oldValue != newValue {
			changes = append(changes, fieldChange{field: f, oldValue: oldValue, newValue: newValue})
		}
	}
	if c.Title != nil {
		add(FieldTitle, bug.Title, *c.Title)
	}
	if c.Description != nil {
		add(FieldDescription, bug.Description, *c.Description)
	}
	if c.Priority != nil {
		add(FieldPriority, string(bug.Priority), string(*c.Priority))
	}
	if c.Status != nil {
		add(FieldStatus, string(bug.Status), string(*c.Status))
	}
	if c.AssigneeID != nil {
		add(FieldAssignee, bug.AssigneeID, *c.AssigneeID)
	}
	return changes
}

// CanTransition reports whether a bug may move from one status to another.
// Every edge between known statuses is currently allowed.
func CanTransition(from, to models.BugStatus) bool {
	return from.Valid() && to.Valid()
}
