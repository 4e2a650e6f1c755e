// Package lifecycle applies creations, field updates, status transitions and
// comments to bugs, recording one audit entry per changed field in the same
// transaction as the change.
package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/joescharf/bugsage/internal/apperr"
	"github.com/joescharf/bugsage/internal/duplicate"
	"github.com/joescharf/bugsage/internal/models"
	"github.com/joescharf/bugsage/internal/store"
)

// historyStep separates audit entries written within the same instant.
const historyStep = time.Microsecond

// DuplicateFinder screens a proposed bug for likely duplicates.
type DuplicateFinder interface {
	FindDuplicates(ctx context.Context, title, description string) ([]duplicate.Candidate, error)
}

// Engine is the only writer of bugs and their history.
type Engine struct {
	store      store.Store
	duplicates DuplicateFinder
	now        func() time.Time
}

// NewEngine returns an Engine. A nil finder disables duplicate screening.
func NewEngine(s store.Store, finder DuplicateFinder) *Engine {
	return &Engine{store: s, duplicates: finder, now: time.Now}
}

// CreateRequest describes a bug to report.
type CreateRequest struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Priority    models.BugPriority `json:"priority,omitempty"`
	ProjectID   string             `json:"project_id,omitempty"`
	AssigneeID  string             `json:"assignee_id,omitempty"`
	Force       bool               `json:"force,omitempty"`
}

// CreateResult is either a created bug or, when screening found likely
// duplicates, the candidates awaiting confirmation.
type CreateResult struct {
	Bug        *models.Bug           `json:"bug,omitempty"`
	Duplicates []duplicate.Candidate `json:"duplicates,omitempty"`
}

// NeedsConfirmation reports whether creation was held back by duplicates.
func (r *CreateResult) NeedsConfirmation() bool {
	return r.Bug == nil && len(r.Duplicates) > 0
}

// UpdateResult is the bug after an update and the audit entries it produced.
// History is empty when every proposed value matched the current one.
type UpdateResult struct {
	Bug     *models.Bug            `json:"bug"`
	History []*models.HistoryEntry `json:"history"`
}

// Changed reports whether the update modified the bug.
func (r *UpdateResult) Changed() bool {
	return len(r.History) > 0
}

// BugDetail is a bug with everything attached to it.
type BugDetail struct {
	Bug         *models.Bug            `json:"bug"`
	Comments    []*models.Comment      `json:"comments"`
	Attachments []*models.Attachment   `json:"attachments"`
	History     []*models.HistoryEntry `json:"history"`
}

// classify maps a store error onto the error taxonomy.
func classify(msg string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != 0 {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		return &apperr.Error{Kind: apperr.KindNotFound, Msg: msg, Err: err}
	}
	return apperr.Persistence(msg, err)
}

func requireActor(actor models.Identity) error {
	if actor.UserID == "" {
		return apperr.Authorization("authentication required")
	}
	return nil
}

// CreateBug reports a new bug as actor. Unless req.Force is set, likely
// duplicates are returned instead of creating the bug.
func (e *Engine) CreateBug(ctx context.Context, actor models.Identity, req CreateRequest) (*CreateResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	description := strings.TrimSpace(req.Description)
	if title == "" {
		return nil, apperr.Validation("title is required")
	}
	if description == "" {
		return nil, apperr.Validation("description is required")
	}
	priority := req.Priority
	if priority == "" {
		priority = models.BugPriorityMedium
	}
	if !priority.Valid() {
		return nil, apperr.Validation("invalid priority %q", priority)
	}
	projectID := strings.TrimSpace(req.ProjectID)
	assigneeID := strings.TrimSpace(req.AssigneeID)

	if !req.Force && e.duplicates != nil {
		candidates, err := e.duplicates.FindDuplicates(ctx, title, description)
		if err != nil {
			return nil, apperr.Persistence("check duplicates", err)
		}
		if len(candidates) > 0 {
			return &CreateResult{Duplicates: candidates}, nil
		}
	}

	now := e.now().UTC()
	bug := &models.Bug{
		ProjectID:   projectID,
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      models.BugStatusNew,
		ReporterID:  actor.UserID,
		AssigneeID:  assigneeID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := e.store.InTx(ctx, func(tx store.Tx) error {
		if ok, err := tx.UserExists(ctx, actor.UserID); err != nil {
			return err
		} else if !ok {
			return apperr.Validation("unknown reporter %s", actor.UserID)
		}
		if projectID != "" {
			if ok, err := tx.ProjectExists(ctx, projectID); err != nil {
				return err
			} else if !ok {
				return apperr.Validation("unknown project %s", projectID)
			}
		}
		if assigneeID != "" {
			if ok, err := tx.UserExists(ctx, assigneeID); err != nil {
				return err
			} else if !ok {
				return apperr.Validation("unknown assignee %s", assigneeID)
			}
		}
		return tx.CreateBug(ctx, bug)
	})
	if err != nil {
		return nil, classify("create bug", err)
	}

	created, err := e.store.GetBug(ctx, bug.ID)
	if err != nil {
		return nil, classify("load bug", err)
	}
	return &CreateResult{Bug: created}, nil
}

// UpdateBug applies changes to a bug as actor. Fields whose proposed value
// equals the current one are skipped; if none differ the call succeeds
// without touching the bug.
func (e *Engine) UpdateBug(ctx context.Context, actor models.Identity, bugID string, changes Changeset) (*UpdateResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := changes.Validate(); err != nil {
		return nil, err
	}

	var history []*models.HistoryEntry
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		bug, err := tx.GetBug(ctx, bugID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("bug %s not found", bugID)
			}
			return err
		}

		diffs := changes.diff(bug)
		if len(diffs) == 0 {
			return nil
		}

		var patch store.BugPatch
		for _, d := range diffs {
			switch d.field {
			case FieldTitle:
				patch.Title = changes.Title
			case FieldDescription:
				patch.Description = changes.Description
			case FieldPriority:
				patch.Priority = changes.Priority
			case FieldStatus:
				if !CanTransition(bug.Status, *changes.Status) {
					return apperr.Validation("cannot move bug from %s to %s", bug.Status, *changes.Status)
				}
				patch.Status = changes.Status
			case FieldAssignee:
				if d.newValue != "" {
					ok, err := tx.UserExists(ctx, d.newValue)
					if err != nil {
						return err
					}
					if !ok {
						return apperr.Validation("unknown assignee %s", d.newValue)
					}
				}
				patch.AssigneeID = changes.AssigneeID
			}
		}

		at, err := e.nextHistoryTime(ctx, tx, bug)
		if err != nil {
			return err
		}
		entries := make([]*models.HistoryEntry, 0, len(diffs))
		for i, d := range diffs {
			entries = append(entries, &models.HistoryEntry{
				BugID:         bugID,
				ChangedBy:     actor.UserID,
				ChangedByName: actor.Name,
				Field:         string(d.field),
				OldValue:      d.oldValue,
				NewValue:      d.newValue,
				ChangedAt:     at.Add(time.Duration(i) * historyStep),
			})
		}
		updatedAt := entries[len(entries)-1].ChangedAt

		if err := tx.UpdateBug(ctx, bugID, patch, updatedAt); err != nil {
			return err
		}
		for _, entry := range entries {
			if err := tx.AppendHistory(ctx, entry); err != nil {
				return err
			}
		}
		history = entries
		return nil
	})
	if err != nil {
		return nil, classify("update bug", err)
	}

	bug, err := e.store.GetBug(ctx, bugID)
	if err != nil {
		return nil, classify("load bug", err)
	}
	return &UpdateResult{Bug: bug, History: history}, nil
}

// nextHistoryTime returns now, or just after the bug's latest change when the
// clock has not moved past it.
func (e *Engine) nextHistoryTime(ctx context.Context, tx store.Tx, bug *models.Bug) (time.Time, error) {
	now := e.now().UTC()
	last, err := tx.LastHistoryAt(ctx, bug.ID)
	if err != nil {
		return time.Time{}, err
	}
	if bug.UpdatedAt.After(last) {
		last = bug.UpdatedAt
	}
	if !now.After(last) {
		now = last.UTC().Add(historyStep)
	}
	return now, nil
}

// TransitionStatus moves a bug to status. Moving a bug to the status it
// already has succeeds without recording anything.
func (e *Engine) TransitionStatus(ctx context.Context, actor models.Identity, bugID string, status models.BugStatus) (*UpdateResult, error) {
	return e.UpdateBug(ctx, actor, bugID, Changeset{Status: &status})
}

// AddComment appends a comment to a bug. Comments do not produce history and
// leave updated_at alone.
func (e *Engine) AddComment(ctx context.Context, actor models.Identity, bugID, text string) (*models.Comment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation("comment cannot be empty")
	}

	c := &models.Comment{
		BugID:      bugID,
		AuthorID:   actor.UserID,
		AuthorName: actor.Name,
		Text:       text,
		CreatedAt:  e.now().UTC(),
	}
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetBug(ctx, bugID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("bug %s not found", bugID)
			}
			return err
		}
		return tx.CreateComment(ctx, c)
	})
	if err != nil {
		return nil, classify("add comment", err)
	}
	return c, nil
}

// AddAttachment records a stored file against a bug.
func (e *Engine) AddAttachment(ctx context.Context, actor models.Identity, bugID, filePath, fileName string) (*models.Attachment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if _, err := e.store.GetBug(ctx, bugID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("bug %s not found", bugID)
		}
		return nil, classify("load bug", err)
	}
	a := &models.Attachment{BugID: bugID, FilePath: filePath, FileName: fileName}
	if err := e.store.CreateAttachment(ctx, a); err != nil {
		return nil, classify("add attachment", err)
	}
	return a, nil
}

// GetBugWithHistory returns a bug with its comments and attachments in the
// order they were added and its history in append order.
func (e *Engine) GetBugWithHistory(ctx context.Context, bugID string) (*BugDetail, error) {
	bug, err := e.store.GetBug(ctx, bugID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("bug %s not found", bugID)
		}
		return nil, classify("load bug", err)
	}

	comments, err := e.store.ListComments(ctx, bugID)
	if err != nil {
		return nil, classify("list comments", err)
	}
	attachments, err := e.store.ListAttachments(ctx, bugID)
	if err != nil {
		return nil, classify("list attachments", err)
	}
	history, err := e.store.ListHistory(ctx, bugID)
	if err != nil {
		return nil, classify("list history", err)
	}

	return &BugDetail{
		Bug:         bug,
		Comments:    nonNil(comments),
		Attachments: nonNil(attachments),
		History:     nonNil(history),
	}, nil
}

// FindBug resolves a full bug ID or a unique, case-insensitive prefix of one.
func (e *Engine) FindBug(ctx context.Context, ref string) (*models.Bug, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperr.Validation("bug ID is required")
	}
	bug, err := e.store.GetBug(ctx, ref)
	if err == nil {
		return bug, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, classify("load bug", err)
	}

	upper := strings.ToUpper(ref)
	bugs, err := e.store.ListBugs(ctx, store.BugListFilter{})
	if err != nil {
		return nil, classify("list bugs", err)
	}
	var matches []*models.Bug
	for _, b := range bugs {
		if strings.HasPrefix(b.ID, upper) {
			matches = append(matches, b)
		}
	}

	switch len(matches) {
	case 0:
		return nil, apperr.NotFound("bug %s not found", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, apperr.Validation("ambiguous bug ID %s: matches %d bugs", ref, len(matches))
	}
}

// History returns a bug's audit log in append order.
func (e *Engine) History(ctx context.Context, bugID string) ([]*models.HistoryEntry, error) {
	if _, err := e.store.GetBug(ctx, bugID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("bug %s not found", bugID)
		}
		return nil, classify("load bug", err)
	}
	history, err := e.store.ListHistory(ctx, bugID)
	if err != nil {
		return nil, classify("list history", err)
	}
	return nonNil(history), nil
}

// DeleteBug removes a bug along with its comments, attachments and history.
// Only admins may delete.
func (e *Engine) DeleteBug(ctx context.Context, actor models.Identity, bugID string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if actor.Role != models.RoleAdmin {
		return apperr.Authorization("only admins can delete bugs")
	}
	if err := e.store.DeleteBug(ctx, bugID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("bug %s not found", bugID)
		}
		return classify("delete bug", err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
