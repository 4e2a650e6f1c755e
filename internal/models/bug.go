package models

import "time"

// BugStatus is the workflow state of a bug. The literal values are persisted
// and displayed verbatim.
type BugStatus string

const (
	BugStatusNew        BugStatus = "New"
	BugStatusInProgress BugStatus = "In Progress"
	BugStatusResolved   BugStatus = "Resolved"
	BugStatusClosed     BugStatus = "Closed"
)

// BugStatuses lists every status in board column order.
var BugStatuses = []BugStatus{BugStatusNew, BugStatusInProgress, BugStatusResolved, BugStatusClosed}

// Valid reports whether s is one of the known statuses.
func (s BugStatus) Valid() bool {
	for _, v := range BugStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// BugPriority represents the urgency of a bug.
type BugPriority string

const (
	BugPriorityLow      BugPriority = "Low"
	BugPriorityMedium   BugPriority = "Medium"
	BugPriorityHigh     BugPriority = "High"
	BugPriorityCritical BugPriority = "Critical"
)

// BugPriorities lists every priority from least to most urgent.
var BugPriorities = []BugPriority{BugPriorityLow, BugPriorityMedium, BugPriorityHigh, BugPriorityCritical}

// Valid reports whether p is one of the known priorities.
func (p BugPriority) Valid() bool {
	for _, v := range BugPriorities {
		if p == v {
			return true
		}
	}
	return false
}

// Bug is a tracked defect. ProjectID and AssigneeID are empty when unset.
// The *Name fields are filled on reads for display only.
type Bug struct {
	ID          string      `json:"id"`
	ProjectID   string      `json:"project_id,omitempty"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Priority    BugPriority `json:"priority"`
	Status      BugStatus   `json:"status"`
	ReporterID  string      `json:"reporter_id"`
	AssigneeID  string      `json:"assignee_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`

	ProjectName  string `json:"project_name,omitempty"`
	ReporterName string `json:"reporter_name,omitempty"`
	AssigneeName string `json:"assignee_name,omitempty"`
}

// Comment is a note left on a bug. Comments are append-only.
type Comment struct {
	ID         string    `json:"id"`
	BugID      string    `json:"bug_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// Attachment records a file stored for a bug.
type Attachment struct {
	ID        string    `json:"id"`
	BugID     string    `json:"bug_id"`
	FilePath  string    `json:"file_path"`
	FileName  string    `json:"file_name"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryEntry is one immutable audit record of a single field change.
type HistoryEntry struct {
	ID            string    `json:"id"`
	BugID         string    `json:"bug_id"`
	ChangedBy     string    `json:"changed_by"`
	ChangedByName string    `json:"changed_by_name,omitempty"`
	Field         string    `json:"field"`
	OldValue      string    `json:"old_value"`
	NewValue      string    `json:"new_value"`
	ChangedAt     time.Time `json:"changed_at"`
}

// SearchHit is a bug matched by free-text search with its relevance in [0, 1].
type SearchHit struct {
	Bug       *Bug    `json:"bug"`
	Relevance float64 `json:"relevance"`
}
