package store

import (
	"context"
	"errors"
	"time"

	"github.com/joescharf/bugsage/internal/models"
)

// ErrNotFound is wrapped by every lookup that finds no row.
var ErrNotFound = errors.New("not found")

// BugListFilter specifies filters for listing bugs. Zero values match all.
// Limit <= 0 means no limit.
type BugListFilter struct {
	ProjectID  string
	Status     models.BugStatus
	Priority   models.BugPriority
	AssigneeID string
	ReporterID string
	Limit      int
	Offset     int
}

// BugPatch is the column-level update written for a bug. Nil fields are left
// unchanged; an empty AssigneeID clears the assignee.
type BugPatch struct {
	Title       *string
	Description *string
	Priority    *models.BugPriority
	Status      *models.BugStatus
	AssigneeID  *string
}

// Empty reports whether the patch changes nothing.
func (p BugPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil && p.Status == nil && p.AssigneeID == nil
}

// Tx is the write surface available inside a transaction. Everything done
// through one Tx commits or rolls back together.
type Tx interface {
	GetBug(ctx context.Context, id string) (*models.Bug, error)
	CreateBug(ctx context.Context, bug *models.Bug) error
	UpdateBug(ctx context.Context, id string, patch BugPatch, updatedAt time.Time) error
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error
	LastHistoryAt(ctx context.Context, bugID string) (time.Time, error)
	CreateComment(ctx context.Context, c *models.Comment) error
	UserExists(ctx context.Context, id string) (bool, error)
	CountUsers(ctx context.Context) (int, error)
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ProjectExists(ctx context.Context, id string) (bool, error)
}

// Store defines the persistence interface for bugsage.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)

	// Sessions
	CreateSession(ctx context.Context, sess *models.Session) error
	GetSession(ctx context.Context, token string) (*models.Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
	DeleteProject(ctx context.Context, id string) error

	// Bugs
	GetBug(ctx context.Context, id string) (*models.Bug, error)
	ListBugs(ctx context.Context, filter BugListFilter) ([]*models.Bug, error)
	CountBugs(ctx context.Context, filter BugListFilter) (int, error)
	SearchBugs(ctx context.Context, text string, limit int) ([]models.SearchHit, error)
	DeleteBug(ctx context.Context, id string) error

	// Comments, attachments, history
	ListComments(ctx context.Context, bugID string) ([]*models.Comment, error)
	CreateAttachment(ctx context.Context, a *models.Attachment) error
	ListAttachments(ctx context.Context, bugID string) ([]*models.Attachment, error)
	ListHistory(ctx context.Context, bugID string) ([]*models.HistoryEntry, error)

	// InTx runs fn inside a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
