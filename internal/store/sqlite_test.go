package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bugsage/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *SQLiteStore, name string) *models.User {
	t.Helper()
	u := &models.User{Name: name, Email: name + "@example.com", PasswordHash: "x", Role: models.RoleDeveloper}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func createTestBug(t *testing.T, s *SQLiteStore, reporter *models.User, title, desc string) *models.Bug {
	t.Helper()
	b := &models.Bug{
		Title:       title,
		Description: desc,
		Priority:    models.BugPriorityMedium,
		Status:      models.BugStatusNew,
		ReporterID:  reporter.ID,
	}
	err := s.InTx(context.Background(), func(tx Tx) error {
		return tx.CreateBug(context.Background(), b)
	})
	require.NoError(t, err)
	return b
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Users and sessions ---

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := createTestUser(t, s, "alice")
	assert.NotEmpty(t, u.ID)
	assert.False(t, u.CreatedAt.IsZero())

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Name)
	assert.Equal(t, models.RoleDeveloper, got.Role)

	got, err = s.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	createTestUser(t, s, "bob")
	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Name)
	assert.Equal(t, "bob", users[1].Name)
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	createTestUser(t, s, "alice")

	err := s.CreateUser(context.Background(), &models.User{
		Name: "other", Email: "alice@example.com", PasswordHash: "x", Role: models.RoleTester,
	})
	assert.Error(t, err, "email must be unique")
}

func TestGetUser_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetUser(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetUserByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "alice")
	now := time.Now().UTC()

	live := &models.Session{Token: "live", UserID: u.ID, ExpiresAt: now.Add(time.Hour)}
	expired := &models.Session{Token: "expired", UserID: u.ID, ExpiresAt: now.Add(-time.Hour)}
	require.NoError(t, s.CreateSession(ctx, live))
	require.NoError(t, s.CreateSession(ctx, expired))

	got, err := s.GetSession(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.UserID)
	assert.WithinDuration(t, live.ExpiresAt, got.ExpiresAt, time.Second)

	n, err := s.DeleteExpiredSessions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetSession(ctx, "expired")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteSession(ctx, "live"))
	_, err = s.GetSession(ctx, "live")
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Project CRUD ---

func TestProjectCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Create
	p := &models.Project{Name: "web", Description: "Public website"}
	err := s.CreateProject(ctx, p)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.False(t, p.CreatedAt.IsZero())

	// Get by ID
	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "web", got.Name)
	assert.Equal(t, "Public website", got.Description)
	assert.Equal(t, 0, got.BugCount)

	// Get by Name
	got, err = s.GetProjectByName(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	// Update
	p.Description = "Marketing site"
	require.NoError(t, s.UpdateProject(ctx, p))
	got, err = s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Marketing site", got.Description)

	// Delete
	require.NoError(t, s.DeleteProject(ctx, p.ID))
	_, err = s.GetProject(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListProjects_BugCountsOrderedByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "alice")

	web := &models.Project{Name: "web"}
	api := &models.Project{Name: "api"}
	require.NoError(t, s.CreateProject(ctx, web))
	require.NoError(t, s.CreateProject(ctx, api))

	createTestBug(t, s, u, "Broken link", "Footer link 404s")
	b := &models.Bug{Title: "Slow page", Description: "Home page slow", Priority: models.BugPriorityLow,
		Status: models.BugStatusNew, ReporterID: u.ID, ProjectID: web.ID}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.CreateBug(ctx, b) }))

	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "api", projects[0].Name)
	assert.Equal(t, 0, projects[0].BugCount)
	assert.Equal(t, "web", projects[1].Name)
	assert.Equal(t, 1, projects[1].BugCount)
}

func TestGetProject_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetProject(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteProject_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.DeleteProject(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateProject_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateProject(context.Background(), &models.Project{ID: "nonexistent", Name: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Bugs ---

func TestBugCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reporter := createTestUser(t, s, "alice")
	assignee := createTestUser(t, s, "bob")
	p := &models.Project{Name: "web"}
	require.NoError(t, s.CreateProject(ctx, p))

	b := &models.Bug{
		ProjectID:   p.ID,
		Title:       "Login fails",
		Description: "Password reset link expired",
		Priority:    models.BugPriorityHigh,
		Status:      models.BugStatusNew,
		ReporterID:  reporter.ID,
		AssigneeID:  assignee.ID,
	}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.CreateBug(ctx, b) }))
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, b.CreatedAt, b.UpdatedAt)

	got, err := s.GetBug(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Login fails", got.Title)
	assert.Equal(t, models.BugPriorityHigh, got.Priority)
	assert.Equal(t, models.BugStatusNew, got.Status)
	assert.Equal(t, "web", got.ProjectName)
	assert.Equal(t, "alice", got.ReporterName)
	assert.Equal(t, "bob", got.AssigneeName)

	// Update a subset of fields and clear the assignee
	title := "Login fails on Safari"
	status := models.BugStatusInProgress
	unassigned := ""
	later := b.UpdatedAt.Add(time.Minute)
	err = s.InTx(ctx, func(tx Tx) error {
		return tx.UpdateBug(ctx, b.ID, BugPatch{Title: &title, Status: &status, AssigneeID: &unassigned}, later)
	})
	require.NoError(t, err)

	got, err = s.GetBug(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, title, got.Title)
	assert.Equal(t, "Password reset link expired", got.Description)
	assert.Equal(t, models.BugStatusInProgress, got.Status)
	assert.Empty(t, got.AssigneeID)
	assert.Empty(t, got.AssigneeName)
	assert.True(t, got.UpdatedAt.Equal(later))

	// Delete
	require.NoError(t, s.DeleteBug(ctx, b.ID))
	_, err = s.GetBug(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateBug_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	title := "x"
	err := s.InTx(ctx, func(tx Tx) error {
		return tx.UpdateBug(ctx, "nonexistent", BugPatch{Title: &title}, time.Now())
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateBug_InvalidStatusRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "alice")

	err := s.InTx(ctx, func(tx Tx) error {
		return tx.CreateBug(ctx, &models.Bug{
			Title: "x", Description: "y", Priority: models.BugPriorityLow,
			Status: models.BugStatus("Reopened"), ReporterID: u.ID,
		})
	})
	assert.Error(t, err)
}

func TestListBugs_FiltersAndPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, s, "alice")
	bob := createTestUser(t, s, "bob")

	for i := 0; i < 5; i++ {
		createTestBug(t, s, alice, "alice bug", "desc")
	}
	createTestBug(t, s, bob, "bob bug", "desc")

	all, err := s.ListBugs(ctx, BugListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 6)
	assert.Equal(t, "bob bug", all[0].Title, "newest first")

	mine, err := s.ListBugs(ctx, BugListFilter{ReporterID: alice.ID})
	require.NoError(t, err)
	assert.Len(t, mine, 5)

	page, err := s.ListBugs(ctx, BugListFilter{Limit: 4, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	n, err := s.CountBugs(ctx, BugListFilter{Status: models.BugStatusNew})
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	n, err = s.CountBugs(ctx, BugListFilter{Status: models.BugStatusClosed})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSearchBugs_RanksByRelevance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "alice")

	exact := createTestBug(t, s, u, "Login button unresponsive", "Clicking login button does nothing")
	partial := createTestBug(t, s, u, "Login page slow", "The page takes ten seconds")
	createTestBug(t, s, u, "Chart colors wrong", "Dashboard chart uses wrong palette")

	hits, err := s.SearchBugs(ctx, "login button unresponsive", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, exact.ID, hits[0].Bug.ID)
	assert.Equal(t, partial.ID, hits[1].Bug.ID)
	assert.Greater(t, hits[0].Relevance, hits[1].Relevance)

	hits, err = s.SearchBugs(ctx, "login", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSearchBugs_NoTerms(t *testing.T) {
	s := newTestStore(t)
	hits, err := s.SearchBugs(context.Background(), "the a of", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchBugs_FollowsTitleUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "alice")
	b := createTestBug(t, s, u, "Crash on startup", "App exits immediately")

	title := "Freeze on startup"
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		return tx.UpdateBug(ctx, b.ID, BugPatch{Title: &title}, time.Now())
	}))

	hits, err := s.SearchBugs(ctx, "crash", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.SearchBugs(ctx, "freeze", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, b.ID, hits[0].Bug.ID)

	require.NoError(t, s.DeleteBug(ctx, b.ID))
	hits, err = s.SearchBugs(ctx, "freeze", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// --- History, comments, attachments ---

func TestHistory_AppendOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "alice")
	b := createTestBug(t, s, u, "Crash", "desc")

	at := time.Now().UTC()
	err := s.InTx(ctx, func(tx Tx) error {
		last, err := tx.LastHistoryAt(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, last.IsZero())

		for i, field := range []string{"status", "priority", "title"} {
			if err := tx.AppendHistory(ctx, &models.HistoryEntry{
				BugID: b.ID, ChangedBy: u.ID, Field: field,
				OldValue: "old", NewValue: "new", ChangedAt: at.Add(time.Duration(i) * time.Millisecond),
			}); err != nil {
				return err
			}
		}
		last, err = tx.LastHistoryAt(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, last.Equal(at.Add(2*time.Millisecond)))
		return nil
	})
	require.NoError(t, err)

	entries, err := s.ListHistory(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "status", entries[0].Field)
	assert.Equal(t, "priority", entries[1].Field)
	assert.Equal(t, "title", entries[2].Field)
	assert.Equal(t, "alice", entries[0].ChangedByName)
}

func TestInTx_RollbackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "alice")
	b := createTestBug(t, s, u, "Crash", "desc")

	boom := errors.New("boom")
	status := models.BugStatusResolved
	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.UpdateBug(ctx, b.ID, BugPatch{Status: &status}, time.Now()); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, &models.HistoryEntry{
			BugID: b.ID, ChangedBy: u.ID, Field: "status", OldValue: "New", NewValue: "Resolved", ChangedAt: time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetBug(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BugStatusNew, got.Status)

	entries, err := s.ListHistory(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestComments_Ascending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "alice")
	b := createTestBug(t, s, u, "Crash", "desc")

	base := time.Now().UTC()
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		if err := tx.CreateComment(ctx, &models.Comment{BugID: b.ID, AuthorID: u.ID, Text: "second", CreatedAt: base.Add(time.Second)}); err != nil {
			return err
		}
		return tx.CreateComment(ctx, &models.Comment{BugID: b.ID, AuthorID: u.ID, Text: "first", CreatedAt: base})
	}))

	comments, err := s.ListComments(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Text)
	assert.Equal(t, "second", comments[1].Text)
	assert.Equal(t, "alice", comments[0].AuthorName)
}

func TestBugCascadeDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "alice")
	b := createTestBug(t, s, u, "Crash", "desc")

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		if err := tx.CreateComment(ctx, &models.Comment{BugID: b.ID, AuthorID: u.ID, Text: "hi"}); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, &models.HistoryEntry{BugID: b.ID, ChangedBy: u.ID, Field: "status", ChangedAt: time.Now()})
	}))
	require.NoError(t, s.CreateAttachment(ctx, &models.Attachment{BugID: b.ID, FilePath: "/tmp/x.png", FileName: "x.png"}))

	require.NoError(t, s.DeleteBug(ctx, b.ID))

	comments, err := s.ListComments(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, comments)

	attachments, err := s.ListAttachments(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, attachments)

	entries, err := s.ListHistory(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteProject_UnlinksBugs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "alice")
	p := &models.Project{Name: "web"}
	require.NoError(t, s.CreateProject(ctx, p))

	b := &models.Bug{Title: "x", Description: "y", Priority: models.BugPriorityLow, Status: models.BugStatusNew, ReporterID: u.ID, ProjectID: p.ID}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.CreateBug(ctx, b) }))

	require.NoError(t, s.DeleteProject(ctx, p.ID))

	got, err := s.GetBug(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ProjectID)
}

func TestTxExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "alice")
	p := &models.Project{Name: "web"}
	require.NoError(t, s.CreateProject(ctx, p))

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		ok, err := tx.UserExists(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.UserExists(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = tx.ProjectExists(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))
}
