package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bugsage/internal/duplicate"
	"github.com/joescharf/bugsage/internal/lifecycle"
	"github.com/joescharf/bugsage/internal/models"
	"github.com/joescharf/bugsage/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	u := &models.User{Name: "Agent", Email: "agent@example.com", PasswordHash: "x", Role: models.RoleDeveloper}
	require.NoError(t, s.CreateUser(context.Background(), u))

	engine := lifecycle.NewEngine(s, duplicate.NewDetector(s, 0, 0))
	return NewServer(s, engine, models.IdentityOf(u), "test"), s
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target), "failed to parse result JSON: %s", text)
}

func seedBug(t *testing.T, srv *Server, title, description string) *models.Bug {
	t.Helper()
	res, err := srv.handleCreateBug(context.Background(), callToolReq("bugsage_create_bug", map[string]any{
		"title":       title,
		"description": description,
		"force":       true,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	var bug models.Bug
	resultJSON(t, res, &bug)
	return &bug
}

func TestMCPServer_RegistersTools(t *testing.T) {
	srv, _ := newTestServer(t)
	require.NotNil(t, srv.MCPServer())
}

func TestHandleListProjects_Empty(t *testing.T) {
	srv, _ := newTestServer(t)
	res, err := srv.handleListProjects(context.Background(), callToolReq("bugsage_list_projects", nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "[]", resultText(t, res))
}

func TestHandleCreateBug(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.CreateProject(ctx, &models.Project{Name: "web"}))

	res, err := srv.handleCreateBug(ctx, callToolReq("bugsage_create_bug", map[string]any{
		"title":       "Login button broken",
		"description": "Clicking login does nothing",
		"priority":    "High",
		"project":     "web",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	var bug models.Bug
	resultJSON(t, res, &bug)
	assert.Equal(t, models.BugPriorityHigh, bug.Priority)
	assert.Equal(t, models.BugStatusNew, bug.Status)
	assert.Equal(t, srv.actor.UserID, bug.ReporterID)
	assert.Equal(t, "web", bug.ProjectName)
}

func TestHandleCreateBug_Duplicates(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	first := seedBug(t, srv, "Login button broken", "Clicking login does nothing")

	res, err := srv.handleCreateBug(ctx, callToolReq("bugsage_create_bug", map[string]any{
		"title":       "Login button broken",
		"description": "Clicking login does nothing at all",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var out struct {
		Warning    string `json:"warning"`
		Duplicates []struct {
			ID string `json:"id"`
		} `json:"duplicates"`
	}
	resultJSON(t, res, &out)
	assert.Equal(t, "Potential duplicates found", out.Warning)
	require.Len(t, out.Duplicates, 1)
	assert.Equal(t, first.ID, out.Duplicates[0].ID)

	n, err := s.CountBugs(ctx, store.BugListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandleCreateBug_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing title", map[string]any{"description": "d"}},
		{"missing description", map[string]any{"title": "t"}},
		{"bad priority", map[string]any{"title": "t", "description": "d", "priority": "Urgent"}},
		{"unknown project", map[string]any{"title": "t", "description": "d", "project": "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := srv.handleCreateBug(context.Background(), callToolReq("bugsage_create_bug", tt.args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
		})
	}
}

func TestHandleListBugs_Filters(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	a := seedBug(t, srv, "Crash on start", "app exits immediately")
	seedBug(t, srv, "Footer typo", "spelling mistake")

	_, err := srv.handleTransitionStatus(ctx, callToolReq("bugsage_transition_status", map[string]any{
		"bug_id": a.ID, "status": "Resolved",
	}))
	require.NoError(t, err)

	res, err := srv.handleListBugs(ctx, callToolReq("bugsage_list_bugs", map[string]any{"status": "Resolved"}))
	require.NoError(t, err)
	var bugs []models.Bug
	resultJSON(t, res, &bugs)
	require.Len(t, bugs, 1)
	assert.Equal(t, a.ID, bugs[0].ID)

	res, err = srv.handleListBugs(ctx, callToolReq("bugsage_list_bugs", map[string]any{"limit": float64(1)}))
	require.NoError(t, err)
	resultJSON(t, res, &bugs)
	assert.Len(t, bugs, 1)

	res, err = srv.handleListBugs(ctx, callToolReq("bugsage_list_bugs", map[string]any{"status": "Done"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleUpdateBug(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	bug := seedBug(t, srv, "Crash on start", "app exits immediately")

	res, err := srv.handleUpdateBug(ctx, callToolReq("bugsage_update_bug", map[string]any{
		"bug_id":      bug.ID,
		"priority":    "Critical",
		"assignee_id": srv.actor.UserID,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	var out struct {
		Bug     models.Bug            `json:"bug"`
		History []models.HistoryEntry `json:"history"`
	}
	resultJSON(t, res, &out)
	assert.Equal(t, models.BugPriorityCritical, out.Bug.Priority)
	assert.Equal(t, srv.actor.UserID, out.Bug.AssigneeID)
	require.Len(t, out.History, 2)
	assert.Equal(t, "priority", out.History[0].Field)
	assert.Equal(t, "assignee_id", out.History[1].Field)

	res, err = srv.handleUpdateBug(ctx, callToolReq("bugsage_update_bug", map[string]any{
		"bug_id": bug.ID, "assignee_id": "",
	}))
	require.NoError(t, err)
	var cleared struct {
		Bug models.Bug `json:"bug"`
	}
	resultJSON(t, res, &cleared)
	assert.Empty(t, cleared.Bug.AssigneeID)

	res, err = srv.handleUpdateBug(ctx, callToolReq("bugsage_update_bug", map[string]any{"bug_id": bug.ID}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleTransitionStatus_ByPrefix(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	bug := seedBug(t, srv, "Crash on start", "app exits immediately")

	res, err := srv.handleTransitionStatus(ctx, callToolReq("bugsage_transition_status", map[string]any{
		"bug_id": strings.ToLower(bug.ID[:20]),
		"status": "In Progress",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	res, err = srv.handleBugHistory(ctx, callToolReq("bugsage_bug_history", map[string]any{"bug_id": bug.ID}))
	require.NoError(t, err)
	var history []models.HistoryEntry
	resultJSON(t, res, &history)
	require.Len(t, history, 1)
	assert.Equal(t, "New", history[0].OldValue)
	assert.Equal(t, "In Progress", history[0].NewValue)
	assert.Equal(t, srv.actor.UserID, history[0].ChangedBy)
}

func TestHandleTransitionStatus_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	bug := seedBug(t, srv, "Crash on start", "app exits immediately")

	res, err := srv.handleTransitionStatus(ctx, callToolReq("bugsage_transition_status", map[string]any{
		"bug_id": bug.ID, "status": "Reopened",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = srv.handleTransitionStatus(ctx, callToolReq("bugsage_transition_status", map[string]any{
		"bug_id": "ZZZZ", "status": "Closed",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "bug not found")
}

func TestHandleAddCommentAndGetBug(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	bug := seedBug(t, srv, "Crash on start", "app exits immediately")

	res, err := srv.handleAddComment(ctx, callToolReq("bugsage_add_comment", map[string]any{
		"bug_id": bug.ID, "text": "Seen on Linux too",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	res, err = srv.handleGetBug(ctx, callToolReq("bugsage_get_bug", map[string]any{"bug_id": bug.ID}))
	require.NoError(t, err)
	var detail struct {
		Bug      models.Bug       `json:"bug"`
		Comments []models.Comment `json:"comments"`
	}
	resultJSON(t, res, &detail)
	assert.Equal(t, bug.ID, detail.Bug.ID)
	require.Len(t, detail.Comments, 1)
	assert.Equal(t, "Agent", detail.Comments[0].AuthorName)

	res, err = srv.handleAddComment(ctx, callToolReq("bugsage_add_comment", map[string]any{"bug_id": bug.ID}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleSearchBugs(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	seedBug(t, srv, "Crash on start", "app exits immediately")
	seedBug(t, srv, "Footer typo", "spelling mistake")

	res, err := srv.handleSearchBugs(ctx, callToolReq("bugsage_search_bugs", map[string]any{"query": "crash"}))
	require.NoError(t, err)
	var hits []models.SearchHit
	resultJSON(t, res, &hits)
	require.Len(t, hits, 1)
	assert.Equal(t, "Crash on start", hits[0].Bug.Title)

	res, err = srv.handleSearchBugs(ctx, callToolReq("bugsage_search_bugs", map[string]any{"query": " "}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
