package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/bugsage/internal/lifecycle"
	"github.com/joescharf/bugsage/internal/models"
	"github.com/joescharf/bugsage/internal/project"
	"github.com/joescharf/bugsage/internal/store"
)

// defaultListLimit caps bugsage_list_bugs when no limit is given.
const defaultListLimit = 50

// Server exposes the bug tracker as MCP tools. Every write is performed as
// the configured actor.
type Server struct {
	store    store.Store
	engine   *lifecycle.Engine
	projects *project.Service
	actor    models.Identity
	version  string
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, engine *lifecycle.Engine, actor models.Identity, version string) *Server {
	return &Server{
		store:    s,
		engine:   engine,
		projects: project.NewService(s),
		actor:    actor,
		version:  version,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("bugsage", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listProjectsTool())
	srv.AddTool(s.listBugsTool())
	srv.AddTool(s.getBugTool())
	srv.AddTool(s.createBugTool())
	srv.AddTool(s.updateBugTool())
	srv.AddTool(s.transitionStatusTool())
	srv.AddTool(s.addCommentTool())
	srv.AddTool(s.bugHistoryTool())
	srv.AddTool(s.searchBugsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// bugsage_list_projects
func (s *Server) listProjectsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bugsage_list_projects",
		mcp.WithDescription("List all projects with their bug counts. Returns a JSON array."),
	)
	return tool, s.handleListProjects
}

func (s *Server) handleListProjects(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.projects.List(ctx)
	if err != nil {
		return toolError("failed to list projects", err), nil
	}
	return jsonResult(projects)
}

// bugsage_list_bugs
func (s *Server) listBugsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bugsage_list_bugs",
		mcp.WithDescription("List bugs, newest first. Returns a JSON array of bugs."),
		mcp.WithString("project", mcp.Description("Project name or ID")),
		mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum(statusNames()...)),
		mcp.WithString("priority", mcp.Description("Filter by priority"), mcp.Enum(priorityNames()...)),
		mcp.WithString("assignee_id", mcp.Description("Filter by assignee user ID")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of bugs (default 50)")),
	)
	return tool, s.handleListBugs
}

func (s *Server) handleListBugs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.BugListFilter{
		AssigneeID: request.GetString("assignee_id", ""),
		Limit:      request.GetInt("limit", defaultListLimit),
	}

	if ref := request.GetString("project", ""); ref != "" {
		p, err := s.projects.Resolve(ctx, ref)
		if err != nil {
			return toolError("project not found", err), nil
		}
		filter.ProjectID = p.ID
	}
	if status := request.GetString("status", ""); status != "" {
		filter.Status = models.BugStatus(status)
		if !filter.Status.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("invalid status %q", status)), nil
		}
	}
	if priority := request.GetString("priority", ""); priority != "" {
		filter.Priority = models.BugPriority(priority)
		if !filter.Priority.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("invalid priority %q", priority)), nil
		}
	}

	bugs, err := s.store.ListBugs(ctx, filter)
	if err != nil {
		return toolError("failed to list bugs", err), nil
	}
	if bugs == nil {
		bugs = []*models.Bug{}
	}
	return jsonResult(bugs)
}

// bugsage_get_bug
func (s *Server) getBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bugsage_get_bug",
		mcp.WithDescription("Get a bug with its comments, attachments and change history."),
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID (full ULID or unique prefix)")),
	)
	return tool, s.handleGetBug
}

func (s *Server) handleGetBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bug, res := s.requireBug(ctx, request)
	if res != nil {
		return res, nil
	}
	detail, err := s.engine.GetBugWithHistory(ctx, bug.ID)
	if err != nil {
		return toolError("failed to load bug", err), nil
	}
	return jsonResult(detail)
}

// bugsage_create_bug
func (s *Server) createBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bugsage_create_bug",
		mcp.WithDescription("Report a new bug. If likely duplicates exist the bug is not created and the candidates are returned; call again with force=true to create it anyway."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Bug title")),
		mcp.WithString("description", mcp.Required(), mcp.Description("What happens and how to reproduce it")),
		mcp.WithString("priority", mcp.Description("Priority (default Medium)"), mcp.Enum(priorityNames()...)),
		mcp.WithString("project", mcp.Description("Project name or ID")),
		mcp.WithString("assignee_id", mcp.Description("User ID to assign")),
		mcp.WithBoolean("force", mcp.Description("Create even if duplicates are found")),
	)
	return tool, s.handleCreateBug
}

func (s *Server) handleCreateBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}
	description, err := request.RequireString("description")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: description"), nil
	}

	req := lifecycle.CreateRequest{
		Title:       title,
		Description: description,
		Priority:    models.BugPriority(request.GetString("priority", "")),
		AssigneeID:  request.GetString("assignee_id", ""),
		Force:       request.GetBool("force", false),
	}
	if ref := request.GetString("project", ""); ref != "" {
		p, err := s.projects.Resolve(ctx, ref)
		if err != nil {
			return toolError("project not found", err), nil
		}
		req.ProjectID = p.ID
	}

	res, err := s.engine.CreateBug(ctx, s.actor, req)
	if err != nil {
		return toolError("failed to create bug", err), nil
	}
	if res.NeedsConfirmation() {
		return jsonResult(map[string]any{
			"warning":    "Potential duplicates found",
			"duplicates": res.Duplicates,
		})
	}
	return jsonResult(res.Bug)
}

// bugsage_update_bug
func (s *Server) updateBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bugsage_update_bug",
		mcp.WithDescription("Update fields of a bug. Each changed field is recorded in the bug's history. Pass an empty assignee_id to unassign."),
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID (full ULID or unique prefix)")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("priority", mcp.Description("New priority"), mcp.Enum(priorityNames()...)),
		mcp.WithString("status", mcp.Description("New status"), mcp.Enum(statusNames()...)),
		mcp.WithString("assignee_id", mcp.Description("New assignee user ID")),
	)
	return tool, s.handleUpdateBug
}

func (s *Server) handleUpdateBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bug, res := s.requireBug(ctx, request)
	if res != nil {
		return res, nil
	}
	changes, err := lifecycle.ParseChanges(request.GetArguments())
	if err != nil {
		return toolError("invalid update", err), nil
	}
	out, err := s.engine.UpdateBug(ctx, s.actor, bug.ID, changes)
	if err != nil {
		return toolError("failed to update bug", err), nil
	}
	return jsonResult(out)
}

// bugsage_transition_status
func (s *Server) transitionStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bugsage_transition_status",
		mcp.WithDescription("Move a bug to a new status. The change is recorded in the bug's history."),
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID (full ULID or unique prefix)")),
		mcp.WithString("status", mcp.Required(), mcp.Description("Target status"), mcp.Enum(statusNames()...)),
	)
	return tool, s.handleTransitionStatus
}

func (s *Server) handleTransitionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := request.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: status"), nil
	}
	bug, res := s.requireBug(ctx, request)
	if res != nil {
		return res, nil
	}
	out, err := s.engine.TransitionStatus(ctx, s.actor, bug.ID, models.BugStatus(status))
	if err != nil {
		return toolError("failed to change status", err), nil
	}
	return jsonResult(out)
}

// bugsage_add_comment
func (s *Server) addCommentTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bugsage_add_comment",
		mcp.WithDescription("Add a comment to a bug."),
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID (full ULID or unique prefix)")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Comment text")),
	)
	return tool, s.handleAddComment
}

func (s *Server) handleAddComment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: text"), nil
	}
	bug, res := s.requireBug(ctx, request)
	if res != nil {
		return res, nil
	}
	c, err := s.engine.AddComment(ctx, s.actor, bug.ID, text)
	if err != nil {
		return toolError("failed to add comment", err), nil
	}
	return jsonResult(c)
}

// bugsage_bug_history
func (s *Server) bugHistoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bugsage_bug_history",
		mcp.WithDescription("List the change history of a bug, oldest first."),
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID (full ULID or unique prefix)")),
	)
	return tool, s.handleBugHistory
}

func (s *Server) handleBugHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bug, res := s.requireBug(ctx, request)
	if res != nil {
		return res, nil
	}
	history, err := s.engine.History(ctx, bug.ID)
	if err != nil {
		return toolError("failed to load history", err), nil
	}
	return jsonResult(history)
}

// bugsage_search_bugs
func (s *Server) searchBugsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bugsage_search_bugs",
		mcp.WithDescription("Full-text search over bug titles and descriptions. Returns bugs with a relevance score between 0 and 1, best first."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	)
	return tool, s.handleSearchBugs
}

func (s *Server) handleSearchBugs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	hits, err := s.store.SearchBugs(ctx, query, request.GetInt("limit", 20))
	if err != nil {
		return toolError("search failed", err), nil
	}
	if hits == nil {
		hits = []models.SearchHit{}
	}
	return jsonResult(hits)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// requireBug resolves the bug_id argument. A non-nil result is the error to
// return to the client.
func (s *Server) requireBug(ctx context.Context, request mcp.CallToolRequest) (*models.Bug, *mcp.CallToolResult) {
	id, err := request.RequireString("bug_id")
	if err != nil {
		return nil, mcp.NewToolResultError("missing required parameter: bug_id")
	}
	bug, err := s.engine.FindBug(ctx, id)
	if err != nil {
		return nil, toolError("bug not found", err)
	}
	return bug, nil
}

func toolError(msg string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", msg, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func statusNames() []string {
	out := make([]string, len(models.BugStatuses))
	for i, st := range models.BugStatuses {
		out[i] = string(st)
	}
	return out
}

func priorityNames() []string {
	out := make([]string, len(models.BugPriorities))
	for i, p := range models.BugPriorities {
		out[i] = string(p)
	}
	return out
}
