package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/bugsage/internal/lifecycle"
	"github.com/joescharf/bugsage/internal/models"
	"github.com/joescharf/bugsage/internal/output"
	"github.com/joescharf/bugsage/internal/project"
	"github.com/joescharf/bugsage/internal/store"
)

var (
	bugTitle    string
	bugDesc     string
	bugPriority string
	bugStatus   string
	bugProject  string
	bugAssignee string
	bugReporter string
	bugForce    bool
	bugUnassign bool
	bugLimit    int
)

var bugCmd = &cobra.Command{
	Use:   "bug",
	Short: "Report and manage bugs",
	Long:  "Report bugs, move them through their lifecycle, and inspect their history.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugListRun()
	},
}

var bugAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Report a new bug",
	Long: `Report a new bug. Likely duplicates of open bugs are listed instead of
creating it; re-run with --force to create it anyway.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugAddRun()
	},
}

var bugListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List bugs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugListRun()
	},
}

var bugShowCmd = &cobra.Command{
	Use:   "show <bug-id>",
	Short: "Show a bug with its comments and history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugShowRun(args[0])
	},
}

var bugUpdateCmd = &cobra.Command{
	Use:   "update <bug-id>",
	Short: "Update bug fields",
	Long:  "Update one or more fields. Each changed field is recorded in the bug's history.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugUpdateRun(cmd, args[0])
	},
}

var bugStatusCmd = &cobra.Command{
	Use:   "status <bug-id> <status>",
	Short: "Move a bug to a new status",
	Long:  `Move a bug to New, "In Progress", Resolved, or Closed. Any status may follow any other.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugStatusRun(args[0], args[1])
	},
}

var bugCommentCmd = &cobra.Command{
	Use:   "comment <bug-id> <text>",
	Short: "Comment on a bug",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugCommentRun(args[0], args[1])
	},
}

var bugHistoryCmd = &cobra.Command{
	Use:   "history <bug-id>",
	Short: "Show a bug's change history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugHistoryRun(args[0])
	},
}

var bugSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over bug titles and descriptions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugSearchRun(strings.Join(args, " "))
	},
}

var bugDeleteCmd = &cobra.Command{
	Use:   "delete <bug-id>",
	Short: "Delete a bug (admin only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugDeleteRun(args[0])
	},
}

var bugAttachCmd = &cobra.Command{
	Use:   "attach <bug-id> <file>",
	Short: "Attach a file to a bug",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugAttachRun(args[0], args[1])
	},
}

var bugTriageCmd = &cobra.Command{
	Use:   "triage",
	Short: "Ask the LLM to suggest a priority for a bug report",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugTriageRun()
	},
}

func init() {
	bugAddCmd.Flags().StringVar(&bugTitle, "title", "", "Bug title (required)")
	bugAddCmd.Flags().StringVar(&bugDesc, "desc", "", "Bug description (required)")
	bugAddCmd.Flags().StringVar(&bugPriority, "priority", "", "Priority: Low, Medium, High, Critical (default Medium)")
	bugAddCmd.Flags().StringVar(&bugProject, "project", "", "Project name or ID")
	bugAddCmd.Flags().StringVar(&bugAssignee, "assignee", "", "Assignee user ID or email")
	bugAddCmd.Flags().BoolVar(&bugForce, "force", false, "Create even if likely duplicates exist")
	_ = bugAddCmd.MarkFlagRequired("title")
	_ = bugAddCmd.MarkFlagRequired("desc")

	bugListCmd.Flags().StringVar(&bugStatus, "status", "", "Filter by status")
	bugListCmd.Flags().StringVar(&bugPriority, "priority", "", "Filter by priority")
	bugListCmd.Flags().StringVar(&bugProject, "project", "", "Filter by project name or ID")
	bugListCmd.Flags().StringVar(&bugAssignee, "assignee", "", "Filter by assignee ID or email")
	bugListCmd.Flags().StringVar(&bugReporter, "reporter", "", "Filter by reporter ID or email")
	bugListCmd.Flags().IntVar(&bugLimit, "limit", 0, "Maximum number of bugs to show")

	bugUpdateCmd.Flags().StringVar(&bugTitle, "title", "", "New title")
	bugUpdateCmd.Flags().StringVar(&bugDesc, "desc", "", "New description")
	bugUpdateCmd.Flags().StringVar(&bugPriority, "priority", "", "New priority")
	bugUpdateCmd.Flags().StringVar(&bugStatus, "status", "", "New status")
	bugUpdateCmd.Flags().StringVar(&bugAssignee, "assignee", "", "New assignee ID or email")
	bugUpdateCmd.Flags().BoolVar(&bugUnassign, "unassign", false, "Clear the assignee")

	bugSearchCmd.Flags().IntVar(&bugLimit, "limit", 20, "Maximum number of results")

	bugTriageCmd.Flags().StringVar(&bugTitle, "title", "", "Bug title (required)")
	bugTriageCmd.Flags().StringVar(&bugDesc, "desc", "", "Bug description")
	_ = bugTriageCmd.MarkFlagRequired("title")

	bugCmd.AddCommand(bugAddCmd)
	bugCmd.AddCommand(bugListCmd)
	bugCmd.AddCommand(bugShowCmd)
	bugCmd.AddCommand(bugUpdateCmd)
	bugCmd.AddCommand(bugStatusCmd)
	bugCmd.AddCommand(bugCommentCmd)
	bugCmd.AddCommand(bugHistoryCmd)
	bugCmd.AddCommand(bugSearchCmd)
	bugCmd.AddCommand(bugDeleteCmd)
	bugCmd.AddCommand(bugAttachCmd)
	bugCmd.AddCommand(bugTriageCmd)
	rootCmd.AddCommand(bugCmd)
}

func bugAddRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	actor, err := currentActor(ctx, s)
	if err != nil {
		return err
	}

	req := lifecycle.CreateRequest{
		Title:       bugTitle,
		Description: bugDesc,
		Priority:    models.BugPriority(bugPriority),
		Force:       bugForce,
	}
	if bugProject != "" {
		p, err := project.NewService(s).Resolve(ctx, bugProject)
		if err != nil {
			return err
		}
		req.ProjectID = p.ID
	}
	if bugAssignee != "" {
		if req.AssigneeID, err = resolveUserID(ctx, s, bugAssignee); err != nil {
			return err
		}
	}

	if dryRun {
		ui.DryRunMsg("Would report bug: %s", bugTitle)
		return nil
	}

	res, err := newEngine(s).CreateBug(ctx, actor, req)
	if err != nil {
		return err
	}
	if res.NeedsConfirmation() {
		ui.Warning("Potential duplicates found:")
		table := ui.Table([]string{"ID", "Title", "Status", "Relevance"})
		for _, d := range res.Duplicates {
			_ = table.Append([]string{
				shortID(d.BugID),
				output.Truncate(d.Title, 50),
				output.StatusColor(string(d.Status)),
				fmt.Sprintf("%.2f", d.Relevance),
			})
		}
		_ = table.Render()
		ui.Info("Re-run with --force to report it anyway")
		return nil
	}

	ui.Success("Reported bug %s: %s", output.Cyan(shortID(res.Bug.ID)), res.Bug.Title)
	return nil
}

func bugListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.BugListFilter{
		Status:   models.BugStatus(bugStatus),
		Priority: models.BugPriority(bugPriority),
		Limit:    bugLimit,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return fmt.Errorf("invalid status %q", bugStatus)
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", bugPriority)
	}
	if bugProject != "" {
		p, err := project.NewService(s).Resolve(ctx, bugProject)
		if err != nil {
			return err
		}
		filter.ProjectID = p.ID
	}
	if bugAssignee != "" {
		if filter.AssigneeID, err = resolveUserID(ctx, s, bugAssignee); err != nil {
			return err
		}
	}
	if bugReporter != "" {
		if filter.ReporterID, err = resolveUserID(ctx, s, bugReporter); err != nil {
			return err
		}
	}

	bugs, err := s.ListBugs(ctx, filter)
	if err != nil {
		return err
	}
	if len(bugs) == 0 {
		ui.Info("No bugs found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Project", "Title", "Status", "Priority", "Assignee", "Updated"})
	for _, b := range bugs {
		_ = table.Append([]string{
			shortID(b.ID),
			b.ProjectName,
			output.Truncate(b.Title, 50),
			output.StatusColor(string(b.Status)),
			output.PriorityColor(string(b.Priority)),
			b.AssigneeName,
			b.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	_ = table.Render()
	return nil
}

func bugShowRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()
	engine := newEngine(s)

	bug, err := engine.FindBug(ctx, ref)
	if err != nil {
		return err
	}
	d, err := engine.GetBugWithHistory(ctx, bug.ID)
	if err != nil {
		return err
	}
	b := d.Bug

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(b.ID)), b.Title)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(b.Status)))
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.PriorityColor(string(b.Priority)))
	if b.ProjectName != "" {
		fmt.Fprintf(ui.Out, "  Project:    %s\n", b.ProjectName)
	}
	fmt.Fprintf(ui.Out, "  Reporter:   %s\n", b.ReporterName)
	if b.AssigneeName != "" {
		fmt.Fprintf(ui.Out, "  Assignee:   %s\n", b.AssigneeName)
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", b.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Updated:    %s\n", b.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Full ID:    %s\n", b.ID)
	fmt.Fprintf(ui.Out, "\n%s\n", b.Description)

	if len(d.Attachments) > 0 {
		fmt.Fprintf(ui.Out, "\n%s\n", output.Cyan("Attachments"))
		for _, a := range d.Attachments {
			fmt.Fprintf(ui.Out, "  %s  %s\n", a.FileName, a.FilePath)
		}
	}
	if len(d.Comments) > 0 {
		fmt.Fprintf(ui.Out, "\n%s\n", output.Cyan("Comments"))
		for _, c := range d.Comments {
			fmt.Fprintf(ui.Out, "  [%s] %s: %s\n", c.CreatedAt.Local().Format("2006-01-02 15:04"), c.AuthorName, c.Text)
		}
	}
	if len(d.History) > 0 {
		fmt.Fprintf(ui.Out, "\n%s\n", output.Cyan("History"))
		printHistory(d.History)
	}
	return nil
}

func bugUpdateRun(cmd *cobra.Command, ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	actor, err := currentActor(ctx, s)
	if err != nil {
		return err
	}

	raw := map[string]string{}
	flags := cmd.Flags()
	if flags.Changed("title") {
		raw[string(lifecycle.FieldTitle)] = bugTitle
	}
	if flags.Changed("desc") {
		raw[string(lifecycle.FieldDescription)] = bugDesc
	}
	if flags.Changed("priority") {
		raw[string(lifecycle.FieldPriority)] = bugPriority
	}
	if flags.Changed("status") {
		raw[string(lifecycle.FieldStatus)] = bugStatus
	}
	if flags.Changed("assignee") {
		id, err := resolveUserID(ctx, s, bugAssignee)
		if err != nil {
			return err
		}
		raw[string(lifecycle.FieldAssignee)] = id
	}
	if bugUnassign {
		raw[string(lifecycle.FieldAssignee)] = ""
	}
	if len(raw) == 0 {
		return fmt.Errorf("no updates specified (use --title, --desc, --priority, --status, --assignee, or --unassign)")
	}

	changes, err := lifecycle.ParseStringChanges(raw)
	if err != nil {
		return err
	}

	engine := newEngine(s)
	bug, err := engine.FindBug(ctx, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would update bug %s", shortID(bug.ID))
		return nil
	}

	res, err := engine.UpdateBug(ctx, actor, bug.ID, changes)
	if err != nil {
		return err
	}
	if !res.Changed() {
		ui.Info("Bug %s unchanged", output.Cyan(shortID(bug.ID)))
		return nil
	}
	ui.Success("Updated bug %s", output.Cyan(shortID(bug.ID)))
	printHistory(res.History)
	return nil
}

func bugStatusRun(ref, status string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	actor, err := currentActor(ctx, s)
	if err != nil {
		return err
	}
	engine := newEngine(s)
	bug, err := engine.FindBug(ctx, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would move bug %s to %s", shortID(bug.ID), status)
		return nil
	}

	res, err := engine.TransitionStatus(ctx, actor, bug.ID, models.BugStatus(status))
	if err != nil {
		return err
	}
	if !res.Changed() {
		ui.Info("Bug %s already %s", output.Cyan(shortID(bug.ID)), output.StatusColor(string(res.Bug.Status)))
		return nil
	}
	ui.Success("Bug %s is now %s", output.Cyan(shortID(bug.ID)), output.StatusColor(string(res.Bug.Status)))
	return nil
}

func bugCommentRun(ref, text string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	actor, err := currentActor(ctx, s)
	if err != nil {
		return err
	}
	engine := newEngine(s)
	bug, err := engine.FindBug(ctx, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would comment on bug %s", shortID(bug.ID))
		return nil
	}

	if _, err := engine.AddComment(ctx, actor, bug.ID, text); err != nil {
		return err
	}
	ui.Success("Commented on bug %s", output.Cyan(shortID(bug.ID)))
	return nil
}

func bugHistoryRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()
	engine := newEngine(s)

	bug, err := engine.FindBug(ctx, ref)
	if err != nil {
		return err
	}
	history, err := engine.History(ctx, bug.ID)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		ui.Info("No changes recorded for %s", output.Cyan(shortID(bug.ID)))
		return nil
	}
	printHistory(history)
	return nil
}

func bugSearchRun(query string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("search query is required")
	}
	hits, err := s.SearchBugs(ctx, query, bugLimit)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		ui.Info("No bugs match %q", query)
		return nil
	}

	table := ui.Table([]string{"ID", "Title", "Status", "Priority"})
	for _, h := range hits {
		_ = table.Append([]string{
			shortID(h.Bug.ID),
			output.Truncate(h.Bug.Title, 60),
			output.StatusColor(string(h.Bug.Status)),
			output.PriorityColor(string(h.Bug.Priority)),
		})
	}
	_ = table.Render()
	return nil
}

func bugDeleteRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	actor, err := currentActor(ctx, s)
	if err != nil {
		return err
	}
	engine := newEngine(s)
	bug, err := engine.FindBug(ctx, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete bug %s: %s", shortID(bug.ID), bug.Title)
		return nil
	}

	if err := engine.DeleteBug(ctx, actor, bug.ID); err != nil {
		return err
	}
	ui.Success("Deleted bug %s: %s", output.Cyan(shortID(bug.ID)), bug.Title)
	return nil
}

func bugAttachRun(ref, path string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	actor, err := currentActor(ctx, s)
	if err != nil {
		return err
	}
	engine := newEngine(s)
	bug, err := engine.FindBug(ctx, ref)
	if err != nil {
		return err
	}

	files := attachmentStorage()
	name := filepath.Base(path)
	if err := files.CheckName(name); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat attachment: %w", err)
	}
	if limit := files.Policy().MaxSize; limit > 0 && info.Size() > limit {
		return fmt.Errorf("%s is %d bytes, larger than the %d byte limit", name, info.Size(), limit)
	}

	if dryRun {
		ui.DryRunMsg("Would attach %s to bug %s", name, shortID(bug.ID))
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer func() { _ = f.Close() }()

	stored, err := files.Save(bug.ID, name, f)
	if err != nil {
		return err
	}
	if _, err := engine.AddAttachment(ctx, actor, bug.ID, stored, name); err != nil {
		return err
	}
	ui.Success("Attached %s to bug %s", name, output.Cyan(shortID(bug.ID)))
	return nil
}

func bugTriageRun() error {
	client := newLLMClient()
	if client == nil {
		return fmt.Errorf("LLM not configured (set ANTHROPIC_API_KEY or anthropic.api_key)")
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	projects, err := project.NewService(s).List(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(projects))
	for _, p := range projects {
		names = append(names, p.Name)
	}

	ui.VerboseLog("Asking the model about %q", bugTitle)
	t, err := client.TriageBug(ctx, bugTitle, bugDesc, names)
	if err != nil {
		return fmt.Errorf("triage: %w", err)
	}
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.PriorityColor(string(t.Priority)))
	fmt.Fprintf(ui.Out, "  Summary:    %s\n", t.Summary)
	fmt.Fprintf(ui.Out, "  Reason:     %s\n", t.Reason)
	return nil
}

// printHistory writes one line per audit entry.
func printHistory(entries []*models.HistoryEntry) {
	for _, h := range entries {
		who := h.ChangedByName
		if who == "" {
			who = shortID(h.ChangedBy)
		}
		fmt.Fprintf(ui.Out, "  %s  %-12s %s: %s -> %s\n",
			h.ChangedAt.Local().Format("2006-01-02 15:04:05"),
			who,
			h.Field,
			displayValue(h.OldValue),
			displayValue(h.NewValue))
	}
}

func displayValue(v string) string {
	if v == "" {
		return "(none)"
	}
	return v
}

// resolveUserID accepts a user ID or an email address.
func resolveUserID(ctx context.Context, s store.Store, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if strings.Contains(ref, "@") {
		u, err := s.GetUserByEmail(ctx, strings.ToLower(ref))
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("no user with email %s", ref)
		}
		if err != nil {
			return "", err
		}
		return u.ID, nil
	}
	return ref, nil
}

// shortID returns a truncated ULID for display (first 12 chars).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
