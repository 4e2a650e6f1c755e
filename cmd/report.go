package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/bugsage/internal/lifecycle"
	"github.com/joescharf/bugsage/internal/models"
	"github.com/joescharf/bugsage/internal/output"
	"github.com/joescharf/bugsage/internal/report"
	"github.com/joescharf/bugsage/internal/store"
)

var (
	reportFormat string
	exportType   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export data as JSON, YAML, CSV, or Markdown",
	Long:  "Export bugs (with comments and history) or projects in various formats.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun()
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the dashboard summary",
	Long:  "Show bug counts by status and priority, recent reports, and resolution times.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportRun()
	},
}

var reportWeeklyCmd = &cobra.Command{
	Use:   "weekly",
	Short: "Generate a Markdown summary of the past week",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportWeeklyRun()
	},
}

func init() {
	exportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format: json, yaml, csv, markdown")
	exportCmd.Flags().StringVar(&exportType, "type", "bugs", "Data type: bugs, projects")
	rootCmd.AddCommand(exportCmd)

	reportCmd.AddCommand(reportWeeklyCmd)
	rootCmd.AddCommand(reportCmd)
}

func exportRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	switch exportType {
	case "bugs":
		return exportBugs(ctx, s)
	case "projects":
		return exportProjects(ctx, s)
	default:
		return fmt.Errorf("unknown export type: %s (use: bugs, projects)", exportType)
	}
}

func exportBugs(ctx context.Context, s store.Store) error {
	engine := newEngine(s)
	bugs, err := s.ListBugs(ctx, store.BugListFilter{})
	if err != nil {
		return err
	}

	switch reportFormat {
	case "json", "yaml":
		details := make([]*lifecycle.BugDetail, 0, len(bugs))
		for _, b := range bugs {
			d, err := engine.GetBugWithHistory(ctx, b.ID)
			if err != nil {
				return err
			}
			details = append(details, d)
		}
		return encode(details)
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write([]string{"ID", "Project", "Title", "Status", "Priority", "Reporter", "Assignee", "Created", "Updated"})
		for _, b := range bugs {
			_ = w.Write([]string{b.ID, b.ProjectName, b.Title, string(b.Status), string(b.Priority),
				b.ReporterName, b.AssigneeName, b.CreatedAt.Format(time.RFC3339), b.UpdatedAt.Format(time.RFC3339)})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Bugs")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| ID | Title | Status | Priority | Assignee |")
		fmt.Fprintln(ui.Out, "|----|-------|--------|----------|----------|")
		for _, b := range bugs {
			fmt.Fprintf(ui.Out, "| %s | %s | %s | %s | %s |\n", shortID(b.ID), b.Title, b.Status, b.Priority, b.AssigneeName)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

func exportProjects(ctx context.Context, s store.Store) error {
	projects, err := s.ListProjects(ctx)
	if err != nil {
		return err
	}

	switch reportFormat {
	case "json", "yaml":
		return encode(projects)
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write([]string{"ID", "Name", "Description", "Bugs", "Created"})
		for _, p := range projects {
			_ = w.Write([]string{p.ID, p.Name, p.Description, strconv.Itoa(p.BugCount), p.CreatedAt.Format("2006-01-02")})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Projects")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Name | Bugs | Description |")
		fmt.Fprintln(ui.Out, "|------|------|-------------|")
		for _, p := range projects {
			fmt.Fprintf(ui.Out, "| %s | %d | %s |\n", p.Name, p.BugCount, p.Description)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

// encode writes v as JSON or YAML per reportFormat. YAML goes through the
// JSON encoding so both formats share the same field names.
func encode(v any) error {
	if reportFormat == "yaml" {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(ui.Out)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(ui.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reportRun prints the dashboard. "Mine" counts use the configured user when set.
func reportRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()
	svc := report.NewService(s)

	var actor models.Identity
	if a, err := currentActor(ctx, s); err == nil {
		actor = a
	}

	st, err := svc.Stats(ctx, actor)
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Out, "%s  %d bugs, %d reported in the last week", output.Cyan("BugSage"), st.TotalBugs, st.RecentBugs)
	if actor.UserID != "" {
		fmt.Fprintf(ui.Out, ", %d assigned to you", st.MyBugs)
	}
	fmt.Fprintln(ui.Out)
	if st.TotalBugs == 0 {
		ui.Info("No bugs yet. Report one with: bugsage bug add --title ... --desc ...")
		return nil
	}
	fmt.Fprintln(ui.Out)

	counts := ui.Table([]string{"Status", "Bugs"})
	for _, c := range st.StatusCounts {
		_ = counts.Append([]string{output.StatusColor(string(c.Status)), strconv.Itoa(c.Count)})
	}
	_ = counts.Render()

	prios := ui.Table([]string{"Priority", "Bugs"})
	for _, c := range st.PriorityCounts {
		_ = prios.Append([]string{output.PriorityColor(string(c.Priority)), strconv.Itoa(c.Count)})
	}
	_ = prios.Render()

	charts, err := svc.Charts(ctx)
	if err != nil {
		return err
	}
	var resolved []string
	for _, r := range charts.ResolutionTimes {
		if r.Bugs > 0 {
			resolved = append(resolved, fmt.Sprintf("%s %.1fd", r.Priority, r.AvgResolutionDays))
		}
	}
	if len(resolved) > 0 {
		fmt.Fprintf(ui.Out, "\nAverage time to resolve: %s\n", strings.Join(resolved, ", "))
	}

	recent, err := svc.Recent(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Out, "\n%s\n", output.Cyan("Recent"))
	table := ui.Table([]string{"ID", "Title", "Status", "Priority", "Reported"})
	for _, b := range recent {
		_ = table.Append([]string{
			shortID(b.ID),
			output.Truncate(b.Title, 50),
			output.StatusColor(string(b.Status)),
			output.PriorityColor(string(b.Priority)),
			b.CreatedAt.Local().Format("2006-01-02"),
		})
	}
	_ = table.Render()
	return nil
}

func reportWeeklyRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	bugs, err := s.ListBugs(ctx, store.BugListFilter{})
	if err != nil {
		return err
	}
	since := time.Now().AddDate(0, 0, -7)

	var opened, touched []*models.Bug
	for _, b := range bugs {
		switch {
		case b.CreatedAt.After(since):
			opened = append(opened, b)
		case b.UpdatedAt.After(since):
			touched = append(touched, b)
		}
	}

	fmt.Fprintln(ui.Out, "# Weekly Report")
	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "- Reported: %d\n", len(opened))
	fmt.Fprintf(ui.Out, "- Updated: %d\n", len(touched))
	fmt.Fprintln(ui.Out)
	writeSection := func(title string, list []*models.Bug) {
		if len(list) == 0 {
			return
		}
		fmt.Fprintf(ui.Out, "## %s\n", title)
		for _, b := range list {
			fmt.Fprintf(ui.Out, "- [%s] %s (%s, %s)\n", shortID(b.ID), b.Title, b.Status, b.Priority)
		}
		fmt.Fprintln(ui.Out)
	}
	writeSection("New this week", opened)
	writeSection("Updated this week", touched)
	return nil
}
