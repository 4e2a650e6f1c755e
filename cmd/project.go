package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/bugsage/internal/output"
	"github.com/joescharf/bugsage/internal/project"
)

var (
	projectDesc    string
	projectNewName string
	projectNewDesc string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
	Long:  "Projects group bugs. Only admins may create, edit or delete them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectAddRun(args[0])
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List projects with their bug counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectUpdateCmd = &cobra.Command{
	Use:   "update <project>",
	Short: "Rename a project or change its description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectUpdateRun(cmd, args[0])
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:     "delete <project>",
	Aliases: []string{"rm"},
	Short:   "Delete a project (its bugs are kept)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectDeleteRun(args[0])
	},
}

func init() {
	projectAddCmd.Flags().StringVar(&projectDesc, "desc", "", "Project description")
	projectUpdateCmd.Flags().StringVar(&projectNewName, "name", "", "New project name")
	projectUpdateCmd.Flags().StringVar(&projectNewDesc, "desc", "", "New project description")

	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectUpdateCmd)
	projectCmd.AddCommand(projectDeleteCmd)
	rootCmd.AddCommand(projectCmd)
}

func projectAddRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	actor, err := currentActor(ctx, s)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create project %s", name)
		return nil
	}

	p, err := project.NewService(s).Create(ctx, actor, name, projectDesc)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	ui.Success("Created project %s (%s)", output.Cyan(p.Name), shortID(p.ID))
	return nil
}

func projectUpdateRun(cmd *cobra.Command, ref string) error {
	var name, desc *string
	if cmd.Flags().Changed("name") {
		name = &projectNewName
	}
	if cmd.Flags().Changed("desc") {
		desc = &projectNewDesc
	}
	if name == nil && desc == nil {
		return fmt.Errorf("nothing to update: pass --name or --desc")
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	actor, err := currentActor(ctx, s)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would update project %s", ref)
		return nil
	}

	p, err := project.NewService(s).Update(ctx, actor, ref, name, desc)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	ui.Success("Updated project %s (%s)", output.Cyan(p.Name), shortID(p.ID))
	return nil
}

func projectDeleteRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	actor, err := currentActor(ctx, s)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete project %s", ref)
		return nil
	}

	p, err := project.NewService(s).Delete(ctx, actor, ref)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	ui.Success("Deleted project %s", output.Cyan(p.Name))
	return nil
}

func projectListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	projects, err := project.NewService(s).List(context.Background())
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		ui.Info("No projects yet. Create one with: bugsage project add <name>")
		return nil
	}

	table := ui.Table([]string{"ID", "Name", "Bugs", "Description"})
	for _, p := range projects {
		_ = table.Append([]string{
			shortID(p.ID),
			p.Name,
			strconv.Itoa(p.BugCount),
			output.Truncate(p.Description, 60),
		})
	}
	_ = table.Render()
	return nil
}
