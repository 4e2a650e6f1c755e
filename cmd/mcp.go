package cmd

import (
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/bugsage/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

Agents act as the configured user (user.email, BUGSAGE_USER_EMAIL, or
--user), so every change they make shows up in bug history under that name.
Configure an MCP client with:

  {
    "mcpServers": {
      "bugsage": { "command": "bugsage", "args": ["mcp", "--user", "agent@example.com"] }
    }
  }

Available tools: bugsage_list_projects, bugsage_list_bugs, bugsage_get_bug,
bugsage_create_bug, bugsage_update_bug, bugsage_transition_status,
bugsage_add_comment, bugsage_bug_history, bugsage_search_bugs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
		defer stop()

		actor, err := currentActor(ctx, s)
		if err != nil {
			return err
		}
		return mcp.NewServer(s, newEngine(s), actor, buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
