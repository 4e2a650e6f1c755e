package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/bugsage/internal/auth"
	"github.com/joescharf/bugsage/internal/models"
	"github.com/joescharf/bugsage/internal/output"
)

var (
	userName     string
	userEmail    string
	userPassword string
	userRole     string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userListRun()
	},
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a user account",
	Long: `Create a user account with any role. This talks to the database directly,
so it is how the first admin is usually created.

The password may be given with --password or the BUGSAGE_PASSWORD
environment variable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return userAddRun()
	},
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List user accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userListRun()
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userName, "name", "", "Display name (required)")
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "Email address (required)")
	userAddCmd.Flags().StringVar(&userPassword, "password", "", "Password")
	userAddCmd.Flags().StringVar(&userRole, "role", string(models.RoleDeveloper), "Role: Admin, Developer, Tester")
	_ = userAddCmd.MarkFlagRequired("name")
	_ = userAddCmd.MarkFlagRequired("email")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	rootCmd.AddCommand(userCmd)
}

func userAddRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	password := userPassword
	if password == "" {
		password = os.Getenv("BUGSAGE_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("a password is required (--password or BUGSAGE_PASSWORD)")
	}

	if dryRun {
		ui.DryRunMsg("Would create %s user %s <%s>", userRole, userName, userEmail)
		return nil
	}

	u, err := newAuthService(s).CreateUser(context.Background(), auth.RegisterRequest{
		Name:     userName,
		Email:    userEmail,
		Password: password,
		Role:     models.Role(userRole),
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	ui.Success("Created %s %s <%s>", u.Role, output.Cyan(u.Name), u.Email)
	return nil
}

func userListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	users, err := s.ListUsers(context.Background())
	if err != nil {
		return err
	}
	if len(users) == 0 {
		ui.Info("No users yet. Create one with: bugsage user add --name ... --email ... --role Admin")
		return nil
	}

	table := ui.Table([]string{"ID", "Name", "Email", "Role", "Created"})
	for _, u := range users {
		_ = table.Append([]string{
			shortID(u.ID),
			u.Name,
			u.Email,
			string(u.Role),
			u.CreatedAt.Local().Format("2006-01-02"),
		})
	}
	_ = table.Render()
	return nil
}
