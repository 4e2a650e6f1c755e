package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/bugsage/internal/attachments"
	"github.com/joescharf/bugsage/internal/auth"
	"github.com/joescharf/bugsage/internal/duplicate"
	"github.com/joescharf/bugsage/internal/lifecycle"
	"github.com/joescharf/bugsage/internal/models"
	"github.com/joescharf/bugsage/internal/output"
	"github.com/joescharf/bugsage/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool

	buildVersion = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "bugsage",
	Short: "BugSage - track bugs through their lifecycle",
	Long: `bugsage is a small bug tracker. Bugs move through New, In Progress,
Resolved and Closed; every field change is kept in an audit history, and
new reports are screened for likely duplicates.

Run 'bugsage serve' for the web UI and REST API, 'bugsage mcp' for agent
integration, or use the bug/project/user commands directly.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
	Version:           "dev",
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/bugsage/config.yaml)")
	rootCmd.PersistentFlags().String("user", "", "Act as the user with this email (overrides user.email)")
	_ = viper.BindPFlag("user.email", rootCmd.PersistentFlags().Lookup("user"))
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(filepath.Join(home, ".config", "bugsage"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BUGSAGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	setDefaults(filepath.Join(home, ".config", "bugsage"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config default relative to stateDir.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "bugsage.db"))
	viper.SetDefault("port", 8080)
	viper.SetDefault("env", "dev")
	viper.SetDefault("session.ttl", auth.DefaultSessionTTL)
	viper.SetDefault("bugs_per_page", 20)
	viper.SetDefault("duplicate.threshold", duplicate.DefaultThreshold)
	viper.SetDefault("duplicate.limit", duplicate.DefaultLimit)
	viper.SetDefault("user.email", "")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("upload.dir", filepath.Join(stateDir, "uploads"))
	viper.SetDefault("upload.max_size", attachments.DefaultMaxSize)
	viper.SetDefault("upload.allowed_extensions", attachments.DefaultExtensions)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun
}

// rootRun handles `bugsage` with no subcommand: show the dashboard summary.
func rootRun(cmd *cobra.Command) error {
	if _, err := getStore(); err != nil {
		return cmd.Help()
	}
	return reportRun()
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	ui.VerboseLog("Using database %s", dbPath)
	dataStore = s
	return dataStore, nil
}

// newEngine builds the lifecycle engine with the configured duplicate screen.
func newEngine(s store.Store) *lifecycle.Engine {
	detector := duplicate.NewDetector(s, viper.GetFloat64("duplicate.threshold"), viper.GetInt("duplicate.limit"))
	return lifecycle.NewEngine(s, detector)
}

func newAuthService(s store.Store) *auth.Service {
	return auth.NewService(s, sessionTTL())
}

func sessionTTL() time.Duration {
	return viper.GetDuration("session.ttl")
}

// attachmentStorage returns file storage configured from upload.*.
func attachmentStorage() *attachments.Storage {
	return attachments.NewStorage(viper.GetString("upload.dir"), attachments.Policy{
		MaxSize:           viper.GetInt64("upload.max_size"),
		AllowedExtensions: viper.GetStringSlice("upload.allowed_extensions"),
	})
}

// currentActor resolves the configured user.email to the acting identity.
func currentActor(ctx context.Context, s store.Store) (models.Identity, error) {
	email := viper.GetString("user.email")
	if email == "" {
		return models.Identity{}, fmt.Errorf("no acting user configured: set user.email in the config, BUGSAGE_USER_EMAIL, or pass --user")
	}
	return newAuthService(s).IdentityByEmail(ctx, email)
}
