package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "bugsage"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage bugsage configuration.

Running bare 'bugsage config' is the same as 'bugsage config show'.
Every key can also be set through a BUGSAGE_ environment variable, with
dots replaced by underscores (user.email -> BUGSAGE_USER_EMAIL).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# bugsage configuration
# See: bugsage config show (for effective values and sources)

# State/data directory (default: ~/.config/bugsage)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/bugsage/bugsage.db)
# db_path: {{ .DBPath }}

# Email of the user the CLI and MCP server act as
user:
  email: "{{ .UserEmail }}"

# Web server
port: {{ .Port }}
# dev (text logs, debug level) or prod (JSON logs, info level)
env: "{{ .Env }}"
session:
  ttl: "{{ .SessionTTL }}"
bugs_per_page: {{ .BugsPerPage }}

# Duplicate screening on new reports
duplicate:
  # Candidates must score above this relevance (0-1)
  threshold: {{ .DupThreshold }}
  # Maximum number of candidates shown
  limit: {{ .DupLimit }}

# Attachments
upload:
  # dir: {{ .UploadDir }}
  max_size: {{ .UploadMaxSize }}

# LLM triage (optional; ANTHROPIC_API_KEY also works)
anthropic:
  # api_key: ""
  model: "{{ .AnthropicModel }}"
`

type configTemplateData struct {
	StateDir       string
	DBPath         string
	UserEmail      string
	Port           int
	Env            string
	SessionTTL     string
	BugsPerPage    int
	DupThreshold   float64
	DupLimit       int
	UploadDir      string
	UploadMaxSize  int64
	AnthropicModel string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:       viper.GetString("state_dir"),
		DBPath:         viper.GetString("db_path"),
		UserEmail:      viper.GetString("user.email"),
		Port:           viper.GetInt("port"),
		Env:            viper.GetString("env"),
		SessionTTL:     viper.GetDuration("session.ttl").String(),
		BugsPerPage:    viper.GetInt("bugs_per_page"),
		DupThreshold:   viper.GetFloat64("duplicate.threshold"),
		DupLimit:       viper.GetInt("duplicate.limit"),
		UploadDir:      viper.GetString("upload.dir"),
		UploadMaxSize:  viper.GetInt64("upload.max_size"),
		AnthropicModel: viper.GetString("anthropic.model"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "BUGSAGE_STATE_DIR"},
	{Key: "db_path", EnvVar: "BUGSAGE_DB_PATH"},
	{Key: "user.email", EnvVar: "BUGSAGE_USER_EMAIL"},
	{Key: "port", EnvVar: "BUGSAGE_PORT"},
	{Key: "env", EnvVar: "BUGSAGE_ENV"},
	{Key: "session.ttl", EnvVar: "BUGSAGE_SESSION_TTL"},
	{Key: "bugs_per_page", EnvVar: "BUGSAGE_BUGS_PER_PAGE"},
	{Key: "duplicate.threshold", EnvVar: "BUGSAGE_DUPLICATE_THRESHOLD"},
	{Key: "duplicate.limit", EnvVar: "BUGSAGE_DUPLICATE_LIMIT"},
	{Key: "upload.dir", EnvVar: "BUGSAGE_UPLOAD_DIR"},
	{Key: "upload.max_size", EnvVar: "BUGSAGE_UPLOAD_MAX_SIZE"},
	{Key: "upload.allowed_extensions", EnvVar: "BUGSAGE_UPLOAD_ALLOWED_EXTENSIONS"},
	{Key: "anthropic.api_key", EnvVar: "BUGSAGE_ANTHROPIC_API_KEY"},
	{Key: "anthropic.model", EnvVar: "BUGSAGE_ANTHROPIC_MODEL"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Key == "anthropic.api_key" && viper.GetString(k.Key) != "" {
			val = "(set)"
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-26s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set: set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'bugsage config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
