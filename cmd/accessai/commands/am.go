package commands

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/robertclapp/accessai-sub004/am"
	"github.com/robertclapp/accessai-sub004/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Show and initialise configuration",
	Long: `am — accessai configuration

Configuration sources (in order of precedence):
1. Environment variables (ACCESSAI_* prefix, ACCESSAI_TELEGRAM_TOKEN for the bot token)
2. Project config (am.toml in this or any parent directory)
3. User config (~/.accessai/am.toml)
4. System config (/etc/accessai/config.toml)
5. Default values

Examples:
  accessai am show                 # Show the effective configuration
  accessai am show --format json   # Same, as JSON
  accessai am init                 # Write defaults to ~/.accessai/am.toml
  accessai am where                # Show which config files exist`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runAmShow,
}

var amInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file with the defaults",
	RunE:  runAmInit,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := am.Load(); err != nil {
			return err
		}
		pterm.Success.Println("Configuration is valid")
		return nil
	},
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json")
	amInitCmd.Flags().String("path", "", "File to write (default ~/.accessai/am.toml)")
	amInitCmd.Flags().Bool("force", false, "Overwrite an existing file, keeping it as .back1")

	AmCmd.AddCommand(amShowCmd, amInitCmd, amValidateCmd, amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	// Never print the bot token
	masked := *cfg
	if masked.Notify.Telegram.Token != "" {
		masked.Notify.Telegram.Token = "***"
	}

	switch configFormat {
	case "json":
		return printJSON(masked)
	case "toml":
		data, err := toml.Marshal(masked)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Printf("# accessai configuration\n%s", string(data))
		return nil
	default:
		return errors.Newf("unsupported format: %s (supported: toml, json)", configFormat)
	}
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("path")
	force, _ := cmd.Flags().GetBool("force")
	if path == "" {
		path = am.UserConfigPath()
		if path == "" {
			return errors.New("could not determine home directory, pass --path")
		}
	}

	if err := am.WriteDefaultConfig(path, force); err != nil {
		return withHints(err)
	}
	pterm.Success.Printfln("Wrote default configuration to %s", path)
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	active := am.FindConfigFile()
	candidates := []string{"/etc/accessai/config.toml", am.UserConfigPath()}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, cwd+"/am.toml (or any parent directory)")
	}

	for _, path := range candidates {
		marker := pterm.Gray("missing")
		if _, err := os.Stat(path); err == nil {
			marker = pterm.Green("found")
		}
		if path == active {
			marker += pterm.LightCyan(" (watched by serve, written by jobs enable/disable)")
		}
		fmt.Printf("  %-50s %s\n", path, marker)
	}
	if active != "" && active != am.UserConfigPath() && active != "/etc/accessai/config.toml" {
		fmt.Printf("  %-50s %s\n", active, pterm.Green("found")+pterm.LightCyan(" (project config, watched)"))
	}
	return nil
}
