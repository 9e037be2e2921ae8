package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dyncmd/internal/config"
	"dyncmd/internal/logging"
)

var (
	// Global flags
	configPath       string
	commandsDir      string
	verbose          bool
	asName           string
	asPermission     int
	ignorePermission bool
	unrestricted     bool

	// Loaded in PersistentPreRunE.
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "dyncmd",
	Short: "dyncmd - runtime-extensible command dispatcher",
	Long: `dyncmd dispatches prefixed text input to commands whose behaviour lives in
Go scripts stored next to a JSON manifest. Commands can be added, replaced,
disabled and removed while the dispatcher runs.

Scripts run in a sandboxed interpreter with a restricted standard library and
receive host objects through read-only proxies.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd, loaded)
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = loaded

		opts := cfg.Logging.Options()
		if verbose {
			opts.Level = "debug"
		}
		if err := logging.Initialize(opts); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Boot("config loaded from %s (commands dir %s)", configPath, cfg.Commands.Dir)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

// applyFlags lets explicitly set flags win over the file and environment.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("dir") {
		c.Commands.Dir = commandsDir
	}
	if flags.Changed("as") {
		c.Console.Name = asName
	}
	if flags.Changed("permission") {
		c.Console.Permission = asPermission
	}
	if flags.Changed("ignore-permission") {
		c.Commands.IgnorePermission = ignorePermission
	}
	if flags.Changed("unrestricted") {
		c.Commands.Unrestricted = unrestricted
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "dyncmd.yaml", "Config file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&commandsDir, "dir", "d", "", "Commands directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&asName, "as", "", "Display name of the local caller")
	rootCmd.PersistentFlags().IntVarP(&asPermission, "permission", "p", 0, "Permission level of the local caller")
	rootCmd.PersistentFlags().BoolVar(&ignorePermission, "ignore-permission", false, "Skip permission checks")
	rootCmd.PersistentFlags().BoolVar(&unrestricted, "unrestricted", false, "Run scripts unsandboxed (trusted scripts only)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
	rootCmd.AddCommand(prefixCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
