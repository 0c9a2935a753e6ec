package main

import (
	"fmt"
	"os"

	"github.com/cuemby/jenkins-relay/pkg/config"
	"github.com/cuemby/jenkins-relay/pkg/log"
	"github.com/cuemby/jenkins-relay/pkg/metrics"
	"github.com/cuemby/jenkins-relay/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cfg is loaded by the root command before any subcommand runs
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "jenkins-relay",
	Short: "Reconcile Jenkins worker agents over a relation channel",
	Long: `jenkins-relay keeps a Jenkins coordinator's node list in sync with the
worker units related to it.

Each relation hook (joined, changed, departed, broken) invokes one
"handle" command; the command registers or removes nodes through the
coordinator's management API, persists the relation state and prints
the fields to publish and the flags that are now set.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"jenkins-relay version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to YAML configuration file")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.Bool("log-json", false, "Log in JSON format")
	pf.String("state-dir", "", "Directory holding the relation state database")
	pf.String("relation", "", "Relation name used as flag prefix")

	rootCmd.AddCommand(coordinatorCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(flagsCmd)
}

// loadConfig reads the configuration file and applies flag overrides
func loadConfig(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	loaded, err := config.LoadFile(path)
	if err != nil {
		return err
	}

	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		loaded.Log.Level = v
	}
	if cmd.Flags().Changed("log-json") {
		loaded.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}
	if v, _ := cmd.Flags().GetString("state-dir"); v != "" {
		loaded.StateDir = v
	}
	if v, _ := cmd.Flags().GetString("relation"); v != "" {
		loaded.Relation = v
	}
	if role := roleFor(cmd); role != "" {
		loaded.Role = role
	}

	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(loaded.Log.Level),
		JSONOutput: loaded.Log.JSON,
	})
	metrics.SetVersion(Version)

	cfg = loaded
	return nil
}

// roleFor derives the role from the command tree, so "coordinator ..." and
// "worker ..." never depend on the configured role.
func roleFor(cmd *cobra.Command) types.Role {
	for c := cmd; c != nil; c = c.Parent() {
		switch c {
		case coordinatorCmd:
			return types.RoleCoordinator
		case workerCmd:
			return types.RoleWorker
		}
	}
	return ""
}

var flagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "Print the relation flags currently set",
	Long: `Print one flag per line, prefixed with the relation name, e.g.

  jenkins-slave.connected
  jenkins-slave.available
  jenkins-slave.tls.available`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		flags, err := relationFlags(store)
		if err != nil {
			return err
		}
		for _, name := range flags.Names(cfg.Relation) {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}
