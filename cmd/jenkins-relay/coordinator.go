package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Coordinator side of the relation",
}

var coordinatorHandleCmd = &cobra.Command{
	Use:   "handle EVENT",
	Short: "Handle one relation event (joined, changed, departed, broken)",
	Long: `Handle one relation event on the coordinator.

Examples:
  # A worker finished publishing its settings
  jenkins-relay coordinator handle changed \
    --relation-id jenkins-slave:3 --unit slave/3 \
    --field slavehost=slave-3 --field executors=4 --field labels="linux x86"

  # The whole relation went away
  jenkins-relay coordinator handle broken --relation-id jenkins-slave:3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := eventFromFlags(cmd, args[0])
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		coord, err := newCoordinator(store, nil)
		if err != nil {
			return err
		}

		res, err := coord.Handle(cmd.Context(), ev)
		if err != nil {
			return err
		}
		flags, err := coord.Flags()
		if err != nil {
			return err
		}
		return printYAML(cmd, newHandleOutput(res, flags, coord.RelationName()))
	},
}

var coordinatorInitCredentialsCmd = &cobra.Command{
	Use:   "init-credentials",
	Short: "Generate the admin password file if it does not exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newProvider()
		if _, err := p.Generate(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Admin password stored in %s\n", p.Path())
		return nil
	},
}

var coordinatorNodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List the nodes registered through this relay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		coord, err := newCoordinator(store, nil)
		if err != nil {
			return err
		}
		nodes, err := coord.Nodes()
		if err != nil {
			return err
		}

		if len(nodes) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No nodes registered")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "HOSTNAME\tEXECUTORS\tLABELS")
		for _, n := range nodes {
			fmt.Fprintf(w, "%s\t%d\t%s\n", n.Hostname, n.EffectiveExecutors(), n.LabelString())
		}
		return w.Flush()
	},
}

func init() {
	coordinatorCmd.AddCommand(coordinatorHandleCmd)
	coordinatorCmd.AddCommand(coordinatorInitCredentialsCmd)
	coordinatorCmd.AddCommand(coordinatorNodesCmd)

	addEventFlags(coordinatorHandleCmd)
}
