package main

import (
	"fmt"
	"time"

	"github.com/cuemby/jenkins-relay/pkg/log"
	"github.com/cuemby/jenkins-relay/pkg/relation"
	"github.com/cuemby/jenkins-relay/pkg/security"
	"github.com/cuemby/jenkins-relay/pkg/types"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Worker side of the relation",
}

var workerHandleCmd = &cobra.Command{
	Use:   "handle EVENT",
	Short: "Handle one relation event (joined, changed, departed, broken)",
	Args:  cobra.ExactArgs(1),
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

		w := newWorker(store, nil)
		res, err := w.Handle(cmd.Context(), ev)
		if err != nil {
			return err
		}
		flags, err := w.Flags()
		if err != nil {
			return err
		}

		out := newHandleOutput(&res.Result, flags, w.RelationName())
		if res.Coordinator != nil {
			out.Coordinator = res.Coordinator.URL
		}
		return printYAML(cmd, out)
	},
}

var workerAnnounceCmd = &cobra.Command{
	Use:   "announce",
	Short: "Store the registration fields this worker publishes",
	Long: `Store the hostname, executor count and labels this worker publishes
on the relation. They are returned as "published" by the next joined or
changed event.

Example:
  jenkins-relay worker announce --relation-id jenkins:0 \
    --hostname slave-3 --executors 4 --labels "linux x86"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		relationID, _ := cmd.Flags().GetString("relation-id")
		hostname, _ := cmd.Flags().GetString("hostname")
		executors, _ := cmd.Flags().GetInt("executors")
		labels, _ := cmd.Flags().GetString("labels")
		endpoint, _ := cmd.Flags().GetString("connection-string")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		rec := &types.WorkerRecord{
			Hostname:  hostname,
			Executors: executors,
			Labels:    relation.ParseLabels(labels),
			Endpoint:  endpoint,
		}
		if err := newWorker(store, nil).Announce(relationID, rec); err != nil {
			return err
		}
		return printPublished(cmd, store, relationID)
	},
}

var workerClientTLSCmd = &cobra.Command{
	Use:   "client-tls",
	Short: "Publish TLS client material for the coordinator",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		relationID, _ := cmd.Flags().GetString("relation-id")
		keyFile, _ := cmd.Flags().GetString("key-file")
		certFile, _ := cmd.Flags().GetString("cert-file")
		caFile, _ := cmd.Flags().GetString("ca-file")

		tls, err := security.LoadClientMaterial(keyFile, certFile, caFile)
		if err != nil {
			return err
		}
		cert, err := security.VerifyClientMaterial(tls, time.Now())
		if err != nil {
			return err
		}
		if cert.NeedsRotation(time.Now()) {
			logger := log.WithComponent("worker")
			logger.Warn().
				Str("subject", cert.Subject()).
				Dur("remaining", cert.TimeRemaining(time.Now())).
				Msg("Client certificate expires soon")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := newWorker(store, nil).SetClientCredentials(relationID, tls); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Client TLS material stored")
		return nil
	},
}

var workerPublishedCmd = &cobra.Command{
	Use:   "published",
	Short: "Print the fields this worker publishes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		relationID, _ := cmd.Flags().GetString("relation-id")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		return printPublished(cmd, store, relationID)
	},
}

type publishedStore interface {
	GetPublished(relationID string) (map[string]string, error)
}

func printPublished(cmd *cobra.Command, store publishedStore, relationID string) error {
	fields, err := store.GetPublished(relationID)
	if err != nil {
		return fmt.Errorf("failed to read published fields: %w", err)
	}
	for _, k := range sortedKeys(fields) {
		if k == relation.FieldClientKey {
			fmt.Fprintf(cmd.OutOrStdout(), "%s=<redacted>\n", k)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, fields[k])
	}
	return nil
}

func init() {
	workerCmd.AddCommand(workerHandleCmd)
	workerCmd.AddCommand(workerAnnounceCmd)
	workerCmd.AddCommand(workerClientTLSCmd)
	workerCmd.AddCommand(workerPublishedCmd)

	addEventFlags(workerHandleCmd)

	for _, c := range []*cobra.Command{workerAnnounceCmd, workerClientTLSCmd, workerPublishedCmd} {
		c.Flags().String("relation-id", "", "Relation id (required)")
		_ = c.MarkFlagRequired("relation-id")
	}

	workerAnnounceCmd.Flags().String("hostname", "", "Node name to register (required)")
	workerAnnounceCmd.Flags().Int("executors", 1, "Executor count before the coordinator's multiplier")
	workerAnnounceCmd.Flags().String("labels", "", "Labels, space or comma separated")
	workerAnnounceCmd.Flags().String("connection-string", "", "Endpoint the coordinator should connect to")
	_ = workerAnnounceCmd.MarkFlagRequired("hostname")

	workerClientTLSCmd.Flags().String("key-file", "", "PEM client key (required)")
	workerClientTLSCmd.Flags().String("cert-file", "", "PEM client certificate (required)")
	workerClientTLSCmd.Flags().String("ca-file", "", "PEM CA certificate (required)")
	_ = workerClientTLSCmd.MarkFlagRequired("key-file")
	_ = workerClientTLSCmd.MarkFlagRequired("cert-file")
	_ = workerClientTLSCmd.MarkFlagRequired("ca-file")
}
