package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/cuemby/jenkins-relay/pkg/credentials"
	"github.com/cuemby/jenkins-relay/pkg/events"
	"github.com/cuemby/jenkins-relay/pkg/management"
	"github.com/cuemby/jenkins-relay/pkg/reconciler"
	"github.com/cuemby/jenkins-relay/pkg/storage"
	"github.com/cuemby/jenkins-relay/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func openStore() (*storage.BoltStore, error) {
	store, err := storage.NewBoltStore(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state: %w", err)
	}
	return store, nil
}

func newProvider() *credentials.Provider {
	return credentials.NewProvider(credentials.Config{
		Username: cfg.Coordinator.Username,
		Password: cfg.Coordinator.Password,
		Home:     cfg.Coordinator.Home,
	})
}

func newCoordinator(store storage.Store, broker *events.Broker) (*reconciler.Coordinator, error) {
	api, err := management.NewHTTPAPI(cfg.CoordinatorURL(), cfg.Coordinator.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create management client: %w", err)
	}
	client := management.NewClient(api, &management.Config{
		Retries:    cfg.Coordinator.Retries,
		RetryDelay: cfg.Coordinator.RetryDelay,
		RemoteFS:   cfg.Coordinator.RemoteFS,
	})

	return reconciler.NewCoordinator(&reconciler.CoordinatorConfig{
		RelationName:      cfg.Relation,
		URL:               cfg.CoordinatorURL(),
		ManageCredentials: cfg.Coordinator.ManageCredentials,
	}, store, client, newProvider(), broker), nil
}

func newWorker(store storage.Store, broker *events.Broker) *reconciler.Worker {
	return reconciler.NewWorker(&reconciler.WorkerConfig{RelationName: cfg.Relation}, store, broker)
}

func relationFlags(store storage.Store) (types.Flags, error) {
	flags, err := reconciler.AggregateFlags(store)
	if err != nil {
		return types.Flags{}, fmt.Errorf("failed to read flags: %w", err)
	}
	return flags, nil
}

// addEventFlags registers the flags describing one relation event
func addEventFlags(cmd *cobra.Command) {
	cmd.Flags().String("relation-id", "", "Relation id, e.g. jenkins-slave:3 (required)")
	cmd.Flags().String("unit", "", "Remote unit, e.g. slave/3 (empty for broken)")
	cmd.Flags().StringArray("field", nil, "Remote field as key=value (repeatable)")
	cmd.Flags().String("fields-file", "", "YAML file with the remote fields")
	_ = cmd.MarkFlagRequired("relation-id")
}

// eventFromFlags builds the event for "handle EVENT". Fields from
// --field override those from --fields-file.
func eventFromFlags(cmd *cobra.Command, kind string) (types.RelationEvent, error) {
	ek, err := types.ParseEventKind(kind)
	if err != nil {
		return types.RelationEvent{}, err
	}
	relationID, _ := cmd.Flags().GetString("relation-id")
	unit, _ := cmd.Flags().GetString("unit")
	pairs, _ := cmd.Flags().GetStringArray("field")
	fieldsFile, _ := cmd.Flags().GetString("fields-file")

	fields := map[string]string{}
	if fieldsFile != "" {
		if fields, err = readFieldsFile(fieldsFile); err != nil {
			return types.RelationEvent{}, err
		}
	}
	parsed, err := parseFieldArgs(pairs)
	if err != nil {
		return types.RelationEvent{}, err
	}
	for k, v := range parsed {
		fields[k] = v
	}

	if ek != types.EventBroken && unit == "" {
		return types.RelationEvent{}, fmt.Errorf("--unit is required for %s events", ek)
	}

	return types.RelationEvent{
		Kind:       ek,
		RelationID: relationID,
		RemoteUnit: unit,
		Fields:     fields,
	}, nil
}

func parseFieldArgs(pairs []string) (map[string]string, error) {
	fields := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", p)
		}
		fields[k] = v
	}
	return fields, nil
}

func readFieldsFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fields file: %w", err)
	}
	fields := map[string]string{}
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse fields file: %w", err)
	}
	return fields, nil
}

// handleOutput is what a handle command prints for the hook to act on
type handleOutput struct {
	Event       types.EventKind   `yaml:"event" json:"event"`
	RelationID  string            `yaml:"relation_id" json:"relation_id"`
	RemoteUnit  string            `yaml:"remote_unit,omitempty" json:"remote_unit,omitempty"`
	Phase       types.Phase       `yaml:"phase" json:"phase"`
	Flags       []string          `yaml:"flags" json:"flags"`
	Commands    []string          `yaml:"commands,omitempty" json:"commands,omitempty"`
	Published   map[string]string `yaml:"published,omitempty" json:"published,omitempty"`
	Deferred    string            `yaml:"deferred,omitempty" json:"deferred,omitempty"`
	Coordinator string            `yaml:"coordinator_url,omitempty" json:"coordinator_url,omitempty"`
}

func newHandleOutput(res *reconciler.Result, flags types.Flags, relationName string) *handleOutput {
	out := &handleOutput{
		Event:      res.Event.Kind,
		RelationID: res.Event.RelationID,
		RemoteUnit: res.Event.RemoteUnit,
		Phase:      res.Phase,
		Flags:      flags.Names(relationName),
		Published:  res.Published,
		Deferred:   res.Deferred,
	}
	if out.Flags == nil {
		out.Flags = []string{}
	}
	for _, c := range res.Commands {
		out.Commands = append(out.Commands, c.String())
	}
	return out
}

func printYAML(cmd *cobra.Command, v any) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
