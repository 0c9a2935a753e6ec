package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/jenkins-relay/pkg/events"
	"github.com/cuemby/jenkins-relay/pkg/log"
	"github.com/cuemby/jenkins-relay/pkg/metrics"
	"github.com/cuemby/jenkins-relay/pkg/relation"
	"github.com/cuemby/jenkins-relay/pkg/security"
	"github.com/cuemby/jenkins-relay/pkg/storage"
	"github.com/cuemby/jenkins-relay/pkg/types"
)

// NodeRegistry mutates the coordinator's node list. Both operations must be
// idempotent.
type NodeRegistry interface {
	Create(ctx context.Context, creds types.Credentials, rec *types.WorkerRecord) error
	Delete(ctx context.Context, creds types.Credentials, hostname string) error
}

// CredentialSource resolves the admin credentials
type CredentialSource interface {
	Resolve() (types.Credentials, error)
}

// CoordinatorConfig holds configuration for the coordinator engine
type CoordinatorConfig struct {
	RelationName      string
	URL               string // advertised to workers
	ManageCredentials bool   // publish username/password on join
}

// Result describes what handling one event did
type Result struct {
	Event     types.RelationEvent
	Phase     types.Phase // phase after the event; PhaseRetired if removed
	Flags     types.Flags
	Commands  []Command
	Published map[string]string
	Deferred  string
}

// Coordinator is the coordinator side of the reconciliation engine. Events
// are handled one at a time.
type Coordinator struct {
	cfg    CoordinatorConfig
	store  storage.Store
	nodes  NodeRegistry
	creds  CredentialSource
	broker *events.Broker
	now    func() time.Time

	mu sync.Mutex
}

// NewCoordinator creates a coordinator engine. broker may be nil.
func NewCoordinator(cfg *CoordinatorConfig, store storage.Store, nodes NodeRegistry, creds CredentialSource, broker *events.Broker) *Coordinator {
	return &Coordinator{
		cfg:    *cfg,
		store:  store,
		nodes:  nodes,
		creds:  creds,
		broker: broker,
		now:    time.Now,
	}
}

// Handle applies one relation event. On error no flag is advanced, so a
// later event can retry.
func (c *Coordinator) Handle(ctx context.Context, ev types.RelationEvent) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.EventDuration, string(ev.Kind))

	res, err := c.handle(ctx, ev)
	result := "success"
	switch {
	case err != nil:
		result = "error"
	case res.Deferred != "":
		result = "deferred"
	}
	metrics.EventsTotal.WithLabelValues(string(ev.Kind), result).Inc()
	updateInstanceGauge(c.store)
	return res, err
}

func (c *Coordinator) handle(ctx context.Context, ev types.RelationEvent) (*Result, error) {
	logger := log.WithRelation("reconciler", ev.RelationID, ev.RemoteUnit)

	if ev.Kind == types.EventBroken {
		return c.handleBroken(ctx, ev)
	}
	if ev.RemoteUnit == "" {
		return nil, fmt.Errorf("%s event on %s without remote unit", ev.Kind, ev.RelationID)
	}

	cur, err := c.store.GetRelation(ev.RelationID, ev.RemoteUnit)
	if errors.Is(err, storage.ErrNotFound) {
		cur = newState(ev.RelationID, ev.RemoteUnit)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load relation state: %w", err)
	}

	var tr Transition
	switch ev.Kind {
	case types.EventJoined:
		tr = coordinatorJoined(cur, c.cfg.URL, c.cfg.ManageCredentials, c.now())
	case types.EventChanged:
		tr = coordinatorChanged(cur, relation.Fields(ev.Fields), c.now())
	case types.EventDeparted:
		tr = coordinatorDeparted(ev.RemoteUnit)
	default:
		return nil, fmt.Errorf("unsupported event kind %q", ev.Kind)
	}

	res := &Result{Event: ev, Commands: tr.Commands, Deferred: tr.Deferred}
	if tr.Deferred != "" {
		logger.Info().Str("reason", tr.Deferred).Msg("Not all required relation settings received yet, skipping")
		res.Phase, res.Flags = cur.Phase, cur.Flags
		return res, nil
	}

	nextPhase := types.PhaseRetired
	if tr.Next != nil {
		nextPhase = tr.Next.Phase
	}
	if !ValidTransition(cur.Phase, nextPhase) {
		return nil, fmt.Errorf("invalid transition %s -> %s on %s", cur.Phase, nextPhase, cur.Key())
	}

	published, err := c.execute(ctx, ev.RelationID, tr.Commands)
	if err != nil {
		logger.Error().Err(err).Str("event", string(ev.Kind)).Msg("Failed to handle relation event")
		return nil, err
	}
	res.Published = published

	if tr.Next == nil {
		if err := c.store.DeleteRelation(ev.RelationID, ev.RemoteUnit); err != nil {
			return nil, fmt.Errorf("failed to retire relation instance: %w", err)
		}
		res.Phase = types.PhaseRetired
		logger.Info().Str("hostname", relation.NormalizeHostname(ev.RemoteUnit)).Msg("Worker departed")
		c.emit(events.EventRelationDeparted, ev, map[string]string{"hostname": relation.NormalizeHostname(ev.RemoteUnit)})
		return res, nil
	}

	if err := c.store.PutRelation(tr.Next); err != nil {
		return nil, fmt.Errorf("failed to save relation state: %w", err)
	}
	res.Phase, res.Flags = tr.Next.Phase, tr.Next.Flags

	if !cur.Flags.Connected && tr.Next.Flags.Connected {
		c.emit(events.EventRelationConnected, ev, nil)
	}
	if !cur.Flags.Available && tr.Next.Flags.Available {
		logger.Info().Str("hostname", tr.Next.Hostname).Msg("Registration from worker complete")
		c.emit(events.EventRelationAvailable, ev, map[string]string{"hostname": tr.Next.Hostname})
	}
	if tr.Next.Flags.TLSAvailable {
		c.checkClientMaterial(ev)
	}
	return res, nil
}

// checkClientMaterial warns about TLS material the coordinator will not be
// able to use. The flag itself only tracks presence.
func (c *Coordinator) checkClientMaterial(ev types.RelationEvent) {
	logger := log.WithRelation("reconciler", ev.RelationID, ev.RemoteUnit)
	now := c.now()

	cert, err := security.VerifyClientMaterial(relation.ParseTLSMaterial(relation.Fields(ev.Fields)), now)
	if err != nil {
		logger.Warn().Err(err).Msg("Client TLS material does not verify")
		return
	}
	if cert.NeedsRotation(now) {
		logger.Warn().
			Str("subject", cert.Subject()).
			Dur("remaining", cert.TimeRemaining(now)).
			Msg("Client certificate expires soon")
	}
}

// handleBroken retires every instance known on the relation id. Instances
// stay stored if any deletion fails.
func (c *Coordinator) handleBroken(ctx context.Context, ev types.RelationEvent) (*Result, error) {
	logger := log.WithRelation("reconciler", ev.RelationID, "")

	known, err := c.store.ListRelationsByID(ev.RelationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list relation instances: %w", err)
	}

	tr := coordinatorBroken(known)
	for _, cmd := range tr.Commands {
		logger.Info().Str("hostname", cmd.Hostname).Msg("Removing node from coordinator")
	}

	if _, err := c.execute(ctx, ev.RelationID, tr.Commands); err != nil {
		logger.Error().Err(err).Msg("Failed to handle relation broken")
		return nil, err
	}

	for _, s := range known {
		if err := c.store.DeleteRelation(s.RelationID, s.RemoteUnit); err != nil {
			return nil, fmt.Errorf("failed to retire relation instance: %w", err)
		}
	}
	// Reset to a clean state in case the relation is re-established.
	if err := c.store.DeletePublished(ev.RelationID); err != nil {
		return nil, fmt.Errorf("failed to clear published fields: %w", err)
	}

	c.emit(events.EventRelationBroken, ev, map[string]string{"instances": fmt.Sprint(len(known))})
	return &Result{Event: ev, Phase: types.PhaseRetired, Commands: tr.Commands}, nil
}

// execute runs commands in order and stops at the first failure.
// Credentials are resolved once, and only if a command needs them.
func (c *Coordinator) execute(ctx context.Context, relationID string, cmds []Command) (map[string]string, error) {
	var (
		creds    types.Credentials
		resolved bool
	)
	resolve := func() error {
		if resolved {
			return nil
		}
		var err error
		creds, err = c.creds.Resolve()
		if err != nil {
			return fmt.Errorf("failed to resolve credentials: %w", err)
		}
		resolved = true
		return nil
	}

	published := make(map[string]string)
	for _, cmd := range cmds {
		switch cmd.Kind {
		case CmdPublish:
			for k, v := range cmd.Fields {
				published[k] = v
			}
		case CmdPublishCredentials:
			if err := resolve(); err != nil {
				return nil, err
			}
			published[relation.FieldUsername] = creds.Username
			published[relation.FieldPassword] = creds.Password
		case CmdRegister:
			if err := resolve(); err != nil {
				return nil, err
			}
			if err := c.nodes.Create(ctx, creds, cmd.Record); err != nil {
				return nil, err
			}
			c.emit(events.EventNodeRegistered, types.RelationEvent{RelationID: relationID}, map[string]string{"hostname": cmd.Record.Hostname})
		case CmdUnregister:
			if err := resolve(); err != nil {
				return nil, err
			}
			if err := c.nodes.Delete(ctx, creds, cmd.Hostname); err != nil {
				return nil, err
			}
			c.emit(events.EventNodeRemoved, types.RelationEvent{RelationID: relationID}, map[string]string{"hostname": cmd.Hostname})
		default:
			return nil, fmt.Errorf("unknown command %q", cmd.Kind)
		}
	}

	if len(published) > 0 {
		if err := c.store.PutPublished(relationID, published); err != nil {
			return nil, fmt.Errorf("failed to publish relation fields: %w", err)
		}
	}
	return published, nil
}

func (c *Coordinator) emit(t events.EventType, ev types.RelationEvent, meta map[string]string) {
	if c.broker == nil {
		return
	}
	md := map[string]string{"relation_id": ev.RelationID}
	if ev.RemoteUnit != "" {
		md["remote_unit"] = ev.RemoteUnit
	}
	for k, v := range meta {
		md[k] = v
	}
	c.broker.Publish(&events.Event{Type: t, Metadata: md, Message: fmt.Sprintf("%s on %s", t, ev.RelationID)})
}

// Nodes returns the registered workers across all relation instances,
// sorted by hostname.
func (c *Coordinator) Nodes() ([]*types.WorkerRecord, error) {
	states, err := c.store.ListRelations()
	if err != nil {
		return nil, err
	}

	var nodes []*types.WorkerRecord
	for _, s := range states {
		if !s.Flags.Available || s.Hostname == "" {
			continue
		}
		nodes = append(nodes, &types.WorkerRecord{
			Hostname:  s.Hostname,
			Executors: s.Executors,
			Labels:    s.Labels,
		})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Hostname < nodes[j].Hostname })
	return nodes, nil
}

// Flags returns the relation-wide flags: a flag is set when any instance
// has it set.
func (c *Coordinator) Flags() (types.Flags, error) {
	return AggregateFlags(c.store)
}

// RelationName is the prefix used for flag names
func (c *Coordinator) RelationName() string {
	return c.cfg.RelationName
}

// AggregateFlags ORs the flags of every stored relation instance
func AggregateFlags(store storage.Store) (types.Flags, error) {
	states, err := store.ListRelations()
	if err != nil {
		return types.Flags{}, err
	}
	var f types.Flags
	for _, s := range states {
		f.Connected = f.Connected || s.Flags.Connected
		f.Available = f.Available || s.Flags.Available
		f.TLSAvailable = f.TLSAvailable || s.Flags.TLSAvailable
	}
	return f, nil
}

func updateInstanceGauge(store storage.Store) {
	states, err := store.ListRelations()
	if err != nil {
		return
	}
	counts := map[types.Phase]int{
		types.PhaseIdle:      0,
		types.PhaseConnected: 0,
		types.PhaseAvailable: 0,
	}
	for _, s := range states {
		counts[s.Phase]++
	}
	for phase, n := range counts {
		metrics.RelationInstances.WithLabelValues(string(phase)).Set(float64(n))
	}
}
