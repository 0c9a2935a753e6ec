package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/jenkins-relay/pkg/events"
	"github.com/cuemby/jenkins-relay/pkg/log"
	"github.com/cuemby/jenkins-relay/pkg/metrics"
	"github.com/cuemby/jenkins-relay/pkg/relation"
	"github.com/cuemby/jenkins-relay/pkg/storage"
	"github.com/cuemby/jenkins-relay/pkg/types"
)

// WorkerConfig holds configuration for the worker engine
type WorkerConfig struct {
	RelationName string
}

// WorkerResult extends Result with what the coordinator has published
type WorkerResult struct {
	Result
	Coordinator *relation.CoordinatorInfo // nil until the coordinator published its url
}

// Worker is the worker side of the relation. It never calls the
// management API; it only tracks the connected flag and publishes its own
// fields.
type Worker struct {
	cfg    WorkerConfig
	store  storage.Store
	broker *events.Broker
	now    func() time.Time

	mu sync.Mutex
}

// NewWorker creates a worker engine. broker may be nil.
func NewWorker(cfg *WorkerConfig, store storage.Store, broker *events.Broker) *Worker {
	return &Worker{
		cfg:    *cfg,
		store:  store,
		broker: broker,
		now:    time.Now,
	}
}

// Handle applies one relation event on the worker side
func (w *Worker) Handle(ctx context.Context, ev types.RelationEvent) (*WorkerResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.EventDuration, string(ev.Kind))

	res, err := w.handle(ev)
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.EventsTotal.WithLabelValues(string(ev.Kind), result).Inc()
	updateInstanceGauge(w.store)
	return res, err
}

func (w *Worker) handle(ev types.RelationEvent) (*WorkerResult, error) {
	logger := log.WithRelation("worker", ev.RelationID, ev.RemoteUnit)
	res := &WorkerResult{Result: Result{Event: ev}}

	switch ev.Kind {
	case types.EventJoined, types.EventChanged:
		cur, err := w.store.GetRelation(ev.RelationID, ev.RemoteUnit)
		if errors.Is(err, storage.ErrNotFound) {
			cur = newState(ev.RelationID, ev.RemoteUnit)
		} else if err != nil {
			return nil, fmt.Errorf("failed to load relation state: %w", err)
		}

		tr := workerConnected(cur, w.now())
		if err := w.store.PutRelation(tr.Next); err != nil {
			return nil, fmt.Errorf("failed to save relation state: %w", err)
		}
		res.Phase, res.Flags = tr.Next.Phase, tr.Next.Flags
		if !cur.Flags.Connected {
			logger.Info().Msg("Connected to coordinator")
			w.emit(events.EventRelationConnected, ev)
		}

		published, err := w.store.GetPublished(ev.RelationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load published fields: %w", err)
		}
		if len(published) > 0 {
			res.Published = published
		}

		if info, err := relation.ParseCoordinatorInfo(relation.Fields(ev.Fields)); err == nil {
			res.Coordinator = info
		} else {
			logger.Debug().Err(err).Msg("Coordinator url not published yet")
		}
		return res, nil

	case types.EventDeparted, types.EventBroken:
		known, err := w.instances(ev)
		if err != nil {
			return nil, err
		}
		for _, s := range known {
			if err := w.store.DeleteRelation(s.RelationID, s.RemoteUnit); err != nil {
				return nil, fmt.Errorf("failed to retire relation instance: %w", err)
			}
		}
		if ev.Kind == types.EventBroken {
			if err := w.store.DeletePublished(ev.RelationID); err != nil {
				return nil, fmt.Errorf("failed to clear published fields: %w", err)
			}
		}
		res.Phase = types.PhaseRetired
		logger.Info().Str("event", string(ev.Kind)).Msg("Disconnected from coordinator")
		if ev.Kind == types.EventBroken {
			w.emit(events.EventRelationBroken, ev)
		} else {
			w.emit(events.EventRelationDeparted, ev)
		}
		return res, nil
	}

	return nil, fmt.Errorf("unsupported event kind %q", ev.Kind)
}

func (w *Worker) instances(ev types.RelationEvent) ([]*types.RelationState, error) {
	if ev.Kind == types.EventBroken || ev.RemoteUnit == "" {
		known, err := w.store.ListRelationsByID(ev.RelationID)
		if err != nil {
			return nil, fmt.Errorf("failed to list relation instances: %w", err)
		}
		return known, nil
	}
	return []*types.RelationState{{RelationID: ev.RelationID, RemoteUnit: ev.RemoteUnit}}, nil
}

// Announce publishes the worker's registration fields
func (w *Worker) Announce(relationID string, rec *types.WorkerRecord) error {
	if rec.Hostname == "" || rec.Executors <= 0 {
		return fmt.Errorf("worker record needs a hostname and a positive executor count")
	}
	return w.publish(relationID, relation.WorkerFields(rec))
}

// SetConnectionString publishes the endpoint the coordinator should connect to
func (w *Worker) SetConnectionString(relationID, connectionString string) error {
	return w.publish(relationID, map[string]string{relation.FieldConnectionString: connectionString})
}

// SetClientCredentials publishes TLS client material for the coordinator
func (w *Worker) SetClientCredentials(relationID string, tls relation.TLSMaterial) error {
	return w.publish(relationID, map[string]string{
		relation.FieldClientKey:  tls.Key,
		relation.FieldClientCert: tls.Cert,
		relation.FieldClientCA:   tls.CA,
	})
}

func (w *Worker) publish(relationID string, fields map[string]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.store.PutPublished(relationID, fields); err != nil {
		return fmt.Errorf("failed to publish relation fields: %w", err)
	}
	return nil
}

// Flags returns the relation-wide worker flags
func (w *Worker) Flags() (types.Flags, error) {
	return AggregateFlags(w.store)
}

// RelationName is the prefix used for flag names
func (w *Worker) RelationName() string {
	return w.cfg.RelationName
}

func (w *Worker) emit(t events.EventType, ev types.RelationEvent) {
	if w.broker == nil {
		return
	}
	md := map[string]string{"relation_id": ev.RelationID}
	if ev.RemoteUnit != "" {
		md["remote_unit"] = ev.RemoteUnit
	}
	w.broker.Publish(&events.Event{Type: t, Metadata: md, Message: fmt.Sprintf("%s on %s", t, ev.RelationID)})
}
