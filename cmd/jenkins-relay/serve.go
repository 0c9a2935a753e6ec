package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/jenkins-relay/pkg/events"
	"github.com/cuemby/jenkins-relay/pkg/health"
	"github.com/cuemby/jenkins-relay/pkg/log"
	"github.com/cuemby/jenkins-relay/pkg/metrics"
	"github.com/cuemby/jenkins-relay/pkg/reconciler"
	"github.com/cuemby/jenkins-relay/pkg/storage"
	"github.com/cuemby/jenkins-relay/pkg/types"
	"github.com/spf13/cobra"
)

const (
	maxEventBody = 1 << 20

	// eventTimeout bounds one event, retries included
	eventTimeout = 2 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept relation events over HTTP",
	Long: `Run a long-lived relay for the configured role.

Events are POSTed as JSON to /events and handled strictly one at a time:

  {"kind": "changed", "relation_id": "jenkins-slave:3", "remote_unit": "slave/3",
   "fields": {"slavehost": "slave-3", "executors": "4"}}

The server also exposes /flags, /metrics, /health, /ready and /live. On the
coordinator, /health includes a periodic probe of the coordinator URL.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			listen = cfg.Serve.Listen
		}
		logger := log.WithComponent("serve")

		store, err := openStore()
		if err != nil {
			metrics.SetComponent("store", false, err.Error())
			return err
		}
		defer store.Close()
		metrics.SetComponent("store", true, "open")

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()
		done := make(chan struct{})
		defer close(done)
		go logEvents(broker, done)

		handle, err := newEventHandler(store, broker)
		if err != nil {
			metrics.SetComponent("engine", false, err.Error())
			return err
		}

		dispatcher := reconciler.NewDispatcher(handle, 64)
		dispatcher.Start()
		defer dispatcher.Stop()
		metrics.SetComponent("engine", true, string(cfg.Role))

		probeCtx, stopProbe := context.WithCancel(context.Background())
		defer stopProbe()
		if cfg.Role == types.RoleCoordinator {
			probeCfg := health.DefaultConfig()
			probeCfg.Timeout = cfg.Coordinator.Timeout
			checker := health.NewHTTPChecker(cfg.CoordinatorURL(), cfg.Coordinator.Timeout)
			go health.NewMonitor("coordinator", checker, probeCfg).Run(probeCtx)
		}

		// Events are detached from their request; cancelled after shutdown.
		eventCtx, stopEvents := context.WithCancel(context.Background())
		defer stopEvents()

		server := &http.Server{
			Addr:              listen,
			Handler:           newServeMux(eventCtx, dispatcher.Submit, func() (types.Flags, error) { return relationFlags(store) }),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server error: %w", err)
			}
		}()
		logger.Info().Str("listen", listen).Str("role", string(cfg.Role)).Msg("Relay listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		case err := <-errCh:
			metrics.SetComponent("engine", false, err.Error())
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "Listen address (overrides serve.listen)")
}

// newEventHandler builds the handler for the configured role. It runs on
// the dispatcher goroutine, so flags are read before the next event.
func newEventHandler(store storage.Store, broker *events.Broker) (reconciler.HandleFunc, error) {
	if cfg.Role == types.RoleWorker {
		w := newWorker(store, broker)
		return func(ctx context.Context, ev types.RelationEvent) (any, error) {
			res, err := w.Handle(ctx, ev)
			if err != nil {
				return nil, err
			}
			flags, err := w.Flags()
			if err != nil {
				return nil, err
			}
			out := newHandleOutput(&res.Result, flags, w.RelationName())
			if res.Coordinator != nil {
				out.Coordinator = res.Coordinator.URL
			}
			return out, nil
		}, nil
	}

	coord, err := newCoordinator(store, broker)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, ev types.RelationEvent) (any, error) {
		res, err := coord.Handle(ctx, ev)
		if err != nil {
			return nil, err
		}
		flags, err := coord.Flags()
		if err != nil {
			return nil, err
		}
		return newHandleOutput(res, flags, coord.RelationName()), nil
	}, nil
}

type submitFunc func(ctx context.Context, ev types.RelationEvent) (any, error)

// newServeMux routes the relay endpoints. Events run under ctx, not the
// request context.
func newServeMux(ctx context.Context, submit submitFunc, flags func() (types.Flags, error)) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /events", func(w http.ResponseWriter, r *http.Request) {
		var ev types.RelationEvent
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody)).Decode(&ev); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid event: %w", err))
			return
		}
		kind, err := types.ParseEventKind(string(ev.Kind))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ev.Kind = kind
		if ev.RelationID == "" {
			writeError(w, http.StatusBadRequest, errors.New("relation_id is required"))
			return
		}

		evCtx, cancel := context.WithTimeout(ctx, eventTimeout)
		defer cancel()
		out, err := submit(evCtx, ev)
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("GET /flags", func(w http.ResponseWriter, r *http.Request) {
		f, err := flags()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		names := f.Names(cfg.Relation)
		if names == nil {
			names = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"flags": names})
	})

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /health", metrics.HealthHandler())
	mux.HandleFunc("GET /ready", metrics.ReadyHandler())
	mux.HandleFunc("GET /live", metrics.LivenessHandler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// logEvents mirrors broker events into the log until done is closed
func logEvents(broker *events.Broker, done <-chan struct{}) {
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	logger := log.WithComponent("events")
	for {
		select {
		case ev := <-sub:
			entry := logger.Info().Str("event_id", ev.ID).Str("type", string(ev.Type))
			for k, v := range ev.Metadata {
				entry = entry.Str(k, v)
			}
			entry.Msg(ev.Message)
		case <-done:
			return
		}
	}
}
