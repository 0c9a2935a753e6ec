/*
Package reconciler keeps the coordinator's node list in line with the workers
related to it.

Every relation event is turned into a Transition by a pure function of the
stored instance state and the event's field snapshot. The engine then runs the
transition's commands (publish fields, register or unregister a node) and
commits the next state only once every command succeeded. A failed event
therefore leaves the flags where they were and a later event retries.

# Architecture

	┌─────────────────────── Coordinator ───────────────────────┐
	│                                                            │
	│  RelationEvent ──► load RelationState (storage.Store)      │
	│                        │                                   │
	│                        ▼                                   │
	│              transition function (state.go)                │
	│                        │                                   │
	│         ┌──────────────┼──────────────┐                    │
	│         ▼              ▼              ▼                    │
	│     Deferred       Commands        Next == nil             │
	│   (no change)         │          (retire instance)         │
	│                       ▼                                    │
	│        publish / register / unregister                     │
	│        (NodeRegistry, CredentialSource)                    │
	│                       │                                    │
	│                       ▼                                    │
	│           commit Next, emit events.Event                   │
	└────────────────────────────────────────────────────────────┘

# Phases

	idle ──joined──► connected ──changed (complete)──► available
	  │                  │                                 │
	  └──────────────────┴──── departed / broken ──────────┴──► retired

A changed event whose snapshot lacks slavehost, executors or labels is
deferred: no node is created and no flag moves. Completeness is judged on the
snapshot alone, never on what earlier events carried.

Departed events delete the node named after the departing unit
("slave/3" becomes "slave-3"). Broken events carry no unit, so every instance
still stored for the relation id is unregistered.

# Concurrency

Coordinator.Handle and Worker.Handle serialize on a mutex. The Dispatcher
feeds events from a single goroutine for long-running use:

	d := reconciler.NewDispatcher(handle, 64)
	d.Start()
	defer d.Stop()
	out, err := d.Submit(ctx, ev)

# Usage

	coord := reconciler.NewCoordinator(&reconciler.CoordinatorConfig{
		RelationName:      "jenkins-slave",
		URL:               "http://10.0.0.5:8080/",
		ManageCredentials: true,
	}, store, client, provider, broker)

	res, err := coord.Handle(ctx, types.RelationEvent{
		Kind:       types.EventChanged,
		RelationID: "jenkins-slave:3",
		RemoteUnit: "slave/3",
		Fields:     map[string]string{"slavehost": "slave-3", "executors": "4", "labels": "linux"},
	})
*/
package reconciler
