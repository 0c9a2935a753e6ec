package reconciler

import (
	"fmt"
	"time"

	"github.com/cuemby/jenkins-relay/pkg/relation"
	"github.com/cuemby/jenkins-relay/pkg/types"
)

// CommandKind is a side effect requested by a transition
type CommandKind string

const (
	// CmdPublish writes fields onto the relation for the remote side
	CmdPublish CommandKind = "publish"
	// CmdPublishCredentials publishes the resolved admin credentials
	CmdPublishCredentials CommandKind = "publish-credentials"
	// CmdRegister creates the worker's node on the coordinator
	CmdRegister CommandKind = "register"
	// CmdUnregister deletes a node from the coordinator
	CmdUnregister CommandKind = "unregister"
)

// Command is one side effect to run before a transition is committed
type Command struct {
	Kind     CommandKind
	Fields   map[string]string
	Record   *types.WorkerRecord
	Hostname string
}

func (c Command) String() string {
	switch c.Kind {
	case CmdRegister:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Record.Hostname)
	case CmdUnregister:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Hostname)
	default:
		return string(c.Kind)
	}
}

// Transition is the outcome of applying one event to one relation instance.
// Next is nil when the instance is retired.
type Transition struct {
	Next     *types.RelationState
	Commands []Command
	Deferred string // set when the event was absorbed without a state change
}

var validTransitions = map[types.Phase][]types.Phase{
	types.PhaseIdle:      {types.PhaseIdle, types.PhaseConnected, types.PhaseAvailable, types.PhaseRetired},
	types.PhaseConnected: {types.PhaseConnected, types.PhaseAvailable, types.PhaseRetired},
	types.PhaseAvailable: {types.PhaseAvailable, types.PhaseRetired},
	types.PhaseRetired:   {types.PhaseConnected, types.PhaseAvailable, types.PhaseRetired},
}

// ValidTransition reports whether a relation instance may move from src to dst
func ValidTransition(src, dst types.Phase) bool {
	for _, p := range validTransitions[src] {
		if p == dst {
			return true
		}
	}
	return false
}

func newState(relationID, remoteUnit string) *types.RelationState {
	return &types.RelationState{
		RelationID: relationID,
		RemoteUnit: remoteUnit,
		Phase:      types.PhaseIdle,
	}
}

func touch(s *types.RelationState, now time.Time) *types.RelationState {
	s.UpdatedAt = now
	return s
}

// coordinatorJoined publishes the coordinator URL (and credentials when they
// are managed centrally) and marks the instance connected.
func coordinatorJoined(cur *types.RelationState, url string, manageCredentials bool, now time.Time) Transition {
	next := cur.Clone()
	next.Flags.Connected = true
	if next.Phase != types.PhaseAvailable {
		next.Phase = types.PhaseConnected
	}

	cmds := []Command{{Kind: CmdPublish, Fields: map[string]string{relation.FieldURL: url}}}
	if manageCredentials {
		cmds = append(cmds, Command{Kind: CmdPublishCredentials})
	}
	return Transition{Next: touch(next, now), Commands: cmds}
}

// coordinatorChanged registers the worker once all required fields are there.
// Completeness is judged on this snapshot alone. A worker that now reports a
// different slavehost has its previous node removed first.
func coordinatorChanged(cur *types.RelationState, fields relation.Fields, now time.Time) Transition {
	rec, err := relation.ParseWorkerRecord(fields)
	if err != nil {
		return Transition{Next: cur, Deferred: err.Error()}
	}

	next := cur.Clone()
	next.Phase = types.PhaseAvailable
	next.Flags.Connected = true
	next.Flags.Available = true
	next.Flags.TLSAvailable = relation.ParseTLSMaterial(fields).Complete()
	next.Hostname = rec.Hostname
	next.Executors = rec.Executors
	next.Labels = rec.Labels

	var cmds []Command
	if cur.Hostname != "" && cur.Hostname != rec.Hostname {
		cmds = append(cmds, Command{Kind: CmdUnregister, Hostname: cur.Hostname})
	}
	cmds = append(cmds, Command{Kind: CmdRegister, Record: rec})

	return Transition{Next: touch(next, now), Commands: cmds}
}

// coordinatorDeparted deletes the node named after the departing unit. The
// last-seen slavehost field is not consulted.
func coordinatorDeparted(remoteUnit string) Transition {
	return Transition{
		Commands: []Command{{Kind: CmdUnregister, Hostname: relation.NormalizeHostname(remoteUnit)}},
	}
}

// coordinatorBroken deletes the node of every instance still known on the
// relation.
func coordinatorBroken(known []*types.RelationState) Transition {
	cmds := make([]Command, 0, len(known))
	for _, s := range known {
		if s.RemoteUnit == "" {
			continue
		}
		cmds = append(cmds, Command{Kind: CmdUnregister, Hostname: relation.NormalizeHostname(s.RemoteUnit)})
	}
	return Transition{Commands: cmds}
}

// workerConnected is the worker side of joined and changed
func workerConnected(cur *types.RelationState, now time.Time) Transition {
	next := cur.Clone()
	next.Phase = types.PhaseConnected
	next.Flags.Connected = true
	return Transition{Next: touch(next, now)}
}
