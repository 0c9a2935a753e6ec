package types

import (
	"fmt"
	"strings"
	"time"
)

// ExecutorMultiplier is applied to the executor count a worker announces
// before it is sent to the coordinator.
const ExecutorMultiplier = 2

// Role identifies which side of the relation a process is running on
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleWorker      Role = "worker"
)

// WorkerRecord is the per-worker data needed to register a node
type WorkerRecord struct {
	Hostname  string
	Executors int
	Labels    []string // sorted, deduplicated
	Endpoint  string   // optional connection string supplied by the worker
}

// EffectiveExecutors returns the executor count sent to the coordinator
func (w *WorkerRecord) EffectiveExecutors() int {
	return w.Executors * ExecutorMultiplier
}

// LabelString joins the labels the way the coordinator API expects them
func (w *WorkerRecord) LabelString() string {
	return strings.Join(w.Labels, " ")
}

// Credentials authenticate against the coordinator management API
type Credentials struct {
	Username string
	Password string
}

// String never exposes the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username: %q}", c.Username)
}

// Flags are the local availability flags of one relation instance
type Flags struct {
	Connected    bool `json:"connected"`
	Available    bool `json:"available"`
	TLSAvailable bool `json:"tls_available"`
}

// Valid reports whether the flags respect available => connected
func (f Flags) Valid() bool {
	return !f.Available || f.Connected
}

// Names renders the set flags with the relation name prefix, e.g.
// "jenkins-slave.connected".
func (f Flags) Names(relation string) []string {
	var names []string
	if f.Connected {
		names = append(names, relation+".connected")
	}
	if f.Available {
		names = append(names, relation+".available")
	}
	if f.TLSAvailable {
		names = append(names, relation+".tls.available")
	}
	return names
}

// RelationState is the persisted state of one relation instance, i.e. one
// remote unit seen through one relation id.
type RelationState struct {
	RelationID string    `json:"relation_id"`
	RemoteUnit string    `json:"remote_unit"`
	Phase      Phase     `json:"phase"`
	Flags      Flags     `json:"flags"`
	Hostname   string    `json:"hostname,omitempty"` // registered node name
	Executors  int       `json:"executors,omitempty"`
	Labels     []string  `json:"labels,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Key uniquely identifies the relation instance
func (s *RelationState) Key() string {
	return InstanceKey(s.RelationID, s.RemoteUnit)
}

// InstanceKey builds the storage key for a relation id and remote unit
func InstanceKey(relationID, remoteUnit string) string {
	return relationID + "|" + remoteUnit
}

// Clone returns a deep copy so transitions never mutate committed state
func (s *RelationState) Clone() *RelationState {
	c := *s
	if s.Labels != nil {
		c.Labels = append([]string(nil), s.Labels...)
	}
	return &c
}

// Phase is the lifecycle phase of a relation instance
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseConnected Phase = "connected"
	PhaseAvailable Phase = "available"
	PhaseRetired   Phase = "retired"
)

// EventKind is a relation lifecycle event
type EventKind string

const (
	EventJoined   EventKind = "joined"
	EventChanged  EventKind = "changed"
	EventDeparted EventKind = "departed"
	EventBroken   EventKind = "broken"
)

// ParseEventKind accepts the hook names the surrounding framework uses
func ParseEventKind(s string) (EventKind, error) {
	switch EventKind(strings.ToLower(strings.TrimSpace(s))) {
	case EventJoined:
		return EventJoined, nil
	case EventChanged:
		return EventChanged, nil
	case EventDeparted:
		return EventDeparted, nil
	case EventBroken:
		return EventBroken, nil
	}
	return "", fmt.Errorf("unknown relation event %q", s)
}

// RelationEvent is one delivery from the relation channel
type RelationEvent struct {
	Kind       EventKind         `json:"kind"`
	RelationID string            `json:"relation_id"`           // e.g. "jenkins-slave:3"
	RemoteUnit string            `json:"remote_unit,omitempty"` // e.g. "slave/3", empty for broken
	Fields     map[string]string `json:"fields,omitempty"`      // snapshot of the remote side's fields
}
