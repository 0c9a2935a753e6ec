package relation

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/cuemby/jenkins-relay/pkg/types"
)

// Field keys exchanged over the relation
const (
	// coordinator -> worker
	FieldURL      = "url"
	FieldUsername = "username"
	FieldPassword = "password"

	// worker -> coordinator
	FieldSlaveHost        = "slavehost"
	FieldExecutors        = "executors"
	FieldLabels           = "labels"
	FieldConnectionString = "connection_string"
	FieldClientKey        = "client_key"
	FieldClientCert       = "client_cert"
	FieldClientCA         = "client_ca"
)

// RequiredWorkerFields must all be present before a worker can be registered
var RequiredWorkerFields = []string{FieldExecutors, FieldLabels, FieldSlaveHost}

// IncompleteDataError reports that a snapshot is not yet usable. It is not a
// failure: a later change event is expected to complete the data.
type IncompleteDataError struct {
	Missing []string
	Reason  string
}

func (e *IncompleteDataError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("incomplete relation data (missing=%s)", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("incomplete relation data: %s", e.Reason)
}

// IsIncomplete reports whether err is an IncompleteDataError
func IsIncomplete(err error) bool {
	var incomplete *IncompleteDataError
	return errors.As(err, &incomplete)
}

// Fields is a snapshot of one side's relation data
type Fields map[string]string

// Missing returns the keys from keys that are absent. A key present with an
// empty value counts as present.
func (f Fields) Missing(keys ...string) []string {
	var missing []string
	for _, k := range keys {
		if _, ok := f[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

// NormalizeHostname turns a unit identity such as "slave/3" into a node
// name the coordinator accepts ("slave-3").
func NormalizeHostname(unit string) string {
	return strings.ReplaceAll(strings.TrimSpace(unit), "/", "-")
}

// ParseLabels splits a label field on whitespace and commas. The result is
// sorted and deduplicated.
func ParseLabels(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	seen := make(map[string]struct{}, len(parts))
	labels := make([]string, 0, len(parts))
	for _, p := range parts {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		labels = append(labels, p)
	}
	sort.Strings(labels)
	return labels
}

// ParseWorkerRecord is the single validation point between the untyped
// relation data and a WorkerRecord. It returns an IncompleteDataError while
// the worker has not published everything yet.
func ParseWorkerRecord(f Fields) (*types.WorkerRecord, error) {
	if missing := f.Missing(RequiredWorkerFields...); len(missing) > 0 {
		return nil, &IncompleteDataError{Missing: missing}
	}

	// An unset field can surface as an empty value rather than an absent key.
	host := NormalizeHostname(f[FieldSlaveHost])
	if host == "" {
		return nil, &IncompleteDataError{Reason: "slave host not yet defined"}
	}

	executors, err := strconv.Atoi(strings.TrimSpace(f[FieldExecutors]))
	if err != nil || executors <= 0 {
		return nil, &IncompleteDataError{Reason: fmt.Sprintf("invalid executors value %q", f[FieldExecutors])}
	}

	return &types.WorkerRecord{
		Hostname:  host,
		Executors: executors,
		Labels:    ParseLabels(f[FieldLabels]),
		Endpoint:  strings.TrimSpace(f[FieldConnectionString]),
	}, nil
}

// WorkerFields renders a WorkerRecord as the fields a worker publishes
func WorkerFields(rec *types.WorkerRecord) Fields {
	f := Fields{
		FieldSlaveHost: rec.Hostname,
		FieldExecutors: strconv.Itoa(rec.Executors),
		FieldLabels:    rec.LabelString(),
	}
	if rec.Endpoint != "" {
		f[FieldConnectionString] = rec.Endpoint
	}
	return f
}

// TLSMaterial is the client TLS material a worker may publish
type TLSMaterial struct {
	Key  string
	Cert string
	CA   string
}

// Complete reports whether all three parts are set
func (t TLSMaterial) Complete() bool {
	return t.Key != "" && t.Cert != "" && t.CA != ""
}

// ParseTLSMaterial extracts the TLS client fields
func ParseTLSMaterial(f Fields) TLSMaterial {
	return TLSMaterial{
		Key:  f[FieldClientKey],
		Cert: f[FieldClientCert],
		CA:   f[FieldClientCA],
	}
}

// CoordinatorInfo is what the coordinator publishes for its workers
type CoordinatorInfo struct {
	URL         string
	Credentials types.Credentials
}

// ParseCoordinatorInfo reads the coordinator side of the relation. The
// credentials are optional; only the URL is required.
func ParseCoordinatorInfo(f Fields) (*CoordinatorInfo, error) {
	url := strings.TrimSpace(f[FieldURL])
	if url == "" {
		return nil, &IncompleteDataError{Missing: []string{FieldURL}}
	}
	return &CoordinatorInfo{
		URL: url,
		Credentials: types.Credentials{
			Username: f[FieldUsername],
			Password: f[FieldPassword],
		},
	}, nil
}
