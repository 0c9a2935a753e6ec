package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveExecutors(t *testing.T) {
	rec := &WorkerRecord{Hostname: "slave-0", Executors: 4}
	assert.Equal(t, 8, rec.EffectiveExecutors())
}

func TestFlagsNames(t *testing.T) {
	tests := []struct {
		name     string
		flags    Flags
		expected []string
	}{
		{name: "none", flags: Flags{}, expected: nil},
		{name: "connected", flags: Flags{Connected: true}, expected: []string{"jenkins-slave.connected"}},
		{
			name:  "all",
			flags: Flags{Connected: true, Available: true, TLSAvailable: true},
			expected: []string{
				"jenkins-slave.connected",
				"jenkins-slave.available",
				"jenkins-slave.tls.available",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.flags.Names("jenkins-slave"))
		})
	}
}

func TestFlagsValid(t *testing.T) {
	assert.True(t, Flags{}.Valid())
	assert.True(t, Flags{Connected: true, Available: true}.Valid())
	assert.False(t, Flags{Available: true}.Valid())
}

func TestParseEventKind(t *testing.T) {
	kind, err := ParseEventKind(" Changed ")
	require.NoError(t, err)
	assert.Equal(t, EventChanged, kind)

	_, err = ParseEventKind("upgraded")
	assert.Error(t, err)
}

func TestCredentialsStringHidesPassword(t *testing.T) {
	creds := Credentials{Username: "admin", Password: "s3cr3t"}
	assert.NotContains(t, creds.String(), "s3cr3t")
	assert.Contains(t, creds.String(), "admin")
}

func TestRelationStateClone(t *testing.T) {
	s := &RelationState{RelationID: "jenkins-slave:1", RemoteUnit: "slave/0", Labels: []string{"a"}}
	c := s.Clone()
	c.Labels[0] = "b"
	assert.Equal(t, "a", s.Labels[0])
	assert.Equal(t, s.Key(), c.Key())
}
