package relation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHostname(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"slave/3", "slave-3"},
		{"jenkins-slave/12", "jenkins-slave-12"},
		{"plain", "plain"},
		{" slave/0 ", "slave-0"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeHostname(tt.in), tt.in)
	}
}

func TestParseLabels(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "mixed separators", raw: "x86 linux,docker  linux", want: []string{"docker", "linux", "x86"}},
		{name: "empty", raw: "", want: []string{}},
		{name: "crlf", raw: "linux\r\ndocker\r\n", want: []string{"docker", "linux"}},
		{name: "vertical tab and form feed", raw: "linux\vdocker\fx86", want: []string{"docker", "linux", "x86"}},
		{name: "only separators", raw: " ,\r\n\t", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLabels(tt.raw))
		})
	}
}

func TestParseWorkerRecord(t *testing.T) {
	tests := []struct {
		name       string
		fields     Fields
		wantErr    bool
		wantHost   string
		wantExec   int
		wantLabels []string
	}{
		{
			name:       "complete",
			fields:     Fields{"slavehost": "slave/1", "executors": "4", "labels": "linux docker"},
			wantHost:   "slave-1",
			wantExec:   4,
			wantLabels: []string{"docker", "linux"},
		},
		{
			name:       "empty labels are allowed",
			fields:     Fields{"slavehost": "slave-2", "executors": "1", "labels": ""},
			wantHost:   "slave-2",
			wantExec:   1,
			wantLabels: []string{},
		},
		{
			name:    "missing executors",
			fields:  Fields{"slavehost": "slave-1", "labels": "linux"},
			wantErr: true,
		},
		{
			name:    "empty hostname",
			fields:  Fields{"slavehost": "", "executors": "2", "labels": "linux"},
			wantErr: true,
		},
		{
			name:    "non numeric executors",
			fields:  Fields{"slavehost": "slave-1", "executors": "many", "labels": "linux"},
			wantErr: true,
		},
		{
			name:    "zero executors",
			fields:  Fields{"slavehost": "slave-1", "executors": "0", "labels": "linux"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := ParseWorkerRecord(tt.fields)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsIncomplete(err))
				assert.Nil(t, rec)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, rec.Hostname)
			assert.Equal(t, tt.wantExec, rec.Executors)
			assert.Equal(t, tt.wantLabels, rec.Labels)
		})
	}
}

func TestIncompleteDataErrorListsMissing(t *testing.T) {
	_, err := ParseWorkerRecord(Fields{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executors, labels, slavehost")
}

func TestWorkerFieldsRoundTrip(t *testing.T) {
	rec, err := ParseWorkerRecord(Fields{
		"slavehost":         "slave-5",
		"executors":         "3",
		"labels":            "b a",
		"connection_string": "ws://slave-5:50000",
	})
	require.NoError(t, err)

	f := WorkerFields(rec)
	assert.Equal(t, "a b", f[FieldLabels])
	assert.Equal(t, "ws://slave-5:50000", f[FieldConnectionString])
}

func TestParseCoordinatorInfo(t *testing.T) {
	_, err := ParseCoordinatorInfo(Fields{"username": "admin"})
	assert.True(t, IsIncomplete(err))

	info, err := ParseCoordinatorInfo(Fields{"url": "http://10.0.0.1:8080", "username": "admin", "password": "pw"})
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:8080", info.URL)
	assert.Equal(t, "admin", info.Credentials.Username)
}

func TestTLSMaterialComplete(t *testing.T) {
	assert.False(t, ParseTLSMaterial(Fields{"client_key": "k"}).Complete())
	assert.True(t, ParseTLSMaterial(Fields{"client_key": "k", "client_cert": "c", "client_ca": "ca"}).Complete())
}
