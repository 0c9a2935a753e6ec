package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONWithRelation(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	logger := WithRelation("reconciler", "jenkins-slave:1", "slave/0")
	logger.Info().Msg("registered")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "reconciler", entry["component"])
	assert.Equal(t, "jenkins-slave:1", entry["relation_id"])
	assert.Equal(t, "slave/0", entry["remote_unit"])
	assert.Equal(t, "registered", entry["message"])
}

func TestInitLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	Info("dropped")
	assert.Zero(t, buf.Len())

	Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestWithRelationOmitsEmptyUnit(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	logger := WithRelation("reconciler", "jenkins-slave:1", "")
	logger.Info().Msg("broken")
	assert.NotContains(t, buf.String(), "remote_unit")
}
