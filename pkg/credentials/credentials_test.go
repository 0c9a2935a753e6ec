package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePassword(t *testing.T, home, password string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(home, PasswordFile), []byte(password), 0600))
}

func TestPasswordPrecedence(t *testing.T) {
	tests := []struct {
		name        string
		configured  string
		file        string
		writeFile   bool
		want        string
		wantMissing bool
	}{
		{
			name:       "config wins over file",
			configured: "from-config",
			file:       "from-file",
			writeFile:  true,
			want:       "from-config",
		},
		{
			name:      "file used when config empty",
			file:      "s3cr3t",
			writeFile: true,
			want:      "s3cr3t",
		},
		{
			name:      "trailing newline trimmed",
			file:      "s3cr3t\n",
			writeFile: true,
			want:      "s3cr3t",
		},
		{
			name:        "both absent",
			wantMissing: true,
		},
		{
			name:        "empty file",
			file:        "",
			writeFile:   true,
			wantMissing: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := t.TempDir()
			if tt.writeFile {
				writePassword(t, home, tt.file)
			}

			p := NewProvider(Config{Password: tt.configured, Home: home})
			got, err := p.Password()
			if tt.wantMissing {
				require.Error(t, err)
				assert.True(t, IsMissing(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUsernameDefault(t *testing.T) {
	assert.Equal(t, "admin", NewProvider(Config{}).Username())
	assert.Equal(t, "jenkins", NewProvider(Config{Username: "jenkins"}).Username())
}

func TestResolve(t *testing.T) {
	home := t.TempDir()
	writePassword(t, home, "pw")

	creds, err := NewProvider(Config{Username: "ops", Home: home}).Resolve()
	require.NoError(t, err)
	assert.Equal(t, "ops", creds.Username)
	assert.Equal(t, "pw", creds.Password)
}

func TestGenerate(t *testing.T) {
	home := filepath.Join(t.TempDir(), "jenkins")
	p := NewProvider(Config{Home: home})

	first, err := p.Generate()
	require.NoError(t, err)
	assert.Len(t, first, 32)

	// Second call keeps the existing password.
	second, err := p.Generate()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	got, err := p.Password()
	require.NoError(t, err)
	assert.Equal(t, first, got)
}
