package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "panel-backup/internal/errors"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"3600", 3600},
		{"12h", 12 * 3600},
		{"90m", 5400},
		{"2d", 2 * 86400},
		{" 30s ", 30},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseInterval(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"soon", "1.5s", "d"} {
		_, err := parseInterval(bad)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation), bad)
	}
}

func TestParseIndexIsOneBased(t *testing.T) {
	index, err := parseIndex("3")
	require.NoError(t, err)
	assert.Equal(t, 2, index)

	for _, bad := range []string{"0", "-1", "first"} {
		_, err := parseIndex(bad)
		assert.Error(t, err, bad)
	}
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"host", "add"}, {"host", "list"}, {"host", "edit"}, {"host", "remove"}, {"host", "rescan"},
		{"backup", "run"}, {"backup", "list"}, {"backup", "prune"}, {"backup", "restore"},
		{"status"}, {"schedule", "show"}, {"schedule", "set"}, {"daemon"},
		{"key", "init"}, {"key", "rotate"}, {"config", "sample"}, {"version"},
	} {
		found, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], found.Name())
	}
}

func TestHostEditForceFlag(t *testing.T) {
	require.NotNil(t, hostEditCmd.Flags().Lookup("force"))
	assert.Nil(t, hostAddCmd.Flags().Lookup("force"), "a failed add is never saved")
}
