package gseqbadger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCheckpointStore_Options(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	s, err := NewCheckpointStore(log, t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.True(t, s.db.Opts().SyncWrites)

	s.db.Opts().Logger.Warningf("from badger")
	s.log.Warn("from store")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var checked int
	for _, line := range lines {
		if !strings.Contains(line, "from badger") && !strings.Contains(line, "from store") {
			continue
		}
		checked++
		require.Equal(t, 1, strings.Count(line, `"sys":"badger"`), line)
	}
	require.Equal(t, 2, checked)
}
