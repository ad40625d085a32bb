package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationFiles_Paired(t *testing.T) {
	entries, err := fs.ReadDir(MigrationFiles, ".")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}

	require.NotEmpty(t, ups)
	require.Equal(t, ups, downs)
}

func TestMigrationFiles_CreateServingTables(t *testing.T) {
	var all strings.Builder
	err := fs.WalkDir(MigrationFiles, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".up.sql") {
			return err
		}
		b, err := fs.ReadFile(MigrationFiles, path)
		if err != nil {
			return err
		}
		all.Write(b)
		return nil
	})
	require.NoError(t, err)

	for _, table := range []string{"partitions", "match_participants", "aggregate_snapshots", "snapshot_pointers"} {
		require.Contains(t, all.String(), "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}
