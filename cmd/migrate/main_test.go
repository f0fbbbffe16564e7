package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilenamePattern(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  string
		name     string
	}{
		{"0001_create_gold_daily_summary_latest.sql", true, "0001", "create_gold_daily_summary_latest"},
		{"001_invalid.sql", false, "", ""},        // wrong number format
		{"0001_test", false, "", ""},              // missing .sql
		{"0001.sql", false, "", ""},               // missing name
		{"invalid_0001_test.sql", false, "", ""}, // wrong order
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			m := migrationPattern.FindStringSubmatch(tt.filename)
			if !tt.valid {
				assert.Nil(t, m)
				return
			}
			require.Len(t, m, 3)
			assert.Equal(t, tt.version, m[1])
			assert.Equal(t, tt.name, m[2])
		})
	}
}

func TestReadMigrations(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("0002_second.sql", "SELECT 2 FROM `{{PROJECT_ID}}.{{DATASET_ID}}.{{GOLD_TABLE}}`")
	write("0001_first.sql", "SELECT 1")
	write("README.md", "not a migration")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "0003_dir.sql"), 0o755))

	opts := options{projectID: "proj", datasetID: "medallion", table: "gold_daily_summary"}
	migrations, err := readMigrations(dir, placeholders(opts), zerolog.Nop())
	require.NoError(t, err)

	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "first", migrations[0].Name)
	assert.Equal(t, "SELECT 2 FROM `proj.medallion.gold_daily_summary`", migrations[1].SQL)

	other, err := readMigrations(dir, placeholders(options{projectID: "p2", datasetID: "d2", table: "t2"}), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, migrations[1].Checksum, other[1].Checksum, "checksum ignores placeholder values")
	assert.NotEqual(t, migrations[0].Checksum, migrations[1].Checksum)
}

func TestPending(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "a", Checksum: "x"},
		{Version: 2, Name: "b", Checksum: "y"},
	}
	applied := map[int]AppliedMigration{1: {Version: 1, Checksum: "changed"}}

	got := pending(migrations, applied, zerolog.Nop())

	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Version)
}

func TestRepositoryMigrationsParse(t *testing.T) {
	dir, err := resolveDir("migrations/bigquery")
	require.NoError(t, err)

	migrations, err := readMigrations(dir, placeholders(options{projectID: "p", datasetID: "d", table: "t"}), zerolog.Nop())
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	for _, m := range migrations {
		assert.NotContains(t, m.SQL, "{{", m.Filename)
	}
}
