package persistence

import (
	"testing"
	"testing/fstest"

	"StableLedger/migrations"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_PairsInVersionOrder(t *testing.T) {
	steps, err := loadMigrations(fstest.MapFS{
		"000002_b.up.sql":   {Data: []byte("SELECT 2")},
		"000002_b.down.sql": {Data: []byte("SELECT -2")},
		"000001_a.up.sql":   {Data: []byte("SELECT 1")},
		"000001_a.down.sql": {Data: []byte("SELECT -1")},
		"README":            {Data: []byte("notes")},
	})
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "000001", steps[0].Version)
	assert.Equal(t, "000001_a.up.sql", steps[0].Name)
	assert.Equal(t, "SELECT -1", steps[0].Down)
	assert.Equal(t, "000002", steps[1].Version)
}

func TestLoadMigrations_RejectsUnpairedSteps(t *testing.T) {
	_, err := loadMigrations(fstest.MapFS{"000001_a.up.sql": {Data: []byte("SELECT 1")}})
	assert.ErrorContains(t, err, "no down step")

	_, err = loadMigrations(fstest.MapFS{"000001_a.down.sql": {Data: []byte("SELECT 1")}})
	assert.ErrorContains(t, err, "no up step")

	_, err = loadMigrations(fstest.MapFS{"000001_a.sql": {Data: []byte("SELECT 1")}})
	assert.ErrorContains(t, err, "neither an up nor a down")
}

func TestLoadMigrations_EmbeddedSchema(t *testing.T) {
	steps, err := loadMigrations(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	assert.Equal(t, "000001_event_log.up.sql", steps[0].Name)
	for _, s := range steps {
		assert.NotEmpty(t, s.Up, s.Name)
		assert.NotEmpty(t, s.Down, s.Name)
	}
}

func TestMigrationChecksum_TracksUpBody(t *testing.T) {
	a := migration{Up: "CREATE TABLE t (x INT)", Down: "DROP TABLE t"}
	b := a
	b.Down = "DROP TABLE IF EXISTS t"
	assert.Equal(t, a.checksum(), b.checksum())
	assert.Len(t, a.checksum(), 64)

	b.Up = "CREATE TABLE t (x BIGINT)"
	assert.NotEqual(t, a.checksum(), b.checksum())
}

func TestExtractVersion(t *testing.T) {
	assert.Equal(t, "000001", extractVersion("000001_event_log.up.sql"))
	assert.Equal(t, "plain.sql", extractVersion("plain.sql"))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "($1, $2, $3)", placeholders(0, 3))
	assert.Equal(t, "($11, $12)", placeholders(10, 2))
}
