package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeeds(t *testing.T) {
	seeds, err := parseSeeds(strings.NewReader(`
seeds:
  - user_id: legacy-1
    badge_id: first-story
    context:
      migrated: true
  - user_id: legacy-1
    badge_id: first-words
`))
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, "legacy-1", seeds[0].UserID)
	assert.Equal(t, "first-story", seeds[0].BadgeID)
	assert.Equal(t, true, seeds[0].Context["migrated"])
	assert.Empty(t, seeds[1].Context)
}

func TestParseSeedsRejectsUnknownFields(t *testing.T) {
	_, err := parseSeeds(strings.NewReader("seeds:\n  - user: u1\n"))
	assert.Error(t, err)
}

func TestParseSeedsEmpty(t *testing.T) {
	seeds, err := parseSeeds(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, seeds)
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("seeds:\n  - user_id: u1\n    badge_id: b1\n"), 0o600))

	seeds, err := loadSeedFile(path)
	require.NoError(t, err)
	assert.Len(t, seeds, 1)

	_, err = loadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
