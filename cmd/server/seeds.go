package main

import (
	"fmt"
	"io"
	"os"

	"badgehub/internal/models"

	"gopkg.in/yaml.v3"
)

// seedFile is the YAML layout of SEED_FILE:
//
//	seeds:
//	  - user_id: legacy-user
//	    badge_id: first-story
//	    context: {migrated: true}
type seedFile struct {
	Seeds []models.AwardSeed `yaml:"seeds"`
}

func loadSeedFile(path string) ([]models.AwardSeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return parseSeeds(f)
}

func parseSeeds(r io.Reader) ([]models.AwardSeed, error) {
	var file seedFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return file.Seeds, nil
}
