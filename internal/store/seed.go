package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"sre-platform/internal/models"
)

//go:embed seed.yaml
var seedYAML []byte

// SeedResult counts records per collection.
type SeedResult struct {
	Created map[string]int
	Skipped map[string]int
}

// LoadSeed decodes the embedded default dataset keyed by collection.
func LoadSeed() (map[string][]models.Document, error) {
	var raw map[string][]map[string]any
	if err := yaml.Unmarshal(seedYAML, &raw); err != nil {
		return nil, fmt.Errorf("parse seed data: %w", err)
	}
	out := make(map[string][]models.Document, len(raw))
	for collection, records := range raw {
		for _, r := range records {
			doc, err := models.Normalize(r)
			if err != nil {
				return nil, fmt.Errorf("seed %s: %w", collection, err)
			}
			out[collection] = append(out[collection], doc)
		}
	}
	return out, nil
}

// Seed inserts the default dataset. Records whose id already exists are
// left untouched, so running it twice is harmless.
func Seed(ctx context.Context, s DocumentStore) (SeedResult, error) {
	data, err := LoadSeed()
	if err != nil {
		return SeedResult{}, err
	}
	res := SeedResult{Created: map[string]int{}, Skipped: map[string]int{}}

	collections := make([]string, 0, len(data))
	for c := range data {
		collections = append(collections, c)
	}
	sort.Strings(collections)

	for _, collection := range collections {
		for _, doc := range data[collection] {
			_, err := s.Create(ctx, collection, doc)
			switch {
			case errors.Is(err, ErrConflict):
				res.Skipped[collection]++
			case err != nil:
				return res, err
			default:
				res.Created[collection]++
			}
		}
	}
	return res, nil
}
