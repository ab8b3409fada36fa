package cli

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/quietgrid/sheetsync/internal/backend"
)

// loadCSVSource reads a CSV file into an importable source. The first
// record is the header row; every following record must have the same
// width, which the csv reader already enforces.
func loadCSVSource(path string) (backend.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return backend.Source{}, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return backend.Source{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return backend.Source{}, fmt.Errorf("%s: missing header row", path)
	}
	return backend.Source{Headers: records[0], Rows: records[1:]}, nil
}

// registerSources loads every configured CSV source into the backend.
func registerSources(b *backend.Backend, sources map[string]string) error {
	for name, path := range sources {
		src, err := loadCSVSource(path)
		if err != nil {
			return fmt.Errorf("source %q: %w", name, err)
		}
		b.RegisterSource(name, src)
	}
	return nil
}
