package world

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/floe/internal/datamodel"
)

// yamlCatalogueFile is the top-level YAML structure for the room catalogue.
type yamlCatalogueFile struct {
	Rooms []yamlRoom `yaml:"rooms"`
}

// yamlRoom is the YAML representation of a room.
type yamlRoom struct {
	ID       int    `yaml:"id"`
	Key      string `yaml:"key"`
	Name     string `yaml:"name"`
	Capacity int    `yaml:"capacity"`
	Spawn    bool   `yaml:"spawn"`
	X        int    `yaml:"x"`
	Y        int    `yaml:"y"`
}

// LoadCatalogueFromFile reads and validates a room catalogue YAML file.
//
// Precondition: path must point to a YAML catalogue file.
// Postcondition: Returns a validated Catalogue or a non-nil error.
func LoadCatalogueFromFile(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading room catalogue %s: %w", path, err)
	}
	return LoadCatalogueFromBytes(data)
}

// LoadCatalogueFromBytes parses and validates a room catalogue from YAML bytes.
// Unknown keys are rejected.
//
// Postcondition: Returns a validated Catalogue or a non-nil error.
func LoadCatalogueFromBytes(data []byte) (*Catalogue, error) {
	var file yamlCatalogueFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing room catalogue YAML: %w", err)
	}

	rooms := make([]Room, 0, len(file.Rooms))
	for _, yr := range file.Rooms {
		rooms = append(rooms, Room{
			ID:       datamodel.RoomID(yr.ID),
			Key:      yr.Key,
			Name:     yr.Name,
			Capacity: yr.Capacity,
			Spawn:    yr.Spawn,
			X:        yr.X,
			Y:        yr.Y,
		})
	}

	cat, err := NewCatalogue(rooms)
	if err != nil {
		return nil, fmt.Errorf("validating room catalogue: %w", err)
	}
	return cat, nil
}
