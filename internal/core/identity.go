package core

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"herbtrace/pkg/domain"
)

// IdentityProvider resolves actor ids to identities. It is owned by an
// external collaborator; the service only reads from it.
type IdentityProvider interface {
	GetActor(ctx context.Context, id string) (Actor, error)
}

// Directory is a static, read-only IdentityProvider.
type Directory struct {
	actors map[string]Actor
}

type directoryFile struct {
	Actors []Actor `yaml:"actors"`
}

// NewDirectory builds a directory, rejecting duplicate ids and unknown roles.
func NewDirectory(actors ...Actor) (*Directory, error) {
	d := &Directory{actors: make(map[string]Actor, len(actors))}
	for i, a := range actors {
		a.ID = strings.TrimSpace(a.ID)
		if a.ID == "" {
			return nil, fmt.Errorf("actor %d: id is required", i)
		}
		if !a.Role.Valid() {
			return nil, fmt.Errorf("actor %s: unknown role %q", a.ID, a.Role)
		}
		if _, dup := d.actors[a.ID]; dup {
			return nil, fmt.Errorf("actor %s: duplicate id", a.ID)
		}
		d.actors[a.ID] = a
	}
	return d, nil
}

// ParseDirectory decodes a YAML document of the form
//
//	actors:
//	  - id: farmer-1
//	    role: Farmer
//	    displayName: Ravi Kumar
//	    organization: Sahyadri Growers
func ParseDirectory(data []byte) (*Directory, error) {
	var file directoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse actor directory: %w", err)
	}
	return NewDirectory(file.Actors...)
}

// LoadDirectory reads a YAML actor directory from path.
func LoadDirectory(path string) (*Directory, error) {
	// #nosec G304 -- the directory path comes from operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read actor directory: %w", err)
	}
	return ParseDirectory(data)
}

// GetActor implements IdentityProvider.
func (d *Directory) GetActor(_ context.Context, id string) (Actor, error) {
	a, ok := d.actors[id]
	if !ok {
		return Actor{}, domain.NotFound(domain.EntityActor, id)
	}
	return a, nil
}

// Actors lists the directory ordered by id.
func (d *Directory) Actors() []Actor {
	out := make([]Actor, 0, len(d.actors))
	for _, a := range d.actors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
