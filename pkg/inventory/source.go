package inventory

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/case-engine/pkg/models"
)

// Source fetches inventory entities. Implementations return entities in the
// order the backing system reports them; callers never rely on that order.
type Source interface {
	Fetch(ctx context.Context, query models.InventoryQuery) ([]models.InventoryEntity, error)
	Name() string
}

// StaticSource serves a fixed entity list, typically loaded from a YAML seed file.
type StaticSource struct {
	entities []models.InventoryEntity
}

var _ Source = (*StaticSource)(nil)

// NewStaticSource serves the given entities.
func NewStaticSource(entities []models.InventoryEntity) *StaticSource {
	return &StaticSource{entities: append([]models.InventoryEntity(nil), entities...)}
}

type seedFile struct {
	Entities []models.InventoryEntity `yaml:"entities"`
}

// LoadStaticSource reads a YAML seed file of the form:
//
//	entities:
//	  - entity_id: light.office_1
//	    friendly_name: Office Light
//	    area: office
//	    domain: light
func LoadStaticSource(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory seed: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse inventory seed %s: %w", path, err)
	}
	for i, e := range seed.Entities {
		if e.EntityID == "" {
			return nil, fmt.Errorf("inventory seed %s: entity %d has no entity_id", path, i)
		}
		if e.Domain == "" {
			seed.Entities[i].Domain = domainOf(e.EntityID)
		}
	}
	return NewStaticSource(seed.Entities), nil
}

// Name implements Source.
func (s *StaticSource) Name() string { return "static" }

// Fetch implements Source.
func (s *StaticSource) Fetch(ctx context.Context, query models.InventoryQuery) ([]models.InventoryEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.InventoryEntity
	for _, e := range s.entities {
		if Matches(e, query) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Matches reports whether an entity satisfies the query's hints (case-insensitive).
func Matches(e models.InventoryEntity, query models.InventoryQuery) bool {
	if query.AreaHint != "" && !strings.EqualFold(e.Area, query.AreaHint) {
		return false
	}
	if query.DomainHint != "" && !strings.EqualFold(e.Domain, query.DomainHint) {
		return false
	}
	return true
}

func domainOf(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i > 0 {
		return entityID[:i]
	}
	return ""
}
