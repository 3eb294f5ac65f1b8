// Package inventory provides read access to the live device/entity
// inventory through a bounded, time-expiring snapshot cache.
package inventory

import (
	"sort"
	"strings"
	"time"

	"github.com/ekaya-inc/case-engine/pkg/models"
)

// Snapshot is an immutable view of the inventory for one query. Readers may
// share it freely; a refresh produces a new Snapshot with a higher Version.
type Snapshot struct {
	Version   uint64
	FetchedAt time.Time
	Query     models.InventoryQuery

	entities []models.InventoryEntity
	byID     map[string]int
	areas    []string
}

// NewSnapshot copies entities into a new immutable snapshot.
func NewSnapshot(version uint64, query models.InventoryQuery, entities []models.InventoryEntity, fetchedAt time.Time) *Snapshot {
	s := &Snapshot{
		Version:   version,
		FetchedAt: fetchedAt,
		Query:     query,
		entities:  append([]models.InventoryEntity(nil), entities...),
		byID:      make(map[string]int, len(entities)),
	}

	seenArea := make(map[string]bool)
	for i, e := range s.entities {
		s.byID[e.EntityID] = i
		area := strings.ToLower(strings.TrimSpace(e.Area))
		if area != "" && !seenArea[area] {
			seenArea[area] = true
			s.areas = append(s.areas, area)
		}
	}
	// Longest first so "office closet" wins over "office" when matching text.
	sort.Slice(s.areas, func(i, j int) bool {
		if len(s.areas[i]) != len(s.areas[j]) {
			return len(s.areas[i]) > len(s.areas[j])
		}
		return s.areas[i] < s.areas[j]
	})
	return s
}

// Len returns the number of entities in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.entities)
}

// Entities returns a copy of the entities in source order.
func (s *Snapshot) Entities() []models.InventoryEntity {
	return append([]models.InventoryEntity(nil), s.entities...)
}

// Entity looks up an entity by id.
func (s *Snapshot) Entity(entityID string) (models.InventoryEntity, bool) {
	i, ok := s.byID[entityID]
	if !ok {
		return models.InventoryEntity{}, false
	}
	return s.entities[i], true
}

// Contains reports whether the entity exists in the snapshot.
func (s *Snapshot) Contains(entityID string) bool {
	_, ok := s.byID[entityID]
	return ok
}

// Areas returns the distinct lower-cased area names, longest first.
func (s *Snapshot) Areas() []string {
	return append([]string(nil), s.areas...)
}
