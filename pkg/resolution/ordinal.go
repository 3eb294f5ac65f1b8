package resolution

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ekaya-inc/case-engine/pkg/models"
)

var trailingNumberPattern = regexp.MustCompile(`[\s#]*\d+$`)

// displayName is the normalized friendly name, falling back to the object id.
func displayName(e models.InventoryEntity) string {
	if e.FriendlyName != "" {
		return NormalizeText(e.FriendlyName)
	}
	return NormalizeText(e.ObjectID())
}

// baseName strips a trailing number: "office light 2" -> "office light".
func baseName(e models.InventoryEntity) string {
	name := displayName(e)
	if base := strings.TrimSpace(trailingNumberPattern.ReplaceAllString(name, "")); base != "" {
		return base
	}
	return name
}

type groupKey struct {
	area, domain, base string
}

// positions assigns each entity its 1-based position within its group.
// Fine groups are (area, domain, base name); coarse groups drop the base name.
// Positions come from position_in_group when the source provides it and from
// a natural sort of entity_id otherwise, so they never depend on the order
// the inventory happened to return.
type positions struct {
	fine   map[string]int
	coarse map[string]int
}

func computePositions(entities []models.InventoryEntity) positions {
	fineGroups := make(map[groupKey][]models.InventoryEntity)
	coarseGroups := make(map[groupKey][]models.InventoryEntity)
	for _, e := range entities {
		area, domain := NormalizeText(e.Area), strings.ToLower(e.Domain)
		fk := groupKey{area: area, domain: domain, base: baseName(e)}
		ck := groupKey{area: area, domain: domain}
		fineGroups[fk] = append(fineGroups[fk], e)
		coarseGroups[ck] = append(coarseGroups[ck], e)
	}
	return positions{
		fine:   assignPositions(fineGroups),
		coarse: assignPositions(coarseGroups),
	}
}

func assignPositions(groups map[groupKey][]models.InventoryEntity) map[string]int {
	out := make(map[string]int)
	for _, members := range groups {
		sorted := append([]models.InventoryEntity(nil), members...)
		sort.SliceStable(sorted, func(i, j int) bool {
			pi, pj := sorted[i].PositionInGroup, sorted[j].PositionInGroup
			switch {
			case pi > 0 && pj > 0 && pi != pj:
				return pi < pj
			case pi > 0 && pj <= 0:
				return true
			case pi <= 0 && pj > 0:
				return false
			}
			return naturalLess(sorted[i].EntityID, sorted[j].EntityID)
		})
		for i, e := range sorted {
			out[e.EntityID] = i + 1
		}
	}
	return out
}

// naturalLess compares strings treating digit runs as numbers,
// so "light.office_2" sorts before "light.office_10".
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		ca, cb := a[0], b[0]
		if isDigit(ca) && isDigit(cb) {
			na, ra := leadingDigits(a)
			nb, rb := leadingDigits(b)
			ta, tb := strings.TrimLeft(na, "0"), strings.TrimLeft(nb, "0")
			if len(ta) != len(tb) {
				return len(ta) < len(tb)
			}
			if ta != tb {
				return ta < tb
			}
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			a, b = ra, rb
			continue
		}
		if ca != cb {
			return ca < cb
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func leadingDigits(s string) (string, string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
