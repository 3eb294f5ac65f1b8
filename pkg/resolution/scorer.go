package resolution

import (
	"math"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/ekaya-inc/case-engine/pkg/models"
)

// Signal weights. They sum to 1 so a combined score stays in [0, 1].
const (
	WeightSemantic = 0.35
	WeightExact    = 0.30
	WeightFuzzy    = 0.15
	WeightOrdinal  = 0.15
	WeightLocation = 0.05
)

// entityText is what gets embedded for an entity.
func entityText(e models.InventoryEntity) string {
	return strings.TrimSpace(NormalizeText(e.Area) + " " + displayName(e) + " " + strings.ReplaceAll(e.Domain, "_", " "))
}

// nameVariants are the phrasings a user might use for an entity.
func nameVariants(e models.InventoryEntity) (full, base []string) {
	area := NormalizeText(e.Area)
	name, b := displayName(e), baseName(e)
	full = []string{name, NormalizeText(e.ObjectID())}
	base = []string{b}
	if area != "" && !strings.HasPrefix(name, area+" ") {
		full = append(full, area+" "+name)
		base = append(base, area+" "+b)
	}
	return full, base
}

// exactScore is 1 when the mention names the entity ID or its friendly name
// outright, 0 otherwise. Partial name matches are left to the fuzzy signal.
func exactScore(m models.EntityMention, e models.InventoryEntity) float64 {
	if strings.EqualFold(strings.TrimSpace(m.Raw), e.EntityID) {
		return 1
	}
	name := displayName(e)
	if name == "" {
		return 0
	}
	for _, form := range mentionForms(m) {
		if form == name {
			return 1
		}
	}
	return 0
}

// mentionForms returns the mention as written minus leading articles, and
// the parsed text when no ordinal was taken out of it.
func mentionForms(m models.EntityMention) []string {
	tokens := tokenize(strings.ToLower(m.Raw))
	for len(tokens) > 0 && fillerWords[tokens[0]] {
		tokens = tokens[1:]
	}
	forms := []string{strings.Join(tokens, " ")}
	if m.Ordinal == 0 && m.Text != "" {
		forms = append(forms, m.Text)
	}
	return forms
}

func fuzzyScore(m models.EntityMention, e models.InventoryEntity) float64 {
	if m.Text == "" {
		return 0
	}
	full, base := nameVariants(e)
	best := 0.0
	for _, v := range append(full, base...) {
		if s := similarity(m.Text, v); s > best {
			best = s
		}
	}
	return best
}

// similarity is 1 - normalized Levenshtein distance.
func similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

func locationScore(m models.EntityMention, e models.InventoryEntity) float64 {
	if m.AreaHint != "" && NormalizeText(e.Area) == m.AreaHint {
		return 1
	}
	return 0
}

// ordinalScorer decides whether ordinals count within fine (same base name)
// or coarse (same area and domain) groups for one mention.
type ordinalScorer struct {
	ordinal  int
	groups   map[string]int
	disabled bool
}

func newOrdinalScorer(m models.EntityMention, pos positions, candidates []models.InventoryEntity) ordinalScorer {
	if m.Ordinal == 0 {
		return ordinalScorer{disabled: true}
	}
	for _, e := range candidates {
		if pos.fine[e.EntityID] == m.Ordinal && (m.AreaHint == "" || locationScore(m, e) == 1) {
			return ordinalScorer{ordinal: m.Ordinal, groups: pos.fine}
		}
	}
	return ordinalScorer{ordinal: m.Ordinal, groups: pos.coarse}
}

func (o ordinalScorer) score(e models.InventoryEntity) float64 {
	if o.disabled || o.groups[e.EntityID] != o.ordinal {
		return 0
	}
	return 1
}

func combine(s models.SignalScores) float64 {
	total := WeightSemantic*s.Semantic +
		WeightExact*s.Exact +
		WeightFuzzy*s.Fuzzy +
		WeightOrdinal*s.Ordinal +
		WeightLocation*s.Location
	// Rounded so ties are exact and ranking never depends on float noise.
	return math.Round(total*1e6) / 1e6
}
