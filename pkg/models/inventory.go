package models

// InventoryEntity is one device/entity row returned by the inventory source.
// PositionInGroup is optional; zero means the source does not order groups and
// the resolver derives positions from a stable key instead.
type InventoryEntity struct {
	EntityID        string `json:"entity_id" yaml:"entity_id"`
	FriendlyName    string `json:"friendly_name" yaml:"friendly_name"`
	Area            string `json:"area" yaml:"area"`
	Domain          string `json:"domain" yaml:"domain"`
	PositionInGroup int    `json:"position_in_group,omitempty" yaml:"position_in_group,omitempty"`
	DeviceClass     string `json:"device_class,omitempty" yaml:"device_class,omitempty"`
	Description     string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ObjectID returns the part of the entity id after the domain prefix
// ("light.office_light_2" -> "office_light_2").
func (e *InventoryEntity) ObjectID() string {
	for i := 0; i < len(e.EntityID); i++ {
		if e.EntityID[i] == '.' {
			return e.EntityID[i+1:]
		}
	}
	return e.EntityID
}

// InventoryQuery is the outbound inventory request. Empty hints match everything.
type InventoryQuery struct {
	AreaHint   string `json:"area_hint,omitempty"`
	DomainHint string `json:"domain_hint,omitempty"`
}

// EntityMention is a free-text reference to a device or area, parsed from an utterance.
type EntityMention struct {
	Raw  string `json:"raw"`
	Text string `json:"text"` // normalized text with articles and ordinal removed
	// Ordinal is the 1-based position requested ("second" -> 2); 0 when absent.
	Ordinal  int    `json:"ordinal,omitempty"`
	AreaHint string `json:"area_hint,omitempty"`
	// AreaFromCurrentTurn is false when the area hint was carried over from history.
	AreaFromCurrentTurn bool   `json:"area_from_current_turn,omitempty"`
	DomainHint          string `json:"domain_hint,omitempty"`
}

// SignalScores is the per-signal breakdown of a candidate's score, each in [0,1].
type SignalScores struct {
	Semantic float64 `json:"semantic"`
	Exact    float64 `json:"exact"`
	Fuzzy    float64 `json:"fuzzy"`
	Ordinal  float64 `json:"ordinal"`
	Location float64 `json:"location"`
}

// RiskTier is a coarse safety classification of an entity.
type RiskTier string

const (
	RiskCritical RiskTier = "critical"
	RiskHigh     RiskTier = "high"
	RiskMedium   RiskTier = "medium"
	RiskLow      RiskTier = "low"
)

// Rank orders tiers from least (0) to most (3) dangerous; unknown tiers rank as medium.
func (t RiskTier) Rank() int {
	switch t {
	case RiskLow:
		return 0
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 1
	}
}

// ResolvedEntity is a candidate concrete entity for a mention.
// It is treated as immutable once attached to a draft.
type ResolvedEntity struct {
	EntityID     string       `json:"entity_id" yaml:"entity_id"`
	FriendlyName string       `json:"friendly_name" yaml:"friendly_name"`
	Area         string       `json:"area,omitempty" yaml:"area,omitempty"`
	Domain       string       `json:"domain" yaml:"domain"`
	Confidence   float64      `json:"confidence" yaml:"confidence"`
	Signals      SignalScores `json:"signals" yaml:"-"`
	RiskTier     RiskTier     `json:"risk_tier" yaml:"risk_tier"`
	// Verified is set when the entity existed in the live snapshot used for resolution.
	Verified        bool   `json:"verified" yaml:"verified"`
	SnapshotVersion uint64 `json:"snapshot_version,omitempty" yaml:"-"`
	// InCurrentTurnArea marks entities in an area named in the current turn (tie-break).
	InCurrentTurnArea bool `json:"-" yaml:"-"`
}

// Resolution is the outcome of resolving one mention.
type Resolution struct {
	Mention    EntityMention    `json:"mention"`
	Candidates []ResolvedEntity `json:"candidates"`
	Ambiguous  bool             `json:"ambiguous"`
	// Resolved is true only when the top candidate clears the acceptance
	// threshold and the result is not ambiguous.
	Resolved bool `json:"resolved"`
}

// Best returns the accepted candidate, or nil when the mention is unresolved or ambiguous.
func (r *Resolution) Best() *ResolvedEntity {
	if !r.Resolved || len(r.Candidates) == 0 {
		return nil
	}
	return &r.Candidates[0]
}
