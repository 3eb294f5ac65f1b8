// Package safety classifies entity risk and rejects drafts that would run
// dangerous services or act on security-sensitive devices without confirmation.
package safety

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/case-engine/pkg/models"
)

// KeywordTier raises an entity to Tier when Keyword appears in its id or friendly name.
type KeywordTier struct {
	Keyword string          `yaml:"keyword"`
	Domains []string        `yaml:"domains,omitempty"` // empty matches every domain
	Tier    models.RiskTier `yaml:"tier"`
}

// RulesFile is the on-disk rules format. Every section is merged over the
// built-in defaults: map entries replace defaults, list entries are appended.
type RulesFile struct {
	DomainTiers map[string]models.RiskTier `yaml:"domain_tiers"`
	// DeviceClassTiers is keyed by "domain.device_class", e.g. "cover.garage".
	DeviceClassTiers map[string]models.RiskTier `yaml:"device_class_tiers"`
	KeywordTiers     []KeywordTier              `yaml:"keyword_tiers"`
	CriticalServices []string                   `yaml:"critical_services"`
	DenyPatterns     []string                   `yaml:"deny_patterns"`
}

// DefaultRules returns the built-in rules.
func DefaultRules() RulesFile {
	return RulesFile{
		DomainTiers: map[string]models.RiskTier{
			"lock":                models.RiskCritical,
			"alarm_control_panel": models.RiskCritical,
			"valve":               models.RiskHigh,
			"cover":               models.RiskMedium,
			"climate":             models.RiskMedium,
			"water_heater":        models.RiskMedium,
			"humidifier":          models.RiskMedium,
			"vacuum":              models.RiskMedium,
			"fan":                 models.RiskMedium,
			"switch":              models.RiskMedium,
			"light":               models.RiskLow,
			"media_player":        models.RiskLow,
			"sensor":              models.RiskLow,
			"binary_sensor":       models.RiskLow,
			"scene":               models.RiskLow,
			"input_boolean":       models.RiskLow,
			"notify":              models.RiskLow,
			"sun":                 models.RiskLow,
			"weather":             models.RiskLow,
			"person":              models.RiskLow,
		},
		DeviceClassTiers: map[string]models.RiskTier{
			"cover.garage": models.RiskHigh,
			"cover.gate":   models.RiskHigh,
			"valve.water":  models.RiskHigh,
		},
		KeywordTiers: []KeywordTier{
			{Keyword: "garage", Domains: []string{"cover", "switch"}, Tier: models.RiskHigh},
			{Keyword: "irrigation", Tier: models.RiskHigh},
			{Keyword: "sprinkler", Tier: models.RiskHigh},
			{Keyword: "oven", Domains: []string{"switch"}, Tier: models.RiskMedium},
		},
		CriticalServices: []string{
			"alarm_control_panel.alarm_disarm",
			"lock.unlock",
			"lock.open",
		},
		DenyPatterns: []string{
			`^shell_command\.`,
			`^python_script\.`,
			`^pyscript\.`,
			`^command_line\.`,
			`^hassio\.addon_stdin$`,
			`^hassio\.(host|supervisor)_(reboot|shutdown|restart|update)$`,
			`^homeassistant\.(restart|stop|reload_.*)$`,
			`\.reload$`,
		},
	}
}

// LoadRules reads path and merges it over the defaults. An empty path or a
// missing file yields the defaults.
func LoadRules(path string) (*Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return Compile(rules)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Compile(rules)
		}
		return nil, fmt.Errorf("safety rules read: %w", err)
	}

	var overlay RulesFile
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("safety rules unmarshal: %w", err)
	}
	return Compile(rules.merge(overlay))
}

func (r RulesFile) merge(overlay RulesFile) RulesFile {
	for k, v := range overlay.DomainTiers {
		r.DomainTiers[strings.ToLower(k)] = v
	}
	for k, v := range overlay.DeviceClassTiers {
		r.DeviceClassTiers[strings.ToLower(k)] = v
	}
	r.KeywordTiers = append(r.KeywordTiers, overlay.KeywordTiers...)
	r.CriticalServices = append(r.CriticalServices, overlay.CriticalServices...)
	r.DenyPatterns = append(r.DenyPatterns, overlay.DenyPatterns...)
	return r
}

// Rules is the compiled, read-only form of a RulesFile.
type Rules struct {
	domainTiers      map[string]models.RiskTier
	deviceClassTiers map[string]models.RiskTier
	keywordTiers     []KeywordTier
	criticalServices map[string]bool
	deny             []*regexp.Regexp
}

// Compile validates tiers and compiles deny patterns.
func Compile(f RulesFile) (*Rules, error) {
	r := &Rules{
		domainTiers:      make(map[string]models.RiskTier, len(f.DomainTiers)),
		deviceClassTiers: make(map[string]models.RiskTier, len(f.DeviceClassTiers)),
		criticalServices: make(map[string]bool, len(f.CriticalServices)),
	}
	for k, v := range f.DomainTiers {
		if !validTier(v) {
			return nil, fmt.Errorf("domain %q: invalid risk tier %q", k, v)
		}
		r.domainTiers[strings.ToLower(k)] = v
	}
	for k, v := range f.DeviceClassTiers {
		if !validTier(v) {
			return nil, fmt.Errorf("device class %q: invalid risk tier %q", k, v)
		}
		r.deviceClassTiers[strings.ToLower(k)] = v
	}
	for _, kt := range f.KeywordTiers {
		if kt.Keyword == "" || !validTier(kt.Tier) {
			return nil, fmt.Errorf("keyword rule %q: invalid keyword or tier %q", kt.Keyword, kt.Tier)
		}
		kt.Keyword = strings.ToLower(kt.Keyword)
		r.keywordTiers = append(r.keywordTiers, kt)
	}
	for _, s := range f.CriticalServices {
		r.criticalServices[strings.ToLower(s)] = true
	}
	for _, p := range f.DenyPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("deny pattern %q: %w", p, err)
		}
		r.deny = append(r.deny, re)
	}
	return r, nil
}

func validTier(t models.RiskTier) bool {
	switch t {
	case models.RiskCritical, models.RiskHigh, models.RiskMedium, models.RiskLow:
		return true
	}
	return false
}

// Classify returns the risk tier for an entity. The highest tier among the
// domain, device class and keyword rules wins; unknown domains are medium.
func (r *Rules) Classify(e models.InventoryEntity) models.RiskTier {
	domain := strings.ToLower(e.Domain)
	tier, ok := r.domainTiers[domain]
	if !ok {
		tier = models.RiskMedium
	}
	if e.DeviceClass != "" {
		if dc, ok := r.deviceClassTiers[domain+"."+strings.ToLower(e.DeviceClass)]; ok && dc.Rank() > tier.Rank() {
			tier = dc
		}
	}
	text := strings.ToLower(e.EntityID + " " + e.FriendlyName)
	for _, kt := range r.keywordTiers {
		if kt.Tier.Rank() <= tier.Rank() || !strings.Contains(text, kt.Keyword) {
			continue
		}
		if len(kt.Domains) > 0 && !containsFold(kt.Domains, domain) {
			continue
		}
		tier = kt.Tier
	}
	return tier
}

// Denied returns the deny pattern matching service, if any.
func (r *Rules) Denied(service string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(service))
	for _, re := range r.deny {
		if re.MatchString(s) {
			return re.String(), true
		}
	}
	return "", false
}

// IsCriticalService reports whether calling service needs explicit confirmation
// regardless of the target's tier.
func (r *Rules) IsCriticalService(service string) bool {
	return r.criticalServices[strings.ToLower(strings.TrimSpace(service))]
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
