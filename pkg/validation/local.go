package validation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ekaya-inc/case-engine/pkg/models"
)

// LocalStageName is the stage name of the built-in structural validator.
const LocalStageName = "local"

const (
	errorPenalty   = 25
	warningPenalty = 5
)

var (
	servicePattern  = regexp.MustCompile(`^[a-z_]+\.[a-z0-9_]+$`)
	entityIDFormat  = regexp.MustCompile(`^[a-z_]+\.[a-z0-9_]+$`)
	timeOfDayFormat = regexp.MustCompile(`^(\d{1,2}):(\d{1,2})(?::(\d{1,2}))?$`)
)

var validModes = map[string]bool{
	models.ModeSingle: true, models.ModeRestart: true, models.ModeQueued: true, models.ModeParallel: true,
}

var validSunEvents = map[string]bool{"sunrise": true, "sunset": true}

// servicesWithoutDomainMatch may target entities of any domain.
var servicesWithoutDomainMatch = map[string]bool{
	"homeassistant": true, "scene": true, "notify": true, "persistent_notification": true,
}

// LocalBackend is the dependency-free structural validator. It never fails.
type LocalBackend struct{}

var _ Backend = (*LocalBackend)(nil)

// NewLocalBackend creates the structural validator.
func NewLocalBackend() *LocalBackend { return &LocalBackend{} }

// Name implements Backend.
func (LocalBackend) Name() string { return LocalStageName }

// Validate implements Backend.
func (LocalBackend) Validate(_ context.Context, req Request) (*models.ValidationReport, error) {
	return CheckStructure(req.Draft, req.ValidateEntities), nil
}

type checker struct {
	draft    *models.AutomationDraft
	errors   []string
	warnings []string
	fixed    bool
}

func (c *checker) errorf(format string, args ...any) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

func (c *checker) warnf(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

// CheckStructure validates a draft's shape, auto-fixing what it safely can.
// When validateEntities is set, every referenced entity must be one of the
// draft's resolved entities.
func CheckStructure(draft *models.AutomationDraft, validateEntities bool) *models.ValidationReport {
	report := &models.ValidationReport{Stage: LocalStageName, CreatedAt: time.Now().UTC()}
	if draft == nil {
		report.Errors = []string{"draft is empty"}
		return report
	}

	c := &checker{draft: draft.Clone()}
	c.checkHeader()
	c.checkTriggers()
	c.checkConditions()
	c.checkActions()
	if validateEntities {
		c.checkEntities()
	}

	report.Errors = c.errors
	report.Warnings = c.warnings
	report.Valid = len(c.errors) == 0
	report.Score = max(0, 100-errorPenalty*len(c.errors)-warningPenalty*len(c.warnings))
	if c.fixed {
		report.FixedDraft = c.draft
	}
	return report
}

func (c *checker) checkHeader() {
	d := c.draft
	if alias := collapseSpace(d.Alias); alias != d.Alias {
		d.Alias = alias
		c.fixed = true
	}
	if d.Alias == "" {
		c.errorf("alias is required")
	}
	if desc := collapseSpace(d.Description); desc != d.Description {
		d.Description = desc
		c.fixed = true
	}

	mode := strings.ToLower(strings.TrimSpace(d.Mode))
	switch {
	case mode == "":
		mode = models.ModeSingle
	case !validModes[mode]:
		c.warnf("unknown mode %q replaced with %q", d.Mode, models.ModeSingle)
		mode = models.ModeSingle
	}
	if mode != d.Mode {
		d.Mode = mode
		c.fixed = true
	}
}

func (c *checker) checkTriggers() {
	if len(c.draft.Triggers) == 0 {
		c.errorf("at least one trigger is required")
	}
	for i := range c.draft.Triggers {
		t := &c.draft.Triggers[i]
		label := fmt.Sprintf("trigger %d", i+1)
		t.EntityIDs = c.fixEntityIDs(label, t.EntityIDs)

		platform := strings.ToLower(strings.TrimSpace(t.Platform))
		if platform != t.Platform {
			t.Platform = platform
			c.fixed = true
		}
		switch platform {
		case "":
			c.errorf("%s: platform is required", label)
		case models.PlatformState:
			if len(t.EntityIDs) == 0 {
				c.errorf("%s: state trigger needs an entity", label)
			}
		case models.PlatformTime:
			if t.At == "" {
				c.errorf("%s: time trigger needs 'at'", label)
			} else {
				t.At = c.fixTime(label, t.At)
			}
		case models.PlatformSun:
			event := strings.ToLower(strings.TrimSpace(t.Event))
			if event != t.Event {
				t.Event = event
				c.fixed = true
			}
			if !validSunEvents[event] {
				c.errorf("%s: sun trigger event must be sunrise or sunset", label)
			}
		case models.PlatformEvent:
			if strings.TrimSpace(t.Event) == "" {
				c.errorf("%s: event trigger needs an event type", label)
			}
		default:
			c.warnf("%s: platform %q is not checked locally", label, platform)
		}
	}
}

func (c *checker) checkConditions() {
	for i := range c.draft.Conditions {
		cond := &c.draft.Conditions[i]
		label := fmt.Sprintf("condition %d", i+1)
		cond.EntityIDs = c.fixEntityIDs(label, cond.EntityIDs)

		kind := strings.ToLower(strings.TrimSpace(cond.Condition))
		if kind != cond.Condition {
			cond.Condition = kind
			c.fixed = true
		}
		switch kind {
		case "":
			c.errorf("%s: condition type is required", label)
		case "state":
			if len(cond.EntityIDs) == 0 {
				c.errorf("%s: state condition needs an entity", label)
			}
			if cond.State == "" {
				c.errorf("%s: state condition needs a state", label)
			}
		case "time":
			if cond.After == "" && cond.Before == "" {
				c.errorf("%s: time condition needs 'after' or 'before'", label)
			}
			if cond.After != "" {
				cond.After = c.fixTime(label, cond.After)
			}
			if cond.Before != "" {
				cond.Before = c.fixTime(label, cond.Before)
			}
		}
	}
}

func (c *checker) checkActions() {
	if len(c.draft.Actions) == 0 {
		c.errorf("at least one action is required")
	}
	for i := range c.draft.Actions {
		a := &c.draft.Actions[i]
		label := fmt.Sprintf("action %d", i+1)
		a.EntityIDs = c.fixEntityIDs(label, a.EntityIDs)

		service := strings.ToLower(strings.TrimSpace(a.Service))
		if service != a.Service {
			a.Service = service
			c.fixed = true
		}
		c.checkPayload(label+" data", a.Data)
		if !servicePattern.MatchString(service) {
			c.errorf("%s: service %q is not of the form domain.operation", label, a.Service)
			continue
		}
		domain := service[:strings.IndexByte(service, '.')]
		if servicesWithoutDomainMatch[domain] {
			continue
		}
		for _, id := range a.EntityIDs {
			if dot := strings.IndexByte(id, '.'); dot > 0 && id[:dot] != domain {
				c.warnf("%s: service %s targets %s from another domain", label, service, id)
			}
		}
	}
}

// checkPayload rejects action data strings that look like SQL or script
// injection. Payloads are stored in the registry and rendered by notifiers.
func (c *checker) checkPayload(path string, v any) {
	switch v := v.(type) {
	case string:
		if sqli, fingerprint := libinjection.IsSQLi(v); sqli {
			c.errorf("%s: value looks like SQL injection (fingerprint %s)", path, fingerprint)
		} else if libinjection.IsXSS(v) {
			c.errorf("%s: value looks like script injection", path)
		}
	case map[string]any:
		for k, child := range v {
			c.checkPayload(path+"."+k, child)
		}
	case []any:
		for i, child := range v {
			c.checkPayload(fmt.Sprintf("%s[%d]", path, i), child)
		}
	}
}

func (c *checker) checkEntities() {
	for _, id := range c.draft.EntityIDs() {
		if _, ok := c.draft.Entity(id); !ok {
			c.errorf("entity %s was not resolved against the inventory", id)
		}
	}
}

// fixEntityIDs trims, lower-cases and de-duplicates ids, reporting malformed ones.
func (c *checker) fixEntityIDs(label string, ids []string) []string {
	if len(ids) == 0 {
		return ids
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		norm := strings.ToLower(strings.TrimSpace(id))
		if norm != id {
			c.fixed = true
		}
		if seen[norm] {
			c.fixed = true
			continue
		}
		seen[norm] = true
		if !entityIDFormat.MatchString(norm) {
			c.errorf("%s: entity id %q is malformed", label, id)
		}
		out = append(out, norm)
	}
	return out
}

// fixTime normalizes H:MM, HH:MM and HH:MM:SS to HH:MM:SS.
func (c *checker) fixTime(label, value string) string {
	m := timeOfDayFormat.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		c.errorf("%s: time %q is not HH:MM:SS", label, value)
		return value
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	s := 0
	if m[3] != "" {
		s, _ = strconv.Atoi(m[3])
	}
	if h > 23 || mi > 59 || s > 59 {
		c.errorf("%s: time %q is out of range", label, value)
		return value
	}
	fixed := fmt.Sprintf("%02d:%02d:%02d", h, mi, s)
	if fixed != value {
		c.fixed = true
	}
	return fixed
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
