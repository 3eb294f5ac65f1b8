// Package resolution maps free-text device references onto concrete
// inventory entities using semantic, exact, fuzzy, ordinal and location signals.
package resolution

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/case-engine/pkg/models"
)

// MentionContext is what the parser knows beyond the mention text itself.
type MentionContext struct {
	// CurrentTurnAreas are areas the user named in this turn.
	CurrentTurnAreas []string
	// HistoryAreas are areas carried over from earlier turns, oldest first.
	HistoryAreas []string
	// KnownAreas are the inventory's areas, longest first.
	KnownAreas []string
}

var fillerWords = map[string]bool{
	"the": true, "my": true, "a": true, "an": true, "all": true, "our": true, "your": true, "that": true, "this": true,
}

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
}

var (
	numericOrdinalPattern = regexp.MustCompile(`^(\d+)(st|nd|rd|th)$`)
	hashOrdinalPattern    = regexp.MustCompile(`^#(\d+)$`)
	entityIDPattern       = regexp.MustCompile(`^[a-z0-9_]+\.[a-z0-9_]+$`)
)

// domainKeywords maps nouns in a mention to the inventory domain they imply.
// Keys are singular; plural mentions are singularized before lookup.
var domainKeywords = map[string]string{
	"light": "light", "lamp": "light", "bulb": "light",
	"lock": "lock", "deadbolt": "lock",
	"thermostat": "climate", "heating": "climate", "ac": "climate",
	"fan":   "fan",
	"blind": "cover", "shade": "cover", "curtain": "cover",
	"speaker": "media_player", "tv": "media_player", "television": "media_player",
	"plug": "switch", "outlet": "switch", "switch": "switch",
	"alarm":  "alarm_control_panel",
	"vacuum": "vacuum",
	"valve":  "valve",
}

// ParseMention normalizes a free-text reference, extracting its ordinal,
// area and domain hints.
func ParseMention(raw string, mctx MentionContext) models.EntityMention {
	m := models.EntityMention{Raw: raw}

	lowered := strings.ToLower(strings.TrimSpace(raw))
	if entityIDPattern.MatchString(lowered) {
		m.Text = lowered
		m.DomainHint = lowered[:strings.IndexByte(lowered, '.')]
		return m
	}

	var kept []string
	tokens := tokenize(lowered)
	for i, tok := range tokens {
		if fillerWords[tok] {
			continue
		}
		if m.Ordinal == 0 {
			if n, ok := ordinalWords[tok]; ok {
				m.Ordinal = n
				continue
			}
			if sub := numericOrdinalPattern.FindStringSubmatch(tok); sub != nil {
				m.Ordinal, _ = strconv.Atoi(sub[1])
				continue
			}
			if sub := hashOrdinalPattern.FindStringSubmatch(tok); sub != nil {
				m.Ordinal, _ = strconv.Atoi(sub[1])
				continue
			}
			// "office light 2": a bare trailing number is a position.
			if i == len(tokens)-1 && i > 0 && isDigits(tok) {
				m.Ordinal, _ = strconv.Atoi(tok)
				continue
			}
		}
		kept = append(kept, tok)
	}

	// "the porch lights" names the same device as "the porch light". Only
	// the head noun is singularized so area names stay intact.
	if n := len(kept); n > 0 {
		if head := singular(kept[n-1]); domainKeywords[head] != "" {
			kept[n-1] = head
		}
	}
	m.Text = strings.Join(kept, " ")

	for _, tok := range kept {
		if d, ok := domainKeywords[singular(tok)]; ok {
			m.DomainHint = d
		}
	}

	m.AreaHint, m.AreaFromCurrentTurn = detectArea(m.Text, mctx)
	return m
}

func singular(tok string) string {
	if len(tok) < 4 || isDigits(tok) {
		return tok
	}
	return inflection.Singular(tok)
}

func detectArea(text string, mctx MentionContext) (string, bool) {
	padded := " " + text + " "
	// Areas named in the mention itself win, longest first.
	for _, area := range longestFirst(append(normalizeAll(mctx.CurrentTurnAreas), normalizeAll(mctx.KnownAreas)...)) {
		if area != "" && strings.Contains(padded, " "+area+" ") {
			return area, true
		}
	}
	if len(mctx.CurrentTurnAreas) > 0 {
		return NormalizeText(mctx.CurrentTurnAreas[0]), true
	}
	if n := len(mctx.HistoryAreas); n > 0 {
		return NormalizeText(mctx.HistoryAreas[n-1]), false
	}
	return "", false
}

// NormalizeText lower-cases s, turns separators into spaces and drops other
// punctuation so "Office_Light-2!" becomes "office light 2".
func NormalizeText(s string) string {
	return strings.Join(tokenize(strings.ToLower(s)), " ")
}

func tokenize(s string) []string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '#':
			return r
		case r == '\'':
			return -1
		default:
			return ' '
		}
	}, s)
	return strings.Fields(mapped)
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, NormalizeText(s))
	}
	return out
}

func longestFirst(in []string) []string {
	out := append([]string(nil), in...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && len(out[j]) > len(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
