package preview

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxSlugLength   = 48
	idSuffixBytes   = 4
	idTimestampForm = "20060102T150405Z"
)

// NormalizeAlias folds an alias to a lowercase ASCII slug:
// "Porch Light Routine" -> "porch_light_routine", "Café" -> "cafe".
func NormalizeAlias(alias string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, alias)
	if err != nil {
		folded = alias
	}

	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	slug := strings.Trim(b.String(), "_")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "_")
	}
	if slug == "" {
		return "automation"
	}
	return slug
}

// NewAutomationID mints a registry identifier from the alias, the creation
// time and a random suffix. Two approvals with the same alias never share an id.
func NewAutomationID(alias string, now time.Time) string {
	suffix := make([]byte, idSuffixBytes)
	if _, err := rand.Read(suffix); err != nil {
		panic("failed to generate automation id suffix: " + err.Error())
	}
	return NormalizeAlias(alias) + "_" + now.UTC().Format(idTimestampForm) + "_" + hex.EncodeToString(suffix)
}
