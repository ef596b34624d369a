// Package identity turns raw "Report Number" fields into canonical report keys.
package identity

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/hazmat-radar/internal/model"
)

// ErrUnparsableIdentifier is returned when a raw identifier matches neither
// the anchor-aware pattern nor the bare key pattern.
var ErrUnparsableIdentifier = eris.New("identity: unparsable identifier")

var (
	anchorPattern = regexp.MustCompile(`^(?i:<a\s+href\s*=\s*.*?>)?([A-Z]+-[0-9]+)(?i:</a>)?$`)
	barePattern   = regexp.MustCompile(`[A-Z]+-[0-9]+`)
	hrefPattern   = regexp.MustCompile(`(?i)href\s*=\s*"?([^">\s]+)"?\s*>`)
)

// Extract returns the canonical key for raw. The anchor-aware pattern is
// tried first, then a scan for the bare key anywhere in the string.
func Extract(raw string) (model.Key, error) {
	s := strings.TrimSpace(raw)
	if m := anchorPattern.FindStringSubmatch(s); m != nil {
		return model.Key(m[1]), nil
	}
	if k := barePattern.FindString(s); k != "" {
		return model.Key(k), nil
	}
	return "", eris.Wrapf(ErrUnparsableIdentifier, "value %q", raw)
}

// Link returns the hyperlink target of an anchor-wrapped identifier, or ""
// when raw carries no anchor.
func Link(raw string) string {
	if !strings.Contains(strings.ToLower(raw), "href") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err == nil {
		if href, ok := doc.Find("a").First().Attr("href"); ok && href != "" {
			return strings.TrimSpace(href)
		}
	}
	if m := hrefPattern.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return ""
}

// Policy decides what happens to a row whose identifier cannot be parsed.
type Policy string

const (
	// PolicySkip logs the row and excludes it from the revision.
	PolicySkip Policy = "skip"
	// PolicyStrict aborts processing of the whole month.
	PolicyStrict Policy = "strict"
)

// ParsePolicy maps a config value onto a Policy. Empty means PolicySkip.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicySkip:
		return PolicySkip, nil
	case PolicyStrict:
		return PolicyStrict, nil
	default:
		return "", eris.Errorf("identity: unknown identifier policy %q", s)
	}
}
