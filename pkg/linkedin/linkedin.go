// Package linkedin normalizes LinkedIn profile/company URLs to a canonical
// form and derives the combo hash used for lead dedup (spec.md §6.2), ported
// regex-for-regex from original_source/gateway/utils/linkedin.py.
package linkedin

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
)

// URLType selects which LinkedIn path shape to extract.
type URLType string

const (
	URLTypeProfile URLType = "profile"
	URLTypeCompany URLType = "company"
)

var (
	protocolRe  = regexp.MustCompile(`^https?://`)
	wwwRe       = regexp.MustCompile(`^www\.`)
	slashesRe   = regexp.MustCompile(`/+`)
	profileSlug = regexp.MustCompile(`linkedin\.com/in/([^/]+)`)
	companySlug = regexp.MustCompile(`linkedin\.com/company/([^/]+)`)
)

// Normalize reduces a raw LinkedIn URL to "linkedin.com/in/{slug}" or
// "linkedin.com/company/{slug}", or "" if it isn't a recognizable LinkedIn
// URL of the requested type. Handles protocol/www variation, percent-encoding,
// query/fragment stripping, repeated-slash collapse, and trailing slashes —
// every gaming vector a miner could use to submit the same profile twice.
func Normalize(raw string, urlType URLType) string {
	if raw == "" {
		return ""
	}

	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		decoded = raw
	}

	s := strings.ToLower(strings.TrimSpace(decoded))
	s = protocolRe.ReplaceAllString(s, "")
	s = wwwRe.ReplaceAllString(s, "")

	if !strings.HasPrefix(s, "linkedin.com") {
		return ""
	}

	s = strings.SplitN(s, "?", 2)[0]
	s = strings.SplitN(s, "#", 2)[0]
	s = slashesRe.ReplaceAllString(s, "/")
	s = strings.TrimRight(s, "/")

	var re *regexp.Regexp
	var prefix string
	switch urlType {
	case URLTypeProfile:
		re, prefix = profileSlug, "linkedin.com/in/"
	case URLTypeCompany:
		re, prefix = companySlug, "linkedin.com/company/"
	default:
		return ""
	}

	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return prefix + m[1]
}

// ComboHash computes SHA-256(normalize(profileURL)||normalize(companyURL))
// hex-encoded, or "" if either URL fails to normalize. Distinct (profile,
// company) pairs cannot collide by concatenation: a profile slug contains no
// "/", so the first "/" after the profile prefix always belongs to the
// company part's "linkedin.com/company/".
func ComboHash(profileURL, companyURL string) string {
	profile := Normalize(profileURL, URLTypeProfile)
	company := Normalize(companyURL, URLTypeCompany)
	if profile == "" || company == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(profile + "||" + company))
	return hex.EncodeToString(sum[:])
}
