// Package normalize canonicalizes domains, emails, person and company
// names, and user column keys before any enrichment decision is made.
//
// All functions are pure and never return an error: invalid input yields
// the zero value and ok=false.
package normalize

import (
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// DomainOptions control how NormalizeDomain canonicalizes a raw value.
type DomainOptions struct {
	StripSubdomain bool
	StripPath      bool
	Lowercase      bool
}

// DefaultDomainOptions strips service subdomains and paths and lowercases.
func DefaultDomainOptions() DomainOptions {
	return DomainOptions{StripSubdomain: true, StripPath: true, Lowercase: true}
}

// serviceSubdomains are host prefixes that never identify a distinct entity.
var serviceSubdomains = map[string]bool{
	"www":    true,
	"www1":   true,
	"www2":   true,
	"www3":   true,
	"mail":   true,
	"email":  true,
	"api":    true,
	"cdn":    true,
	"static": true,
	"assets": true,
	"blog":   true,
	"shop":   true,
	"store":  true,
	"app":    true,
	"m":      true,
}

// multiPartSuffixes are public suffixes that span two labels. The registered
// domain for a host ending in one of these keeps three labels, not two.
var multiPartSuffixes = map[string]bool{
	"co.uk":  true,
	"org.uk": true,
	"ac.uk":  true,
	"gov.uk": true,
	"co.jp":  true,
	"ne.jp":  true,
	"or.jp":  true,
	"com.au": true,
	"net.au": true,
	"org.au": true,
	"co.nz":  true,
	"com.br": true,
	"com.mx": true,
	"co.in":  true,
	"com.sg": true,
	"com.hk": true,
	"co.za":  true,
	"com.cn": true,
}

// freeEmailProviders never identify a company. ExtractDomainFromEmail
// refuses to treat them as an organization domain.
var freeEmailProviders = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"yahoo.co.uk":    true,
	"ymail.com":      true,
	"outlook.com":    true,
	"hotmail.com":    true,
	"hotmail.co.uk":  true,
	"live.com":       true,
	"msn.com":        true,
	"aol.com":        true,
	"icloud.com":     true,
	"me.com":         true,
	"mac.com":        true,
	"protonmail.com": true,
	"proton.me":      true,
	"gmx.com":        true,
	"gmx.de":         true,
	"zoho.com":       true,
	"mail.com":       true,
	"yandex.com":     true,
	"yandex.ru":      true,
}

// IsFreeEmailDomain reports whether domain belongs to a consumer mail service.
func IsFreeEmailDomain(domain string) bool {
	return freeEmailProviders[strings.ToLower(strings.TrimSpace(domain))]
}

// Domain canonicalizes a raw domain or URL into a bare hostname.
// It strips scheme, credentials, port, path, query and fragment, and with
// StripSubdomain removes recognized service prefixes while preserving
// multi-part public suffixes (reddit.co.uk stays reddit.co.uk).
func Domain(raw string, opts DomainOptions) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	// url.Parse needs a scheme to populate Host.
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return "", false
	}

	host := u.Hostname()
	if opts.Lowercase {
		host = strings.ToLower(host)
	}
	host = strings.TrimSuffix(host, ".")

	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return "", false
	}
	for _, l := range labels {
		if l == "" {
			return "", false
		}
	}

	if opts.StripSubdomain {
		labels = stripServiceLabels(labels)
	}
	return strings.Join(labels, "."), true
}

// stripServiceLabels drops leading service subdomains as long as a valid
// registered domain remains.
func stripServiceLabels(labels []string) []string {
	for len(labels) > registeredLabelCount(labels) && serviceSubdomains[labels[0]] {
		labels = labels[1:]
	}
	return labels
}

// registeredLabelCount returns how many trailing labels form the registered
// domain: 3 for multi-part public suffixes, otherwise 2.
func registeredLabelCount(labels []string) int {
	if len(labels) >= 3 {
		suffix := strings.Join(labels[len(labels)-2:], ".")
		if multiPartSuffixes[suffix] {
			return 3
		}
	}
	return 2
}

// EmailDomain extracts the organization domain from an email address.
// Free-email providers yield ok=false: they carry no company signal.
func EmailDomain(email string) (string, bool) {
	e := strings.ToLower(strings.TrimSpace(email))
	at := strings.Count(e, "@")
	if at != 1 {
		return "", false
	}
	parts := strings.SplitN(e, "@", 2)
	if parts[0] == "" || parts[1] == "" {
		return "", false
	}
	domain, ok := Domain(parts[1], DefaultDomainOptions())
	if !ok {
		return "", false
	}
	if freeEmailProviders[domain] {
		return "", false
	}
	return domain, true
}

var nameCaser = cases.Title(language.English, cases.NoLower)

// PersonName canonicalizes a person or company display name: NFC
// normalization, whitespace collapse, title case for all-lower input.
func PersonName(raw string) (string, bool) {
	s := strings.Join(strings.Fields(norm.NFC.String(raw)), " ")
	if s == "" {
		return "", false
	}
	if s == strings.ToLower(s) {
		s = nameCaser.String(s)
	}
	return s, true
}

// CompanySlug reduces a company name to a bare lowercase token for
// canonical-domain comparison ("Acme Corp." → "acmecorp").
func CompanySlug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	for _, suffix := range []string{" incorporated", " corporation", " inc.", " inc", " corp.", " corp", " llc", " ltd.", " ltd", " gmbh", " s.a.", " plc", " co.", " co"} {
		s = strings.TrimSuffix(s, suffix)
	}
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
