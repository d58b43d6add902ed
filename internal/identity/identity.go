// Package identity maps email addresses to company identity keys.
package identity

import "strings"

// Consumer webmail providers. An address at one of these identifies a person,
// not a company, so the full address is the identity key instead of the
// domain. Otherwise two unrelated applicants on the same free-mail provider
// would merge into one company.
var webmailDomains = map[string]struct{}{
	"gmail.com":      {},
	"googlemail.com": {},
	"yahoo.com":      {},
	"yahoo.fr":       {},
	"yahoo.co.uk":    {},
	"ymail.com":      {},
	"hotmail.com":    {},
	"hotmail.fr":     {},
	"outlook.com":    {},
	"outlook.fr":     {},
	"live.com":       {},
	"msn.com":        {},
	"aol.com":        {},
	"icloud.com":     {},
	"me.com":         {},
	"mac.com":        {},
	"gmx.com":        {},
	"gmx.de":         {},
	"gmx.net":        {},
	"web.de":         {},
	"proton.me":      {},
	"protonmail.com": {},
	"zoho.com":       {},
	"mail.com":       {},
	"yandex.com":     {},
	"yandex.ru":      {},
	"orange.fr":      {},
	"wanadoo.fr":     {},
	"free.fr":        {},
	"sfr.fr":         {},
	"laposte.net":    {},
}

// Matcher resolves identity keys. Extra webmail domains from configuration
// extend the built-in set; the zero value uses the built-ins alone.
type Matcher struct {
	extraWebmail map[string]struct{}
}

func NewMatcher(extraWebmailDomains []string) *Matcher {
	extra := map[string]struct{}{}
	for _, domain := range extraWebmailDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain != "" {
			extra[domain] = struct{}{}
		}
	}
	return &Matcher{extraWebmail: extra}
}

// KeyOf returns the identity key for an email address: the lowercased domain,
// or the full lowercased address when the domain is a consumer webmail
// provider. Pure and stable.
func (m *Matcher) KeyOf(address string) string {
	address = strings.ToLower(strings.TrimSpace(address))
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return address
	}
	domain := address[at+1:]
	if m.isWebmail(domain) {
		return address
	}
	return domain
}

func (m *Matcher) isWebmail(domain string) bool {
	if _, ok := webmailDomains[domain]; ok {
		return true
	}
	if m == nil {
		return false
	}
	_, ok := m.extraWebmail[domain]
	return ok
}

// KeyOf resolves with the built-in webmail set only.
func KeyOf(address string) string {
	return (*Matcher)(nil).KeyOf(address)
}

// CompanyNameFromKey derives a display name from an identity key. For a
// domain key the first label is split on delimiters and title-cased
// ("newco.com" -> "Newco", "big-corp.io" -> "Big Corp"). For a full-address
// key the local part is used ("jane.doe@gmail.com" -> "Jane Doe").
func CompanyNameFromKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return ""
	}
	base := key
	if at := strings.LastIndex(key, "@"); at >= 0 {
		base = key[:at]
	} else if dot := strings.Index(key, "."); dot > 0 {
		base = key[:dot]
	}
	tokens := strings.FieldsFunc(base, func(r rune) bool {
		return r == '.' || r == '-' || r == '_' || r == '+'
	})
	parts := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if token == "" {
			continue
		}
		parts = append(parts, strings.ToUpper(token[:1])+token[1:])
	}
	return strings.Join(parts, " ")
}

// DomainOf returns the lowercased domain of an address, or "" when there is
// no domain part.
func DomainOf(address string) string {
	address = strings.ToLower(strings.TrimSpace(address))
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return address[at+1:]
}
