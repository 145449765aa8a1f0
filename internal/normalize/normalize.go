// Package normalize turns raw contact fields into canonical comparison keys.
//
// Every function is total and idempotent. An empty result means the key is absent.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/rpattn/opscrm/internal/domain"
)

// Normalizer maps a raw value to its comparison key.
type Normalizer func(string) string

// legalSuffixes are dropped from business names when they appear as whole words.
var legalSuffixes = map[string]struct{}{
	"llc": {},
	"inc": {},
	"co":  {},
	"ltd": {},
}

// Email trims and lowercases an address.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Phone keeps digits only and drops a leading US country code from 11-digit numbers.
func Phone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}

// Domain extracts a bare host from an email address or a website URL.
func Domain(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if at := strings.LastIndex(s, "@"); at >= 0 {
		return strings.TrimSpace(s[at+1:])
	}
	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(s, scheme) {
			s = s[len(scheme):]
			break
		}
	}
	s = strings.TrimPrefix(s, "www.")
	if cut := strings.IndexAny(s, "/?#"); cut >= 0 {
		s = s[:cut]
	}
	return strings.TrimSpace(s)
}

// BusinessName lowercases, strips punctuation and legal suffix tokens, and collapses whitespace.
func BusinessName(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))

	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	tokens := strings.Fields(b.String())
	kept := tokens[:0]
	for _, token := range tokens {
		if _, suffix := legalSuffixes[token]; suffix {
			continue
		}
		kept = append(kept, token)
	}
	return strings.Join(kept, " ")
}

// City lowercases and trims.
func City(s string) string {
	return strings.TrimSpace(strings.ToLower(norm.NFKC.String(s)))
}

// Input is the raw subset of lead fields that produces comparison keys.
type Input struct {
	Email        string
	Phone        string
	Website      string
	BusinessName string
	City         string
}

// Payload computes all comparison keys at once. The domain key prefers the email over the website.
func Payload(in Input) domain.NormalizedKeys {
	domainSource := in.Website
	if strings.TrimSpace(in.Email) != "" {
		domainSource = in.Email
	}
	return domain.NormalizedKeys{
		Email:  Email(in.Email),
		Phone:  Phone(in.Phone),
		Domain: Domain(domainSource),
		Name:   BusinessName(in.BusinessName),
		City:   City(in.City),
	}
}

// Fields computes keys for a mapped row's known fields.
func Fields(f domain.KnownFields) domain.NormalizedKeys {
	return Payload(Input{
		Email:        f.Email,
		Phone:        f.Phone,
		Website:      f.Website,
		BusinessName: f.BusinessName,
		City:         f.City,
	})
}

// Lead recomputes the keys of a lead from its display fields.
func Lead(l domain.Lead) domain.Lead {
	out := l
	out.Normalized = Fields(l.KnownFields())
	return out
}
