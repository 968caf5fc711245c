// Package normalize canonicalizes the identity signals used for matching:
// phone numbers, emails, names, landing-page URLs and free text.
// Every function is pure and idempotent.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/lead-engine/internal/model"
)

// CountryCode is the Brazilian calling code every canonical phone carries.
const CountryCode = "55"

var (
	bracketTagRe  = regexp.MustCompile(`\[[^\[\]]*\]`)
	multiHyphenRe = regexp.MustCompile(`-{2,}`)
	multiSpaceRe  = regexp.MustCompile(`\s+`)
	schemeRe      = regexp.MustCompile(`^[a-z][a-z0-9+.-]*://`)
)

// Phone canonicalizes a Brazilian phone number to "55" followed by the
// 11-digit national number (DDD + 9 + 8 digits). A redundant country code
// or trunk zero is dropped and the mobile 9 is inserted into 10-digit
// numbers. Anything else is a ValidationError.
func Phone(raw string) (string, error) {
	digits := onlyDigits(raw)
	if digits == "" {
		return "", model.NewValidationError("phone", raw, "no digits")
	}

	digits = strings.TrimLeft(digits, "0")
	// The trunk zero may also follow the country code: +55 (011) ...
	if len(digits) > 11 && strings.HasPrefix(digits, CountryCode) {
		digits = strings.TrimLeft(digits[len(CountryCode):], "0")
	}
	if len(digits) == 10 {
		digits = digits[:2] + "9" + digits[2:]
	}
	if len(digits) != 11 {
		return "", model.NewValidationError("phone", raw, "not reducible to 11 national digits")
	}
	if digits[0] == '0' {
		return "", model.NewValidationError("phone", raw, "invalid area code")
	}
	return CountryCode + digits, nil
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Email trims and lowercases an address. Blank input returns "" with no
// error; a malformed address is a ValidationError.
func Email(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	for strings.HasPrefix(email, "mailto:") {
		email = strings.TrimSpace(strings.TrimPrefix(email, "mailto:"))
	}
	if email == "" {
		return "", nil
	}

	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "", model.NewValidationError("email", raw, "expected local@domain")
	}
	if strings.ContainsAny(email, " \t\r\n") || !strings.Contains(domain, ".") ||
		strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", model.NewValidationError("email", raw, "invalid domain")
	}
	return email, nil
}

// Name strips bracketed tags ("[VIP] Ana"), diacritics and repeated
// hyphens, and collapses whitespace. Case is preserved.
func Name(raw string) string {
	name := raw
	for {
		stripped := bracketTagRe.ReplaceAllString(name, " ")
		if stripped == name {
			break
		}
		name = stripped
	}
	name = StripDiacritics(name)
	name = multiHyphenRe.ReplaceAllString(name, "-")
	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// StripDiacritics removes combining marks: "João" becomes "Joao".
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// URL reduces a landing-page URL to host and path for containment
// matching: scheme, "www.", query, fragment and trailing slashes are
// removed and the result is lowercased.
func URL(raw string) string {
	u := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	for {
		next := strings.TrimPrefix(schemeRe.ReplaceAllString(u, ""), "www.")
		next = strings.TrimSpace(strings.TrimRight(next, "/"))
		if next == u {
			return u
		}
		u = next
	}
}

// Words returns the distinct lowercase, diacritic-free words of text in
// order of first appearance. Single-character tokens are dropped.
func Words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(StripDiacritics(text)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(fields))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		words = append(words, f)
	}
	return words
}
