// Package domain contains the core data structures and domain logic for the application.
package domain

import (
	"regexp"
	"strings"
	"unicode"
)

// parenthetical matches ticker suffixes such as "(NAS: MSFT)".
var parenthetical = regexp.MustCompile(`\(.*?\)`)

// CompanyQuery is a raw company name as read from the input list.
type CompanyQuery string

// CanonicalName is a CompanyQuery with ticker/parenthetical suffixes and
// surrounding whitespace removed. Case is preserved.
type CanonicalName string

// Canonical strips parenthetical groups and surrounding whitespace.
func (q CompanyQuery) Canonical() CanonicalName {
	return CanonicalName(strings.TrimSpace(parenthetical.ReplaceAllString(string(q), "")))
}

// Context returns the trimmed raw input, kept on every persisted record.
func (q CompanyQuery) Context() string {
	return strings.TrimSpace(string(q))
}

// Key returns the case-folded, filesystem-safe folder key for the company.
// Only letters, digits, space, '-' and '_' survive; spaces become '_'.
func (n CanonicalName) Key() string {
	var b strings.Builder
	for _, r := range string(n) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	key := strings.TrimSpace(b.String())
	return strings.ToLower(strings.ReplaceAll(key, " ", "_"))
}

// IsEmpty reports whether nothing is left to search for.
func (n CanonicalName) IsEmpty() bool {
	return n == ""
}

// Company bundles the forms of a company name used through the pipeline.
type Company struct {
	Input string        `json:"company_input"`
	Name  CanonicalName `json:"company_name"`
	Key   string        `json:"company_key"`
}

// NewCompany derives the canonical name and folder key from a raw query.
func NewCompany(raw string) Company {
	q := CompanyQuery(raw)
	name := q.Canonical()
	return Company{Input: q.Context(), Name: name, Key: name.Key()}
}
