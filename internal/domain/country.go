// Package domain — country code normalization.
package domain

import (
	"strings"

	"golang.org/x/text/language"
)

// NormalizeCountry canonicalizes a country value to its uppercase ISO 3166-1
// alpha-2 form ("de" → "DE"). The wildcard "ALL" passes through unchanged and
// unparseable values collapse to "" so they never match a concrete filter.
func NormalizeCountry(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.EqualFold(s, AllCountries) {
		return AllCountries
	}
	r, err := language.ParseRegion(s)
	if err != nil {
		return ""
	}
	return r.String()
}

// NormalizeCountries maps NormalizeCountry over a filter list, dropping
// values that did not parse.
func NormalizeCountries(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if c := NormalizeCountry(s); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// NormalizeGender lowercases and trims a gender value. Gender is an open
// vocabulary here; the pairing engine only ever compares values for equality.
func NormalizeGender(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeGenders maps NormalizeGender over a filter list, dropping blanks.
func NormalizeGenders(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if g := NormalizeGender(s); g != "" {
			out = append(out, g)
		}
	}
	return out
}
