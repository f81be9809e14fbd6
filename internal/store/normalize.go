package store

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeCollectionName normalizes a collection name for lookup
// (lowercase, no diacritics, spaces for dashes). Lets "svatba-2025" match
// the collection named "Svatba 2025".
func NormalizeCollectionName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	return strings.TrimSpace(name)
}

// FindByName returns the first collection whose normalized name matches the
// normalized query, or nil.
func FindByName(collections []Collection, name string) *Collection {
	want := NormalizeCollectionName(name)
	for i := range collections {
		if NormalizeCollectionName(collections[i].Name) == want {
			return &collections[i]
		}
	}
	return nil
}
