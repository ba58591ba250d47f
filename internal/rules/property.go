package rules

import "strings"

// PropertyMap is a file's flattened property map: keys are dot-normalized
// property paths (slashes in the original store key are normalized to dots
// before this map is populated), values are the raw strings the store
// returned.
type PropertyMap map[string]string

// NormalizePath converts a slash- or dot-delimited property path to the
// canonical dot form used as a PropertyMap key.
func NormalizePath(path string) string {
	return strings.ReplaceAll(path, "/", ".")
}

// Get looks up a property by path, normalizing separators first.
func (m PropertyMap) Get(path string) (string, bool) {
	v, ok := m[NormalizePath(path)]
	return v, ok
}

// Has reports whether a property is present.
func (m PropertyMap) Has(path string) bool {
	_, ok := m[NormalizePath(path)]
	return ok
}

// Clone returns a shallow copy, safe to hand to a callback without the
// caller being able to mutate the State Builder's live map.
func (m PropertyMap) Clone() PropertyMap {
	out := make(PropertyMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// IsRelated reports whether storing a value at key could affect, or be
// affected by, tracking relevanceKey — i.e. one is a dotted prefix of the
// other (including equality). This realizes spec §4.3's ancestor/descendant
// relevance rule: tracking "titles" admits updates to "titles.eng", and
// tracking "titles.eng" admits coarse updates to "titles".
func IsRelated(key, relevanceKey string) bool {
	key = NormalizePath(key)
	relevanceKey = NormalizePath(relevanceKey)
	if key == relevanceKey {
		return true
	}
	if strings.HasPrefix(key, relevanceKey+".") {
		return true
	}
	if strings.HasPrefix(relevanceKey, key+".") {
		return true
	}
	return false
}
