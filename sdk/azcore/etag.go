package azcore

import "strings"

// ETag is an HTTP entity tag as returned in an ETag header, quotes included.
type ETag string

// ETagAny matches any entity.
const ETagAny ETag = "*"

// Equals performs a strong comparison of two ETags. Weak tags never compare
// equal, per RFC 7232.
func (e ETag) Equals(other ETag) bool {
	return !e.IsWeak() && !other.IsWeak() && e == other
}

// WeakEquals compares two ETags ignoring weakness indicators.
func (e ETag) WeakEquals(other ETag) bool {
	trim := func(t ETag) string {
		return strings.TrimPrefix(string(t), "W/")
	}
	return trim(e) == trim(other)
}

// IsWeak reports whether the tag carries the W/ prefix.
func (e ETag) IsWeak() bool {
	return len(e) >= 4 && strings.HasPrefix(string(e), `W/"`) && strings.HasSuffix(string(e), `"`)
}

// MatchConditions specifies HTTP options for conditional requests.
type MatchConditions struct {
	// IfMatch performs the operation only if the entity's current tag matches.
	IfMatch *ETag

	// IfNoneMatch performs the operation only if no entity matches the tag.
	IfNoneMatch *ETag
}
