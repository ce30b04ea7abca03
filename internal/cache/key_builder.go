package cache

import (
	"fmt"
	"strings"
)

// EntryKey addresses one tier entry. Keys are unique per tier, and the
// version lets a deploy with new prompts start from an empty key space.
type EntryKey struct {
	Version string
	Tier    string
	Key     string
}

// String converts the structured key into the final string used in Redis/map/SQL.
//
//	entry:<VERSION>:<TIER>:<KEY>
//
// Version and tier never contain ':' (see NormalizeSegment); the key may.
func (k EntryKey) String() string {
	return fmt.Sprintf("entry:%s:%s:%s", k.Version, k.Tier, k.Key)
}

// NewEntryKey trims and normalizes the parts of an entry key.
func NewEntryKey(version, tier, key string) EntryKey {
	return EntryKey{
		Version: NormalizeSegment(version),
		Tier:    NormalizeSegment(tier),
		Key:     strings.TrimSpace(key),
	}
}

// NormalizeSegment lowercases s and replaces separators so it is safe as
// a version or tier segment.
func NormalizeSegment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(":", "_", " ", "_").Replace(s)
}

// ParseEntryKey is the inverse of EntryKey.String.
func ParseEntryKey(s string) (EntryKey, bool) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 || parts[0] != "entry" {
		return EntryKey{}, false
	}
	return EntryKey{
		Version: parts[1],
		Tier:    parts[2],
		Key:     parts[3],
	}, true
}
