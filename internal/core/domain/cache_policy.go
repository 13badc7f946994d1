package domain

import (
	"fmt"
	"strings"
)

// CachePolicy controls whether a store's cache is persisted to disk.
type CachePolicy int

const (
	// CacheNone never reads or writes the persisted cache.
	CacheNone CachePolicy = iota
	// CacheUse reads the persisted cache if present, else computes and persists.
	CacheUse
	// CacheClearAndUse deletes the persisted cache at construction, then
	// behaves like CacheUse.
	CacheClearAndUse
)

// Persistent reports whether the policy reads and writes the cache file.
func (p CachePolicy) Persistent() bool {
	return p == CacheUse || p == CacheClearAndUse
}

func (p CachePolicy) String() string {
	switch p {
	case CacheNone:
		return "none"
	case CacheUse:
		return "use"
	case CacheClearAndUse:
		return "clear"
	default:
		return fmt.Sprintf("CachePolicy(%d)", int(p))
	}
}

// ParseCachePolicy parses "none", "use" or "clear" (and long forms).
// An empty string yields def.
func ParseCachePolicy(s string, def CachePolicy) (CachePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "none", "off":
		return CacheNone, nil
	case "use", "use_cache":
		return CacheUse, nil
	case "clear", "clear_and_use_cache":
		return CacheClearAndUse, nil
	default:
		return CacheNone, fmt.Errorf("%w: cache policy %q", ErrInvalidInput, s)
	}
}
