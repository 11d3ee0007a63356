// Package dedupe tracks already-seen case fingerprints so duplicate
// submissions can be flagged before a new pipeline run starts.
package dedupe

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Registry remembers case fingerprints for a bounded window.
type Registry struct {
	seen *gocache.Cache
}

// NewRegistry creates a registry. Entries expire after ttl; a zero ttl
// keeps them for the life of the process.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl == 0 {
		ttl = gocache.NoExpiration
	}
	return &Registry{
		seen: gocache.New(ttl, 10*time.Minute),
	}
}

// Observe records a fingerprint and reports whether it was already known.
// The first caller for a fingerprint gets false; everyone after gets true.
func (r *Registry) Observe(caseFingerprint string) bool {
	if err := r.seen.Add(caseFingerprint, struct{}{}, gocache.DefaultExpiration); err != nil {
		return true
	}
	return false
}

// Seen reports whether the fingerprint is known without recording it.
func (r *Registry) Seen(caseFingerprint string) bool {
	_, found := r.seen.Get(caseFingerprint)
	return found
}
