// Package pool maintains the pending membership declarations for the
// keychain: signature verified requests waiting to be picked into a block.
package pool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wotnet/keychain/foundation/keychain/database"
)

// Entry wraps a membership declaration with the pool bookkeeping flags and
// the armored public key submitted alongside a join request.
type Entry struct {
	Membership database.Membership
	Pubkey     string
	Eligible   bool
	Propagated bool
}

// Pool represents a cache of membership declarations keyed by issuer
// fingerprint and declaration hash. Writes are idempotent under that key so
// re-submissions and gossip echoes collapse.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New constructs a pool for use.
func New() *Pool {
	return &Pool{
		entries: make(map[string]Entry),
	}
}

// Count returns the current number of declarations in the pool.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.entries)
}

// Upsert adds or replaces a declaration in the pool.
func (p *Pool) Upsert(entry Entry) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries[mapKey(entry.Membership)] = entry

	return len(p.entries)
}

// Eligible returns, ordered by issuer fingerprint, the declarations that are
// candidates for the next block.
func (p *Pool) Eligible() []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var eligible []Entry
	for _, entry := range p.entries {
		if entry.Eligible {
			eligible = append(eligible, entry)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].Membership.Issuer < eligible[j].Membership.Issuer
	})

	return eligible
}

// ForHashAndIssuer returns the declaration stored under the specified
// identity, if present.
func (p *Pool) ForHashAndIssuer(hash string, issuer database.Fingerprint) (Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.entries[key(issuer, hash)]
	return entry, ok
}

// DeleteFor removes every declaration issued by the specified fingerprint.
// Called when a block materializes or kicks the key.
func (p *Pool) DeleteFor(fpr database.Fingerprint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k, entry := range p.entries {
		if entry.Membership.Issuer == fpr {
			delete(p.entries, k)
		}
	}
}

// Truncate clears all the declarations from the pool.
func (p *Pool) Truncate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries = make(map[string]Entry)
}

// =============================================================================

// mapKey is used to generate the map key for a declaration.
func mapKey(ms database.Membership) string {
	return key(ms.Issuer, ms.Hash())
}

func key(issuer database.Fingerprint, hash string) string {
	return fmt.Sprintf("%s:%s", issuer, hash)
}
