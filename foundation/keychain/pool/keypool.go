package pool

import (
	"sort"
	"sync"

	"github.com/wotnet/keychain/foundation/keychain/database"
)

// KeyUpdate carries pending key material for an existing member: new
// subkeys with their bindings and new certifications received since the
// member's key was last written to the chain.
type KeyUpdate struct {
	Fingerprint    database.Fingerprint
	Subkeys        string
	Certifications string
}

// KeyPool holds the latest pending key update per member. A fresh
// submission for a fingerprint replaces the previous one; the blobs are
// expected to carry the full pending delta.
type KeyPool struct {
	mu      sync.RWMutex
	updates map[database.Fingerprint]KeyUpdate
}

// NewKeyPool constructs a key pool for use.
func NewKeyPool() *KeyPool {
	return &KeyPool{
		updates: make(map[database.Fingerprint]KeyUpdate),
	}
}

// Upsert adds or replaces the pending update for a fingerprint.
func (kp *KeyPool) Upsert(update KeyUpdate) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	kp.updates[update.Fingerprint] = update
}

// All returns the pending updates ordered by fingerprint.
func (kp *KeyPool) All() []KeyUpdate {
	kp.mu.RLock()
	defer kp.mu.RUnlock()

	updates := make([]KeyUpdate, 0, len(kp.updates))
	for _, update := range kp.updates {
		updates = append(updates, update)
	}

	sort.Slice(updates, func(i, j int) bool { return updates[i].Fingerprint < updates[j].Fingerprint })

	return updates
}

// DeleteFor removes the pending update for a fingerprint once a block has
// carried it.
func (kp *KeyPool) DeleteFor(fpr database.Fingerprint) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	delete(kp.updates, fpr)
}
