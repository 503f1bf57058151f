// Package database handles the lower level support for maintaining the
// keychain on disk and the in memory indices derived from it: the member
// set, the certification links and the trusted key material.
package database

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wotnet/keychain/foundation/keychain/genesis"
	"github.com/wotnet/keychain/foundation/keychain/wot"
)

// Database manages the keychain and the state derived from applying it.
// There is a single logical writer; readers take shared locks.
type Database struct {
	mu sync.RWMutex

	genesis     genesis.Genesis
	latestBlock Keyblock
	hasTip      bool

	rows        map[Fingerprint]*KeyRow
	links       []Link
	trustedKeys map[Fingerprint]TrustedKey
	keyIDs      map[string]Fingerprint
	lastIssued  map[Fingerprint]Keyblock

	serializer Serializer
}

// New constructs a database over the specified serializer. Stored blocks are
// not replayed here; the state package replays them through the same apply
// path a live block takes so derived state is rebuilt identically.
func New(gen genesis.Genesis, serializer Serializer) *Database {
	return &Database{
		genesis:     gen,
		rows:        make(map[Fingerprint]*KeyRow),
		trustedKeys: make(map[Fingerprint]TrustedKey),
		keyIDs:      make(map[string]Fingerprint),
		lastIssued:  make(map[Fingerprint]Keyblock),
		serializer:  serializer,
	}
}

// Close closes the underlying block store.
func (db *Database) Close() {
	db.serializer.Close()
}

// Genesis returns the chain parameters.
func (db *Database) Genesis() genesis.Genesis {
	return db.genesis
}

// =============================================================================
// Chain access

// LatestBlock returns the current tip, if any block has been applied.
func (db *Database) LatestBlock() (Keyblock, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.latestBlock, db.hasTip
}

// GetBlock returns the stored block with the specified number.
func (db *Database) GetBlock(num uint64) (Keyblock, error) {
	return db.serializer.GetBlock(num)
}

// ForEach returns an iterator to walk through all the stored blocks starting
// with block number 0.
func (db *Database) ForEach() Iterator {
	return db.serializer.ForEach()
}

// LastBlockOfIssuer returns the most recent block sealed by the issuer.
func (db *Database) LastBlockOfIssuer(issuer Fingerprint) (Keyblock, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	b, ok := db.lastIssued[issuer]
	return b, ok
}

// Write persists a block and moves the tip. Derived state is updated by the
// caller through the dedicated mutators.
func (db *Database) Write(block Keyblock) error {
	if err := db.serializer.Write(block); err != nil {
		return fmt.Errorf("writing block %d: %w", block.Number, err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	db.latestBlock = block
	db.hasTip = true
	db.lastIssued[block.Issuer] = block

	return nil
}

// ExpectedZeros computes the proof of work difficulty required from an
// issuer for the block with the specified number. An issuer who sealed a
// recent block carries a penalty that decays as cooldown periods pass.
func (db *Database) ExpectedZeros(issuer Fingerprint, number uint64) int {
	db.mu.RLock()
	defer db.mu.RUnlock()

	last, ok := db.lastIssued[issuer]
	if !ok {
		return db.genesis.PowZeroMin
	}

	penalty := LeadingZeros(last.Hash) - db.genesis.PowZeroMin + 1

	period := db.genesis.PowPeriod
	if !db.genesis.PowPeriodC {
		period = db.genesis.PowPeriod * db.membersCount() / 100
	}
	if period < 1 {
		period = 1
	}
	waited := int(number-last.Number) / period

	zeros := db.genesis.PowZeroMin + penalty - waited
	if zeros < db.genesis.PowZeroMin {
		zeros = db.genesis.PowZeroMin
	}

	return zeros
}

// =============================================================================
// Members

// IsMember reports whether the fingerprint belongs to the current member set.
func (db *Database) IsMember(fpr Fingerprint) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row, ok := db.rows[fpr]
	return ok && row.Member
}

// Members returns the current member set, sorted ascending.
func (db *Database) Members() []Fingerprint {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var members []Fingerprint
	for fpr, row := range db.rows {
		if row.Member {
			members = append(members, fpr)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

	return members
}

// MembersCount returns the size of the current member set.
func (db *Database) MembersCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.membersCount()
}

func (db *Database) membersCount() int {
	count := 0
	for _, row := range db.rows {
		if row.Member {
			count++
		}
	}
	return count
}

// Row returns a copy of the flags stored for a fingerprint.
func (db *Database) Row(fpr Fingerprint) (KeyRow, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row, ok := db.rows[fpr]
	if !ok {
		return KeyRow{}, false
	}
	return *row, true
}

// ToBeKicked returns the members currently flagged for exclusion, sorted.
func (db *Database) ToBeKicked() []KeyRow {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var kicked []KeyRow
	for _, row := range db.rows {
		if row.Member && row.Kick {
			kicked = append(kicked, *row)
		}
	}
	sort.Slice(kicked, func(i, j int) bool { return kicked[i].Fingerprint < kicked[j].Fingerprint })

	return kicked
}

// AddMember flips a fingerprint into the member set and clears any kick
// state it carried.
func (db *Database) AddMember(fpr Fingerprint) {
	db.mu.Lock()
	defer db.mu.Unlock()

	row := db.row(fpr)
	row.Member = true
	row.Kick = false
	row.Distanced = nil
	row.NotEnoughLinks = false
}

// RemoveMember flips a fingerprint out of the member set and clears its kick
// state.
func (db *Database) RemoveMember(fpr Fingerprint) {
	db.mu.Lock()
	defer db.mu.Unlock()

	row := db.row(fpr)
	row.Member = false
	row.Kick = false
	row.Distanced = nil
	row.NotEnoughLinks = false
}

// SetKicked flags a member for exclusion by an upcoming block.
func (db *Database) SetKicked(fpr Fingerprint, distanced []Fingerprint, notEnoughLinks bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	row := db.row(fpr)
	row.Kick = true
	row.Distanced = distanced
	row.NotEnoughLinks = notEnoughLinks
}

// UnsetKicked clears the kick state of a member.
func (db *Database) UnsetKicked(fpr Fingerprint) {
	db.mu.Lock()
	defer db.mu.Unlock()

	row := db.row(fpr)
	row.Kick = false
	row.Distanced = nil
	row.NotEnoughLinks = false
}

func (db *Database) row(fpr Fingerprint) *KeyRow {
	row, ok := db.rows[fpr]
	if !ok {
		row = &KeyRow{Fingerprint: fpr}
		db.rows[fpr] = row
	}
	return row
}

// =============================================================================
// Links

// SaveLink appends a certification link.
func (db *Database) SaveLink(link Link) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.links = append(db.links, link)
}

// ValidLinkSources returns, sorted and deduplicated, the keys holding a
// non obsolete link to the target at the specified time.
func (db *Database) ValidLinkSources(target Fingerprint, asOf int64) []Fingerprint {
	db.mu.RLock()
	defer db.mu.RUnlock()

	seen := make(map[Fingerprint]bool)
	var sources []Fingerprint
	for _, link := range db.links {
		if link.Target != target || !db.linkValid(link, asOf) {
			continue
		}
		if !seen[link.Source] {
			seen[link.Source] = true
			sources = append(sources, link.Source)
		}
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	return sources
}

// ValidLinkCount returns the number of distinct keys holding a non obsolete
// link to the target at the specified time.
func (db *Database) ValidLinkCount(target Fingerprint, asOf int64) int {
	return len(db.ValidLinkSources(target, asOf))
}

// Links returns a copy of every stored link, obsolete ones included.
func (db *Database) Links() []Link {
	db.mu.RLock()
	defer db.mu.RUnlock()

	links := make([]Link, len(db.links))
	copy(links, db.links)

	return links
}

// LinksView adapts the link store for the web of trust walks: a function
// from target to the current valid sources at the specified time.
func (db *Database) LinksView(asOf int64) wot.LinksTo {
	return func(target string) []string {
		sources := db.ValidLinkSources(Fingerprint(target), asOf)
		out := make([]string, len(sources))
		for i, s := range sources {
			out[i] = string(s)
		}
		return out
	}
}

// Obsoletes marks every link that has reached the validity age at the
// cutoff as obsolete. A link aged exactly the validity window is out.
func (db *Database) Obsoletes(cutoff int64) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.links {
		if db.links[i].Timestamp <= cutoff {
			db.links[i].Obsolete = true
		}
	}
}

// linkValid applies both the obsolete flag and the age window at asOf, so
// validation can judge links against a candidate block's timestamp before
// the obsolete flags are recomputed.
func (db *Database) linkValid(link Link, asOf int64) bool {
	if link.Obsolete {
		return false
	}
	return link.Timestamp > asOf-db.genesis.SigValidity
}

// =============================================================================
// Trusted keys

// TrustedKey resolves a trusted key by fingerprint or 16 hex key id.
func (db *Database) TrustedKey(fprOrKeyID string) (TrustedKey, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if tk, ok := db.trustedKeys[Fingerprint(fprOrKeyID)]; ok {
		return tk, true
	}
	if fpr, ok := db.keyIDs[fprOrKeyID]; ok {
		tk, ok := db.trustedKeys[fpr]
		return tk, ok
	}

	return TrustedKey{}, false
}

// SaveTrustedKey inserts or replaces the key material for a fingerprint.
func (db *Database) SaveTrustedKey(tk TrustedKey) {
	db.mu.Lock()
	defer db.mu.Unlock()

	tk.KeyID = tk.Fingerprint.KeyID()
	db.trustedKeys[tk.Fingerprint] = tk
	db.keyIDs[tk.KeyID] = tk.Fingerprint
}
