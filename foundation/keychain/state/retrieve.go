package state

import (
	"github.com/wotnet/keychain/foundation/keychain/database"
	"github.com/wotnet/keychain/foundation/keychain/genesis"
	"github.com/wotnet/keychain/foundation/keychain/peer"
	"github.com/wotnet/keychain/foundation/keychain/pool"
)

// RetrieveGenesis returns a copy of the chain parameters.
func (s *State) RetrieveGenesis() genesis.Genesis {
	return s.genesis
}

// Current returns the tip of the chain, if any block has been applied.
func (s *State) Current() (database.Keyblock, bool) {
	return s.db.LatestBlock()
}

// Promoted returns the block that was promoted at the specified number.
func (s *State) Promoted(num uint64) (database.Keyblock, error) {
	return s.db.GetBlock(num)
}

// RetrieveMembers returns the current member set, sorted.
func (s *State) RetrieveMembers() []database.Fingerprint {
	return s.db.Members()
}

// RetrieveMemberRow returns the flags stored for a fingerprint.
func (s *State) RetrieveMemberRow(fpr database.Fingerprint) (database.KeyRow, bool) {
	return s.db.Row(fpr)
}

// RetrieveTrustedKey resolves stored key material by fingerprint or key id.
func (s *State) RetrieveTrustedKey(fprOrKeyID string) (database.TrustedKey, bool) {
	return s.db.TrustedKey(fprOrKeyID)
}

// RetrieveLinksTo returns the keys currently certifying a target.
func (s *State) RetrieveLinksTo(target database.Fingerprint) []database.Fingerprint {
	return s.db.ValidLinkSources(target, s.now())
}

// RetrievePendingMemberships returns the eligible declarations waiting in the
// pool, ordered by issuer. Entries stored as ineligible are not listed.
func (s *State) RetrievePendingMemberships() []pool.Entry {
	return s.pool.Eligible()
}

// RetrieveKnownPeers retrieves the list of known peers, excluding this node.
func (s *State) RetrieveKnownPeers() []peer.Peer {
	return s.knownPeers.Copy(s.host)
}
