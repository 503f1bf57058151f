package state

import (
	"fmt"
	"sort"

	"github.com/wotnet/keychain/foundation/keychain/database"
	"github.com/wotnet/keychain/foundation/keychain/wot"
)

// applyBlock executes a validated block against the database: the block is
// persisted, member flags flip, key material lands in the trusted store,
// links append, and the derived obsolescence and kick state is recomputed.
// Runs under the state mutex; readers never observe a half applied block.
func (s *State) applyBlock(block database.Keyblock, kr keychangeResult) error {
	s.evHandler("state: applyBlock: apply: blk[%d]: write to store", block.Number)

	if err := s.db.Write(block); err != nil {
		return fmt.Errorf("%w: %s", ErrStorage, err)
	}

	s.evHandler("state: applyBlock: apply: blk[%d]: member changes", block.Number)

	for _, joiner := range block.Joiners() {
		s.db.AddMember(joiner)

		kc, ok := block.Newcomer(joiner)
		if !ok {
			continue
		}
		s.db.SaveTrustedKey(database.TrustedKey{
			Fingerprint: joiner,
			UserID:      kr.newKeys[joiner].UserID,
			Packets:     kc.KeyPackets,
		})
	}

	for _, leaver := range block.Leavers() {
		s.db.RemoveMember(leaver)
	}

	s.evHandler("state: applyBlock: apply: blk[%d]: key updates", block.Number)

	for _, kc := range block.KeysChanges {
		if kc.Type != database.KeychangeUpdate {
			continue
		}

		tk, ok := s.db.TrustedKey(string(kc.Fingerprint))
		if !ok {
			return fmt.Errorf("%w: trusted key %s vanished during apply", ErrStorage, kc.Fingerprint)
		}

		merged, err := s.oracle.MergeKey(tk.Packets, kc.KeyPackets, kc.CertPackets)
		if err != nil {
			return fmt.Errorf("%w: merging key material for %s: %s", ErrStorage, kc.Fingerprint, err)
		}

		tk.Packets = merged
		s.db.SaveTrustedKey(tk)
	}

	s.evHandler("state: applyBlock: apply: blk[%d]: links", block.Number)

	for _, target := range sortedTargets(kr.newLinks) {
		sources := make([]database.Fingerprint, len(kr.newLinks[target]))
		copy(sources, kr.newLinks[target])
		sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

		for _, source := range sources {
			s.db.SaveLink(database.Link{
				Source:    source,
				Target:    target,
				Timestamp: block.Timestamp,
			})
		}
	}

	s.evHandler("state: applyBlock: apply: blk[%d]: drop pending memberships", block.Number)

	for _, joiner := range block.Joiners() {
		s.pool.DeleteFor(joiner)
		s.keyPool.DeleteFor(joiner)
	}
	for _, leaver := range block.Leavers() {
		s.pool.DeleteFor(leaver)
		s.keyPool.DeleteFor(leaver)
	}
	for _, kc := range block.KeysChanges {
		if kc.Type == database.KeychangeUpdate {
			s.keyPool.DeleteFor(kc.Fingerprint)
		}
	}

	s.evHandler("state: applyBlock: apply: blk[%d]: recompute obsolescence and kicks", block.Number)

	s.recomputeWoT(block.Timestamp)

	return nil
}

// recomputeWoT ages out links older than the validity window and refreshes
// every member's distanced set and kick flag against the surviving links.
func (s *State) recomputeWoT(asOf int64) {
	s.db.Obsoletes(asOf - s.genesis.SigValidity)

	members := s.db.Members()
	candidates := make([]string, len(members))
	for i, m := range members {
		candidates[i] = string(m)
	}

	links := s.db.LinksView(asOf)

	for _, member := range members {
		missed := wot.NotReachedWithin(links, string(member), candidates, wot.MaxSteps, nil)
		notEnough := s.db.ValidLinkCount(member, asOf) < s.genesis.SigQty

		if len(missed) == 0 && !notEnough {
			s.db.UnsetKicked(member)
			continue
		}

		distanced := make([]database.Fingerprint, len(missed))
		for i, m := range missed {
			distanced[i] = database.Fingerprint(m)
		}
		s.db.SetKicked(member, distanced, notEnough)
	}
}

// sortedTargets fixes the emission order of new links so replay and apply
// write identical stores.
func sortedTargets(newLinks map[database.Fingerprint][]database.Fingerprint) []database.Fingerprint {
	targets := make([]database.Fingerprint, 0, len(newLinks))
	for target := range newLinks {
		targets = append(targets, target)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	return targets
}
