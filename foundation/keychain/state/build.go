package state

import (
	"fmt"
	"sort"

	"github.com/wotnet/keychain/foundation/keychain/database"
	"github.com/wotnet/keychain/foundation/keychain/pgp"
	"github.com/wotnet/keychain/foundation/keychain/pool"
)

// candidate pairs a pending join with its decomposed key while the builder
// decides which subset keeps the web of trust stable.
type candidate struct {
	entry pool.Entry
	key   *pgp.Key
	certs []pgp.Certification
}

// GenerateEmptyNext produces a candidate block carrying only the exclusions
// the web of trust currently requires. No keychanges.
func (s *State) GenerateEmptyNext() (database.Keyblock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.assemble(nil, nil, nil)
}

// GenerateNext produces a candidate block carrying the pending key updates
// of existing members plus the required exclusions.
func (s *State) GenerateNext() (database.Keyblock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updates, updateLinks, err := s.updateKeychanges(nil)
	if err != nil {
		return database.Keyblock{}, err
	}

	return s.assemble(nil, updates, updateLinks)
}

// GenerateNewcomers produces a candidate block admitting the pending joins
// that survive the filter and the iterated web of trust check, plus the
// pending key updates and the required exclusions. The updates matter for
// admission: a newcomer reaches the rest of the web through the
// certifications it issued, which travel as updates of the certified keys.
func (s *State) GenerateNewcomers(filter Filter) (database.Keyblock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accepted, err := s.admitNewcomers(filter)
	if err != nil {
		return database.Keyblock{}, err
	}

	updates, updateLinks, err := s.updateKeychanges(trialKeys(accepted))
	if err != nil {
		return database.Keyblock{}, err
	}

	return s.assemble(accepted, updates, updateLinks)
}

// GenerateNewcomersAuto produces a newcomer block with the filter the node
// was configured with; by default every stable candidate passes.
func (s *State) GenerateNewcomersAuto() (database.Keyblock, error) {
	return s.GenerateNewcomers(s.filter)
}

// =============================================================================

// admitNewcomers gathers the eligible joins and runs the iterated
// admission: candidates enter one by one, each kept only if the web of
// trust including everyone admitted so far stays stable.
func (s *State) admitNewcomers(filter Filter) ([]candidate, error) {
	var entries []pool.Entry
	for _, entry := range s.pool.Eligible() {
		if entry.Membership.Membership != database.MembershipIn || s.db.IsMember(entry.Membership.Issuer) {
			continue
		}
		entries = append(entries, entry)
	}
	entries = filter(entries)

	now := s.now()

	var accepted []candidate
	for _, entry := range entries {
		key, err := s.oracle.Decompose(entry.Pubkey)
		if err != nil || database.Fingerprint(key.Fingerprint) != entry.Membership.Issuer || !pgp.IsUdid2(key.UserID) {
			s.evHandler("state: admitNewcomers: skipping %s: unusable key material", entry.Membership.Issuer)
			continue
		}

		certs, err := s.oracle.CertificationsOf(key)
		if err != nil {
			s.evHandler("state: admitNewcomers: skipping %s: %s", entry.Membership.Issuer, err)
			continue
		}

		trial := append(append([]candidate{}, accepted...), candidate{entry: entry, key: key, certs: certs})

		_, updateLinks, err := s.updateKeychanges(trialKeys(trial))
		if err != nil {
			s.evHandler("state: admitNewcomers: skipping %s: %s", entry.Membership.Issuer, err)
			continue
		}

		if err := s.trialStable(trial, updateLinks, now); err != nil {
			s.evHandler("state: admitNewcomers: skipping %s: %s", entry.Membership.Issuer, err)
			continue
		}

		accepted = trial
	}

	return accepted, nil
}

// trialKeys indexes a trial's decomposed keys by fingerprint.
func trialKeys(trial []candidate) map[database.Fingerprint]*pgp.Key {
	keys := make(map[database.Fingerprint]*pgp.Key, len(trial))
	for _, c := range trial {
		keys[c.entry.Membership.Issuer] = c.key
	}
	return keys
}

// trialStable runs the web of trust stability check over a tentative set of
// newcomers, exactly as validation will run it over the finished block.
func (s *State) trialStable(trial []candidate, updateLinks map[database.Fingerprint][]database.Fingerprint, now int64) error {
	kr, membersAfter, changes := s.resolveTrial(trial, updateLinks, now)

	block := database.Keyblock{
		Timestamp:      now,
		MembersChanges: changes,
	}

	return s.checkWoTStability(block, kr, membersAfter)
}

// resolveTrial derives the links, post block member set and members changes
// for a tentative newcomer set on top of any links the block already adds
// for existing members. Certifications from keys outside the post block
// member set are dropped, never counted.
func (s *State) resolveTrial(trial []candidate, updateLinks map[database.Fingerprint][]database.Fingerprint, now int64) (keychangeResult, []database.Fingerprint, []string) {
	kr := keychangeResult{
		newKeys:  make(map[database.Fingerprint]*pgp.Key),
		newLinks: make(map[database.Fingerprint][]database.Fingerprint),
	}
	for target, sources := range updateLinks {
		for _, source := range sources {
			kr.addLink(source, target)
		}
	}
	for _, c := range trial {
		kr.newKeys[c.entry.Membership.Issuer] = c.key
	}

	after := make(map[database.Fingerprint]bool)
	for _, m := range s.db.Members() {
		after[m] = true
	}

	// Current members failing the rules leave; their exclusion is part of
	// the trial's member set before newcomer links resolve.
	var changes []string
	for _, m := range s.db.Members() {
		if s.memberFailing(m, now, kr) {
			changes = append(changes, "-"+string(m))
			delete(after, m)
		}
	}

	for _, c := range trial {
		fpr := c.entry.Membership.Issuer
		changes = append(changes, "+"+string(fpr))
		after[fpr] = true
	}

	for _, c := range trial {
		fpr := c.entry.Membership.Issuer
		for _, cert := range c.certs {
			source, ok := s.certifierIn(cert, kr, after)
			if !ok || source == fpr {
				continue
			}
			kr.addLink(source, fpr)
		}
	}

	membersAfter := make([]database.Fingerprint, 0, len(after))
	for fpr := range after {
		membersAfter = append(membersAfter, fpr)
	}
	sort.Slice(membersAfter, func(i, j int) bool { return membersAfter[i] < membersAfter[j] })
	sort.Strings(changes)

	return kr, membersAfter, changes
}

// certifierIn resolves a certification issuer against the trial newcomers
// and the trusted keys, keeping only members of the post block set.
func (s *State) certifierIn(cert pgp.Certification, kr keychangeResult, after map[database.Fingerprint]bool) (database.Fingerprint, bool) {
	for fpr := range kr.newKeys {
		if fpr.KeyID() == cert.IssuerKeyID && after[fpr] {
			return fpr, true
		}
	}

	if tk, ok := s.db.TrustedKey(cert.IssuerKeyID); ok && after[tk.Fingerprint] {
		return tk.Fingerprint, true
	}

	return "", false
}

// =============================================================================

// updateKeychanges turns the pending key updates into UPDATE keychanges and
// the links they add. A certification survives only when its issuer is a
// current member or one of the newcomers under trial.
func (s *State) updateKeychanges(newKeys map[database.Fingerprint]*pgp.Key) ([]database.Keychange, map[database.Fingerprint][]database.Fingerprint, error) {
	var keysChanges []database.Keychange
	links := make(map[database.Fingerprint][]database.Fingerprint)

	for _, update := range s.keyPool.All() {
		if !s.db.IsMember(update.Fingerprint) {
			continue
		}

		certBlob := ""
		if update.Certifications != "" {
			certs, err := s.oracle.Certifications(update.Certifications)
			if err != nil {
				return nil, nil, fmt.Errorf("certification packets for %s: %w", update.Fingerprint, err)
			}

			var kept []pgp.Certification
			for _, cert := range certs {
				source, ok := s.updateCertifier(cert, newKeys)
				if !ok || source == update.Fingerprint {
					continue
				}
				kept = append(kept, cert)
				links[update.Fingerprint] = append(links[update.Fingerprint], source)
			}

			if len(kept) > 0 {
				if certBlob, err = s.oracle.EncodeCertifications(kept); err != nil {
					return nil, nil, fmt.Errorf("encoding certifications for %s: %w", update.Fingerprint, err)
				}
			}
		}

		if update.Subkeys == "" && certBlob == "" {
			continue
		}

		keysChanges = append(keysChanges, database.Keychange{
			Type:        database.KeychangeUpdate,
			Fingerprint: update.Fingerprint,
			KeyPackets:  update.Subkeys,
			CertPackets: certBlob,
		})
	}

	return keysChanges, links, nil
}

// updateCertifier resolves an update certification's issuer against the
// newcomers under trial and the trusted keys of current members.
func (s *State) updateCertifier(cert pgp.Certification, newKeys map[database.Fingerprint]*pgp.Key) (database.Fingerprint, bool) {
	for fpr := range newKeys {
		if fpr.KeyID() == cert.IssuerKeyID {
			return fpr, true
		}
	}

	if tk, ok := s.db.TrustedKey(cert.IssuerKeyID); ok && s.db.IsMember(tk.Fingerprint) {
		return tk.Fingerprint, true
	}

	return "", false
}

// =============================================================================

// assemble builds the candidate block for the accepted newcomers and key
// updates: members changes, merkle root and count, chain linkage. The block
// is unsealed; Prove supplies timestamp, nonce, issuer, signature and hash.
func (s *State) assemble(accepted []candidate, updates []database.Keychange, updateLinks map[database.Fingerprint][]database.Fingerprint) (database.Keyblock, error) {
	now := s.now()

	kr, membersAfter, changes := s.resolveTrial(accepted, updateLinks, now)

	root, err := database.MembersRoot(membersAfter)
	if err != nil {
		return database.Keyblock{}, fmt.Errorf("computing members root: %w", err)
	}

	afterSet := make(map[database.Fingerprint]bool, len(membersAfter))
	for _, m := range membersAfter {
		afterSet[m] = true
	}

	var keysChanges []database.Keychange
	for _, c := range accepted {
		fpr := c.entry.Membership.Issuer

		var kept []pgp.Certification
		for _, cert := range c.certs {
			if source, ok := s.certifierIn(cert, kr, afterSet); ok && source != fpr {
				kept = append(kept, cert)
			}
		}

		certBlob, err := s.oracle.EncodeCertifications(kept)
		if err != nil {
			return database.Keyblock{}, fmt.Errorf("encoding certifications for %s: %w", fpr, err)
		}

		ms := c.entry.Membership
		keysChanges = append(keysChanges, database.Keychange{
			Type:        database.KeychangeNewcomer,
			Fingerprint: fpr,
			KeyPackets:  c.entry.Pubkey,
			CertPackets: certBlob,
			Membership:  &ms,
		})
	}
	keysChanges = append(keysChanges, updates...)

	block := database.Keyblock{
		Version:        1,
		Currency:       s.genesis.Currency,
		Timestamp:      now,
		MembersRoot:    root,
		MembersCount:   len(membersAfter),
		MembersChanges: changes,
		KeysChanges:    keysChanges,
	}

	if tip, hasTip := s.db.LatestBlock(); hasTip {
		block.Number = tip.Number + 1
		block.PreviousHash = tip.Hash
		block.PreviousIssuer = tip.Issuer
	}

	return block, nil
}
