package state

import (
	"fmt"
	"sort"

	"github.com/wotnet/keychain/foundation/keychain/database"
	"github.com/wotnet/keychain/foundation/keychain/wot"
)

// validateBlock runs the full consensus checklist over a candidate block
// against the current database snapshot. It is a pure read: nothing is
// mutated regardless of the outcome. The clock window only applies to
// blocks arriving over the network, not to blocks this node just minted.
func (s *State) validateBlock(block database.Keyblock, checkClock bool) (keychangeResult, error) {
	s.evHandler("state: validateBlock: validate: blk[%d]: check: chain linkage", block.Number)

	if err := s.checkChaining(block); err != nil {
		return keychangeResult{}, err
	}

	if checkClock {
		s.evHandler("state: validateBlock: validate: blk[%d]: check: timestamp window", block.Number)

		skew := block.Timestamp - s.now()
		if skew < 0 {
			skew = -skew
		}
		if skew > s.genesis.TsInterval {
			return keychangeResult{}, fmt.Errorf("%w: %d seconds of skew", ErrBadTimestamp, skew)
		}
	}

	s.evHandler("state: validateBlock: validate: blk[%d]: check: proof of work", block.Number)

	if block.Hash != block.ComputeHash() {
		return keychangeResult{}, fmt.Errorf("%w: hash does not match the signed raw form", ErrBadPoW)
	}
	zeros := s.db.ExpectedZeros(block.Issuer, block.Number)
	if database.LeadingZeros(block.Hash) < zeros {
		return keychangeResult{}, fmt.Errorf("%w: %d leading zeros required from issuer %s", ErrBadPoW, zeros, block.Issuer)
	}

	s.evHandler("state: validateBlock: validate: blk[%d]: check: issuer eligibility", block.Number)

	if err := s.checkIssuer(block); err != nil {
		return keychangeResult{}, err
	}

	s.evHandler("state: validateBlock: validate: blk[%d]: check: keychanges", block.Number)

	kr, err := s.resolveKeychanges(block, true)
	if err != nil {
		return keychangeResult{}, err
	}

	if err := s.checkIssuerSignature(block, kr); err != nil {
		return keychangeResult{}, err
	}

	s.evHandler("state: validateBlock: validate: blk[%d]: check: members changes coherence", block.Number)

	membersAfter, err := s.checkMembersChanges(block, kr)
	if err != nil {
		return keychangeResult{}, err
	}

	s.evHandler("state: validateBlock: validate: blk[%d]: check: web of trust stability", block.Number)

	if err := s.checkWoTStability(block, kr, membersAfter); err != nil {
		return keychangeResult{}, err
	}

	s.evHandler("state: validateBlock: validate: blk[%d]: check: kicked set", block.Number)

	if err := s.checkKickedSet(block, kr); err != nil {
		return keychangeResult{}, err
	}

	return kr, nil
}

// checkChaining verifies the block extends the current tip: the next number,
// the tip's hash and the tip's issuer. A block already applied surfaces as
// such instead of as a chaining failure.
func (s *State) checkChaining(block database.Keyblock) error {
	if block.Currency != s.genesis.Currency {
		return fmt.Errorf("%w: currency %q, chain carries %q", ErrBadChaining, block.Currency, s.genesis.Currency)
	}

	tip, hasTip := s.db.LatestBlock()
	if !hasTip {
		if block.Number != 0 {
			return fmt.Errorf("%w: %w: got block %d", ErrBadChaining, ErrRequiresRoot, block.Number)
		}
		return nil
	}

	switch {
	case block.Number <= tip.Number:
		if stored, err := s.db.GetBlock(block.Number); err == nil && stored.Hash == block.Hash {
			return ErrAlreadySeen
		}
		return fmt.Errorf("%w: %w: got %d, tip is %d", ErrBadChaining, ErrTooLate, block.Number, tip.Number)

	case block.Number > tip.Number+1:
		return fmt.Errorf("%w: %w: got %d, expected %d", ErrBadChaining, ErrTooEarly, block.Number, tip.Number+1)
	}

	if block.PreviousHash != tip.Hash {
		return fmt.Errorf("%w: %w", ErrBadChaining, ErrBadPrevHash)
	}
	if block.PreviousIssuer != tip.Issuer {
		return fmt.Errorf("%w: %w", ErrBadChaining, ErrBadPrevIssuer)
	}

	return nil
}

// checkIssuer verifies the issuer may seal this block: a current member, or
// for the root block a key joining through its own members changes.
func (s *State) checkIssuer(block database.Keyblock) error {
	if block.Number == 0 {
		for _, change := range block.MembersChanges {
			if change == "+"+string(block.Issuer) {
				return nil
			}
		}
		return fmt.Errorf("%w: root issuer %s does not join through its own block", ErrBadIssuer, block.Issuer)
	}

	if !s.db.IsMember(block.Issuer) {
		return fmt.Errorf("%w: %s is not a member", ErrBadIssuer, block.Issuer)
	}

	return nil
}

// checkIssuerSignature verifies the block signature against the issuer's
// key, which is either already trusted or declared by this very block.
func (s *State) checkIssuerSignature(block database.Keyblock, kr keychangeResult) error {
	issuerKey, ok := kr.newKeys[block.Issuer]
	if !ok {
		tk, found := s.db.TrustedKey(string(block.Issuer))
		if !found {
			return fmt.Errorf("%w: no key material for issuer %s", ErrBadIssuer, block.Issuer)
		}

		key, err := s.oracle.Decompose(tk.Packets)
		if err != nil {
			return fmt.Errorf("%w: decomposing issuer key %s: %s", ErrBadCrypto, block.Issuer, err)
		}
		issuerKey = key
	}

	if err := s.oracle.VerifyDetached(issuerKey, block.Raw(), block.Signature); err != nil {
		return fmt.Errorf("%w: block signature: %s", ErrBadCrypto, err)
	}

	return nil
}

// checkMembersChanges verifies the changes are sorted, that every join is
// backed by a NEWCOMER keychange for a non member, that every leave names a
// member, and that the announced member count and merkle root describe the
// post block member set. It returns that set.
func (s *State) checkMembersChanges(block database.Keyblock, kr keychangeResult) ([]database.Fingerprint, error) {
	if !sort.StringsAreSorted(block.MembersChanges) {
		return nil, fmt.Errorf("%w: changes are not sorted", ErrBadMembersChanges)
	}

	after := make(map[database.Fingerprint]bool)
	for _, member := range s.db.Members() {
		after[member] = true
	}

	joined := make(map[database.Fingerprint]bool)
	for _, change := range block.MembersChanges {
		if len(change) < 2 {
			return nil, fmt.Errorf("%w: malformed change %q", ErrBadMembersChanges, change)
		}

		fpr := database.Fingerprint(change[1:])
		switch change[0] {
		case '+':
			if _, ok := block.Newcomer(fpr); !ok {
				return nil, fmt.Errorf("%w: join of %s without a newcomer keychange", ErrBadMembersChanges, fpr)
			}
			if s.db.IsMember(fpr) {
				return nil, fmt.Errorf("%w: join of %s which is already a member", ErrBadMembersChanges, fpr)
			}
			after[fpr] = true
			joined[fpr] = true

		case '-':
			if !s.db.IsMember(fpr) {
				return nil, fmt.Errorf("%w: leave of %s which is not a member", ErrBadMembersChanges, fpr)
			}
			delete(after, fpr)

		default:
			return nil, fmt.Errorf("%w: malformed change %q", ErrBadMembersChanges, change)
		}
	}

	// The reverse direction: a newcomer keychange that no change materializes
	// would leave a key trusted but memberless.
	for _, kc := range block.KeysChanges {
		if kc.Type == database.KeychangeNewcomer && !joined[kc.Fingerprint] {
			return nil, fmt.Errorf("%w: newcomer keychange for %s without a join", ErrBadMembersChanges, kc.Fingerprint)
		}
	}

	members := make([]database.Fingerprint, 0, len(after))
	for fpr := range after {
		members = append(members, fpr)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

	if block.MembersCount != len(members) {
		return nil, fmt.Errorf("%w: members count %d, changes produce %d", ErrBadMembersChanges, block.MembersCount, len(members))
	}

	root, err := database.MembersRoot(members)
	if err != nil {
		return nil, fmt.Errorf("%w: computing members root: %s", ErrBadMembersChanges, err)
	}
	if block.MembersRoot != root {
		return nil, fmt.Errorf("%w: members root %s, changes produce %s", ErrBadMembersChanges, block.MembersRoot, root)
	}

	return members, nil
}

// checkWoTStability verifies every joining key ends up with enough valid
// certifications and mutually reaches the whole post block member set within
// the step bound, counting this block's links as present.
func (s *State) checkWoTStability(block database.Keyblock, kr keychangeResult, membersAfter []database.Fingerprint) error {
	links := s.db.LinksView(block.Timestamp)
	extra := kr.extraLinks()

	for _, joiner := range block.Joiners() {
		if count := s.linkCount(joiner, block.Timestamp, kr); count < s.genesis.SigQty {
			return fmt.Errorf("%w: %s has %d links, %d required", ErrWoTUnstable, joiner, count, s.genesis.SigQty)
		}

		for _, member := range membersAfter {
			if member == joiner {
				continue
			}
			if !wot.PathWithin(links, string(joiner), string(member), wot.MaxSteps, extra) {
				return fmt.Errorf("%w: %s does not reach %s within %d steps", ErrWoTUnstable, joiner, member, wot.MaxSteps)
			}
			if !wot.PathWithin(links, string(member), string(joiner), wot.MaxSteps, extra) {
				return fmt.Errorf("%w: %s is not reached by %s within %d steps", ErrWoTUnstable, joiner, member, wot.MaxSteps)
			}
		}
	}

	return nil
}

// checkKickedSet recomputes, at the block's timestamp and with its new
// links, which current members fail the web of trust rules. The block's
// leaves must name exactly that set: a still failing member must go, a
// rescued one must stay.
func (s *State) checkKickedSet(block database.Keyblock, kr keychangeResult) error {
	leaving := make(map[database.Fingerprint]bool)
	for _, fpr := range block.Leavers() {
		leaving[fpr] = true
	}

	for _, member := range s.db.Members() {
		failing := s.memberFailing(member, block.Timestamp, kr)

		if failing && !leaving[member] {
			return fmt.Errorf("%w: %s must be excluded and is not", ErrBadKickSet, member)
		}
		if !failing && leaving[member] {
			return fmt.Errorf("%w: %s is excluded but no longer fails", ErrBadKickSet, member)
		}
	}

	return nil
}

// memberFailing reports whether a member breaks the web of trust rules at
// the specified time, with the candidate block's links counted: too few
// valid certifications, or some member out of reach.
func (s *State) memberFailing(member database.Fingerprint, asOf int64, kr keychangeResult) bool {
	if s.linkCount(member, asOf, kr) < s.genesis.SigQty {
		return true
	}

	candidates := make([]string, 0)
	for _, m := range s.db.Members() {
		candidates = append(candidates, string(m))
	}

	missed := wot.NotReachedWithin(s.db.LinksView(asOf), string(member), candidates, wot.MaxSteps, kr.extraLinks())

	return len(missed) > 0
}

// linkCount counts the distinct keys certifying a target at the specified
// time, merging the stored links with the block's new ones.
func (s *State) linkCount(target database.Fingerprint, asOf int64, kr keychangeResult) int {
	sources := make(map[database.Fingerprint]bool)
	for _, source := range s.db.ValidLinkSources(target, asOf) {
		sources[source] = true
	}
	for _, source := range kr.newLinks[target] {
		sources[source] = true
	}

	return len(sources)
}
