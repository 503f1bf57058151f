package state

import (
	"fmt"

	"github.com/wotnet/keychain/foundation/keychain/database"
	"github.com/wotnet/keychain/foundation/keychain/pgp"
	"github.com/wotnet/keychain/foundation/keychain/pool"
)

// SubmitKeyBlock takes a block received from a peer, validates it and if
// that passes, applies it to the chain. Any in-flight minting is cancelled
// first and restarted from the new tip afterwards.
func (s *State) SubmitKeyBlock(block database.Keyblock) (database.Keyblock, error) {
	s.evHandler("state: SubmitKeyBlock: started: blk[%d]: hash[%s]", block.Number, block.Hash)
	defer s.evHandler("state: SubmitKeyBlock: completed: blk[%d]", block.Number)

	// If the minting operation is running it needs to stop immediately. The
	// G executing runMintingOperation will not return from the function until
	// done is called. That allows this function to complete its state changes
	// before a new minting operation takes place.
	if s.Worker != nil {
		done := s.Worker.SignalCancelMinting()
		defer func() {
			s.evHandler("state: SubmitKeyBlock: signal minting to restart from the new tip")
			done()
			s.Worker.SignalStartMinting()
		}()
	}

	if err := s.validateApply(block, true); err != nil {
		return database.Keyblock{}, err
	}

	return block, nil
}

// validateApply runs validation and application as one step under the state
// mutex. A failed validation leaves every store untouched.
func (s *State) validateApply(block database.Keyblock, checkClock bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kr, err := s.validateBlock(block, checkClock)
	if err != nil {
		return err
	}

	return s.applyBlock(block, kr)
}

// =============================================================================

// SubmitMembership verifies and stores a membership declaration in the
// pending pool. A join carries the armored public key of the candidate; a
// leave refers to key material already on the chain.
func (s *State) SubmitMembership(ms database.Membership, pubkey string) (pool.Entry, error) {
	s.evHandler("state: SubmitMembership: started: issuer[%s]: membership[%s]", ms.Issuer, ms.Membership)
	defer s.evHandler("state: SubmitMembership: completed: issuer[%s]", ms.Issuer)

	if ms.Currency != s.genesis.Currency {
		return pool.Entry{}, fmt.Errorf("membership for currency %q, chain carries %q", ms.Currency, s.genesis.Currency)
	}

	var entry pool.Entry

	switch ms.Membership {
	case database.MembershipIn:
		key, err := s.oracle.Decompose(pubkey)
		if err != nil {
			return pool.Entry{}, fmt.Errorf("%w: decomposing candidate key: %s", ErrBadCrypto, err)
		}
		if database.Fingerprint(key.Fingerprint) != ms.Issuer {
			return pool.Entry{}, fmt.Errorf("membership issued by %s over key %s", ms.Issuer, key.Fingerprint)
		}
		if !pgp.IsUdid2(key.UserID) {
			return pool.Entry{}, fmt.Errorf("user id %q is not udid2", key.UserID)
		}
		if key.UserID != ms.UserID {
			return pool.Entry{}, fmt.Errorf("membership user id does not match the key")
		}
		if s.db.IsMember(ms.Issuer) {
			return pool.Entry{}, fmt.Errorf("%s is already a member", ms.Issuer)
		}
		if err := s.oracle.VerifyDetached(key, ms.Raw(), ms.Signature); err != nil {
			return pool.Entry{}, fmt.Errorf("%w: membership signature: %s", ErrBadCrypto, err)
		}

		entry = pool.Entry{Membership: ms, Pubkey: pubkey, Eligible: true}

	case database.MembershipOut:
		tk, ok := s.db.TrustedKey(string(ms.Issuer))
		if !ok || !s.db.IsMember(tk.Fingerprint) {
			return pool.Entry{}, fmt.Errorf("%s is not a member", ms.Issuer)
		}

		key, err := s.oracle.Decompose(tk.Packets)
		if err != nil {
			return pool.Entry{}, fmt.Errorf("%w: decomposing trusted key: %s", ErrBadCrypto, err)
		}
		if err := s.oracle.VerifyDetached(key, ms.Raw(), ms.Signature); err != nil {
			return pool.Entry{}, fmt.Errorf("%w: membership signature: %s", ErrBadCrypto, err)
		}

		// Leaves stay ineligible until the LEAVER keychange rules exist;
		// the declaration is kept so the intent is not lost.
		entry = pool.Entry{Membership: ms}

	default:
		return pool.Entry{}, fmt.Errorf("unknown membership %q", ms.Membership)
	}

	s.pool.Upsert(entry)

	if entry.Eligible && s.Worker != nil {
		s.Worker.SignalStartMinting()
	}

	return entry, nil
}

// SubmitKeyUpdate stages new key material for an existing member: subkeys
// with their bindings, certifications, or both. The material is carried by
// the next UPDATE keychange this node mints.
func (s *State) SubmitKeyUpdate(fpr database.Fingerprint, subkeys string, certifications string) error {
	s.evHandler("state: SubmitKeyUpdate: started: fpr[%s]", fpr)
	defer s.evHandler("state: SubmitKeyUpdate: completed: fpr[%s]", fpr)

	if subkeys == "" && certifications == "" {
		return fmt.Errorf("update for %s carries nothing", fpr)
	}
	if !s.db.IsMember(fpr) {
		return fmt.Errorf("%s is not a member", fpr)
	}

	if subkeys != "" {
		if err := s.oracle.SubkeysOnly(subkeys); err != nil {
			return fmt.Errorf("%w: subkey packets: %s", ErrBadCrypto, err)
		}
	}
	if certifications != "" {
		if _, err := s.oracle.Certifications(certifications); err != nil {
			return fmt.Errorf("%w: certification packets: %s", ErrBadCrypto, err)
		}
	}

	s.keyPool.Upsert(pool.KeyUpdate{
		Fingerprint:    fpr,
		Subkeys:        subkeys,
		Certifications: certifications,
	})

	if s.Worker != nil {
		s.Worker.SignalStartMinting()
	}

	return nil
}
