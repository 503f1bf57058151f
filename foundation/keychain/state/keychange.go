package state

import (
	"fmt"

	"github.com/wotnet/keychain/foundation/keychain/database"
	"github.com/wotnet/keychain/foundation/keychain/pgp"
)

// keychangeResult carries what keychange validation learned about a block:
// the decomposed newcomer keys and the certification links the block adds,
// keyed by certified fingerprint.
type keychangeResult struct {
	newKeys  map[database.Fingerprint]*pgp.Key
	newLinks map[database.Fingerprint][]database.Fingerprint
}

// extraLinks converts the new links into the form the web of trust walks
// consume.
func (kr keychangeResult) extraLinks() map[string][]string {
	extra := make(map[string][]string, len(kr.newLinks))
	for target, sources := range kr.newLinks {
		out := make([]string, len(sources))
		for i, s := range sources {
			out[i] = string(s)
		}
		extra[string(target)] = out
	}
	return extra
}

// resolveKeychanges validates every keychange in the block and derives the
// new certification links. With verify false only the structural work runs:
// packets are parsed and certifiers resolved, but no signature is checked.
// That mode replays stored blocks whose crypto was checked on first receipt.
func (s *State) resolveKeychanges(block database.Keyblock, verify bool) (keychangeResult, error) {
	kr := keychangeResult{
		newKeys:  make(map[database.Fingerprint]*pgp.Key),
		newLinks: make(map[database.Fingerprint][]database.Fingerprint),
	}

	// Newcomer keys must all be known before certifiers resolve, since
	// co-newcomers may certify each other inside the same block.
	for _, kc := range block.KeysChanges {
		switch kc.Type {
		case database.KeychangeNewcomer:
			key, err := s.decomposeNewcomer(kc)
			if err != nil {
				return keychangeResult{}, err
			}
			kr.newKeys[kc.Fingerprint] = key

		case database.KeychangeUpdate:
			// Handled below.

		case database.KeychangeLeaver, database.KeychangeBack:
			return keychangeResult{}, fmt.Errorf("%w: kind %s for %s", ErrNotImplementedKeychange, kc.Type, kc.Fingerprint)

		default:
			return keychangeResult{}, fmt.Errorf("%w: unknown kind %q", ErrBadKeychange, kc.Type)
		}
	}

	for _, kc := range block.KeysChanges {
		switch kc.Type {
		case database.KeychangeNewcomer:
			if err := s.checkNewcomer(kc, kr, verify); err != nil {
				return keychangeResult{}, err
			}

		case database.KeychangeUpdate:
			if err := s.checkUpdate(kc, kr, verify); err != nil {
				return keychangeResult{}, err
			}
		}
	}

	return kr, nil
}

// decomposeNewcomer runs the structural checks on a NEWCOMER keychange that
// need nothing but the keychange itself.
func (s *State) decomposeNewcomer(kc database.Keychange) (*pgp.Key, error) {
	if kc.KeyPackets == "" || kc.CertPackets == "" || kc.Membership == nil {
		return nil, fmt.Errorf("%w: newcomer %s misses key packets, certifications or membership", ErrBadKeychange, kc.Fingerprint)
	}

	key, err := s.oracle.Decompose(kc.KeyPackets)
	if err != nil {
		return nil, fmt.Errorf("%w: decomposing key for %s: %s", ErrBadCrypto, kc.Fingerprint, err)
	}

	if database.Fingerprint(key.Fingerprint) != kc.Fingerprint {
		return nil, fmt.Errorf("%w: key packets carry fingerprint %s, keychange declares %s", ErrBadKeychange, key.Fingerprint, kc.Fingerprint)
	}

	if !pgp.IsUdid2(key.UserID) {
		return nil, fmt.Errorf("%w: user id %q of %s is not udid2", ErrBadKeychange, key.UserID, kc.Fingerprint)
	}

	ms := kc.Membership
	if ms.UserID != key.UserID {
		return nil, fmt.Errorf("%w: membership user id does not match the key for %s", ErrBadKeychange, kc.Fingerprint)
	}
	if ms.Membership != database.MembershipIn {
		return nil, fmt.Errorf("%w: newcomer %s carries a %s membership", ErrBadKeychange, kc.Fingerprint, ms.Membership)
	}
	if ms.Issuer != kc.Fingerprint {
		return nil, fmt.Errorf("%w: membership issued by %s inside keychange of %s", ErrBadKeychange, ms.Issuer, kc.Fingerprint)
	}

	return key, nil
}

// checkNewcomer finishes NEWCOMER validation once every newcomer key of the
// block is known: packet subset, membership signature and certifications.
func (s *State) checkNewcomer(kc database.Keychange, kr keychangeResult, verify bool) error {
	key := kr.newKeys[kc.Fingerprint]

	if verify {
		// Re-encoding the enumerated packet subset and comparing it with the
		// submitted blob forbids smuggling any other packet type.
		recomposed, err := s.oracle.Recompose(key)
		if err != nil {
			return fmt.Errorf("%w: recomposing key for %s: %s", ErrBadCrypto, kc.Fingerprint, err)
		}
		if pgp.Normalize(recomposed) != pgp.Normalize(kc.KeyPackets) {
			return fmt.Errorf("%w: key packets for %s carry packets outside the accepted subset", ErrBadKeychange, kc.Fingerprint)
		}

		if err := s.oracle.VerifyDetached(key, kc.Membership.Raw(), kc.Membership.Signature); err != nil {
			return fmt.Errorf("%w: membership signature of %s: %s", ErrBadCrypto, kc.Fingerprint, err)
		}
	}

	return s.checkCertifications(kc.Fingerprint, key, kc.CertPackets, kr, verify)
}

// checkUpdate validates an UPDATE keychange: an existing member adding
// subkeys or receiving new certifications, never a membership.
func (s *State) checkUpdate(kc database.Keychange, kr keychangeResult, verify bool) error {
	if kc.Membership != nil {
		return fmt.Errorf("%w: update for %s carries a membership", ErrBadKeychange, kc.Fingerprint)
	}
	if kc.KeyPackets == "" && kc.CertPackets == "" {
		return fmt.Errorf("%w: update for %s carries nothing", ErrBadKeychange, kc.Fingerprint)
	}

	tk, ok := s.db.TrustedKey(string(kc.Fingerprint))
	if !ok || !s.db.IsMember(tk.Fingerprint) {
		return fmt.Errorf("%w: update for %s which is not a member", ErrBadKeychange, kc.Fingerprint)
	}

	if kc.KeyPackets != "" {
		if err := s.oracle.SubkeysOnly(kc.KeyPackets); err != nil {
			return fmt.Errorf("%w: key packets of update for %s: %s", ErrBadKeychange, kc.Fingerprint, err)
		}
	}

	if kc.CertPackets != "" {
		key, err := s.oracle.Decompose(tk.Packets)
		if err != nil {
			return fmt.Errorf("%w: decomposing trusted key %s: %s", ErrBadCrypto, kc.Fingerprint, err)
		}

		if err := s.checkCertifications(kc.Fingerprint, key, kc.CertPackets, kr, verify); err != nil {
			return err
		}
	}

	return nil
}

// checkCertifications resolves and verifies every certification packet in a
// blob against the certified key, recording the resulting links. A certifier
// is either a co-newcomer declared in the same block or an existing member.
func (s *State) checkCertifications(target database.Fingerprint, targetKey *pgp.Key, blob string, kr keychangeResult, verify bool) error {
	certs, err := s.oracle.Certifications(blob)
	if err != nil {
		return fmt.Errorf("%w: certification packets for %s: %s", ErrBadCrypto, target, err)
	}

	for _, cert := range certs {
		issuerKey, issuerFpr, err := s.resolveCertifier(cert, kr)
		if err != nil {
			return err
		}

		if issuerFpr == target {
			return fmt.Errorf("%w: %s certifies itself", ErrBadKeychange, target)
		}

		if verify {
			if err := s.oracle.VerifyCertification(issuerKey, targetKey, cert); err != nil {
				return fmt.Errorf("%w: certification of %s by %s: %s", ErrBadCrypto, target, issuerFpr, err)
			}
		}

		kr.addLink(issuerFpr, target)
	}

	return nil
}

// resolveCertifier maps a certification's issuer key id to a fingerprint:
// first against the block's own newcomers, then against the trusted keys of
// current members.
func (s *State) resolveCertifier(cert pgp.Certification, kr keychangeResult) (*pgp.Key, database.Fingerprint, error) {
	for fpr, key := range kr.newKeys {
		if fpr.KeyID() == cert.IssuerKeyID {
			return key, fpr, nil
		}
	}

	tk, ok := s.db.TrustedKey(cert.IssuerKeyID)
	if !ok {
		return nil, "", fmt.Errorf("%w: unknown certifier %s", ErrBadKeychange, cert.IssuerKeyID)
	}
	if !s.db.IsMember(tk.Fingerprint) {
		return nil, "", fmt.Errorf("%w: certifier %s is not a member", ErrBadKeychange, tk.Fingerprint)
	}

	key, err := s.oracle.Decompose(tk.Packets)
	if err != nil {
		return nil, "", fmt.Errorf("%w: decomposing trusted key %s: %s", ErrBadCrypto, tk.Fingerprint, err)
	}

	return key, tk.Fingerprint, nil
}

// addLink records a certification link, deduplicating repeated sources.
func (kr keychangeResult) addLink(source database.Fingerprint, target database.Fingerprint) {
	for _, existing := range kr.newLinks[target] {
		if existing == source {
			return
		}
	}
	kr.newLinks[target] = append(kr.newLinks[target], source)
}
