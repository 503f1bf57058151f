// Package pgp provides helper functions for handling the OpenPGP key
// material and signature needs of the keychain.
package pgp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// Key is the decomposed form of an armored public key: the primary key, the
// first user id and the underlying entity carrying self certifications,
// third party certifications, subkeys and their bindings.
type Key struct {
	Fingerprint string
	UserID      string
	Entity      *openpgp.Entity
}

// Certification is a third party signature over another key's user id.
type Certification struct {
	IssuerKeyID string
	Packet      *packet.Signature
}

// =============================================================================

// Lib implements the signature and key oracle over the openpgp library. The
// zero value is ready for use.
type Lib struct{}

// Decompose parses an armored public key into its Key form. The first user
// id on the key is taken as the identity the chain tracks.
func (Lib) Decompose(armored string) (*Key, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("reading armored key: %w", err)
	}
	if len(entities) != 1 {
		return nil, fmt.Errorf("expected a single key, got %d", len(entities))
	}

	entity := entities[0]

	var userID string
	for _, identity := range entity.Identities {
		userID = identity.UserId.Id
		break
	}
	if userID == "" {
		return nil, errors.New("key carries no user id")
	}

	key := Key{
		Fingerprint: fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint),
		UserID:      userID,
		Entity:      entity,
	}

	return &key, nil
}

// Recompose re-encodes the fixed subset of packets a keychain accepts from a
// decomposed key: primary key, user id, self certification, third party
// certifications, subkeys and subkey bindings. Comparing the result with the
// originally submitted blob forbids smuggling any other packet type.
func (Lib) Recompose(k *Key) (string, error) {
	var buf bytes.Buffer

	aw, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", err
	}

	if err := k.Entity.PrimaryKey.Serialize(aw); err != nil {
		return "", err
	}

	for _, identity := range k.Entity.Identities {
		if err := identity.UserId.Serialize(aw); err != nil {
			return "", err
		}
		if err := identity.SelfSignature.Serialize(aw); err != nil {
			return "", err
		}
		for _, sig := range identity.Signatures {
			if err := sig.Serialize(aw); err != nil {
				return "", err
			}
		}
		break
	}

	for _, subkey := range k.Entity.Subkeys {
		if err := subkey.PublicKey.Serialize(aw); err != nil {
			return "", err
		}
		if err := subkey.Sig.Serialize(aw); err != nil {
			return "", err
		}
	}

	if err := aw.Close(); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// Certifications parses an armored blob expected to contain only third party
// certification packets and returns them with their issuer key ids.
func (Lib) Certifications(blob string) ([]Certification, error) {
	packets, err := readPackets(blob)
	if err != nil {
		return nil, err
	}

	var certs []Certification
	for _, p := range packets {
		sig, ok := p.(*packet.Signature)
		if !ok {
			return nil, fmt.Errorf("unexpected packet type %T in certification blob", p)
		}
		if sig.SigType < packet.SigTypeGenericCert || sig.SigType > packet.SigTypePositiveCert {
			return nil, fmt.Errorf("signature type 0x%x is not a certification", sig.SigType)
		}
		if sig.IssuerKeyId == nil {
			return nil, errors.New("certification carries no issuer key id")
		}

		certs = append(certs, Certification{
			IssuerKeyID: fmt.Sprintf("%016X", *sig.IssuerKeyId),
			Packet:      sig,
		})
	}

	return certs, nil
}

// CertificationsOf returns the third party certifications carried on the
// key's user id.
func (Lib) CertificationsOf(k *Key) ([]Certification, error) {
	var certs []Certification

	for _, identity := range k.Entity.Identities {
		for _, sig := range identity.Signatures {
			if sig.IssuerKeyId == nil {
				return nil, errors.New("certification carries no issuer key id")
			}
			certs = append(certs, Certification{
				IssuerKeyID: fmt.Sprintf("%016X", *sig.IssuerKeyId),
				Packet:      sig,
			})
		}
		break
	}

	return certs, nil
}

// EncodeCertifications armors a set of certification packets into the blob
// form a keychange carries.
func (Lib) EncodeCertifications(certs []Certification) (string, error) {
	if len(certs) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	aw, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", err
	}
	for _, cert := range certs {
		if err := cert.Packet.Serialize(aw); err != nil {
			return "", err
		}
	}
	if err := aw.Close(); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// SubkeysOnly checks that an armored blob contains nothing but subkeys and
// their binding signatures.
func (Lib) SubkeysOnly(blob string) error {
	packets, err := readPackets(blob)
	if err != nil {
		return err
	}

	for _, p := range packets {
		switch pkt := p.(type) {
		case *packet.PublicKey:
			if !pkt.IsSubkey {
				return errors.New("primary key found in subkey blob")
			}
		case *packet.Signature:
			if pkt.SigType != packet.SigTypeSubkeyBinding {
				return fmt.Errorf("signature type 0x%x is not a subkey binding", pkt.SigType)
			}
		default:
			return fmt.Errorf("unexpected packet type %T in subkey blob", p)
		}
	}

	return nil
}

// IssuerOf extracts the 16 hex digit key id of the key that produced an
// armored detached signature.
func (Lib) IssuerOf(armoredSig string) (string, error) {
	block, err := armor.Decode(strings.NewReader(armoredSig))
	if err != nil {
		return "", fmt.Errorf("reading armored signature: %w", err)
	}

	p, err := packet.Read(block.Body)
	if err != nil {
		return "", fmt.Errorf("reading signature packet: %w", err)
	}

	sig, ok := p.(*packet.Signature)
	if !ok {
		return "", fmt.Errorf("unexpected packet type %T for signature", p)
	}
	if sig.IssuerKeyId == nil {
		return "", errors.New("signature carries no issuer key id")
	}

	return fmt.Sprintf("%016X", *sig.IssuerKeyId), nil
}

// VerifyDetached checks an armored detached signature over data against the
// specified key.
func (Lib) VerifyDetached(k *Key, data string, armoredSig string) error {
	keyring := openpgp.EntityList{k.Entity}

	_, err := openpgp.CheckArmoredDetachedSignature(keyring, strings.NewReader(data), strings.NewReader(armoredSig), nil)
	if err != nil {
		return fmt.Errorf("checking detached signature: %w", err)
	}

	return nil
}

// VerifyCertification checks that the certification was produced by the
// issuer's primary key over the target key and user id.
func (Lib) VerifyCertification(issuer *Key, target *Key, c Certification) error {
	if err := issuer.Entity.PrimaryKey.VerifyUserIdSignature(target.UserID, target.Entity.PrimaryKey, c.Packet); err != nil {
		return fmt.Errorf("checking certification: %w", err)
	}

	return nil
}

// MergeKey splices new material into an existing key blob: certifications go
// immediately after the user id and self certification, new subkeys and
// their bindings go behind the existing ones.
func (Lib) MergeKey(existing string, subkeys string, certs string) (string, error) {
	packets, err := readPackets(existing)
	if err != nil {
		return "", err
	}
	if len(packets) < 3 {
		return "", errors.New("existing key blob is incomplete")
	}

	var newCerts []packet.Packet
	if certs != "" {
		if newCerts, err = readPackets(certs); err != nil {
			return "", err
		}
	}

	var newSubkeys []packet.Packet
	if subkeys != "" {
		if newSubkeys, err = readPackets(subkeys); err != nil {
			return "", err
		}
	}

	// Primary key, user id and self certification stay at positions 0..2.
	merged := make([]packet.Packet, 0, len(packets)+len(newCerts)+len(newSubkeys))
	merged = append(merged, packets[:3]...)
	merged = append(merged, newCerts...)
	merged = append(merged, packets[3:]...)
	merged = append(merged, newSubkeys...)

	var buf bytes.Buffer
	aw, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", err
	}
	for _, p := range merged {
		if err := serializePacket(aw, p); err != nil {
			return "", err
		}
	}
	if err := aw.Close(); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// =============================================================================

// Normalize rewrites a blob with DOS line endings so byte comparisons are
// stable across transports.
func Normalize(blob string) string {
	unix := strings.ReplaceAll(blob, "\r\n", "\n")
	return strings.ReplaceAll(unix, "\n", "\r\n")
}

// readPackets decodes an armored blob into its ordered list of packets.
func readPackets(blob string) ([]packet.Packet, error) {
	block, err := armor.Decode(strings.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("reading armored blob: %w", err)
	}

	var packets []packet.Packet
	reader := packet.NewReader(block.Body)
	for {
		p, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading packet: %w", err)
		}
		packets = append(packets, p)
	}

	return packets, nil
}

// serializePacket writes a single packet of any type a key blob may carry.
func serializePacket(w io.Writer, p packet.Packet) error {
	switch pkt := p.(type) {
	case *packet.PublicKey:
		return pkt.Serialize(w)
	case *packet.UserId:
		return pkt.Serialize(w)
	case *packet.Signature:
		return pkt.Serialize(w)
	default:
		return fmt.Errorf("unexpected packet type %T", p)
	}
}
