package pgp

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// Signer produces armored detached signatures with a private key.
type Signer struct {
	entity *openpgp.Entity
}

// NewSigner constructs a signer from an entity that carries a decrypted
// private key.
func NewSigner(entity *openpgp.Entity) (*Signer, error) {
	if entity.PrivateKey == nil {
		return nil, errors.New("entity carries no private key")
	}
	if entity.PrivateKey.Encrypted {
		return nil, errors.New("private key is encrypted")
	}

	return &Signer{entity: entity}, nil
}

// LoadSigner reads an armored private key into a signer.
func LoadSigner(armored string) (*Signer, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("reading armored private key: %w", err)
	}
	if len(entities) != 1 {
		return nil, fmt.Errorf("expected a single key, got %d", len(entities))
	}

	return NewSigner(entities[0])
}

// Fingerprint returns the 40 hex digit fingerprint of the signing key.
func (s *Signer) Fingerprint() string {
	return fmt.Sprintf("%X", s.entity.PrimaryKey.Fingerprint)
}

// Sign produces an armored detached signature over the raw text.
func (s *Signer) Sign(raw string) (string, error) {
	var buf bytes.Buffer

	if err := openpgp.ArmoredDetachSign(&buf, s.entity, strings.NewReader(raw), nil); err != nil {
		return "", fmt.Errorf("signing: %w", err)
	}

	return buf.String(), nil
}

// PublicKey returns the decomposed public half of the signing key.
func (s *Signer) PublicKey() (*Key, error) {
	var buf bytes.Buffer

	aw, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := s.entity.Serialize(aw); err != nil {
		return nil, err
	}
	if err := aw.Close(); err != nil {
		return nil, err
	}

	return Lib{}.Decompose(buf.String())
}

// =============================================================================

// GenerateKey creates a fresh key pair whose only user id is the supplied
// udid2 identity text.
func GenerateKey(userID string) (*openpgp.Entity, error) {
	if !IsUdid2(userID) {
		return nil, fmt.Errorf("user id %q is not a udid2 identity", userID)
	}

	entity, err := openpgp.NewEntity(userID, "", "", nil)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	return entity, nil
}

// ArmorPublic encodes an entity's public half for distribution.
func ArmorPublic(entity *openpgp.Entity) (string, error) {
	var buf bytes.Buffer

	aw, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", err
	}
	if err := entity.Serialize(aw); err != nil {
		return "", err
	}
	if err := aw.Close(); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// ArmorPrivate encodes an entity's private half for storage in a keyring
// folder.
func ArmorPrivate(entity *openpgp.Entity) (string, error) {
	var buf bytes.Buffer

	aw, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	if err != nil {
		return "", err
	}
	if err := entity.SerializePrivate(aw, nil); err != nil {
		return "", err
	}
	if err := aw.Close(); err != nil {
		return "", err
	}

	return buf.String(), nil
}
