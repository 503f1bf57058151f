// Package keyring reads a folder of armored OpenPGP keys and creates a
// name service lookup for the fingerprints the node talks about.
package keyring

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/wotnet/keychain/foundation/keychain/database"
	"github.com/wotnet/keychain/foundation/keychain/pgp"
)

// Keyring maintains a map of fingerprints for name lookup.
type Keyring struct {
	names map[database.Fingerprint]string
}

// New constructs a keyring with the public keys found in the folder. Each
// .asc file contributes one key, named after the file.
func New(root string) (*Keyring, error) {
	kr := Keyring{
		names: make(map[database.Fingerprint]string),
	}

	fn := func(fileName string, info fs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if path.Ext(fileName) != ".asc" {
			return nil
		}

		armored, err := os.ReadFile(fileName)
		if err != nil {
			return err
		}

		key, err := pgp.Lib{}.Decompose(string(armored))
		if err != nil {
			return fmt.Errorf("decomposing %s: %w", fileName, err)
		}

		kr.names[database.Fingerprint(key.Fingerprint)] = strings.TrimSuffix(path.Base(fileName), ".asc")

		return nil
	}

	if err := filepath.Walk(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return &kr, nil
}

// Lookup returns the name for the specified fingerprint.
func (kr *Keyring) Lookup(fpr database.Fingerprint) string {
	name, exists := kr.names[fpr]
	if !exists {
		return string(fpr)
	}
	return name
}

// Copy returns a copy of the map of names and fingerprints.
func (kr *Keyring) Copy() map[database.Fingerprint]string {
	cpy := make(map[database.Fingerprint]string, len(kr.names))
	for fpr, name := range kr.names {
		cpy[fpr] = name
	}
	return cpy
}

// LoadSigner reads the armored private key stored for the specified name
// and wraps it as a block signer.
func LoadSigner(root string, name string) (*pgp.Signer, error) {
	armored, err := os.ReadFile(filepath.Join(root, name+".key"))
	if err != nil {
		return nil, fmt.Errorf("reading private key for %q: %w", name, err)
	}

	return pgp.LoadSigner(string(armored))
}
