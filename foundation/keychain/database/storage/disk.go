// Package storage implements the serializers the database can persist the
// keychain with: plain files on disk, an in memory store for tests, and a
// pebble backed store for production nodes.
package storage

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path"
	"strconv"

	"github.com/wotnet/keychain/foundation/keychain/database"
)

// Disk represents the serialization implementation for reading and storing
// blocks in their own separate files on disk. This implements the
// database.Serializer interface.
type Disk struct {
	dbPath string
}

// NewDisk constructs a Disk value for use.
func NewDisk(dbPath string) (*Disk, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, err
	}

	return &Disk{dbPath: dbPath}, nil
}

// Close in this implementation has nothing to do since a new file is
// written to disk for each new block and then immediately closed.
func (d *Disk) Close() error {
	return nil
}

// Write takes the specified block and stores it on disk in a file labeled
// with the block number.
func (d *Disk) Write(block database.Keyblock) error {
	data, err := json.MarshalIndent(block, "", "  ")
	if err != nil {
		return err
	}

	f, err := os.OpenFile(d.getPath(block.Number), os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return err
	}

	return nil
}

// GetBlock searches the keychain on disk to locate and return the contents
// of the specified block by number.
func (d *Disk) GetBlock(num uint64) (database.Keyblock, error) {
	f, err := os.OpenFile(d.getPath(num), os.O_RDONLY, 0600)
	if err != nil {
		return database.Keyblock{}, err
	}
	defer f.Close()

	var block database.Keyblock
	if err := json.NewDecoder(f).Decode(&block); err != nil {
		return database.Keyblock{}, err
	}

	return block, nil
}

// ForEach returns an iterator to walk through all the blocks on disk
// starting with block number 0.
func (d *Disk) ForEach() database.Iterator {
	return &diskIterator{storage: d}
}

// Reset will clear out the chain on disk.
func (d *Disk) Reset() error {
	if err := os.RemoveAll(d.dbPath); err != nil {
		return err
	}

	return os.MkdirAll(d.dbPath, 0755)
}

// getPath forms the path to the specified block on disk.
func (d *Disk) getPath(blockNum uint64) string {
	name := strconv.FormatUint(blockNum, 10)
	return path.Join(d.dbPath, name+".json")
}

// =============================================================================

// diskIterator represents the iteration implementation for walking through
// and reading blocks on disk. This implements the database.Iterator
// interface.
type diskIterator struct {
	storage *Disk
	current uint64
	eoc     bool
}

// Next retrieves the next block from disk.
func (di *diskIterator) Next() (database.Keyblock, error) {
	if di.eoc {
		return database.Keyblock{}, errors.New("end of chain")
	}

	block, err := di.storage.GetBlock(di.current)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			di.eoc = true
		}
		return database.Keyblock{}, err
	}

	di.current++

	return block, nil
}

// Done returns the end of chain value.
func (di *diskIterator) Done() bool {
	return di.eoc
}
