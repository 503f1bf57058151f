package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wotnet/keychain/foundation/keychain/database"
)

// blockKeyPrefix namespaces block records inside the key space so other
// record families can share the store later.
const blockKeyPrefix = "b/"

// Pebble represents the serialization implementation for storing blocks in
// a pebble key value store, msgpack encoded and keyed by block number. This
// implements the database.Serializer interface.
type Pebble struct {
	db     *pebble.DB
	dbPath string
}

// NewPebble opens or creates the pebble store at the specified path.
func NewPebble(dbPath string) (*Pebble, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble store: %w", err)
	}

	return &Pebble{db: db, dbPath: dbPath}, nil
}

// Close releases the underlying store.
func (p *Pebble) Close() error {
	return p.db.Close()
}

// Write stores the specified block under its number.
func (p *Pebble) Write(block database.Keyblock) error {
	data, err := msgpack.Marshal(block)
	if err != nil {
		return fmt.Errorf("encoding block %d: %w", block.Number, err)
	}

	if err := p.db.Set(blockKey(block.Number), data, pebble.Sync); err != nil {
		return fmt.Errorf("storing block %d: %w", block.Number, err)
	}

	return nil
}

// GetBlock returns the specified block by number.
func (p *Pebble) GetBlock(num uint64) (database.Keyblock, error) {
	data, closer, err := p.db.Get(blockKey(num))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return database.Keyblock{}, fmt.Errorf("block %d not found", num)
		}
		return database.Keyblock{}, fmt.Errorf("reading block %d: %w", num, err)
	}
	defer closer.Close()

	var block database.Keyblock
	if err := msgpack.Unmarshal(data, &block); err != nil {
		return database.Keyblock{}, fmt.Errorf("decoding block %d: %w", num, err)
	}

	return block, nil
}

// ForEach returns an iterator to walk through all the blocks starting with
// block number 0.
func (p *Pebble) ForEach() database.Iterator {
	return &pebbleIterator{storage: p}
}

// Reset drops every block record from the store.
func (p *Pebble) Reset() error {
	start := blockKey(0)
	end := []byte(blockKeyPrefix + "\xff")

	if err := p.db.DeleteRange(start, end, pebble.Sync); err != nil {
		return fmt.Errorf("clearing chain: %w", err)
	}

	return nil
}

// blockKey forms the big endian key for a block number so iteration order
// matches chain order.
func blockKey(num uint64) []byte {
	key := make([]byte, len(blockKeyPrefix)+8)
	copy(key, blockKeyPrefix)
	binary.BigEndian.PutUint64(key[len(blockKeyPrefix):], num)
	return key
}

// =============================================================================

// pebbleIterator represents the iteration implementation for walking through
// the blocks in the pebble store. This implements the database.Iterator
// interface.
type pebbleIterator struct {
	storage *Pebble
	current uint64
	eoc     bool
}

// Next retrieves the next block from the store.
func (pi *pebbleIterator) Next() (database.Keyblock, error) {
	data, closer, err := pi.storage.db.Get(blockKey(pi.current))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			pi.eoc = true
			return database.Keyblock{}, errors.New("end of chain")
		}
		return database.Keyblock{}, fmt.Errorf("reading block %d: %w", pi.current, err)
	}
	defer closer.Close()

	var block database.Keyblock
	if err := msgpack.Unmarshal(data, &block); err != nil {
		return database.Keyblock{}, fmt.Errorf("decoding block %d: %w", pi.current, err)
	}

	pi.current++

	return block, nil
}

// Done returns the end of chain value.
func (pi *pebbleIterator) Done() bool {
	return pi.eoc
}
