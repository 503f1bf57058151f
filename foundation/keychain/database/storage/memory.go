package storage

import (
	"errors"
	"sync"

	"github.com/wotnet/keychain/foundation/keychain/database"
)

// Memory represents the serialization implementation for keeping the chain
// in memory. Used by tests and throwaway nodes. This implements the
// database.Serializer interface.
type Memory struct {
	mu     sync.RWMutex
	blocks map[uint64]database.Keyblock
	height uint64
}

// NewMemory constructs a Memory value for use.
func NewMemory() *Memory {
	return &Memory{
		blocks: make(map[uint64]database.Keyblock),
	}
}

// Close in this implementation has nothing to do.
func (m *Memory) Close() error {
	return nil
}

// Write stores the specified block in memory.
func (m *Memory) Write(block database.Keyblock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks[block.Number] = block
	if block.Number >= m.height {
		m.height = block.Number + 1
	}

	return nil
}

// GetBlock returns the specified block by number.
func (m *Memory) GetBlock(num uint64) (database.Keyblock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	block, ok := m.blocks[num]
	if !ok {
		return database.Keyblock{}, errors.New("block not found")
	}

	return block, nil
}

// ForEach returns an iterator to walk through all the blocks starting with
// block number 0.
func (m *Memory) ForEach() database.Iterator {
	return &memoryIterator{storage: m}
}

// Reset clears the chain from memory.
func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = make(map[uint64]database.Keyblock)
	m.height = 0

	return nil
}

// =============================================================================

// memoryIterator represents the iteration implementation for walking through
// the blocks held in memory. This implements the database.Iterator interface.
type memoryIterator struct {
	storage *Memory
	current uint64
	eoc     bool
}

// Next retrieves the next block from memory.
func (mi *memoryIterator) Next() (database.Keyblock, error) {
	mi.storage.mu.RLock()
	height := mi.storage.height
	mi.storage.mu.RUnlock()

	if mi.current >= height {
		mi.eoc = true
		return database.Keyblock{}, errors.New("end of chain")
	}

	block, err := mi.storage.GetBlock(mi.current)
	if err != nil {
		return database.Keyblock{}, err
	}

	mi.current++

	return block, nil
}

// Done returns the end of chain value.
func (mi *memoryIterator) Done() bool {
	return mi.eoc
}
