package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/wotnet/keychain/foundation/keychain/database"
)

// ErrNoChanges is returned when a block is requested to be minted and there
// is nothing for it to carry: no admissible joins, no key updates and no
// required exclusions.
var ErrNoChanges = errors.New("no changes to mint")

// =============================================================================

// MintNextBlock assembles the richest candidate block the pending data
// allows, seals it with a proof of work and applies it locally. This can be
// cancelled by a competing block arriving from a peer.
func (s *State) MintNextBlock(ctx context.Context) (database.Keyblock, error) {
	s.evHandler("state: MintNextBlock: MINTING: assemble candidate")

	candidate, err := s.nextCandidate()
	if err != nil {
		return database.Keyblock{}, err
	}

	s.evHandler("state: MintNextBlock: MINTING: perform proof of work")

	zeros := s.db.ExpectedZeros(database.Fingerprint(s.signer.Fingerprint()), candidate.Number)

	block, err := s.Prove(ctx, candidate, zeros)
	if err != nil {
		return database.Keyblock{}, err
	}

	// Just check one more time we were not cancelled.
	if ctx.Err() != nil {
		return database.Keyblock{}, fmt.Errorf("%w: %s", ErrPowCancelled, ctx.Err())
	}

	s.evHandler("state: MintNextBlock: MINTING: validate and apply")

	// The freshly minted block walks the same validation path a peer's
	// block does; the clock window is skipped since the timestamp is ours.
	if err := s.validateApply(block, false); err != nil {
		return database.Keyblock{}, err
	}

	return block, nil
}

// nextCandidate assembles what the next block should carry: the admissible
// joins, the pending key updates and the required exclusions. An empty
// candidate is nothing worth sealing.
func (s *State) nextCandidate() (database.Keyblock, error) {
	block, err := s.GenerateNewcomersAuto()
	if err != nil {
		return database.Keyblock{}, err
	}

	if len(block.KeysChanges) == 0 && len(block.MembersChanges) == 0 {
		return database.Keyblock{}, ErrNoChanges
	}

	return block, nil
}

// Prove runs the proof of work search over a candidate block with this
// node's signing key. A cancellation surfaces as ErrPowCancelled and leaves
// the block unsealed.
func (s *State) Prove(ctx context.Context, block database.Keyblock, zeros int) (database.Keyblock, error) {
	if s.signer == nil {
		return database.Keyblock{}, errors.New("node has no signing key")
	}

	sealed, err := database.Prove(ctx, block, s.signer, zeros, s.now, s.evHandler)
	if err != nil {
		if errors.Is(err, database.ErrCancelled) {
			return database.Keyblock{}, ErrPowCancelled
		}
		return database.Keyblock{}, err
	}

	return sealed, nil
}

// StartGeneration mints one block synchronously if this node participates
// in sealing. Exposed for the private API; the worker drives the same path
// in the background.
func (s *State) StartGeneration() (database.Keyblock, error) {
	if !s.IsMintingAllowed() {
		return database.Keyblock{}, errors.New("minting is disabled on this node")
	}

	return s.MintNextBlock(context.Background())
}
