package database

import (
	"context"
	"errors"
)

// ErrCancelled is returned from Prove when a competing block interrupts the
// search before a solution is found.
var ErrCancelled = errors.New("proof of work cancelled")

// Signer represents the behavior required to seal a block: producing a
// detached signature over its raw form.
type Signer interface {
	Sign(raw string) (string, error)
	Fingerprint() string
}

// cancelCheckInterval is how many attempts pass between checks of the
// cancellation signal.
const cancelCheckInterval = 50

// Prove searches a timestamp and nonce so that the hash of the signed block
// carries at least the required number of leading zeros. The block is
// re-signed on every attempt since the raw form changes with the nonce.
// The block is taken by value; the sealed copy is returned.
func Prove(ctx context.Context, block Keyblock, signer Signer, zeros int, now func() int64, ev func(v string, args ...any)) (Keyblock, error) {
	ev("database: Prove: MINTING: started: blk[%d]: zeros[%d]", block.Number, zeros)
	defer ev("database: Prove: MINTING: completed: blk[%d]", block.Number)

	block.Issuer = Fingerprint(signer.Fingerprint())
	block.Timestamp = now()
	block.Nonce = 0

	var attempts uint64
	for {
		attempts++
		if attempts%cancelCheckInterval == 0 {
			if ctx.Err() != nil {
				ev("database: Prove: MINTING: CANCELLED: blk[%d]", block.Number)
				return Keyblock{}, ErrCancelled
			}
			ev("database: Prove: MINTING: attempts[%d]", attempts)
		}

		// A fresh second restarts the nonce; within the same second the
		// nonce walks forward.
		if ts := now(); ts != block.Timestamp {
			block.Timestamp = ts
			block.Nonce = 0
		} else if attempts > 1 {
			block.Nonce++
		}

		raw := block.Raw()
		sig, err := signer.Sign(raw)
		if err != nil {
			return Keyblock{}, err
		}

		hash := HashRaw(raw, sig)
		if LeadingZeros(hash) < zeros {
			continue
		}

		block.Signature = sig
		block.Hash = hash

		ev("database: Prove: MINTING: SOLVED: blk[%d]: hash[%s]: attempts[%d]", block.Number, hash, attempts)

		return block, nil
	}
}
