package state

import "errors"

// The error kinds a block or membership submission can fail with. Each kind
// is terminal for the submission; no state is mutated on the way out.
var (
	ErrBadChaining             = errors.New("block does not chain on the current tip")
	ErrBadTimestamp            = errors.New("block timestamp outside the accepted window")
	ErrBadPoW                  = errors.New("block hash does not satisfy the required difficulty")
	ErrBadIssuer               = errors.New("block issuer is not eligible")
	ErrBadKeychange            = errors.New("invalid keychange")
	ErrNotImplementedKeychange = errors.New("keychange kind not implemented")
	ErrBadCrypto               = errors.New("malformed or unverifiable key material")
	ErrWoTUnstable             = errors.New("web of trust would become unstable")
	ErrBadKickSet              = errors.New("members changes do not match the required kicks")
	ErrBadMembersChanges       = errors.New("incoherent members changes")
	ErrAlreadySeen             = errors.New("block already applied")
	ErrPowCancelled            = errors.New("proof of work cancelled")
	ErrStorage                 = errors.New("storage failure")
)

// The reasons a block can fail the chaining check, each carried alongside
// ErrBadChaining.
var (
	ErrRequiresRoot  = errors.New("chain is empty, a root block is required")
	ErrTooLate       = errors.New("block number at or below the current tip")
	ErrTooEarly      = errors.New("block number ahead of the next expected number")
	ErrBadPrevHash   = errors.New("previous hash does not match the tip")
	ErrBadPrevIssuer = errors.New("previous issuer does not match the tip")
)
