package public

import (
	"github.com/wotnet/keychain/foundation/keychain/database"
	"github.com/wotnet/keychain/foundation/keychain/pool"
)

// newMembership is what a client submits to ask for a membership change.
// The pubkey carries the armored key of a joining candidate.
type newMembership struct {
	Version    uint32 `json:"version"`
	Currency   string `json:"currency" validate:"required"`
	Issuer     string `json:"issuer" validate:"required,len=40,hexadecimal"`
	UserID     string `json:"userid" validate:"required"`
	Membership string `json:"membership" validate:"required,oneof=IN OUT"`
	Date       int64  `json:"date" validate:"required"`
	Signature  string `json:"signature" validate:"required"`
	Pubkey     string `json:"pubkey"`
}

// toMembership converts the request form to the chain form.
func (nm newMembership) toMembership() database.Membership {
	return database.Membership{
		Version:    nm.Version,
		Currency:   nm.Currency,
		Issuer:     database.Fingerprint(nm.Issuer),
		UserID:     nm.UserID,
		Membership: nm.Membership,
		Date:       nm.Date,
		Signature:  nm.Signature,
	}
}

// newKeyUpdate is what a member submits to stage new key material.
type newKeyUpdate struct {
	Fingerprint    string `json:"fingerprint" validate:"required,len=40,hexadecimal"`
	Subkeys        string `json:"subkeys"`
	Certifications string `json:"certifications"`
}

// member is the public view of a member row with the keys certifying it.
type member struct {
	Fingerprint string   `json:"fingerprint"`
	Name        string   `json:"name"`
	Kick        bool     `json:"kick"`
	Distanced   []string `json:"distanced,omitempty"`
	LinksFrom   []string `json:"links_from"`
}

// pendingMembership is the public view of a pool entry.
type pendingMembership struct {
	Issuer     string `json:"issuer"`
	UserID     string `json:"userid"`
	Membership string `json:"membership"`
	Date       int64  `json:"date"`
	Hash       string `json:"hash"`
	Eligible   bool   `json:"eligible"`
}

func toPendingMembership(entry pool.Entry) pendingMembership {
	return pendingMembership{
		Issuer:     string(entry.Membership.Issuer),
		UserID:     entry.Membership.UserID,
		Membership: entry.Membership.Membership,
		Date:       entry.Membership.Date,
		Hash:       entry.Membership.Hash(),
		Eligible:   entry.Eligible,
	}
}
