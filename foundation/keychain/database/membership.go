package database

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Membership states a key's intent to join or leave the member set.
const (
	MembershipIn  = "IN"
	MembershipOut = "OUT"
)

// Membership is a signed declaration by a key about its member status.
type Membership struct {
	Version    uint32      `json:"version" msgpack:"v"`
	Currency   string      `json:"currency" msgpack:"c"`
	Issuer     Fingerprint `json:"issuer" msgpack:"i"`
	UserID     string      `json:"userid" msgpack:"u"`
	Membership string      `json:"membership" msgpack:"m"`
	Date       int64       `json:"date" msgpack:"d"`
	Signature  string      `json:"signature" msgpack:"s"`
}

// Raw renders the canonical text of the declaration, the bytes the issuing
// key signs.
func (m Membership) Raw() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Version: %d\n", m.Version)
	fmt.Fprintf(&sb, "Currency: %s\n", m.Currency)
	fmt.Fprintf(&sb, "Issuer: %s\n", m.Issuer)
	fmt.Fprintf(&sb, "Date: %d\n", m.Date)
	fmt.Fprintf(&sb, "Membership: %s\n", m.Membership)
	fmt.Fprintf(&sb, "UserID: %s\n", m.UserID)

	return sb.String()
}

// Hash identifies the declaration for pool idempotency and lookups.
func (m Membership) Hash() string {
	sum := sha256.Sum256([]byte(m.Raw()))
	return hex.EncodeToString(sum[:])
}
