package database

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/wotnet/keychain/foundation/keychain/merkle"
)

// Fingerprint identifies a public key: 40 hex digits, the last 16 of which
// form the key id certifications refer to.
type Fingerprint string

// KeyID returns the 16 hex digit short identifier of the key.
func (f Fingerprint) KeyID() string {
	if len(f) < 16 {
		return string(f)
	}
	return string(f[len(f)-16:])
}

// Hash produces the merkle leaf for the fingerprint: the SHA-1 of its
// lowercase hex form.
func (f Fingerprint) Hash() ([]byte, error) {
	sum := sha1.Sum([]byte(strings.ToLower(string(f))))
	return sum[:], nil
}

// Equals reports whether two fingerprints identify the same key.
func (f Fingerprint) Equals(other Fingerprint) bool {
	return f == other
}

// =============================================================================

// Keyblock is the unit of consensus: one step in the evolution of the web of
// trust, sealed by the issuer's signature and a proof of work.
type Keyblock struct {
	Version        uint32      `json:"version" msgpack:"v"`
	Number         uint64      `json:"number" msgpack:"n"`
	Currency       string      `json:"currency" msgpack:"c"`
	PreviousHash   string      `json:"previous_hash,omitempty" msgpack:"ph"`
	PreviousIssuer Fingerprint `json:"previous_issuer,omitempty" msgpack:"pi"`
	Timestamp      int64       `json:"timestamp" msgpack:"t"`
	Nonce          uint64      `json:"nonce" msgpack:"nc"`
	Issuer         Fingerprint `json:"issuer" msgpack:"i"`
	MembersRoot    string      `json:"members_root" msgpack:"mr"`
	MembersCount   int         `json:"members_count" msgpack:"mc"`
	MembersChanges []string    `json:"members_changes" msgpack:"mx"`
	KeysChanges    []Keychange `json:"keys_changes" msgpack:"kx"`
	Signature      string      `json:"signature" msgpack:"s"`
	Hash           string      `json:"hash" msgpack:"h"`
}

// Raw renders the canonical text of the block, the exact bytes the issuer
// signs and the proof of work hashes. Field order is fixed; the previous
// block references are omitted at number 0.
func (b Keyblock) Raw() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Version: %d\n", b.Version)
	fmt.Fprintf(&sb, "Number: %d\n", b.Number)
	fmt.Fprintf(&sb, "Currency: %s\n", b.Currency)
	if b.Number > 0 {
		fmt.Fprintf(&sb, "PreviousHash: %s\n", b.PreviousHash)
		fmt.Fprintf(&sb, "PreviousIssuer: %s\n", b.PreviousIssuer)
	}
	fmt.Fprintf(&sb, "Timestamp: %d\n", b.Timestamp)
	fmt.Fprintf(&sb, "Nonce: %d\n", b.Nonce)
	fmt.Fprintf(&sb, "Issuer: %s\n", b.Issuer)
	fmt.Fprintf(&sb, "MembersRoot: %s\n", b.MembersRoot)
	fmt.Fprintf(&sb, "MembersCount: %d\n", b.MembersCount)

	sb.WriteString("MembersChanges:\n")
	for _, change := range b.MembersChanges {
		sb.WriteString(change)
		sb.WriteByte('\n')
	}

	sb.WriteString("KeysChanges:\n")
	for _, kc := range b.KeysChanges {
		sb.WriteString(kc.raw())
	}

	return sb.String()
}

// ComputeHash returns the hash of the block's raw form and signature.
func (b Keyblock) ComputeHash() string {
	return HashRaw(b.Raw(), b.Signature)
}

// Newcomer returns the NEWCOMER keychange declaring the fingerprint, if the
// block carries one.
func (b Keyblock) Newcomer(fpr Fingerprint) (Keychange, bool) {
	for _, kc := range b.KeysChanges {
		if kc.Type == KeychangeNewcomer && kc.Fingerprint == fpr {
			return kc, true
		}
	}
	return Keychange{}, false
}

// Joiners returns the fingerprints added by the block's members changes.
func (b Keyblock) Joiners() []Fingerprint {
	return b.changes('+')
}

// Leavers returns the fingerprints removed by the block's members changes.
func (b Keyblock) Leavers() []Fingerprint {
	return b.changes('-')
}

func (b Keyblock) changes(sign byte) []Fingerprint {
	var fprs []Fingerprint
	for _, change := range b.MembersChanges {
		if len(change) > 1 && change[0] == sign {
			fprs = append(fprs, Fingerprint(change[1:]))
		}
	}
	return fprs
}

// =============================================================================

// HashRaw computes the block hash: lowercase hex SHA-256 over the raw text
// followed by the signature.
func HashRaw(raw string, signature string) string {
	sum := sha256.Sum256([]byte(raw + signature))
	return hex.EncodeToString(sum[:])
}

// LeadingZeros counts the leading zero hex digits of a hash, the measure the
// proof of work difficulty is expressed in.
func LeadingZeros(hash string) int {
	zeros := 0
	for zeros < len(hash) && hash[zeros] == '0' {
		zeros++
	}
	return zeros
}

// MembersRoot computes the merkle root of a member fingerprint set. The set
// is sorted ascending before hashing so the root is independent of the order
// members were gathered in.
func MembersRoot(members []Fingerprint) (string, error) {
	if len(members) == 0 {
		return "", nil
	}

	sorted := make([]Fingerprint, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	tree, err := merkle.NewTree(sorted, merkle.WithHashStrategy[Fingerprint](sha1.New))
	if err != nil {
		return "", err
	}

	return tree.RootHex(), nil
}
