package database

import (
	"fmt"
	"strings"
)

// KeychangeType is the closed set of keychange kinds a block may carry.
type KeychangeType string

const (
	KeychangeNewcomer KeychangeType = "N" // New key joining with its membership and certifications.
	KeychangeUpdate   KeychangeType = "U" // New subkeys or certifications for an existing member.
	KeychangeLeaver   KeychangeType = "L" // Reserved, rejected by validation.
	KeychangeBack     KeychangeType = "B" // Reserved, rejected by validation.
)

// Keychange records one key's contribution to a block: the key material, the
// certifications received, and for newcomers the signed membership.
type Keychange struct {
	Type        KeychangeType `json:"type" msgpack:"y"`
	Fingerprint Fingerprint   `json:"fingerprint" msgpack:"f"`
	KeyPackets  string        `json:"keypackets,omitempty" msgpack:"kp"`
	CertPackets string        `json:"certpackets,omitempty" msgpack:"cp"`
	Membership  *Membership   `json:"membership,omitempty" msgpack:"m"`
}

// raw renders the keychange section of a block's canonical text.
func (kc Keychange) raw() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "#%s:%s\n", kc.Type, kc.Fingerprint)
	if kc.KeyPackets != "" {
		sb.WriteString("KeyPackets:\n")
		sb.WriteString(kc.KeyPackets)
		sb.WriteByte('\n')
	}
	if kc.CertPackets != "" {
		sb.WriteString("CertPackets:\n")
		sb.WriteString(kc.CertPackets)
		sb.WriteByte('\n')
	}
	if kc.Membership != nil {
		sb.WriteString("Membership:\n")
		sb.WriteString(kc.Membership.Raw())
		sb.WriteString("MembershipSignature:\n")
		sb.WriteString(kc.Membership.Signature)
		sb.WriteByte('\n')
	}

	return sb.String()
}
