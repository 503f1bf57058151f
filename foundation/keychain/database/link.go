package database

// Link is a directed certification edge in the web of trust: source vouches
// for target. A link ages out after the configured validity window; it is
// then kept for history but no longer counted.
type Link struct {
	Source    Fingerprint `json:"source" msgpack:"s"`
	Target    Fingerprint `json:"target" msgpack:"t"`
	Timestamp int64       `json:"timestamp" msgpack:"ts"`
	Obsolete  bool        `json:"obsolete" msgpack:"o"`
}

// TrustedKey is the authoritative key material stored for a member.
type TrustedKey struct {
	Fingerprint Fingerprint `json:"fingerprint" msgpack:"f"`
	KeyID       string      `json:"key_id" msgpack:"k"`
	UserID      string      `json:"userid" msgpack:"u"`
	Packets     string      `json:"packets" msgpack:"p"`
}

// KeyRow carries the per-fingerprint flags derived from the chain: current
// membership and the kick state computed after each applied block.
type KeyRow struct {
	Fingerprint    Fingerprint   `json:"fingerprint"`
	Member         bool          `json:"member"`
	Kick           bool          `json:"kick"`
	Distanced      []Fingerprint `json:"distanced,omitempty"`
	NotEnoughLinks bool          `json:"not_enough_links"`
}
