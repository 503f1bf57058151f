// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"os"
	"time"
)

// Genesis represents the genesis file.
type Genesis struct {
	Date        time.Time `json:"date"`
	Currency    string    `json:"currency"`      // The name of the currency this chain carries.
	SigQty      int       `json:"sig_qty"`       // Minimum number of valid certifications per member.
	SigValidity int64     `json:"sig_validity"`  // Lifetime of a certification link in seconds.
	PowZeroMin  int       `json:"pow_zero_min"`  // Floor on the number of leading zeros for the work problem.
	PowPeriod   int       `json:"pow_period"`    // Per-issuer cooldown before the difficulty penalty decays.
	PowPeriodC  bool      `json:"pow_period_c"`  // Treat PowPeriod as a constant instead of a percent of the member count.
	TsInterval  int64     `json:"ts_interval"`   // Accepted clock skew in seconds for incoming blocks.
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	err = json.Unmarshal(content, &genesis)
	if err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}
