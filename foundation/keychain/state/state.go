// Package state is the core API for the keychain and implements all the
// business rules and processing: block validation, web of trust stability,
// kicked member tracking and the minting of new blocks.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/wotnet/keychain/foundation/keychain/database"
	"github.com/wotnet/keychain/foundation/keychain/genesis"
	"github.com/wotnet/keychain/foundation/keychain/peer"
	"github.com/wotnet/keychain/foundation/keychain/pgp"
	"github.com/wotnet/keychain/foundation/keychain/pool"
)

// =============================================================================

// EventHandler defines a function that is called when events occur in the
// processing of validating and minting blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for minting and peer updates.
type Worker interface {
	Shutdown()
	SignalStartMinting()
	SignalCancelMinting() (done func())
}

// Oracle represents the behavior required from the OpenPGP library: key
// decomposition, signature checks and packet surgery. The chain core never
// touches key material directly.
type Oracle interface {
	Decompose(armored string) (*pgp.Key, error)
	Recompose(k *pgp.Key) (string, error)
	Certifications(blob string) ([]pgp.Certification, error)
	CertificationsOf(k *pgp.Key) ([]pgp.Certification, error)
	EncodeCertifications(certs []pgp.Certification) (string, error)
	SubkeysOnly(blob string) error
	IssuerOf(armoredSig string) (string, error)
	VerifyDetached(k *pgp.Key, data string, armoredSig string) error
	VerifyCertification(issuer *pgp.Key, target *pgp.Key, c pgp.Certification) error
	MergeKey(existing string, subkeys string, certs string) (string, error)
}

// Filter selects the subset of join candidates a node is willing to include
// in the next block. The default keeps every candidate.
type Filter func(candidates []pool.Entry) []pool.Entry

// =============================================================================

// Config represents the configuration required to start the keychain node.
type Config struct {
	Genesis     genesis.Genesis
	Storage     database.Serializer
	Oracle      Oracle
	Signer      database.Signer
	Host        string
	KnownPeers  *peer.PeerSet
	Participate bool
	Filter      Filter
	Now         func() int64
	EvHandler   EventHandler
}

// State manages the keychain database and derived web of trust state.
type State struct {
	mu sync.Mutex

	genesis     genesis.Genesis
	host        string
	participate bool
	evHandler   EventHandler
	now         func() int64
	filter      Filter

	knownPeers *peer.PeerSet
	oracle     Oracle
	signer     database.Signer
	db         *database.Database
	pool       *pool.Pool
	keyPool    *pool.KeyPool

	Worker Worker
}

// New constructs a new keychain state for data management. Stored blocks are
// replayed through the regular apply path so the member set, links and
// trusted keys are rebuilt exactly as they were written.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	now := cfg.Now
	if now == nil {
		now = func() int64 { return time.Now().UTC().Unix() }
	}

	filter := cfg.Filter
	if filter == nil {
		filter = func(candidates []pool.Entry) []pool.Entry { return candidates }
	}

	state := State{
		genesis:     cfg.Genesis,
		host:        cfg.Host,
		participate: cfg.Participate,
		evHandler:   ev,
		now:         now,
		filter:      filter,
		knownPeers:  cfg.KnownPeers,
		oracle:      cfg.Oracle,
		signer:      cfg.Signer,
		db:          database.New(cfg.Genesis, cfg.Storage),
		pool:        pool.New(),
		keyPool:     pool.NewKeyPool(),
	}

	// Replay the stored chain. Signatures were checked when the blocks were
	// first accepted; the replay re-resolves the certification links and
	// re-derives the member state without the crypto work.
	iter := cfg.Storage.ForEach()
	for block, err := iter.Next(); !iter.Done(); block, err = iter.Next() {
		if err != nil {
			return nil, fmt.Errorf("reading stored chain: %w", err)
		}

		vr, err := state.resolveKeychanges(block, false)
		if err != nil {
			return nil, fmt.Errorf("replaying block %d: %w", block.Number, err)
		}

		if err := state.applyBlock(block, vr); err != nil {
			return nil, fmt.Errorf("applying stored block %d: %w", block.Number, err)
		}
	}

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &state, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	defer func() {
		s.db.Close()
	}()

	// Stop all keychain writing activity.
	s.Worker.Shutdown()

	return nil
}

// IsMintingAllowed reports whether this node seals blocks itself.
func (s *State) IsMintingAllowed() bool {
	return s.participate && s.signer != nil
}
