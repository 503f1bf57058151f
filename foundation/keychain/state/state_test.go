package state_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/wotnet/keychain/foundation/keychain/database"
	"github.com/wotnet/keychain/foundation/keychain/database/storage"
	"github.com/wotnet/keychain/foundation/keychain/genesis"
	"github.com/wotnet/keychain/foundation/keychain/peer"
	"github.com/wotnet/keychain/foundation/keychain/pgp"
	"github.com/wotnet/keychain/foundation/keychain/state"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// =============================================================================
// Stub crypto. The chain core consumes the signature oracle as an interface;
// these stubs replace packet parsing and signature checks with recognizable
// string forms so the consensus logic runs deterministically.
//
//	key blob     KEY(<fpr>;<userid>)|CERT(<certifier fpr>)...
//	cert blob    CERTS:<keyid>,<keyid>...
//	signature    SIG(<fpr>)
//	subkey blob  SUBKEYS:<anything>

type stubOracle struct {
	blobs map[string]string
}

func newStubOracle() *stubOracle {
	return &stubOracle{blobs: make(map[string]string)}
}

func (o *stubOracle) Decompose(armored string) (*pgp.Key, error) {
	if !strings.HasPrefix(armored, "KEY(") {
		return nil, errors.New("not a key blob")
	}
	body := armored[len("KEY("):]
	end := strings.Index(body, ")")
	if end < 0 {
		return nil, errors.New("unterminated key blob")
	}
	parts := strings.SplitN(body[:end], ";", 2)
	if len(parts) != 2 {
		return nil, errors.New("key blob misses a user id")
	}

	o.blobs[parts[0]] = armored

	return &pgp.Key{Fingerprint: parts[0], UserID: parts[1]}, nil
}

func (o *stubOracle) Recompose(k *pgp.Key) (string, error) {
	blob, ok := o.blobs[k.Fingerprint]
	if !ok {
		return "", errors.New("unknown key")
	}
	return blob, nil
}

func (o *stubOracle) Certifications(blob string) ([]pgp.Certification, error) {
	if !strings.HasPrefix(blob, "CERTS:") {
		return nil, errors.New("not a certification blob")
	}

	var certs []pgp.Certification
	for _, id := range strings.Split(blob[len("CERTS:"):], ",") {
		if id == "" {
			continue
		}
		certs = append(certs, pgp.Certification{IssuerKeyID: id})
	}

	return certs, nil
}

func (o *stubOracle) CertificationsOf(k *pgp.Key) ([]pgp.Certification, error) {
	blob := o.blobs[k.Fingerprint]

	var certs []pgp.Certification
	for _, part := range strings.Split(blob, "|")[1:] {
		if !strings.HasPrefix(part, "CERT(") || !strings.HasSuffix(part, ")") {
			return nil, errors.New("malformed carried certification")
		}
		fpr := part[len("CERT(") : len(part)-1]
		certs = append(certs, pgp.Certification{IssuerKeyID: fpr[len(fpr)-16:]})
	}

	return certs, nil
}

func (o *stubOracle) EncodeCertifications(certs []pgp.Certification) (string, error) {
	if len(certs) == 0 {
		return "", nil
	}

	ids := make([]string, len(certs))
	for i, cert := range certs {
		ids[i] = cert.IssuerKeyID
	}

	return "CERTS:" + strings.Join(ids, ","), nil
}

func (o *stubOracle) SubkeysOnly(blob string) error {
	if !strings.HasPrefix(blob, "SUBKEYS:") {
		return errors.New("not a subkey blob")
	}
	return nil
}

func (o *stubOracle) IssuerOf(armoredSig string) (string, error) {
	if !strings.HasPrefix(armoredSig, "SIG(") || !strings.HasSuffix(armoredSig, ")") {
		return "", errors.New("not a signature")
	}
	fpr := armoredSig[len("SIG(") : len(armoredSig)-1]
	return fpr[len(fpr)-16:], nil
}

func (o *stubOracle) VerifyDetached(k *pgp.Key, data string, armoredSig string) error {
	if armoredSig != "SIG("+k.Fingerprint+")" {
		return errors.New("signature does not verify")
	}
	return nil
}

func (o *stubOracle) VerifyCertification(issuer *pgp.Key, target *pgp.Key, c pgp.Certification) error {
	return nil
}

func (o *stubOracle) MergeKey(existing string, subkeys string, certs string) (string, error) {
	return existing + "|MERGED", nil
}

// stubSigner seals raw text with the stub signature form.
type stubSigner struct {
	fpr database.Fingerprint
}

func (s stubSigner) Sign(raw string) (string, error) {
	return "SIG(" + string(s.fpr) + ")", nil
}

func (s stubSigner) Fingerprint() string {
	return string(s.fpr)
}

// =============================================================================
// Test fixtures.

const sigValidity = 2629800

var (
	fprA = database.Fingerprint(strings.Repeat("A", 40))
	fprB = database.Fingerprint(strings.Repeat("B", 40))
	fprC = database.Fingerprint(strings.Repeat("C", 40))
	fprD = database.Fingerprint(strings.Repeat("D", 40))
	fprE = database.Fingerprint(strings.Repeat("E", 40))
)

type clock struct {
	now int64
}

func (c *clock) Now() int64 {
	return c.now
}

func testGenesis() genesis.Genesis {
	return genesis.Genesis{
		Currency:    "zcoin",
		SigQty:      2,
		SigValidity: sigValidity,
		PowZeroMin:  1,
		PowPeriod:   1,
		PowPeriodC:  true,
		TsInterval:  3600,
	}
}

func newState(t *testing.T, signer database.Signer) (*state.State, *clock, *stubOracle) {
	t.Helper()

	clk := &clock{now: 1000000}
	oracle := newStubOracle()

	st, err := state.New(state.Config{
		Genesis:     testGenesis(),
		Storage:     storage.NewMemory(),
		Oracle:      oracle,
		Signer:      signer,
		Host:        "test:9080",
		KnownPeers:  peer.NewPeerSet(),
		Participate: signer != nil,
		Now:         clk.Now,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the state: %v", failed, err)
	}

	return st, clk, oracle
}

func uid(name string) string {
	return "udid2;c;" + name + ";JOHN;1980-07-03;e+47.47+000.56;0;"
}

func keyBlob(fpr database.Fingerprint, userID string, certifiers ...database.Fingerprint) string {
	blob := "KEY(" + string(fpr) + ";" + userID + ")"
	for _, c := range certifiers {
		blob += "|CERT(" + string(c) + ")"
	}
	return blob
}

func certsBlob(certifiers ...database.Fingerprint) string {
	ids := make([]string, len(certifiers))
	for i, c := range certifiers {
		ids[i] = c.KeyID()
	}
	return "CERTS:" + strings.Join(ids, ",")
}

func membershipFor(fpr database.Fingerprint, userID string, date int64) *database.Membership {
	ms := database.Membership{
		Version:    1,
		Currency:   "zcoin",
		Issuer:     fpr,
		UserID:     userID,
		Membership: database.MembershipIn,
		Date:       date,
	}
	ms.Signature = "SIG(" + string(fpr) + ")"
	return &ms
}

func newcomer(fpr database.Fingerprint, name string, date int64, certifiers ...database.Fingerprint) database.Keychange {
	userID := uid(name)
	return database.Keychange{
		Type:        database.KeychangeNewcomer,
		Fingerprint: fpr,
		KeyPackets:  keyBlob(fpr, userID),
		CertPackets: certsBlob(certifiers...),
		Membership:  membershipFor(fpr, userID, date),
	}
}

func update(fpr database.Fingerprint, certifiers ...database.Fingerprint) database.Keychange {
	return database.Keychange{
		Type:        database.KeychangeUpdate,
		Fingerprint: fpr,
		CertPackets: certsBlob(certifiers...),
	}
}

// seal signs a block with the stub form and walks the nonce until the hash
// satisfies the difficulty.
func seal(block database.Keyblock, issuer database.Fingerprint, zeros int) database.Keyblock {
	block.Issuer = issuer
	block.Signature = "SIG(" + string(issuer) + ")"

	for {
		block.Hash = block.ComputeHash()
		if database.LeadingZeros(block.Hash) >= zeros {
			return block
		}
		block.Nonce++
	}
}

func mustRoot(t *testing.T, members ...database.Fingerprint) string {
	t.Helper()

	root, err := database.MembersRoot(members)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to compute a members root: %v", failed, err)
	}
	return root
}

// genesisBlock builds the founding block: A, B and C joining with mutual
// certifications.
func genesisBlock(t *testing.T, now int64) database.Keyblock {
	t.Helper()

	block := database.Keyblock{
		Version:      1,
		Number:       0,
		Currency:     "zcoin",
		Timestamp:    now,
		MembersRoot:  mustRoot(t, fprA, fprB, fprC),
		MembersCount: 3,
		MembersChanges: []string{
			"+" + string(fprA),
			"+" + string(fprB),
			"+" + string(fprC),
		},
		KeysChanges: []database.Keychange{
			newcomer(fprA, "ALPHA", now, fprB, fprC),
			newcomer(fprB, "BRAVO", now, fprA, fprC),
			newcomer(fprC, "CHARLIE", now, fprA, fprB),
		},
	}

	return seal(block, fprA, 1)
}

// nextBlock stamps the chain linkage of a block extending the tip.
func nextBlock(st *state.State, block database.Keyblock) database.Keyblock {
	tip, _ := st.Current()
	block.Number = tip.Number + 1
	block.PreviousHash = tip.Hash
	block.PreviousIssuer = tip.Issuer
	return block
}

// =============================================================================

func Test_GenesisChain(t *testing.T) {
	t.Log("Given the need to found a chain and grow the web of trust.")
	{
		st, clk, _ := newState(t, nil)

		t.Log("\tTest 0:\tWhen submitting a founding block with three members.")
		{
			applied, err := st.SubmitKeyBlock(genesisBlock(t, clk.now))
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept the founding block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould accept the founding block.", success)

			if members := st.RetrieveMembers(); len(members) != 3 {
				t.Errorf("\t%s\tTest 0:\tShould hold 3 members, got %d.", failed, len(members))
			} else {
				t.Logf("\t%s\tTest 0:\tShould hold 3 members.", success)
			}

			links := 0
			for _, fpr := range []database.Fingerprint{fprA, fprB, fprC} {
				links += len(st.RetrieveLinksTo(fpr))
			}
			if links != 6 {
				t.Errorf("\t%s\tTest 0:\tShould hold 6 links, got %d.", failed, links)
			} else {
				t.Logf("\t%s\tTest 0:\tShould hold 6 links.", success)
			}

			if tip, ok := st.Current(); !ok || tip.Hash != applied.Hash {
				t.Errorf("\t%s\tTest 0:\tShould expose the block as the tip.", failed)
			} else {
				t.Logf("\t%s\tTest 0:\tShould expose the block as the tip.", success)
			}
		}

		t.Log("\tTest 1:\tWhen submitting the same block again.")
		{
			if _, err := st.SubmitKeyBlock(genesisBlock(t, clk.now)); !errors.Is(err, state.ErrAlreadySeen) {
				t.Errorf("\t%s\tTest 1:\tShould report the block as already seen, got %v.", failed, err)
			} else {
				t.Logf("\t%s\tTest 1:\tShould report the block as already seen.", success)
			}
		}

		t.Log("\tTest 2:\tWhen a newcomer joins with enough certifications.")
		{
			clk.now += 600

			block := nextBlock(st, database.Keyblock{
				Version:        1,
				Currency:       "zcoin",
				Timestamp:      clk.now,
				MembersRoot:    mustRoot(t, fprA, fprB, fprC, fprD),
				MembersCount:   4,
				MembersChanges: []string{"+" + string(fprD)},
				KeysChanges: []database.Keychange{
					newcomer(fprD, "DELTA", clk.now, fprA, fprB),
					update(fprA, fprD),
					update(fprB, fprD),
				},
			})

			if _, err := st.SubmitKeyBlock(seal(block, fprB, 1)); err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould accept the block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould accept the block.", success)

			if links := st.RetrieveLinksTo(fprD); len(links) != 2 || links[0] != fprA || links[1] != fprB {
				t.Errorf("\t%s\tTest 2:\tShould see D certified by A and B, got %v.", failed, links)
			} else {
				t.Logf("\t%s\tTest 2:\tShould see D certified by A and B.", success)
			}

			if !contains(st.RetrieveMembers(), fprD) {
				t.Errorf("\t%s\tTest 2:\tShould see D as a member.", failed)
			} else {
				t.Logf("\t%s\tTest 2:\tShould see D as a member.", success)
			}
		}

		t.Log("\tTest 3:\tWhen a newcomer joins with too few certifications.")
		{
			clk.now += 600

			membersBefore := st.RetrieveMembers()

			block := nextBlock(st, database.Keyblock{
				Version:        1,
				Currency:       "zcoin",
				Timestamp:      clk.now,
				MembersRoot:    mustRoot(t, fprA, fprB, fprC, fprD, fprE),
				MembersCount:   5,
				MembersChanges: []string{"+" + string(fprE)},
				KeysChanges: []database.Keychange{
					newcomer(fprE, "ECHO", clk.now, fprA),
					update(fprA, fprE),
					update(fprB, fprE),
				},
			})

			if _, err := st.SubmitKeyBlock(seal(block, fprC, 1)); !errors.Is(err, state.ErrWoTUnstable) {
				t.Fatalf("\t%s\tTest 3:\tShould reject with an unstable web of trust, got %v.", failed, err)
			}
			t.Logf("\t%s\tTest 3:\tShould reject with an unstable web of trust.", success)

			// A rejected block must be a no-op.
			if fmt.Sprint(st.RetrieveMembers()) != fmt.Sprint(membersBefore) {
				t.Errorf("\t%s\tTest 3:\tShould leave the member set untouched.", failed)
			} else {
				t.Logf("\t%s\tTest 3:\tShould leave the member set untouched.", success)
			}
			if tip, _ := st.Current(); tip.Number != 1 {
				t.Errorf("\t%s\tTest 3:\tShould leave the tip untouched, got %d.", failed, tip.Number)
			} else {
				t.Logf("\t%s\tTest 3:\tShould leave the tip untouched.", success)
			}
		}

		t.Log("\tTest 4:\tWhen a block skips ahead of the chain.")
		{
			block := nextBlock(st, database.Keyblock{
				Version:      1,
				Currency:     "zcoin",
				Timestamp:    clk.now,
				MembersRoot:  mustRoot(t, fprA, fprB, fprC, fprD),
				MembersCount: 4,
			})
			block.Number = 5

			_, err := st.SubmitKeyBlock(seal(block, fprC, 1))
			if !errors.Is(err, state.ErrBadChaining) || !errors.Is(err, state.ErrTooEarly) {
				t.Errorf("\t%s\tTest 4:\tShould reject with bad chaining too early, got %v.", failed, err)
			} else {
				t.Logf("\t%s\tTest 4:\tShould reject with bad chaining too early.", success)
			}
		}

		t.Log("\tTest 5:\tWhen a stale block number arrives.")
		{
			stale := genesisBlock(t, clk.now)

			if _, err := st.SubmitKeyBlock(stale); !errors.Is(err, state.ErrTooLate) {
				t.Errorf("\t%s\tTest 5:\tShould reject with too late, got %v.", failed, err)
			} else {
				t.Logf("\t%s\tTest 5:\tShould reject with too late.", success)
			}
		}
	}
}

func Test_ObsolescenceAndKicks(t *testing.T) {
	t.Log("Given the need to exclude members whose certifications aged out.")
	{
		st, clk, _ := newState(t, nil)

		t0 := clk.now
		if _, err := st.SubmitKeyBlock(genesisBlock(t, t0)); err != nil {
			t.Fatalf("\t%s\tShould accept the founding block: %v", failed, err)
		}

		// Move to the exact validity boundary: a link aged exactly the
		// window is obsolete.
		clk.now = t0 + sigValidity

		t.Log("\tTest 0:\tWhen reading links at the exact validity boundary.")
		{
			if links := st.RetrieveLinksTo(fprA); len(links) != 0 {
				t.Errorf("\t%s\tTest 0:\tShould count no valid links, got %d.", failed, len(links))
			} else {
				t.Logf("\t%s\tTest 0:\tShould count no valid links.", success)
			}
		}

		t.Log("\tTest 1:\tWhen the next block ignores the required kicks.")
		{
			block := nextBlock(st, database.Keyblock{
				Version:      1,
				Currency:     "zcoin",
				Timestamp:    clk.now,
				MembersRoot:  mustRoot(t, fprA, fprB, fprC),
				MembersCount: 3,
			})

			if _, err := st.SubmitKeyBlock(seal(block, fprB, 1)); !errors.Is(err, state.ErrBadKickSet) {
				t.Errorf("\t%s\tTest 1:\tShould reject with a bad kick set, got %v.", failed, err)
			} else {
				t.Logf("\t%s\tTest 1:\tShould reject with a bad kick set.", success)
			}
		}

		t.Log("\tTest 2:\tWhen the next block excludes every aged out member.")
		{
			block := nextBlock(st, database.Keyblock{
				Version:      1,
				Currency:     "zcoin",
				Timestamp:    clk.now,
				MembersRoot:  "",
				MembersCount: 0,
				MembersChanges: []string{
					"-" + string(fprA),
					"-" + string(fprB),
					"-" + string(fprC),
				},
			})

			if _, err := st.SubmitKeyBlock(seal(block, fprB, 1)); err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould accept the exclusion block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould accept the exclusion block.", success)

			if members := st.RetrieveMembers(); len(members) != 0 {
				t.Errorf("\t%s\tTest 2:\tShould hold no members, got %d.", failed, len(members))
			} else {
				t.Logf("\t%s\tTest 2:\tShould hold no members.", success)
			}
		}
	}
}

func Test_DeterministicReplay(t *testing.T) {
	t.Log("Given the need to rebuild identical state from the stored chain.")
	{
		store := storage.NewMemory()
		clk := &clock{now: 1000000}
		oracle := newStubOracle()

		cfg := state.Config{
			Genesis:    testGenesis(),
			Storage:    store,
			Oracle:     oracle,
			Host:       "test:9080",
			KnownPeers: peer.NewPeerSet(),
			Now:        clk.Now,
		}

		st, err := state.New(cfg)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the state: %v", failed, err)
		}

		if _, err := st.SubmitKeyBlock(genesisBlock(t, clk.now)); err != nil {
			t.Fatalf("\t%s\tShould accept the founding block: %v", failed, err)
		}

		clk.now += 600
		block := nextBlock(st, database.Keyblock{
			Version:        1,
			Currency:       "zcoin",
			Timestamp:      clk.now,
			MembersRoot:    mustRoot(t, fprA, fprB, fprC, fprD),
			MembersCount:   4,
			MembersChanges: []string{"+" + string(fprD)},
			KeysChanges: []database.Keychange{
				newcomer(fprD, "DELTA", clk.now, fprA, fprB),
				update(fprA, fprD),
				update(fprB, fprD),
			},
		})
		if _, err := st.SubmitKeyBlock(seal(block, fprB, 1)); err != nil {
			t.Fatalf("\t%s\tShould accept the second block: %v", failed, err)
		}

		t.Log("\tTest 0:\tWhen replaying the stored chain into a fresh state.")
		{
			replayed, err := state.New(cfg)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould replay the chain: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould replay the chain.", success)

			if fmt.Sprint(replayed.RetrieveMembers()) != fmt.Sprint(st.RetrieveMembers()) {
				t.Errorf("\t%s\tTest 0:\tShould rebuild the same member set.", failed)
			} else {
				t.Logf("\t%s\tTest 0:\tShould rebuild the same member set.", success)
			}

			for _, fpr := range []database.Fingerprint{fprA, fprB, fprC, fprD} {
				if fmt.Sprint(replayed.RetrieveLinksTo(fpr)) != fmt.Sprint(st.RetrieveLinksTo(fpr)) {
					t.Errorf("\t%s\tTest 0:\tShould rebuild the same links for %s.", failed, fpr)
				}
			}
			t.Logf("\t%s\tTest 0:\tShould rebuild the same links.", success)

			tip1, _ := st.Current()
			tip2, _ := replayed.Current()
			if tip1.Hash != tip2.Hash {
				t.Errorf("\t%s\tTest 0:\tShould rebuild the same tip.", failed)
			} else {
				t.Logf("\t%s\tTest 0:\tShould rebuild the same tip.", success)
			}
		}
	}
}

func Test_MintNewcomers(t *testing.T) {
	t.Log("Given the need to mint a block from the pending pool.")
	{
		st, clk, _ := newState(t, stubSigner{fprA})

		if _, err := st.SubmitKeyBlock(genesisBlock(t, clk.now)); err != nil {
			t.Fatalf("\t%s\tShould accept the founding block: %v", failed, err)
		}
		clk.now += 600

		t.Log("\tTest 0:\tWhen submitting join requests with and without enough certifiers.")
		{
			msD := membershipFor(fprD, uid("DELTA"), clk.now)
			if _, err := st.SubmitMembership(*msD, keyBlob(fprD, uid("DELTA"), fprA, fprB)); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould store D's membership: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould store D's membership.", success)

			msE := membershipFor(fprE, uid("ECHO"), clk.now)
			if _, err := st.SubmitMembership(*msE, keyBlob(fprE, uid("ECHO"), fprA)); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould store E's membership: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould store E's membership.", success)

			// D's outbound certifications travel as updates of the
			// certified keys; the builder needs them for reachability.
			if err := st.SubmitKeyUpdate(fprA, "", certsBlob(fprD)); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould stage A's update: %v", failed, err)
			}
			if err := st.SubmitKeyUpdate(fprB, "", certsBlob(fprD)); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould stage B's update: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould stage the certified keys' updates.", success)
		}

		t.Log("\tTest 1:\tWhen generating the newcomer block.")
		{
			block, err := st.GenerateNewcomersAuto()
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould generate a candidate: %v", failed, err)
			}

			var admitted []database.Fingerprint
			for _, kc := range block.KeysChanges {
				if kc.Type == database.KeychangeNewcomer {
					admitted = append(admitted, kc.Fingerprint)
				}
			}
			if len(admitted) != 1 || admitted[0] != fprD {
				t.Fatalf("\t%s\tTest 1:\tShould admit only D, got %v.", failed, admitted)
			}
			t.Logf("\t%s\tTest 1:\tShould admit only D.", success)

			if len(block.MembersChanges) != 1 || block.MembersChanges[0] != "+"+string(fprD) {
				t.Errorf("\t%s\tTest 1:\tShould carry only D's join, got %v.", failed, block.MembersChanges)
			} else {
				t.Logf("\t%s\tTest 1:\tShould carry only D's join.", success)
			}
		}

		t.Log("\tTest 2:\tWhen minting and applying the block.")
		{
			block, err := st.MintNextBlock(context.Background())
			if err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould mint the block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould mint the block.", success)

			if block.Issuer != fprA {
				t.Errorf("\t%s\tTest 2:\tShould be sealed by this node, got %s.", failed, block.Issuer)
			} else {
				t.Logf("\t%s\tTest 2:\tShould be sealed by this node.", success)
			}

			if !contains(st.RetrieveMembers(), fprD) {
				t.Errorf("\t%s\tTest 2:\tShould see D as a member.", failed)
			} else {
				t.Logf("\t%s\tTest 2:\tShould see D as a member.", success)
			}

			// D's pool entry is consumed, E's unstable join stays pending.
			pending := st.RetrievePendingMemberships()
			if len(pending) != 1 || pending[0].Membership.Issuer != fprE {
				t.Errorf("\t%s\tTest 2:\tShould keep only E pending, got %d.", failed, len(pending))
			} else {
				t.Logf("\t%s\tTest 2:\tShould keep only E pending.", success)
			}
		}

		t.Log("\tTest 3:\tWhen staging a key update and minting again.")
		{
			clk.now += 600

			if err := st.SubmitKeyUpdate(fprC, "", certsBlob(fprD)); err != nil {
				t.Fatalf("\t%s\tTest 3:\tShould stage the update: %v", failed, err)
			}
			t.Logf("\t%s\tTest 3:\tShould stage the update.", success)

			block, err := st.MintNextBlock(context.Background())
			if err != nil {
				t.Fatalf("\t%s\tTest 3:\tShould mint the update block: %v", failed, err)
			}

			foundUpdate := false
			for _, kc := range block.KeysChanges {
				if kc.Type == database.KeychangeUpdate && kc.Fingerprint == fprC {
					foundUpdate = true
				}
			}
			if !foundUpdate {
				t.Errorf("\t%s\tTest 3:\tShould carry an update for C.", failed)
			} else {
				t.Logf("\t%s\tTest 3:\tShould carry an update for C.", success)
			}

			if !contains(st.RetrieveLinksTo(fprC), fprD) {
				t.Errorf("\t%s\tTest 3:\tShould record the new link from D to C.", failed)
			} else {
				t.Logf("\t%s\tTest 3:\tShould record the new link from D to C.", success)
			}
		}
	}
}

func Test_LeaverRejected(t *testing.T) {
	t.Log("Given the need to refuse keychange kinds that are not specified.")
	{
		st, clk, _ := newState(t, nil)

		if _, err := st.SubmitKeyBlock(genesisBlock(t, clk.now)); err != nil {
			t.Fatalf("\t%s\tShould accept the founding block: %v", failed, err)
		}

		t.Log("\tTest 0:\tWhen a block carries a LEAVER keychange.")
		{
			block := nextBlock(st, database.Keyblock{
				Version:      1,
				Currency:     "zcoin",
				Timestamp:    clk.now,
				MembersRoot:  mustRoot(t, fprA, fprB, fprC),
				MembersCount: 3,
				KeysChanges: []database.Keychange{
					{Type: database.KeychangeLeaver, Fingerprint: fprC},
				},
			})

			if _, err := st.SubmitKeyBlock(seal(block, fprB, 1)); !errors.Is(err, state.ErrNotImplementedKeychange) {
				t.Errorf("\t%s\tTest 0:\tShould reject the keychange kind, got %v.", failed, err)
			} else {
				t.Logf("\t%s\tTest 0:\tShould reject the keychange kind.", success)
			}
		}
	}
}

func Test_PowCancellation(t *testing.T) {
	t.Log("Given the need to abandon a search when a peer block lands.")
	{
		st, clk, _ := newState(t, stubSigner{fprA})

		if _, err := st.SubmitKeyBlock(genesisBlock(t, clk.now)); err != nil {
			t.Fatalf("\t%s\tShould accept the founding block: %v", failed, err)
		}

		t.Log("\tTest 0:\tWhen the context is cancelled mid search.")
		{
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			block := nextBlock(st, database.Keyblock{
				Version:      1,
				Currency:     "zcoin",
				Timestamp:    clk.now,
				MembersRoot:  mustRoot(t, fprA, fprB, fprC),
				MembersCount: 3,
			})

			// An unreachable difficulty guarantees the loop only ends
			// through the cancellation signal.
			if _, err := st.Prove(ctx, block, 64); !errors.Is(err, state.ErrPowCancelled) {
				t.Errorf("\t%s\tTest 0:\tShould report the cancellation, got %v.", failed, err)
			} else {
				t.Logf("\t%s\tTest 0:\tShould report the cancellation.", success)
			}
		}
	}
}

// =============================================================================

func contains(members []database.Fingerprint, fpr database.Fingerprint) bool {
	for _, m := range members {
		if m == fpr {
			return true
		}
	}
	return false
}
