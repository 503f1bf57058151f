package pool_test

import (
	"testing"

	"github.com/wotnet/keychain/foundation/keychain/database"
	"github.com/wotnet/keychain/foundation/keychain/pool"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func membership(issuer string, date int64) database.Membership {
	return database.Membership{
		Version:    1,
		Currency:   "zcoin",
		Issuer:     database.Fingerprint(issuer),
		UserID:     "udid2;c;DOE;JOHN;1980-07-03;e+47.47+000.56;0;",
		Membership: database.MembershipIn,
		Date:       date,
	}
}

// =============================================================================

func Test_UpsertIdempotent(t *testing.T) {
	t.Log("Given the need to keep pool writes idempotent under issuer and hash.")
	{
		p := pool.New()

		ms := membership("AAAA", 100)

		t.Log("\tTest 0:\tWhen submitting the same declaration twice.")
		{
			p.Upsert(pool.Entry{Membership: ms, Eligible: true})
			count := p.Upsert(pool.Entry{Membership: ms, Eligible: true})

			if count != 1 {
				t.Errorf("\t%s\tTest 0:\tShould hold a single entry, got %d.", failed, count)
			} else {
				t.Logf("\t%s\tTest 0:\tShould hold a single entry.", success)
			}
		}

		t.Log("\tTest 1:\tWhen submitting a fresh declaration by the same issuer.")
		{
			count := p.Upsert(pool.Entry{Membership: membership("AAAA", 200), Eligible: true})

			if count != 2 {
				t.Errorf("\t%s\tTest 1:\tShould hold two entries, got %d.", failed, count)
			} else {
				t.Logf("\t%s\tTest 1:\tShould hold two entries.", success)
			}
		}
	}
}

func Test_EligibleAndDelete(t *testing.T) {
	t.Log("Given the need to pick candidates and drop them once materialized.")
	{
		p := pool.New()

		p.Upsert(pool.Entry{Membership: membership("BBBB", 100), Eligible: true})
		p.Upsert(pool.Entry{Membership: membership("AAAA", 100), Eligible: true})
		p.Upsert(pool.Entry{Membership: membership("CCCC", 100)})

		t.Log("\tTest 0:\tWhen listing eligible declarations.")
		{
			eligible := p.Eligible()

			if len(eligible) != 2 {
				t.Fatalf("\t%s\tTest 0:\tShould list two eligible entries, got %d.", failed, len(eligible))
			}
			t.Logf("\t%s\tTest 0:\tShould list two eligible entries.", success)

			if eligible[0].Membership.Issuer != "AAAA" || eligible[1].Membership.Issuer != "BBBB" {
				t.Errorf("\t%s\tTest 0:\tShould order entries by issuer, got %s then %s.", failed, eligible[0].Membership.Issuer, eligible[1].Membership.Issuer)
			} else {
				t.Logf("\t%s\tTest 0:\tShould order entries by issuer.", success)
			}
		}

		t.Log("\tTest 1:\tWhen a block materializes one issuer.")
		{
			p.DeleteFor("AAAA")

			if count := p.Count(); count != 2 {
				t.Errorf("\t%s\tTest 1:\tShould hold two entries after delete, got %d.", failed, count)
			} else {
				t.Logf("\t%s\tTest 1:\tShould hold two entries after delete.", success)
			}

			if eligible := p.Eligible(); len(eligible) != 1 || eligible[0].Membership.Issuer != "BBBB" {
				t.Errorf("\t%s\tTest 1:\tShould keep only BBBB eligible.", failed)
			} else {
				t.Logf("\t%s\tTest 1:\tShould keep only BBBB eligible.", success)
			}
		}
	}
}

func Test_ForHashAndIssuer(t *testing.T) {
	t.Log("Given the need to find a declaration by identity.")
	{
		p := pool.New()

		ms := membership("AAAA", 100)
		p.Upsert(pool.Entry{Membership: ms, Eligible: true})

		t.Log("\tTest 0:\tWhen looking up the stored identity.")
		{
			if _, ok := p.ForHashAndIssuer(ms.Hash(), ms.Issuer); !ok {
				t.Errorf("\t%s\tTest 0:\tShould find the declaration.", failed)
			} else {
				t.Logf("\t%s\tTest 0:\tShould find the declaration.", success)
			}

			if _, ok := p.ForHashAndIssuer("missing", ms.Issuer); ok {
				t.Errorf("\t%s\tTest 0:\tShould not find a foreign hash.", failed)
			} else {
				t.Logf("\t%s\tTest 0:\tShould not find a foreign hash.", success)
			}
		}
	}
}
