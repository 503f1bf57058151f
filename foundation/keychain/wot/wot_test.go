package wot_test

import (
	"testing"

	"github.com/wotnet/keychain/foundation/keychain/wot"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// graph builds a LinksTo view from a target -> sources map.
func graph(links map[string][]string) wot.LinksTo {
	return func(target string) []string {
		return links[target]
	}
}

// =============================================================================

func Test_PathWithin(t *testing.T) {
	type table struct {
		name    string
		links   map[string][]string
		extra   map[string][]string
		src     string
		dst     string
		maxHops int
		reaches bool
	}

	tt := []table{
		{
			name:    "direct",
			links:   map[string][]string{"B": {"A"}},
			src:     "A",
			dst:     "B",
			maxHops: 3,
			reaches: true,
		},
		{
			name:    "two hops",
			links:   map[string][]string{"B": {"A"}, "C": {"B"}},
			src:     "A",
			dst:     "C",
			maxHops: 3,
			reaches: true,
		},
		{
			name:    "exactly at the bound",
			links:   map[string][]string{"B": {"A"}, "C": {"B"}, "D": {"C"}},
			src:     "A",
			dst:     "D",
			maxHops: 3,
			reaches: true,
		},
		{
			name:    "one past the bound",
			links:   map[string][]string{"B": {"A"}, "C": {"B"}, "D": {"C"}, "E": {"D"}},
			src:     "A",
			dst:     "E",
			maxHops: 3,
			reaches: false,
		},
		{
			name:    "wrong direction",
			links:   map[string][]string{"B": {"A"}},
			src:     "B",
			dst:     "A",
			maxHops: 3,
			reaches: false,
		},
		{
			name:    "extra links complete the path",
			links:   map[string][]string{"B": {"A"}},
			extra:   map[string][]string{"C": {"B"}},
			src:     "A",
			dst:     "C",
			maxHops: 3,
			reaches: true,
		},
		{
			name:    "self is always reached",
			links:   map[string][]string{},
			src:     "A",
			dst:     "A",
			maxHops: 3,
			reaches: true,
		},
	}

	t.Log("Given the need to answer bounded reachability over certification links.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen checking %s to %s for case %q.", testID, tst.src, tst.dst, tst.name)
			{
				got := wot.PathWithin(graph(tst.links), tst.src, tst.dst, tst.maxHops, tst.extra)
				if got != tst.reaches {
					t.Errorf("\t%s\tTest %d:\tShould get reachability %v, got %v.", failed, testID, tst.reaches, got)
				} else {
					t.Logf("\t%s\tTest %d:\tShould get reachability %v.", success, testID, tst.reaches)
				}
			}
		}
	}
}

func Test_NotReachedWithin(t *testing.T) {
	t.Log("Given the need to list the members a key does not reach.")
	{
		links := map[string][]string{
			"B": {"A"},
			"C": {"B"},
			"D": {},
		}
		candidates := []string{"A", "B", "C", "D"}

		t.Log("\tTest 0:\tWhen walking from A over a partial graph.")
		{
			missed := wot.NotReachedWithin(graph(links), "A", candidates, 3, nil)

			if len(missed) != 1 || missed[0] != "D" {
				t.Errorf("\t%s\tTest 0:\tShould miss exactly D, got %v.", failed, missed)
			} else {
				t.Logf("\t%s\tTest 0:\tShould miss exactly D.", success)
			}
		}

		t.Log("\tTest 1:\tWhen extra links cover the hole.")
		{
			extra := map[string][]string{"D": {"C"}}
			missed := wot.NotReachedWithin(graph(links), "A", candidates, 3, extra)

			if len(missed) != 0 {
				t.Errorf("\t%s\tTest 1:\tShould miss nobody, got %v.", failed, missed)
			} else {
				t.Logf("\t%s\tTest 1:\tShould miss nobody.", success)
			}
		}
	}
}
