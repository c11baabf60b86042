package locktype

import "testing"

var allModes = []LockType{NL, IS, IX, S, SIX, X}

func TestCompatibleIsSymmetric(t *testing.T) {
	for _, a := range allModes {
		for _, b := range allModes {
			if Compatible(a, b) != Compatible(b, a) {
				t.Errorf("Compatible(%s, %s) = %v, Compatible(%s, %s) = %v, want symmetric",
					a, b, Compatible(a, b), b, a, Compatible(b, a))
			}
		}
	}
}

func TestCompatibleMatchesSpecTable(t *testing.T) {
	want := map[LockType]map[LockType]bool{
		NL:  {NL: true, IS: true, IX: true, S: true, SIX: true, X: true},
		IS:  {NL: true, IS: true, IX: true, S: true, SIX: true, X: false},
		IX:  {NL: true, IS: true, IX: true, S: false, SIX: false, X: false},
		S:   {NL: true, IS: true, IX: false, S: true, SIX: false, X: false},
		SIX: {NL: true, IS: true, IX: false, S: false, SIX: false, X: false},
		X:   {NL: true, IS: false, IX: false, S: false, SIX: false, X: false},
	}
	for a, row := range want {
		for b, expect := range row {
			if got := Compatible(a, b); got != expect {
				t.Errorf("Compatible(%s, %s) = %v, want %v", a, b, got, expect)
			}
		}
	}
}

func TestCanBeParentLockMatchesSpecTable(t *testing.T) {
	want := map[LockType]map[LockType]bool{
		NL:  {NL: true, IS: false, IX: false, S: false, SIX: false, X: false},
		IS:  {NL: true, IS: true, IX: false, S: true, SIX: false, X: false},
		IX:  {NL: true, IS: true, IX: true, S: true, SIX: true, X: true},
		S:   {NL: true, IS: false, IX: false, S: false, SIX: false, X: false},
		SIX: {NL: true, IS: false, IX: true, S: false, SIX: false, X: true},
		X:   {NL: true, IS: false, IX: false, S: false, SIX: false, X: false},
	}
	for parent, row := range want {
		for child, expect := range row {
			if got := CanBeParentLock(parent, child); got != expect {
				t.Errorf("CanBeParentLock(%s, %s) = %v, want %v", parent, child, got, expect)
			}
		}
	}
}

func TestSubstitutableIsReflexive(t *testing.T) {
	for _, l := range allModes {
		if !Substitutable(l, l) {
			t.Errorf("Substitutable(%s, %s) = false, want true (reflexive)", l, l)
		}
	}
}

func TestSubstitutableIsTransitive(t *testing.T) {
	for _, a := range allModes {
		for _, b := range allModes {
			for _, c := range allModes {
				if Substitutable(a, b) && Substitutable(b, c) && !Substitutable(a, c) {
					t.Errorf("Substitutable(%s, %s) and Substitutable(%s, %s) hold but Substitutable(%s, %s) does not",
						a, b, b, c, a, c)
				}
			}
		}
	}
}

func TestSubstitutableMatchesSpecTable(t *testing.T) {
	want := map[LockType]map[LockType]bool{
		NL:  {NL: true, IS: false, IX: false, S: false, SIX: false, X: false},
		IS:  {NL: true, IS: true, IX: false, S: false, SIX: false, X: false},
		IX:  {NL: true, IS: true, IX: true, S: false, SIX: false, X: false},
		S:   {NL: true, IS: true, IX: false, S: true, SIX: false, X: false},
		SIX: {NL: true, IS: true, IX: true, S: true, SIX: true, X: false},
		X:   {NL: true, IS: true, IX: true, S: true, SIX: true, X: true},
	}
	for sub, row := range want {
		for req, expect := range row {
			if got := Substitutable(sub, req); got != expect {
				t.Errorf("Substitutable(%s satisfies %s) = %v, want %v", sub, req, got, expect)
			}
		}
	}
}

func TestParentLock(t *testing.T) {
	want := map[LockType]LockType{NL: NL, IS: IS, IX: IX, S: IS, SIX: IX, X: IX}
	for l, expect := range want {
		if got := ParentLock(l); got != expect {
			t.Errorf("ParentLock(%s) = %s, want %s", l, got, expect)
		}
	}
}

func TestTotalOrderConsistentWithSubstitutable(t *testing.T) {
	// Substitutability is only a partial order (S and IX are incomparable),
	// so check the one chain that is totally ordered: NL < IS < SIX < X.
	chain := []LockType{NL, IS, SIX, X}
	for i := range chain {
		for j := i; j < len(chain); j++ {
			if !Substitutable(chain[j], chain[i]) {
				t.Errorf("Substitutable(%s, %s) = false, want true (chain order)", chain[j], chain[i])
			}
		}
	}
}

func TestInvalidLockTypeRejected(t *testing.T) {
	invalid := LockType(99)
	if Compatible(invalid, NL) {
		t.Error("Compatible with an invalid LockType should be false")
	}
	if CanBeParentLock(invalid, NL) {
		t.Error("CanBeParentLock with an invalid LockType should be false")
	}
	if Substitutable(invalid, NL) {
		t.Error("Substitutable with an invalid LockType should be false")
	}
	if got := ParentLock(invalid); got != NL {
		t.Errorf("ParentLock(invalid) = %s, want NL", got)
	}
}

func TestStringNames(t *testing.T) {
	want := map[LockType]string{NL: "NL", IS: "IS", IX: "IX", S: "S", SIX: "SIX", X: "X"}
	for l, expect := range want {
		if got := l.String(); got != expect {
			t.Errorf("%d.String() = %q, want %q", l, got, expect)
		}
	}
	if got := LockType(99).String(); got != "INVALID" {
		t.Errorf("LockType(99).String() = %q, want INVALID", got)
	}
}
