package ftbmatch

import "testing"

func TestMatchBasic(t *testing.T) {
	tests := []struct {
		pat, name string
		want      bool
	}{
		{"foo", "foo", true},
		{"foo", "foobar", false},
		{"fo?", "foo", true},
		{"fo?", "fo/", false},
		{"*.txt", "a.txt", true},
		{"*.txt", "a/b.txt", false},
		{"**.txt", "a/b.txt", true},
		{"a[bc]d", "abd", true},
		{"a[bc]d", "aed", false},
		{"a[!bc]d", "aed", true},
		{"a[a-z]d", "amd", true},
		{`a\*b`, "a*b", true},
		{`a\*b`, "axb", false},
	}
	for _, tt := range tests {
		got, err := Match(tt.pat, tt.name)
		if err != nil {
			t.Fatalf("Match(%q, %q): %v", tt.pat, tt.name, err)
		}
		if got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pat, tt.name, got, tt.want)
		}
	}
}

func TestResolveFirstMatchWins(t *testing.T) {
	sels := []Selector{
		NewSelector("etc/*", "/restore/etc/"),
		NewSelector("etc/passwd", "/other/passwd"),
	}
	dec, path, err := Resolve(sels, "etc/passwd")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dec != DecisionRestore || path != "/restore/etc/passwd" {
		t.Fatalf("Resolve = %v, %q, want Restore /restore/etc/passwd", dec, path)
	}
}

func TestResolveDoneOnExhaustion(t *testing.T) {
	sels := []Selector{NewSelector("aaa*", "/out/")}
	dec, _, err := Resolve(sels, "zzz")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dec != DecisionDone {
		t.Fatalf("Resolve = %v, want Done", dec)
	}
}

func TestResolveSkipBeforeReachingPrefix(t *testing.T) {
	sels := []Selector{NewSelector("mmm*", "/out/")}
	dec, _, err := Resolve(sels, "aaa")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dec != DecisionSkip {
		t.Fatalf("Resolve = %v, want Skip", dec)
	}
}
