// Package ftbmatch implements the wildcard syntax and selector-based
// name-to-path mapping spec.md §4.4 describes: skip-file wildcards during
// a backup walk, and restore-time (savewildcard, outputmapping) selectors.
//
// The matcher operates on raw bytes rather than strings because archived
// names are NUL-terminated byte sequences off a filesystem, not guaranteed
// valid UTF-8 (see DESIGN.md for why github.com/bmatcuk/doublestar, seen
// elsewhere in the retrieval pack, was not used here: doublestar matches
// against fs.FS-style forward-slash paths and its own "**" span rules do
// not line up with this byte-exact, NUL-terminated semantics).
package ftbmatch

import "golang.org/x/xerrors"

var ErrBadPattern = xerrors.New("ftbmatch: malformed wildcard pattern")

// Match reports whether name matches the wildcard pattern pat, per
// spec.md §4.4: '?' matches one non-'/' byte, '*' matches zero or more
// non-'/' bytes, "**" matches across '/', '[...]' is a character class
// (optional leading '!'/'^' negation, 'a-b' ranges), and backslash escapes
// the following byte literally.
func Match(pat, name string) (bool, error) {
	ok, _, err := matchFrom([]byte(pat), []byte(name))
	return ok, err
}

// matchFrom attempts to match all of pat against all of name, returning
// whether the full pattern consumed the full name.
func matchFrom(pat, name []byte) (bool, int, error) {
	pi, ni := 0, 0
	// Backtrack points for '*' and "**": the position in pat just after
	// the star, and the position in name we last tried consuming up to.
	type backtrack struct {
		pi, ni int
		double bool
	}
	var stack []backtrack

	for {
		if pi < len(pat) {
			switch c := pat[pi]; c {
			case '*':
				double := pi+1 < len(pat) && pat[pi+1] == '*'
				adv := 1
				if double {
					adv = 2
				}
				stack = append(stack, backtrack{pi: pi + adv, ni: ni, double: double})
				pi += adv
				continue
			case '?':
				if ni < len(name) && name[ni] != '/' {
					pi++
					ni++
					continue
				}
			case '[':
				end, err := classEnd(pat, pi)
				if err != nil {
					return false, 0, err
				}
				if ni < len(name) && matchClass(pat[pi:end+1], name[ni]) {
					pi = end + 1
					ni++
					continue
				}
			case '\\':
				if pi+1 >= len(pat) {
					return false, 0, ErrBadPattern
				}
				if ni < len(name) && name[ni] == pat[pi+1] {
					pi += 2
					ni++
					continue
				}
			default:
				if ni < len(name) && name[ni] == c {
					pi++
					ni++
					continue
				}
			}
		} else if ni == len(name) {
			return true, ni, nil
		}

		// No direct match (or pattern exhausted with name remaining):
		// backtrack to the most recent star, if any.
		for {
			if len(stack) == 0 {
				return false, 0, nil
			}
			top := &stack[len(stack)-1]
			if top.ni >= len(name) || (!top.double && name[top.ni] == '/') {
				stack = stack[:len(stack)-1]
				continue
			}
			top.ni++
			pi = top.pi
			ni = top.ni
			break
		}
	}
}

// classEnd returns the index of the closing ']' for a class starting at
// pat[start] == '['.
func classEnd(pat []byte, start int) (int, error) {
	i := start + 1
	if i < len(pat) && (pat[i] == '!' || pat[i] == '^') {
		i++
	}
	if i < len(pat) && pat[i] == ']' {
		i++ // a ']' immediately after the (possible) negation is literal
	}
	for i < len(pat) {
		if pat[i] == ']' {
			return i, nil
		}
		i++
	}
	return 0, ErrBadPattern
}

// matchClass reports whether b matches the class cls (including its
// brackets, e.g. "[a-z!]").
func matchClass(cls []byte, b byte) bool {
	inner := cls[1 : len(cls)-1]
	negate := false
	if len(inner) > 0 && (inner[0] == '!' || inner[0] == '^') {
		negate = true
		inner = inner[1:]
	}
	matched := false
	for i := 0; i < len(inner); {
		if i+2 < len(inner) && inner[i+1] == '-' {
			if inner[i] <= b && b <= inner[i+2] {
				matched = true
			}
			i += 3
			continue
		}
		if inner[i] == b {
			matched = true
		}
		i++
	}
	return matched != negate
}

// PrefixLen returns the length of pat's fixed (non-wildcard) prefix: the
// run of bytes before the first occurrence of any of '?', '*', '[', '\\'.
func PrefixLen(pat string) int {
	for i := 0; i < len(pat); i++ {
		switch pat[i] {
		case '?', '*', '[', '\\':
			return i
		}
	}
	return len(pat)
}

// Selector is one (savewildcard, outputmapping) restore-filter rule
// (spec.md §4.4).
type Selector struct {
	Pattern string
	Mapping string
	prefix  string
}

// NewSelector precomputes the fixed prefix used for DONE/SKIP decisions.
func NewSelector(pattern, mapping string) Selector {
	return Selector{Pattern: pattern, Mapping: mapping, prefix: pattern[:PrefixLen(pattern)]}
}

// Decision is the outcome of matching one archived name against a
// Selector list.
type Decision int

const (
	DecisionSkip Decision = iota
	DecisionRestore
	DecisionDone
)

// Resolve tries selectors in order against name (sorted-archive order is
// assumed by the caller) and returns the first match's restore path, or a
// SKIP/DONE decision per spec.md §4.4: because names arrive sorted (and
// only grow from here on), a selector whose fixed, non-wildcard prefix
// already sorts strictly before name can never match anything the caller
// will see again ("exhausted"). Once every selector is exhausted, no
// future name can match any of them either, so the whole list signals
// DONE, letting the caller stop walking the saveset early; until then it
// signals SKIP for a non-matching name.
func Resolve(selectors []Selector, name string) (Decision, string, error) {
	liveSelectors := false
	for _, s := range selectors {
		if exhausted(s.prefix, name) {
			continue
		}
		liveSelectors = true

		ok, err := Match(s.Pattern, name)
		if err != nil {
			return DecisionSkip, "", err
		}
		if ok {
			l := PrefixLen(s.Pattern)
			return DecisionRestore, s.Mapping + name[l:], nil
		}
	}
	if len(selectors) > 0 && !liveSelectors {
		return DecisionDone, "", nil
	}
	return DecisionSkip, "", nil
}

// exhausted reports whether name has already sorted strictly past every
// name prefix could ever match: true once name is lexicographically
// greater than prefix and does not itself begin with prefix.
func exhausted(prefix, name string) bool {
	if len(name) >= len(prefix) {
		if name[:len(prefix)] == prefix {
			return false
		}
	}
	return name > prefix
}
